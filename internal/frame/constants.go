// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package frame splits the byte stream coming from a link into response lines.
package frame

import "time"

// Line limits
const (
	// MaxLineLength bounds a single line. A DATA line for a 256-byte page is
	// 5 + 512 characters; anything much longer is line noise.
	MaxLineLength = 1024

	// readChunkSize is how much is requested from the underlying reader per call
	readChunkSize = 128
)

// IdlePause is slept after a zero-byte read. Serial ports block for their own
// read timeout and return 0 bytes when it expires, in-memory readers return
// immediately; the pause keeps the latter from spinning.
const IdlePause = time.Millisecond

const terminator = '\n'
