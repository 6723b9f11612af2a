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

package protocol

import "errors"

// Decode errors. Callers on the host side wrap these in a protocol error
// that names the page and phase.
var (
	ErrEmptyLine          = errors.New("empty line")
	ErrUnknownCommand     = errors.New("unknown command")
	ErrMalformedCommand   = errors.New("malformed command")
	ErrMalformedData      = errors.New("malformed DATA payload")
	ErrLengthMismatch     = errors.New("DATA length does not match requested length")
	ErrUnexpectedResponse = errors.New("unexpected response")
)
