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

package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// idlePause is slept after a zero-byte read from a port in non-blocking mode.
const idlePause = 2 * time.Millisecond

// Serve runs dev on rw until ctx is cancelled or rw reports EOF. Zero-byte
// reads are treated as serial read timeouts and ignored.
func Serve(ctx context.Context, rw io.ReadWriter, dev *Device) error {
	buf := make([]byte, 256)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := rw.Read(buf)
		if n > 0 {
			if out := dev.Feed(buf[:n]); len(out) > 0 {
				if _, werr := rw.Write(out); werr != nil {
					return fmt.Errorf("bridge write failed: %w", werr)
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("bridge read failed: %w", err)
		}
		if n == 0 {
			time.Sleep(idlePause)
		}
	}
}
