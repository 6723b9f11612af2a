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

package frame

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

var (
	// ErrTimeout is returned when no complete line arrived before the deadline
	ErrTimeout = errors.New("timed out waiting for line")
	// ErrLineTooLong is returned when MaxLineLength bytes arrive without a terminator
	ErrLineTooLong = errors.New("line exceeds maximum length")
	// ErrClosed is returned by links used after Close
	ErrClosed = errors.New("link closed")
)

// LineReader extracts '\n'-terminated lines from a reader with serial port
// semantics: a read may return any number of bytes, including zero when the
// port's own read timeout expires.
//
// Bytes following a terminator are kept for the next ReadLine call.
type LineReader struct {
	src     io.Reader
	pending []byte
	chunk   []byte
}

// NewLineReader creates a line reader on top of src.
func NewLineReader(src io.Reader) *LineReader {
	return &LineReader{
		src:   src,
		chunk: make([]byte, readChunkSize),
	}
}

// ReadLine blocks until a full line is available, the timeout elapses or ctx
// is cancelled. The returned line excludes the terminator but may still carry
// a trailing '\r'.
func (r *LineReader) ReadLine(ctx context.Context, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)

	for {
		if line, ok := r.takeLine(); ok {
			return line, nil
		}
		if len(r.pending) >= MaxLineLength {
			r.pending = r.pending[:0]
			return "", ErrLineTooLong
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !time.Now().Before(deadline) {
			return "", fmt.Errorf("%w after %v (%d bytes pending)", ErrTimeout, timeout, len(r.pending))
		}

		n, err := r.src.Read(r.chunk)
		if n > 0 {
			r.pending = append(r.pending, r.chunk[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) && n > 0 {
				continue
			}
			return "", fmt.Errorf("line read failed: %w", err)
		}
		if n == 0 {
			pause(ctx, min(IdlePause, time.Until(deadline)))
		}
	}
}

// Buffered returns the number of bytes received but not yet returned as a line.
func (r *LineReader) Buffered() int {
	return len(r.pending)
}

// Reset discards buffered bytes.
func (r *LineReader) Reset() {
	r.pending = r.pending[:0]
}

func (r *LineReader) takeLine() (string, bool) {
	idx := bytes.IndexByte(r.pending, terminator)
	if idx < 0 {
		return "", false
	}
	line := string(r.pending[:idx])
	r.pending = append(r.pending[:0], r.pending[idx+1:]...)
	return line, true
}

func pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
