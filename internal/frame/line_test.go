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
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trickleReader returns at most step bytes per Read and zero bytes with a nil
// error once drained, like a serial port whose read timeout expired.
type trickleReader struct {
	data []byte
	step int
}

func (r *trickleReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, nil
	}
	n := min(r.step, len(p), len(r.data))
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func TestLineReader_ReadLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		step  int
		want  []string
	}{
		{name: "single line", input: "PONG\n", step: 64, want: []string{"PONG"}},
		{name: "byte at a time", input: "OK\nDONE\n", step: 1, want: []string{"OK", "DONE"}},
		{name: "two lines one read", input: "OK\nDONE\n", step: 64, want: []string{"OK", "DONE"}},
		{name: "carriage return kept", input: "PONG\r\n", step: 3, want: []string{"PONG\r"}},
		{name: "empty line", input: "\nPONG\n", step: 64, want: []string{"", "PONG"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := NewLineReader(&trickleReader{data: []byte(tt.input), step: tt.step})
			for _, want := range tt.want {
				line, err := r.ReadLine(context.Background(), time.Second)
				require.NoError(t, err)
				assert.Equal(t, want, line)
			}
			assert.Equal(t, 0, r.Buffered())
		})
	}
}

func TestLineReader_Timeout(t *testing.T) {
	t.Parallel()
	r := NewLineReader(&trickleReader{data: []byte("PAR"), step: 8})

	start := time.Now()
	_, err := r.ReadLine(context.Background(), 20*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, 3, r.Buffered())

	r.Reset()
	assert.Equal(t, 0, r.Buffered())
}

func TestLineReader_ContextCancelled(t *testing.T) {
	t.Parallel()
	r := NewLineReader(&trickleReader{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.ReadLine(ctx, time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestLineReader_TooLong(t *testing.T) {
	t.Parallel()
	data := []byte(strings.Repeat("A", MaxLineLength+10))
	r := NewLineReader(bytes.NewReader(data))

	_, err := r.ReadLine(context.Background(), time.Second)
	require.ErrorIs(t, err, ErrLineTooLong)
}

func TestLineReader_FinalLineWithEOF(t *testing.T) {
	t.Parallel()
	r := NewLineReader(bytes.NewReader([]byte("DONE\n")))

	line, err := r.ReadLine(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "DONE", line)

	_, err = r.ReadLine(context.Background(), time.Second)
	require.ErrorIs(t, err, io.EOF)
}

var errBroken = errors.New("device unplugged")

type brokenReader struct{}

func (brokenReader) Read(_ []byte) (int, error) { return 0, errBroken }

func TestLineReader_ReadError(t *testing.T) {
	t.Parallel()
	r := NewLineReader(brokenReader{})

	_, err := r.ReadLine(context.Background(), time.Second)
	require.ErrorIs(t, err, errBroken)
}
