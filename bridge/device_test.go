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
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDevice(t *testing.T) (*Device, *Buffer) {
	t.Helper()
	mem := NewBuffer(256)
	return NewDevice(mem, 32), mem
}

func TestDevice_Ping(t *testing.T) {
	t.Parallel()
	dev, _ := newTestDevice(t)

	assert.Equal(t, "PONG\n", string(dev.Feed([]byte("PING\n"))))
	assert.Equal(t, "PONG\n", string(dev.Feed([]byte("PING\r\n"))))
}

func TestDevice_CommandSplitAcrossFeeds(t *testing.T) {
	t.Parallel()
	dev, _ := newTestDevice(t)

	assert.Nil(t, dev.Feed([]byte("PI")))
	assert.Nil(t, dev.Feed([]byte("N")))
	assert.Equal(t, "PONG\n", string(dev.Feed([]byte("G\n"))))
}

func TestDevice_ReadErasedMemory(t *testing.T) {
	t.Parallel()
	dev, _ := newTestDevice(t)

	out := dev.Feed([]byte("READ 0 4\n"))
	assert.Equal(t, "DATA FFFFFFFF\n", string(out))
}

func TestDevice_WriteThenRead(t *testing.T) {
	t.Parallel()
	dev, mem := newTestDevice(t)

	assert.Equal(t, "OK\n", string(dev.Feed([]byte("WRITE 10 3\n"))))
	assert.Equal(t, 3, dev.Pending())

	// Raw bytes may contain the line terminator; they are not parsed as lines
	assert.Nil(t, dev.Feed([]byte{0x0A}))
	assert.Equal(t, 2, dev.Pending())
	assert.Equal(t, "DONE\n", string(dev.Feed([]byte{0x42, 0x43})))
	assert.Equal(t, 0, dev.Pending())

	assert.Equal(t, []byte{0x0A, 0x42, 0x43}, mem.Bytes()[10:13])
	assert.Equal(t, "DATA 0A4243\n", string(dev.Feed([]byte("READ 10 3\n"))))
}

func TestDevice_WriteAndNextCommandInOneFeed(t *testing.T) {
	t.Parallel()
	dev, _ := newTestDevice(t)

	require.Equal(t, "OK\n", string(dev.Feed([]byte("WRITE 0 2\n"))))
	out := dev.Feed([]byte{0x01, 0x02, 'P', 'I', 'N', 'G', '\n'})
	assert.Equal(t, "DONE\nPONG\n", string(out))
}

func TestDevice_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "read past end", in: "READ 250 8\n", want: "ERR range\n"},
		{name: "write past end", in: "WRITE 255 2\n", want: "ERR range\n"},
		{name: "read over page size", in: "READ 0 33\n", want: "ERR length\n"},
		{name: "unknown command", in: "ERASE\n", want: "ERR unknown command\n"},
		{name: "bad syntax", in: "READ x 1\n", want: "ERR syntax\n"},
		{name: "blank line ignored", in: "\r\n", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dev, _ := newTestDevice(t)
			assert.Equal(t, tt.want, string(dev.Feed([]byte(tt.in))))
			assert.Equal(t, 0, dev.Pending())
		})
	}
}

func TestDevice_OverlongLine(t *testing.T) {
	t.Parallel()
	dev, _ := newTestDevice(t)

	out := dev.Feed(bytes.Repeat([]byte("X"), maxCommandLine+1))
	assert.Equal(t, "ERR syntax\n", string(out))
	// The remainder of the discarded line is empty and ignored
	assert.Equal(t, "PONG\n", string(dev.Feed([]byte("\nPING\n"))))
}

type failingMemory struct {
	*Buffer
}

func (failingMemory) WriteAt(_ []byte, _ int64) (int, error) {
	return 0, errors.New("nack")
}

func TestDevice_WriteFailureReported(t *testing.T) {
	t.Parallel()
	dev := NewDevice(failingMemory{NewBuffer(64)}, 32)

	require.Equal(t, "OK\n", string(dev.Feed([]byte("WRITE 0 1\n"))))
	assert.Equal(t, "ERR write failed: nack\n", string(dev.Feed([]byte{0x00})))
}

func TestDevice_Reset(t *testing.T) {
	t.Parallel()
	dev, _ := newTestDevice(t)

	require.Equal(t, "OK\n", string(dev.Feed([]byte("WRITE 0 4\n"))))
	dev.Reset()
	assert.Equal(t, 0, dev.Pending())
	assert.Equal(t, "PONG\n", string(dev.Feed([]byte("PING\n"))))
}

func TestBuffer_Bounds(t *testing.T) {
	t.Parallel()
	mem := NewBuffer(8)

	_, err := mem.WriteAt([]byte{1, 2}, 7)
	require.ErrorIs(t, err, ErrOutOfRange)
	_, err = mem.ReadAt(make([]byte, 1), -1)
	require.ErrorIs(t, err, ErrOutOfRange)

	require.NoError(t, mem.Load([]byte{9, 8, 7}))
	assert.Equal(t, []byte{9, 8, 7, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, mem.Bytes())
	assert.Equal(t, 8, mem.Size())
}
