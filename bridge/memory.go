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
	"errors"
	"fmt"
	"io"

	"github.com/ZaparooProject/go-eeprom/internal/syncutil"
)

// ErrOutOfRange is returned for accesses beyond the end of a memory.
var ErrOutOfRange = errors.New("address out of range")

// Memory is the storage behind a bridge device: a chip backend or an
// in-memory buffer.
type Memory interface {
	io.ReaderAt
	io.WriterAt
	// Size returns the capacity in bytes.
	Size() int
}

// ErasedByte is the content of a blank EEPROM cell.
const ErasedByte = 0xFF

// Buffer is an in-memory Memory. The zero value is not usable; use NewBuffer.
type Buffer struct {
	data []byte
	mu   syncutil.Mutex
}

// NewBuffer returns an erased in-memory EEPROM of size bytes.
func NewBuffer(size int) *Buffer {
	data := make([]byte, size)
	for i := range data {
		data[i] = ErasedByte
	}
	return &Buffer{data: data}
}

// ReadAt implements io.ReaderAt.
func (b *Buffer) ReadAt(p []byte, off int64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.check(off, len(p)); err != nil {
		return 0, err
	}
	return copy(p, b.data[off:]), nil
}

// WriteAt implements io.WriterAt.
func (b *Buffer) WriteAt(p []byte, off int64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.check(off, len(p)); err != nil {
		return 0, err
	}
	return copy(b.data[off:], p), nil
}

// Size implements Memory.
func (b *Buffer) Size() int {
	return len(b.data)
}

// Bytes returns a copy of the whole memory.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.data...)
}

// Load overwrites memory from offset 0 with data.
func (b *Buffer) Load(data []byte) error {
	_, err := b.WriteAt(data, 0)
	return err
}

func (b *Buffer) check(off int64, n int) error {
	if off < 0 || off+int64(n) > int64(len(b.data)) {
		return fmt.Errorf("%w: %d+%d exceeds %d", ErrOutOfRange, off, n, len(b.data))
	}
	return nil
}
