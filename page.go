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

package eeprom

import "fmt"

// Page is one chunk of a transfer: a single READ or WRITE command.
type Page struct {
	Address int
	Length  int
}

// End returns the address one past the last byte of the page.
func (p Page) End() int {
	return p.Address + p.Length
}

func (p Page) String() string {
	return fmt.Sprintf("0x%04X+%d", p.Address, p.Length)
}

// Range is a contiguous span of chip addresses.
type Range struct {
	Start  int
	Length int
}

// FullRange covers a whole chip of the given capacity.
func FullRange(capacity int) Range {
	return Range{Start: 0, Length: capacity}
}

// End returns the address one past the last byte of the range.
func (r Range) End() int {
	return r.Start + r.Length
}

// Validate checks that r lies within [0, capacity).
func (r Range) Validate(capacity int) error {
	if r.Start < 0 || r.Length < 0 {
		return fmt.Errorf("%w: start %d length %d", ErrInvalidRange, r.Start, r.Length)
	}
	if r.End() > capacity {
		return fmt.Errorf("%w: 0x%04X-0x%04X exceeds capacity %d", ErrInvalidRange, r.Start, r.End(), capacity)
	}
	return nil
}

func (r Range) String() string {
	return fmt.Sprintf("0x%04X-0x%04X", r.Start, r.End())
}

// Pages splits r into ascending, contiguous pages of at most pageSize bytes.
// Only the last page may be short. An empty range yields no pages.
func Pages(r Range, pageSize int) []Page {
	if r.Length <= 0 || pageSize <= 0 {
		return nil
	}
	pages := make([]Page, 0, (r.Length+pageSize-1)/pageSize)
	for cursor := r.Start; cursor < r.End(); {
		length := min(pageSize, r.End()-cursor)
		pages = append(pages, Page{Address: cursor, Length: length})
		cursor += length
	}
	return pages
}
