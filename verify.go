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

import (
	"bytes"
	"fmt"
	"strings"
)

// Mismatch is a page whose readback differs from what was written.
type Mismatch struct {
	Expected []byte
	Actual   []byte
	Address  int
}

// Offsets returns the in-page offsets of the differing bytes.
func (m Mismatch) Offsets() []int {
	var offsets []int
	for i := range max(len(m.Expected), len(m.Actual)) {
		if i >= len(m.Expected) || i >= len(m.Actual) || m.Expected[i] != m.Actual[i] {
			offsets = append(offsets, i)
		}
	}
	return offsets
}

// String renders the page as a hex diff:
//
//	mismatch at 0x0040 (2 bytes differ)
//	  expected: 00 01 02 03
//	  actual:   00 FF 02 00
//	               ^^    ^^
func (m Mismatch) String() string {
	offsets := m.Offsets()
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "mismatch at 0x%04X (%d bytes differ)\n", m.Address, len(offsets))
	_, _ = fmt.Fprintf(&sb, "  expected: %s\n", formatHexBytes(m.Expected))
	_, _ = fmt.Fprintf(&sb, "  actual:   %s\n", formatHexBytes(m.Actual))

	marker := []byte(strings.Repeat(" ", 3*max(len(m.Expected), len(m.Actual))))
	for _, off := range offsets {
		marker[3*off] = '^'
		marker[3*off+1] = '^'
	}
	_, _ = fmt.Fprintf(&sb, "            %s", strings.TrimRight(string(marker), " "))
	return sb.String()
}

// ComparePages compares expected and actual page by page over r and returns
// every page that differs. Both buffers must hold r.Length bytes.
func ComparePages(r Range, pageSize int, expected, actual []byte) []Mismatch {
	var mismatches []Mismatch
	for _, page := range Pages(r, pageSize) {
		off := page.Address - r.Start
		want := expected[off : off+page.Length]
		got := actual[off : off+page.Length]
		if !bytes.Equal(want, got) {
			mismatches = append(mismatches, Mismatch{
				Address:  page.Address,
				Expected: append([]byte(nil), want...),
				Actual:   append([]byte(nil), got...),
			})
		}
	}
	return mismatches
}

// VerifyReport is the outcome of a verification pass. Every page of Range
// was read and compared, whatever the number of mismatches.
type VerifyReport struct {
	Mismatches []Mismatch
	Range      Range
	Pages      int
}

// OK reports whether every page matched.
func (r *VerifyReport) OK() bool {
	return len(r.Mismatches) == 0
}

// Err returns a *VerificationError when any page differs, nil otherwise.
func (r *VerifyReport) Err() error {
	if r.OK() {
		return nil
	}
	return &VerificationError{Mismatches: r.Mismatches, Pages: r.Pages}
}

// String summarises the report, listing each mismatched page.
func (r *VerifyReport) String() string {
	if r.OK() {
		return fmt.Sprintf("verified %d pages over %s: OK", r.Pages, r.Range)
	}
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "verified %d pages over %s: %d mismatched\n", r.Pages, r.Range, len(r.Mismatches))
	for _, m := range r.Mismatches {
		_, _ = sb.WriteString(m.String())
		_, _ = sb.WriteString("\n")
	}
	return sb.String()
}
