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

// Progress is reported after every completed page.
type Progress struct {
	Phase Phase
	// Address is one past the last byte transferred
	Address int
	// Done and Total count bytes of the current operation
	Done  int
	Total int
}

// Percent returns the completed share of the operation, 0 to 100.
func (p Progress) Percent() int {
	if p.Total <= 0 {
		return 100
	}
	return p.Done * 100 / p.Total
}

// ProgressFunc receives progress updates. It runs on the session's goroutine
// and should return quickly.
type ProgressFunc func(Progress)
