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

import "time"

const (
	// DefaultConnectionRetries is the number of attempts to open a port.
	DefaultConnectionRetries = 3
	// ConnectionInitialBackoff is the initial delay between connection attempts.
	// Serial ports held by a closing process usually free up within this.
	ConnectionInitialBackoff = 250 * time.Millisecond
	// ConnectionMaxBackoff is the maximum delay between connection attempts.
	ConnectionMaxBackoff = 2 * time.Second
	// ConnectionBackoffMultiplier is the exponential backoff multiplier.
	ConnectionBackoffMultiplier = 2.0
	// ConnectionJitter is the random jitter factor (0.0-1.0).
	ConnectionJitter = 0.1
	// ConnectionRetryTimeout is the overall timeout for all connection attempts.
	// Each attempt also waits the settle delay, so this is generous.
	ConnectionRetryTimeout = 15 * time.Second
)

const (
	// TransportDrainRetries is the number of attempts to drain stale bytes
	// left in the input buffer by the bridge's boot banner.
	TransportDrainRetries = 3
	// TransportDrainDelay is waited between drain attempts.
	TransportDrainDelay = 20 * time.Millisecond
)
