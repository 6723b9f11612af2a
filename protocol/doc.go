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

// Package protocol implements the line-oriented wire format spoken between the
// host and the EEPROM bridge microcontroller.
//
// Commands are single ASCII lines terminated by '\n':
//
//	PING
//	READ <addr> <len>
//	WRITE <addr> <len>
//
// Responses are single lines as well:
//
//	PONG
//	DATA <hex>      (2*len hex characters)
//	OK              (ready to receive <len> raw bytes)
//	DONE            (page durably written)
//	ERR <text>      (device-reported failure)
//
// The only binary exchange is the raw page payload the host sends after OK.
// It carries no framing; the length was announced by the WRITE line.
//
// Host code uses Command.Encode and DecodeResponse. Device code (the bridge
// and the test simulator) uses ParseCommand and Response.Encode.
package protocol
