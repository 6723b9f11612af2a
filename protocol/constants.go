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

package protocol

// Command tokens (host to device)
const (
	TokenPing  = "PING"
	TokenRead  = "READ"
	TokenWrite = "WRITE"
)

// Response tokens (device to host)
const (
	TokenPong  = "PONG"
	TokenData  = "DATA"
	TokenOK    = "OK"
	TokenDone  = "DONE"
	TokenError = "ERR"
)

// LineTerminator ends every command and response line.
const LineTerminator = '\n'

// lineTrim is stripped from the end of received lines. Some firmware
// (Arduino Serial.println) terminates with "\r\n".
const lineTrim = " \t\r\n"
