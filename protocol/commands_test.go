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

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandEncode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want string
		cmd  Command
	}{
		{name: "ping", cmd: PingCommand(), want: "PING\n"},
		{name: "read first page", cmd: ReadCommand(0, 32), want: "READ 0 32\n"},
		{name: "read last page", cmd: ReadCommand(8160, 32), want: "READ 8160 32\n"},
		{name: "short write", cmd: WriteCommand(96, 4), want: "WRITE 96 4\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, string(tt.cmd.Encode()))
		})
	}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		wantErr error
		name    string
		line    string
		want    Command
	}{
		{name: "ping", line: "PING", want: PingCommand()},
		{name: "ping crlf", line: "PING\r\n", want: PingCommand()},
		{name: "read", line: "READ 64 32\n", want: ReadCommand(64, 32)},
		{name: "write", line: "WRITE 8188 4", want: WriteCommand(8188, 4)},
		{name: "empty", line: "\r\n", wantErr: ErrEmptyLine},
		{name: "unknown", line: "ERASE 0", wantErr: ErrUnknownCommand},
		{name: "ping with args", line: "PING 1", wantErr: ErrMalformedCommand},
		{name: "read missing length", line: "READ 0", wantErr: ErrMalformedCommand},
		{name: "negative address", line: "READ -1 4", wantErr: ErrMalformedCommand},
		{name: "zero length", line: "WRITE 0 0", wantErr: ErrMalformedCommand},
		{name: "hex address", line: "READ 0x10 4", wantErr: ErrMalformedCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseCommand(tt.line)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCommand_InvertsEncode(t *testing.T) {
	t.Parallel()

	for _, cmd := range []Command{PingCommand(), ReadCommand(4096, 17), WriteCommand(1, 1)} {
		got, err := ParseCommand(string(cmd.Encode()))
		require.NoError(t, err)
		assert.Equal(t, cmd, got)
	}
}

func TestCommandKindString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "READ", CommandRead.String())
	assert.Equal(t, "CommandKind(9)", CommandKind(9).String())
}
