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
	"fmt"
	"strconv"
	"strings"
)

// CommandKind identifies a host command
type CommandKind int

const (
	// CommandPing is the liveness probe
	CommandPing CommandKind = iota
	// CommandRead requests Length bytes starting at Address
	CommandRead
	// CommandWrite announces Length raw bytes for Address
	CommandWrite
)

// String returns the wire token for the command kind
func (k CommandKind) String() string {
	switch k {
	case CommandPing:
		return TokenPing
	case CommandRead:
		return TokenRead
	case CommandWrite:
		return TokenWrite
	default:
		return fmt.Sprintf("CommandKind(%d)", int(k))
	}
}

// Command is a single host request. Commands are values; one is built per page.
type Command struct {
	Kind    CommandKind
	Address int
	Length  int
}

// PingCommand returns the liveness probe.
func PingCommand() Command {
	return Command{Kind: CommandPing}
}

// ReadCommand returns a page read request.
func ReadCommand(address, length int) Command {
	return Command{Kind: CommandRead, Address: address, Length: length}
}

// WriteCommand returns a page write announcement. The payload itself is sent
// separately after the device answers OK.
func WriteCommand(address, length int) Command {
	return Command{Kind: CommandWrite, Address: address, Length: length}
}

// String returns the command line without its terminator.
func (c Command) String() string {
	if c.Kind == CommandPing {
		return TokenPing
	}
	return c.Kind.String() + " " + strconv.Itoa(c.Address) + " " + strconv.Itoa(c.Length)
}

// Encode returns the command as it is sent on the wire.
func (c Command) Encode() []byte {
	return append([]byte(c.String()), LineTerminator)
}

// ParseCommand decodes a host command line. It is the device-side inverse of
// Command.Encode.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(strings.TrimRight(line, lineTrim))
	if len(fields) == 0 {
		return Command{}, ErrEmptyLine
	}

	switch fields[0] {
	case TokenPing:
		if len(fields) != 1 {
			return Command{}, fmt.Errorf("%w: %q", ErrMalformedCommand, line)
		}
		return PingCommand(), nil
	case TokenRead, TokenWrite:
		if len(fields) != 3 {
			return Command{}, fmt.Errorf("%w: %q", ErrMalformedCommand, line)
		}
		address, err := strconv.Atoi(fields[1])
		if err != nil || address < 0 {
			return Command{}, fmt.Errorf("%w: bad address %q", ErrMalformedCommand, fields[1])
		}
		length, err := strconv.Atoi(fields[2])
		if err != nil || length < 1 {
			return Command{}, fmt.Errorf("%w: bad length %q", ErrMalformedCommand, fields[2])
		}
		if fields[0] == TokenRead {
			return ReadCommand(address, length), nil
		}
		return WriteCommand(address, length), nil
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, fields[0])
	}
}
