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

// Package testing provides test utilities including a wire-level simulator of
// the EEPROM programmer.
//
// VirtualEEPROM implements io.ReadWriter and behaves like the microcontroller
// at the other end of the serial cable: it parses command lines, answers with
// response lines and stores raw page bytes in a simulated chip. Faults can be
// injected per command to exercise every abort path of a session.
package testing

import (
	"bytes"
	"io"

	"github.com/ZaparooProject/go-eeprom/bridge"
	"github.com/ZaparooProject/go-eeprom/internal/syncutil"
	"github.com/ZaparooProject/go-eeprom/protocol"
)

// Chip geometry of the NV24C64 the reference programmer is built around.
const (
	DefaultCapacity = 8192
	DefaultPageSize = 32
)

// Fault selects a misbehaviour of the simulated device.
type Fault int

const (
	// FaultNone clears any fault.
	FaultNone Fault = iota
	// FaultPingReply answers PING with FaultConfig.Reply instead of PONG.
	FaultPingReply
	// FaultShortData truncates the DATA payload for the READ at FaultConfig.Address.
	FaultShortData
	// FaultDropResponse swallows the response to the command at FaultConfig.Address.
	FaultDropResponse
	// FaultRejectWrite answers the WRITE setup at FaultConfig.Address with ERR.
	FaultRejectWrite
	// FaultWriteFailed answers the page bytes at FaultConfig.Address with ERR instead of DONE.
	FaultWriteFailed
	// FaultReplyText replaces the response to the command at FaultConfig.Address with FaultConfig.Reply.
	FaultReplyText
)

// FaultConfig describes an injected fault. Address is ignored by FaultPingReply.
type FaultConfig struct {
	Reply   string
	Kind    Fault
	Address int
}

// CommandLogEntry records a command line the simulator received.
type CommandLogEntry struct {
	Command protocol.Command
}

// VirtualEEPROM simulates the programmer and its attached chip at the wire
// level. Reads return 0, nil when no response is pending, like a serial port
// whose read timeout expired.
type VirtualEEPROM struct {
	mem      *stuckMemory
	dev      *bridge.Device
	log      []CommandLogEntry
	txBuffer bytes.Buffer
	fault    FaultConfig
	mu       syncutil.Mutex
	unplug   bool
}

// NewVirtualEEPROM creates a simulator with an erased chip of the given
// capacity and page size. Zero values select the NV24C64 geometry.
func NewVirtualEEPROM(capacity, pageSize int) *VirtualEEPROM {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	mem := &stuckMemory{Buffer: bridge.NewBuffer(capacity), stuck: make(map[int]byte)}
	v := &VirtualEEPROM{
		mem: mem,
		dev: bridge.NewDevice(mem, pageSize),
	}
	v.dev.SetInterceptor(v.intercept)
	return v
}

// Write implements io.Writer. It receives bytes from the host.
func (v *VirtualEEPROM) Write(data []byte) (int, error) {
	v.mu.Lock()
	unplugged := v.unplug
	v.mu.Unlock()
	if unplugged {
		return 0, io.ErrClosedPipe
	}

	// Feed calls back into intercept, which takes v.mu
	out := v.dev.Feed(data)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.txBuffer.Write(out)
	return len(data), nil
}

// Read implements io.Reader. It returns pending response bytes to the host.
func (v *VirtualEEPROM) Read(buf []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.unplug {
		return 0, io.ErrClosedPipe
	}
	if v.txBuffer.Len() == 0 {
		return 0, nil
	}
	n, _ := v.txBuffer.Read(buf)
	return n, nil
}

// Load programs the simulated chip from offset 0 without going over the wire.
func (v *VirtualEEPROM) Load(data []byte) error {
	return v.mem.Load(data) //nolint:wrapcheck // test helper
}

// Contents returns a copy of the simulated chip.
func (v *VirtualEEPROM) Contents() []byte {
	return v.mem.Bytes()
}

// Capacity returns the simulated chip size in bytes.
func (v *VirtualEEPROM) Capacity() int {
	return v.mem.Size()
}

// StickCell makes the cell at addr always read back as value, whatever is
// written to it.
func (v *VirtualEEPROM) StickCell(addr int, value byte) {
	v.mem.stick(addr, value)
}

// InjectFault arms a fault. It stays armed until ClearFault or Reset.
func (v *VirtualEEPROM) InjectFault(fault FaultConfig) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.fault = fault
}

// ClearFault disarms any injected fault.
func (v *VirtualEEPROM) ClearFault() {
	v.InjectFault(FaultConfig{})
}

// Unplug makes every later Read and Write fail as if the cable was pulled.
func (v *VirtualEEPROM) Unplug() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.unplug = true
}

// Commands returns a copy of the command log.
func (v *VirtualEEPROM) Commands() []CommandLogEntry {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]CommandLogEntry(nil), v.log...)
}

// CommandCount returns how many commands of kind were received.
func (v *VirtualEEPROM) CommandCount(kind protocol.CommandKind) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	count := 0
	for _, entry := range v.log {
		if entry.Command.Kind == kind {
			count++
		}
	}
	return count
}

// WriteLengths returns the length of every WRITE received, in order.
func (v *VirtualEEPROM) WriteLengths() []int {
	v.mu.Lock()
	defer v.mu.Unlock()
	var lengths []int
	for _, entry := range v.log {
		if entry.Command.Kind == protocol.CommandWrite {
			lengths = append(lengths, entry.Command.Length)
		}
	}
	return lengths
}

// HasPendingResponse reports whether response bytes are waiting to be read.
func (v *VirtualEEPROM) HasPendingResponse() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.txBuffer.Len() > 0
}

// Reset clears buffers, the command log and faults. Chip contents are kept,
// as with a power cycle of a real programmer.
func (v *VirtualEEPROM) Reset() {
	v.dev.Reset()

	v.mu.Lock()
	defer v.mu.Unlock()
	v.txBuffer.Reset()
	v.log = nil
	v.fault = FaultConfig{}
	v.unplug = false
}

// intercept logs commands and applies the armed fault. It runs inside
// bridge.Device.Feed.
//
//nolint:gocyclo,cyclop // one case per fault kind
func (v *VirtualEEPROM) intercept(cmd protocol.Command, resp protocol.Response) (protocol.Response, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	// The DONE phase of a WRITE is the same command; log it only once
	if !(cmd.Kind == protocol.CommandWrite && resp.Kind != protocol.ResponseOK && v.lastLogged(cmd)) {
		v.log = append(v.log, CommandLogEntry{Command: cmd})
	}

	f := v.fault
	hit := cmd.Address == f.Address
	switch f.Kind {
	case FaultNone:
	case FaultPingReply:
		if cmd.Kind == protocol.CommandPing {
			return protocol.UnknownResponse(f.Reply), true
		}
	case FaultShortData:
		if hit && cmd.Kind == protocol.CommandRead && resp.Kind == protocol.ResponseData {
			return protocol.DataResponse(resp.Data[:len(resp.Data)/4]), true
		}
	case FaultDropResponse:
		if hit && cmd.Kind != protocol.CommandPing {
			return resp, false
		}
	case FaultRejectWrite:
		if hit && cmd.Kind == protocol.CommandWrite && resp.Kind == protocol.ResponseOK {
			return protocol.ErrorResponse(f.Reply), true
		}
	case FaultWriteFailed:
		if hit && cmd.Kind == protocol.CommandWrite && resp.Kind == protocol.ResponseDone {
			return protocol.ErrorResponse(f.Reply), true
		}
	case FaultReplyText:
		if hit && cmd.Kind != protocol.CommandPing {
			return protocol.UnknownResponse(f.Reply), true
		}
	}
	return resp, true
}

func (v *VirtualEEPROM) lastLogged(cmd protocol.Command) bool {
	return len(v.log) > 0 && v.log[len(v.log)-1].Command == cmd
}

// stuckMemory is a chip with cells that ignore writes.
type stuckMemory struct {
	*bridge.Buffer
	stuck map[int]byte
	mu    syncutil.Mutex
}

func (m *stuckMemory) stick(addr int, value byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stuck[addr] = value
}

func (m *stuckMemory) ReadAt(p []byte, off int64) (int, error) {
	n, err := m.Buffer.ReadAt(p, off)
	if err != nil {
		return n, err //nolint:wrapcheck // pass-through
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for addr, value := range m.stuck {
		if i := addr - int(off); i >= 0 && i < n {
			p[i] = value
		}
	}
	return n, nil
}

func (m *stuckMemory) Bytes() []byte {
	data := m.Buffer.Bytes()
	m.mu.Lock()
	defer m.mu.Unlock()
	for addr, value := range m.stuck {
		if addr >= 0 && addr < len(data) {
			data[addr] = value
		}
	}
	return data
}
