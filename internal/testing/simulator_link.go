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

package testing

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ZaparooProject/go-eeprom/internal/frame"
	"github.com/ZaparooProject/go-eeprom/internal/syncutil"
)

// SimulatorPort is the port name reported by simulator links.
const SimulatorPort = "sim://eeprom"

// SimulatorLink connects the session layer to a VirtualEEPROM, optionally
// through a ChoppyConnection. It satisfies eeprom.Link.
type SimulatorLink struct {
	conn       io.ReadWriter
	sim        *VirtualEEPROM
	lines      *frame.LineReader
	sent       [][]byte
	closeCount int
	mu         syncutil.Mutex
	closed     bool
}

// NewSimulatorLink creates a link talking directly to sim.
func NewSimulatorLink(sim *VirtualEEPROM) *SimulatorLink {
	return NewSimulatorLinkOver(sim, sim)
}

// NewSimulatorLinkOver creates a link that reaches sim through conn, usually
// a ChoppyConnection wrapping it.
func NewSimulatorLinkOver(sim *VirtualEEPROM, conn io.ReadWriter) *SimulatorLink {
	return &SimulatorLink{
		conn:  conn,
		sim:   sim,
		lines: frame.NewLineReader(conn),
	}
}

// Send writes data to the simulator.
func (l *SimulatorLink) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err //nolint:wrapcheck // context errors pass through
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return frame.ErrClosed
	}
	l.sent = append(l.sent, append([]byte(nil), data...))
	if _, err := l.conn.Write(data); err != nil {
		return fmt.Errorf("simulator write failed: %w", err)
	}
	return nil
}

// ReceiveLine waits up to timeout for the next response line.
func (l *SimulatorLink) ReceiveLine(ctx context.Context, timeout time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return "", frame.ErrClosed
	}
	return l.lines.ReadLine(ctx, timeout) //nolint:wrapcheck // frame errors are the link contract
}

// Close marks the link closed. Later calls fail with frame.ErrClosed.
func (l *SimulatorLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeCount++
	l.closed = true
	return nil
}

// Port returns SimulatorPort.
func (*SimulatorLink) Port() string {
	return SimulatorPort
}

// Simulator returns the device behind the link for test setup.
func (l *SimulatorLink) Simulator() *VirtualEEPROM {
	return l.sim
}

// Closed reports whether Close was called.
func (l *SimulatorLink) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// CloseCount returns how many times Close was called.
func (l *SimulatorLink) CloseCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeCount
}

// Sent returns a copy of every buffer passed to Send.
func (l *SimulatorLink) Sent() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]byte, len(l.sent))
	for i, b := range l.sent {
		out[i] = append([]byte(nil), b...)
	}
	return out
}
