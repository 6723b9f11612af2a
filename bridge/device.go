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

// Package bridge implements the device side of the EEPROM transfer protocol:
// the part normally running on the microcontroller wired to the chip.
//
// A Device is a byte-fed state machine. It is used by the test simulator and
// by cmd/eeprom-bridge, which serves the protocol on a serial port from a
// Linux board with the chip on its I2C or SPI bus.
package bridge

import (
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-eeprom/internal/syncutil"
	"github.com/ZaparooProject/go-eeprom/protocol"
)

// DefaultPageSize matches the reference firmware's receive buffer.
const DefaultPageSize = 32

// maxCommandLine bounds a buffered command line.
const maxCommandLine = 64

// Device error texts sent after ERR.
const (
	ErrTextRange   = "range"
	ErrTextLength  = "length"
	ErrTextSyntax  = "syntax"
	ErrTextUnknown = "unknown command"
	ErrTextRead    = "read failed"
	ErrTextWrite   = "write failed"
)

// Interceptor sees every response the device is about to send for a parsed
// command and may replace it. Returning false drops the response entirely.
// WRITE appears twice: once with OK for the setup and once with DONE after
// the page bytes.
type Interceptor func(cmd protocol.Command, resp protocol.Response) (protocol.Response, bool)

// Device answers protocol commands from a Memory.
//
// It has two states: collecting a command line, or collecting the raw bytes
// of a page announced by WRITE. Feed drives both.
type Device struct {
	mem      Memory
	line     []byte
	raw      []byte
	pending  protocol.Command
	hook     Interceptor
	pageSize int
	mu       syncutil.Mutex
	awaiting bool
}

// NewDevice creates a device serving mem with the given page size limit.
func NewDevice(mem Memory, pageSize int) *Device {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Device{
		mem:      mem,
		pageSize: pageSize,
	}
}

// Feed consumes bytes received from the host and returns the bytes to send
// back. It may return nil when more input is needed.
func (d *Device) Feed(data []byte) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []byte
	for len(data) > 0 {
		if d.awaiting {
			need := d.pending.Length - len(d.raw)
			take := min(need, len(data))
			d.raw = append(d.raw, data[:take]...)
			data = data[take:]
			if len(d.raw) == d.pending.Length {
				out = append(out, d.commitPage()...)
			}
			continue
		}

		b := data[0]
		data = data[1:]
		if b != protocol.LineTerminator {
			if len(d.line) >= maxCommandLine {
				d.line = d.line[:0]
				out = append(out, protocol.ErrorResponse(ErrTextSyntax).Encode()...)
				continue
			}
			d.line = append(d.line, b)
			continue
		}

		line := string(d.line)
		d.line = d.line[:0]
		out = append(out, d.handleLine(line)...)
	}
	return out
}

// SetInterceptor installs fn as the response hook. A nil fn removes it.
func (d *Device) SetInterceptor(fn Interceptor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hook = fn
}

// Pending returns how many raw page bytes the device still expects. It is
// zero while the device waits for a command line.
func (d *Device) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.awaiting {
		return 0
	}
	return d.pending.Length - len(d.raw)
}

// Reset drops any partial command or page.
func (d *Device) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.line = d.line[:0]
	d.raw = d.raw[:0]
	d.awaiting = false
}

func (d *Device) handleLine(line string) []byte {
	cmd, err := protocol.ParseCommand(line)
	switch {
	case errors.Is(err, protocol.ErrEmptyLine):
		return nil
	case errors.Is(err, protocol.ErrUnknownCommand):
		return protocol.ErrorResponse(ErrTextUnknown).Encode()
	case err != nil:
		return protocol.ErrorResponse(ErrTextSyntax).Encode()
	}

	var resp protocol.Response
	switch cmd.Kind {
	case protocol.CommandPing:
		resp = protocol.PongResponse()
	case protocol.CommandRead:
		resp = d.read(cmd)
	case protocol.CommandWrite:
		var ok bool
		if resp, ok = d.checkRange(cmd); ok {
			resp = protocol.OKResponse()
		}
	default:
		resp = protocol.ErrorResponse(ErrTextUnknown)
	}

	resp, send := d.intercept(cmd, resp)
	if cmd.Kind == protocol.CommandWrite && resp.Kind == protocol.ResponseOK {
		d.pending = cmd
		d.raw = d.raw[:0]
		d.awaiting = true
	}
	if !send {
		return nil
	}
	return resp.Encode()
}

func (d *Device) intercept(cmd protocol.Command, resp protocol.Response) (protocol.Response, bool) {
	if d.hook == nil {
		return resp, true
	}
	return d.hook(cmd, resp)
}

func (d *Device) read(cmd protocol.Command) protocol.Response {
	if resp, ok := d.checkRange(cmd); !ok {
		return resp
	}
	buf := make([]byte, cmd.Length)
	if _, err := d.mem.ReadAt(buf, int64(cmd.Address)); err != nil {
		return protocol.ErrorResponse(fmt.Sprintf("%s: %v", ErrTextRead, err))
	}
	return protocol.DataResponse(buf)
}

func (d *Device) commitPage() []byte {
	d.awaiting = false
	page := d.raw
	d.raw = nil
	resp := protocol.DoneResponse()
	if _, err := d.mem.WriteAt(page, int64(d.pending.Address)); err != nil {
		resp = protocol.ErrorResponse(fmt.Sprintf("%s: %v", ErrTextWrite, err))
	}
	resp, send := d.intercept(d.pending, resp)
	if !send {
		return nil
	}
	return resp.Encode()
}

func (d *Device) checkRange(cmd protocol.Command) (protocol.Response, bool) {
	if cmd.Length > d.pageSize {
		return protocol.ErrorResponse(ErrTextLength), false
	}
	if cmd.Address+cmd.Length > d.mem.Size() {
		return protocol.ErrorResponse(ErrTextRange), false
	}
	return protocol.Response{}, true
}
