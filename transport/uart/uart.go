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

// Package uart provides the serial-port link to an EEPROM programmer.
package uart

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	eeprom "github.com/ZaparooProject/go-eeprom"
	"github.com/ZaparooProject/go-eeprom/internal/frame"
	"go.bug.st/serial"
)

// Link implements eeprom.Link over a serial port.
type Link struct {
	port     serial.Port
	lines    *frame.LineReader
	portName string
	mu       sync.Mutex
	closed   bool
}

var _ eeprom.Link = (*Link)(nil)

// openPort is swapped in tests.
var openPort = serial.Open

// isWindows returns true if running on Windows
func isWindows() bool {
	return runtime.GOOS == "windows"
}

// getWindowsTimeout returns the per-read timeout of the port. Windows
// drivers need a longer one.
func getWindowsTimeout() time.Duration {
	if isWindows() {
		return 100 * time.Millisecond
	}
	return 50 * time.Millisecond
}

// windowsPostWriteDelay gives Windows drivers time to flush the write buffer
func windowsPostWriteDelay() {
	if isWindows() {
		time.Sleep(15 * time.Millisecond)
	}
}

// Open opens portName with the baud rate of cfg in 8N1 mode, waits out the
// board reset triggered by opening the port and discards any boot chatter.
func Open(ctx context.Context, portName string, cfg eeprom.Config) (*Link, error) {
	port, err := openPort(portName, &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, openError(portName, err)
	}

	if err := port.SetReadTimeout(getWindowsTimeout()); err != nil {
		_ = port.Close()
		return nil, eeprom.NewConnectionError(portName, fmt.Errorf("set read timeout: %w", err))
	}

	link := newLink(port, portName)
	if err := link.settle(ctx, cfg.SettleDelay); err != nil {
		_ = port.Close()
		return nil, err
	}
	eeprom.Debugf("opened %s at %d baud", portName, cfg.BaudRate)
	return link, nil
}

// Dial opens cfg.Port. It has the eeprom.Dialer signature.
func Dial(ctx context.Context, cfg eeprom.Config) (eeprom.Link, error) {
	return Open(ctx, cfg.Port, cfg)
}

func newLink(port serial.Port, portName string) *Link {
	return &Link{
		port:     port,
		portName: portName,
		lines:    frame.NewLineReader(port),
	}
}

func openError(portName string, err error) error {
	var portErr *serial.PortError
	if errors.As(err, &portErr) && portErr.Code() == serial.PortBusy {
		return eeprom.NewConnectionError(portName, fmt.Errorf("%w: %w", eeprom.ErrPortBusy, err))
	}
	return eeprom.NewConnectionError(portName, err)
}

func (l *Link) settle(ctx context.Context, delay time.Duration) error {
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err() //nolint:wrapcheck // context errors pass through
		case <-timer.C:
		}
	}

	if err := l.port.ResetInputBuffer(); err != nil {
		return eeprom.NewConnectionError(l.portName, fmt.Errorf("reset input buffer: %w", err))
	}
	l.lines.Reset()
	return nil
}

// Send writes data to the port and drains it.
func (l *Link) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err //nolint:wrapcheck // context errors pass through
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return eeprom.NewLinkError("send", l.portName, eeprom.ErrLinkClosed)
	}

	for written := 0; written < len(data); {
		n, err := l.port.Write(data[written:])
		if err != nil {
			return eeprom.NewLinkError("send", l.portName, fmt.Errorf("%w: %w", eeprom.ErrLinkWrite, err))
		}
		if n == 0 {
			return eeprom.NewLinkError("send", l.portName,
				fmt.Errorf("%w: short write %d/%d", eeprom.ErrLinkWrite, written, len(data)))
		}
		written += n
	}

	if err := l.drainWithRetry("send"); err != nil {
		return eeprom.NewLinkError("send", l.portName, fmt.Errorf("%w: %w", eeprom.ErrLinkWrite, err))
	}
	windowsPostWriteDelay()
	return nil
}

// ReceiveLine returns the next response line with any trailing '\r' removed.
func (l *Link) ReceiveLine(ctx context.Context, timeout time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return "", eeprom.NewLinkError("receive", l.portName, eeprom.ErrLinkClosed)
	}

	line, err := l.lines.ReadLine(ctx, timeout)
	switch {
	case err == nil:
		return strings.TrimSuffix(line, "\r"), nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "", err
	case errors.Is(err, frame.ErrTimeout), errors.Is(err, frame.ErrLineTooLong):
		return "", eeprom.NewLinkError("receive", l.portName, err)
	default:
		return "", eeprom.NewLinkError("receive", l.portName, fmt.Errorf("%w: %w", eeprom.ErrLinkRead, err))
	}
}

// Close closes the port. Closing twice is a no-op.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.port.Close(); err != nil {
		return fmt.Errorf("UART close failed: %w", err)
	}
	return nil
}

// Port returns the device path the link was opened on.
func (l *Link) Port() string {
	return l.portName
}

// isInterruptedSystemCall checks if an error is caused by an interrupted system call
func isInterruptedSystemCall(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "interrupted system call") ||
		strings.Contains(errStr, "eintr")
}

// drainWithRetry drains the port, retrying interrupted system calls
func (l *Link) drainWithRetry(operation string) error {
	for attempt := range eeprom.TransportDrainRetries {
		err := l.port.Drain()
		if err == nil {
			return nil
		}
		if !isInterruptedSystemCall(err) || attempt == eeprom.TransportDrainRetries-1 {
			return fmt.Errorf("UART %s drain failed: %w", operation, err)
		}
		time.Sleep(eeprom.TransportDrainDelay * time.Duration(1<<attempt))
	}
	return fmt.Errorf("UART %s drain failed after %d retries", operation, eeprom.TransportDrainRetries)
}
