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

// Package spi drives 25xx-series SPI EEPROMs as a bridge.Memory.
package spi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-eeprom/bridge"
	"github.com/ZaparooProject/go-eeprom/internal/syncutil"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

const (
	// 25xx instruction set
	opWREN  = 0x06
	opRDSR  = 0x05
	opRead  = 0x03
	opWrite = 0x02

	// statusWIP is the write-in-progress bit of the status register.
	statusWIP = 0x01

	defaultFreq = 1 * physic.MegaHertz
	mode        = spi.Mode0

	// DefaultWriteTimeout bounds the internal write cycle (5 ms typical).
	DefaultWriteTimeout = 20 * time.Millisecond

	statusPollInterval = 500 * time.Microsecond
)

// ErrWriteTimeout is returned when WIP stays set after a page write.
var ErrWriteTimeout = errors.New("EEPROM write cycle timed out")

// Config describes the chip geometry.
type Config struct {
	Size         int
	PageSize     int
	WriteTimeout time.Duration
}

// DefaultConfig returns the geometry of a 25LC640: 8 KiB in 32-byte pages.
func DefaultConfig() Config {
	return Config{
		Size:         8192,
		PageSize:     32,
		WriteTimeout: DefaultWriteTimeout,
	}
}

// Chip is a SPI EEPROM. It implements bridge.Memory.
type Chip struct {
	port     spi.PortCloser
	conn     spi.Conn
	portName string
	cfg      Config
	mu       syncutil.Mutex
}

var _ bridge.Memory = (*Chip)(nil)

// Open initialises the host drivers and connects to the chip on portName
// in mode 0 at 1 MHz.
func Open(portName string, cfg Config) (*Chip, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %s: %w", portName, err)
	}

	conn, err := port.Connect(defaultFreq, mode, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to connect SPI: %w", err)
	}

	chip := New(conn, cfg)
	chip.port = port
	chip.portName = portName
	return chip, nil
}

// New wraps an already connected SPI conn.
func New(conn spi.Conn, cfg Config) *Chip {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultConfig().PageSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	return &Chip{conn: conn, portName: conn.String(), cfg: cfg}
}

// Size implements bridge.Memory.
func (c *Chip) Size() int {
	return c.cfg.Size
}

// String returns the port name.
func (c *Chip) String() string {
	return c.portName
}

// ReadAt implements io.ReaderAt with a single READ instruction.
func (c *Chip) ReadAt(p []byte, off int64) (int, error) {
	if err := c.check(off, len(p)); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	w := make([]byte, 3+len(p))
	w[0], w[1], w[2] = opRead, byte(off>>8), byte(off)
	r := make([]byte, len(w))
	if err := c.conn.Tx(w, r); err != nil {
		return 0, fmt.Errorf("SPI read at 0x%04X failed: %w", off, err)
	}
	return copy(p, r[3:]), nil
}

// WriteAt implements io.WriterAt. Each chip page is enabled with WREN,
// programmed and polled until WIP clears.
func (c *Chip) WriteAt(p []byte, off int64) (int, error) {
	if err := c.check(off, len(p)); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	written := 0
	for written < len(p) {
		addr := int(off) + written
		n := min(c.cfg.PageSize-addr%c.cfg.PageSize, len(p)-written)
		if err := c.writePage(addr, p[written:written+n]); err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

// Close releases the port when the chip owns it.
func (c *Chip) Close() error {
	if c.port == nil {
		return nil
	}
	if err := c.port.Close(); err != nil {
		return fmt.Errorf("SPI close failed: %w", err)
	}
	return nil
}

func (c *Chip) writePage(addr int, data []byte) error {
	if err := c.conn.Tx([]byte{opWREN}, nil); err != nil {
		return fmt.Errorf("SPI write enable failed: %w", err)
	}

	w := append([]byte{opWrite, byte(addr >> 8), byte(addr)}, data...)
	if err := c.conn.Tx(w, nil); err != nil {
		return fmt.Errorf("SPI write at 0x%04X failed: %w", addr, err)
	}
	return c.waitReady(addr)
}

func (c *Chip) waitReady(addr int) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
	defer cancel()

	r := make([]byte, 2)
	for {
		if err := c.conn.Tx([]byte{opRDSR, 0x00}, r); err != nil {
			return fmt.Errorf("SPI status read failed: %w", err)
		}
		if r[1]&statusWIP == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w at 0x%04X after %v", ErrWriteTimeout, addr, c.cfg.WriteTimeout)
		case <-time.After(statusPollInterval):
		}
	}
}

func (c *Chip) check(off int64, n int) error {
	if off < 0 || n < 0 || off+int64(n) > int64(c.cfg.Size) {
		return fmt.Errorf("%w: 0x%04X+%d (size %d)", bridge.ErrOutOfRange, off, n, c.cfg.Size)
	}
	return nil
}
