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

// Package i2c drives 24xx-series I2C EEPROMs (two-byte word address, paged
// writes, acknowledge polling) as a bridge.Memory.
package i2c

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ZaparooProject/go-eeprom/bridge"
	"github.com/ZaparooProject/go-eeprom/internal/syncutil"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

const (
	// DefaultAddr is the 7-bit address of a 24xx chip with A0-A2 tied low.
	DefaultAddr = 0x50

	// Max clock frequency (400 kHz).
	maxClockFreq = 400 * physic.KiloHertz

	// DefaultWriteTimeout bounds the internal write cycle (5 ms typical).
	DefaultWriteTimeout = 20 * time.Millisecond

	ackPollInterval = 500 * time.Microsecond
)

// ErrWriteTimeout is returned when the chip keeps NACKing after a page write.
var ErrWriteTimeout = errors.New("EEPROM write cycle timed out")

// Config describes the chip geometry.
type Config struct {
	Size         int
	PageSize     int
	WriteTimeout time.Duration
	Addr         uint16
}

// DefaultConfig returns the geometry of a 24C64: 8 KiB in 32-byte pages.
func DefaultConfig() Config {
	return Config{
		Addr:         DefaultAddr,
		Size:         8192,
		PageSize:     32,
		WriteTimeout: DefaultWriteTimeout,
	}
}

// Chip is an I2C EEPROM. It implements bridge.Memory.
type Chip struct {
	dev     *i2c.Dev
	bus     i2c.BusCloser // held so Close can release the OS file descriptor
	busName string
	cfg     Config
	mu      syncutil.Mutex
}

var _ bridge.Memory = (*Chip)(nil)

// ParsePath splits a "/dev/i2c-1:0x50" path into bus name and address. A
// bare bus name yields DefaultAddr.
func ParsePath(path string) (busName string, addr uint16, err error) {
	busName, suffix, found := strings.Cut(path, ":")
	if !found {
		return busName, DefaultAddr, nil
	}
	v, err := strconv.ParseUint(suffix, 0, 7)
	if err != nil {
		return "", 0, fmt.Errorf("invalid I2C address %q: %w", suffix, err)
	}
	return busName, uint16(v), nil
}

// Open initialises the host drivers and opens the chip on path, which may
// carry an address suffix (see ParsePath) overriding cfg.Addr.
func Open(path string, cfg Config) (*Chip, error) {
	busName, addr, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	if strings.Contains(path, ":") {
		cfg.Addr = addr
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %s: %w", busName, err)
	}

	// Ignore error, continue with default speed
	_ = bus.SetSpeed(maxClockFreq)

	chip := New(bus, cfg)
	chip.bus = bus
	chip.busName = busName
	return chip, nil
}

// New wraps an already opened bus.
func New(bus i2c.Bus, cfg Config) *Chip {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultConfig().PageSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	return &Chip{
		dev:     &i2c.Dev{Addr: cfg.Addr, Bus: bus},
		busName: bus.String(),
		cfg:     cfg,
	}
}

// Size implements bridge.Memory.
func (c *Chip) Size() int {
	return c.cfg.Size
}

// String returns the bus and address.
func (c *Chip) String() string {
	return fmt.Sprintf("%s:0x%02X", c.busName, c.cfg.Addr)
}

// ReadAt performs one sequential read starting at off.
func (c *Chip) ReadAt(p []byte, off int64) (int, error) {
	if err := c.check(off, len(p)); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.dev.Tx(wordAddress(int(off)), p); err != nil {
		return 0, fmt.Errorf("I2C read at 0x%04X failed: %w", off, err)
	}
	return len(p), nil
}

// WriteAt splits p at chip page boundaries, since a page write wraps
// around within its page, and waits out the write cycle after each chunk.
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

		buf := append(wordAddress(addr), p[written:written+n]...)
		if err := c.dev.Tx(buf, nil); err != nil {
			return written, fmt.Errorf("I2C write at 0x%04X failed: %w", addr, err)
		}
		if err := c.waitWriteCycle(addr); err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

// Close releases the bus when the chip owns it.
func (c *Chip) Close() error {
	if c.bus == nil {
		return nil
	}
	if err := c.bus.Close(); err != nil {
		return fmt.Errorf("I2C close failed: %w", err)
	}
	return nil
}

// waitWriteCycle polls with an address-only write until the chip ACKs
// again. The chip ignores the bus while it programs the page.
func (c *Chip) waitWriteCycle(addr int) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
	defer cancel()

	var lastErr error
	for {
		lastErr = c.dev.Tx(wordAddress(addr), nil)
		if lastErr == nil {
			return nil
		}
		if err := sleepCtx(ctx, ackPollInterval); err != nil {
			return fmt.Errorf("%w at 0x%04X after %v: %w", ErrWriteTimeout, addr, c.cfg.WriteTimeout, lastErr)
		}
	}
}

func (c *Chip) check(off int64, n int) error {
	if off < 0 || n < 0 || off+int64(n) > int64(c.cfg.Size) {
		return fmt.Errorf("%w: 0x%04X+%d (size %d)", bridge.ErrOutOfRange, off, n, c.cfg.Size)
	}
	return nil
}

func wordAddress(addr int) []byte {
	return []byte{byte(addr >> 8), byte(addr)}
}

// sleepCtx performs a context-aware sleep. Returns ctx.Err() if context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
