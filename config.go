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

package eeprom

import (
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-eeprom/internal/frame"
	"github.com/ZaparooProject/go-eeprom/protocol"
)

// Reference device defaults: an NV24C64 behind an Arduino-class bridge.
const (
	DefaultPageSize        = 32
	DefaultCapacity        = 8192
	DefaultBaudRate        = 115200
	DefaultResponseTimeout = 2 * time.Second
	DefaultSettleDelay     = 2 * time.Second
	DefaultTraceDepth      = 16
)

// MaxPageSize is the largest page whose DATA line, hex payload and CRLF
// included, fits in one response line.
const MaxPageSize = (frame.MaxLineLength - len(protocol.TokenData) - len(" \r\n")) / 2

// Config holds the parameters of a transfer session. It is built once at the
// boundary (flags, config file) and passed down; nothing below reads globals.
type Config struct {
	// Port is the serial device path, e.g. /dev/ttyUSB0 or COM3
	Port string
	// BaudRate of the serial link
	BaudRate int
	// PageSize is the largest chunk moved per command
	PageSize int
	// Capacity is the chip size in bytes
	Capacity int
	// ResponseTimeout bounds the wait for each response line
	ResponseTimeout time.Duration
	// SettleDelay is waited after opening the port, while the bridge resets
	SettleDelay time.Duration
	// TraceDepth is the number of wire entries kept for error traces
	TraceDepth int
}

// DefaultConfig returns the reference device configuration with no port set.
func DefaultConfig() Config {
	return Config{
		BaudRate:        DefaultBaudRate,
		PageSize:        DefaultPageSize,
		Capacity:        DefaultCapacity,
		ResponseTimeout: DefaultResponseTimeout,
		SettleDelay:     DefaultSettleDelay,
		TraceDepth:      DefaultTraceDepth,
	}
}

// Validate checks the geometry and timing values. Port is not checked here
// because sessions over non-serial links have none.
func (c Config) Validate() error {
	var errs []error
	if c.PageSize < 1 {
		errs = append(errs, fmt.Errorf("page size must be positive, got %d", c.PageSize))
	}
	if c.PageSize > MaxPageSize {
		errs = append(errs, fmt.Errorf("page size %d exceeds the %d-byte line limit", c.PageSize, MaxPageSize))
	}
	if c.Capacity < 1 {
		errs = append(errs, fmt.Errorf("capacity must be positive, got %d", c.Capacity))
	}
	if c.PageSize > c.Capacity && c.Capacity > 0 {
		errs = append(errs, fmt.Errorf("page size %d exceeds capacity %d", c.PageSize, c.Capacity))
	}
	if c.BaudRate < 0 {
		errs = append(errs, fmt.Errorf("baud rate must not be negative, got %d", c.BaudRate))
	}
	if c.ResponseTimeout <= 0 {
		errs = append(errs, fmt.Errorf("response timeout must be positive, got %v", c.ResponseTimeout))
	}
	if c.SettleDelay < 0 {
		errs = append(errs, fmt.Errorf("settle delay must not be negative, got %v", c.SettleDelay))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
