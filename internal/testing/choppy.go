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
	"io"
	"math/rand/v2"
	"time"
)

// ChoppyConfig configures a ChoppyConnection.
type ChoppyConfig struct {
	// MaxLatency is the upper bound of the random delay before each read.
	MaxLatency time.Duration
	// StallAfterBytes stalls once for StallDuration after this many bytes.
	StallAfterBytes int
	StallDuration   time.Duration
	// MinFragment is the smallest number of bytes returned by a non-empty read.
	MinFragment int
	// Seed makes fragmentation reproducible. Zero picks a random seed.
	Seed uint64
	// USBBoundary splits reads at 64-byte boundaries like a full-speed USB bulk endpoint.
	USBBoundary bool
}

// DefaultChoppyConfig returns settings resembling a CH340 adapter on a busy hub.
func DefaultChoppyConfig() ChoppyConfig {
	return ChoppyConfig{
		MaxLatency:  2 * time.Millisecond,
		MinFragment: 1,
	}
}

// ChoppyConnection wraps an io.ReadWriter and delivers its bytes in random
// fragments with random latency, as USB-UART bridges do. Response lines
// therefore arrive split at arbitrary points, including inside the hex
// payload of a DATA line.
//
// Writes pass through unchanged.
type ChoppyConnection struct {
	backend   io.ReadWriter
	rng       *rand.Rand
	readBuf   []byte
	config    ChoppyConfig
	delivered int
	stalled   bool
}

// NewChoppyConnection wraps backend.
func NewChoppyConnection(backend io.ReadWriter, config ChoppyConfig) *ChoppyConnection {
	seed := config.Seed
	if seed == 0 {
		seed = rand.Uint64() //nolint:gosec // test code, not crypto
	}
	if config.MinFragment < 1 {
		config.MinFragment = 1
	}
	return &ChoppyConnection{
		backend: backend,
		config:  config,
		rng:     rand.New(rand.NewPCG(seed, seed^0xDEADBEEF)), //nolint:gosec // test code, not crypto
		readBuf: make([]byte, 0, 1024),
	}
}

// Write implements io.Writer.
func (c *ChoppyConnection) Write(data []byte) (int, error) {
	return c.backend.Write(data) //nolint:wrapcheck // pass-through wrapper
}

// Read implements io.Reader with fragmentation and latency.
//
//nolint:gocognit,cyclop // each knob adds a branch
func (c *ChoppyConnection) Read(buf []byte) (int, error) {
	if c.config.MaxLatency > 0 {
		if delay := time.Duration(c.rng.Int64N(int64(c.config.MaxLatency) + 1)); delay > 0 {
			time.Sleep(delay)
		}
	}

	if len(c.readBuf) == 0 {
		tmp := make([]byte, 1024)
		n, err := c.backend.Read(tmp)
		if err != nil {
			return 0, err //nolint:wrapcheck // pass-through wrapper
		}
		if n == 0 {
			return 0, nil
		}
		c.readBuf = append(c.readBuf, tmp[:n]...)
	}

	toReturn := min(len(c.readBuf), len(buf))

	if c.config.StallAfterBytes > 0 && !c.stalled {
		if c.delivered >= c.config.StallAfterBytes {
			c.stalled = true
			time.Sleep(c.config.StallDuration)
		} else {
			toReturn = min(toReturn, c.config.StallAfterBytes-c.delivered)
		}
	}

	if c.config.USBBoundary {
		untilBoundary := (c.delivered/64+1)*64 - c.delivered
		toReturn = min(toReturn, untilBoundary)
	}

	if toReturn > c.config.MinFragment {
		toReturn = c.config.MinFragment + c.rng.IntN(toReturn-c.config.MinFragment+1)
	}

	copy(buf, c.readBuf[:toReturn])
	c.readBuf = c.readBuf[toReturn:]
	c.delivered += toReturn
	return toReturn, nil
}

// Delivered returns the number of bytes handed to the reader so far.
func (c *ChoppyConnection) Delivered() int {
	return c.delivered
}
