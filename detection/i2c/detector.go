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

// Package i2c detects 24xx-series EEPROM chips on I2C buses. Importing it
// registers the detector with the detection package.
package i2c

import (
	"context"
	"fmt"
	"runtime"

	"github.com/ZaparooProject/go-eeprom/detection"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

const (
	// FirstAddress and LastAddress bound the 24xx address block (A2-A0 pins).
	FirstAddress = 0x50
	LastAddress  = 0x57
)

// Swapped in tests.
var (
	hostInit = func() error {
		_, err := host.Init()
		return err
	}
	busNames = func() []string {
		refs := i2creg.All()
		names := make([]string, 0, len(refs))
		for _, ref := range refs {
			names = append(names, ref.Name)
		}
		return names
	}
	openBus = i2creg.Open
)

// detector implements the Detector interface for I2C buses
type detector struct{}

// New creates a new I2C detector
func New() detection.Detector {
	return &detector{}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return "i2c"
}

// Detect scans every I2C bus for devices acknowledging in the 24xx
// address block. Passive mode does not touch the buses.
func (*detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	if runtime.GOOS != "linux" {
		return nil, detection.ErrUnsupportedPlatform
	}
	if opts.Mode == detection.Passive {
		return nil, detection.ErrNoDevicesFound
	}
	if err := hostInit(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	var devices []detection.DeviceInfo
	for _, name := range busNames() {
		if ctx.Err() != nil {
			break
		}
		found, err := scanBus(name)
		if err != nil {
			continue
		}
		for _, dev := range found {
			if !detection.IsPathIgnored(dev.Path, opts.IgnorePaths) {
				devices = append(devices, dev)
			}
		}
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

// scanBus issues a one-byte current-address read to each candidate
// address, which leaves chip contents untouched.
func scanBus(name string) ([]detection.DeviceInfo, error) {
	bus, err := openBus(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %s: %w", name, err)
	}
	defer func() { _ = bus.Close() }()

	var devices []detection.DeviceInfo
	buf := make([]byte, 1)
	for addr := uint16(FirstAddress); addr <= LastAddress; addr++ {
		if err := bus.Tx(addr, nil, buf); err != nil {
			continue
		}
		devices = append(devices, newDeviceInfo(name, addr))
	}
	return devices, nil
}

func newDeviceInfo(bus string, addr uint16) detection.DeviceInfo {
	path := fmt.Sprintf("%s:0x%02X", bus, addr)
	return detection.DeviceInfo{
		Transport:  "i2c",
		Path:       path,
		Name:       fmt.Sprintf("24xx EEPROM at 0x%02X", addr),
		Confidence: detection.Medium,
		Metadata: map[string]string{
			"bus":     bus,
			"address": fmt.Sprintf("0x%02X", addr),
		},
	}
}
