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

// Package uart detects EEPROM programmers on serial ports. Importing it
// registers the detector with the detection package.
package uart

import (
	"context"
	"fmt"
	"strings"

	"github.com/ZaparooProject/go-eeprom/detection"
	"go.bug.st/serial/enumerator"
)

// listPorts is swapped in tests.
var listPorts = enumerator.GetDetailedPortsList

// knownBridges maps the USB VID:PIDs of boards and USB-serial chips that
// programmer sketches commonly run behind.
var knownBridges = map[string]string{
	"2341:0043": "Arduino Uno",
	"2341:0001": "Arduino Uno (early)",
	"2A03:0043": "Arduino Uno (arduino.org)",
	"2341:0042": "Arduino Mega 2560",
	"1A86:7523": "QinHeng CH340",
	"0403:6001": "FTDI FT232R",
	"10C4:EA60": "Silicon Labs CP210x",
	"067B:2303": "Prolific PL2303",
}

// detector implements the Detector interface for serial ports.
type detector struct{}

// New creates a new UART detector
func New() detection.Detector {
	return &detector{}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return "uart"
}

// serialPort represents a serial port with metadata
type serialPort struct {
	Path         string
	VIDPID       string
	Product      string
	SerialNumber string
	IsUSB        bool
}

// Detect lists serial ports, drops blocked and ignored ones and ranks the
// rest, probing according to opts.Mode.
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	ports, err := enumeratePorts()
	if err != nil {
		return nil, err
	}

	var devices []detection.DeviceInfo
	for i := range ports {
		if ctx.Err() != nil {
			break
		}
		if !includePort(&ports[i], opts) {
			continue
		}
		if device, ok := d.processPort(ctx, &ports[i], opts); ok {
			devices = append(devices, device)
		}
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

func enumeratePorts() ([]serialPort, error) {
	details, err := listPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	ports := make([]serialPort, 0, len(details))
	for _, p := range details {
		port := serialPort{
			Path:         p.Name,
			IsUSB:        p.IsUSB,
			Product:      p.Product,
			SerialNumber: p.SerialNumber,
		}
		if p.IsUSB && p.VID != "" && p.PID != "" {
			port.VIDPID = strings.ToUpper(p.VID + ":" + p.PID)
		}
		ports = append(ports, port)
	}
	return ports, nil
}

func includePort(port *serialPort, opts *detection.Options) bool {
	if port.VIDPID != "" && detection.IsBlocked(port.VIDPID, opts.Blocklist) {
		return false
	}
	return !detection.IsPathIgnored(port.Path, opts.IgnorePaths)
}

// processPort applies the mode: Passive keeps only likely programmers
// unprobed, Safe probes only likely programmers, Full probes every port.
// A port that is probed and fails is dropped.
func (*detector) processPort(ctx context.Context, port *serialPort,
	opts *detection.Options,
) (detection.DeviceInfo, bool) {
	likely := isLikelyProgrammer(port)
	confidence := detection.Low
	if likely {
		confidence = detection.Medium
	}

	shouldProbe := opts.Probe != nil && (opts.Mode == detection.Full || (opts.Mode == detection.Safe && likely))
	switch {
	case shouldProbe:
		if !detection.RunProbe(ctx, opts, port.Path) {
			return detection.DeviceInfo{}, false
		}
		confidence = detection.High
	case opts.Mode == detection.Passive && !likely:
		return detection.DeviceInfo{}, false
	}

	return createDeviceInfo(port, confidence), true
}

func createDeviceInfo(port *serialPort, confidence detection.Confidence) detection.DeviceInfo {
	device := detection.DeviceInfo{
		Transport:  "uart",
		Path:       port.Path,
		Name:       portName(port),
		Confidence: confidence,
		Metadata:   make(map[string]string),
	}
	if port.VIDPID != "" {
		device.Metadata["vidpid"] = port.VIDPID
	}
	if port.Product != "" {
		device.Metadata["product"] = port.Product
	}
	if port.SerialNumber != "" {
		device.Metadata["serial"] = port.SerialNumber
	}
	return device
}

func portName(port *serialPort) string {
	if name, ok := knownBridges[port.VIDPID]; ok {
		return name
	}
	if port.Product != "" {
		return port.Product
	}
	return port.Path
}

// isLikelyProgrammer checks the USB identity and product string.
func isLikelyProgrammer(port *serialPort) bool {
	if _, ok := knownBridges[port.VIDPID]; ok {
		return true
	}

	lowerProduct := strings.ToLower(port.Product)
	for _, keyword := range []string{"arduino", "eeprom", "programmer"} {
		if strings.Contains(lowerProduct, keyword) {
			return true
		}
	}
	return false
}
