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

// Command eeprom-bridge serves the programmer line protocol on a serial
// port, so a Linux board with a chip on its I2C or SPI bus can stand in for
// the microcontroller.
//
//	eeprom-bridge -serial /dev/ttyGS0 -chip i2c -bus /dev/i2c-1:0x50
//	eeprom-bridge -serial /dev/ttyGS0 -chip spi -bus /dev/spidev0.0
//	eeprom-bridge -serial /dev/ttyGS0 -chip mem
//	eeprom-bridge -scan
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	eeprom "github.com/ZaparooProject/go-eeprom"
	i2cchip "github.com/ZaparooProject/go-eeprom/backend/i2c"
	spichip "github.com/ZaparooProject/go-eeprom/backend/spi"
	"github.com/ZaparooProject/go-eeprom/bridge"
	"github.com/ZaparooProject/go-eeprom/detection"
	"github.com/ZaparooProject/go-eeprom/protocol"
	_ "github.com/ZaparooProject/go-eeprom/detection/i2c"
	"go.bug.st/serial"
)

const (
	exitOK    = 0
	exitFail  = 1
	exitUsage = 2
)

// Swapped in tests.
var (
	openSerial    = serial.Open
	openI2C       = func(path string, cfg i2cchip.Config) (memory, error) { return i2cchip.Open(path, cfg) }
	openSPI       = func(path string, cfg spichip.Config) (memory, error) { return spichip.Open(path, cfg) }
	detectDevices = detection.DetectAll
)

var errUsage = errors.New("usage error")

// memory is a chip the bridge owns and must release.
type memory interface {
	bridge.Memory
	io.Closer
}

type bufferMemory struct {
	*bridge.Buffer
}

func (bufferMemory) Close() error { return nil }

type options struct {
	serialPort string
	chip       string
	bus        string
	load       string
	baud       int
	capacity   int
	pageSize   int
	debug      bool
	scan       bool
}

func main() {
	os.Exit(mainWithExitCode(os.Args[1:], os.Stdout, os.Stderr))
}

func mainWithExitCode(args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	if opts.debug {
		eeprom.SetDebugOutput(stderr)
		eeprom.SetDebugEnabled(true)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			_, _ = fmt.Fprint(stderr, "\nShutting down gracefully...\n")
			cancel()
		case <-ctx.Done():
		}
	}()

	if opts.scan {
		err = runScan(ctx, stdout)
	} else {
		err = run(ctx, opts, stderr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFail
	}
	return exitOK
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("eeprom-bridge", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.serialPort, "serial", "", "serial port to serve the protocol on")
	fs.IntVar(&opts.baud, "baud", eeprom.DefaultBaudRate, "serial baud rate")
	fs.StringVar(&opts.chip, "chip", "i2c", "chip backend: i2c, spi or mem")
	fs.StringVar(&opts.bus, "bus", "", "I2C bus[:addr] or SPI port (I2C auto-detects if empty)")
	fs.StringVar(&opts.load, "load", "", "preload the mem backend from an image file")
	fs.IntVar(&opts.capacity, "capacity", eeprom.DefaultCapacity, "chip capacity in bytes")
	fs.IntVar(&opts.pageSize, "page-size", eeprom.DefaultPageSize, "chip page size in bytes")
	fs.BoolVar(&opts.debug, "debug", false, "log every command")
	fs.BoolVar(&opts.scan, "scan", false, "list EEPROM chips on the I2C buses and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err //nolint:wrapcheck // flag already printed the problem
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("%w: unexpected argument %q", errUsage, fs.Arg(0))
	}
	if opts.scan {
		return opts, nil
	}
	if opts.serialPort == "" {
		return nil, fmt.Errorf("%w: -serial is required", errUsage)
	}
	switch opts.chip {
	case "i2c", "spi", "mem":
	default:
		return nil, fmt.Errorf("%w: unknown chip backend %q", errUsage, opts.chip)
	}
	if opts.chip == "spi" && opts.bus == "" {
		return nil, fmt.Errorf("%w: -chip spi requires -bus", errUsage)
	}
	if opts.load != "" && opts.chip != "mem" {
		return nil, fmt.Errorf("%w: -load only applies to -chip mem", errUsage)
	}
	if opts.pageSize < 1 || opts.capacity < opts.pageSize {
		return nil, fmt.Errorf("%w: invalid geometry %d/%d", errUsage, opts.capacity, opts.pageSize)
	}
	return opts, nil
}

func run(ctx context.Context, opts *options, stderr io.Writer) error {
	mem, err := openMemory(ctx, opts)
	if err != nil {
		return err
	}
	defer func() { _ = mem.Close() }()

	port, err := openSerial(opts.serialPort, &serial.Mode{
		BaudRate: opts.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return eeprom.NewConnectionError(opts.serialPort, err)
	}
	defer func() { _ = port.Close() }()

	if err := port.SetReadTimeout(50 * time.Millisecond); err != nil {
		return fmt.Errorf("set read timeout: %w", err)
	}

	dev := bridge.NewDevice(mem, opts.pageSize)
	if opts.debug {
		dev.SetInterceptor(logCommand)
	}

	_, _ = fmt.Fprintf(stderr, "Serving %d-byte %s chip on %s at %d baud\n",
		mem.Size(), opts.chip, opts.serialPort, opts.baud)
	return bridge.Serve(ctx, port, dev) //nolint:wrapcheck // already descriptive
}

func openMemory(ctx context.Context, opts *options) (memory, error) {
	switch opts.chip {
	case "mem":
		buf := bridge.NewBuffer(opts.capacity)
		if opts.load != "" {
			image, err := os.ReadFile(opts.load)
			if err != nil {
				return nil, fmt.Errorf("read image: %w", err)
			}
			if err := buf.Load(image); err != nil {
				return nil, fmt.Errorf("load image: %w", err)
			}
		}
		return bufferMemory{buf}, nil

	case "spi":
		cfg := spichip.DefaultConfig()
		cfg.Size, cfg.PageSize = opts.capacity, opts.pageSize
		return openSPI(opts.bus, cfg)

	default:
		path := opts.bus
		if path == "" {
			found, err := findI2CChip(ctx)
			if err != nil {
				return nil, err
			}
			path = found
		}
		cfg := i2cchip.DefaultConfig()
		cfg.Size, cfg.PageSize = opts.capacity, opts.pageSize
		return openI2C(path, cfg)
	}
}

func findI2CChip(ctx context.Context) (string, error) {
	devices, err := scanI2C(ctx)
	if err != nil {
		return "", fmt.Errorf("no -bus given and I2C scan failed: %w", err)
	}
	eeprom.Debugf("using %s", devices[0].Path)
	return devices[0].Path, nil
}

func scanI2C(ctx context.Context) ([]detection.DeviceInfo, error) {
	opts := detection.DefaultOptions()
	opts.Transports = []string{"i2c"}
	opts.EnableCache = false
	return detectDevices(ctx, &opts)
}

func runScan(ctx context.Context, stdout io.Writer) error {
	devices, err := scanI2C(ctx)
	if errors.Is(err, detection.ErrNoDevicesFound) {
		_, _ = fmt.Fprintln(stdout, "No EEPROM chips found")
		return nil
	}
	if err != nil {
		return err
	}
	for _, d := range devices {
		_, _ = fmt.Fprintf(stdout, "%s  %s\n", d.Path, d.Name)
	}
	return nil
}

func logCommand(cmd protocol.Command, resp protocol.Response) (protocol.Response, bool) {
	eeprom.Debugf("%s -> %s", cmd, resp)
	return resp, true
}
