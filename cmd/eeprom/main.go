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

// Command eeprom reads, writes and verifies EEPROM images through a
// serial programmer.
//
//	eeprom read   -o FILE  [-p PORT]
//	eeprom write  -i FILE  [-p PORT] [-verify=false]
//	eeprom verify -i FILE  [-p PORT]
//	eeprom ports  [-probe]
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

	eeprom "github.com/ZaparooProject/go-eeprom"
	"github.com/ZaparooProject/go-eeprom/detection"
	_ "github.com/ZaparooProject/go-eeprom/detection/uart"
	"github.com/ZaparooProject/go-eeprom/transport/uart"
)

const (
	exitOK    = 0
	exitFail  = 1
	exitUsage = 2
)

// Swapped in tests.
var (
	dialLink      eeprom.Dialer = uart.Dial
	detectDevices               = detection.DetectAll
	retryConfig                 = eeprom.DefaultRetryConfig
)

var errUsage = errors.New("usage error")

const usageText = `usage: eeprom <command> [flags]

commands:
  read    -o FILE   dump the whole chip to FILE
  write   -i FILE   program FILE from address 0, then verify
  verify  -i FILE   compare the chip against FILE
  ports             list candidate serial ports

Run "eeprom <command> -h" for the flags of a command.
`

type cli struct {
	stdout     io.Writer
	stderr     io.Writer
	file       string
	configPath string
	settings   settings
	lastPhase  eeprom.Phase
	debug      bool
	logSession bool
	probePorts bool
}

func main() {
	os.Exit(mainWithExitCode(os.Args[1:], os.Stdout, os.Stderr))
}

func mainWithExitCode(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usageText)
		return exitUsage
	}

	c := &cli{stdout: stdout, stderr: stderr, settings: defaultSettings()}
	command := args[0]
	if err := c.parseFlags(command, args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		if errors.Is(err, errUsage) {
			_, _ = fmt.Fprint(stderr, usageText)
		}
		return exitUsage
	}

	if c.debug {
		eeprom.SetDebugEnabled(true)
	}
	if c.logSession {
		path, err := eeprom.InitSessionLog()
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitFail
		}
		_, _ = fmt.Fprintf(stderr, "Session log: %s\n", path)
		defer func() { _ = eeprom.CloseSessionLog() }()
	}

	// Setup signal handling so an interrupted transfer closes the port
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := c.run(ctx, command); err != nil {
		c.report(err)
		return exitFail
	}
	return exitOK
}

// parseFlags builds the settings of command: defaults, then the config
// file, then the flags given on the command line.
func (c *cli) parseFlags(command string, args []string) error {
	fs := flag.NewFlagSet("eeprom "+command, flag.ContinueOnError)
	fs.SetOutput(c.stderr)

	var (
		port   string
		baud   int
		verify bool
	)
	fs.StringVar(&port, "p", "", "serial port (auto-detect if empty)")
	fs.StringVar(&port, "port", "", "serial port (auto-detect if empty)")
	fs.IntVar(&baud, "baud", eeprom.DefaultBaudRate, "serial baud rate")
	fs.StringVar(&c.configPath, "config", "", "TOML config file")
	fs.BoolVar(&c.debug, "debug", false, "enable debug output and print wire traces on failure")
	fs.BoolVar(&c.logSession, "log", false, "write a session log file in the current directory")

	switch command {
	case "read":
		fs.StringVar(&c.file, "o", "", "output image file")
	case "write":
		fs.StringVar(&c.file, "i", "", "input image file")
		fs.BoolVar(&verify, "verify", true, "read back and compare after writing")
	case "verify":
		fs.StringVar(&c.file, "i", "", "input image file")
	case "ports":
		fs.BoolVar(&c.probePorts, "probe", false, "ping likely ports to confirm a programmer")
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}

	if err := fs.Parse(args); err != nil {
		return err //nolint:wrapcheck // flag already printed the problem
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w: unexpected argument %q", errUsage, fs.Arg(0))
	}

	if c.configPath != "" {
		if err := loadFileConfig(c.configPath, &c.settings); err != nil {
			return err
		}
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "p", "port":
			c.settings.cfg.Port = port
		case "baud":
			c.settings.cfg.BaudRate = baud
		case "verify":
			c.settings.verify = verify
		}
	})

	if command != "ports" && c.file == "" {
		flagName := "-i"
		if command == "read" {
			flagName = "-o"
		}
		return fmt.Errorf("%w: %s requires %s FILE", errUsage, command, flagName)
	}
	return c.settings.cfg.Validate() //nolint:wrapcheck // already descriptive
}

func (c *cli) run(ctx context.Context, command string) error {
	if command == "ports" {
		return c.runPorts(ctx)
	}

	if c.settings.cfg.Port == "" {
		port, err := c.autoDetectPort(ctx)
		if err != nil {
			return err
		}
		c.settings.cfg.Port = port
	}

	opts := []eeprom.Option{eeprom.WithProgress(c.progress)}
	switch command {
	case "read":
		return c.runRead(ctx, opts)
	case "write":
		return c.runWrite(ctx, opts)
	default:
		return c.runVerify(ctx, opts)
	}
}

func (c *cli) runRead(ctx context.Context, opts []eeprom.Option) error {
	image, err := eeprom.ReadImage(ctx, dial, c.settings.cfg, opts...)
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.file, image, 0o600); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	_, _ = fmt.Fprintf(c.stdout, "Read %d bytes from %s into %s\n", len(image), c.settings.cfg.Port, c.file)
	return nil
}

func (c *cli) runWrite(ctx context.Context, opts []eeprom.Option) error {
	image, err := os.ReadFile(c.file)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	report, err := eeprom.WriteImage(ctx, dial, c.settings.cfg, image, c.settings.verify, opts...)
	c.printMismatches(report)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(c.stdout, "Wrote %d bytes to %s\n", len(image), c.settings.cfg.Port)
	if report != nil {
		_, _ = fmt.Fprintln(c.stdout, report.String())
	}
	return nil
}

func (c *cli) runVerify(ctx context.Context, opts []eeprom.Option) error {
	image, err := os.ReadFile(c.file)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	report, err := eeprom.VerifyImage(ctx, dial, c.settings.cfg, image, opts...)
	c.printMismatches(report)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.stdout, report.String())
	return nil
}

func (c *cli) runPorts(ctx context.Context) error {
	opts := c.detectionOptions()
	if !c.probePorts {
		opts.Probe = nil
	}

	devices, err := detectDevices(ctx, &opts)
	if errors.Is(err, detection.ErrNoDevicesFound) {
		_, _ = fmt.Fprintln(c.stdout, "No serial ports found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("port detection failed: %w", err)
	}

	for _, d := range devices {
		_, _ = fmt.Fprintf(c.stdout, "%s  %s\n", d.String(), d.Name)
	}
	return nil
}

// autoDetectPort picks the first port that answers PING.
func (c *cli) autoDetectPort(ctx context.Context) (string, error) {
	opts := c.detectionOptions()
	devices, err := detectDevices(ctx, &opts)
	if err != nil {
		return "", fmt.Errorf("no port given and auto-detection failed: %w", err)
	}
	for _, d := range devices {
		if d.Confidence == detection.High {
			_, _ = fmt.Fprintf(c.stderr, "Using %s (%s)\n", d.Path, d.Name)
			return d.Path, nil
		}
	}
	return "", fmt.Errorf("no port given and no programmer answered on %d candidate ports: %w",
		len(devices), detection.ErrNoDevicesFound)
}

func (c *cli) detectionOptions() detection.Options {
	opts := detection.DefaultOptions()
	opts.Transports = []string{"uart"}
	opts.EnableCache = false
	opts.IgnorePaths = c.settings.ignorePaths
	opts.Probe = c.pingPort
	return opts
}

// pingPort opens path once, without retries, and runs the liveness check.
func (c *cli) pingPort(ctx context.Context, path string) error {
	cfg := c.settings.cfg
	cfg.Port = path
	return eeprom.WithSession(ctx, dialLink, cfg, func(s *eeprom.Session) error {
		return s.Ping(ctx)
	})
}

func dial(ctx context.Context, cfg eeprom.Config) (eeprom.Link, error) {
	return eeprom.DialWithRetry(ctx, dialLink, cfg, retryConfig())
}

func (c *cli) progress(p eeprom.Progress) {
	if p.Phase != c.lastPhase {
		c.lastPhase = p.Phase
		_, _ = fmt.Fprintf(c.stderr, "%s:\n", phaseTitle(p.Phase))
	}
	_, _ = fmt.Fprintf(c.stderr, "\r  0x%04X / 0x%04X (%d%%)", p.Address, p.Total, p.Percent())
	if p.Done >= p.Total {
		_, _ = fmt.Fprintln(c.stderr)
	}
}

func phaseTitle(phase eeprom.Phase) string {
	switch phase {
	case eeprom.PhaseRead:
		return "Reading"
	case eeprom.PhaseWriteData, eeprom.PhaseWriteSetup:
		return "Writing"
	case eeprom.PhaseVerify:
		return "Verifying"
	default:
		return string(phase)
	}
}

func (c *cli) printMismatches(report *eeprom.VerifyReport) {
	if report == nil || report.OK() {
		return
	}
	_, _ = fmt.Fprint(c.stderr, report.String())
}

func (c *cli) report(err error) {
	if errors.Is(err, context.Canceled) {
		_, _ = fmt.Fprintln(c.stderr, "\nInterrupted: transfer incomplete")
		return
	}
	_, _ = fmt.Fprintf(c.stderr, "\nError: %v\n", err)
	if eeprom.IsDeviceGone(err) {
		_, _ = fmt.Fprintln(c.stderr, "The programmer disconnected; check the USB cable and run the command again.")
	}
	if c.debug {
		if te := eeprom.GetTrace(err); te != nil {
			_, _ = fmt.Fprintln(c.stderr, te.FormatTrace())
		}
	}
}
