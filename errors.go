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
	"io"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"
	"unicode"

	"github.com/ZaparooProject/go-eeprom/internal/frame"
	"github.com/ZaparooProject/go-eeprom/protocol"
)

// Error categories. Every typed error below matches one of these through errors.Is.
var (
	// Session errors - fatal, the session aborts where they are detected
	ErrConnection   = errors.New("connection failed")
	ErrLiveness     = errors.New("device not responding")
	ErrProtocol     = errors.New("protocol error")
	ErrSize         = errors.New("image exceeds capacity")
	ErrVerification = errors.New("verification failed")
	ErrAborted      = errors.New("session aborted")

	// Link errors
	ErrLinkTimeout = frame.ErrTimeout
	ErrLinkClosed  = frame.ErrClosed
	ErrLinkWrite   = errors.New("link write failed")
	ErrLinkRead    = errors.New("link read failed")
	ErrPortBusy    = errors.New("port busy")

	// Argument errors
	ErrInvalidRange  = errors.New("invalid range")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Phase names the step of a transfer in which an error occurred.
type Phase string

// Transfer phases
const (
	PhaseLiveness   Phase = "liveness"
	PhaseRead       Phase = "read"
	PhaseWriteSetup Phase = "write-setup"
	PhaseWriteData  Phase = "write-data"
	PhaseVerify     Phase = "verify"
)

// LinkError wraps a failure of the underlying byte channel.
type LinkError struct {
	Err  error  // Underlying error
	Op   string // Operation that failed
	Port string // Port or device identifier
}

func (e *LinkError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

// NewLinkError creates a link error with consistent formatting.
func NewLinkError(op, port string, err error) *LinkError {
	return &LinkError{Op: op, Port: port, Err: err}
}

// ConnectionError reports that the link could not be opened. No session was started.
type ConnectionError struct {
	Err       error
	Port      string
	Retryable bool
}

func (e *ConnectionError) Error() string {
	if e.Port == "" {
		return fmt.Sprintf("connection failed: %v", e.Err)
	}
	return fmt.Sprintf("connection to %s failed: %v", e.Port, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Is matches ErrConnection.
func (*ConnectionError) Is(target error) bool {
	return target == ErrConnection
}

// NewConnectionError creates a connection error. Port-busy errors are retryable.
func NewConnectionError(port string, err error) *ConnectionError {
	return &ConnectionError{
		Port:      port,
		Err:       err,
		Retryable: errors.Is(err, ErrPortBusy),
	}
}

// LivenessError reports that the device did not answer PING with PONG.
// Response is the line received, empty on timeout.
type LivenessError struct {
	Err      error
	Response string
}

func (e *LivenessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("device not responding to PING: %v", e.Err)
	}
	return fmt.Sprintf("device not responding to PING: got %q", e.Response)
}

func (e *LivenessError) Unwrap() error {
	return e.Err
}

// Is matches ErrLiveness.
func (*LivenessError) Is(target error) bool {
	return target == ErrLiveness
}

// ProtocolError reports an unexpected response, a malformed payload or a
// timeout while transferring the page at Address.
type ProtocolError struct {
	Err      error
	Phase    Phase
	Command  string
	Response string
	Address  int
}

func (e *ProtocolError) Error() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "%s failed at 0x%04X", e.Phase, e.Address)
	if e.Command != "" {
		_, _ = fmt.Fprintf(&sb, " (%s)", e.Command)
	}
	if e.Response != "" {
		_, _ = fmt.Fprintf(&sb, ": got %s", e.Response)
	}
	if e.Err != nil {
		_, _ = fmt.Fprintf(&sb, ": %v", e.Err)
	}
	return sb.String()
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Is matches ErrProtocol.
func (*ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

// NewProtocolError creates a protocol error for cmd. resp may be nil when
// nothing was decoded.
func NewProtocolError(phase Phase, cmd protocol.Command, resp *protocol.Response, err error) *ProtocolError {
	pe := &ProtocolError{
		Phase:   phase,
		Address: cmd.Address,
		Command: cmd.String(),
		Err:     err,
	}
	if resp != nil {
		pe.Response = resp.String()
	}
	return pe
}

// SizeError reports an image that does not fit. It is returned before any byte is sent.
type SizeError struct {
	Size     int
	Start    int
	Capacity int
}

func (e *SizeError) Error() string {
	if e.Start == 0 {
		return fmt.Sprintf("image of %d bytes exceeds capacity of %d bytes", e.Size, e.Capacity)
	}
	return fmt.Sprintf("image of %d bytes at 0x%04X exceeds capacity of %d bytes", e.Size, e.Start, e.Capacity)
}

// Is matches ErrSize.
func (*SizeError) Is(target error) bool {
	return target == ErrSize
}

// VerificationError aggregates the mismatched pages found by Verify.
type VerificationError struct {
	Mismatches []Mismatch
	Pages      int
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification failed: %d of %d pages differ", len(e.Mismatches), e.Pages)
}

// Is matches ErrVerification.
func (*VerificationError) Is(target error) bool {
	return target == ErrVerification
}

// IsRetryable reports whether opening the link may succeed on another attempt.
// Errors inside a session are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var ce *ConnectionError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return errors.Is(err, ErrPortBusy)
}

// IsDeviceGone reports whether err means the adapter disappeared, for
// example a USB serial cable unplugged mid-transfer.
func IsDeviceGone(err error) bool {
	if err == nil {
		return false
	}
	if isDeviceGoneError(err) {
		return true
	}
	switch {
	case errors.Is(err, ErrLinkClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe):
		return true
	default:
		return false
	}
}

// Windows error codes for device disconnection detection.
// These are defined here because they're not available on non-Windows platforms.
const (
	errAccessDenied syscall.Errno = 5   // ERROR_ACCESS_DENIED
	errGenFailure   syscall.Errno = 31  // ERROR_GEN_FAILURE
	errNoSuchDevice syscall.Errno = 433 // ERROR_NO_SUCH_DEVICE
)

func isDeviceGoneError(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}

	//nolint:exhaustive // Only checking specific device-gone errors, not all errno values
	switch errno {
	case syscall.EIO, syscall.ENXIO, syscall.ENODEV:
		return true
	}

	if runtime.GOOS == "windows" {
		//nolint:exhaustive // Only checking specific device-gone errors, not all errno values
		switch errno {
		case errAccessDenied, errGenFailure, errNoSuchDevice:
			return true
		}
	}
	return false
}

// =============================================================================
// Wire Trace Logging
// =============================================================================
// TraceableError embeds the recent wire traffic in errors, allowing callers
// to print what was exchanged before a session aborted.

// TraceDirection indicates the direction of wire data
type TraceDirection string

const (
	// TraceTX indicates data sent to the device
	TraceTX TraceDirection = "TX"
	// TraceRX indicates data received from the device
	TraceRX TraceDirection = "RX"
)

// TraceEntry represents a single wire-level operation
type TraceEntry struct {
	Timestamp time.Time
	Direction TraceDirection
	Note      string
	Data      []byte
}

// String formats a trace entry for display
func (e TraceEntry) String() string {
	if e.Note != "" {
		return fmt.Sprintf("[%s] %s: %s (%s)", e.Timestamp.Format("15:04:05.000"), e.Direction, formatWire(e.Data), e.Note)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Timestamp.Format("15:04:05.000"), e.Direction, formatWire(e.Data))
}

// TraceableError wraps an error with wire-level trace data for debugging.
// Callers can use errors.As() to extract trace information:
//
//	var te *eeprom.TraceableError
//	if errors.As(err, &te) {
//	    log.Printf("Wire trace:\n%s", te.FormatTrace())
//	}
type TraceableError struct {
	Err   error
	Port  string
	Trace []TraceEntry
}

// Error implements the error interface
func (e *TraceableError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/As compatibility
func (e *TraceableError) Unwrap() error {
	return e.Err
}

// FormatTrace returns a human-readable formatted trace log
func (e *TraceableError) FormatTrace() string {
	if len(e.Trace) == 0 {
		return fmt.Sprintf("[%s] (no trace data)", e.Port)
	}

	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "[%s] Wire trace (%d entries):\n", e.Port, len(e.Trace))
	for _, entry := range e.Trace {
		direction := ">"
		if entry.Direction == TraceRX {
			direction = "<"
		}
		if entry.Note != "" {
			_, _ = fmt.Fprintf(&sb, "  %s %s (%s)\n", direction, formatWire(entry.Data), entry.Note)
		} else {
			_, _ = fmt.Fprintf(&sb, "  %s %s\n", direction, formatWire(entry.Data))
		}
	}
	return sb.String()
}

// formatWire shows protocol lines as quoted text and raw page bytes as hex
func formatWire(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}
	if isPrintableLine(data) {
		text := strings.TrimRight(string(data), "\r\n")
		if len(text) > 72 {
			return strconv.Quote(text[:72]) + fmt.Sprintf(" ... (%d chars total)", len(text))
		}
		return strconv.Quote(text)
	}
	if len(data) > 32 {
		return formatHexBytes(data[:32]) + fmt.Sprintf(" ... (%d bytes total)", len(data))
	}
	return formatHexBytes(data)
}

func isPrintableLine(data []byte) bool {
	for _, b := range data {
		if b == '\r' || b == '\n' {
			continue
		}
		if b > unicode.MaxASCII || !unicode.IsPrint(rune(b)) {
			return false
		}
	}
	return true
}

// formatHexBytes formats a byte slice as space-separated hex values
func formatHexBytes(data []byte) string {
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, " ")
}

// TraceBuffer collects trace entries during a session.
// It uses a fixed-size circular buffer to limit memory usage.
type TraceBuffer struct {
	port    string
	entries []TraceEntry
	maxSize int
}

// NewTraceBuffer creates a new trace buffer with the specified capacity
func NewTraceBuffer(port string, maxSize int) *TraceBuffer {
	if maxSize <= 0 {
		maxSize = DefaultTraceDepth
	}
	return &TraceBuffer{
		entries: make([]TraceEntry, 0, maxSize),
		maxSize: maxSize,
		port:    port,
	}
}

// RecordTX records a transmission to the device
func (tb *TraceBuffer) RecordTX(data []byte, note string) {
	tb.record(TraceTX, data, note)
}

// RecordRX records data received from the device
func (tb *TraceBuffer) RecordRX(data []byte, note string) {
	tb.record(TraceRX, data, note)
}

// RecordTimeout records a timeout event
func (tb *TraceBuffer) RecordTimeout(note string) {
	tb.record(TraceRX, nil, "TIMEOUT: "+note)
}

// record adds an entry to the buffer, evicting oldest if full
func (tb *TraceBuffer) record(dir TraceDirection, data []byte, note string) {
	entry := TraceEntry{
		Direction: dir,
		Data:      append([]byte(nil), data...),
		Timestamp: time.Now(),
		Note:      note,
	}

	if len(tb.entries) >= tb.maxSize {
		copy(tb.entries, tb.entries[1:])
		tb.entries[len(tb.entries)-1] = entry
	} else {
		tb.entries = append(tb.entries, entry)
	}
}

// Entries returns a copy of the recorded entries, oldest first.
func (tb *TraceBuffer) Entries() []TraceEntry {
	return append([]TraceEntry(nil), tb.entries...)
}

// WrapError wraps an error with the collected trace data.
// Returns nil if err is nil.
func (tb *TraceBuffer) WrapError(err error) error {
	if err == nil {
		return nil
	}
	return &TraceableError{
		Err:   err,
		Trace: tb.Entries(),
		Port:  tb.port,
	}
}

// Clear resets the trace buffer
func (tb *TraceBuffer) Clear() {
	tb.entries = tb.entries[:0]
}

// HasTrace checks if an error contains trace data
func HasTrace(err error) bool {
	var te *TraceableError
	return errors.As(err, &te)
}

// GetTrace extracts trace data from an error, returning nil if not present
func GetTrace(err error) *TraceableError {
	var te *TraceableError
	if errors.As(err, &te) {
		return te
	}
	return nil
}
