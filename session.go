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

// Package eeprom dumps, programs and verifies a serial EEPROM through a
// microcontroller bridge speaking a line-based paged transfer protocol.
//
// A Session owns one Link. It checks the device with PING before the first
// transfer, then moves data one page per command. Any unexpected response
// aborts the session; nothing is retried.
//
//	err := eeprom.WithSession(ctx, uart.Dial, cfg, func(s *eeprom.Session) error {
//	    image, err := s.Read(ctx, eeprom.FullRange(cfg.Capacity))
//	    ...
//	})
package eeprom

import (
	"context"
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-eeprom/protocol"
)

// Dialer opens the link described by cfg.
type Dialer func(ctx context.Context, cfg Config) (Link, error)

// Option configures a Session.
type Option func(*Session)

// WithProgress reports progress after every page.
func WithProgress(fn ProgressFunc) Option {
	return func(s *Session) {
		s.progress = fn
	}
}

// Session drives the paged transfer protocol over a link. It is not safe for
// concurrent use: the protocol allows one command in flight.
type Session struct {
	link     Link
	trace    *TraceBuffer
	progress ProgressFunc
	aborted  error
	cfg      Config
	live     bool
	closed   bool
}

// NewSession wraps an open link. The session takes ownership of the link
// and closes it in Close.
func NewSession(link Link, cfg Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		link:  link,
		cfg:   cfg,
		trace: NewTraceBuffer(link.Port(), cfg.TraceDepth),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the session configuration.
func (s *Session) Config() Config {
	return s.cfg
}

// Close closes the link. It is safe to call more than once.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.link.Close(); err != nil {
		return NewLinkError("close", s.link.Port(), err)
	}
	return nil
}

// Ping sends PING and requires PONG. Read, Write and Verify ping once
// before their first page, so calling it directly is only needed to probe
// a device.
func (s *Session) Ping(ctx context.Context) error {
	if s.aborted != nil {
		return fmt.Errorf("%w: %w", ErrAborted, s.aborted)
	}

	cmd := protocol.PingCommand()
	resp, err := s.exchange(ctx, cmd, PhaseLiveness)
	if err != nil {
		if ctx.Err() != nil {
			return s.abort(ctx.Err())
		}
		var pe *ProtocolError
		if errors.As(err, &pe) && pe.Err != nil {
			err = pe.Err
		}
		return s.abort(&LivenessError{Err: err})
	}
	if resp.Kind != protocol.ResponsePong {
		return s.abort(&LivenessError{Response: resp.String()})
	}

	s.live = true
	Debugln("device on", s.link.Port(), "alive")
	return nil
}

// Read returns the bytes of r, read page by page. Any unexpected response
// aborts the read and no partial data is returned.
func (s *Session) Read(ctx context.Context, r Range) ([]byte, error) {
	if err := r.Validate(s.cfg.Capacity); err != nil {
		return nil, err
	}
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	return s.readRange(ctx, r, PhaseRead)
}

// Write programs data starting at start. The size check happens before
// anything is sent; an image that does not fit yields *SizeError.
func (s *Session) Write(ctx context.Context, start int, data []byte) error {
	if err := checkFit(start, len(data), s.cfg.Capacity); err != nil {
		return err
	}
	if err := s.begin(ctx); err != nil {
		return err
	}

	r := Range{Start: start, Length: len(data)}
	for _, page := range Pages(r, s.cfg.PageSize) {
		if err := ctx.Err(); err != nil {
			return s.abort(err)
		}
		off := page.Address - start
		if err := s.writePage(ctx, page, data[off:off+page.Length]); err != nil {
			return err
		}
		s.report(PhaseWriteData, page.End(), page.End()-start, r.Length)
	}
	Debugf("wrote %d bytes over %s", r.Length, r)
	return nil
}

// Verify reads back the range expected was written to and compares it page
// by page. Mismatches do not stop the scan; they are collected in the
// report. The error is non-nil only when the readback itself failed.
func (s *Session) Verify(ctx context.Context, start int, expected []byte) (*VerifyReport, error) {
	if err := checkFit(start, len(expected), s.cfg.Capacity); err != nil {
		return nil, err
	}
	if err := s.begin(ctx); err != nil {
		return nil, err
	}

	r := Range{Start: start, Length: len(expected)}
	actual, err := s.readRange(ctx, r, PhaseVerify)
	if err != nil {
		return nil, err
	}

	report := &VerifyReport{
		Range:      r,
		Pages:      len(Pages(r, s.cfg.PageSize)),
		Mismatches: ComparePages(r, s.cfg.PageSize, expected, actual),
	}
	for _, m := range report.Mismatches {
		Debugf("verify: %s", m.String())
	}
	return report, nil
}

// Trace returns the recent wire traffic of the session.
func (s *Session) Trace() []TraceEntry {
	return s.trace.Entries()
}

func (s *Session) begin(ctx context.Context) error {
	if s.aborted != nil {
		return fmt.Errorf("%w: %w", ErrAborted, s.aborted)
	}
	if s.live {
		return nil
	}
	return s.Ping(ctx)
}

func (s *Session) readRange(ctx context.Context, r Range, phase Phase) ([]byte, error) {
	buf := make([]byte, 0, r.Length)
	for _, page := range Pages(r, s.cfg.PageSize) {
		if err := ctx.Err(); err != nil {
			return nil, s.abort(err)
		}

		cmd := protocol.ReadCommand(page.Address, page.Length)
		resp, err := s.exchange(ctx, cmd, phase)
		if err != nil {
			return nil, s.abort(err)
		}
		data, err := resp.Payload(page.Length)
		if err != nil {
			return nil, s.abort(NewProtocolError(phase, cmd, &resp, err))
		}

		buf = append(buf, data...)
		s.report(phase, page.End(), len(buf), r.Length)
	}
	Debugf("read %d bytes over %s", r.Length, r)
	return buf, nil
}

func (s *Session) writePage(ctx context.Context, page Page, data []byte) error {
	cmd := protocol.WriteCommand(page.Address, page.Length)
	resp, err := s.exchange(ctx, cmd, PhaseWriteSetup)
	if err != nil {
		return s.abort(err)
	}
	if resp.Kind != protocol.ResponseOK {
		return s.abort(NewProtocolError(PhaseWriteSetup, cmd, &resp, protocol.ErrUnexpectedResponse))
	}

	if err := s.send(ctx, data, cmd, PhaseWriteData); err != nil {
		return s.abort(err)
	}
	resp, err = s.receive(ctx, cmd, PhaseWriteData)
	if err != nil {
		return s.abort(err)
	}
	if resp.Kind != protocol.ResponseDone {
		return s.abort(NewProtocolError(PhaseWriteData, cmd, &resp, protocol.ErrUnexpectedResponse))
	}
	return nil
}

// exchange sends one command line and decodes the single response line.
func (s *Session) exchange(ctx context.Context, cmd protocol.Command, phase Phase) (protocol.Response, error) {
	if err := s.send(ctx, cmd.Encode(), cmd, phase); err != nil {
		return protocol.Response{}, err
	}
	return s.receive(ctx, cmd, phase)
}

func (s *Session) send(ctx context.Context, data []byte, cmd protocol.Command, phase Phase) error {
	note := ""
	if phase == PhaseWriteData {
		note = fmt.Sprintf("%d raw bytes for 0x%04X", len(data), cmd.Address)
	}
	s.trace.RecordTX(data, note)

	if err := s.link.Send(ctx, data); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return NewProtocolError(phase, cmd, nil, err)
	}
	if phase != PhaseWriteData {
		Debugf("> %s", cmd)
	}
	return nil
}

func (s *Session) receive(ctx context.Context, cmd protocol.Command, phase Phase) (protocol.Response, error) {
	line, err := s.link.ReceiveLine(ctx, s.cfg.ResponseTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return protocol.Response{}, ctx.Err()
		}
		if errors.Is(err, ErrLinkTimeout) {
			s.trace.RecordTimeout(fmt.Sprintf("no response to %s within %v", cmd, s.cfg.ResponseTimeout))
		}
		return protocol.Response{}, NewProtocolError(phase, cmd, nil, err)
	}

	s.trace.RecordRX([]byte(line), "")
	resp, err := protocol.DecodeResponse(line)
	if err != nil {
		return protocol.Response{}, NewProtocolError(phase, cmd, nil, err)
	}
	Debugf("< %s", resp)
	return resp, nil
}

// abort marks the session unusable and attaches the wire trace.
// Context errors are returned as they are.
func (s *Session) abort(err error) error {
	s.aborted = err
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	Debugf("session aborted: %v", err)
	return s.trace.WrapError(err)
}

func (s *Session) report(phase Phase, addr, done, total int) {
	if s.progress == nil {
		return
	}
	s.progress(Progress{Phase: phase, Address: addr, Done: done, Total: total})
}

func checkFit(start, size, capacity int) error {
	if start < 0 {
		return fmt.Errorf("%w: negative start %d", ErrInvalidRange, start)
	}
	if start+size > capacity {
		return &SizeError{Size: size, Start: start, Capacity: capacity}
	}
	return nil
}

// WithSession dials a link, runs fn with a session over it and closes the
// link on every exit path. A close error is joined into the result.
func WithSession(ctx context.Context, dial Dialer, cfg Config, fn func(*Session) error, opts ...Option) (err error) {
	if err := cfg.Validate(); err != nil {
		return err
	}

	link, err := dial(ctx, cfg)
	if err != nil {
		var ce *ConnectionError
		if !errors.As(err, &ce) {
			err = NewConnectionError(cfg.Port, err)
		}
		return err
	}

	sess, err := NewSession(link, cfg, opts...)
	if err != nil {
		return errors.Join(err, link.Close())
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	return fn(sess)
}

// ReadImage dumps the whole chip.
func ReadImage(ctx context.Context, dial Dialer, cfg Config, opts ...Option) ([]byte, error) {
	var image []byte
	err := WithSession(ctx, dial, cfg, func(s *Session) error {
		var err error
		image, err = s.Read(ctx, FullRange(cfg.Capacity))
		return err
	}, opts...)
	if err != nil {
		return nil, err
	}
	return image, nil
}

// WriteImage programs image from address 0 and, when verify is set, reads
// it back. The size is checked before the link is dialled. With verify the
// returned report is non-nil and a mismatch yields *VerificationError.
func WriteImage(
	ctx context.Context, dial Dialer, cfg Config, image []byte, verify bool, opts ...Option,
) (*VerifyReport, error) {
	if err := checkFit(0, len(image), cfg.Capacity); err != nil {
		return nil, err
	}

	var report *VerifyReport
	err := WithSession(ctx, dial, cfg, func(s *Session) error {
		if err := s.Write(ctx, 0, image); err != nil {
			return err
		}
		if !verify {
			return nil
		}
		var err error
		report, err = s.Verify(ctx, 0, image)
		if err != nil {
			return err
		}
		return report.Err()
	}, opts...)
	return report, err
}

// VerifyImage compares the chip against image from address 0 without writing.
func VerifyImage(ctx context.Context, dial Dialer, cfg Config, image []byte, opts ...Option) (*VerifyReport, error) {
	if err := checkFit(0, len(image), cfg.Capacity); err != nil {
		return nil, err
	}

	var report *VerifyReport
	err := WithSession(ctx, dial, cfg, func(s *Session) error {
		var err error
		report, err = s.Verify(ctx, 0, image)
		if err != nil {
			return err
		}
		return report.Err()
	}, opts...)
	return report, err
}
