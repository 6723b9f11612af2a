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
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testutil "github.com/ZaparooProject/go-eeprom/internal/testing"
	"github.com/ZaparooProject/go-eeprom/protocol"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ResponseTimeout = 200 * time.Millisecond
	cfg.SettleDelay = 0
	return cfg
}

func newSimSession(t *testing.T, opts ...Option) (*Session, *testutil.VirtualEEPROM, *testutil.SimulatorLink) {
	t.Helper()
	sim := testutil.NewVirtualEEPROM(DefaultCapacity, DefaultPageSize)
	link := testutil.NewSimulatorLink(sim)
	sess, err := NewSession(link, testConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	return sess, sim, link
}

func patternImage(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + 3)
	}
	return data
}

func simDialer(link *testutil.SimulatorLink) Dialer {
	return func(_ context.Context, _ Config) (Link, error) {
		return link, nil
	}
}

func TestSession_FullReadIssues256Reads(t *testing.T) {
	t.Parallel()
	sess, sim, _ := newSimSession(t)

	image := patternImage(DefaultCapacity)
	require.NoError(t, sim.Load(image))

	got, err := sess.Read(context.Background(), FullRange(DefaultCapacity))
	require.NoError(t, err)
	assert.Equal(t, image, got)

	assert.Equal(t, 1, sim.CommandCount(protocol.CommandPing))
	assert.Equal(t, 256, sim.CommandCount(protocol.CommandRead))
	for _, entry := range sim.Commands() {
		if entry.Command.Kind == protocol.CommandRead {
			assert.Equal(t, 32, entry.Command.Length)
		}
	}
}

func TestSession_WriteChunksLastPageShort(t *testing.T) {
	t.Parallel()
	sess, sim, _ := newSimSession(t)

	data := patternImage(100)
	require.NoError(t, sess.Write(context.Background(), 0, data))

	assert.Equal(t, []int{32, 32, 32, 4}, sim.WriteLengths())
	assert.Equal(t, data, sim.Contents()[:100])
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, 28), sim.Contents()[100:128])
}

func TestSession_ReadWriteSymmetry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		start int
		size  int
	}{
		{name: "one byte", start: 0, size: 1},
		{name: "exact page", start: 64, size: 32},
		{name: "unaligned start", start: 5, size: 70},
		{name: "tail of chip", start: DefaultCapacity - 33, size: 33},
		{name: "whole chip", start: 0, size: DefaultCapacity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sess, _, _ := newSimSession(t)
			ctx := context.Background()

			data := patternImage(tt.size)
			require.NoError(t, sess.Write(ctx, tt.start, data))

			got, err := sess.Read(ctx, Range{Start: tt.start, Length: tt.size})
			require.NoError(t, err)
			assert.Equal(t, data, got)
		})
	}
}

func TestSession_ReadIsIdempotent(t *testing.T) {
	t.Parallel()
	sess, sim, _ := newSimSession(t)
	require.NoError(t, sim.Load(patternImage(512)))

	ctx := context.Background()
	r := Range{Start: 0, Length: 512}
	first, err := sess.Read(ctx, r)
	require.NoError(t, err)
	second, err := sess.Read(ctx, r)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, sim.CommandCount(protocol.CommandPing), "liveness is checked once per session")
	assert.Equal(t, 0, sim.CommandCount(protocol.CommandWrite))
}

func TestSession_ShortDataIsProtocolError(t *testing.T) {
	t.Parallel()
	sess, sim, _ := newSimSession(t)
	sim.InjectFault(testutil.FaultConfig{Kind: testutil.FaultShortData, Address: 64})

	got, err := sess.Read(context.Background(), Range{Start: 0, Length: 256})
	require.Error(t, err)
	assert.Nil(t, got, "no partial result")

	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, PhaseRead, pe.Phase)
	assert.Equal(t, 64, pe.Address)
	require.ErrorIs(t, err, ErrProtocol)
	require.ErrorIs(t, err, protocol.ErrLengthMismatch)

	// The session stopped at the failing page
	assert.Equal(t, 3, sim.CommandCount(protocol.CommandRead))
	assert.True(t, HasTrace(err))
}

func TestSession_VerifyFindsTwoMismatches(t *testing.T) {
	t.Parallel()
	sess, sim, _ := newSimSession(t)
	ctx := context.Background()

	sim.StickCell(40, 0x00)
	sim.StickCell(1000, 0x00)

	data := bytes.Repeat([]byte{0xA5}, 2048)
	require.NoError(t, sess.Write(ctx, 0, data))

	report, err := sess.Verify(ctx, 0, data)
	require.NoError(t, err)
	assert.False(t, report.OK())
	assert.Equal(t, 64, report.Pages)
	require.Len(t, report.Mismatches, 2)
	assert.Equal(t, 32, report.Mismatches[0].Address)
	assert.Equal(t, 992, report.Mismatches[1].Address)
	assert.Equal(t, []int{8}, report.Mismatches[0].Offsets())

	// Every page was read back despite the mismatches
	assert.Equal(t, 64, sim.CommandCount(protocol.CommandRead))

	var ve *VerificationError
	require.ErrorAs(t, report.Err(), &ve)
	assert.Len(t, ve.Mismatches, 2)
	require.ErrorIs(t, report.Err(), ErrVerification)
}

func TestSession_VerifyReadFailureIsFatal(t *testing.T) {
	t.Parallel()
	sess, sim, _ := newSimSession(t)
	ctx := context.Background()

	data := patternImage(256)
	require.NoError(t, sess.Write(ctx, 0, data))
	sim.InjectFault(testutil.FaultConfig{Kind: testutil.FaultShortData, Address: 96})

	report, err := sess.Verify(ctx, 0, data)
	require.Error(t, err)
	assert.Nil(t, report)
	require.ErrorIs(t, err, ErrProtocol)

	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, PhaseVerify, pe.Phase)
	assert.Equal(t, 96, pe.Address)

	// No page after the failing one was requested
	var lastRead protocol.Command
	for _, entry := range sim.Commands() {
		if entry.Command.Kind == protocol.CommandRead {
			lastRead = entry.Command
		}
	}
	assert.Equal(t, 96, lastRead.Address)
	assert.Equal(t, 4, sim.CommandCount(protocol.CommandRead))
}

func TestSession_LargestPage(t *testing.T) {
	t.Parallel()
	sim := testutil.NewVirtualEEPROM(2*MaxPageSize, MaxPageSize)
	cfg := testConfig()
	cfg.PageSize, cfg.Capacity = MaxPageSize, 2*MaxPageSize
	sess, err := NewSession(testutil.NewSimulatorLink(sim), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })

	ctx := context.Background()
	data := patternImage(2 * MaxPageSize)
	require.NoError(t, sess.Write(ctx, 0, data))
	got, err := sess.Read(ctx, FullRange(2*MaxPageSize))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestSession_OversizeWriteSendsNothing(t *testing.T) {
	t.Parallel()
	sess, sim, link := newSimSession(t)

	err := sess.Write(context.Background(), 0, make([]byte, DefaultCapacity+1))

	var se *SizeError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, DefaultCapacity+1, se.Size)
	assert.Equal(t, DefaultCapacity, se.Capacity)
	require.ErrorIs(t, err, ErrSize)
	assert.Equal(t, 0, sim.CommandCount(protocol.CommandWrite))
	assert.Empty(t, link.Sent(), "nothing may be sent before the size check")
}

func TestSession_OffsetWriteOverflow(t *testing.T) {
	t.Parallel()
	sess, _, link := newSimSession(t)

	err := sess.Write(context.Background(), DefaultCapacity-10, make([]byte, 11))
	require.ErrorIs(t, err, ErrSize)
	assert.Empty(t, link.Sent())
}

func TestSession_LivenessFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		fault    testutil.FaultConfig
		wantResp string
	}{
		{
			name:     "wrong reply",
			fault:    testutil.FaultConfig{Kind: testutil.FaultPingReply, Reply: "BOOTLOADER"},
			wantResp: `unknown "BOOTLOADER"`,
		},
		{
			name:     "device error",
			fault:    testutil.FaultConfig{Kind: testutil.FaultPingReply, Reply: "ERR busy"},
			wantResp: `ERR "busy"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sess, sim, _ := newSimSession(t)
			sim.InjectFault(tt.fault)

			_, err := sess.Read(context.Background(), FullRange(DefaultCapacity))
			var le *LivenessError
			require.ErrorAs(t, err, &le)
			assert.Equal(t, tt.wantResp, le.Response)
			require.ErrorIs(t, err, ErrLiveness)
			assert.Equal(t, 0, sim.CommandCount(protocol.CommandRead), "no transfer after failed liveness")
		})
	}
}

func TestSession_LivenessTimeout(t *testing.T) {
	t.Parallel()
	link := NewMockLink()
	sess, err := NewSession(link, testConfig())
	require.NoError(t, err)

	err = sess.Ping(context.Background())
	require.ErrorIs(t, err, ErrLiveness)
	require.ErrorIs(t, err, ErrLinkTimeout)
	assert.Equal(t, []string{"PING\n"}, link.Sent())
}

func TestSession_WriteAborts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		fault     testutil.FaultConfig
		wantPhase Phase
		wantPages int
	}{
		{
			name:      "setup rejected",
			fault:     testutil.FaultConfig{Kind: testutil.FaultRejectWrite, Address: 32, Reply: "range"},
			wantPhase: PhaseWriteSetup,
			wantPages: 2,
		},
		{
			name:      "data rejected",
			fault:     testutil.FaultConfig{Kind: testutil.FaultWriteFailed, Address: 64, Reply: "write failed: nack"},
			wantPhase: PhaseWriteData,
			wantPages: 3,
		},
		{
			name:      "unknown reply",
			fault:     testutil.FaultConfig{Kind: testutil.FaultReplyText, Address: 0, Reply: "READY"},
			wantPhase: PhaseWriteSetup,
			wantPages: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sess, sim, _ := newSimSession(t)
			sim.InjectFault(tt.fault)

			err := sess.Write(context.Background(), 0, patternImage(128))
			var pe *ProtocolError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.wantPhase, pe.Phase)
			assert.Equal(t, tt.fault.Address, pe.Address)
			require.ErrorIs(t, err, protocol.ErrUnexpectedResponse)
			assert.Len(t, sim.WriteLengths(), tt.wantPages)
		})
	}
}

func TestSession_ResponseTimeout(t *testing.T) {
	t.Parallel()
	sess, sim, _ := newSimSession(t)
	sim.InjectFault(testutil.FaultConfig{Kind: testutil.FaultDropResponse, Address: 32})

	_, err := sess.Read(context.Background(), Range{Start: 0, Length: 96})
	require.ErrorIs(t, err, ErrProtocol)
	require.ErrorIs(t, err, ErrLinkTimeout)

	trace := GetTrace(err)
	require.NotNil(t, trace)
	assert.Contains(t, trace.FormatTrace(), "TIMEOUT")
}

func TestSession_AbortedSessionRefusesWork(t *testing.T) {
	t.Parallel()
	sess, sim, _ := newSimSession(t)
	sim.InjectFault(testutil.FaultConfig{Kind: testutil.FaultShortData, Address: 0})

	_, err := sess.Read(context.Background(), Range{Start: 0, Length: 32})
	require.Error(t, err)

	sim.ClearFault()
	_, err = sess.Read(context.Background(), Range{Start: 0, Length: 32})
	require.ErrorIs(t, err, ErrAborted)
	require.ErrorIs(t, err, ErrProtocol)
}

func TestSession_ContextCancelled(t *testing.T) {
	t.Parallel()
	sess, sim, _ := newSimSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	pages := 0
	sess.progress = func(Progress) {
		pages++
		if pages == 4 {
			cancel()
		}
	}

	_, err := sess.Read(ctx, FullRange(DefaultCapacity))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 4, sim.CommandCount(protocol.CommandRead))
}

func TestSession_Progress(t *testing.T) {
	t.Parallel()

	var updates []Progress
	sess, _, _ := newSimSession(t, WithProgress(func(p Progress) {
		updates = append(updates, p)
	}))

	require.NoError(t, sess.Write(context.Background(), 0, patternImage(70)))
	require.Len(t, updates, 3)
	assert.Equal(t, Progress{Phase: PhaseWriteData, Address: 70, Done: 70, Total: 70}, updates[2])
	assert.Equal(t, 45, updates[0].Percent())
	assert.Equal(t, 100, updates[2].Percent())
}

func TestSession_ChoppyLink(t *testing.T) {
	t.Parallel()
	sim := testutil.NewVirtualEEPROM(1024, 32)
	conn := testutil.NewChoppyConnection(sim, testutil.ChoppyConfig{MinFragment: 1, Seed: 1234, USBBoundary: true})
	sess, err := NewSession(testutil.NewSimulatorLinkOver(sim, conn), Config{
		PageSize: 32, Capacity: 1024, ResponseTimeout: time.Second, TraceDepth: 4,
	})
	require.NoError(t, err)

	ctx := context.Background()
	data := patternImage(1024)
	require.NoError(t, sess.Write(ctx, 0, data))
	got, err := sess.Read(ctx, FullRange(1024))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestWithSession_ClosesLinkOnEveryPath(t *testing.T) {
	t.Parallel()

	errCallback := errors.New("callback failed")
	tests := []struct {
		fn      func(*Session) error
		wantErr error
		name    string
	}{
		{
			name: "success",
			fn: func(s *Session) error {
				_, err := s.Read(context.Background(), Range{Start: 0, Length: 32})
				return err
			},
		},
		{
			name:    "callback error",
			fn:      func(*Session) error { return errCallback },
			wantErr: errCallback,
		},
		{
			name: "protocol error",
			fn: func(s *Session) error {
				return s.Write(context.Background(), 0, make([]byte, DefaultCapacity+5))
			},
			wantErr: ErrSize,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			link := testutil.NewSimulatorLink(testutil.NewVirtualEEPROM(0, 0))

			err := WithSession(context.Background(), simDialer(link), testConfig(), tt.fn)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, 1, link.CloseCount())
		})
	}
}

func TestWithSession_CloseErrorJoined(t *testing.T) {
	t.Parallel()
	link := NewMockLink()
	errClose := errors.New("port vanished")
	link.SetCloseError(errClose)

	err := WithSession(context.Background(), func(context.Context, Config) (Link, error) {
		return link, nil
	}, testConfig(), func(*Session) error { return nil })

	require.ErrorIs(t, err, errClose)
	var le *LinkError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "close", le.Op)
}

func TestWithSession_DialFailure(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Port = "/dev/ttyUSB9"
	called := false

	err := WithSession(context.Background(), func(context.Context, Config) (Link, error) {
		return nil, errors.New("no such file or directory")
	}, cfg, func(*Session) error {
		called = true
		return nil
	})

	require.ErrorIs(t, err, ErrConnection)
	assert.False(t, called)
	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "/dev/ttyUSB9", ce.Port)
	assert.False(t, ce.Retryable)
}

func TestWriteImage_Verify(t *testing.T) {
	t.Parallel()
	sim := testutil.NewVirtualEEPROM(0, 0)
	link := testutil.NewSimulatorLink(sim)
	image := patternImage(300)

	report, err := WriteImage(context.Background(), simDialer(link), testConfig(), image, true)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.True(t, report.OK())
	assert.Equal(t, 10, report.Pages)
	assert.Equal(t, image, sim.Contents()[:300])
	assert.True(t, link.Closed())
}

func TestWriteImage_VerifyMismatch(t *testing.T) {
	t.Parallel()
	sim := testutil.NewVirtualEEPROM(0, 0)
	sim.StickCell(0, 0x42)
	link := testutil.NewSimulatorLink(sim)

	report, err := WriteImage(context.Background(), simDialer(link), testConfig(), patternImage(64), true)
	require.ErrorIs(t, err, ErrVerification)
	require.NotNil(t, report)
	assert.Len(t, report.Mismatches, 1)
	assert.Contains(t, report.String(), "1 mismatched")
}

func TestWriteImage_OversizeNeverDials(t *testing.T) {
	t.Parallel()
	dialed := false

	_, err := WriteImage(context.Background(), func(context.Context, Config) (Link, error) {
		dialed = true
		return NewMockLink(), nil
	}, testConfig(), make([]byte, DefaultCapacity*2), false)

	require.ErrorIs(t, err, ErrSize)
	assert.False(t, dialed)
}

func TestReadImage(t *testing.T) {
	t.Parallel()
	sim := testutil.NewVirtualEEPROM(0, 0)
	image := patternImage(DefaultCapacity)
	require.NoError(t, sim.Load(image))

	got, err := ReadImage(context.Background(), simDialer(testutil.NewSimulatorLink(sim)), testConfig())
	require.NoError(t, err)
	assert.Equal(t, image, got)
}

func TestVerifyImage_Clean(t *testing.T) {
	t.Parallel()
	sim := testutil.NewVirtualEEPROM(0, 0)
	image := patternImage(1000)
	require.NoError(t, sim.Load(image))

	report, err := VerifyImage(context.Background(), simDialer(testutil.NewSimulatorLink(sim)), testConfig(), image)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, 0, sim.CommandCount(protocol.CommandWrite))
}

func TestSession_MockLinkScript(t *testing.T) {
	t.Parallel()
	link := NewMockLink().
		Reply("PONG").
		Reply("OK").
		Reply("DONE")
	sess, err := NewSession(link, testConfig())
	require.NoError(t, err)

	require.NoError(t, sess.Write(context.Background(), 16, []byte{0xDE, 0xAD}))
	assert.Equal(t, []string{"PING\n", "WRITE 16 2\n", "\xDE\xAD"}, link.Sent())
}
