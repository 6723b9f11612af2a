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
	"context"
	"fmt"
	"sync"
	"time"
)

// Link is an opened, configured byte channel to the programmer. A session
// owns its link exclusively from open to close.
type Link interface {
	// Send writes data as-is: a command line or a block of raw page bytes.
	Send(ctx context.Context, data []byte) error

	// ReceiveLine waits up to timeout for the next response line. The line
	// excludes the '\n' terminator. A timeout matches ErrLinkTimeout.
	ReceiveLine(ctx context.Context, timeout time.Duration) (string, error)

	// Close releases the channel. Later calls fail with ErrLinkClosed.
	Close() error

	// Port identifies the channel in logs and errors.
	Port() string
}

// MockLink is a scripted Link for tests: every Send consumes the next
// scripted reply, which ReceiveLine then returns.
type MockLink struct {
	closeErr   error
	replies    []mockReply
	queued     []mockReply
	sent       [][]byte
	closeCount int
	mu         sync.Mutex
	closed     bool
}

type mockReply struct {
	err  error
	line string
	none bool
}

// NewMockLink creates a mock link with an empty script.
func NewMockLink() *MockLink {
	return &MockLink{}
}

// Reply scripts the line answering the next unscripted Send.
func (m *MockLink) Reply(line string) *MockLink {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, mockReply{line: line})
	return m
}

// ReplyError scripts ReceiveLine to fail with err after the next unscripted Send.
func (m *MockLink) ReplyError(err error) *MockLink {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, mockReply{err: err})
	return m
}

// Silent scripts a Send that produces no reply, such as raw page bytes
// whose DONE is scripted separately.
func (m *MockLink) Silent() *MockLink {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, mockReply{none: true})
	return m
}

// SetCloseError makes Close return err.
func (m *MockLink) SetCloseError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeErr = err
}

// Send implements Link.
func (m *MockLink) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return NewLinkError("send", m.Port(), ErrLinkClosed)
	}
	m.sent = append(m.sent, append([]byte(nil), data...))
	if len(m.replies) == 0 {
		return nil
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	if !reply.none {
		m.queued = append(m.queued, reply)
	}
	return nil
}

// ReceiveLine implements Link. With nothing queued it times out immediately.
func (m *MockLink) ReceiveLine(ctx context.Context, timeout time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", NewLinkError("receive", m.Port(), ErrLinkClosed)
	}
	if len(m.queued) == 0 {
		return "", NewLinkError("receive", m.Port(), fmt.Errorf("%w after %v", ErrLinkTimeout, timeout))
	}
	reply := m.queued[0]
	m.queued = m.queued[1:]
	if reply.err != nil {
		return "", reply.err
	}
	return reply.line, nil
}

// Close implements Link.
func (m *MockLink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCount++
	m.closed = true
	return m.closeErr
}

// Port implements Link.
func (*MockLink) Port() string {
	return "mock"
}

// Sent returns every buffer passed to Send, as strings.
func (m *MockLink) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	for i, b := range m.sent {
		out[i] = string(b)
	}
	return out
}

// CloseCount returns how many times Close was called.
func (m *MockLink) CloseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCount
}
