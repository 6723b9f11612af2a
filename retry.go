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
	"math/rand/v2"
	"time"
)

// RetryConfig bounds how hard DialWithRetry tries to open a busy port.
type RetryConfig struct {
	// MaxAttempts is the number of dials; 0 or 1 dials once
	MaxAttempts int
	// InitialBackoff is waited after the first busy dial
	InitialBackoff time.Duration
	// MaxBackoff caps the wait between dials
	MaxBackoff time.Duration
	// BackoffMultiplier grows the wait after every busy dial
	BackoffMultiplier float64
	// Jitter adds up to this fraction of the wait at random
	Jitter float64
	// RetryTimeout bounds all dials together, settle delays included
	RetryTimeout time.Duration
}

// DefaultRetryConfig returns the retry configuration used for opening ports
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       DefaultConnectionRetries,
		InitialBackoff:    ConnectionInitialBackoff,
		MaxBackoff:        ConnectionMaxBackoff,
		BackoffMultiplier: ConnectionBackoffMultiplier,
		Jitter:            ConnectionJitter,
		RetryTimeout:      ConnectionRetryTimeout,
	}
}

// DialWithRetry opens a link with dial, dialling again while the error is
// retryable (a port still held by another process). Session traffic is never
// retried. A link that opens after the retry budget ran out is closed and
// reported as a connection error.
func DialWithRetry(ctx context.Context, dial Dialer, cfg Config, retry *RetryConfig) (Link, error) {
	if retry == nil {
		retry = DefaultRetryConfig()
	}
	if retry.RetryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, retry.RetryTimeout)
		defer cancel()
	}

	attempts := max(retry.MaxAttempts, 1)
	wait := retry.InitialBackoff
	var lastErr error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, dialAbandoned(cfg.Port, lastErr, err)
		}

		link, err := dial(ctx, cfg)
		if err == nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				_ = link.Close()
				return nil, NewConnectionError(cfg.Port, ctxErr)
			}
			if attempt > 1 {
				Debugf("opened %s on attempt %d", cfg.Port, attempt)
			}
			return link, nil
		}
		if !IsRetryable(err) || attempt >= attempts {
			return nil, err
		}
		lastErr = err

		delay := retry.jittered(wait)
		Debugf("%s busy (attempt %d/%d), retrying in %v: %v", cfg.Port, attempt, attempts, delay, err)
		if !waitFor(ctx, delay) {
			return nil, dialAbandoned(cfg.Port, lastErr, ctx.Err())
		}
		wait = retry.next(wait)
	}
}

// dialAbandoned prefers the last dial error, which names the real problem,
// over the expired context.
func dialAbandoned(port string, lastErr, ctxErr error) error {
	if lastErr != nil {
		return lastErr
	}
	return NewConnectionError(port, ctxErr)
}

func (c *RetryConfig) next(wait time.Duration) time.Duration {
	return min(time.Duration(float64(wait)*c.BackoffMultiplier), c.MaxBackoff)
}

func (c *RetryConfig) jittered(wait time.Duration) time.Duration {
	if c.Jitter <= 0 {
		return wait
	}
	return wait + time.Duration(rand.Float64()*c.Jitter*float64(wait)) //nolint:gosec // backoff jitter
}

func waitFor(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
