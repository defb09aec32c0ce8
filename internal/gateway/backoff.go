// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package gateway

import (
	"math/rand/v2"
	"time"
)

// RetryConfig bounds the local retry loop around one external call.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig matches the provider rate-limit guidance: a handful
// of attempts with sub-second initial spacing.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	return c
}

// delay returns the exponential backoff for the given zero-based attempt,
// capped at MaxDelay, with up to 25% random jitter added so concurrent
// retries do not synchronize against a struggling provider.
func (c RetryConfig) delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	d := c.BaseDelay << attempt
	if d <= 0 || d > c.MaxDelay {
		d = c.MaxDelay
	}

	jitter := time.Duration(rand.Int64N(int64(d)/4 + 1))
	return d + jitter
}
