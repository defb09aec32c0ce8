// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package gateway

import (
	"sync"
	"time"

	keeperr "github.com/keepsake-dev/keepsake/pkg/errors"
	"github.com/keepsake-dev/keepsake/pkg/health"
)

// DefaultBreakerThreshold is the consecutive-failure count that opens a breaker.
const DefaultBreakerThreshold = 5

// DefaultBreakerCooldown is the duration an open breaker rejects calls
// before permitting a half-open probe.
const DefaultBreakerCooldown = 30 * time.Second

// Breaker is a circuit breaker guarding one external dependency. State
// transitions happen under a single mutex so concurrent failures cannot
// produce lost updates.
//
// Closed: calls pass through; consecutive failures are counted.
// Open: calls fail fast until the cooldown elapses.
// HalfOpen: exactly one probe call is allowed; its outcome decides between
// Closed and a fresh Open window.
type Breaker struct {
	mu           sync.Mutex
	name         string
	state        health.BreakerState
	consecutive  int64
	threshold    int
	cooldown     time.Duration
	openedAt     time.Time
	lastFailedAt time.Time
	probing      bool
	nowFunc      func() time.Time // for testing
}

// NewBreaker creates a closed Breaker. name labels the guarded dependency
// in errors and metrics. Returns an error if threshold or cooldown is not
// positive.
func NewBreaker(name string, threshold int, cooldown time.Duration) (*Breaker, error) {
	if threshold <= 0 {
		return nil, keeperr.Errorf(keeperr.CodeConfigValidateInvalidValue,
			"breaker threshold must be positive, got %d", threshold)
	}
	if cooldown <= 0 {
		return nil, keeperr.Errorf(keeperr.CodeConfigValidateInvalidValue,
			"breaker cooldown must be positive, got %s", cooldown)
	}
	return &Breaker{
		name:      name,
		state:     health.BreakerClosed,
		threshold: threshold,
		cooldown:  cooldown,
		nowFunc:   time.Now,
	}, nil
}

// Allow reports whether a call may proceed. In Open state it fails fast
// with a retryable breaker-open error until the cooldown elapses, at which
// point it admits a single half-open probe. Callers that receive nil MUST
// follow up with RecordSuccess or RecordFailure.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case health.BreakerClosed:
		return nil

	case health.BreakerOpen:
		if b.nowFunc().Sub(b.openedAt) < b.cooldown {
			return keeperr.New(keeperr.CodeProviderBreakerOpen,
				"circuit breaker is open", keeperr.FieldProvider(b.name))
		}
		b.state = health.BreakerHalfOpen
		b.probing = true
		return nil

	default: // half-open
		if b.probing {
			return keeperr.New(keeperr.CodeProviderBreakerOpen,
				"circuit breaker is half-open with a probe in flight",
				keeperr.FieldProvider(b.name))
		}
		b.probing = true
		return nil
	}
}

// RecordSuccess closes the breaker and resets the failure counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	b.state = health.BreakerClosed
	b.consecutive = 0
	b.probing = false
	b.mu.Unlock()
}

// Abort releases an admitted call whose outcome says nothing about the
// provider, such as a caller-side cancellation. It does not touch the
// failure counter; a half-open probe slot is freed so the next Allow may
// admit a fresh probe.
func (b *Breaker) Abort() {
	b.mu.Lock()
	b.probing = false
	b.mu.Unlock()
}

// RecordFailure counts one exhausted call. A failed half-open probe
// reopens the breaker and restarts the cooldown; in Closed state the
// breaker opens once the consecutive count reaches the threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.nowFunc()
	b.lastFailedAt = now
	b.consecutive++

	if b.state == health.BreakerHalfOpen {
		b.state = health.BreakerOpen
		b.openedAt = now
		b.probing = false
		return
	}

	if b.state == health.BreakerClosed && b.consecutive >= int64(b.threshold) {
		b.state = health.BreakerOpen
		b.openedAt = now
	}
}

// SetNowFunc overrides the time source (for testing).
func (b *Breaker) SetNowFunc(fn func() time.Time) {
	b.mu.Lock()
	b.nowFunc = fn
	b.mu.Unlock()
}

// Metrics returns a point-in-time snapshot of the breaker's state.
func (b *Breaker) Metrics() health.Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	m := health.Metrics{
		State:               b.state,
		ConsecutiveFailures: b.consecutive,
	}

	if !b.lastFailedAt.IsZero() {
		t := b.lastFailedAt
		m.LastFailureAt = &t
	}

	switch b.state {
	case health.BreakerOpen:
		cooldownEnd := b.openedAt.Add(b.cooldown)
		m.CooldownUntil = &cooldownEnd
		m.Available = b.nowFunc().Sub(b.openedAt) >= b.cooldown
	case health.BreakerHalfOpen:
		m.Available = !b.probing
	default:
		m.Available = true
	}

	return m
}
