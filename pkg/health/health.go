// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package health

import "time"

// BreakerState names the circuit breaker's current mode.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// Metrics exposes the current health state of an external-provider path for
// operator visibility. All fields are point-in-time snapshots safe to
// serialize to JSON.
type Metrics struct {
	State               BreakerState `json:"state"`
	ConsecutiveFailures int64        `json:"consecutive_failures"`
	LastFailureAt       *time.Time   `json:"last_failure_at,omitempty"`
	CooldownUntil       *time.Time   `json:"cooldown_until,omitempty"`
	Available           bool         `json:"available"`
}
