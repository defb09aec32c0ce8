// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package store

import (
	"context"
	"time"
)

// ArchiveStore persists archived messages with their embeddings and serves
// ranked nearest-neighbor queries over them.
type ArchiveStore interface {
	// Upsert inserts msg keyed by (tenant, message id). If the key already
	// exists the call is a successful no-op and created is false. The row
	// and its embedding are written in one transaction: a failed call
	// leaves no partial row behind.
	Upsert(ctx context.Context, msg *ArchivedMessage) (created bool, err error)

	// NearestNeighbors returns up to limit candidates ordered by ascending
	// cosine distance, ties broken by message id ascending, restricted to
	// tenantID and the filter's predicates. A non-nil resume cursor skips
	// everything at or before that rank position.
	NearestNeighbors(ctx context.Context, tenantID string, query []float32, filter SearchFilter, limit int, resume *Cursor) ([]Neighbor, error)

	// DeleteOlderThan removes the tenant's rows archived before cutoff and
	// reports how many were removed. Each row is deleted atomically, so a
	// concurrent search sees a row either fully present or fully gone.
	DeleteOlderThan(ctx context.Context, tenantID string, cutoff time.Time) (int64, error)

	// Count returns the number of archived rows for the tenant.
	Count(ctx context.Context, tenantID string) (int64, error)
}

// SettingsStore manages per-tenant policy.
type SettingsStore interface {
	// Get returns the tenant's settings, or the defaults if the tenant has
	// never been configured. It never returns ErrNotFound.
	Get(ctx context.Context, tenantID string) (*GuildSettings, error)

	// Update applies patch to the tenant's settings (creating them from
	// defaults first if absent) and returns the resulting snapshot.
	Update(ctx context.Context, tenantID string, patch SettingsPatch) (*GuildSettings, error)

	// ListWithRetention returns every tenant whose settings carry a
	// positive retention horizon.
	ListWithRetention(ctx context.Context) ([]*GuildSettings, error)
}

// AuditStore manages the append-only action ledger.
type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) error
	Query(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error)
}

// Store bundles the three sub-stores behind a single handle so they share
// one backing database and one Close.
type Store interface {
	Archive() ArchiveStore
	Settings() SettingsStore
	Audit() AuditStore
	Ping(ctx context.Context) error
	Close() error
}
