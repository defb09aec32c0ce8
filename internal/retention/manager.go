// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

// Package retention removes archived messages that have outlived each
// tenant's configured horizon.
package retention

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/keepsake-dev/keepsake/internal/store"
	keeperr "github.com/keepsake-dev/keepsake/pkg/errors"
)

// DefaultConcurrency bounds how many tenant sweeps run at once.
const DefaultConcurrency = 4

// TenantResult is the outcome of one tenant's sweep.
type TenantResult struct {
	TenantID string    `json:"tenantId"`
	Cutoff   time.Time `json:"cutoff"`
	Removed  int64     `json:"removed"`
	Err      error     `json:"-"`
}

// Report aggregates one sweep run across all tenants.
type Report struct {
	SweptTenants int            `json:"sweptTenants"`
	Removed      int64          `json:"removed"`
	Failed       int            `json:"failed"`
	Tenants      []TenantResult `json:"tenants"`
}

// Manager sweeps expired messages tenant by tenant.
type Manager struct {
	archive     store.ArchiveStore
	settings    store.SettingsStore
	audit       store.AuditStore
	concurrency int
}

// New creates a Manager. Concurrency values below one fall back to the
// default.
func New(archiveStore store.ArchiveStore, settingsStore store.SettingsStore, auditStore store.AuditStore, concurrency int) *Manager {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	return &Manager{
		archive:     archiveStore,
		settings:    settingsStore,
		audit:       auditStore,
		concurrency: concurrency,
	}
}

// Sweep deletes rows older than each retention-enabled tenant's horizon.
// Tenants are swept independently: one tenant's failure is recorded in
// the report and never aborts the others. The returned error is non-nil
// only when the tenant list itself cannot be loaded.
func (m *Manager) Sweep(ctx context.Context, now time.Time) (*Report, error) {
	settings, err := m.settings.ListWithRetention(ctx)
	if err != nil {
		return nil, keeperr.Wrap(err, keeperr.CodeRetentionSweepFailure, "listing retention-enabled tenants")
	}

	report := &Report{Tenants: make([]TenantResult, 0, len(settings))}
	if len(settings) == 0 {
		return report, nil
	}

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(m.concurrency)

	for _, tenant := range settings {
		group.Go(func() error {
			result := m.sweepTenant(groupCtx, tenant, now)

			mu.Lock()
			report.Tenants = append(report.Tenants, result)
			mu.Unlock()

			// Failures are carried in the report, not the group error,
			// so sibling sweeps keep running.
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, keeperr.Wrap(err, keeperr.CodeRetentionSweepFailure, "waiting for tenant sweeps")
	}

	sort.Slice(report.Tenants, func(i, j int) bool {
		return report.Tenants[i].TenantID < report.Tenants[j].TenantID
	})
	for _, result := range report.Tenants {
		if result.Err != nil {
			report.Failed++
			continue
		}
		report.SweptTenants++
		report.Removed += result.Removed
	}

	slog.Info("retention sweep completed",
		"tenants", report.SweptTenants,
		"removed", report.Removed,
		"failed", report.Failed,
	)

	return report, nil
}

func (m *Manager) sweepTenant(ctx context.Context, tenant *store.GuildSettings, now time.Time) TenantResult {
	cutoff := now.UTC().AddDate(0, 0, -tenant.RetentionDays)
	result := TenantResult{TenantID: tenant.TenantID, Cutoff: cutoff}

	removed, err := m.archive.DeleteOlderThan(ctx, tenant.TenantID, cutoff)
	if err != nil {
		result.Err = keeperr.Wrap(err, keeperr.CodeRetentionSweepFailure, "sweeping tenant",
			keeperr.FieldTenantID(tenant.TenantID))
		slog.Error("retention sweep failed for tenant",
			"tenant_id", tenant.TenantID,
			"error", err,
		)
		return result
	}
	result.Removed = removed

	// Every swept tenant gets a ledger entry, zero removals included.
	err = m.audit.Append(ctx, &store.AuditEntry{
		TenantID: tenant.TenantID,
		ActorID:  "system",
		Action:   store.AuditActionRetentionSweep,
		Details: map[string]any{
			"cutoff":         cutoff.Format(time.RFC3339),
			"retention_days": tenant.RetentionDays,
			"removed":        removed,
		},
		Timestamp: now.UTC(),
	})
	if err != nil {
		result.Err = keeperr.Wrap(err, keeperr.CodeStoreAuditAppendFailure, "recording sweep audit entry",
			keeperr.FieldTenantID(tenant.TenantID))
	}

	return result
}
