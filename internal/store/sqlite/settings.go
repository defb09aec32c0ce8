// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/keepsake-dev/keepsake/internal/store"
)

type settingsStore struct {
	db *sql.DB
}

// settingsQuerier covers *sql.DB and *sql.Tx for single-row reads.
type settingsQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Get returns the tenant's settings, falling back to the defaults when no
// row exists. Tenants are configured lazily: only Update writes a row.
func (s *settingsStore) Get(ctx context.Context, tenantID string) (*store.GuildSettings, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, fmt.Errorf("tenant id is required: %w", store.ErrInvalidInput)
	}
	return getSettings(ctx, s.db, tenantID)
}

func getSettings(ctx context.Context, q settingsQuerier, tenantID string) (*store.GuildSettings, error) {
	const query = `SELECT tenant_id, can_archive_role_ids, can_search_role_ids, visibility, retention_days, updated_at
FROM guild_settings WHERE tenant_id = ?`

	settings, err := scanSettings(q.QueryRowContext(ctx, query, tenantID))
	if err == sql.ErrNoRows {
		return store.DefaultSettings(tenantID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting settings for tenant %s: %w", tenantID, err)
	}
	return settings, nil
}

// Update applies patch on top of the current settings (or the defaults)
// and persists the result. Read and write share one transaction so two
// concurrent updates to the same tenant cannot lose a patch.
func (s *settingsStore) Update(ctx context.Context, tenantID string, patch store.SettingsPatch) (*store.GuildSettings, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, fmt.Errorf("tenant id is required: %w", store.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning settings update for tenant %s: %w", tenantID, err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := getSettings(ctx, tx, tenantID)
	if err != nil {
		return nil, err
	}

	if patch.CanArchiveRoleIDs != nil {
		current.CanArchiveRoleIDs = *patch.CanArchiveRoleIDs
	}
	if patch.CanSearchRoleIDs != nil {
		current.CanSearchRoleIDs = *patch.CanSearchRoleIDs
	}
	if patch.Visibility != nil {
		current.Visibility = *patch.Visibility
	}
	if patch.RetentionDays != nil {
		current.RetentionDays = *patch.RetentionDays
	}
	current.UpdatedAt = time.Now().UTC()

	if err := store.ValidateSettings(current); err != nil {
		return nil, err
	}

	archiveRoles, err := json.Marshal(roleSlice(current.CanArchiveRoleIDs))
	if err != nil {
		return nil, fmt.Errorf("marshalling archive roles for tenant %s: %w", tenantID, err)
	}
	searchRoles, err := json.Marshal(roleSlice(current.CanSearchRoleIDs))
	if err != nil {
		return nil, fmt.Errorf("marshalling search roles for tenant %s: %w", tenantID, err)
	}

	const q = `INSERT INTO guild_settings (tenant_id, can_archive_role_ids, can_search_role_ids, visibility, retention_days, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(tenant_id) DO UPDATE SET
	can_archive_role_ids = excluded.can_archive_role_ids,
	can_search_role_ids  = excluded.can_search_role_ids,
	visibility           = excluded.visibility,
	retention_days       = excluded.retention_days,
	updated_at           = excluded.updated_at`

	_, err = tx.ExecContext(ctx, q,
		current.TenantID,
		string(archiveRoles),
		string(searchRoles),
		string(current.Visibility),
		current.RetentionDays,
		formatTime(current.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("upserting settings for tenant %s: %w", tenantID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing settings update for tenant %s: %w", tenantID, err)
	}
	return current, nil
}

// ListWithRetention returns every tenant with a positive retention horizon.
func (s *settingsStore) ListWithRetention(ctx context.Context) ([]*store.GuildSettings, error) {
	const q = `SELECT tenant_id, can_archive_role_ids, can_search_role_ids, visibility, retention_days, updated_at
FROM guild_settings WHERE retention_days > 0 ORDER BY tenant_id ASC`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing tenants with retention: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var all []*store.GuildSettings
	for rows.Next() {
		settings, err := scanSettings(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning settings row: %w", err)
		}
		all = append(all, settings)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating settings rows: %w", err)
	}

	return all, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSettings(row rowScanner) (*store.GuildSettings, error) {
	var settings store.GuildSettings
	var archiveRoles, searchRoles, visibility, updatedAt string

	if err := row.Scan(
		&settings.TenantID,
		&archiveRoles,
		&searchRoles,
		&visibility,
		&settings.RetentionDays,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(archiveRoles), &settings.CanArchiveRoleIDs); err != nil {
		return nil, fmt.Errorf("unmarshalling archive roles: %w", err)
	}
	if err := json.Unmarshal([]byte(searchRoles), &settings.CanSearchRoleIDs); err != nil {
		return nil, fmt.Errorf("unmarshalling search roles: %w", err)
	}
	settings.Visibility = store.Visibility(visibility)
	settings.UpdatedAt = parseTime(updatedAt)

	return &settings, nil
}

// roleSlice normalises a nil role set to an empty slice so it marshals to
// "[]" rather than "null".
func roleSlice(roles []string) []string {
	if roles == nil {
		return []string{}
	}
	return roles
}
