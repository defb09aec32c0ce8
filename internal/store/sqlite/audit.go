// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/keepsake-dev/keepsake/internal/store"
)

type auditStore struct {
	db *sql.DB
}

// Append writes one immutable ledger entry. The entry ID is assigned here
// when the caller leaves it empty; there is no update or delete path.
func (s *auditStore) Append(ctx context.Context, entry *store.AuditEntry) error {
	if entry == nil {
		return fmt.Errorf("audit entry is nil: %w", store.ErrInvalidInput)
	}
	if strings.TrimSpace(entry.TenantID) == "" {
		return fmt.Errorf("audit entry tenant id is required: %w", store.ErrInvalidInput)
	}
	if entry.Action == "" {
		return fmt.Errorf("audit entry action is required: %w", store.ErrInvalidInput)
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	details := []byte("{}")
	if len(entry.Details) > 0 {
		var err error
		details, err = json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshalling audit details: %w", err)
		}
	}

	const q = `INSERT INTO audit_log (id, tenant_id, actor_id, action, details, timestamp)
VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, q,
		entry.ID,
		entry.TenantID,
		entry.ActorID,
		string(entry.Action),
		string(details),
		formatTime(entry.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("appending audit entry %s: %w", entry.ID, err)
	}
	return nil
}

// Query returns ledger entries matching the filter, newest first.
func (s *auditStore) Query(ctx context.Context, filter store.AuditFilter) ([]*store.AuditEntry, error) {
	if strings.TrimSpace(filter.TenantID) == "" {
		return nil, fmt.Errorf("audit query tenant id is required: %w", store.ErrInvalidInput)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var qb strings.Builder
	args := []any{filter.TenantID}

	qb.WriteString(`SELECT id, tenant_id, actor_id, action, details, timestamp
FROM audit_log WHERE tenant_id = ?`)

	if filter.ActorID != "" {
		qb.WriteString(` AND actor_id = ?`)
		args = append(args, filter.ActorID)
	}
	if filter.Action != "" {
		qb.WriteString(` AND action = ?`)
		args = append(args, string(filter.Action))
	}
	if !filter.From.IsZero() {
		qb.WriteString(` AND timestamp >= ?`)
		args = append(args, formatTime(filter.From))
	}
	if !filter.To.IsZero() {
		qb.WriteString(` AND timestamp < ?`)
		args = append(args, formatTime(filter.To))
	}

	qb.WriteString(` ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`)
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanAuditEntries(rows)
}

func scanAuditEntries(rows *sql.Rows) ([]*store.AuditEntry, error) {
	var entries []*store.AuditEntry
	for rows.Next() {
		var entry store.AuditEntry
		var action, details, timestamp string

		if err := rows.Scan(
			&entry.ID,
			&entry.TenantID,
			&entry.ActorID,
			&action,
			&details,
			&timestamp,
		); err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}

		entry.Action = store.AuditAction(action)
		entry.Timestamp = parseTime(timestamp)
		if details != "" && details != "{}" {
			if err := json.Unmarshal([]byte(details), &entry.Details); err != nil {
				return nil, fmt.Errorf("unmarshalling audit details: %w", err)
			}
		}

		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
