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

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/keepsake-dev/keepsake/internal/store"
)

type archiveStore struct {
	db         *sql.DB
	dimensions int
}

// Upsert inserts a message keyed by (tenant, message id). INSERT OR IGNORE
// makes re-delivery a successful no-op: created reports whether a row was
// actually written. The single statement is atomic, so a failed call never
// leaves a partial row.
func (a *archiveStore) Upsert(ctx context.Context, msg *store.ArchivedMessage) (bool, error) {
	if err := store.ValidateMessage(msg, a.dimensions); err != nil {
		return false, err
	}

	blob, err := sqlite_vec.SerializeFloat32(msg.Embedding)
	if err != nil {
		return false, fmt.Errorf("serializing embedding for %s: %w", msg.MessageID, err)
	}

	attachments := []byte("[]")
	if len(msg.Attachments) > 0 {
		attachments, err = json.Marshal(msg.Attachments)
		if err != nil {
			return false, fmt.Errorf("marshalling attachments for %s: %w", msg.MessageID, err)
		}
	}

	const q = `INSERT OR IGNORE INTO archived_messages
(tenant_id, message_id, channel_id, author_id, author_username, content, attachments, created_at, archived_at, embedding)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := a.db.ExecContext(ctx, q,
		msg.TenantID,
		msg.MessageID,
		msg.ChannelID,
		msg.AuthorID,
		msg.AuthorUsername,
		msg.Content,
		string(attachments),
		msg.CreatedAt.UTC().UnixMilli(),
		msg.ArchivedAt.UTC().UnixMilli(),
		blob,
	)
	if err != nil {
		return false, fmt.Errorf("upserting message %s: %w", msg.MessageID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows for message %s: %w", msg.MessageID, err)
	}
	return rows > 0, nil
}

// NearestNeighbors ranks the tenant's rows by ascending cosine distance to
// the query vector with the filter's predicates applied in the same SQL
// statement. The tenant predicate is part of the inner WHERE clause, never
// a post-filter, so a result can never leak across tenants.
func (a *archiveStore) NearestNeighbors(ctx context.Context, tenantID string, query []float32, filter store.SearchFilter, limit int, resume *store.Cursor) ([]store.Neighbor, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, fmt.Errorf("tenant id is required: %w", store.ErrInvalidInput)
	}
	if len(query) != a.dimensions {
		return nil, fmt.Errorf("query vector has %d dimensions, store requires %d: %w",
			len(query), a.dimensions, store.ErrInvalidInput)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive: %w", store.ErrInvalidInput)
	}

	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, fmt.Errorf("serializing query vector: %w", err)
	}

	var qb strings.Builder
	args := []any{blob, tenantID}

	qb.WriteString(`SELECT message_id, channel_id, author_id, author_username, content, attachments, created_at, archived_at, distance
FROM (
	SELECT m.message_id, m.channel_id, m.author_id, m.author_username, m.content, m.attachments,
		m.created_at, m.archived_at, vec_distance_cosine(m.embedding, ?) AS distance
	FROM archived_messages m
	WHERE m.tenant_id = ?`)

	if filter.AuthorID != "" {
		qb.WriteString(` AND m.author_id = ?`)
		args = append(args, filter.AuthorID)
	}
	if filter.ChannelID != "" {
		qb.WriteString(` AND m.channel_id = ?`)
		args = append(args, filter.ChannelID)
	}
	if filter.Before != nil {
		qb.WriteString(` AND m.created_at < ?`)
		args = append(args, filter.Before.UTC().UnixMilli())
	}
	if filter.After != nil {
		qb.WriteString(` AND m.created_at > ?`)
		args = append(args, filter.After.UTC().UnixMilli())
	}

	qb.WriteString(`
)`)

	if resume != nil {
		qb.WriteString(`
WHERE distance > ? OR (distance = ? AND message_id > ?)`)
		args = append(args, resume.Distance, resume.Distance, resume.MessageID)
	}

	qb.WriteString(`
ORDER BY distance ASC, message_id ASC
LIMIT ?`)
	args = append(args, limit)

	rows, err := a.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying nearest neighbors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var neighbors []store.Neighbor
	for rows.Next() {
		var n store.Neighbor
		var attachJSON string
		var createdAt, archivedAt int64

		if err := rows.Scan(
			&n.Message.MessageID,
			&n.Message.ChannelID,
			&n.Message.AuthorID,
			&n.Message.AuthorUsername,
			&n.Message.Content,
			&attachJSON,
			&createdAt,
			&archivedAt,
			&n.Distance,
		); err != nil {
			return nil, fmt.Errorf("scanning neighbor row: %w", err)
		}

		n.Message.TenantID = tenantID
		n.Message.CreatedAt = time.UnixMilli(createdAt).UTC()
		n.Message.ArchivedAt = time.UnixMilli(archivedAt).UTC()
		if attachJSON != "" && attachJSON != "[]" {
			if err := json.Unmarshal([]byte(attachJSON), &n.Message.Attachments); err != nil {
				return nil, fmt.Errorf("unmarshalling attachments for %s: %w", n.Message.MessageID, err)
			}
		}

		neighbors = append(neighbors, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating neighbor rows: %w", err)
	}

	return neighbors, nil
}

// DeleteOlderThan removes the tenant's rows archived before cutoff and
// reports the count removed.
func (a *archiveStore) DeleteOlderThan(ctx context.Context, tenantID string, cutoff time.Time) (int64, error) {
	if strings.TrimSpace(tenantID) == "" {
		return 0, fmt.Errorf("tenant id is required: %w", store.ErrInvalidInput)
	}

	const q = `DELETE FROM archived_messages WHERE tenant_id = ? AND archived_at < ?`

	result, err := a.db.ExecContext(ctx, q, tenantID, cutoff.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("deleting expired messages for tenant %s: %w", tenantID, err)
	}
	return result.RowsAffected()
}

// Count returns the number of archived rows for the tenant.
func (a *archiveStore) Count(ctx context.Context, tenantID string) (int64, error) {
	var count int64
	err := a.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM archived_messages WHERE tenant_id = ?`,
		tenantID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting messages for tenant %s: %w", tenantID, err)
	}
	return count, nil
}
