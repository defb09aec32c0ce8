// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

// Package archive implements idempotent message ingestion: validate,
// embed, upsert, audit.
package archive

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/keepsake-dev/keepsake/internal/store"
	keeperr "github.com/keepsake-dev/keepsake/pkg/errors"
)

// EmbeddingClient is the slice of the gateway the archiver needs.
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Record is one archive request from the caller.
type Record struct {
	TenantID       string
	MessageID      string
	ChannelID      string
	AuthorID       string
	AuthorUsername string
	Content        string
	Attachments    []store.Attachment
	Timestamp      time.Time
	// ActorID identifies who issued the request, for the audit trail.
	ActorID string
}

// Receipt reports the outcome of an archive request. Created is false
// when the message was already archived and the call was a no-op.
type Receipt struct {
	Created bool
}

// Archiver ingests messages. Dependencies are injected so tests can
// substitute fakes for the provider and store.
type Archiver struct {
	archive  store.ArchiveStore
	audit    store.AuditStore
	embedder EmbeddingClient
	nowFunc  func() time.Time
}

// New creates an Archiver.
func New(archiveStore store.ArchiveStore, auditStore store.AuditStore, embedder EmbeddingClient) *Archiver {
	return &Archiver{
		archive:  archiveStore,
		audit:    auditStore,
		embedder: embedder,
		nowFunc:  time.Now,
	}
}

// SetNowFunc overrides the time source (for testing).
func (a *Archiver) SetNowFunc(fn func() time.Time) { a.nowFunc = fn }

// Archive validates the record, embeds its content, and upserts it as one
// atomic unit. Re-delivery of an already archived message is a successful
// no-op with Created=false. Every successful call, no-op included, writes
// one audit entry: the ledger reflects request volume, not just mutation
// volume, which keeps repeated deliveries visible to operators.
func (a *Archiver) Archive(ctx context.Context, rec Record) (Receipt, error) {
	if err := validateRecord(rec); err != nil {
		return Receipt{}, err
	}

	// The embedding must exist before the row is written; an aborted
	// request leaves no row with a missing or stale embedding.
	embedding, err := a.embedder.Embed(ctx, rec.Content)
	if err != nil {
		return Receipt{}, err
	}

	now := a.nowFunc().UTC()
	created, err := a.archive.Upsert(ctx, &store.ArchivedMessage{
		TenantID:       rec.TenantID,
		MessageID:      rec.MessageID,
		ChannelID:      rec.ChannelID,
		AuthorID:       rec.AuthorID,
		AuthorUsername: rec.AuthorUsername,
		Content:        rec.Content,
		Attachments:    normalizeAttachments(rec.Attachments),
		CreatedAt:      rec.Timestamp,
		ArchivedAt:     now,
		Embedding:      embedding,
	})
	if err != nil {
		if errors.Is(err, store.ErrInvalidInput) {
			return Receipt{}, keeperr.Wrap(err, keeperr.CodeArchiveRequestInvalid, "invalid archive record",
				keeperr.FieldTenantID(rec.TenantID), keeperr.FieldMessageID(rec.MessageID))
		}
		return Receipt{}, keeperr.Wrap(err, keeperr.CodeStoreDatabaseFailure, "upserting archived message",
			keeperr.FieldTenantID(rec.TenantID), keeperr.FieldMessageID(rec.MessageID))
	}

	entry := &store.AuditEntry{
		TenantID: rec.TenantID,
		ActorID:  rec.ActorID,
		Action:   store.AuditActionArchive,
		Details: map[string]any{
			"message_id": rec.MessageID,
			"channel_id": rec.ChannelID,
			"created":    created,
		},
		Timestamp: now,
	}
	if err := a.audit.Append(ctx, entry); err != nil {
		// The row is committed; surface the ledger failure rather than
		// pretending the operation completed cleanly.
		return Receipt{}, keeperr.Wrap(err, keeperr.CodeStoreAuditAppendFailure, "recording archive audit entry",
			keeperr.FieldTenantID(rec.TenantID))
	}

	slog.Debug("archived message",
		"tenant_id", rec.TenantID,
		"message_id", rec.MessageID,
		"created", created,
	)

	return Receipt{Created: created}, nil
}

func validateRecord(rec Record) error {
	switch {
	case strings.TrimSpace(rec.TenantID) == "":
		return keeperr.New(keeperr.CodeArchiveRequestInvalid, "tenant id is required")
	case strings.TrimSpace(rec.MessageID) == "":
		return keeperr.New(keeperr.CodeArchiveRequestInvalid, "message id is required",
			keeperr.FieldTenantID(rec.TenantID))
	case strings.TrimSpace(rec.Content) == "":
		return keeperr.New(keeperr.CodeArchiveRequestInvalid, "content is required",
			keeperr.FieldTenantID(rec.TenantID), keeperr.FieldMessageID(rec.MessageID))
	}
	return nil
}

// normalizeAttachments drops entries with no id and fills a missing
// content type so the stored metadata is uniform.
func normalizeAttachments(attachments []store.Attachment) []store.Attachment {
	if len(attachments) == 0 {
		return nil
	}

	normalized := make([]store.Attachment, 0, len(attachments))
	for _, att := range attachments {
		if strings.TrimSpace(att.ID) == "" {
			continue
		}
		if att.ContentType == "" {
			att.ContentType = "application/octet-stream"
		}
		normalized = append(normalized, att)
	}
	return normalized
}
