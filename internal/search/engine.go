// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

// Package search ranks archived messages by semantic similarity to a
// natural-language query, with filter composition and cursor pagination.
package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/keepsake-dev/keepsake/internal/store"
	keeperr "github.com/keepsake-dev/keepsake/pkg/errors"
)

const (
	// DefaultLimit applies when the caller does not ask for a page size.
	DefaultLimit = 20
	// MaxLimit caps a single page regardless of what the caller asks for.
	MaxLimit = 100
)

// EmbeddingClient is the slice of the gateway the engine needs.
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Query is one search request.
type Query struct {
	TenantID string
	ActorID  string
	Text     string
	Filter   store.SearchFilter
	Limit    int
	Cursor   string
}

// Result is one ranked hit. Score is 1 minus the cosine distance to the
// query, so higher means more similar.
type Result struct {
	MessageID      string             `json:"messageId"`
	ChannelID      string             `json:"channelId"`
	AuthorID       string             `json:"authorId"`
	AuthorUsername string             `json:"authorUsername"`
	Content        string             `json:"content"`
	Attachments    []store.Attachment `json:"attachments,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
	Score          float64            `json:"score"`
}

// Page is one page of results. NextCursor is empty on the last page.
type Page struct {
	Results    []Result `json:"results"`
	NextCursor string   `json:"nextCursor,omitempty"`
}

// Engine executes semantic searches against the archive.
type Engine struct {
	archive  store.ArchiveStore
	audit    store.AuditStore
	embedder EmbeddingClient
	nowFunc  func() time.Time
}

// New creates an Engine.
func New(archiveStore store.ArchiveStore, auditStore store.AuditStore, embedder EmbeddingClient) *Engine {
	return &Engine{
		archive:  archiveStore,
		audit:    auditStore,
		embedder: embedder,
		nowFunc:  time.Now,
	}
}

// SetNowFunc overrides the time source (for testing).
func (e *Engine) SetNowFunc(fn func() time.Time) { e.nowFunc = fn }

// Search embeds the query text and returns the nearest archived messages,
// best match first. It fetches one row beyond the page size to decide
// whether a next page exists; the cursor resumes after the last returned
// row even when neighboring rows share an identical distance.
func (e *Engine) Search(ctx context.Context, query Query) (*Page, error) {
	if err := validateQuery(query); err != nil {
		return nil, err
	}

	limit := query.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	resume, err := decodeCursor(query.Cursor)
	if err != nil {
		return nil, err
	}

	embedding, err := e.embedder.Embed(ctx, query.Text)
	if err != nil {
		return nil, err
	}

	neighbors, err := e.archive.NearestNeighbors(ctx, query.TenantID, embedding, query.Filter, limit+1, resume)
	if err != nil {
		if errors.Is(err, store.ErrInvalidInput) {
			return nil, keeperr.Wrap(err, keeperr.CodeSearchRequestInvalid, "invalid search request",
				keeperr.FieldTenantID(query.TenantID))
		}
		return nil, keeperr.Wrap(err, keeperr.CodeStoreDatabaseFailure, "searching archive",
			keeperr.FieldTenantID(query.TenantID))
	}

	page := &Page{Results: make([]Result, 0, min(len(neighbors), limit))}
	if len(neighbors) > limit {
		last := neighbors[limit-1]
		token, err := encodeCursor(store.Cursor{Distance: last.Distance, MessageID: last.Message.MessageID})
		if err != nil {
			return nil, err
		}
		page.NextCursor = token
		neighbors = neighbors[:limit]
	}

	for _, n := range neighbors {
		page.Results = append(page.Results, Result{
			MessageID:      n.Message.MessageID,
			ChannelID:      n.Message.ChannelID,
			AuthorID:       n.Message.AuthorID,
			AuthorUsername: n.Message.AuthorUsername,
			Content:        n.Message.Content,
			Attachments:    n.Message.Attachments,
			CreatedAt:      n.Message.CreatedAt,
			// Cosine distance in [0, 2] maps to a relevance score where
			// higher is better; normalized embeddings keep it near [0, 1].
			Score:          1 - n.Distance,
		})
	}

	if err := e.auditSearch(ctx, query, len(page.Results)); err != nil {
		return nil, err
	}

	slog.Debug("search completed",
		"tenant_id", query.TenantID,
		"results", len(page.Results),
		"paginated", page.NextCursor != "",
	)

	return page, nil
}

// auditSearch records the query metadata without the query text or any
// result content; the ledger tracks who searched, not what they read.
func (e *Engine) auditSearch(ctx context.Context, query Query, results int) error {
	details := map[string]any{
		"result_count": results,
	}
	if query.Filter.AuthorID != "" {
		details["author_id"] = query.Filter.AuthorID
	}
	if query.Filter.ChannelID != "" {
		details["channel_id"] = query.Filter.ChannelID
	}
	if query.Filter.Before != nil {
		details["before"] = query.Filter.Before.UTC().Format(time.RFC3339)
	}
	if query.Filter.After != nil {
		details["after"] = query.Filter.After.UTC().Format(time.RFC3339)
	}

	err := e.audit.Append(ctx, &store.AuditEntry{
		TenantID:  query.TenantID,
		ActorID:   query.ActorID,
		Action:    store.AuditActionSearch,
		Details:   details,
		Timestamp: e.nowFunc().UTC(),
	})
	if err != nil {
		return keeperr.Wrap(err, keeperr.CodeStoreAuditAppendFailure, "recording search audit entry",
			keeperr.FieldTenantID(query.TenantID))
	}
	return nil
}

func validateQuery(query Query) error {
	switch {
	case strings.TrimSpace(query.TenantID) == "":
		return keeperr.New(keeperr.CodeSearchRequestInvalid, "tenant id is required")
	case strings.TrimSpace(query.Text) == "":
		return keeperr.New(keeperr.CodeSearchRequestInvalid, "query text is required",
			keeperr.FieldTenantID(query.TenantID))
	case query.Limit < 0:
		return keeperr.New(keeperr.CodeSearchRequestInvalid, "limit must not be negative",
			keeperr.FieldTenantID(query.TenantID))
	}
	return nil
}
