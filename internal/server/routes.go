// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/keepsake-dev/keepsake/internal/archive"
	"github.com/keepsake-dev/keepsake/internal/guard"
	"github.com/keepsake-dev/keepsake/internal/search"
	"github.com/keepsake-dev/keepsake/internal/store"
	"github.com/keepsake-dev/keepsake/internal/summarize"
	keeperr "github.com/keepsake-dev/keepsake/pkg/errors"
	"github.com/keepsake-dev/keepsake/pkg/health"
)

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "archive-message",
		Method:      http.MethodPost,
		Path:        "/api/v1/archive",
		Summary:     "Archive a message",
		Tags:        []string{"archive"},
	}, s.handleArchive)

	huma.Register(s.api, huma.Operation{
		OperationID: "search-messages",
		Method:      http.MethodPost,
		Path:        "/api/v1/search",
		Summary:     "Search archived messages",
		Tags:        []string{"search"},
	}, s.handleSearch)

	huma.Register(s.api, huma.Operation{
		OperationID: "summarize-messages",
		Method:      http.MethodPost,
		Path:        "/api/v1/summarize",
		Summary:     "Summarize archived messages",
		Tags:        []string{"search"},
	}, s.handleSummarize)

	huma.Register(s.api, huma.Operation{
		OperationID: "update-settings",
		Method:      http.MethodPut,
		Path:        "/api/v1/admin/settings/{tenantId}",
		Summary:     "Update tenant settings",
		Tags:        []string{"admin"},
	}, s.handleUpdateSettings)

	huma.Register(s.api, huma.Operation{
		OperationID: "query-audit-log",
		Method:      http.MethodGet,
		Path:        "/api/v1/admin/audit/{tenantId}",
		Summary:     "Query the tenant audit log",
		Tags:        []string{"admin"},
	}, s.handleQueryAudit)
}

// --- Request/Response types for huma ---

type attachmentBody struct {
	ID          string `json:"id" doc:"Attachment identifier"`
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	SizeBytes   int64  `json:"sizeBytes,omitempty" minimum:"0" doc:"Attachment size in bytes"`
	URL         string `json:"url,omitempty"`
}

type archiveInput struct {
	Body struct {
		TenantID       string           `json:"tenantId" minLength:"1" doc:"Guild identifier"`
		MessageID      string           `json:"messageId" minLength:"1" doc:"Message identifier"`
		ChannelID      string           `json:"channelId,omitempty"`
		AuthorID       string           `json:"authorId,omitempty"`
		AuthorUsername string           `json:"authorUsername,omitempty"`
		Content        string           `json:"content" minLength:"1" doc:"Message text"`
		Attachments    []attachmentBody `json:"attachments,omitempty"`
		Timestamp      time.Time        `json:"timestamp,omitempty" doc:"When the message was posted"`
		ActorID        string           `json:"actorId,omitempty" doc:"Who issued this request"`
		ActorRoleIDs   []string         `json:"actorRoleIds,omitempty" doc:"Roles held by the actor"`
	}
}

type archiveOutput struct {
	Body struct {
		Created bool `json:"created" doc:"False when the message was already archived"`
	}
}

type searchFilterBody struct {
	FromUserID string     `json:"fromUserId,omitempty" doc:"Restrict to one author"`
	ChannelID  string     `json:"channelId,omitempty" doc:"Restrict to one channel"`
	Before     *time.Time `json:"before,omitempty" doc:"Only messages posted before this instant"`
	After      *time.Time `json:"after,omitempty" doc:"Only messages posted after this instant"`
}

type searchInput struct {
	Body struct {
		TenantID     string           `json:"tenantId" minLength:"1"`
		Query        string           `json:"query" minLength:"1" doc:"Natural-language query"`
		Limit        int              `json:"limit,omitempty" minimum:"0" doc:"Page size"`
		Filter       searchFilterBody `json:"filter,omitempty"`
		Cursor       string           `json:"cursor,omitempty" doc:"Opaque resume token from a previous page"`
		ActorID      string           `json:"actorId,omitempty"`
		ActorRoleIDs []string         `json:"actorRoleIds,omitempty"`
	}
}

type searchResultBody struct {
	ID             string           `json:"id"`
	Content        string           `json:"content"`
	AuthorID       string           `json:"authorId,omitempty"`
	AuthorUsername string           `json:"authorUsername,omitempty"`
	ChannelID      string           `json:"channelId,omitempty"`
	Attachments    []attachmentBody `json:"attachments,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	Score          float64          `json:"score" doc:"Relevance, higher is more similar"`
}

type searchOutput struct {
	Body struct {
		Results    []searchResultBody `json:"results"`
		NextCursor string             `json:"nextCursor,omitempty"`
	}
}

type summarizeInput struct {
	Body struct {
		TenantID     string   `json:"tenantId" minLength:"1"`
		Query        string   `json:"query" minLength:"1"`
		MaxDocuments int      `json:"maxDocuments,omitempty" minimum:"0"`
		ActorID      string   `json:"actorId,omitempty"`
		ActorRoleIDs []string `json:"actorRoleIds,omitempty"`
	}
}

type summarizeOutput struct {
	Body struct {
		Summary    string   `json:"summary"`
		References []string `json:"references" doc:"Message ids the summary draws from"`
		Confidence float64  `json:"confidence" doc:"Retrieval-quality signal in [0,1]"`
		Degraded   bool     `json:"degraded" doc:"True when generation fell back to snippet listing"`
	}
}

type settingsBody struct {
	TenantID          string    `json:"tenantId"`
	CanArchiveRoleIDs []string  `json:"canArchiveRoleIds"`
	CanSearchRoleIDs  []string  `json:"canSearchRoleIds"`
	Visibility        string    `json:"visibility"`
	RetentionDays     int       `json:"retentionDays" doc:"Zero disables retention"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

type updateSettingsInput struct {
	TenantID string `path:"tenantId"`
	Body     struct {
		CanArchiveRoleIDs *[]string `json:"canArchiveRoleIds,omitempty"`
		CanSearchRoleIDs  *[]string `json:"canSearchRoleIds,omitempty"`
		Visibility        *string   `json:"visibility,omitempty" enum:"public,restricted"`
		RetentionDays     *int      `json:"retentionDays,omitempty" minimum:"0"`
		ActorID           string    `json:"actorId,omitempty"`
	}
}

type updateSettingsOutput struct {
	Body settingsBody
}

type queryAuditInput struct {
	TenantID string `path:"tenantId"`
	ActorID  string `query:"actorId"`
	Action   string `query:"action"`
	Limit    int    `query:"limit" minimum:"0" maximum:"1000"`
	Offset   int    `query:"offset" minimum:"0"`
}

type auditEntryBody struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenantId"`
	ActorID   string         `json:"actorId,omitempty"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type queryAuditOutput struct {
	Body struct {
		Entries []auditEntryBody `json:"entries"`
	}
}

// --- Handlers ---

func (s *Server) handleArchive(ctx context.Context, input *archiveInput) (*archiveOutput, error) {
	settings, err := s.services.Settings.Get(ctx, input.Body.TenantID)
	if err != nil {
		return nil, apiError(err)
	}
	if !guard.CanArchive(settings, input.Body.ActorRoleIDs) {
		return nil, apiError(keeperr.New(keeperr.CodePermissionArchiveDenied, "actor may not archive in this guild",
			keeperr.FieldTenantID(input.Body.TenantID), keeperr.FieldActorID(input.Body.ActorID)))
	}

	attachments := make([]store.Attachment, 0, len(input.Body.Attachments))
	for _, att := range input.Body.Attachments {
		attachments = append(attachments, store.Attachment{
			ID:          att.ID,
			Filename:    att.Filename,
			ContentType: att.ContentType,
			SizeBytes:   att.SizeBytes,
			URL:         att.URL,
		})
	}

	receipt, err := s.services.Archiver.Archive(ctx, archive.Record{
		TenantID:       input.Body.TenantID,
		MessageID:      input.Body.MessageID,
		ChannelID:      input.Body.ChannelID,
		AuthorID:       input.Body.AuthorID,
		AuthorUsername: input.Body.AuthorUsername,
		Content:        input.Body.Content,
		Attachments:    attachments,
		Timestamp:      input.Body.Timestamp,
		ActorID:        input.Body.ActorID,
	})
	if err != nil {
		return nil, apiError(err)
	}

	out := &archiveOutput{}
	out.Body.Created = receipt.Created
	return out, nil
}

func (s *Server) handleSearch(ctx context.Context, input *searchInput) (*searchOutput, error) {
	settings, err := s.services.Settings.Get(ctx, input.Body.TenantID)
	if err != nil {
		return nil, apiError(err)
	}
	if !guard.CanSearch(settings, input.Body.ActorRoleIDs) {
		return nil, apiError(keeperr.New(keeperr.CodePermissionSearchDenied, "actor may not search in this guild",
			keeperr.FieldTenantID(input.Body.TenantID), keeperr.FieldActorID(input.Body.ActorID)))
	}

	page, err := s.services.Searcher.Search(ctx, search.Query{
		TenantID: input.Body.TenantID,
		ActorID:  input.Body.ActorID,
		Text:     input.Body.Query,
		Limit:    input.Body.Limit,
		Cursor:   input.Body.Cursor,
		Filter: store.SearchFilter{
			AuthorID:  input.Body.Filter.FromUserID,
			ChannelID: input.Body.Filter.ChannelID,
			Before:    input.Body.Filter.Before,
			After:     input.Body.Filter.After,
		},
	})
	if err != nil {
		return nil, apiError(err)
	}

	out := &searchOutput{}
	out.Body.Results = make([]searchResultBody, 0, len(page.Results))
	for _, result := range page.Results {
		attachments := make([]attachmentBody, 0, len(result.Attachments))
		for _, att := range result.Attachments {
			attachments = append(attachments, attachmentBody{
				ID:          att.ID,
				Filename:    att.Filename,
				ContentType: att.ContentType,
				SizeBytes:   att.SizeBytes,
				URL:         att.URL,
			})
		}
		out.Body.Results = append(out.Body.Results, searchResultBody{
			ID:             result.MessageID,
			Content:        result.Content,
			AuthorID:       result.AuthorID,
			AuthorUsername: result.AuthorUsername,
			ChannelID:      result.ChannelID,
			Attachments:    attachments,
			CreatedAt:      result.CreatedAt,
			Score:          result.Score,
		})
	}
	out.Body.NextCursor = page.NextCursor
	return out, nil
}

func (s *Server) handleSummarize(ctx context.Context, input *summarizeInput) (*summarizeOutput, error) {
	settings, err := s.services.Settings.Get(ctx, input.Body.TenantID)
	if err != nil {
		return nil, apiError(err)
	}
	// Summaries read the archive, so the search permission governs them.
	if !guard.CanSearch(settings, input.Body.ActorRoleIDs) {
		return nil, apiError(keeperr.New(keeperr.CodePermissionSearchDenied, "actor may not search in this guild",
			keeperr.FieldTenantID(input.Body.TenantID), keeperr.FieldActorID(input.Body.ActorID)))
	}

	result, err := s.services.Summarizer.Summarize(ctx, summarize.Request{
		TenantID:     input.Body.TenantID,
		ActorID:      input.Body.ActorID,
		Query:        input.Body.Query,
		MaxDocuments: input.Body.MaxDocuments,
	})
	if err != nil {
		return nil, apiError(err)
	}

	out := &summarizeOutput{}
	out.Body.Summary = result.Summary
	out.Body.References = make([]string, 0, len(result.References))
	for _, ref := range result.References {
		out.Body.References = append(out.Body.References, ref.MessageID)
	}
	out.Body.Confidence = result.Confidence
	out.Body.Degraded = result.Degraded
	return out, nil
}

func (s *Server) handleUpdateSettings(ctx context.Context, input *updateSettingsInput) (*updateSettingsOutput, error) {
	patch := store.SettingsPatch{
		CanArchiveRoleIDs: input.Body.CanArchiveRoleIDs,
		CanSearchRoleIDs:  input.Body.CanSearchRoleIDs,
		RetentionDays:     input.Body.RetentionDays,
	}
	if input.Body.Visibility != nil {
		visibility := store.Visibility(*input.Body.Visibility)
		patch.Visibility = &visibility
	}

	settings, err := s.services.Settings.Update(ctx, input.TenantID, patch)
	if err != nil {
		return nil, apiError(err)
	}

	err = s.services.Audit.Append(ctx, &store.AuditEntry{
		TenantID: input.TenantID,
		ActorID:  input.Body.ActorID,
		Action:   store.AuditActionSettingsUpdate,
		Details: map[string]any{
			"visibility":     string(settings.Visibility),
			"retention_days": settings.RetentionDays,
		},
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return nil, apiError(keeperr.Wrap(err, keeperr.CodeStoreAuditAppendFailure, "recording settings audit entry",
			keeperr.FieldTenantID(input.TenantID)))
	}

	out := &updateSettingsOutput{}
	out.Body = settingsBody{
		TenantID:          settings.TenantID,
		CanArchiveRoleIDs: settings.CanArchiveRoleIDs,
		CanSearchRoleIDs:  settings.CanSearchRoleIDs,
		Visibility:        string(settings.Visibility),
		RetentionDays:     settings.RetentionDays,
		UpdatedAt:         settings.UpdatedAt,
	}
	return out, nil
}

func (s *Server) handleQueryAudit(ctx context.Context, input *queryAuditInput) (*queryAuditOutput, error) {
	entries, err := s.services.Audit.Query(ctx, store.AuditFilter{
		TenantID: input.TenantID,
		ActorID:  input.ActorID,
		Action:   store.AuditAction(input.Action),
		Limit:    input.Limit,
		Offset:   input.Offset,
	})
	if err != nil {
		return nil, apiError(err)
	}

	out := &queryAuditOutput{}
	out.Body.Entries = make([]auditEntryBody, 0, len(entries))
	for _, entry := range entries {
		out.Body.Entries = append(out.Body.Entries, auditEntryBody{
			ID:        entry.ID,
			TenantID:  entry.TenantID,
			ActorID:   entry.ActorID,
			Action:    string(entry.Action),
			Details:   entry.Details,
			Timestamp: entry.Timestamp,
		})
	}
	return out, nil
}

// --- Health ---

type healthzBody struct {
	Status     string         `json:"status"`
	Store      string         `json:"store"`
	Embedding  health.Metrics `json:"embedding"`
	Generation health.Metrics `json:"generation"`
}

// handleHealthz reports liveness plus readiness detail: store
// reachability and the two provider breaker snapshots. The status code
// follows the store only; an open breaker degrades the body without
// failing the probe, since archived data remains searchable.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	body := healthzBody{
		Status:     "ok",
		Store:      "ok",
		Embedding:  s.services.Provider.EmbeddingHealth(),
		Generation: s.services.Provider.GenerationHealth(),
	}

	status := http.StatusOK
	if err := s.services.Store.Ping(r.Context()); err != nil {
		body.Status = "degraded"
		body.Store = "unreachable"
		status = http.StatusServiceUnavailable
	} else if !body.Embedding.Available || !body.Generation.Available {
		body.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// apiError converts a coded error into the huma error model, carrying
// the retryable flag so callers know whether re-issuing can help.
func apiError(err error) error {
	detail := &huma.ErrorDetail{
		Message:  "whether the caller may safely retry",
		Location: "retryable",
		Value:    keeperr.IsRetryable(err),
	}
	return huma.NewError(keeperr.HTTPStatus(err), err.Error(), detail)
}
