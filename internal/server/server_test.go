// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keepsake-dev/keepsake/internal/archive"
	"github.com/keepsake-dev/keepsake/internal/search"
	"github.com/keepsake-dev/keepsake/internal/store"
	"github.com/keepsake-dev/keepsake/internal/summarize"
	keeperr "github.com/keepsake-dev/keepsake/pkg/errors"
	"github.com/keepsake-dev/keepsake/pkg/health"
)

const testSecret = "test-secret"

type fakeArchiver struct {
	seen    []archive.Record
	created bool
	fail    error
}

func (f *fakeArchiver) Archive(_ context.Context, rec archive.Record) (archive.Receipt, error) {
	f.seen = append(f.seen, rec)
	if f.fail != nil {
		return archive.Receipt{}, f.fail
	}
	return archive.Receipt{Created: f.created}, nil
}

type fakeSearcher struct {
	lastQuery search.Query
	page      *search.Page
	fail      error
}

func (f *fakeSearcher) Search(_ context.Context, query search.Query) (*search.Page, error) {
	f.lastQuery = query
	if f.fail != nil {
		return nil, f.fail
	}
	if f.page == nil {
		return &search.Page{Results: []search.Result{}}, nil
	}
	return f.page, nil
}

type fakeSummarizer struct {
	result *summarize.Result
}

func (f *fakeSummarizer) Summarize(context.Context, summarize.Request) (*summarize.Result, error) {
	return f.result, nil
}

type fakeSettingsStore struct {
	settings map[string]*store.GuildSettings
}

func newFakeSettingsStore() *fakeSettingsStore {
	return &fakeSettingsStore{settings: make(map[string]*store.GuildSettings)}
}

func (f *fakeSettingsStore) Get(_ context.Context, tenantID string) (*store.GuildSettings, error) {
	if settings, ok := f.settings[tenantID]; ok {
		return settings, nil
	}
	return store.DefaultSettings(tenantID), nil
}

func (f *fakeSettingsStore) Update(_ context.Context, tenantID string, patch store.SettingsPatch) (*store.GuildSettings, error) {
	settings, _ := f.Get(context.Background(), tenantID)
	if patch.CanArchiveRoleIDs != nil {
		settings.CanArchiveRoleIDs = *patch.CanArchiveRoleIDs
	}
	if patch.CanSearchRoleIDs != nil {
		settings.CanSearchRoleIDs = *patch.CanSearchRoleIDs
	}
	if patch.Visibility != nil {
		settings.Visibility = *patch.Visibility
	}
	if patch.RetentionDays != nil {
		settings.RetentionDays = *patch.RetentionDays
	}
	settings.UpdatedAt = time.Now().UTC()
	f.settings[tenantID] = settings
	return settings, nil
}

func (f *fakeSettingsStore) ListWithRetention(context.Context) ([]*store.GuildSettings, error) {
	return nil, nil
}

type fakeAuditStore struct {
	entries []*store.AuditEntry
}

func (f *fakeAuditStore) Append(_ context.Context, entry *store.AuditEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAuditStore) Query(context.Context, store.AuditFilter) ([]*store.AuditEntry, error) {
	return f.entries, nil
}

type fakeProviderHealth struct {
	embedding  health.Metrics
	generation health.Metrics
}

func (f *fakeProviderHealth) EmbeddingHealth() health.Metrics  { return f.embedding }
func (f *fakeProviderHealth) GenerationHealth() health.Metrics { return f.generation }

type fakePinger struct {
	fail error
}

func (f *fakePinger) Ping(context.Context) error { return f.fail }

func okHealth() health.Metrics {
	return health.Metrics{State: health.BreakerClosed, Available: true}
}

func testServer(t *testing.T, services *Services) *Server {
	t.Helper()

	if services.Archiver == nil {
		services.Archiver = &fakeArchiver{created: true}
	}
	if services.Searcher == nil {
		services.Searcher = &fakeSearcher{}
	}
	if services.Summarizer == nil {
		services.Summarizer = &fakeSummarizer{result: &summarize.Result{Summary: "ok", References: []summarize.Reference{}}}
	}
	if services.Settings == nil {
		services.Settings = newFakeSettingsStore()
	}
	if services.Audit == nil {
		services.Audit = &fakeAuditStore{}
	}
	if services.Provider == nil {
		services.Provider = &fakeProviderHealth{embedding: okHealth(), generation: okHealth()}
	}
	if services.Store == nil {
		services.Store = &fakePinger{}
	}

	srv, err := New(Config{ListenAddr: "127.0.0.1:0", SharedSecret: testSecret}, services)
	require.NoError(t, err)
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(TokenHeader, token)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func archiveBody() map[string]any {
	return map[string]any{
		"tenantId":       "g1",
		"messageId":      "m1",
		"channelId":      "chan-1",
		"authorId":       "author-1",
		"authorUsername": "alice",
		"content":        "ship the release notes",
		"timestamp":      "2026-08-01T12:00:00Z",
		"actorId":        "actor-1",
	}
}

func TestAuthRequired(t *testing.T) {
	srv := testServer(t, &Services{})

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"wrong token", "wrong", http.StatusUnauthorized},
		{"valid token", testSecret, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, srv, http.MethodPost, "/api/v1/archive", archiveBody(), tt.token)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestHealthzSkipsAuth(t *testing.T) {
	srv := testServer(t, &Services{})

	rec := doJSON(t, srv, http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body healthzBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.True(t, body.Embedding.Available)
}

func TestHealthzDegraded(t *testing.T) {
	t.Run("store unreachable", func(t *testing.T) {
		srv := testServer(t, &Services{
			Store: &fakePinger{fail: keeperr.New(keeperr.CodeStoreDatabaseFailure, "locked")},
		})

		rec := doJSON(t, srv, http.MethodGet, "/healthz", nil, "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var body healthzBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "unreachable", body.Store)
	})

	t.Run("breaker open keeps probe alive", func(t *testing.T) {
		srv := testServer(t, &Services{
			Provider: &fakeProviderHealth{
				embedding:  health.Metrics{State: health.BreakerOpen, Available: false},
				generation: okHealth(),
			},
		})

		rec := doJSON(t, srv, http.MethodGet, "/healthz", nil, "")
		assert.Equal(t, http.StatusOK, rec.Code)

		var body healthzBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "degraded", body.Status)
	})
}

func TestArchiveEndpoint(t *testing.T) {
	archiver := &fakeArchiver{created: true}
	srv := testServer(t, &Services{Archiver: archiver})

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/archive", archiveBody(), testSecret)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Created bool `json:"created"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Created)

	require.Len(t, archiver.seen, 1)
	assert.Equal(t, "g1", archiver.seen[0].TenantID)
	assert.Equal(t, "actor-1", archiver.seen[0].ActorID)
}

func TestAttachmentMappingRoundTrip(t *testing.T) {
	attachment := store.Attachment{
		ID:          "att-1",
		Filename:    "notes.pdf",
		ContentType: "application/pdf",
		SizeBytes:   2048,
		URL:         "https://cdn.example.com/att-1",
	}

	archiver := &fakeArchiver{created: true}
	searcher := &fakeSearcher{page: &search.Page{
		Results: []search.Result{{
			MessageID:   "m1",
			Content:     "ship the release notes",
			Attachments: []store.Attachment{attachment},
			CreatedAt:   time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
			Score:       0.9,
		}},
	}}
	srv := testServer(t, &Services{Archiver: archiver, Searcher: searcher})

	body := archiveBody()
	body["attachments"] = []map[string]any{{
		"id":          "att-1",
		"filename":    "notes.pdf",
		"contentType": "application/pdf",
		"sizeBytes":   2048,
		"url":         "https://cdn.example.com/att-1",
	}}
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/archive", body, testSecret)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, archiver.seen, 1)
	require.Len(t, archiver.seen[0].Attachments, 1)
	assert.Equal(t, attachment, archiver.seen[0].Attachments[0])

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/search", map[string]any{
		"tenantId": "g1",
		"query":    "release notes",
	}, testSecret)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var searchBody struct {
		Results []struct {
			Attachments []struct {
				ID        string `json:"id"`
				Filename  string `json:"filename"`
				SizeBytes int64  `json:"sizeBytes"`
				URL       string `json:"url"`
			} `json:"attachments"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &searchBody))
	require.Len(t, searchBody.Results, 1)
	require.Len(t, searchBody.Results[0].Attachments, 1)
	assert.Equal(t, "att-1", searchBody.Results[0].Attachments[0].ID)
	assert.Equal(t, int64(2048), searchBody.Results[0].Attachments[0].SizeBytes)
	assert.Equal(t, "https://cdn.example.com/att-1", searchBody.Results[0].Attachments[0].URL)
}

func TestArchivePermissionDenied(t *testing.T) {
	settings := newFakeSettingsStore()
	restricted := store.DefaultSettings("g1")
	restricted.CanArchiveRoleIDs = []string{"curator"}
	settings.settings["g1"] = restricted

	archiver := &fakeArchiver{created: true}
	srv := testServer(t, &Services{Archiver: archiver, Settings: settings})

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/archive", archiveBody(), testSecret)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, archiver.seen)

	// The curator role opens the gate.
	body := archiveBody()
	body["actorRoleIds"] = []string{"curator", "member"}
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/archive", body, testSecret)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, archiver.seen, 1)
}

func TestSearchEndpoint(t *testing.T) {
	searcher := &fakeSearcher{page: &search.Page{
		Results: []search.Result{{
			MessageID:      "m1",
			ChannelID:      "chan-1",
			AuthorID:       "author-1",
			AuthorUsername: "alice",
			Content:        "ship the release notes",
			CreatedAt:      time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
			Score:          0.93,
		}},
		NextCursor: "next-token",
	}}
	srv := testServer(t, &Services{Searcher: searcher})

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/search", map[string]any{
		"tenantId": "g1",
		"query":    "release notes",
		"limit":    5,
		"filter":   map[string]any{"channelId": "chan-1"},
	}, testSecret)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Results []struct {
			ID      string  `json:"id"`
			Content string  `json:"content"`
			Score   float64 `json:"score"`
		} `json:"results"`
		NextCursor string `json:"nextCursor"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Results, 1)
	assert.Equal(t, "m1", body.Results[0].ID)
	assert.InDelta(t, 0.93, body.Results[0].Score, 1e-9)
	assert.Equal(t, "next-token", body.NextCursor)

	assert.Equal(t, "chan-1", searcher.lastQuery.Filter.ChannelID)
	assert.Equal(t, 5, searcher.lastQuery.Limit)
}

func TestSearchRetryableErrorMapping(t *testing.T) {
	searcher := &fakeSearcher{fail: keeperr.New(keeperr.CodeProviderBreakerOpen, "embedding provider unavailable")}
	srv := testServer(t, &Services{Searcher: searcher})

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/search", map[string]any{
		"tenantId": "g1",
		"query":    "anything",
	}, testSecret)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Errors []struct {
			Location string `json:"location"`
			Value    any    `json:"value"`
		} `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Errors, 1)
	assert.Equal(t, "retryable", body.Errors[0].Location)
	assert.Equal(t, true, body.Errors[0].Value)
}

func TestSummarizeEndpoint(t *testing.T) {
	summarizer := &fakeSummarizer{result: &summarize.Result{
		Summary: "The release shipped on Friday.",
		References: []summarize.Reference{
			{MessageID: "m1", Score: 0.9},
			{MessageID: "m3", Score: 0.7},
		},
		Confidence: 0.8,
	}}
	srv := testServer(t, &Services{Summarizer: summarizer})

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/summarize", map[string]any{
		"tenantId": "g1",
		"query":    "what happened with the release?",
	}, testSecret)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Summary    string   `json:"summary"`
		References []string `json:"references"`
		Confidence float64  `json:"confidence"`
		Degraded   bool     `json:"degraded"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"m1", "m3"}, body.References)
	assert.InDelta(t, 0.8, body.Confidence, 1e-9)
	assert.False(t, body.Degraded)
}

func TestUpdateSettingsEndpoint(t *testing.T) {
	settings := newFakeSettingsStore()
	audit := &fakeAuditStore{}
	srv := testServer(t, &Services{Settings: settings, Audit: audit})

	rec := doJSON(t, srv, http.MethodPut, "/api/v1/admin/settings/g1", map[string]any{
		"canSearchRoleIds": []string{"member"},
		"visibility":       "restricted",
		"retentionDays":    30,
		"actorId":          "admin-1",
	}, testSecret)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body settingsBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "g1", body.TenantID)
	assert.Equal(t, []string{"member"}, body.CanSearchRoleIDs)
	assert.Equal(t, "restricted", body.Visibility)
	assert.Equal(t, 30, body.RetentionDays)

	require.Len(t, audit.entries, 1)
	assert.Equal(t, store.AuditActionSettingsUpdate, audit.entries[0].Action)
	assert.Equal(t, "admin-1", audit.entries[0].ActorID)
}

func TestQueryAuditEndpoint(t *testing.T) {
	audit := &fakeAuditStore{entries: []*store.AuditEntry{{
		ID:        "a1",
		TenantID:  "g1",
		ActorID:   "actor-1",
		Action:    store.AuditActionSearch,
		Details:   map[string]any{"result_count": float64(3)},
		Timestamp: time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
	}}}
	srv := testServer(t, &Services{Audit: audit})

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/admin/audit/g1?limit=10", nil, testSecret)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Entries []auditEntryBody `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Entries, 1)
	assert.Equal(t, "a1", body.Entries[0].ID)
	assert.Equal(t, "search", body.Entries[0].Action)
}

func TestCIDRAllowlist(t *testing.T) {
	srv, err := New(Config{
		ListenAddr:   "127.0.0.1:0",
		SharedSecret: testSecret,
		AllowedCIDRs: []string{"10.0.0.0/8"},
	}, &Services{
		Archiver:   &fakeArchiver{created: true},
		Searcher:   &fakeSearcher{},
		Summarizer: &fakeSummarizer{result: &summarize.Result{}},
		Settings:   newFakeSettingsStore(),
		Audit:      &fakeAuditStore{},
		Provider:   &fakeProviderHealth{embedding: okHealth(), generation: okHealth()},
		Store:      &fakePinger{},
	})
	require.NoError(t, err)

	raw, err := json.Marshal(archiveBody())
	require.NoError(t, err)

	t.Run("outside allowlist", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/archive", bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(TokenHeader, testSecret)
		req.RemoteAddr = "192.168.1.20:9999"

		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("inside allowlist", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/archive", bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(TokenHeader, testSecret)
		req.RemoteAddr = "10.1.2.3:9999"

		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})
}

func TestServerConfigValidation(t *testing.T) {
	_, err := New(Config{SharedSecret: "s"}, &Services{})
	require.Error(t, err)

	_, err = New(Config{ListenAddr: ":0"}, &Services{})
	require.Error(t, err)

	_, err = New(Config{ListenAddr: ":0", SharedSecret: "s", AllowedCIDRs: []string{"bogus"}}, &Services{})
	require.Error(t, err)
}
