// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package summarize

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keepsake-dev/keepsake/internal/provider"
	"github.com/keepsake-dev/keepsake/internal/search"
	"github.com/keepsake-dev/keepsake/internal/store"
	keeperr "github.com/keepsake-dev/keepsake/pkg/errors"
)

type fakeRetriever struct {
	results   []search.Result
	lastQuery search.Query
}

func (f *fakeRetriever) Search(_ context.Context, query search.Query) (*search.Page, error) {
	f.lastQuery = query
	return &search.Page{Results: f.results}, nil
}

type fakeGenerator struct {
	calls    int
	response string
	fail     error
	lastReq  provider.GenerateRequest
}

func (f *fakeGenerator) Generate(_ context.Context, req provider.GenerateRequest) (string, error) {
	f.calls++
	f.lastReq = req
	if f.fail != nil {
		return "", f.fail
	}
	return f.response, nil
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

func retrieved(messageID string, score float64) search.Result {
	return search.Result{
		MessageID:      messageID,
		AuthorUsername: "alice",
		Content:        "notes about " + messageID,
		CreatedAt:      time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		Score:          score,
	}
}

func TestSummarizeGroundsAndCites(t *testing.T) {
	retriever := &fakeRetriever{results: []search.Result{
		retrieved("m-1", 0.9),
		retrieved("m-2", 0.7),
		retrieved("m-3", 0.5),
	}}
	generator := &fakeGenerator{response: "The release shipped on Friday [m-1] after the fix landed [m-3]."}
	engine := New(retriever, generator, &fakeAuditStore{})

	result, err := engine.Summarize(context.Background(), Request{
		TenantID: "g1",
		ActorID:  "actor-1",
		Query:    "what happened with the release?",
	})
	require.NoError(t, err)

	assert.False(t, result.Degraded)
	assert.Contains(t, result.Summary, "shipped on Friday")

	// Citations restricted to the retrieved set, in retrieval order.
	require.Len(t, result.References, 2)
	assert.Equal(t, "m-1", result.References[0].MessageID)
	assert.Equal(t, "m-3", result.References[1].MessageID)

	// Confidence is the mean of the retrieval scores.
	assert.InDelta(t, 0.7, result.Confidence, 1e-9)

	// The grounding prompt carries every retrieved message with its marker.
	assert.Contains(t, generator.lastReq.Prompt, "[m-2]")
	assert.Contains(t, generator.lastReq.Prompt, "notes about m-2")
	assert.Equal(t, DefaultMaxDocuments, retriever.lastQuery.Limit)
}

func TestSummarizeNoCandidatesSkipsProvider(t *testing.T) {
	generator := &fakeGenerator{response: "should never be called"}
	auditStore := &fakeAuditStore{}
	engine := New(&fakeRetriever{}, generator, auditStore)

	result, err := engine.Summarize(context.Background(), Request{TenantID: "g1", Query: "anything"})
	require.NoError(t, err)

	assert.Equal(t, NoContentSummary, result.Summary)
	assert.Empty(t, result.References)
	assert.Zero(t, result.Confidence)
	assert.Zero(t, generator.calls)

	// The no-content path still writes its ledger entry.
	require.Len(t, auditStore.entries, 1)
	assert.Equal(t, store.AuditActionSummarize, auditStore.entries[0].Action)
}

func TestSummarizeIgnoresHallucinatedCitations(t *testing.T) {
	retriever := &fakeRetriever{results: []search.Result{retrieved("m-1", 0.8)}}
	generator := &fakeGenerator{response: "Something happened [m-1], see also [m-999]."}
	engine := New(retriever, generator, &fakeAuditStore{})

	result, err := engine.Summarize(context.Background(), Request{TenantID: "g1", Query: "q"})
	require.NoError(t, err)

	require.Len(t, result.References, 1)
	assert.Equal(t, "m-1", result.References[0].MessageID)
}

func TestSummarizeDegradesOnGenerationFailure(t *testing.T) {
	retriever := &fakeRetriever{results: []search.Result{
		retrieved("m-1", 0.6),
		retrieved("m-2", 0.4),
	}}
	generator := &fakeGenerator{fail: keeperr.New(keeperr.CodeProviderUpstreamFailure, "model unavailable")}
	auditStore := &fakeAuditStore{}
	engine := New(retriever, generator, auditStore)

	result, err := engine.Summarize(context.Background(), Request{TenantID: "g1", Query: "q"})
	require.NoError(t, err)

	assert.True(t, result.Degraded)
	assert.Contains(t, result.Summary, "temporarily unavailable")
	assert.Contains(t, result.Summary, "[m-1]")
	require.Len(t, result.References, 2)
	assert.InDelta(t, 0.5, result.Confidence, 1e-9)

	require.Len(t, auditStore.entries, 1)
	assert.Equal(t, true, auditStore.entries[0].Details["degraded"])
}

func TestSummarizeConfidenceClamped(t *testing.T) {
	retriever := &fakeRetriever{results: []search.Result{
		{MessageID: "m-1", Content: "x", Score: -0.4},
		{MessageID: "m-2", Content: "y", Score: -0.6},
	}}
	generator := &fakeGenerator{response: "Nothing useful here."}
	engine := New(retriever, generator, &fakeAuditStore{})

	result, err := engine.Summarize(context.Background(), Request{TenantID: "g1", Query: "q"})
	require.NoError(t, err)
	assert.Zero(t, result.Confidence)
}

func TestSummarizeValidation(t *testing.T) {
	engine := New(&fakeRetriever{}, &fakeGenerator{}, &fakeAuditStore{})

	tests := []struct {
		name string
		req  Request
	}{
		{"missing tenant", Request{Query: "q"}},
		{"missing query", Request{TenantID: "g1", Query: " "}},
		{"negative max documents", Request{TenantID: "g1", Query: "q", MaxDocuments: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Summarize(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, keeperr.HasCode(err, keeperr.CodeSummarizeRequestInvalid))
		})
	}
}

func TestSnippetTruncatesLongContent(t *testing.T) {
	long := strings.Repeat("a", 1000)
	got := snippet(long)
	assert.Less(t, len([]rune(got)), 300)
	assert.True(t, strings.HasSuffix(got, "…"))
}
