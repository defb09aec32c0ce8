// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

// Package summarize answers natural-language questions about the archive
// with retrieval-augmented generation: retrieve, ground, generate, cite.
package summarize

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/keepsake-dev/keepsake/internal/provider"
	"github.com/keepsake-dev/keepsake/internal/search"
	"github.com/keepsake-dev/keepsake/internal/store"
	keeperr "github.com/keepsake-dev/keepsake/pkg/errors"
)

const (
	// DefaultMaxDocuments bounds how many retrieved messages ground a summary.
	DefaultMaxDocuments = 10
	// MaxDocumentsCeiling caps the grounding set regardless of the request.
	MaxDocumentsCeiling = 50

	// NoContentSummary is returned verbatim when retrieval finds nothing.
	NoContentSummary = "no relevant content"

	systemPrompt = "You summarize archived chat messages for a community. " +
		"Use only the provided messages as source material. Cite every message " +
		"you draw from by including its id marker, for example [12345], inline. " +
		"If the messages do not answer the question, say so plainly."
)

// Retriever retrieves grounding candidates. *search.Engine satisfies it.
type Retriever interface {
	Search(ctx context.Context, query search.Query) (*search.Page, error)
}

// GenerationClient is the slice of the gateway the summarizer needs.
type GenerationClient interface {
	Generate(ctx context.Context, req provider.GenerateRequest) (string, error)
}

// Request is one summarization request.
type Request struct {
	TenantID     string
	ActorID      string
	Query        string
	MaxDocuments int
}

// Reference is one message the summary draws from.
type Reference struct {
	MessageID string  `json:"messageId"`
	Score     float64 `json:"score"`
}

// Result is a grounded summary. Confidence reflects retrieval quality,
// not the model's own estimate. Degraded is true when generation failed
// and the summary fell back to listing the retrieved snippets.
type Result struct {
	Summary    string      `json:"summary"`
	References []Reference `json:"references"`
	Confidence float64     `json:"confidence"`
	Degraded   bool        `json:"degraded,omitempty"`
}

// Engine produces summaries of archived conversations.
type Engine struct {
	retriever Retriever
	generator GenerationClient
	audit     store.AuditStore
	maxTokens int
	nowFunc   func() time.Time
}

// New creates an Engine.
func New(retriever Retriever, generator GenerationClient, auditStore store.AuditStore) *Engine {
	return &Engine{
		retriever: retriever,
		generator: generator,
		audit:     auditStore,
		nowFunc:   time.Now,
	}
}

// SetNowFunc overrides the time source (for testing).
func (e *Engine) SetNowFunc(fn func() time.Time) { e.nowFunc = fn }

// SetMaxTokens caps the generation response length. Zero keeps the
// provider default.
func (e *Engine) SetMaxTokens(n int) { e.maxTokens = n }

// Summarize retrieves the most relevant archived messages for the query
// and asks the model for a cited summary grounded in them. An empty
// retrieval set short-circuits to a deterministic no-content result
// without touching the provider. A generation failure after retries
// degrades to listing the retrieved snippets instead of failing the
// request.
func (e *Engine) Summarize(ctx context.Context, req Request) (*Result, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	maxDocs := req.MaxDocuments
	if maxDocs <= 0 {
		maxDocs = DefaultMaxDocuments
	}
	if maxDocs > MaxDocumentsCeiling {
		maxDocs = MaxDocumentsCeiling
	}

	page, err := e.retriever.Search(ctx, search.Query{
		TenantID: req.TenantID,
		ActorID:  req.ActorID,
		Text:     req.Query,
		Limit:    maxDocs,
	})
	if err != nil {
		return nil, err
	}

	if len(page.Results) == 0 {
		result := &Result{Summary: NoContentSummary, References: []Reference{}, Confidence: 0}
		if err := e.auditSummarize(ctx, req, result, 0); err != nil {
			return nil, err
		}
		return result, nil
	}

	confidence := meanScore(page.Results)

	text, genErr := e.generator.Generate(ctx, provider.GenerateRequest{
		SystemPrompt: systemPrompt,
		Prompt:       buildPrompt(req.Query, page.Results),
		MaxTokens:    e.maxTokens,
	})

	var result *Result
	if genErr != nil {
		slog.Warn("summary generation failed, degrading to snippet listing",
			"tenant_id", req.TenantID,
			"error", genErr,
		)
		result = degradedResult(page.Results, confidence)
	} else {
		result = &Result{
			Summary:    strings.TrimSpace(text),
			References: citedReferences(text, page.Results),
			Confidence: confidence,
		}
	}

	if err := e.auditSummarize(ctx, req, result, len(page.Results)); err != nil {
		return nil, err
	}

	return result, nil
}

func (e *Engine) auditSummarize(ctx context.Context, req Request, result *Result, retrieved int) error {
	err := e.audit.Append(ctx, &store.AuditEntry{
		TenantID: req.TenantID,
		ActorID:  req.ActorID,
		Action:   store.AuditActionSummarize,
		Details: map[string]any{
			"retrieved_count": retrieved,
			"reference_count": len(result.References),
			"confidence":      result.Confidence,
			"degraded":        result.Degraded,
		},
		Timestamp: e.nowFunc().UTC(),
	})
	if err != nil {
		return keeperr.Wrap(err, keeperr.CodeStoreAuditAppendFailure, "recording summarize audit entry",
			keeperr.FieldTenantID(req.TenantID))
	}
	return nil
}

func validateRequest(req Request) error {
	switch {
	case strings.TrimSpace(req.TenantID) == "":
		return keeperr.New(keeperr.CodeSummarizeRequestInvalid, "tenant id is required")
	case strings.TrimSpace(req.Query) == "":
		return keeperr.New(keeperr.CodeSummarizeRequestInvalid, "query text is required",
			keeperr.FieldTenantID(req.TenantID))
	case req.MaxDocuments < 0:
		return keeperr.New(keeperr.CodeSummarizeRequestInvalid, "max documents must not be negative",
			keeperr.FieldTenantID(req.TenantID))
	}
	return nil
}

// buildPrompt lays out the grounding set, one block per message, each
// headed by the id marker the model must echo when citing it.
func buildPrompt(query string, results []search.Result) string {
	var sb strings.Builder
	sb.WriteString("Question: ")
	sb.WriteString(query)
	sb.WriteString("\n\nArchived messages:\n")
	for _, result := range results {
		fmt.Fprintf(&sb, "\n[%s] %s (%s):\n%s\n",
			result.MessageID,
			result.AuthorUsername,
			result.CreatedAt.UTC().Format(time.RFC3339),
			result.Content,
		)
	}
	sb.WriteString("\nSummarize the messages above as they relate to the question.")
	return sb.String()
}

var citationPattern = regexp.MustCompile(`\[([^\[\]\s]+)\]`)

// citedReferences extracts the id markers the model echoed, restricted to
// the retrieved set so a hallucinated id can never surface as a citation.
// Order follows retrieval rank, not citation order.
func citedReferences(text string, results []search.Result) []Reference {
	cited := make(map[string]bool)
	for _, match := range citationPattern.FindAllStringSubmatch(text, -1) {
		cited[match[1]] = true
	}

	references := make([]Reference, 0, len(cited))
	for _, result := range results {
		if cited[result.MessageID] {
			references = append(references, Reference{MessageID: result.MessageID, Score: result.Score})
		}
	}
	return references
}

// degradedResult lists the retrieved snippets verbatim, flagged so the
// caller can tell a listing from a real summary.
func degradedResult(results []search.Result, confidence float64) *Result {
	var sb strings.Builder
	sb.WriteString("Summarization is temporarily unavailable. Most relevant archived messages:\n")
	references := make([]Reference, 0, len(results))
	for _, result := range results {
		fmt.Fprintf(&sb, "\n[%s] %s: %s\n", result.MessageID, result.AuthorUsername, snippet(result.Content))
		references = append(references, Reference{MessageID: result.MessageID, Score: result.Score})
	}
	return &Result{
		Summary:    sb.String(),
		References: references,
		Confidence: confidence,
		Degraded:   true,
	}
}

const snippetMaxRunes = 280

func snippet(content string) string {
	runes := []rune(content)
	if len(runes) <= snippetMaxRunes {
		return content
	}
	return string(runes[:snippetMaxRunes]) + "…"
}

// meanScore averages the retrieval scores, clamped to [0, 1]: a
// retrieval-quality signal independent of anything the model reports.
func meanScore(results []search.Result) float64 {
	var sum float64
	for _, result := range results {
		sum += result.Score
	}
	mean := sum / float64(len(results))
	if mean < 0 {
		return 0
	}
	if mean > 1 {
		return 1
	}
	return mean
}
