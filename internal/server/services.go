// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package server

import (
	"context"

	"github.com/keepsake-dev/keepsake/internal/archive"
	"github.com/keepsake-dev/keepsake/internal/search"
	"github.com/keepsake-dev/keepsake/internal/summarize"
	"github.com/keepsake-dev/keepsake/internal/store"
	"github.com/keepsake-dev/keepsake/pkg/health"
)

// Archiver ingests messages. *archive.Archiver satisfies it.
type Archiver interface {
	Archive(ctx context.Context, rec archive.Record) (archive.Receipt, error)
}

// Searcher executes semantic searches. *search.Engine satisfies it.
type Searcher interface {
	Search(ctx context.Context, query search.Query) (*search.Page, error)
}

// Summarizer produces grounded summaries. *summarize.Engine satisfies it.
type Summarizer interface {
	Summarize(ctx context.Context, req summarize.Request) (*summarize.Result, error)
}

// ProviderHealth exposes the breaker snapshots of the two provider
// paths. *gateway.Gateway satisfies it.
type ProviderHealth interface {
	EmbeddingHealth() health.Metrics
	GenerationHealth() health.Metrics
}

// Pinger reports backing-store reachability. store.Store satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services bundles the dependencies the HTTP handlers call into.
type Services struct {
	Archiver   Archiver
	Searcher   Searcher
	Summarizer Summarizer
	Settings   store.SettingsStore
	Audit      store.AuditStore
	Provider   ProviderHealth
	Store      Pinger
}
