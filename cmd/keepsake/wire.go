// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package main

import (
	"github.com/spf13/viper"

	"github.com/keepsake-dev/keepsake/internal/archive"
	"github.com/keepsake-dev/keepsake/internal/config"
	"github.com/keepsake-dev/keepsake/internal/gateway"
	"github.com/keepsake-dev/keepsake/internal/provider/anthropic"
	"github.com/keepsake-dev/keepsake/internal/provider/openai"
	"github.com/keepsake-dev/keepsake/internal/retention"
	"github.com/keepsake-dev/keepsake/internal/search"
	"github.com/keepsake-dev/keepsake/internal/secrets"
	"github.com/keepsake-dev/keepsake/internal/server"
	"github.com/keepsake-dev/keepsake/internal/store/sqlite"
	"github.com/keepsake-dev/keepsake/internal/summarize"
	keeperr "github.com/keepsake-dev/keepsake/pkg/errors"
)

// loadConfig resolves keyring:// secrets in the already-initialized
// global Viper and unmarshals the validated configuration.
func loadConfig() (*config.Config, error) {
	v := viper.GetViper()
	secrets.ResolveViperSecrets(v, secrets.NewKeyringStore())
	return config.FromViper(v)
}

func openStore(cfg *config.Config) (*sqlite.Store, error) {
	return sqlite.New(cfg.Storage.Path, cfg.Embedding.Dimensions)
}

func buildGateway(cfg *config.Config) (*gateway.Gateway, error) {
	embedder, err := openai.New(openai.Config{
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
	})
	if err != nil {
		return nil, keeperr.Wrap(err, keeperr.CodeCLISetupFailure, "configuring embedding provider")
	}

	generator, err := anthropic.New(anthropic.Config{
		APIKey: cfg.Generation.APIKey,
		Model:  cfg.Generation.Model,
	})
	if err != nil {
		return nil, keeperr.Wrap(err, keeperr.CodeCLISetupFailure, "configuring generation provider")
	}

	retry := gateway.RetryConfig{
		MaxAttempts: cfg.Provider.RetryAttempts,
		BaseDelay:   cfg.Provider.RetryBaseDelay,
		MaxDelay:    cfg.Provider.RetryMaxDelay,
	}
	return gateway.New(embedder, generator, gateway.Config{
		EmbedRetry:       retry,
		GenerateRetry:    retry,
		BreakerThreshold: cfg.Provider.BreakerThreshold,
		BreakerCooldown:  cfg.Provider.BreakerCooldown,
		CallTimeout:      cfg.Provider.CallTimeout,
		CacheMaxBytes:    cfg.Provider.CacheMaxBytes,
	})
}

func buildServices(cfg *config.Config, st *sqlite.Store, gw *gateway.Gateway) *server.Services {
	searchEngine := search.New(st.Archive(), st.Audit(), gw)

	summarizer := summarize.New(searchEngine, gw, st.Audit())
	summarizer.SetMaxTokens(cfg.Generation.MaxTokens)

	return &server.Services{
		Archiver:   archive.New(st.Archive(), st.Audit(), gw),
		Searcher:   searchEngine,
		Summarizer: summarizer,
		Settings:   st.Settings(),
		Audit:      st.Audit(),
		Provider:   gw,
		Store:      st,
	}
}

func buildRetention(cfg *config.Config, st *sqlite.Store) *retention.Manager {
	return retention.New(st.Archive(), st.Settings(), st.Audit(), cfg.Retention.Concurrency)
}
