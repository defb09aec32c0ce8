// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

// Package gateway is the sole point of contact with the external
// embedding and generation providers. It layers a content-hash cache,
// bounded retry with jittered backoff, and a circuit breaker per provider
// path over the raw provider clients.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/keepsake-dev/keepsake/internal/provider"
	keeperr "github.com/keepsake-dev/keepsake/pkg/errors"
	"github.com/keepsake-dev/keepsake/pkg/health"
)

// DefaultCallTimeout bounds every single attempt against a provider.
const DefaultCallTimeout = 30 * time.Second

// Config tunes the gateway's resilience machinery. Zero values take the
// package defaults.
type Config struct {
	EmbedRetry       RetryConfig
	GenerateRetry    RetryConfig
	BreakerThreshold int
	BreakerCooldown  time.Duration
	CallTimeout      time.Duration
	CacheMaxBytes    int64
}

// Gateway mediates all external-provider traffic. The embedding and
// generation paths carry independent breakers so an embedding outage does
// not fail summarization's generation calls, and vice versa.
type Gateway struct {
	embedder  provider.Embedder
	generator provider.Generator

	cache        *vectorCache
	embedBreaker *Breaker
	genBreaker   *Breaker

	embedRetry  RetryConfig
	genRetry    RetryConfig
	callTimeout time.Duration
}

// New creates a Gateway over the given provider clients.
func New(embedder provider.Embedder, generator provider.Generator, cfg Config) (*Gateway, error) {
	if embedder == nil {
		return nil, keeperr.New(keeperr.CodeConfigValidateInvalidValue, "embedder is required")
	}
	if generator == nil {
		return nil, keeperr.New(keeperr.CodeConfigValidateInvalidValue, "generator is required")
	}

	threshold := cfg.BreakerThreshold
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = DefaultBreakerCooldown
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	embedBreaker, err := NewBreaker(embedder.Name()+"/embed", threshold, cooldown)
	if err != nil {
		return nil, err
	}
	genBreaker, err := NewBreaker(generator.Name()+"/generate", threshold, cooldown)
	if err != nil {
		return nil, err
	}

	cache, err := newVectorCache(cfg.CacheMaxBytes)
	if err != nil {
		return nil, keeperr.Wrap(err, keeperr.CodeConfigValidateInvalidValue, "building embedding cache")
	}

	return &Gateway{
		embedder:     embedder,
		generator:    generator,
		cache:        cache,
		embedBreaker: embedBreaker,
		genBreaker:   genBreaker,
		embedRetry:   cfg.EmbedRetry.withDefaults(),
		genRetry:     cfg.GenerateRetry.withDefaults(),
		callTimeout:  timeout,
	}, nil
}

// Dimensions is the embedding width of the active model.
func (g *Gateway) Dimensions() int { return g.embedder.Dimensions() }

// Embed returns the embedding for a single text.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one vector per input text, preserving order and
// length. Cached texts never reach the provider; the remainder go out in
// a single call through the embedding breaker.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	model := g.embedder.Name()
	vectors := make([][]float32, len(texts))
	keys := make([]string, len(texts))

	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		keys[i] = ContentHash(model, text)
		if vec, ok := g.cache.get(keys[i]); ok {
			vectors[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missIdx) == 0 {
		return vectors, nil
	}

	var fetched [][]float32
	err := g.call(ctx, g.embedBreaker, g.embedRetry, func(callCtx context.Context) error {
		var callErr error
		fetched, callErr = g.embedder.EmbedBatch(callCtx, missTexts)
		if callErr == nil && len(fetched) != len(missTexts) {
			return keeperr.Errorf(keeperr.CodeProviderResponseInvalid,
				"embedder returned %d vectors for %d texts", len(fetched), len(missTexts))
		}
		return callErr
	})
	if err != nil {
		return nil, err
	}

	for j, i := range missIdx {
		g.cache.set(keys[i], fetched[j])
		vectors[i] = fetched[j]
	}

	return vectors, nil
}

// Generate issues one generation call through the generation breaker.
func (g *Gateway) Generate(ctx context.Context, req provider.GenerateRequest) (string, error) {
	var text string
	err := g.call(ctx, g.genBreaker, g.genRetry, func(callCtx context.Context) error {
		var callErr error
		text, callErr = g.generator.Generate(callCtx, req)
		return callErr
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

// EmbeddingHealth snapshots the embedding breaker.
func (g *Gateway) EmbeddingHealth() health.Metrics { return g.embedBreaker.Metrics() }

// GenerationHealth snapshots the generation breaker.
func (g *Gateway) GenerationHealth() health.Metrics { return g.genBreaker.Metrics() }

// Close releases the cache's background resources.
func (g *Gateway) Close() { g.cache.close() }

// call runs fn through the breaker with bounded jittered retries. Each
// attempt carries its own timeout; timeouts count as attempt failures.
// The breaker sees exactly one outcome per call: success, or one failure
// after the retry budget is exhausted. Caller-side cancellation aborts
// the loop without charging the breaker, since it says nothing about the
// provider's condition; the admitted slot is released so a later call can
// still probe a half-open breaker.
func (g *Gateway) call(ctx context.Context, breaker *Breaker, retry RetryConfig, fn func(context.Context) error) error {
	if err := breaker.Allow(); err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				breaker.Abort()
				return keeperr.Wrap(ctx.Err(), keeperr.CodeProviderTimeout, "request cancelled during retry wait")
			case <-time.After(retry.delay(attempt - 1)):
			}
			slog.Debug("retrying provider call", "attempt", attempt+1, "max_attempts", retry.MaxAttempts)
		}

		callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
		err := fn(callCtx)
		cancel()

		if err == nil {
			breaker.RecordSuccess()
			return nil
		}
		lastErr = err

		if errors.Is(ctx.Err(), context.Canceled) {
			breaker.Abort()
			return keeperr.Wrap(err, keeperr.CodeProviderTimeout, "request cancelled during provider call")
		}
	}

	breaker.RecordFailure()
	return keeperr.Wrap(lastErr, keeperr.CodeProviderUpstreamFailure,
		"provider call failed after retries")
}
