// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package provider

import "context"

// Embedder turns text into fixed-dimension vectors. Implementations talk
// to exactly one external embedding API; all caching, retry, and breaker
// policy lives above them in the gateway.
type Embedder interface {
	Name() string

	// Dimensions is the width of every vector this embedder produces.
	Dimensions() int

	// EmbedBatch returns one vector per input text, preserving order and
	// length. A failed call returns no partial results.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// GenerateRequest is a single non-streaming generation call.
type GenerateRequest struct {
	SystemPrompt string
	Prompt       string
	MaxTokens    int
	Temperature  float32
}

// Generator produces text completions for the summarization path.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}
