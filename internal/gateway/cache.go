// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/dgraph-io/ristretto"
)

// DefaultCacheMaxBytes bounds the embedding cache at 64 MiB of vector data.
const DefaultCacheMaxBytes = 64 << 20

// ContentHash returns the cache key for a text under a given model. The
// text is trimmed but case-preserved; the model name is mixed in so a
// model switch never serves vectors of the wrong dimension.
func ContentHash(model, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(h.Sum(nil))
}

// vectorCache is a bounded concurrent cache of embedding vectors keyed by
// content hash. Entries are pure derived values, safe to evict at any time.
type vectorCache struct {
	cache *ristretto.Cache
}

func newVectorCache(maxBytes int64) (*vectorCache, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultCacheMaxBytes
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		// Counters sized for ~10x the expected live entries at 1 KiB
		// per vector, per the ristretto sizing guidance.
		NumCounters: maxBytes / 1024 * 10,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	return &vectorCache{cache: cache}, nil
}

func (c *vectorCache) get(key string) ([]float32, bool) {
	value, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	vec, ok := value.([]float32)
	return vec, ok
}

// set stores a copy of vec so later callers cannot alias the cached entry.
// The write is flushed before returning, which keeps the "second embed of
// the same text is a cache hit" guarantee deterministic.
func (c *vectorCache) set(key string, vec []float32) {
	stored := make([]float32, len(vec))
	copy(stored, vec)
	c.cache.Set(key, stored, int64(len(stored)*4))
	c.cache.Wait()
}

func (c *vectorCache) close() {
	c.cache.Close()
}
