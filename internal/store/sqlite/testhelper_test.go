// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package sqlite_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/keepsake-dev/keepsake/internal/store"
	"github.com/keepsake-dev/keepsake/internal/store/sqlite"
)

// testDir creates a temp directory for a test and returns it.
func testDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "keepsake-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

// testStore opens a store over a temp SQLite database with 3-dimensional
// embeddings for testing.
func testStore(t *testing.T, name string) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(filepath.Join(testDir(t), name+".db"), 3)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// msg builds a valid archived message with the given identity and embedding.
func msg(tenantID, messageID string, embedding []float32) *store.ArchivedMessage {
	return &store.ArchivedMessage{
		TenantID:       tenantID,
		MessageID:      messageID,
		ChannelID:      "chan-1",
		AuthorID:       "user-1",
		AuthorUsername: "alice",
		Content:        "content of " + messageID,
		CreatedAt:      time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		ArchivedAt:     time.Date(2026, 8, 1, 12, 0, 1, 0, time.UTC),
		Embedding:      embedding,
	}
}
