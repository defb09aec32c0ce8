// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/keepsake-dev/keepsake/internal/store"
)

func init() {
	sqlite_vec.Auto()
}

// Compile-time interface checks.
var (
	_ store.Store         = (*Store)(nil)
	_ store.ArchiveStore  = (*archiveStore)(nil)
	_ store.SettingsStore = (*settingsStore)(nil)
	_ store.AuditStore    = (*auditStore)(nil)
)

// Store implements store.Store backed by a single SQLite database with the
// sqlite-vec extension loaded for cosine distance.
type Store struct {
	db       *sql.DB
	archive  *archiveStore
	settings *settingsStore
	audit    *auditStore
}

// New opens (or creates) a SQLite database at dbPath and initialises the
// archived_messages, guild_settings, and audit_log tables. dimensions fixes
// the embedding width accepted by the archive table; it must match the
// active embedding model's output.
func New(dbPath string, dimensions int) (*Store, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be positive, got %d", dimensions)
	}

	// _txlock=immediate makes transactions take the write lock at BEGIN,
	// so concurrent read-modify-write transactions queue on the busy
	// timeout instead of failing on lock upgrade.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating tables: %w", err)
	}

	return &Store{
		db:       db,
		archive:  &archiveStore{db: db, dimensions: dimensions},
		settings: &settingsStore{db: db},
		audit:    &auditStore{db: db},
	}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS archived_messages (
	tenant_id       TEXT NOT NULL,
	message_id      TEXT NOT NULL,
	channel_id      TEXT NOT NULL DEFAULT '',
	author_id       TEXT NOT NULL DEFAULT '',
	author_username TEXT NOT NULL DEFAULT '',
	content         TEXT NOT NULL,
	attachments     TEXT NOT NULL DEFAULT '[]',
	created_at      INTEGER NOT NULL,
	archived_at     INTEGER NOT NULL,
	embedding       BLOB NOT NULL,
	PRIMARY KEY (tenant_id, message_id)
);

CREATE INDEX IF NOT EXISTS idx_archived_tenant_channel_created
	ON archived_messages(tenant_id, channel_id, created_at);
CREATE INDEX IF NOT EXISTS idx_archived_tenant_author_created
	ON archived_messages(tenant_id, author_id, created_at);
CREATE INDEX IF NOT EXISTS idx_archived_tenant_archived
	ON archived_messages(tenant_id, archived_at);

CREATE TABLE IF NOT EXISTS guild_settings (
	tenant_id            TEXT PRIMARY KEY,
	can_archive_role_ids TEXT NOT NULL DEFAULT '[]',
	can_search_role_ids  TEXT NOT NULL DEFAULT '[]',
	visibility           TEXT NOT NULL DEFAULT 'public',
	retention_days       INTEGER NOT NULL DEFAULT 0,
	updated_at           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
	id        TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	actor_id  TEXT NOT NULL DEFAULT '',
	action    TEXT NOT NULL,
	details   TEXT NOT NULL DEFAULT '{}',
	timestamp TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_tenant_timestamp ON audit_log(tenant_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_action           ON audit_log(action);
`
	_, err := db.Exec(ddl)
	return err
}

// Archive returns the ArchiveStore sub-store.
func (s *Store) Archive() store.ArchiveStore { return s.archive }

// Settings returns the SettingsStore sub-store.
func (s *Store) Settings() store.SettingsStore { return s.settings }

// Audit returns the AuditStore sub-store.
func (s *Store) Audit() store.AuditStore { return s.audit }

// Ping reports whether the backing database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// formatTime serialises a time.Time to RFC3339 with nanosecond precision.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime deserialises a time string stored in the database.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
