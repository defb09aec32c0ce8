// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package store

import "time"

// --- Archive types ---

// Attachment holds normalized metadata for a file attached to an archived
// message. The file content itself is never stored, only the pointer back
// to the platform CDN.
type Attachment struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	URL         string `json:"url"`
}

// ArchivedMessage is a chat message captured into the archive. The
// (TenantID, MessageID) pair is the dedup key: at most one row exists per
// pair, and rows are never mutated after insert except by retention
// deletion or explicit admin removal.
type ArchivedMessage struct {
	TenantID       string
	MessageID      string
	ChannelID      string
	AuthorID       string
	AuthorUsername string
	Content        string
	Attachments    []Attachment
	// CreatedAt is the original platform timestamp of the message;
	// ArchivedAt is when the archive accepted it. Retention cutoffs are
	// computed against ArchivedAt.
	CreatedAt  time.Time
	ArchivedAt time.Time
	Embedding  []float32
}

// SearchFilter restricts a nearest-neighbor query to exact predicates.
// Zero values mean "no restriction"; the tenant predicate is never
// optional and is carried separately by every store call.
type SearchFilter struct {
	AuthorID  string
	ChannelID string
	Before    *time.Time
	After     *time.Time
}

// Cursor marks a resume position in a ranked result list. Ties on
// Distance are broken by MessageID ascending, which makes pagination
// deterministic for a fixed result set.
type Cursor struct {
	Distance  float64 `json:"d"`
	MessageID string  `json:"id"`
}

// Neighbor is one ranked candidate from a nearest-neighbor query.
// Distance is cosine distance: lower is more similar.
type Neighbor struct {
	Message  ArchivedMessage
	Distance float64
}

// --- Settings types ---

// Visibility controls who may see search results in a tenant.
type Visibility string

const (
	VisibilityPublic     Visibility = "public"
	VisibilityRestricted Visibility = "restricted"
)

// GuildSettings holds per-tenant policy. An empty role set means the
// action is unrestricted. RetentionDays of zero means keep forever.
type GuildSettings struct {
	TenantID          string
	CanArchiveRoleIDs []string
	CanSearchRoleIDs  []string
	Visibility        Visibility
	RetentionDays     int
	UpdatedAt         time.Time
}

// DefaultSettings returns the policy applied to a tenant that has never
// been configured: everything unrestricted, public, keep forever.
func DefaultSettings(tenantID string) *GuildSettings {
	return &GuildSettings{
		TenantID:   tenantID,
		Visibility: VisibilityPublic,
	}
}

// SettingsPatch carries a partial settings update. Nil fields are left
// unchanged; a non-nil empty slice clears the corresponding role set.
type SettingsPatch struct {
	CanArchiveRoleIDs *[]string
	CanSearchRoleIDs  *[]string
	Visibility        *Visibility
	RetentionDays     *int
}

// --- Audit types ---

// AuditAction identifies the kind of operation an audit entry records.
type AuditAction string

const (
	AuditActionArchive        AuditAction = "archive"
	AuditActionSearch         AuditAction = "search"
	AuditActionSummarize      AuditAction = "summarize"
	AuditActionSettingsUpdate AuditAction = "settings-update"
	AuditActionRetentionSweep AuditAction = "retention-sweep"
)

// AuditEntry is one append-only fact in the action ledger. Entries are
// immutable once written; retention sweeps do not purge audit history.
type AuditEntry struct {
	ID        string
	TenantID  string
	ActorID   string
	Action    AuditAction
	Details   map[string]any
	Timestamp time.Time
}

// AuditFilter specifies criteria for querying audit entries.
type AuditFilter struct {
	TenantID string
	ActorID  string
	Action   AuditAction
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}
