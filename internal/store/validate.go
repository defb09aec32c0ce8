// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package store

import (
	"fmt"
	"strings"
)

// ValidateMessage checks the invariants every archived message must satisfy
// before it reaches the database. dimensions is the embedding width required
// by the active model; zero skips the dimension check (for pre-embedding
// validation).
func ValidateMessage(msg *ArchivedMessage, dimensions int) error {
	if msg == nil {
		return fmt.Errorf("message is nil: %w", ErrInvalidInput)
	}
	if strings.TrimSpace(msg.TenantID) == "" {
		return fmt.Errorf("tenant id is required: %w", ErrInvalidInput)
	}
	if strings.TrimSpace(msg.MessageID) == "" {
		return fmt.Errorf("message id is required: %w", ErrInvalidInput)
	}
	if strings.TrimSpace(msg.Content) == "" {
		return fmt.Errorf("content is required: %w", ErrInvalidInput)
	}
	if dimensions > 0 && len(msg.Embedding) != dimensions {
		return fmt.Errorf("embedding has %d dimensions, store requires %d: %w",
			len(msg.Embedding), dimensions, ErrInvalidInput)
	}
	return nil
}

// ValidateSettings rejects settings values the schema cannot represent.
func ValidateSettings(s *GuildSettings) error {
	if s == nil {
		return fmt.Errorf("settings are nil: %w", ErrInvalidInput)
	}
	if strings.TrimSpace(s.TenantID) == "" {
		return fmt.Errorf("tenant id is required: %w", ErrInvalidInput)
	}
	switch s.Visibility {
	case VisibilityPublic, VisibilityRestricted:
	default:
		return fmt.Errorf("visibility %q is not valid: %w", s.Visibility, ErrInvalidInput)
	}
	if s.RetentionDays < 0 {
		return fmt.Errorf("retention days must not be negative: %w", ErrInvalidInput)
	}
	return nil
}
