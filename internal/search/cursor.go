// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package search

import (
	"encoding/base64"
	"encoding/json"

	"github.com/keepsake-dev/keepsake/internal/store"
	keeperr "github.com/keepsake-dev/keepsake/pkg/errors"
)

// encodeCursor serializes a resume position into an opaque token. Clients
// must treat the token as a black box; its layout may change between
// releases.
func encodeCursor(cursor store.Cursor) (string, error) {
	raw, err := json.Marshal(cursor)
	if err != nil {
		return "", keeperr.Wrap(err, keeperr.CodeSearchCursorInvalid, "encoding cursor")
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// decodeCursor parses a client-supplied token. Any malformed token maps to
// the same invalid-cursor code so callers cannot probe the layout.
func decodeCursor(token string) (*store.Cursor, error) {
	if token == "" {
		return nil, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, keeperr.Wrap(err, keeperr.CodeSearchCursorInvalid, "malformed cursor token")
	}

	var cursor store.Cursor
	if err := json.Unmarshal(raw, &cursor); err != nil {
		return nil, keeperr.Wrap(err, keeperr.CodeSearchCursorInvalid, "malformed cursor token")
	}
	if cursor.MessageID == "" {
		return nil, keeperr.New(keeperr.CodeSearchCursorInvalid, "cursor missing resume position")
	}

	return &cursor, nil
}
