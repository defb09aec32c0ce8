// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package guard_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/keepsake-dev/keepsake/internal/guard"
	"github.com/keepsake-dev/keepsake/internal/store"
)

func TestPermissionGate(t *testing.T) {
	tests := []struct {
		name       string
		required   []string
		held       []string
		wantAllow  bool
	}{
		{"empty set is unrestricted", nil, nil, true},
		{"empty set ignores held roles", []string{}, []string{"role-a"}, true},
		{"holding a listed role", []string{"role-a", "role-b"}, []string{"role-b"}, true},
		{"holding no listed role", []string{"role-a"}, []string{"role-c"}, false},
		{"restricted actor with no roles", []string{"role-a"}, nil, false},
		{"one match among many held", []string{"role-a"}, []string{"x", "y", "role-a"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			archiveSettings := store.DefaultSettings("g1")
			archiveSettings.CanArchiveRoleIDs = tt.required
			assert.Equal(t, tt.wantAllow, guard.CanArchive(archiveSettings, tt.held))

			searchSettings := store.DefaultSettings("g1")
			searchSettings.CanSearchRoleIDs = tt.required
			assert.Equal(t, tt.wantAllow, guard.CanSearch(searchSettings, tt.held))
		})
	}
}

func TestPermissionGate_IndependentActions(t *testing.T) {
	settings := store.DefaultSettings("g1")
	settings.CanArchiveRoleIDs = []string{"role-archivist"}

	// Search stays unrestricted when only archive is locked down.
	assert.False(t, guard.CanArchive(settings, []string{"role-member"}))
	assert.True(t, guard.CanSearch(settings, []string{"role-member"}))
}
