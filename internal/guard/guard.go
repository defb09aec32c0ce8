// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

// Package guard decides whether an actor may perform an action in a
// tenant. It is a pure function of the tenant's settings and the
// caller-supplied role set; role membership itself is resolved by the
// chat-platform collaborator upstream.
package guard

import "github.com/keepsake-dev/keepsake/internal/store"

// CanArchive reports whether an actor holding actorRoles may archive
// messages under the given settings.
func CanArchive(settings *store.GuildSettings, actorRoles []string) bool {
	return allowed(settings.CanArchiveRoleIDs, actorRoles)
}

// CanSearch reports whether an actor holding actorRoles may search or
// summarize under the given settings.
func CanSearch(settings *store.GuildSettings, actorRoles []string) bool {
	return allowed(settings.CanSearchRoleIDs, actorRoles)
}

// allowed implements the policy: an empty configured set means the action
// is unrestricted; otherwise the actor must hold at least one listed role.
func allowed(required, held []string) bool {
	if len(required) == 0 {
		return true
	}

	want := make(map[string]struct{}, len(required))
	for _, role := range required {
		want[role] = struct{}{}
	}

	for _, role := range held {
		if _, ok := want[role]; ok {
			return true
		}
	}
	return false
}
