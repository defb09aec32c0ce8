// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package sqlite_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keepsake-dev/keepsake/internal/store"
)

func TestSettingsStore_GetDefaults(t *testing.T) {
	ctx := context.Background()
	s := testStore(t, "settings-defaults")

	settings, err := s.Settings().Get(ctx, "g1")
	require.NoError(t, err)

	assert.Equal(t, "g1", settings.TenantID)
	assert.Equal(t, store.VisibilityPublic, settings.Visibility)
	assert.Empty(t, settings.CanArchiveRoleIDs)
	assert.Zero(t, settings.RetentionDays)
}

func TestSettingsStore_UpdateRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := testStore(t, "settings-update")

	archiveRoles := []string{"role-archivist"}
	retention := 30
	visibility := store.VisibilityRestricted

	updated, err := s.Settings().Update(ctx, "g1", store.SettingsPatch{
		CanArchiveRoleIDs: &archiveRoles,
		Visibility:        &visibility,
		RetentionDays:     &retention,
	})
	require.NoError(t, err)
	assert.Equal(t, archiveRoles, updated.CanArchiveRoleIDs)
	assert.Equal(t, store.VisibilityRestricted, updated.Visibility)
	assert.Equal(t, 30, updated.RetentionDays)
	assert.False(t, updated.UpdatedAt.IsZero())

	got, err := s.Settings().Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, updated.CanArchiveRoleIDs, got.CanArchiveRoleIDs)
	assert.Equal(t, updated.Visibility, got.Visibility)
	assert.Equal(t, updated.RetentionDays, got.RetentionDays)
}

func TestSettingsStore_PartialPatch(t *testing.T) {
	ctx := context.Background()
	s := testStore(t, "settings-patch")

	retention := 7
	_, err := s.Settings().Update(ctx, "g1", store.SettingsPatch{RetentionDays: &retention})
	require.NoError(t, err)

	// Patching another field leaves retention in place.
	searchRoles := []string{"role-member"}
	updated, err := s.Settings().Update(ctx, "g1", store.SettingsPatch{CanSearchRoleIDs: &searchRoles})
	require.NoError(t, err)
	assert.Equal(t, 7, updated.RetentionDays)
	assert.Equal(t, searchRoles, updated.CanSearchRoleIDs)
}

func TestSettingsStore_ClearRoles(t *testing.T) {
	ctx := context.Background()
	s := testStore(t, "settings-clear")

	roles := []string{"role-a"}
	_, err := s.Settings().Update(ctx, "g1", store.SettingsPatch{CanArchiveRoleIDs: &roles})
	require.NoError(t, err)

	empty := []string{}
	updated, err := s.Settings().Update(ctx, "g1", store.SettingsPatch{CanArchiveRoleIDs: &empty})
	require.NoError(t, err)
	assert.Empty(t, updated.CanArchiveRoleIDs)
}

func TestSettingsStore_ConcurrentPatchesBothSurvive(t *testing.T) {
	ctx := context.Background()
	s := testStore(t, "settings-concurrent")

	archiveRoles := []string{"role-archivist"}
	retention := 14

	// Two admins patch disjoint fields at the same time; neither patch
	// may be lost to the other's read-modify-write.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = s.Settings().Update(ctx, "g1", store.SettingsPatch{CanArchiveRoleIDs: &archiveRoles})
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = s.Settings().Update(ctx, "g1", store.SettingsPatch{RetentionDays: &retention})
	}()
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	got, err := s.Settings().Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, archiveRoles, got.CanArchiveRoleIDs)
	assert.Equal(t, 14, got.RetentionDays)
}

func TestSettingsStore_UpdateValidation(t *testing.T) {
	ctx := context.Background()
	s := testStore(t, "settings-invalid")

	bad := store.Visibility("friends-only")
	_, err := s.Settings().Update(ctx, "g1", store.SettingsPatch{Visibility: &bad})
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	negative := -3
	_, err = s.Settings().Update(ctx, "g1", store.SettingsPatch{RetentionDays: &negative})
	assert.ErrorIs(t, err, store.ErrInvalidInput)
}

func TestSettingsStore_ListWithRetention(t *testing.T) {
	ctx := context.Background()
	s := testStore(t, "settings-retention-list")

	seven := 7
	zero := 0
	_, err := s.Settings().Update(ctx, "g-keep", store.SettingsPatch{RetentionDays: &seven})
	require.NoError(t, err)
	_, err = s.Settings().Update(ctx, "g-forever", store.SettingsPatch{RetentionDays: &zero})
	require.NoError(t, err)

	tenants, err := s.Settings().ListWithRetention(ctx)
	require.NoError(t, err)
	require.Len(t, tenants, 1)
	assert.Equal(t, "g-keep", tenants[0].TenantID)
	assert.Equal(t, 7, tenants[0].RetentionDays)
}
