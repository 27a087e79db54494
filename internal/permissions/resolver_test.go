package permissions_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/branchdesk/branchdesk/internal/database/testutil"
	"github.com/branchdesk/branchdesk/internal/models"
	"github.com/branchdesk/branchdesk/internal/permissions"
)

func TestEffectiveUnionsRoleAndAdditional(t *testing.T) {
	user := &models.User{
		Role: &models.Role{
			Permissions: []models.Permission{
				{BaseModel: models.BaseModel{ID: "reports.view_own"}},
				{BaseModel: models.BaseModel{ID: "reports.create"}},
			},
		},
		Overrides: []models.UserPermission{
			{PermissionID: "reports.export", Type: models.OverrideAdditional},
		},
	}

	require.Equal(t,
		[]string{"reports.create", "reports.export", "reports.view_own"},
		permissions.Effective(user))
}

func TestEffectiveRestrictionWins(t *testing.T) {
	user := &models.User{
		Role: &models.Role{
			Permissions: []models.Permission{
				{BaseModel: models.BaseModel{ID: "reports.view_own"}},
				{BaseModel: models.BaseModel{ID: "reports.create"}},
			},
		},
		Overrides: []models.UserPermission{
			// Same key granted and restricted: restriction takes it away.
			{PermissionID: "reports.create", Type: models.OverrideAdditional},
			{PermissionID: "reports.create", Type: models.OverrideRestricted},
		},
	}

	require.Equal(t, []string{"reports.view_own"}, permissions.Effective(user))
}

func TestEffectiveRestrictingAbsentKeyIsNoOp(t *testing.T) {
	user := &models.User{
		Role: &models.Role{
			Permissions: []models.Permission{
				{BaseModel: models.BaseModel{ID: "dashboard.view"}},
			},
		},
		Overrides: []models.UserPermission{
			{PermissionID: "reports.export", Type: models.OverrideRestricted},
		},
	}

	require.Equal(t, []string{"dashboard.view"}, permissions.Effective(user))
}

func TestEffectiveEmptyInputs(t *testing.T) {
	require.Empty(t, permissions.Effective(&models.User{}))

	user := &models.User{
		Overrides: []models.UserPermission{
			{PermissionID: "kpi.view", Type: models.OverrideAdditional},
		},
	}
	require.Equal(t, []string{"kpi.view"}, permissions.Effective(user))
}

func TestEffectiveDeduplicates(t *testing.T) {
	user := &models.User{
		Role: &models.Role{
			Permissions: []models.Permission{
				{BaseModel: models.BaseModel{ID: "kpi.view"}},
			},
		},
		Overrides: []models.UserPermission{
			{PermissionID: "kpi.view", Type: models.OverrideAdditional},
		},
	}

	require.Equal(t, []string{"kpi.view"}, permissions.Effective(user))
}

func TestResolverLoadsFromStore(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())

	user := seedResolverUser(t, db)

	resolver, err := permissions.NewResolver(db)
	require.NoError(t, err)

	effective, err := resolver.Resolve(context.Background(), user.ID)
	require.NoError(t, err)

	// operator grants minus the restricted key plus the additional one
	require.Contains(t, effective, "reports.view_own")
	require.Contains(t, effective, "reports.export")
	require.NotContains(t, effective, "reports.edit")
}

func TestResolverRequiresUserID(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	resolver, err := permissions.NewResolver(db)
	require.NoError(t, err)

	_, err = resolver.Resolve(context.Background(), "  ")
	require.Error(t, err)
}

func seedResolverUser(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()

	user := &models.User{
		Username: "resolver-user",
		Password: "x",
		RoleID:   "operator",
		Status:   models.StatusActive,
	}
	require.NoError(t, db.Create(user).Error)

	overrides := []models.UserPermission{
		{UserID: user.ID, PermissionID: "reports.export", Type: models.OverrideAdditional},
		{UserID: user.ID, PermissionID: "reports.edit", Type: models.OverrideRestricted},
	}
	for i := range overrides {
		require.NoError(t, db.Create(&overrides[i]).Error)
	}

	return user
}
