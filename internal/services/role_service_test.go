package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/branchdesk/branchdesk/internal/auth"
	"github.com/branchdesk/branchdesk/internal/models"
)

func TestRoleServiceCreateWithGrants(t *testing.T) {
	f := newServiceFixture(t)

	role, err := f.roles.Create(context.Background(), CreateRoleInput{
		Name:          "Auditor",
		Description:   "Read-only oversight",
		PermissionIDs: []string{"audit.view", "reports.view_all"},
	})
	require.NoError(t, err)
	require.False(t, role.IsSystem)
	require.Len(t, role.Permissions, 2)
}

func TestRoleServiceCreateRequiresName(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.roles.Create(context.Background(), CreateRoleInput{Name: "  "})
	require.Error(t, err)
}

func TestSetPermissionsRefreshesMemberSessions(t *testing.T) {
	f := newServiceFixture(t)

	first, err := f.users.Create(context.Background(), CreateUserInput{
		Username: "member-one",
		Password: "password123",
		RoleID:   "operator",
		Status:   models.StatusActive,
	})
	require.NoError(t, err)

	second, err := f.users.Create(context.Background(), CreateUserInput{
		Username: "member-two",
		Password: "password123",
		RoleID:   "operator",
		Status:   models.StatusActive,
	})
	require.NoError(t, err)

	s1, err := f.sessions.Create(context.Background(), first.ID, auth.SessionMetadata{})
	require.NoError(t, err)
	s2, err := f.sessions.Create(context.Background(), second.ID, auth.SessionMetadata{})
	require.NoError(t, err)

	_, err = f.roles.SetPermissions(context.Background(), "operator", []string{"reports.view_own"})
	require.NoError(t, err)

	for _, id := range []string{s1.ID, s2.ID} {
		var stored models.Session
		require.NoError(t, f.db.Take(&stored, "id = ?", id).Error)

		snap, err := auth.DecodeSnapshot(stored.Snapshot)
		require.NoError(t, err)
		require.Equal(t, []string{"reports.view_own"}, snap.Permissions)
	}
}

func TestRenameRoleRefreshesMemberSessions(t *testing.T) {
	f := newServiceFixture(t)

	user, err := f.users.Create(context.Background(), CreateUserInput{
		Username: "renamed-role-member",
		Password: "password123",
		RoleID:   "operator",
		Status:   models.StatusActive,
	})
	require.NoError(t, err)

	session, err := f.sessions.Create(context.Background(), user.ID, auth.SessionMetadata{})
	require.NoError(t, err)

	name := "Branch Operator"
	_, err = f.roles.Update(context.Background(), "operator", UpdateRoleInput{Name: &name})
	require.NoError(t, err)

	var stored models.Session
	require.NoError(t, f.db.Take(&stored, "id = ?", session.ID).Error)

	snap, err := auth.DecodeSnapshot(stored.Snapshot)
	require.NoError(t, err)
	require.Equal(t, "Branch Operator", snap.Role)
}

func TestSetPermissionsRejectsUnknownKey(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.roles.SetPermissions(context.Background(), "operator", []string{"reports.invent"})
	require.Error(t, err)
}

func TestDeleteSystemRoleForbidden(t *testing.T) {
	f := newServiceFixture(t)

	err := f.roles.Delete(context.Background(), "admin")
	require.ErrorIs(t, err, ErrSystemRoleImmutable)
}

func TestDeleteRoleWithMembersForbidden(t *testing.T) {
	f := newServiceFixture(t)

	role, err := f.roles.Create(context.Background(), CreateRoleInput{Name: "Temp"})
	require.NoError(t, err)

	_, err = f.users.Create(context.Background(), CreateUserInput{
		Username: "temp-member",
		Password: "password123",
		RoleID:   role.ID,
	})
	require.NoError(t, err)

	require.Error(t, f.roles.Delete(context.Background(), role.ID))
}

func TestDeleteUnassignedCustomRole(t *testing.T) {
	f := newServiceFixture(t)

	role, err := f.roles.Create(context.Background(), CreateRoleInput{Name: "Ephemeral"})
	require.NoError(t, err)

	require.NoError(t, f.roles.Delete(context.Background(), role.ID))

	_, err = f.roles.Get(context.Background(), role.ID)
	require.ErrorIs(t, err, ErrRoleNotFound)
}
