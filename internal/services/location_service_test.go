package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/branchdesk/branchdesk/internal/auth"
	"github.com/branchdesk/branchdesk/internal/models"
)

func TestLocationCreateAndGet(t *testing.T) {
	f := newServiceFixture(t)

	created, err := f.locations.Create(context.Background(), LocationInput{
		Name:  "Harbor Branch",
		Brand: "north",
	})
	require.NoError(t, err)

	fetched, err := f.locations.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, "Harbor Branch", fetched.Name)
	require.Equal(t, "north", fetched.Brand)
}

func TestRenameLocationRefreshesAssigneeSessions(t *testing.T) {
	f := newServiceFixture(t)

	location, err := f.locations.Create(context.Background(), LocationInput{Name: "Old Market"})
	require.NoError(t, err)

	user, err := f.users.Create(context.Background(), CreateUserInput{
		Username:    "market-operator",
		Password:    "password123",
		RoleID:      "operator",
		Status:      models.StatusActive,
		LocationIDs: []string{location.ID},
	})
	require.NoError(t, err)

	session, err := f.sessions.Create(context.Background(), user.ID, auth.SessionMetadata{})
	require.NoError(t, err)

	before, err := auth.DecodeSnapshot(session.Snapshot)
	require.NoError(t, err)
	require.Equal(t, []string{"Old Market"}, before.Locations)

	_, err = f.locations.Update(context.Background(), location.ID, LocationInput{Name: "New Market"})
	require.NoError(t, err)

	var stored models.Session
	require.NoError(t, f.db.Take(&stored, "id = ?", session.ID).Error)

	after, err := auth.DecodeSnapshot(stored.Snapshot)
	require.NoError(t, err)
	require.Equal(t, []string{"New Market"}, after.Locations)
}

func TestLocationUpdateWithoutRenameLeavesSessionsAlone(t *testing.T) {
	f := newServiceFixture(t)

	location, err := f.locations.Create(context.Background(), LocationInput{Name: "Steady Branch"})
	require.NoError(t, err)

	user, err := f.users.Create(context.Background(), CreateUserInput{
		Username:    "steady-operator",
		Password:    "password123",
		RoleID:      "operator",
		Status:      models.StatusActive,
		LocationIDs: []string{location.ID},
	})
	require.NoError(t, err)

	session, err := f.sessions.Create(context.Background(), user.ID, auth.SessionMetadata{})
	require.NoError(t, err)

	_, err = f.locations.Update(context.Background(), location.ID, LocationInput{Brand: "south"})
	require.NoError(t, err)

	var stored models.Session
	require.NoError(t, f.db.Take(&stored, "id = ?", session.ID).Error)
	require.Equal(t, session.Snapshot, stored.Snapshot)
}

func TestDeleteAssignedLocationForbidden(t *testing.T) {
	f := newServiceFixture(t)

	location, err := f.locations.Create(context.Background(), LocationInput{Name: "Occupied Branch"})
	require.NoError(t, err)

	_, err = f.users.Create(context.Background(), CreateUserInput{
		Username:    "occupant",
		Password:    "password123",
		RoleID:      "operator",
		LocationIDs: []string{location.ID},
	})
	require.NoError(t, err)

	require.Error(t, f.locations.Delete(context.Background(), location.ID))
}
