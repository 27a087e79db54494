package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/branchdesk/branchdesk/internal/database/testutil"
	"github.com/branchdesk/branchdesk/internal/models"
)

func TestRefreshUserRewritesSnapshots(t *testing.T) {
	db, sessions, _ := newSessionFixture(t, time.Hour)
	user := seedSessionUser(t, db, "refresh-user")

	session, err := sessions.Create(context.Background(), user.ID, SessionMetadata{
		IPAddress: "10.1.1.1",
		UserAgent: "old-device",
	})
	require.NoError(t, err)

	before, err := DecodeSnapshot(session.Snapshot)
	require.NoError(t, err)
	require.NotContains(t, before.Permissions, "reports.export")

	// Grant an additional permission behind the session's back.
	override := models.UserPermission{
		UserID:       user.ID,
		PermissionID: "reports.export",
		Type:         models.OverrideAdditional,
	}
	require.NoError(t, db.Create(&override).Error)

	refresher, err := NewRefresher(db)
	require.NoError(t, err)
	require.NoError(t, refresher.RefreshUser(context.Background(), user.ID))

	var stored models.Session
	require.NoError(t, db.Take(&stored, "id = ?", session.ID).Error)

	after, err := DecodeSnapshot(stored.Snapshot)
	require.NoError(t, err)
	require.Contains(t, after.Permissions, "reports.export")

	// Identity, token, client metadata and expiry survive the refresh.
	require.Equal(t, session.Token, stored.Token)
	require.Equal(t, session.IPAddress, stored.IPAddress)
	require.Equal(t, session.UserAgent, stored.UserAgent)
	require.WithinDuration(t, session.ExpiresAt, stored.ExpiresAt, time.Second)
}

func TestRefreshUserDropsOrphanSessions(t *testing.T) {
	db, sessions, _ := newSessionFixture(t, time.Hour)
	user := seedSessionUser(t, db, "orphan-user")

	session, err := sessions.Create(context.Background(), user.ID, SessionMetadata{})
	require.NoError(t, err)

	// Simulate a store that lost the user row while keeping its sessions.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.Exec("PRAGMA foreign_keys = OFF").Error)
	require.NoError(t, db.Exec("DELETE FROM users WHERE id = ?", user.ID).Error)
	require.NoError(t, db.Exec("PRAGMA foreign_keys = ON").Error)

	refresher, err := NewRefresher(db)
	require.NoError(t, err)
	require.NoError(t, refresher.RefreshUser(context.Background(), user.ID))

	var count int64
	require.NoError(t, db.Model(&models.Session{}).Where("id = ?", session.ID).Count(&count).Error)
	require.Zero(t, count)
}

func TestRefreshRoleTouchesEveryMember(t *testing.T) {
	db, sessions, _ := newSessionFixture(t, time.Hour)

	first := seedSessionUser(t, db, "member-one")
	second := seedSessionUser(t, db, "member-two")

	sessA, err := sessions.Create(context.Background(), first.ID, SessionMetadata{})
	require.NoError(t, err)
	sessB, err := sessions.Create(context.Background(), second.ID, SessionMetadata{})
	require.NoError(t, err)

	// Shrink the operator role to a single grant.
	var role models.Role
	require.NoError(t, db.Preload("Permissions").Take(&role, "id = ?", "operator").Error)
	var keep models.Permission
	require.NoError(t, db.Take(&keep, "id = ?", "reports.view_own").Error)
	require.NoError(t, db.Model(&role).Association("Permissions").Replace(&keep))

	refresher, err := NewRefresher(db)
	require.NoError(t, err)
	require.NoError(t, refresher.RefreshRole(context.Background(), "operator"))

	for _, id := range []string{sessA.ID, sessB.ID} {
		var stored models.Session
		require.NoError(t, db.Take(&stored, "id = ?", id).Error)

		snap, err := DecodeSnapshot(stored.Snapshot)
		require.NoError(t, err)
		require.Equal(t, []string{"reports.view_own"}, snap.Permissions)
	}
}

func TestRefreshAllCoversEverySessionOwner(t *testing.T) {
	db, sessions, _ := newSessionFixture(t, time.Hour)

	user := seedSessionUser(t, db, "refresh-all-user")
	session, err := sessions.Create(context.Background(), user.ID, SessionMetadata{})
	require.NoError(t, err)

	override := models.UserPermission{
		UserID:       user.ID,
		PermissionID: "reports.view_own",
		Type:         models.OverrideRestricted,
	}
	require.NoError(t, db.Create(&override).Error)

	refresher, err := NewRefresher(db)
	require.NoError(t, err)
	require.NoError(t, refresher.RefreshAll(context.Background()))

	var stored models.Session
	require.NoError(t, db.Take(&stored, "id = ?", session.ID).Error)

	snap, err := DecodeSnapshot(stored.Snapshot)
	require.NoError(t, err)
	require.NotContains(t, snap.Permissions, "reports.view_own")
}

func TestRefresherRequiresDB(t *testing.T) {
	_, err := NewRefresher(nil)
	require.Error(t, err)

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	refresher, err := NewRefresher(db)
	require.NoError(t, err)
	require.NoError(t, refresher.RefreshAll(context.Background()))
}
