package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/branchdesk/branchdesk/internal/database/testutil"
	"github.com/branchdesk/branchdesk/internal/models"
)

func TestLogPersistsEntryWithMetadata(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewService(db)
	require.NoError(t, err)

	err = svc.Log(context.Background(), Entry{
		Username:  "operator-1",
		Action:    ActionLoginFailed,
		Result:    ResultFailure,
		IPAddress: "203.0.113.9",
		Metadata:  map[string]any{"attempts_remaining": 2},
	})
	require.NoError(t, err)

	var stored models.AuditLog
	require.NoError(t, db.Take(&stored).Error)
	require.Equal(t, ActionLoginFailed, stored.Action)
	require.Equal(t, ResultFailure, stored.Result)
	require.Equal(t, "operator-1", stored.Username)
	require.Contains(t, stored.Metadata, "attempts_remaining")
	require.Nil(t, stored.UserID)
}

func TestLogRequiresActionAndResult(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewService(db)
	require.NoError(t, err)

	require.Error(t, svc.Log(context.Background(), Entry{Result: ResultSuccess}))
	require.Error(t, svc.Log(context.Background(), Entry{Action: ActionLogout}))
}

func TestListFiltersByActionAndResult(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewService(db)
	require.NoError(t, err)

	entries := []Entry{
		{Username: "a", Action: ActionLoginFailed, Result: ResultFailure},
		{Username: "a", Action: ActionLoginSuccess, Result: ResultSuccess},
		{Username: "b", Action: ActionLoginFailed, Result: ResultFailure},
	}
	for _, entry := range entries {
		require.NoError(t, svc.Log(context.Background(), entry))
	}

	logs, total, err := svc.List(context.Background(), ListOptions{
		Filters: Filters{Action: ActionLoginFailed},
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	require.Len(t, logs, 2)

	logs, total, err = svc.List(context.Background(), ListOptions{
		Filters: Filters{Action: ActionLoginFailed, Result: ResultFailure},
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	for _, log := range logs {
		require.Equal(t, ResultFailure, log.Result)
	}
}

func TestListPaginates(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewService(db)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.Log(context.Background(), Entry{
			Action: ActionUserUpdated,
			Result: ResultSuccess,
		}))
	}

	logs, total, err := svc.List(context.Background(), ListOptions{Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.EqualValues(t, 5, total)
	require.Len(t, logs, 2)
}

func TestCleanupOlderThanRemovesOnlyStaleRows(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewService(db)
	require.NoError(t, err)

	old := models.AuditLog{Action: ActionLogout, Result: ResultSuccess}
	require.NoError(t, db.Create(&old).Error)
	require.NoError(t, db.Model(&old).
		UpdateColumn("created_at", time.Now().AddDate(0, 0, -120)).Error)

	require.NoError(t, svc.Log(context.Background(), Entry{
		Action: ActionLogout,
		Result: ResultSuccess,
	}))

	removed, err := svc.CleanupOlderThan(context.Background(), 90)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	var remaining int64
	require.NoError(t, db.Model(&models.AuditLog{}).Count(&remaining).Error)
	require.EqualValues(t, 1, remaining)
}

func TestCleanupRejectsNonPositiveRetention(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewService(db)
	require.NoError(t, err)

	_, err = svc.CleanupOlderThan(context.Background(), 0)
	require.Error(t, err)
}
