package auth

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/branchdesk/branchdesk/internal/models"
	"github.com/branchdesk/branchdesk/pkg/logger"
	"github.com/branchdesk/branchdesk/pkg/metrics"
)

// Refresher rebuilds the materialized snapshots of live sessions after an
// authorization-relevant change. Callers invoke it synchronously inside the
// mutating operation so a change is visible on the very next request that
// presents an affected session.
type Refresher struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewRefresher constructs a Refresher bound to the given store.
func NewRefresher(db *gorm.DB) (*Refresher, error) {
	if db == nil {
		return nil, errors.New("refresher: db is required")
	}
	return &Refresher{db: db, log: logger.WithModule("auth.refresher")}, nil
}

// RefreshUser recomputes the snapshot of every session belonging to one
// user. Sessions whose user no longer exists are deleted. Per-session
// failures are collected and logged; one bad row never blocks the rest.
func (r *Refresher) RefreshUser(ctx context.Context, userID string) error {
	ctx = ensureContext(ctx)

	user, err := loadAuthzUser(ctx, r.db, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Deleted user: whatever sessions remain are orphans.
		res := r.db.WithContext(ctx).Delete(&models.Session{}, "user_id = ?", userID)
		if res.Error != nil {
			return fmt.Errorf("refresher: drop orphan sessions: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			r.log.Info("dropped orphan sessions",
				zap.String("user_id", userID), zap.Int64("count", res.RowsAffected))
		}
		return nil
	}
	if err != nil {
		return err
	}

	snapshot, err := snapshotFor(user)
	if err != nil {
		return err
	}

	// Only the authorization payload changes; identity, token, client
	// metadata and expiry are untouched.
	res := r.db.WithContext(ctx).Model(&models.Session{}).
		Where("user_id = ?", userID).
		Update("snapshot", snapshot)
	if res.Error != nil {
		metrics.SessionRefreshes.WithLabelValues("failure").Inc()
		return fmt.Errorf("refresher: update snapshots: %w", res.Error)
	}

	if res.RowsAffected > 0 {
		metrics.SessionRefreshes.WithLabelValues("success").Inc()
		r.log.Debug("refreshed sessions",
			zap.String("user_id", userID), zap.Int64("count", res.RowsAffected))
	}
	return nil
}

// RefreshRole refreshes every user currently assigned the role. Used after
// a role's permission set changes.
func (r *Refresher) RefreshRole(ctx context.Context, roleID string) error {
	ctx = ensureContext(ctx)

	var userIDs []string
	if err := r.db.WithContext(ctx).Model(&models.User{}).
		Where("role_id = ?", roleID).
		Pluck("id", &userIDs).Error; err != nil {
		return fmt.Errorf("refresher: list role members: %w", err)
	}

	return r.refreshEach(ctx, userIDs)
}

// RefreshLocation refreshes every user assigned to the location. Used after
// a location rename, which is materialized into snapshots by name.
func (r *Refresher) RefreshLocation(ctx context.Context, locationID string) error {
	ctx = ensureContext(ctx)

	var userIDs []string
	if err := r.db.WithContext(ctx).Table("user_locations").
		Where("location_id = ?", locationID).
		Pluck("user_id", &userIDs).Error; err != nil {
		return fmt.Errorf("refresher: list location assignees: %w", err)
	}

	return r.refreshEach(ctx, userIDs)
}

// RefreshAll rebuilds the snapshot of every session in the store, including
// deleting sessions whose user is gone. Intended for catalog-wide changes
// and operational repair.
func (r *Refresher) RefreshAll(ctx context.Context) error {
	ctx = ensureContext(ctx)

	var userIDs []string
	if err := r.db.WithContext(ctx).Model(&models.Session{}).
		Distinct("user_id").
		Pluck("user_id", &userIDs).Error; err != nil {
		return fmt.Errorf("refresher: list session owners: %w", err)
	}

	return r.refreshEach(ctx, userIDs)
}

func (r *Refresher) refreshEach(ctx context.Context, userIDs []string) error {
	var errs error
	for _, id := range userIDs {
		if err := r.RefreshUser(ctx, id); err != nil {
			r.log.Warn("session refresh failed", zap.String("user_id", id), zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
