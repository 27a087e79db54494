package permissions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"

	"github.com/branchdesk/branchdesk/internal/models"
)

// Resolver computes a user's effective permission set:
//
//	effective = (role permissions ∪ additional overrides) \ restricted overrides
//
// Restriction is applied last and wins unconditionally, even when the same
// key appears in both override sets. The resolver performs no writes; every
// call site that needs the effective set (login, confirmation, session
// refresh) goes through this one implementation.
type Resolver struct {
	db *gorm.DB
}

// NewResolver constructs a resolver backed by the provided database.
func NewResolver(db *gorm.DB) (*Resolver, error) {
	if db == nil {
		return nil, errors.New("permission resolver: db is required")
	}
	return &Resolver{db: db}, nil
}

// Resolve loads the user's role grants and overrides and returns the
// effective permission ids, sorted and duplicate-free.
func (r *Resolver) Resolve(ctx context.Context, userID string) ([]string, error) {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("permission resolver: user id is required")
	}

	var user models.User
	if err := r.db.WithContext(ctx).
		Preload("Role.Permissions").
		Preload("Overrides").
		First(&user, "id = ?", userID).Error; err != nil {
		return nil, fmt.Errorf("permission resolver: load user: %w", err)
	}

	return Effective(&user), nil
}

// Effective computes the permission set from an already loaded user. The
// user's Role.Permissions and Overrides associations must be populated.
// Override keys are passed through as opaque strings; catalog integrity is
// an admin-time concern, not a resolve-time concern.
func Effective(user *models.User) []string {
	granted := make(map[string]struct{})

	if user.Role != nil {
		for _, perm := range user.Role.Permissions {
			granted[perm.ID] = struct{}{}
		}
	}

	restricted := make(map[string]struct{})
	for _, override := range user.Overrides {
		switch override.Type {
		case models.OverrideAdditional:
			granted[override.PermissionID] = struct{}{}
		case models.OverrideRestricted:
			restricted[override.PermissionID] = struct{}{}
		}
	}

	for id := range restricted {
		delete(granted, id)
	}

	ids := make([]string, 0, len(granted))
	for id := range granted {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
