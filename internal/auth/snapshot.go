package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"gorm.io/datatypes"

	"github.com/branchdesk/branchdesk/internal/models"
	"github.com/branchdesk/branchdesk/internal/permissions"
)

// Snapshot is the materialized authorization state bound into a session at
// login or refresh time. Enforcement reads this cached form; only the
// propagation service recomputes it.
type Snapshot struct {
	UserID      string   `json:"user_id"`
	Username    string   `json:"username"`
	Role        string   `json:"role"`
	IsRoot      bool     `json:"is_root"`
	Locations   []string `json:"locations"`
	Permissions []string `json:"permissions"`
}

// HasAny reports whether the snapshot grants at least one of the given keys.
func (s *Snapshot) HasAny(keys ...string) bool {
	if s == nil {
		return false
	}
	for _, key := range keys {
		for _, perm := range s.Permissions {
			if perm == key {
				return true
			}
		}
	}
	return false
}

// ErrMalformedSnapshot marks a session blob that failed strict decoding.
var ErrMalformedSnapshot = errors.New("session: malformed snapshot")

// DecodeSnapshot parses a stored snapshot blob, rejecting malformed records
// at the boundary instead of best-effort ignoring them.
func DecodeSnapshot(raw datatypes.JSON) (*Snapshot, error) {
	if len(raw) == 0 {
		return nil, ErrMalformedSnapshot
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	if snap.UserID == "" || snap.Username == "" {
		return nil, ErrMalformedSnapshot
	}

	return &snap, nil
}

// snapshotFor computes and encodes the snapshot for a fully loaded user
// (Role.Permissions, Overrides and Locations associations populated).
func snapshotFor(user *models.User) (datatypes.JSON, error) {
	roleName := ""
	if user.Role != nil {
		roleName = user.Role.Name
	}

	locations := make([]string, 0, len(user.Locations))
	for _, loc := range user.Locations {
		locations = append(locations, loc.Name)
	}
	sort.Strings(locations)

	snap := Snapshot{
		UserID:      user.ID,
		Username:    user.Username,
		Role:        roleName,
		IsRoot:      user.IsRoot,
		Locations:   locations,
		Permissions: permissions.Effective(user),
	}

	encoded, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("session: encode snapshot: %w", err)
	}
	return datatypes.JSON(encoded), nil
}
