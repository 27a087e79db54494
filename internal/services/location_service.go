package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"gorm.io/gorm"

	"github.com/branchdesk/branchdesk/internal/auth"
	"github.com/branchdesk/branchdesk/internal/models"
	apperrors "github.com/branchdesk/branchdesk/pkg/errors"
)

// ErrLocationNotFound indicates the requested branch does not exist.
var ErrLocationNotFound = apperrors.New("LOCATION_NOT_FOUND", "Location not found", http.StatusNotFound)

// LocationInput describes a branch record.
type LocationInput struct {
	Name  string
	Brand string
}

// LocationService manages the branch registry. Renaming a branch rewrites
// the snapshot of every assignee's live sessions, since snapshots carry
// location names rather than ids.
type LocationService struct {
	db        *gorm.DB
	refresher *auth.Refresher
}

// NewLocationService constructs a LocationService instance.
func NewLocationService(db *gorm.DB, refresher *auth.Refresher) (*LocationService, error) {
	if db == nil {
		return nil, errors.New("location service: db is required")
	}
	if refresher == nil {
		return nil, errors.New("location service: refresher is required")
	}
	return &LocationService{db: db, refresher: refresher}, nil
}

// List returns all branches ordered by name.
func (s *LocationService) List(ctx context.Context) ([]models.Location, error) {
	ctx = ensureContext(ctx)

	var locations []models.Location
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&locations).Error; err != nil {
		return nil, fmt.Errorf("location service: list: %w", err)
	}
	return locations, nil
}

// Get fetches one branch by id.
func (s *LocationService) Get(ctx context.Context, id string) (*models.Location, error) {
	ctx = ensureContext(ctx)

	var location models.Location
	err := s.db.WithContext(ctx).Take(&location, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrLocationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("location service: get: %w", err)
	}
	return &location, nil
}

// Create registers a new branch.
func (s *LocationService) Create(ctx context.Context, input LocationInput) (*models.Location, error) {
	ctx = ensureContext(ctx)

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.NewBadRequest("location name is required")
	}

	location := &models.Location{
		Name:  name,
		Brand: strings.TrimSpace(input.Brand),
	}
	if err := s.db.WithContext(ctx).Create(location).Error; err != nil {
		return nil, fmt.Errorf("location service: create: %w", err)
	}
	return location, nil
}

// Update mutates branch attributes.
func (s *LocationService) Update(ctx context.Context, id string, input LocationInput) (*models.Location, error) {
	ctx = ensureContext(ctx)

	location, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	renamed := false
	if name := strings.TrimSpace(input.Name); name != "" {
		renamed = name != location.Name
		updates["name"] = name
	}
	if brand := strings.TrimSpace(input.Brand); brand != "" {
		updates["brand"] = brand
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(location).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("location service: update: %w", err)
		}
		// Snapshots carry the branch by name; renames propagate to every
		// assignee's live sessions.
		if renamed {
			if err := s.refresher.RefreshLocation(ctx, location.ID); err != nil {
				return nil, err
			}
		}
	}
	return s.Get(ctx, id)
}

// Delete removes a branch that no user is assigned to.
func (s *LocationService) Delete(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)

	location, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	count := s.db.WithContext(ctx).Model(location).Association("Users").Count()
	if count > 0 {
		return apperrors.NewBadRequest("location is still assigned to users")
	}

	return s.db.WithContext(ctx).Delete(location).Error
}
