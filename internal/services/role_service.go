package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/branchdesk/branchdesk/internal/audit"
	"github.com/branchdesk/branchdesk/internal/auth"
	"github.com/branchdesk/branchdesk/internal/models"
	"github.com/branchdesk/branchdesk/internal/permissions"
	apperrors "github.com/branchdesk/branchdesk/pkg/errors"
	"github.com/branchdesk/branchdesk/pkg/logger"
)

// ErrSystemRoleImmutable protects built-in roles from deletion.
var ErrSystemRoleImmutable = apperrors.New("ROLE_SYSTEM_IMMUTABLE", "System roles cannot be deleted", http.StatusBadRequest)

// CreateRoleInput describes a new role.
type CreateRoleInput struct {
	Name             string
	Description      string
	RequiresLocation bool
	RequiresBrand    bool
	PermissionIDs    []string
}

// UpdateRoleInput enumerates mutable role attributes.
type UpdateRoleInput struct {
	Name             *string
	Description      *string
	RequiresLocation *bool
	RequiresBrand    *bool
}

// RoleService manages roles and their grant sets. Changing a role's grants
// rewrites the snapshot of every session held by the role's members before
// the call returns.
type RoleService struct {
	db        *gorm.DB
	refresher *auth.Refresher
	audit     *audit.Service
	log       *zap.Logger
}

// NewRoleService constructs a RoleService instance.
func NewRoleService(db *gorm.DB, refresher *auth.Refresher, auditSvc *audit.Service) (*RoleService, error) {
	if db == nil {
		return nil, errors.New("role service: db is required")
	}
	if refresher == nil {
		return nil, errors.New("role service: refresher is required")
	}
	return &RoleService{
		db:        db,
		refresher: refresher,
		audit:     auditSvc,
		log:       logger.WithModule("services.role"),
	}, nil
}

// List returns all roles with their grant sets.
func (s *RoleService) List(ctx context.Context) ([]models.Role, error) {
	ctx = ensureContext(ctx)

	var roles []models.Role
	if err := s.db.WithContext(ctx).
		Preload("Permissions").
		Order("name ASC").
		Find(&roles).Error; err != nil {
		return nil, fmt.Errorf("role service: list roles: %w", err)
	}
	return roles, nil
}

// Get fetches one role with permissions preloaded.
func (s *RoleService) Get(ctx context.Context, id string) (*models.Role, error) {
	ctx = ensureContext(ctx)

	var role models.Role
	err := s.db.WithContext(ctx).
		Preload("Permissions").
		Take(&role, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("role service: get role: %w", err)
	}
	return &role, nil
}

// Create provisions a custom role, optionally with an initial grant set.
func (s *RoleService) Create(ctx context.Context, input CreateRoleInput) (*models.Role, error) {
	ctx = ensureContext(ctx)

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.NewBadRequest("role name is required")
	}

	role := &models.Role{
		Name:             name,
		Description:      strings.TrimSpace(input.Description),
		RequiresLocation: input.RequiresLocation,
		RequiresBrand:    input.RequiresBrand,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(role).Error; err != nil {
			return err
		}
		if len(input.PermissionIDs) > 0 {
			return replaceGrants(tx, role, input.PermissionIDs)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("role service: create role: %w", err)
	}

	s.auditLog(ctx, role, map[string]any{"created": true})
	return s.Get(ctx, role.ID)
}

// Update mutates role metadata. Grant changes go through SetPermissions.
func (s *RoleService) Update(ctx context.Context, id string, input UpdateRoleInput) (*models.Role, error) {
	ctx = ensureContext(ctx)

	role, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	renamed := false
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, apperrors.NewBadRequest("role name cannot be empty")
		}
		renamed = name != role.Name
		updates["name"] = name
	}
	if input.Description != nil {
		updates["description"] = strings.TrimSpace(*input.Description)
	}
	if input.RequiresLocation != nil {
		updates["requires_location"] = *input.RequiresLocation
	}
	if input.RequiresBrand != nil {
		updates["requires_brand"] = *input.RequiresBrand
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(role).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("role service: update role: %w", err)
		}

		// The role name is materialized into member session snapshots, so a
		// rename propagates like a grant change.
		if renamed {
			if err := s.refresher.RefreshRole(ctx, role.ID); err != nil {
				return nil, err
			}
		}

		s.auditLog(ctx, role, updates)
	}

	return s.Get(ctx, id)
}

// SetPermissions replaces the role's grant set and synchronously refreshes
// every member's live sessions.
func (s *RoleService) SetPermissions(ctx context.Context, id string, permissionIDs []string) (*models.Role, error) {
	ctx = ensureContext(ctx)

	role, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	for _, key := range permissionIDs {
		if _, ok := permissions.Get(key); !ok {
			return nil, ErrUnknownPermission.WithMessage(fmt.Sprintf("unknown permission %q", key))
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return replaceGrants(tx, role, permissionIDs)
	})
	if err != nil {
		return nil, fmt.Errorf("role service: set permissions: %w", err)
	}

	if err := s.refresher.RefreshRole(ctx, role.ID); err != nil {
		return nil, err
	}

	s.auditLog(ctx, role, map[string]any{"permission_ids": permissionIDs})
	return s.Get(ctx, id)
}

// Delete removes a custom role. Roles still assigned to users, and system
// roles, cannot be deleted.
func (s *RoleService) Delete(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)

	role, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return ErrSystemRoleImmutable
	}

	var members int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("role_id = ?", role.ID).
		Count(&members).Error; err != nil {
		return fmt.Errorf("role service: count members: %w", err)
	}
	if members > 0 {
		return apperrors.NewBadRequest("role is still assigned to users")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(role).Association("Permissions").Clear(); err != nil {
			return fmt.Errorf("role service: clear grants: %w", err)
		}
		return tx.Delete(role).Error
	})
}

func replaceGrants(tx *gorm.DB, role *models.Role, permissionIDs []string) error {
	var perms []models.Permission
	if len(permissionIDs) > 0 {
		if err := tx.Where("id IN ?", permissionIDs).Find(&perms).Error; err != nil {
			return fmt.Errorf("load permissions: %w", err)
		}
		if len(perms) != len(permissionIDs) {
			return apperrors.NewBadRequest("one or more permissions do not exist")
		}
	}

	assoc := make([]any, len(perms))
	for i := range perms {
		assoc[i] = &perms[i]
	}
	return tx.Model(role).Association("Permissions").Replace(assoc...)
}

func (s *RoleService) auditLog(ctx context.Context, role *models.Role, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, audit.Entry{
		Action:   audit.ActionRoleUpdated,
		Resource: role.ID,
		Result:   audit.ResultSuccess,
		Metadata: metadata,
	}); err != nil {
		s.log.Warn("audit write failed", zap.String("action", audit.ActionRoleUpdated), zap.Error(err))
	}
}
