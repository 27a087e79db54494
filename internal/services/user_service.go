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
	"github.com/branchdesk/branchdesk/pkg/crypto"
	apperrors "github.com/branchdesk/branchdesk/pkg/errors"
	"github.com/branchdesk/branchdesk/pkg/logger"
)

var (
	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = apperrors.New("USER_NOT_FOUND", "User not found", http.StatusNotFound)
	// ErrRootUserImmutable ensures the root account cannot be blocked or archived.
	ErrRootUserImmutable = apperrors.New("USER_ROOT_IMMUTABLE", "Root user cannot perform this operation", http.StatusBadRequest)
	// ErrRoleNotFound indicates the referenced role does not exist.
	ErrRoleNotFound = apperrors.New("ROLE_NOT_FOUND", "Role not found", http.StatusNotFound)
	// ErrUnknownPermission rejects override entries outside the catalog.
	ErrUnknownPermission = apperrors.New("UNKNOWN_PERMISSION", "Permission is not in the catalog", http.StatusBadRequest)
)

// CreateUserInput describes the fields accepted when creating a user.
type CreateUserInput struct {
	Username          string
	Password          string
	SecretWord        string
	RoleID            string
	Status            models.UserStatus
	DeviceLimit       int
	PreferredCurrency string
	LocationIDs       []string
}

// UpdateUserInput enumerates mutable profile attributes.
type UpdateUserInput struct {
	Password          *string
	SecretWord        *string
	PreferredCurrency *string
}

// OverrideInput replaces a user's per-user permission adjustments.
type OverrideInput struct {
	Additional []string
	Restricted []string
}

// UserFilters captures listing filters.
type UserFilters struct {
	Status models.UserStatus
	RoleID string
	Query  string
}

// ListUsersOptions controls pagination for user listing.
type ListUsersOptions struct {
	Page     int
	PageSize int
	Filters  UserFilters
}

// UserService manages account lifecycle and the per-user authorization
// inputs. Every mutation that can change what a session is allowed to do
// pushes the change into live sessions before returning.
type UserService struct {
	db        *gorm.DB
	sessions  *auth.SessionService
	refresher *auth.Refresher
	audit     *audit.Service
	log       *zap.Logger
}

// NewUserService constructs a UserService instance.
func NewUserService(db *gorm.DB, sessions *auth.SessionService, refresher *auth.Refresher, auditSvc *audit.Service) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	if sessions == nil {
		return nil, errors.New("user service: session service is required")
	}
	if refresher == nil {
		return nil, errors.New("user service: refresher is required")
	}
	return &UserService{
		db:        db,
		sessions:  sessions,
		refresher: refresher,
		audit:     auditSvc,
		log:       logger.WithModule("services.user"),
	}, nil
}

// Create provisions a new account with a hashed password.
func (s *UserService) Create(ctx context.Context, input CreateUserInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	username := strings.TrimSpace(input.Username)
	if username == "" {
		return nil, apperrors.NewBadRequest("username is required")
	}
	if strings.TrimSpace(input.Password) == "" {
		return nil, apperrors.NewBadRequest("password is required")
	}
	if strings.TrimSpace(input.RoleID) == "" {
		return nil, apperrors.NewBadRequest("role is required")
	}

	var role models.Role
	if err := s.db.WithContext(ctx).Take(&role, "id = ?", input.RoleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoleNotFound
		}
		return nil, fmt.Errorf("user service: load role: %w", err)
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("user service: hash password: %w", err)
	}

	secretWord := ""
	if word := strings.TrimSpace(input.SecretWord); word != "" {
		secretWord, err = crypto.HashSecretWord(word)
		if err != nil {
			return nil, fmt.Errorf("user service: hash secret word: %w", err)
		}
	}

	status := input.Status
	if status == "" {
		status = models.StatusPendingApproval
	}

	deviceLimit := input.DeviceLimit
	if deviceLimit <= 0 {
		deviceLimit = 1
	}

	user := &models.User{
		Username:          username,
		Password:          hashed,
		SecretWord:        secretWord,
		RoleID:            role.ID,
		Status:            status,
		DeviceLimit:       deviceLimit,
		PreferredCurrency: strings.TrimSpace(input.PreferredCurrency),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		if len(input.LocationIDs) > 0 {
			return assignLocations(tx, user, input.LocationIDs)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("user service: create user: %w", err)
	}

	s.auditLog(ctx, audit.Entry{
		UserID:   &user.ID,
		Username: user.Username,
		Action:   audit.ActionUserCreated,
		Result:   audit.ResultSuccess,
	})

	return s.Get(ctx, user.ID)
}

// Get fetches a user with role, overrides and locations preloaded.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).
		Preload("Role").
		Preload("Role.Permissions").
		Preload("Overrides").
		Preload("Locations").
		Take(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: get user: %w", err)
	}
	return &user, nil
}

// List returns a paginated user listing.
func (s *UserService) List(ctx context.Context, opts ListUsersOptions) ([]models.User, int64, error) {
	ctx = ensureContext(ctx)

	page := opts.Page
	if page <= 0 {
		page = 1
	}
	perPage := opts.PageSize
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}

	query := s.db.WithContext(ctx).Model(&models.User{})
	if opts.Filters.Status != "" {
		query = query.Where("status = ?", opts.Filters.Status)
	}
	if opts.Filters.RoleID != "" {
		query = query.Where("role_id = ?", opts.Filters.RoleID)
	}
	if q := strings.TrimSpace(opts.Filters.Query); q != "" {
		query = query.Where("username LIKE ?", "%"+q+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("user service: count users: %w", err)
	}

	var users []models.User
	if err := query.
		Preload("Role").
		Order("username ASC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&users).Error; err != nil {
		return nil, 0, fmt.Errorf("user service: list users: %w", err)
	}

	return users, total, nil
}

// Update mutates profile attributes that do not affect authorization.
func (s *UserService) Update(ctx context.Context, id string, input UpdateUserInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if input.Password != nil {
		if strings.TrimSpace(*input.Password) == "" {
			return nil, apperrors.NewBadRequest("password cannot be empty")
		}
		hashed, err := crypto.HashPassword(*input.Password)
		if err != nil {
			return nil, fmt.Errorf("user service: hash password: %w", err)
		}
		updates["password"] = hashed
	}
	if input.SecretWord != nil {
		if *input.SecretWord == "" {
			updates["secret_word"] = ""
		} else {
			hashed, err := crypto.HashSecretWord(*input.SecretWord)
			if err != nil {
				return nil, fmt.Errorf("user service: hash secret word: %w", err)
			}
			updates["secret_word"] = hashed
		}
	}
	if input.PreferredCurrency != nil {
		updates["preferred_currency"] = strings.TrimSpace(*input.PreferredCurrency)
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("user service: update user: %w", err)
		}
		s.auditLog(ctx, audit.Entry{
			UserID:   &user.ID,
			Username: user.Username,
			Action:   audit.ActionUserUpdated,
			Result:   audit.ResultSuccess,
		})
	}

	return s.Get(ctx, id)
}

// SetRole reassigns the user's role. Live sessions see the new grants
// before this call returns.
func (s *UserService) SetRole(ctx context.Context, userID, roleID string) (*models.User, error) {
	ctx = ensureContext(ctx)

	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	var role models.Role
	if err := s.db.WithContext(ctx).Take(&role, "id = ?", roleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoleNotFound
		}
		return nil, fmt.Errorf("user service: load role: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(user).Update("role_id", role.ID).Error; err != nil {
		return nil, fmt.Errorf("user service: set role: %w", err)
	}

	if err := s.refresher.RefreshUser(ctx, user.ID); err != nil {
		return nil, err
	}

	s.auditLog(ctx, audit.Entry{
		UserID:   &user.ID,
		Username: user.Username,
		Action:   audit.ActionUserUpdated,
		Result:   audit.ResultSuccess,
		Metadata: map[string]any{"role_id": role.ID},
	})

	return s.Get(ctx, userID)
}

// SetStatus moves the account through its lifecycle. Transition away from
// active destroys every live session; the holder cannot keep working on a
// blocked or archived account.
func (s *UserService) SetStatus(ctx context.Context, userID string, status models.UserStatus, reason string) (*models.User, error) {
	ctx = ensureContext(ctx)

	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.IsRoot && status != models.StatusActive {
		return nil, ErrRootUserImmutable
	}

	updates := map[string]any{"status": status}
	if status == models.StatusBlocked && strings.TrimSpace(reason) != "" {
		updates["lock_reason"] = strings.TrimSpace(reason)
	}
	if status == models.StatusActive {
		updates["lock_reason"] = nil
		updates["login_attempts"] = 0
	}

	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("user service: set status: %w", err)
	}

	if status != models.StatusActive {
		if _, err := s.sessions.RevokeAllForUser(ctx, user.ID); err != nil {
			return nil, err
		}
	}

	s.auditLog(ctx, audit.Entry{
		UserID:   &user.ID,
		Username: user.Username,
		Action:   audit.ActionUserUpdated,
		Result:   audit.ResultSuccess,
		Metadata: map[string]any{"status": string(status), "reason": reason},
	})

	return s.Get(ctx, userID)
}

// Unlock clears the failed-attempt lockout and reactivates the account.
func (s *UserService) Unlock(ctx context.Context, userID string) (*models.User, error) {
	ctx = ensureContext(ctx)

	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(user).Updates(map[string]any{
		"status":         models.StatusActive,
		"login_attempts": 0,
		"lock_reason":    nil,
	}).Error; err != nil {
		return nil, fmt.Errorf("user service: unlock: %w", err)
	}

	s.auditLog(ctx, audit.Entry{
		UserID:   &user.ID,
		Username: user.Username,
		Action:   audit.ActionUserUnlocked,
		Result:   audit.ResultSuccess,
	})

	return s.Get(ctx, userID)
}

// SetDeviceLimit adjusts how many concurrent sessions the account may hold.
// Existing sessions above a lowered limit stay live; the limit is enforced
// at the next login.
func (s *UserService) SetDeviceLimit(ctx context.Context, userID string, limit int) (*models.User, error) {
	ctx = ensureContext(ctx)

	if limit <= 0 {
		return nil, apperrors.NewBadRequest("device limit must be positive")
	}

	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(user).Update("device_limit", limit).Error; err != nil {
		return nil, fmt.Errorf("user service: set device limit: %w", err)
	}

	s.auditLog(ctx, audit.Entry{
		UserID:   &user.ID,
		Username: user.Username,
		Action:   audit.ActionUserUpdated,
		Result:   audit.ResultSuccess,
		Metadata: map[string]any{"device_limit": limit},
	})

	return s.Get(ctx, userID)
}

// BindTelegram attaches the out-of-band channel. Accounts parked in
// pending_telegram become active once a channel is bound.
func (s *UserService) BindTelegram(ctx context.Context, userID string, chatID int64, telegramUsername string) (*models.User, error) {
	ctx = ensureContext(ctx)

	if chatID == 0 {
		return nil, apperrors.NewBadRequest("telegram chat id is required")
	}

	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{
		"telegram_chat_id":  chatID,
		"telegram_username": strings.TrimSpace(telegramUsername),
	}
	if user.Status == models.StatusPendingTelegram {
		updates["status"] = models.StatusActive
	}

	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("user service: bind telegram: %w", err)
	}

	s.auditLog(ctx, audit.Entry{
		UserID:   &user.ID,
		Username: user.Username,
		Action:   audit.ActionUserUpdated,
		Result:   audit.ResultSuccess,
		Metadata: map[string]any{"telegram_chat_id": chatID},
	})

	return s.Get(ctx, userID)
}

// SetLocations replaces the branch assignment and propagates it to live
// sessions.
func (s *UserService) SetLocations(ctx context.Context, userID string, locationIDs []string) (*models.User, error) {
	ctx = ensureContext(ctx)

	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return assignLocations(tx, user, locationIDs)
	})
	if err != nil {
		return nil, err
	}

	if err := s.refresher.RefreshUser(ctx, user.ID); err != nil {
		return nil, err
	}

	s.auditLog(ctx, audit.Entry{
		UserID:   &user.ID,
		Username: user.Username,
		Action:   audit.ActionUserUpdated,
		Result:   audit.ResultSuccess,
		Metadata: map[string]any{"location_ids": locationIDs},
	})

	return s.Get(ctx, userID)
}

// SetPermissionOverrides replaces the user's additional and restricted
// permission sets in one transaction, then pushes the recomputed grants
// into every live session before returning.
func (s *UserService) SetPermissionOverrides(ctx context.Context, userID string, input OverrideInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	for _, key := range append(append([]string{}, input.Additional...), input.Restricted...) {
		if _, ok := permissions.Get(key); !ok {
			return nil, ErrUnknownPermission.WithMessage(fmt.Sprintf("unknown permission %q", key))
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.UserPermission{}, "user_id = ?", user.ID).Error; err != nil {
			return fmt.Errorf("clear overrides: %w", err)
		}
		for _, key := range input.Additional {
			row := models.UserPermission{UserID: user.ID, PermissionID: key, Type: models.OverrideAdditional}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("create additional override: %w", err)
			}
		}
		for _, key := range input.Restricted {
			row := models.UserPermission{UserID: user.ID, PermissionID: key, Type: models.OverrideRestricted}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("create restricted override: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("user service: set overrides: %w", err)
	}

	if err := s.refresher.RefreshUser(ctx, user.ID); err != nil {
		return nil, err
	}

	s.auditLog(ctx, audit.Entry{
		UserID:   &user.ID,
		Username: user.Username,
		Action:   audit.ActionUserUpdated,
		Result:   audit.ResultSuccess,
		Metadata: map[string]any{
			"additional": input.Additional,
			"restricted": input.Restricted,
		},
	})

	return s.Get(ctx, userID)
}

// TerminateSessions force-logs-out every device of the user.
func (s *UserService) TerminateSessions(ctx context.Context, userID string) (int64, error) {
	ctx = ensureContext(ctx)

	user, err := s.Get(ctx, userID)
	if err != nil {
		return 0, err
	}

	count, err := s.sessions.RevokeAllForUser(ctx, user.ID)
	if err != nil {
		return 0, err
	}

	s.auditLog(ctx, audit.Entry{
		UserID:   &user.ID,
		Username: user.Username,
		Action:   audit.ActionSessionRevoked,
		Result:   audit.ResultSuccess,
		Metadata: map[string]any{"count": count},
	})

	return count, nil
}

func assignLocations(tx *gorm.DB, user *models.User, locationIDs []string) error {
	var locations []models.Location
	if len(locationIDs) > 0 {
		if err := tx.Where("id IN ?", locationIDs).Find(&locations).Error; err != nil {
			return fmt.Errorf("user service: load locations: %w", err)
		}
		if len(locations) != len(locationIDs) {
			return apperrors.NewBadRequest("one or more locations do not exist")
		}
	}

	assoc := make([]any, len(locations))
	for i := range locations {
		assoc[i] = &locations[i]
	}
	if err := tx.Model(user).Association("Locations").Replace(assoc...); err != nil {
		return fmt.Errorf("user service: assign locations: %w", err)
	}
	return nil
}

func (s *UserService) auditLog(ctx context.Context, entry audit.Entry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, entry); err != nil {
		s.log.Warn("audit write failed", zap.String("action", entry.Action), zap.Error(err))
	}
}
