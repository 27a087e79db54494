package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/branchdesk/branchdesk/internal/models"
	"github.com/branchdesk/branchdesk/pkg/crypto"
	"github.com/branchdesk/branchdesk/pkg/metrics"
)

// DefaultSessionTTL is the fallback session lifetime.
const DefaultSessionTTL = 12 * time.Hour

var (
	// ErrSessionNotFound indicates that no live session matches the token or id.
	ErrSessionNotFound = errors.New("session: not found")
)

// SessionConfig describes tunable behaviour for the SessionService.
type SessionConfig struct {
	TTL         time.Duration
	TokenLength int
	Clock       func() time.Time
}

// SessionMetadata captures contextual information about the client.
type SessionMetadata struct {
	IPAddress string
	UserAgent string
}

// SessionService manages the persisted session records that are the
// authoritative representation of logged-in principals. All state lives in
// the store; the service holds no cross-request memory, so multiple server
// instances sharing one database behave identically.
type SessionService struct {
	db       *gorm.DB
	ttl      time.Duration
	tokenLen int
	now      func() time.Time
}

// NewSessionService constructs a session manager backed by the provided database.
func NewSessionService(db *gorm.DB, cfg SessionConfig) (*SessionService, error) {
	if db == nil {
		return nil, errors.New("session service: db is required")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	length := cfg.TokenLength
	if length <= 0 {
		length = 48
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &SessionService{
		db:       db,
		ttl:      ttl,
		tokenLen: length,
		now:      clock,
	}, nil
}

// loadAuthzUser fetches a user with every association the snapshot needs.
func loadAuthzUser(ctx context.Context, db *gorm.DB, userID string) (*models.User, error) {
	var user models.User
	err := db.WithContext(ctx).
		Preload("Role.Permissions").
		Preload("Overrides").
		Preload("Locations").
		First(&user, "id = ?", userID).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Create materializes a fresh session for the user: a newly generated opaque
// token (never an upgraded pre-auth identifier) and a snapshot computed at
// this moment.
func (s *SessionService) Create(ctx context.Context, userID string, meta SessionMetadata) (*models.Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("session service: user id is required")
	}
	ctx = ensureContext(ctx)

	user, err := loadAuthzUser(ctx, s.db, userID)
	if err != nil {
		return nil, fmt.Errorf("session service: load user: %w", err)
	}

	snapshot, err := snapshotFor(user)
	if err != nil {
		return nil, err
	}

	token, err := crypto.GenerateToken(s.tokenLen)
	if err != nil {
		return nil, fmt.Errorf("session service: generate token: %w", err)
	}

	now := s.now()
	session := &models.Session{
		Token:      token,
		UserID:     user.ID,
		Snapshot:   snapshot,
		IPAddress:  strings.TrimSpace(meta.IPAddress),
		UserAgent:  strings.TrimSpace(meta.UserAgent),
		LastUsedAt: now,
		ExpiresAt:  now.Add(s.ttl),
	}

	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, fmt.Errorf("session service: create session: %w", err)
	}

	metrics.ActiveSessions.Inc()

	return session, nil
}

// FindByToken returns the live session for the opaque token.
func (s *SessionService) FindByToken(ctx context.Context, token string) (*models.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrSessionNotFound
	}
	ctx = ensureContext(ctx)

	var session models.Session
	err := s.db.WithContext(ctx).Where("token = ?", token).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session service: find session: %w", err)
	}

	if !session.ExpiresAt.After(s.now()) {
		return nil, ErrSessionNotFound
	}

	return &session, nil
}

// Touch extends the session expiry on an authenticated request.
func (s *SessionService) Touch(ctx context.Context, session *models.Session) error {
	if session == nil || session.ID == "" {
		return ErrSessionNotFound
	}
	ctx = ensureContext(ctx)

	now := s.now()
	expiresAt := now.Add(s.ttl)

	if err := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ?", session.ID).
		Updates(map[string]any{
			"last_used_at": now,
			"expires_at":   expiresAt,
		}).Error; err != nil {
		return fmt.Errorf("session service: touch session: %w", err)
	}

	session.LastUsedAt = now
	session.ExpiresAt = expiresAt
	return nil
}

// Revoke destroys a single session by id.
func (s *SessionService) Revoke(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrSessionNotFound
	}
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).Delete(&models.Session{}, "id = ?", sessionID)
	if result.Error != nil {
		return fmt.Errorf("session service: revoke session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSessionNotFound
	}

	metrics.ActiveSessions.Sub(float64(result.RowsAffected))
	return nil
}

// RevokeAllForUser destroys every session owned by the user and returns the
// number removed. Used by the confirmation eviction policy and by admin
// termination.
func (s *SessionService) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, errors.New("session service: user id is required")
	}
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).Delete(&models.Session{}, "user_id = ?", userID)
	if result.Error != nil {
		return 0, fmt.Errorf("session service: revoke sessions: %w", result.Error)
	}

	metrics.ActiveSessions.Sub(float64(result.RowsAffected))
	return result.RowsAffected, nil
}

// CountActive returns the number of live sessions for the user.
func (s *SessionService) CountActive(ctx context.Context, userID string) (int64, error) {
	ctx = ensureContext(ctx)

	var count int64
	err := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("user_id = ? AND expires_at > ?", userID, s.now()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("session service: count sessions: %w", err)
	}
	return count, nil
}

// ListForUser returns the user's live sessions ordered by last use.
func (s *SessionService) ListForUser(ctx context.Context, userID string) ([]models.Session, error) {
	ctx = ensureContext(ctx)

	var sessions []models.Session
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND expires_at > ?", userID, s.now()).
		Order("last_used_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("session service: list sessions: %w", err)
	}
	return sessions, nil
}

// CleanupExpired removes expired session rows.
func (s *SessionService) CleanupExpired(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Where("expires_at < ?", s.now()).
		Delete(&models.Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("session service: cleanup sessions: %w", result.Error)
	}

	return result.RowsAffected, nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
