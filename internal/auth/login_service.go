package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/branchdesk/branchdesk/internal/audit"
	"github.com/branchdesk/branchdesk/internal/models"
	"github.com/branchdesk/branchdesk/internal/notify"
	"github.com/branchdesk/branchdesk/pkg/crypto"
	"github.com/branchdesk/branchdesk/pkg/logger"
	"github.com/branchdesk/branchdesk/pkg/metrics"
)

// DefaultMaxLoginAttempts is the lockout threshold when not configured.
const DefaultMaxLoginAttempts = 5

const lockReasonTooManyAttempts = "too many failed login attempts"

// LoginStatus distinguishes the two non-error outcomes of a login call.
type LoginStatus string

const (
	// StatusAuthenticated means a session was created.
	StatusAuthenticated LoginStatus = "authenticated"
	// StatusPendingConfirmation means the device limit was hit and a
	// confirmation link was delivered out of band. No session exists yet.
	StatusPendingConfirmation LoginStatus = "pending_confirmation"
)

// LoginInput carries the credentials and client context of a login attempt.
type LoginInput struct {
	Username  string
	Password  string
	IPAddress string
	UserAgent string
}

// LoginResult is returned on the non-error paths of Login and ConfirmLogin.
type LoginResult struct {
	Status  LoginStatus
	Session *models.Session
	User    *models.User
}

// LoginConfig describes tunable behaviour for the LoginService.
type LoginConfig struct {
	MaxAttempts int
	// ConfirmBaseURL prefixes generated confirmation links,
	// e.g. "https://desk.example.com/api/auth/confirm".
	ConfirmBaseURL string
	Clock          func() time.Time
}

// LoginService is the authentication state machine: credential check with
// lockout, device-limit evaluation, out-of-band confirmation hand-off and
// session creation. All mutable state lives in the store; concurrent calls
// coordinate only through it.
type LoginService struct {
	db          *gorm.DB
	sessions    *SessionService
	links       *LinkTokenService
	notifier    notify.Notifier
	audit       *audit.Service
	maxAttempts int
	confirmBase string
	now         func() time.Time
	log         *zap.Logger
}

// NewLoginService wires the state machine with its collaborators.
func NewLoginService(db *gorm.DB, sessions *SessionService, links *LinkTokenService, notifier notify.Notifier, auditSvc *audit.Service, cfg LoginConfig) (*LoginService, error) {
	if db == nil {
		return nil, errors.New("login service: db is required")
	}
	if sessions == nil {
		return nil, errors.New("login service: session service is required")
	}
	if links == nil {
		return nil, errors.New("login service: link token service is required")
	}
	if auditSvc == nil {
		return nil, errors.New("login service: audit service is required")
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxLoginAttempts
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &LoginService{
		db:          db,
		sessions:    sessions,
		links:       links,
		notifier:    notifier,
		audit:       auditSvc,
		maxAttempts: maxAttempts,
		confirmBase: strings.TrimRight(strings.TrimSpace(cfg.ConfirmBaseURL), "/"),
		now:         clock,
		log:         logger.WithModule("auth"),
	}, nil
}

// Login runs one attempt through the state machine. It returns a *Failure
// for every terminal rejection; any other error is an infrastructure
// problem, not an authentication decision.
func (s *LoginService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	ctx = ensureContext(ctx)

	username := strings.TrimSpace(input.Username)
	if username == "" || input.Password == "" {
		s.recordFailure(ctx, nil, username, input, "missing credentials")
		return nil, invalidCredentials(-1)
	}

	var user models.User
	err := s.db.WithContext(ctx).
		Where("LOWER(username) = LOWER(?)", username).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.recordFailure(ctx, nil, username, input, "unknown username")
		return nil, invalidCredentials(-1)
	}
	if err != nil {
		return nil, fmt.Errorf("login service: query user: %w", err)
	}

	if user.Status != models.StatusActive {
		s.recordFailure(ctx, &user, username, input, fmt.Sprintf("status %s", user.Status))
		return nil, statusFailure(&user)
	}

	if !crypto.VerifyPassword(user.Password, input.Password) {
		return nil, s.handleFailedAttempt(ctx, &user, input)
	}

	// Successful authentication clears prior failure history.
	if user.LoginAttempts > 0 || user.LockReason != nil {
		if err := s.db.WithContext(ctx).Model(&user).Updates(map[string]any{
			"login_attempts": 0,
			"lock_reason":    nil,
		}).Error; err != nil {
			return nil, fmt.Errorf("login service: reset attempts: %w", err)
		}
		user.LoginAttempts = 0
		user.LockReason = nil
	}

	now := s.now()
	if err := s.db.WithContext(ctx).Model(&user).Updates(map[string]any{
		"last_login_at": now,
		"last_login_ip": strings.TrimSpace(input.IPAddress),
	}).Error; err != nil {
		return nil, fmt.Errorf("login service: record login: %w", err)
	}

	live, err := s.sessions.CountActive(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	if live >= int64(user.DeviceLimit) {
		return s.beginConfirmation(ctx, &user, input)
	}

	return s.createSession(ctx, &user, input.IPAddress, input.UserAgent)
}

// ConfirmLogin consumes a confirmation link, evicts every prior session of
// the user and creates the confirmed one. Tokens are single-use: the durable
// challenge row is deleted on the first call, successful or not.
func (s *LoginService) ConfirmLogin(ctx context.Context, token string, meta SessionMetadata) (*LoginResult, error) {
	ctx = ensureContext(ctx)

	claims, err := s.links.Parse(token)
	if err != nil {
		s.auditLog(ctx, audit.Entry{
			Action:    audit.ActionConfirmFailed,
			Result:    audit.ResultFailure,
			IPAddress: meta.IPAddress,
			UserAgent: meta.UserAgent,
			Metadata:  map[string]any{"reason": "token parse failed"},
		})
		return nil, &Failure{Kind: FailureTokenInvalid, Message: "Confirmation link is invalid or has expired", AttemptsRemaining: -1}
	}

	var challenge models.LoginChallenge
	err = s.db.WithContext(ctx).Take(&challenge, "id = ?", claims.ChallengeID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Already consumed or never issued; same rejection either way.
		s.recordConfirmFailure(ctx, claims.UserID, meta, "challenge not found")
		return nil, &Failure{Kind: FailureTokenInvalid, Message: "Confirmation link is invalid or has expired", AttemptsRemaining: -1}
	}
	if err != nil {
		return nil, fmt.Errorf("login service: load challenge: %w", err)
	}

	// Consume first so the token can never be replayed, even on failure.
	if err := s.db.WithContext(ctx).Delete(&models.LoginChallenge{}, "id = ?", challenge.ID).Error; err != nil {
		return nil, fmt.Errorf("login service: consume challenge: %w", err)
	}

	if !challenge.ExpiresAt.After(s.now()) {
		s.recordConfirmFailure(ctx, challenge.UserID, meta, "challenge expired")
		return nil, &Failure{Kind: FailureTokenInvalid, Message: "Confirmation link is invalid or has expired", AttemptsRemaining: -1}
	}

	var user models.User
	err = s.db.WithContext(ctx).Take(&user, "id = ?", challenge.UserID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.recordConfirmFailure(ctx, challenge.UserID, meta, "user no longer exists")
		return nil, &Failure{Kind: FailureTokenInvalid, Message: "Confirmation link is invalid or has expired", AttemptsRemaining: -1}
	}
	if err != nil {
		return nil, fmt.Errorf("login service: load user: %w", err)
	}

	if user.Status != models.StatusActive {
		s.recordConfirmFailure(ctx, user.ID, meta, fmt.Sprintf("status %s", user.Status))
		return nil, statusFailure(&user)
	}

	// The confirmed device supersedes every prior device slot.
	if _, err := s.sessions.RevokeAllForUser(ctx, user.ID); err != nil {
		return nil, err
	}

	s.auditLog(ctx, audit.Entry{
		UserID:    &user.ID,
		Username:  user.Username,
		Action:    audit.ActionConfirmSuccess,
		Result:    audit.ResultSuccess,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})

	return s.createSession(ctx, &user, meta.IPAddress, meta.UserAgent)
}

// handleFailedAttempt increments the attempt counter atomically in the store
// and locks the account when the threshold is crossed. The decision is taken
// on the post-increment value read back from the store, so racing failures
// cannot slip past the threshold.
func (s *LoginService) handleFailedAttempt(ctx context.Context, user *models.User, input LoginInput) error {
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", user.ID).
		UpdateColumn("login_attempts", gorm.Expr("login_attempts + 1")).Error; err != nil {
		return fmt.Errorf("login service: increment attempts: %w", err)
	}

	var counter struct{ LoginAttempts int }
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Select("login_attempts").
		Where("id = ?", user.ID).
		Take(&counter).Error; err != nil {
		return fmt.Errorf("login service: read attempts: %w", err)
	}
	attempts := counter.LoginAttempts

	if attempts >= s.maxAttempts {
		if err := s.db.WithContext(ctx).Model(&models.User{}).
			Where("id = ?", user.ID).
			Updates(map[string]any{
				"status":      models.StatusBlocked,
				"lock_reason": lockReasonTooManyAttempts,
			}).Error; err != nil {
			return fmt.Errorf("login service: lock account: %w", err)
		}

		s.auditLog(ctx, audit.Entry{
			UserID:    &user.ID,
			Username:  user.Username,
			Action:    audit.ActionAccountLocked,
			Result:    audit.ResultFailure,
			IPAddress: input.IPAddress,
			UserAgent: input.UserAgent,
			Metadata:  map[string]any{"attempts": attempts},
		})

		s.notifyBestEffort(ctx, user, notify.KindAccountLock,
			fmt.Sprintf("Your account %s was locked after %d failed login attempts. Contact an administrator to unlock it.", user.Username, attempts))

		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return &Failure{
			Kind:              FailureAccountLocked,
			Message:           "Account locked after too many failed attempts, contact an administrator",
			AttemptsRemaining: 0,
			LockedNow:         true,
		}
	}

	s.recordFailure(ctx, user, user.Username, input, "wrong password")
	return invalidCredentials(s.maxAttempts - attempts)
}

// beginConfirmation issues the out-of-band challenge when the device limit
// is reached. Without a bound channel the limit is a hard failure.
func (s *LoginService) beginConfirmation(ctx context.Context, user *models.User, input LoginInput) (*LoginResult, error) {
	if !user.HasTelegramBinding() {
		s.recordFailure(ctx, user, user.Username, input, "device limit, no telegram binding")
		return nil, &Failure{
			Kind:              FailureDeviceLimit,
			Message:           "Device limit reached and no confirmation channel is bound",
			AttemptsRemaining: -1,
		}
	}

	challenge := &models.LoginChallenge{
		UserID:    user.ID,
		IPAddress: strings.TrimSpace(input.IPAddress),
		UserAgent: strings.TrimSpace(input.UserAgent),
		ExpiresAt: s.now().Add(s.links.TTL()),
	}
	if err := s.db.WithContext(ctx).Create(challenge).Error; err != nil {
		return nil, fmt.Errorf("login service: create challenge: %w", err)
	}

	token, err := s.links.Issue(user.ID, challenge.ID)
	if err != nil {
		return nil, err
	}

	link := token
	if s.confirmBase != "" {
		link = s.confirmBase + "/" + token
	}

	text := fmt.Sprintf(
		"Login attempt for %s from %s (%s). Open this link to confirm and sign out other devices:\n%s",
		user.Username, challenge.IPAddress, challenge.UserAgent, link)

	if err := s.send(ctx, user, notify.KindLoginConfirm, text); err != nil {
		// The confirmation cannot proceed; discard the challenge and make
		// the delivery failure the governing reason.
		if delErr := s.db.WithContext(ctx).Delete(&models.LoginChallenge{}, "id = ?", challenge.ID).Error; delErr != nil {
			s.log.Warn("discard undeliverable challenge", zap.Error(delErr))
		}
		s.log.Warn("confirmation delivery failed",
			zap.String("user_id", user.ID), zap.Error(err))
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, &Failure{
			Kind:              FailureDelivery,
			Message:           "Could not deliver the login confirmation message",
			AttemptsRemaining: -1,
		}
	}

	s.auditLog(ctx, audit.Entry{
		UserID:    &user.ID,
		Username:  user.Username,
		Action:    audit.ActionConfirmSent,
		Result:    audit.ResultSuccess,
		IPAddress: input.IPAddress,
		UserAgent: input.UserAgent,
	})

	metrics.AuthAttempts.WithLabelValues("pending").Inc()
	return &LoginResult{Status: StatusPendingConfirmation, User: user}, nil
}

func (s *LoginService) createSession(ctx context.Context, user *models.User, ip, userAgent string) (*LoginResult, error) {
	session, err := s.sessions.Create(ctx, user.ID, SessionMetadata{
		IPAddress: ip,
		UserAgent: userAgent,
	})
	if err != nil {
		return nil, err
	}

	s.auditLog(ctx, audit.Entry{
		UserID:    &user.ID,
		Username:  user.Username,
		Action:    audit.ActionLoginSuccess,
		Result:    audit.ResultSuccess,
		IPAddress: ip,
		UserAgent: userAgent,
	})

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	return &LoginResult{Status: StatusAuthenticated, Session: session, User: user}, nil
}

// statusFailure maps a non-active account status onto its rejection. The
// caller-facing message stays non-sensitive; the audit log carries the
// real reason.
func statusFailure(user *models.User) *Failure {
	switch user.Status {
	case models.StatusBlocked:
		msg := "Account is locked, contact an administrator"
		if user.LockReason != nil && *user.LockReason != "" {
			msg = "Account is locked: " + *user.LockReason
		}
		return &Failure{Kind: FailureAccountLocked, Message: msg, AttemptsRemaining: -1}
	case models.StatusPendingApproval:
		return &Failure{Kind: FailureAccountNotActive, Message: "Account is awaiting approval", AttemptsRemaining: -1}
	case models.StatusPendingTelegram:
		return &Failure{Kind: FailureAccountNotActive, Message: "Account requires Telegram subscription", AttemptsRemaining: -1}
	case models.StatusArchived:
		return &Failure{Kind: FailureAccountNotActive, Message: "Account has been archived", AttemptsRemaining: -1}
	default:
		return &Failure{Kind: FailureAccountNotActive, Message: "Account is not active", AttemptsRemaining: -1}
	}
}

func (s *LoginService) recordFailure(ctx context.Context, user *models.User, username string, input LoginInput, reason string) {
	entry := audit.Entry{
		Username:  username,
		Action:    audit.ActionLoginFailed,
		Result:    audit.ResultFailure,
		IPAddress: input.IPAddress,
		UserAgent: input.UserAgent,
		Metadata:  map[string]any{"reason": reason},
	}
	if user != nil {
		entry.UserID = &user.ID
	}
	s.auditLog(ctx, entry)
	metrics.AuthAttempts.WithLabelValues("failure").Inc()
}

func (s *LoginService) recordConfirmFailure(ctx context.Context, userID string, meta SessionMetadata, reason string) {
	entry := audit.Entry{
		Action:    audit.ActionConfirmFailed,
		Result:    audit.ResultFailure,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Metadata:  map[string]any{"reason": reason},
	}
	if userID != "" {
		entry.UserID = &userID
	}
	s.auditLog(ctx, entry)
}

// auditLog is fire-and-forget: a logging failure never aborts the decision
// it documents.
func (s *LoginService) auditLog(ctx context.Context, entry audit.Entry) {
	if err := s.audit.Log(ctx, entry); err != nil {
		s.log.Warn("audit write failed", zap.String("action", entry.Action), zap.Error(err))
	}
}

func (s *LoginService) send(ctx context.Context, user *models.User, kind notify.Kind, text string) error {
	if s.notifier == nil {
		return notify.ErrDisabled
	}
	if !user.HasTelegramBinding() {
		return errors.New("login service: no telegram binding")
	}
	return s.notifier.Send(ctx, notify.Message{
		ChatID: *user.TelegramChatID,
		Kind:   kind,
		Text:   text,
	})
}

// notifyBestEffort delivers a message where failure only warrants a log line.
func (s *LoginService) notifyBestEffort(ctx context.Context, user *models.User, kind notify.Kind, text string) {
	if err := s.send(ctx, user, kind, text); err != nil && !errors.Is(err, notify.ErrDisabled) {
		s.log.Warn("notification delivery failed",
			zap.String("user_id", user.ID), zap.String("kind", string(kind)), zap.Error(err))
	}
}
