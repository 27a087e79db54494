package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/branchdesk/branchdesk/internal/audit"
	iauth "github.com/branchdesk/branchdesk/internal/auth"
	"github.com/branchdesk/branchdesk/internal/middleware"
	"github.com/branchdesk/branchdesk/internal/models"
	"github.com/branchdesk/branchdesk/internal/services"
	appErrors "github.com/branchdesk/branchdesk/pkg/errors"
	"github.com/branchdesk/branchdesk/pkg/logger"
	"github.com/branchdesk/branchdesk/pkg/response"
)

// AuthHandler manages authentication flows (login/confirm/logout/me/register).
type AuthHandler struct {
	db       *gorm.DB
	login    *iauth.LoginService
	sessions *iauth.SessionService
	users    *services.UserService
	audit    *audit.Service
	log      *zap.Logger
}

func NewAuthHandler(db *gorm.DB, login *iauth.LoginService, sessions *iauth.SessionService, users *services.UserService, auditSvc *audit.Service) *AuthHandler {
	return &AuthHandler{
		db:       db,
		login:    login,
		sessions: sessions,
		users:    users,
		audit:    auditSvc,
		log:      logger.WithModule("handlers.auth"),
	}
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// POST /api/auth/login
//
// Responds 200 with a session token when authenticated, 202 when the device
// limit requires out-of-band confirmation, and an error status otherwise.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.login.Login(requestContext(c), iauth.LoginInput{
		Username:  req.Username,
		Password:  req.Password,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		writeLoginError(c, err)
		return
	}

	if result.Status == iauth.StatusPendingConfirmation {
		response.Success(c, http.StatusAccepted, gin.H{
			"status":  string(result.Status),
			"message": "Confirm the login via the link sent to your Telegram",
		})
		return
	}

	response.Success(c, http.StatusOK, sessionPayload(result))
}

// GET /api/auth/confirm/:token
func (h *AuthHandler) Confirm(c *gin.Context) {
	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		response.Error(c, appErrors.ErrInvalidOrExpiredToken)
		return
	}

	result, err := h.login.ConfirmLogin(requestContext(c), token, iauth.SessionMetadata{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		writeLoginError(c, err)
		return
	}

	response.Success(c, http.StatusOK, sessionPayload(result))
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	session, ok := middleware.CurrentSession(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.sessions.Revoke(requestContext(c), session.ID); err != nil &&
		!errors.Is(err, iauth.ErrSessionNotFound) {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	if user, ok := middleware.CurrentUser(c); ok && h.audit != nil {
		if err := h.audit.Log(requestContext(c), audit.Entry{
			UserID:    &user.ID,
			Username:  user.Username,
			Action:    audit.ActionLogout,
			Result:    audit.ResultSuccess,
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		}); err != nil {
			h.log.Warn("audit write failed", zap.String("action", audit.ActionLogout), zap.Error(err))
		}
	}

	response.Success(c, http.StatusOK, gin.H{"logged_out": true})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	snapshot, _ := middleware.CurrentSnapshot(c)

	payload := gin.H{"user": userPayload(user)}
	if snapshot != nil {
		payload["role"] = snapshot.Role
		payload["locations"] = snapshot.Locations
		payload["permissions"] = snapshot.Permissions
	}

	response.Success(c, http.StatusOK, payload)
}

type registerRequest struct {
	Username   string `json:"username" validate:"required,min=3,max=64"`
	Password   string `json:"password" validate:"required,min=8"`
	SecretWord string `json:"secret_word" validate:"omitempty,min=4,max=64"`
}

// POST /api/auth/register
//
// Self-service signup. New accounts land in pending_approval with the
// default operator role and cannot log in until an administrator approves
// them.
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindAndValidate(c, &req) {
		return
	}

	var role models.Role
	err := h.db.WithContext(requestContext(c)).Take(&role, "id = ?", "operator").Error
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	user, err := h.users.Create(requestContext(c), services.CreateUserInput{
		Username:   req.Username,
		Password:   req.Password,
		SecretWord: req.SecretWord,
		RoleID:     role.ID,
		Status:     models.StatusPendingApproval,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"user":    userPayload(user),
		"message": "Registration received, awaiting administrator approval",
	})
}

func sessionPayload(result *iauth.LoginResult) gin.H {
	payload := gin.H{
		"status":     string(result.Status),
		"token":      result.Session.Token,
		"expires_at": result.Session.ExpiresAt,
		"user":       userPayload(result.User),
	}
	if snapshot, err := iauth.DecodeSnapshot(result.Session.Snapshot); err == nil {
		payload["role"] = snapshot.Role
		payload["locations"] = snapshot.Locations
		payload["permissions"] = snapshot.Permissions
	}
	return payload
}

func userPayload(user *models.User) gin.H {
	return gin.H{
		"id":                 user.ID,
		"username":           user.Username,
		"status":             string(user.Status),
		"is_root":            user.IsRoot,
		"device_limit":       user.DeviceLimit,
		"preferred_currency": user.PreferredCurrency,
	}
}

// writeLoginError maps authentication failures onto stable API errors.
// Anything that is not a Failure is an infrastructure problem surfaced
// as a 500.
func writeLoginError(c *gin.Context, err error) {
	failure, ok := iauth.AsFailure(err)
	if !ok {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	switch failure.Kind {
	case iauth.FailureInvalidCredentials:
		var details map[string]any
		if failure.AttemptsRemaining >= 0 {
			details = map[string]any{"attempts_remaining": failure.AttemptsRemaining}
		}
		response.ErrorWithDetails(c, appErrors.ErrInvalidCredentials, details)
	case iauth.FailureAccountLocked:
		response.Error(c, appErrors.ErrAccountLocked.WithMessage(failure.Message))
	case iauth.FailureAccountNotActive:
		response.Error(c, appErrors.ErrAccountNotActive.WithMessage(failure.Message))
	case iauth.FailureDeviceLimit:
		response.Error(c, appErrors.ErrDeviceLimitReached)
	case iauth.FailureDelivery:
		response.Error(c, appErrors.ErrConfirmationDelivery)
	case iauth.FailureTokenInvalid:
		response.Error(c, appErrors.ErrInvalidOrExpiredToken)
	default:
		response.Error(c, appErrors.ErrUnauthorized)
	}
}
