package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/branchdesk/branchdesk/internal/auth"
	"github.com/branchdesk/branchdesk/internal/models"
	appErrors "github.com/branchdesk/branchdesk/pkg/errors"
	"github.com/branchdesk/branchdesk/pkg/logger"
	"github.com/branchdesk/branchdesk/pkg/response"
)

// Context keys set by SessionAuth for downstream handlers.
const (
	ContextUserKey     = "current_user"
	ContextSessionKey  = "current_session"
	ContextSnapshotKey = "session_snapshot"
)

// SessionCookieName is the cookie consulted when no bearer token is present.
const SessionCookieName = "branchdesk_session"

// SessionAuth validates the presented session token, gates on account
// status and attaches the user, session and decoded snapshot to the request
// context. Any rejection destroys the presented session so a stale token
// cannot be retried into a different outcome.
func SessionAuth(sessions *auth.SessionService, db *gorm.DB) gin.HandlerFunc {
	log := logger.WithModule("middleware.auth")

	return func(c *gin.Context) {
		token, fromCookie := extractToken(c)

		// Rejections also clear the client-side reference: a cookie-bearing
		// browser must not keep replaying a token the server turned away.
		reject := func(appErr *appErrors.AppError) {
			if fromCookie {
				clearSessionCookie(c)
			}
			response.Error(c, appErr)
			c.Abort()
		}

		if token == "" {
			reject(appErrors.ErrUnauthorized)
			return
		}

		session, err := sessions.FindByToken(c.Request.Context(), token)
		if errors.Is(err, auth.ErrSessionNotFound) {
			reject(appErrors.ErrSessionNotFound)
			return
		}
		if err != nil {
			log.Error("session lookup failed", zap.Error(err))
			response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
			c.Abort()
			return
		}

		var user models.User
		err = db.WithContext(c.Request.Context()).Take(&user, "id = ?", session.UserID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			revokeQuietly(c, sessions, session.ID, log)
			reject(appErrors.ErrUserNotFound)
			return
		}
		if err != nil {
			log.Error("load session user failed", zap.Error(err))
			response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
			c.Abort()
			return
		}

		if user.Status != models.StatusActive {
			revokeQuietly(c, sessions, session.ID, log)
			if user.Status == models.StatusPendingTelegram && !user.IsRoot {
				reject(appErrors.ErrSubscriptionRequired)
			} else if user.Status == models.StatusBlocked {
				reject(appErrors.ErrAccountLocked)
			} else {
				reject(appErrors.ErrAccountNotActive)
			}
			return
		}

		// Mandatory enrollment: every non-root account must keep a bound
		// notification channel to stay usable. Checked on every request,
		// not just at login.
		if !user.IsRoot && !user.HasTelegramBinding() {
			revokeQuietly(c, sessions, session.ID, log)
			reject(appErrors.ErrSubscriptionRequired)
			return
		}

		snapshot, err := auth.DecodeSnapshot(session.Snapshot)
		if err != nil {
			// A session whose authorization payload cannot be read grants
			// nothing; the holder must authenticate again.
			log.Warn("malformed session snapshot",
				zap.String("session_id", session.ID), zap.Error(err))
			revokeQuietly(c, sessions, session.ID, log)
			reject(appErrors.ErrSessionNotFound)
			return
		}

		if err := sessions.Touch(c.Request.Context(), session); err != nil {
			log.Warn("session touch failed", zap.String("session_id", session.ID), zap.Error(err))
		}

		c.Set(ContextUserKey, &user)
		c.Set(ContextSessionKey, session)
		c.Set(ContextSnapshotKey, snapshot)
		c.Next()
	}
}

// CurrentUser returns the authenticated user attached by SessionAuth.
func CurrentUser(c *gin.Context) (*models.User, bool) {
	value, ok := c.Get(ContextUserKey)
	if !ok {
		return nil, false
	}
	user, ok := value.(*models.User)
	return user, ok
}

// CurrentSession returns the session record attached by SessionAuth.
func CurrentSession(c *gin.Context) (*models.Session, bool) {
	value, ok := c.Get(ContextSessionKey)
	if !ok {
		return nil, false
	}
	session, ok := value.(*models.Session)
	return session, ok
}

// CurrentSnapshot returns the decoded authorization snapshot.
func CurrentSnapshot(c *gin.Context) (*auth.Snapshot, bool) {
	value, ok := c.Get(ContextSnapshotKey)
	if !ok {
		return nil, false
	}
	snapshot, ok := value.(*auth.Snapshot)
	return snapshot, ok
}

func extractToken(c *gin.Context) (token string, fromCookie bool) {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		if token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")); token != "" {
			return token, false
		}
	}
	if cookie, err := c.Cookie(SessionCookieName); err == nil {
		return strings.TrimSpace(cookie), true
	}
	return "", false
}

// clearSessionCookie expires the client-side session reference so a browser
// stops presenting a token the server has already rejected.
func clearSessionCookie(c *gin.Context) {
	c.SetCookie(SessionCookieName, "", -1, "/", "", false, true)
}

func revokeQuietly(c *gin.Context, sessions *auth.SessionService, sessionID string, log *zap.Logger) {
	if err := sessions.Revoke(c.Request.Context(), sessionID); err != nil &&
		!errors.Is(err, auth.ErrSessionNotFound) {
		log.Warn("session revoke failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}
