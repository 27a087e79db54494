package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/branchdesk/branchdesk/internal/auth"
	"github.com/branchdesk/branchdesk/internal/database/testutil"
	"github.com/branchdesk/branchdesk/internal/models"
)

type middlewareFixture struct {
	db       *gorm.DB
	sessions *auth.SessionService
	router   *gin.Engine
}

func newMiddlewareFixture(t *testing.T) *middlewareFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())

	sessions, err := auth.NewSessionService(db, auth.SessionConfig{TTL: time.Hour})
	require.NoError(t, err)

	router := gin.New()
	protected := router.Group("/api")
	protected.Use(SessionAuth(sessions, db))
	protected.GET("/whoami", func(c *gin.Context) {
		snapshot, _ := CurrentSnapshot(c)
		c.JSON(http.StatusOK, gin.H{"username": snapshot.Username})
	})
	protected.GET("/export",
		RequireAnyPermission("reports.export"),
		func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

	return &middlewareFixture{db: db, sessions: sessions, router: router}
}

func (f *middlewareFixture) createUser(t *testing.T, username string, mutate ...func(*models.User)) *models.User {
	t.Helper()

	chatID := int64(5150)
	user := &models.User{
		Username:       username,
		Password:       "x",
		RoleID:         "operator",
		Status:         models.StatusActive,
		DeviceLimit:    1,
		TelegramChatID: &chatID,
	}
	for _, m := range mutate {
		m(user)
	}
	require.NoError(t, f.db.Create(user).Error)
	return user
}

func (f *middlewareFixture) request(t *testing.T, path, token string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *middlewareFixture) requestWithCookie(t *testing.T, path, token string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: token})
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestSessionAuthRejectsMissingToken(t *testing.T) {
	f := newMiddlewareFixture(t)

	rec := f.request(t, "/api/whoami", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "UNAUTHORIZED", errorCode(t, rec))
}

func TestSessionAuthAcceptsLiveSession(t *testing.T) {
	f := newMiddlewareFixture(t)
	user := f.createUser(t, "live-user")

	session, err := f.sessions.Create(context.Background(), user.ID, auth.SessionMetadata{})
	require.NoError(t, err)

	rec := f.request(t, "/api/whoami", session.Token)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "live-user")
}

func TestRevokedSessionFailsNextRequest(t *testing.T) {
	f := newMiddlewareFixture(t)
	user := f.createUser(t, "revoked-user")

	session, err := f.sessions.Create(context.Background(), user.ID, auth.SessionMetadata{})
	require.NoError(t, err)

	rec := f.request(t, "/api/whoami", session.Token)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, f.sessions.Revoke(context.Background(), session.ID))

	rec = f.request(t, "/api/whoami", session.Token)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "SESSION_NOT_FOUND", errorCode(t, rec))
}

func TestRejectedCookieSessionIsExpiredClientSide(t *testing.T) {
	f := newMiddlewareFixture(t)
	user := f.createUser(t, "cookie-user")

	session, err := f.sessions.Create(context.Background(), user.ID, auth.SessionMetadata{})
	require.NoError(t, err)

	rec := f.requestWithCookie(t, "/api/whoami", session.Token)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Values("Set-Cookie"))

	require.NoError(t, f.sessions.Revoke(context.Background(), session.ID))

	rec = f.requestWithCookie(t, "/api/whoami", session.Token)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// The stale cookie is expired so the browser stops replaying it.
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, SessionCookieName, cookies[0].Name)
	require.Empty(t, cookies[0].Value)
	// A written Max-Age=0 parses back as -1: delete immediately.
	require.Negative(t, cookies[0].MaxAge)
}

func TestRejectedBearerTokenLeavesCookiesAlone(t *testing.T) {
	f := newMiddlewareFixture(t)

	rec := f.request(t, "/api/whoami", "not-a-session")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, rec.Header().Values("Set-Cookie"))
}

func TestEnforcementReadsSnapshotNotStore(t *testing.T) {
	f := newMiddlewareFixture(t)
	user := f.createUser(t, "snapshot-user")

	session, err := f.sessions.Create(context.Background(), user.ID, auth.SessionMetadata{})
	require.NoError(t, err)

	// Operator has no export grant in its snapshot.
	rec := f.request(t, "/api/export", session.Token)
	require.Equal(t, http.StatusForbidden, rec.Code)

	// Granting the permission in the store alone changes nothing: the
	// snapshot is authoritative until a refresh rewrites it.
	override := models.UserPermission{
		UserID:       user.ID,
		PermissionID: "reports.export",
		Type:         models.OverrideAdditional,
	}
	require.NoError(t, f.db.Create(&override).Error)

	rec = f.request(t, "/api/export", session.Token)
	require.Equal(t, http.StatusForbidden, rec.Code)

	refresher, err := auth.NewRefresher(f.db)
	require.NoError(t, err)
	require.NoError(t, refresher.RefreshUser(context.Background(), user.ID))

	rec = f.request(t, "/api/export", session.Token)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRootBypassesPermissionChecks(t *testing.T) {
	f := newMiddlewareFixture(t)
	user := f.createUser(t, "root-user", func(u *models.User) {
		u.IsRoot = true
	})

	session, err := f.sessions.Create(context.Background(), user.ID, auth.SessionMetadata{})
	require.NoError(t, err)

	rec := f.request(t, "/api/export", session.Token)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPendingTelegramUserIsGated(t *testing.T) {
	f := newMiddlewareFixture(t)
	user := f.createUser(t, "gated-user")

	session, err := f.sessions.Create(context.Background(), user.ID, auth.SessionMetadata{})
	require.NoError(t, err)

	require.NoError(t, f.db.Model(&models.User{}).
		Where("id = ?", user.ID).
		Update("status", models.StatusPendingTelegram).Error)

	rec := f.request(t, "/api/whoami", session.Token)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "SUBSCRIPTION_REQUIRED", errorCode(t, rec))

	// The gated session was destroyed, not parked.
	_, err = f.sessions.FindByToken(context.Background(), session.Token)
	require.ErrorIs(t, err, auth.ErrSessionNotFound)
}

func TestActiveUserWithoutBindingIsGated(t *testing.T) {
	f := newMiddlewareFixture(t)
	user := f.createUser(t, "unbound-user", func(u *models.User) {
		u.TelegramChatID = nil
	})

	session, err := f.sessions.Create(context.Background(), user.ID, auth.SessionMetadata{})
	require.NoError(t, err)

	rec := f.request(t, "/api/whoami", session.Token)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "SUBSCRIPTION_REQUIRED", errorCode(t, rec))

	_, err = f.sessions.FindByToken(context.Background(), session.Token)
	require.ErrorIs(t, err, auth.ErrSessionNotFound)
}

func TestRootWithoutBindingStaysUsable(t *testing.T) {
	f := newMiddlewareFixture(t)
	user := f.createUser(t, "unbound-root", func(u *models.User) {
		u.TelegramChatID = nil
		u.IsRoot = true
	})

	session, err := f.sessions.Create(context.Background(), user.ID, auth.SessionMetadata{})
	require.NoError(t, err)

	rec := f.request(t, "/api/whoami", session.Token)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBlockedUserSessionDestroyedOnUse(t *testing.T) {
	f := newMiddlewareFixture(t)
	user := f.createUser(t, "blocked-user")

	session, err := f.sessions.Create(context.Background(), user.ID, auth.SessionMetadata{})
	require.NoError(t, err)

	require.NoError(t, f.db.Model(&models.User{}).
		Where("id = ?", user.ID).
		Update("status", models.StatusBlocked).Error)

	rec := f.request(t, "/api/whoami", session.Token)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "ACCOUNT_LOCKED", errorCode(t, rec))

	_, err = f.sessions.FindByToken(context.Background(), session.Token)
	require.ErrorIs(t, err, auth.ErrSessionNotFound)
}

func TestMalformedSnapshotDestroysSession(t *testing.T) {
	f := newMiddlewareFixture(t)
	user := f.createUser(t, "malformed-user")

	session, err := f.sessions.Create(context.Background(), user.ID, auth.SessionMetadata{})
	require.NoError(t, err)

	require.NoError(t, f.db.Model(&models.Session{}).
		Where("id = ?", session.ID).
		Update("snapshot", []byte("{broken")).Error)

	rec := f.request(t, "/api/whoami", session.Token)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "SESSION_NOT_FOUND", errorCode(t, rec))

	_, err = f.sessions.FindByToken(context.Background(), session.Token)
	require.ErrorIs(t, err, auth.ErrSessionNotFound)
}
