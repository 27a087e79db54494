package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	iauth "github.com/branchdesk/branchdesk/internal/auth"
	"github.com/branchdesk/branchdesk/internal/services"
	appErrors "github.com/branchdesk/branchdesk/pkg/errors"
	"github.com/branchdesk/branchdesk/pkg/response"
)

// SessionHandler exposes the administrative session surface.
type SessionHandler struct {
	sessions *iauth.SessionService
	users    *services.UserService
}

func NewSessionHandler(sessions *iauth.SessionService, users *services.UserService) *SessionHandler {
	return &SessionHandler{sessions: sessions, users: users}
}

// GET /api/users/:id/sessions
func (h *SessionHandler) ListForUser(c *gin.Context) {
	// 404 for unknown users rather than an empty list.
	if _, err := h.users.Get(requestContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}

	sessions, err := h.sessions.ListForUser(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	payload := make([]gin.H, 0, len(sessions))
	for _, session := range sessions {
		payload = append(payload, gin.H{
			"id":           session.ID,
			"ip_address":   session.IPAddress,
			"user_agent":   session.UserAgent,
			"created_at":   session.CreatedAt,
			"last_used_at": session.LastUsedAt,
			"expires_at":   session.ExpiresAt,
		})
	}

	response.Success(c, http.StatusOK, payload)
}

// DELETE /api/sessions/:id
func (h *SessionHandler) Revoke(c *gin.Context) {
	if err := h.sessions.Revoke(requestContext(c), c.Param("id")); err != nil {
		if errors.Is(err, iauth.ErrSessionNotFound) {
			response.Error(c, appErrors.ErrNotFound)
			return
		}
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}
