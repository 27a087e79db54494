package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/branchdesk/branchdesk/internal/permissions"
	"github.com/branchdesk/branchdesk/pkg/response"
)

// PermissionHandler exposes the registered permission catalog.
type PermissionHandler struct{}

func NewPermissionHandler() *PermissionHandler {
	return &PermissionHandler{}
}

// GET /api/permissions
func (h *PermissionHandler) List(c *gin.Context) {
	defs := permissions.All()

	grouped := make(map[string][]gin.H)
	for _, def := range defs {
		grouped[def.Module] = append(grouped[def.Module], gin.H{
			"id":          def.ID,
			"description": def.Description,
		})
	}

	response.Success(c, http.StatusOK, gin.H{
		"permissions": defs,
		"modules":     grouped,
	})
}
