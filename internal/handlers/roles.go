package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/branchdesk/branchdesk/internal/services"
	"github.com/branchdesk/branchdesk/pkg/response"
)

// RoleHandler exposes role management.
type RoleHandler struct {
	roles *services.RoleService
}

func NewRoleHandler(roles *services.RoleService) *RoleHandler {
	return &RoleHandler{roles: roles}
}

// GET /api/roles
func (h *RoleHandler) List(c *gin.Context) {
	roles, err := h.roles.List(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, roles)
}

// GET /api/roles/:id
func (h *RoleHandler) Get(c *gin.Context) {
	role, err := h.roles.Get(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, role)
}

type createRoleRequest struct {
	Name             string   `json:"name" validate:"required,min=2,max=64"`
	Description      string   `json:"description"`
	RequiresLocation bool     `json:"requires_location"`
	RequiresBrand    bool     `json:"requires_brand"`
	PermissionIDs    []string `json:"permission_ids"`
}

// POST /api/roles
func (h *RoleHandler) Create(c *gin.Context) {
	var req createRoleRequest
	if !bindAndValidate(c, &req) {
		return
	}

	role, err := h.roles.Create(requestContext(c), services.CreateRoleInput{
		Name:             req.Name,
		Description:      req.Description,
		RequiresLocation: req.RequiresLocation,
		RequiresBrand:    req.RequiresBrand,
		PermissionIDs:    req.PermissionIDs,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, role)
}

type updateRoleRequest struct {
	Name             *string `json:"name"`
	Description      *string `json:"description"`
	RequiresLocation *bool   `json:"requires_location"`
	RequiresBrand    *bool   `json:"requires_brand"`
}

// PATCH /api/roles/:id
func (h *RoleHandler) Update(c *gin.Context) {
	var req updateRoleRequest
	if !bindAndValidate(c, &req) {
		return
	}

	role, err := h.roles.Update(requestContext(c), c.Param("id"), services.UpdateRoleInput{
		Name:             req.Name,
		Description:      req.Description,
		RequiresLocation: req.RequiresLocation,
		RequiresBrand:    req.RequiresBrand,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, role)
}

type setRolePermissionsRequest struct {
	PermissionIDs []string `json:"permission_ids"`
}

// PUT /api/roles/:id/permissions
//
// The new grant set is visible to every live session of the role's members
// by the time the response is written.
func (h *RoleHandler) SetPermissions(c *gin.Context) {
	var req setRolePermissionsRequest
	if !bindAndValidate(c, &req) {
		return
	}

	role, err := h.roles.SetPermissions(requestContext(c), c.Param("id"), req.PermissionIDs)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, role)
}

// DELETE /api/roles/:id
func (h *RoleHandler) Delete(c *gin.Context) {
	if err := h.roles.Delete(requestContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}
