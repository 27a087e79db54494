package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/branchdesk/branchdesk/internal/models"
	"github.com/branchdesk/branchdesk/internal/services"
	appErrors "github.com/branchdesk/branchdesk/pkg/errors"
	"github.com/branchdesk/branchdesk/pkg/response"
)

// UserHandler exposes the administrative account surface.
type UserHandler struct {
	users *services.UserService
}

func NewUserHandler(users *services.UserService) *UserHandler {
	return &UserHandler{users: users}
}

type createUserRequest struct {
	Username          string   `json:"username" validate:"required,min=3,max=64"`
	Password          string   `json:"password" validate:"required,min=8"`
	RoleID            string   `json:"role_id" validate:"required"`
	Status            string   `json:"status"`
	DeviceLimit       int      `json:"device_limit"`
	PreferredCurrency string   `json:"preferred_currency"`
	LocationIDs       []string `json:"location_ids"`
}

// POST /api/users
func (h *UserHandler) Create(c *gin.Context) {
	var req createUserRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.Create(requestContext(c), services.CreateUserInput{
		Username:          req.Username,
		Password:          req.Password,
		RoleID:            req.RoleID,
		Status:            models.UserStatus(req.Status),
		DeviceLimit:       req.DeviceLimit,
		PreferredCurrency: req.PreferredCurrency,
		LocationIDs:       req.LocationIDs,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, user)
}

// GET /api/users
func (h *UserHandler) List(c *gin.Context) {
	opts := services.ListUsersOptions{
		Page:     parseIntQuery(c, "page", 1),
		PageSize: parseIntQuery(c, "page_size", 50),
		Filters: services.UserFilters{
			Status: models.UserStatus(c.Query("status")),
			RoleID: c.Query("role_id"),
			Query:  c.Query("q"),
		},
	}

	users, total, err := h.users.List(requestContext(c), opts)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, users, &response.Meta{
		Page:    opts.Page,
		PerPage: opts.PageSize,
		Total:   int(total),
	})
}

// GET /api/users/:id
func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.users.Get(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

type updateUserRequest struct {
	Password          *string `json:"password"`
	SecretWord        *string `json:"secret_word"`
	PreferredCurrency *string `json:"preferred_currency"`
}

// PATCH /api/users/:id
func (h *UserHandler) Update(c *gin.Context) {
	var req updateUserRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.Update(requestContext(c), c.Param("id"), services.UpdateUserInput{
		Password:          req.Password,
		SecretWord:        req.SecretWord,
		PreferredCurrency: req.PreferredCurrency,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

type setRoleRequest struct {
	RoleID string `json:"role_id" validate:"required"`
}

// PUT /api/users/:id/role
func (h *UserHandler) SetRole(c *gin.Context) {
	var req setRoleRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.SetRole(requestContext(c), c.Param("id"), req.RoleID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

type setStatusRequest struct {
	Status string `json:"status" validate:"required"`
	Reason string `json:"reason"`
}

// PUT /api/users/:id/status
func (h *UserHandler) SetStatus(c *gin.Context) {
	var req setStatusRequest
	if !bindAndValidate(c, &req) {
		return
	}

	status := models.UserStatus(req.Status)
	switch status {
	case models.StatusActive, models.StatusBlocked, models.StatusPendingApproval,
		models.StatusPendingTelegram, models.StatusArchived:
	default:
		response.Error(c, appErrors.NewBadRequest("unknown status"))
		return
	}

	user, err := h.users.SetStatus(requestContext(c), c.Param("id"), status, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

// POST /api/users/:id/unlock
func (h *UserHandler) Unlock(c *gin.Context) {
	user, err := h.users.Unlock(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

type setDeviceLimitRequest struct {
	DeviceLimit int `json:"device_limit" validate:"required,min=1"`
}

// PUT /api/users/:id/device-limit
func (h *UserHandler) SetDeviceLimit(c *gin.Context) {
	var req setDeviceLimitRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.SetDeviceLimit(requestContext(c), c.Param("id"), req.DeviceLimit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

type bindTelegramRequest struct {
	ChatID   int64  `json:"chat_id" validate:"required"`
	Username string `json:"username"`
}

// PUT /api/users/:id/telegram
func (h *UserHandler) BindTelegram(c *gin.Context) {
	var req bindTelegramRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.BindTelegram(requestContext(c), c.Param("id"), req.ChatID, req.Username)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

type setLocationsRequest struct {
	LocationIDs []string `json:"location_ids"`
}

// PUT /api/users/:id/locations
func (h *UserHandler) SetLocations(c *gin.Context) {
	var req setLocationsRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.SetLocations(requestContext(c), c.Param("id"), req.LocationIDs)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

type setOverridesRequest struct {
	Additional []string `json:"additional"`
	Restricted []string `json:"restricted"`
}

// PUT /api/users/:id/permissions
func (h *UserHandler) SetPermissionOverrides(c *gin.Context) {
	var req setOverridesRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.SetPermissionOverrides(requestContext(c), c.Param("id"), services.OverrideInput{
		Additional: req.Additional,
		Restricted: req.Restricted,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

// DELETE /api/users/:id/sessions
func (h *UserHandler) TerminateSessions(c *gin.Context) {
	count, err := h.users.TerminateSessions(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"revoked": count})
}
