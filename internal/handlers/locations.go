package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/branchdesk/branchdesk/internal/services"
	"github.com/branchdesk/branchdesk/pkg/response"
)

// LocationHandler exposes the branch registry.
type LocationHandler struct {
	locations *services.LocationService
}

func NewLocationHandler(locations *services.LocationService) *LocationHandler {
	return &LocationHandler{locations: locations}
}

// GET /api/locations
func (h *LocationHandler) List(c *gin.Context) {
	locations, err := h.locations.List(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, locations)
}

type locationRequest struct {
	Name  string `json:"name" validate:"required,min=2,max=128"`
	Brand string `json:"brand"`
}

// POST /api/locations
func (h *LocationHandler) Create(c *gin.Context) {
	var req locationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	location, err := h.locations.Create(requestContext(c), services.LocationInput{
		Name:  req.Name,
		Brand: req.Brand,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, location)
}

// PATCH /api/locations/:id
func (h *LocationHandler) Update(c *gin.Context) {
	var req locationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	location, err := h.locations.Update(requestContext(c), c.Param("id"), services.LocationInput{
		Name:  req.Name,
		Brand: req.Brand,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, location)
}

// DELETE /api/locations/:id
func (h *LocationHandler) Delete(c *gin.Context) {
	if err := h.locations.Delete(requestContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}
