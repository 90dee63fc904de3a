package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// CreateOwner handles POST /v1/owners
func (h *Handler) CreateOwner(c echo.Context) error {
	var req struct {
		Name          string `json:"name"`
		DesignContext string `json:"design_context"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "name is required"})
	}

	owner, err := h.service.CreateOwner(c.Request().Context(), req.Name, req.DesignContext)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusCreated, owner)
}

// GetOwner handles GET /v1/owners/:owner_id
func (h *Handler) GetOwner(c echo.Context) error {
	owner, err := h.service.GetOwner(c.Request().Context(), c.Param("owner_id"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if owner == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "owner not found"})
	}
	return c.JSON(http.StatusOK, owner)
}
