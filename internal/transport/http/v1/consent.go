package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// StartConsent handles POST /v1/connectors/:connector_id/consent
func (h *Handler) StartConsent(c echo.Context) error {
	var req struct {
		Provider string `json:"provider"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Provider == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "provider is required"})
	}

	if err := h.service.StartConsent(c.Request().Context(), c.Param("connector_id"), req.Provider); err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusAccepted, h.service.ConsentState(c.Param("connector_id")))
}

// ResetConsent handles POST /v1/connectors/:connector_id/consent/reset
func (h *Handler) ResetConsent(c echo.Context) error {
	h.service.ResetConsent(c.Param("connector_id"))
	return c.NoContent(http.StatusNoContent)
}

// GetConsentState handles GET /v1/connectors/:connector_id/consent
func (h *Handler) GetConsentState(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.ConsentState(c.Param("connector_id")))
}
