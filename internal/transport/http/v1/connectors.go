package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// StartConnectorDesign handles POST /v1/connectors/:connector_id/design
func (h *Handler) StartConnectorDesign(c echo.Context) error {
	var req struct {
		ServiceName string `json:"service_name"`
		Docs        string `json:"docs"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.ServiceName == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "service_name is required"})
	}

	runID, err := h.service.StartConnectorDesign(c.Request().Context(), c.Param("connector_id"), req.ServiceName, req.Docs)
	if err != nil {
		return c.JSON(statusForError(err), map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusAccepted, map[string]string{"run_id": runID})
}

// CancelConnectorDesign handles POST /v1/connectors/:connector_id/design/cancel
func (h *Handler) CancelConnectorDesign(c echo.Context) error {
	h.service.CancelConnectorDesign(c.Request().Context(), c.Param("connector_id"))
	return c.NoContent(http.StatusNoContent)
}

// GetConnectorDesignState handles GET /v1/connectors/:connector_id/design
func (h *Handler) GetConnectorDesignState(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.ConnectorDesignState(c.Param("connector_id")))
}

// StartNegotiation handles POST /v1/connectors/:connector_id/negotiation
func (h *Handler) StartNegotiation(c echo.Context) error {
	var req struct {
		Goal string `json:"goal"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Goal == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "goal is required"})
	}

	runID, err := h.service.StartNegotiation(c.Request().Context(), c.Param("connector_id"), req.Goal)
	if err != nil {
		return c.JSON(statusForError(err), map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusAccepted, map[string]string{"run_id": runID})
}

// AnswerNegotiation handles POST /v1/connectors/:connector_id/negotiation/answer
func (h *Handler) AnswerNegotiation(c echo.Context) error {
	var req struct {
		Answer string `json:"answer"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Answer == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "answer is required"})
	}

	runID, err := h.service.AnswerNegotiation(c.Request().Context(), c.Param("connector_id"), req.Answer)
	if err != nil {
		return c.JSON(statusForError(err), map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusAccepted, map[string]string{"run_id": runID})
}

// CancelNegotiation handles POST /v1/connectors/:connector_id/negotiation/cancel
func (h *Handler) CancelNegotiation(c echo.Context) error {
	h.service.CancelNegotiation(c.Request().Context(), c.Param("connector_id"))
	return c.NoContent(http.StatusNoContent)
}

// GetNegotiationState handles GET /v1/connectors/:connector_id/negotiation
func (h *Handler) GetNegotiationState(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.NegotiationState(c.Param("connector_id")))
}
