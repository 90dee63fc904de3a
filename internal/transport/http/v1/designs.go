package v1

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// StartDesign handles POST /v1/owners/:owner_id/design
func (h *Handler) StartDesign(c echo.Context) error {
	var req struct {
		Instruction string `json:"instruction"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Instruction == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "instruction is required"})
	}

	runID, err := h.service.StartDesign(c.Request().Context(), c.Param("owner_id"), req.Instruction)
	if err != nil {
		return c.JSON(statusForError(err), map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusAccepted, map[string]string{"run_id": runID})
}

// RefineDesign handles POST /v1/owners/:owner_id/design/refine
func (h *Handler) RefineDesign(c echo.Context) error {
	var req struct {
		Feedback string `json:"feedback"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Feedback == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "feedback is required"})
	}

	runID, err := h.service.RefineDesign(c.Request().Context(), c.Param("owner_id"), req.Feedback)
	if err != nil {
		return c.JSON(statusForError(err), map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusAccepted, map[string]string{"run_id": runID})
}

// AnswerDesignQuestion handles POST /v1/owners/:owner_id/design/answer
func (h *Handler) AnswerDesignQuestion(c echo.Context) error {
	var req struct {
		Answer string `json:"answer"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Answer == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "answer is required"})
	}

	runID, err := h.service.AnswerDesignQuestion(c.Request().Context(), c.Param("owner_id"), req.Answer)
	if err != nil {
		return c.JSON(statusForError(err), map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusAccepted, map[string]string{"run_id": runID})
}

// CancelDesign handles POST /v1/owners/:owner_id/design/cancel
func (h *Handler) CancelDesign(c echo.Context) error {
	h.service.CancelDesign(c.Request().Context(), c.Param("owner_id"))
	return c.NoContent(http.StatusNoContent)
}

// ApplyDesign handles POST /v1/owners/:owner_id/design/apply
func (h *Handler) ApplyDesign(c echo.Context) error {
	if err := h.service.ApplyDesign(c.Request().Context(), c.Param("owner_id")); err != nil {
		return c.JSON(statusForError(err), map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, h.service.DesignState(c.Param("owner_id")))
}

// ResetDesign handles POST /v1/owners/:owner_id/design/reset
func (h *Handler) ResetDesign(c echo.Context) error {
	h.service.ResetDesign(c.Param("owner_id"))
	return c.NoContent(http.StatusNoContent)
}

// GetDesignState handles GET /v1/owners/:owner_id/design
func (h *Handler) GetDesignState(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.DesignState(c.Param("owner_id")))
}

// statusForError maps service errors onto status codes. The service
// returns plain errors; precondition failures are phrased consistently
// enough to pick out.
func statusForError(err error) int {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "not found"):
		return http.StatusNotFound
	case strings.Contains(msg, "required"), strings.Contains(msg, "not valid JSON"):
		return http.StatusBadRequest
	case strings.Contains(msg, "no pending question"),
		strings.Contains(msg, "no design to refine"),
		strings.Contains(msg, "cannot"):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
