package v1

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
)

// StartWorkflowImport handles POST /v1/owners/:owner_id/workflow-import
func (h *Handler) StartWorkflowImport(c echo.Context) error {
	var req struct {
		Workflow json.RawMessage `json:"workflow"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if len(req.Workflow) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "workflow is required"})
	}

	runID, err := h.service.StartWorkflowImport(c.Request().Context(), c.Param("owner_id"), req.Workflow)
	if err != nil {
		return c.JSON(statusForError(err), map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusAccepted, map[string]string{"run_id": runID})
}

// CancelWorkflowImport handles POST /v1/owners/:owner_id/workflow-import/cancel
func (h *Handler) CancelWorkflowImport(c echo.Context) error {
	h.service.CancelWorkflowImport(c.Request().Context(), c.Param("owner_id"))
	return c.NoContent(http.StatusNoContent)
}

// GetWorkflowImportState handles GET /v1/owners/:owner_id/workflow-import
func (h *Handler) GetWorkflowImportState(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.WorkflowImportState(c.Param("owner_id")))
}
