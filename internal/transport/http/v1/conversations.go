package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ListConversations handles GET /v1/owners/:owner_id/conversations
func (h *Handler) ListConversations(c echo.Context) error {
	convs, err := h.service.ListConversations(c.Request().Context(), c.Param("owner_id"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"conversations": convs})
}

// GetActiveConversation handles GET /v1/owners/:owner_id/conversations/active
func (h *Handler) GetActiveConversation(c echo.Context) error {
	conv, err := h.service.ActiveConversation(c.Request().Context(), c.Param("owner_id"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if conv == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no active conversation"})
	}
	return c.JSON(http.StatusOK, conv)
}

// ResumeConversation handles POST /v1/owners/:owner_id/conversations/:conversation_id/resume
func (h *Handler) ResumeConversation(c echo.Context) error {
	conv, err := h.service.ResumeConversation(c.Request().Context(), c.Param("owner_id"), c.Param("conversation_id"))
	if err != nil {
		return c.JSON(statusForError(err), map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, conv)
}

// CompleteConversation handles POST /v1/owners/:owner_id/conversations/complete
func (h *Handler) CompleteConversation(c echo.Context) error {
	if err := h.service.CompleteConversation(c.Request().Context(), c.Param("owner_id")); err != nil {
		return c.JSON(statusForError(err), map[string]string{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

// DeleteConversation handles DELETE /v1/owners/:owner_id/conversations/:conversation_id
func (h *Handler) DeleteConversation(c echo.Context) error {
	err := h.service.DeleteConversation(c.Request().Context(), c.Param("owner_id"), c.Param("conversation_id"))
	if err != nil {
		return c.JSON(statusForError(err), map[string]string{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}
