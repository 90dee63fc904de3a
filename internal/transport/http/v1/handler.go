// Package v1 provides the REST handlers for the runstream engine.
package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/personadesk/runstream/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers the v1 routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Owners
	e.POST("/v1/owners", h.CreateOwner)
	e.GET("/v1/owners/:owner_id", h.GetOwner)

	// Design runs
	e.POST("/v1/owners/:owner_id/design", h.StartDesign)
	e.POST("/v1/owners/:owner_id/design/refine", h.RefineDesign)
	e.POST("/v1/owners/:owner_id/design/answer", h.AnswerDesignQuestion)
	e.POST("/v1/owners/:owner_id/design/cancel", h.CancelDesign)
	e.POST("/v1/owners/:owner_id/design/apply", h.ApplyDesign)
	e.POST("/v1/owners/:owner_id/design/reset", h.ResetDesign)
	e.GET("/v1/owners/:owner_id/design", h.GetDesignState)

	// Conversations
	e.GET("/v1/owners/:owner_id/conversations", h.ListConversations)
	e.GET("/v1/owners/:owner_id/conversations/active", h.GetActiveConversation)
	e.POST("/v1/owners/:owner_id/conversations/:conversation_id/resume", h.ResumeConversation)
	e.POST("/v1/owners/:owner_id/conversations/complete", h.CompleteConversation)
	e.DELETE("/v1/owners/:owner_id/conversations/:conversation_id", h.DeleteConversation)

	// Workflow imports
	e.POST("/v1/owners/:owner_id/workflow-import", h.StartWorkflowImport)
	e.POST("/v1/owners/:owner_id/workflow-import/cancel", h.CancelWorkflowImport)
	e.GET("/v1/owners/:owner_id/workflow-import", h.GetWorkflowImportState)

	// Connector credential flows
	e.POST("/v1/connectors/:connector_id/design", h.StartConnectorDesign)
	e.POST("/v1/connectors/:connector_id/design/cancel", h.CancelConnectorDesign)
	e.GET("/v1/connectors/:connector_id/design", h.GetConnectorDesignState)
	e.POST("/v1/connectors/:connector_id/negotiation", h.StartNegotiation)
	e.POST("/v1/connectors/:connector_id/negotiation/answer", h.AnswerNegotiation)
	e.POST("/v1/connectors/:connector_id/negotiation/cancel", h.CancelNegotiation)
	e.GET("/v1/connectors/:connector_id/negotiation", h.GetNegotiationState)

	// Consent
	e.POST("/v1/connectors/:connector_id/consent", h.StartConsent)
	e.POST("/v1/connectors/:connector_id/consent/reset", h.ResetConsent)
	e.GET("/v1/connectors/:connector_id/consent", h.GetConsentState)

	e.GET("/health", h.Health)
}

// Health returns 200 OK.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
