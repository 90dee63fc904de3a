// Package http provides the HTTP server for the runstream engine.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/personadesk/runstream/internal/service"
	v1 "github.com/personadesk/runstream/internal/transport/http/v1"
	"github.com/personadesk/runstream/internal/transport/ws"
)

// NewServer creates and configures the API server. It exposes the REST
// surface under /v1 and the event stream at /ws.
func NewServer(svc *service.Service, gateway *ws.Gateway) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	v1Handler := v1.NewHandler(svc)
	v1Handler.RegisterRoutes(e)

	e.GET("/ws", gateway.Serve)

	return e
}
