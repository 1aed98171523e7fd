package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mealbridge/notification/internal/transport/mw"
)

// NewRouter sets up all Echo routes and middleware.
func NewRouter(h *Handler, authSecret string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger())

	// No auth required
	e.GET("/health", h.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// API — requires service authentication
	v1 := e.Group("/v1")
	v1.Use(mw.ServiceAuth(authSecret))

	v1.POST("/notifications", h.Enqueue)

	v1.GET("/queue/:id", h.GetEntry)
	v1.POST("/queue/process", h.ProcessCycle)
	v1.POST("/queue/claim", h.ClaimRetries)
	v1.POST("/queue/:id/success", h.ReportSuccess)
	v1.POST("/queue/:id/failure", h.ReportFailure)
	v1.POST("/queue/cleanup", h.Cleanup)
	v1.GET("/queue/stats", h.Stats)

	v1.GET("/dead-letters", h.DeadLetters)

	v1.POST("/devices", h.RegisterDevice)
	v1.DELETE("/devices/:token", h.DeactivateDevice)
	v1.GET("/recipients/:id/preferences", h.GetPreferences)
	v1.PUT("/recipients/:id/preferences", h.PutPreferences)

	return e
}
