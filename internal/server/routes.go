package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.echo.Group("/api")

	// Sessions
	api.GET("/sessions", s.handleListSessions)
	api.POST("/sessions", s.handleStartSession)
	api.DELETE("/sessions/:id", s.handleRemoveSession)
	api.POST("/sessions/:id/disconnect", s.handleStopSession)
	api.POST("/sessions/:id/rename", s.handleRenameSession)
	api.GET("/sessions/:id/qr", s.handleGetQRCode)

	// Settings
	api.GET("/settings", s.handleGetSettings)
	api.PUT("/settings", s.handleUpdateSettings)

	// Dashboard
	api.GET("/dashboard", s.handleDashboardStats)
	s.echo.GET("/ws/dashboard", s.handleDashboardSocket)
}
