// Package server exposes the JSON API and the dashboard websocket feed.
//
// Handlers split by concern: handlers_sessions.go, handlers_settings.go,
// handlers_dashboard.go, handlers_health.go.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/nazuninha/wabot/internal/config"
	"github.com/nazuninha/wabot/internal/domain"
	apperrors "github.com/nazuninha/wabot/internal/errors"
	"github.com/nazuninha/wabot/internal/websocket"
)

// SessionManager is the slice of the registry the HTTP layer consumes.
type SessionManager interface {
	StartSession(ctx context.Context, id string) (string, error)
	StopSession(ctx context.Context, id string) error
	RemoveSession(ctx context.Context, id string) error
	RenameSession(ctx context.Context, id, name string) error
	GetQRCode(id string) (string, bool)
	ListSessions() []domain.SessionInfo
	Stats() domain.DashboardStats
}

// SettingsManager reads and updates the global bot settings.
type SettingsManager interface {
	Snapshot() *domain.Settings
	Update(ctx context.Context, patch domain.SettingsPatch) (*domain.Settings, error)
}

// redisPinger is the minimal surface the readiness probe needs.
type redisPinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	echo      *echo.Echo
	config    *config.Config
	sessions  SessionManager
	settings  SettingsManager
	hub       *websocket.Hub
	redis     redisPinger
	startTime time.Time
}

func NewServer(cfg *config.Config, sessions SessionManager, settings SettingsManager, hub *websocket.Hub, redis redisPinger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(apperrors.Middleware())

	srv := &Server{
		echo:      e,
		config:    cfg,
		sessions:  sessions,
		settings:  settings,
		hub:       hub,
		redis:     redis,
		startTime: time.Now(),
	}
	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
