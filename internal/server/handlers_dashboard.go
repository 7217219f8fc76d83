package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is same-deployment tooling; origin checks add nothing
	// without cookie auth.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StatusUpdate is the payload pushed to dashboard clients.
type StatusUpdate struct {
	Type     string `json:"type"`
	Sessions any    `json:"sessions"`
	Stats    any    `json:"stats"`
}

func (s *Server) handleDashboardStats(c echo.Context) error {
	if err := c.JSON(200, s.sessions.Stats()); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleDashboardSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error("Failed to upgrade dashboard websocket", "error", err)
		return nil
	}

	if err := s.hub.Register(conn); err != nil {
		slog.Warn("Dashboard client rejected", "error", err)
		// The hub already closed the connection.
		return nil
	}

	// Read pump; dashboard clients never send anything meaningful, this
	// just detects the disconnect.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.hub.Unregister(conn)
	return nil
}
