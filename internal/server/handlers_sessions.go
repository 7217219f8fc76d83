package server

import (
	"errors"
	"fmt"

	"github.com/labstack/echo/v4"

	"github.com/nazuninha/wabot/internal/domain"
	apperrors "github.com/nazuninha/wabot/internal/errors"
)

// mapDomainError translates domain sentinels and typed errors into the
// structured errors the middleware renders.
func mapDomainError(err error) error {
	switch {
	case errors.Is(err, domain.ErrAlreadyConnected):
		return apperrors.ConflictError("session is already connected")
	case errors.Is(err, domain.ErrSessionNotFound):
		return apperrors.NotFoundError("session not found")
	case errors.Is(err, domain.ErrNotConnected):
		return apperrors.NotFoundError("session is not connected")
	}

	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return apperrors.ValidationError(verr.Message).WithField("field", verr.Field)
	}
	var perr *domain.PersistenceError
	if errors.As(err, &perr) {
		return apperrors.ExternalError("storage unavailable", err).WithField("op", perr.Op)
	}
	return apperrors.InternalError("unexpected failure", err)
}

func (s *Server) handleListSessions(c echo.Context) error {
	if err := c.JSON(200, map[string]any{"sessions": s.sessions.ListSessions()}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

type startSessionRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (s *Server) handleStartSession(c echo.Context) error {
	var req startSessionRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	ctx := c.Request().Context()
	id, err := s.sessions.StartSession(ctx, req.ID)
	if err != nil {
		return mapDomainError(err)
	}

	if req.Name != "" {
		if err := s.sessions.RenameSession(ctx, id, req.Name); err != nil {
			return mapDomainError(err)
		}
	}

	if err := c.JSON(201, map[string]string{"id": id, "status": "starting"}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleStopSession(c echo.Context) error {
	if err := s.sessions.StopSession(c.Request().Context(), c.Param("id")); err != nil {
		return mapDomainError(err)
	}
	if err := c.JSON(200, map[string]string{"status": "ok"}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleRemoveSession(c echo.Context) error {
	if err := s.sessions.RemoveSession(c.Request().Context(), c.Param("id")); err != nil {
		return mapDomainError(err)
	}
	if err := c.JSON(200, map[string]string{"status": "ok"}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

type renameSessionRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleRenameSession(c echo.Context) error {
	var req renameSessionRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.Name == "" {
		return apperrors.ValidationError("name cannot be empty").WithField("field", "name")
	}

	if err := s.sessions.RenameSession(c.Request().Context(), c.Param("id"), req.Name); err != nil {
		return mapDomainError(err)
	}
	if err := c.JSON(200, map[string]string{"status": "ok"}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleGetQRCode(c echo.Context) error {
	id := c.Param("id")
	qr, ok := s.sessions.GetQRCode(id)
	if !ok {
		return apperrors.NotFoundError("no pairing code available").WithField("session_id", id)
	}
	if err := c.JSON(200, map[string]string{"id": id, "qr": qr}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
