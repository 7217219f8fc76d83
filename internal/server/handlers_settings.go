package server

import (
	"fmt"

	"github.com/labstack/echo/v4"

	"github.com/nazuninha/wabot/internal/domain"
	apperrors "github.com/nazuninha/wabot/internal/errors"
)

func (s *Server) handleGetSettings(c echo.Context) error {
	if err := c.JSON(200, s.settings.Snapshot()); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleUpdateSettings(c echo.Context) error {
	var patch domain.SettingsPatch
	if err := c.Bind(&patch); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	updated, err := s.settings.Update(c.Request().Context(), patch)
	if err != nil {
		return mapDomainError(err)
	}

	if err := c.JSON(200, updated); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
