package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// statsHandler handles GET /stats with the orchestrator's counters.
func (s *Server) statsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.orch.Stats().Snapshot())
}
