package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"simpleproxy-go/internal/config"
	"simpleproxy-go/internal/router"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	routes  *router.Table
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, routes *router.Table, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, routes: routes, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns proxy status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":    "ok",
		"version":   string(h.version),
		"routes":    strconv.Itoa(h.routes.Len()),
		"listeners": strconv.Itoa(len(h.cfg.Listeners)),
	})
}
