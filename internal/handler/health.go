package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"gloo-proxy/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// ConnectionCounter reports how many client connections are being served.
type ConnectionCounter interface {
	Active() int64
}

// HealthHandler serves the admin health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	conns   ConnectionCounter
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version, conns *ConnectionHandler) *HealthHandler {
	h := &HealthHandler{cfg: cfg, version: v}
	if conns != nil {
		h.conns = conns
	}
	return h
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// StatusResponse is the body of GET /proxy/status.
type StatusResponse struct {
	Status            string `json:"status"`
	Version           string `json:"version"`
	ListenAddr        string `json:"listen_addr"`
	ActiveConnections int64  `json:"active_connections"`
}

// Status reports the build version, the proxy listen address and the number
// of connections in flight.
func (h *HealthHandler) Status(c echo.Context) error {
	resp := StatusResponse{
		Status:     "ok",
		Version:    string(h.version),
		ListenAddr: h.cfg.Server.Addr(),
	}
	if h.conns != nil {
		resp.ActiveConnections = h.conns.Active()
	}
	return c.JSON(http.StatusOK, resp)
}
