// Package client opens connections to origin hosts.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"gloo-proxy/internal/config"
	"gloo-proxy/internal/metrics"
)

// ErrUpstreamConnect wraps every failure to open an origin connection.
var ErrUpstreamConnect = errors.New("upstream connect failed")

// Dialer opens TCP connections to origin hosts. It never retries.
type Dialer struct {
	dialer  *net.Dialer
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewDialer creates a Dialer from the upstream settings.
// The metrics parameter is optional; pass nil to disable dial metrics recording.
func NewDialer(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Dialer {
	return &Dialer{
		dialer: &net.Dialer{
			Timeout:   time.Duration(cfg.Upstream.DialTimeoutSeconds) * time.Second,
			KeepAlive: time.Duration(cfg.Upstream.KeepAliveSeconds) * time.Second,
		},
		logger:  logger.With("component", "upstream_dialer"),
		metrics: m,
	}
}

// Dial connects to host:port. The context only bounds connection setup.
func (d *Dialer) Dial(ctx context.Context, host string, port int) (net.Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	d.logger.Debug("dialing upstream", "addr", addr)

	start := time.Now()
	conn, err := d.dialer.DialContext(ctx, "tcp", addr)
	duration := time.Since(start).Seconds()

	if err != nil {
		if d.metrics != nil {
			d.metrics.UpstreamDialDuration.WithLabelValues("error").Observe(duration)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrUpstreamConnect, addr, err)
	}

	if d.metrics != nil {
		d.metrics.UpstreamDialDuration.WithLabelValues("ok").Observe(duration)
	}
	return conn, nil
}
