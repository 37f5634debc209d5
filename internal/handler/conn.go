package handler

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"gloo-proxy/internal/client"
	"gloo-proxy/internal/metrics"
	"gloo-proxy/internal/model"
	"gloo-proxy/internal/relay"
	"gloo-proxy/internal/service"
)

// connectEstablished is written to the client once a tunnel's upstream is open.
const connectEstablished = "HTTP/1.1 200 Connection Established\r\n\r\n"

// ConnectionHandler serves a single client connection from request head to teardown.
type ConnectionHandler struct {
	service *service.ProxyService
	dialer  *client.Dialer
	relay   *relay.Relay
	metrics *metrics.Metrics
	logger  *slog.Logger

	active atomic.Int64
}

// NewConnectionHandler creates a ConnectionHandler.
func NewConnectionHandler(
	svc *service.ProxyService,
	dialer *client.Dialer,
	r *relay.Relay,
	m *metrics.Metrics,
	logger *slog.Logger,
) *ConnectionHandler {
	return &ConnectionHandler{
		service: svc,
		dialer:  dialer,
		relay:   r,
		metrics: m,
		logger:  logger.With("component", "connection_handler"),
	}
}

// Active returns the number of client connections currently being served.
func (h *ConnectionHandler) Active() int64 {
	return h.active.Load()
}

// Serve handles conn until the exchange ends, then closes it. Cancelling ctx
// closes the client and upstream connections of an in-flight exchange.
// Failures are logged and never returned; no error response is written.
func (h *ConnectionHandler) Serve(ctx context.Context, conn net.Conn) {
	c := newClientConn(conn)
	defer func() { _ = c.Close() }()

	h.active.Add(1)
	h.metrics.ConnectionsActive.Inc()
	defer func() {
		h.active.Add(-1)
		h.metrics.ConnectionsActive.Dec()
	}()

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	logger := h.logger.With("remote", conn.RemoteAddr().String())
	if err := h.serve(ctx, c, logger); err != nil {
		h.report(logger, err)
	}
}

func (h *ConnectionHandler) serve(ctx context.Context, c *clientConn, logger *slog.Logger) error {
	br := bufio.NewReaderSize(c, h.relay.ChunkSize())

	req, err := h.service.ReadRequest(br)
	if err != nil {
		return err
	}
	head := req.Head
	mode := head.Mode()
	h.metrics.ConnectionsTotal.WithLabelValues(mode.String()).Inc()

	target, err := h.service.Resolve(head)
	if err != nil {
		return err
	}
	logger = logger.With("mode", mode.String(), "method", head.Method, "host", target.Host, "port", target.Port)

	upstream, err := h.dialer.Dial(ctx, target.Host, target.Port)
	if err != nil {
		return err
	}
	defer func() { _ = upstream.Close() }()
	stopUpstream := context.AfterFunc(ctx, func() { _ = upstream.Close() })
	defer stopUpstream()

	if mode == model.ModeTunnel {
		return h.tunnel(ctx, &bufferedConn{clientConn: c, r: br}, upstream, req.Payload, logger)
	}
	return h.forward(c, upstream, req, target, logger)
}

// tunnel confirms the CONNECT and relays opaque bytes both ways until either side stops.
func (h *ConnectionHandler) tunnel(ctx context.Context, c *bufferedConn, upstream net.Conn, payload []byte, logger *slog.Logger) error {
	if _, err := c.Write([]byte(connectEstablished)); err != nil {
		return fmt.Errorf("tunnel: write established: %w", err)
	}
	if len(payload) > 0 {
		if _, err := upstream.Write(payload); err != nil {
			return fmt.Errorf("tunnel: write payload: %w", err)
		}
	}

	logger.Info("tunnel established")
	if err := h.relay.Join(ctx, c, upstream); err != nil {
		return fmt.Errorf("tunnel: %w", err)
	}
	logger.Debug("tunnel closed")
	return nil
}

// forward sends the rewritten head and payload upstream and relays the
// response back. Client bytes after the payload are never read.
func (h *ConnectionHandler) forward(c *clientConn, upstream net.Conn, req *service.Request, target model.Target, logger *slog.Logger) error {
	h.metrics.ForwardRequests.WithLabelValues(metrics.NormalizeMethod(req.Head.Method)).Inc()

	out := h.service.RewriteHead(req.Head, target)
	out = append(out, req.Payload...)
	if _, err := upstream.Write(out); err != nil {
		return fmt.Errorf("forward: write request: %w", err)
	}

	logger.Info("forwarding request", "uri", target.RequestURI, "payload_bytes", len(req.Payload))
	n, err := h.relay.Pump(c, upstream, relay.UpstreamToClient)
	if err != nil {
		return fmt.Errorf("forward: %w", err)
	}
	logger.Debug("response relayed", "bytes", n)
	return nil
}

// report logs a failed exchange once and counts it by kind.
func (h *ConnectionHandler) report(logger *slog.Logger, err error) {
	var kind string
	switch {
	case errors.Is(err, service.ErrNoRequest):
		logger.Debug("client closed before sending a request")
		return
	case relay.IsClosed(err):
		logger.Debug("connection closed during shutdown", "err", err)
		return
	case errors.Is(err, service.ErrProtocol):
		kind = metrics.KindProtocol
		logger.Warn("malformed request", "err", err)
	case errors.Is(err, client.ErrUpstreamConnect):
		kind = metrics.KindConnectivity
		logger.Warn("upstream unreachable", "err", err)
	default:
		kind = metrics.KindIO
		logger.Error("connection i/o error", "err", err)
	}
	h.metrics.ConnectionErrors.WithLabelValues(kind).Inc()
}
