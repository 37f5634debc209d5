// Package server runs the proxy's accept loop.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"gloo-proxy/internal/config"
	"gloo-proxy/internal/metrics"
)

// ConnHandler serves one accepted client connection and closes it.
type ConnHandler interface {
	Serve(ctx context.Context, conn net.Conn)
}

// Server accepts client connections and hands each one to a ConnHandler on its
// own goroutine. Its context is the parent of every in-flight exchange.
type Server struct {
	handler ConnHandler
	limiter *rate.Limiter
	metrics *metrics.Metrics
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// mu guards ln and shutdown, and orders every wg.Add before Shutdown's Wait.
	mu       sync.Mutex
	ln       net.Listener
	shutdown bool
	wg       sync.WaitGroup
}

// New creates a Server. When server.rate_limit is enabled, connections beyond
// the configured rate are closed right after accept.
func New(cfg *config.Config, h ConnHandler, m *metrics.Metrics, logger *slog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		handler: h,
		metrics: m,
		logger:  logger.With("component", "server"),
		ctx:     ctx,
		cancel:  cancel,
	}
	if rl := cfg.Server.RateLimit; rl.Enabled {
		s.limiter = rate.NewLimiter(rate.Limit(rl.ConnectionsPerSecond), rl.Burst)
	}
	return s
}

// Addr returns the listener address, or nil before Serve is called.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts connections on ln until ln is closed or Shutdown is called.
// A closed listener is a normal return, not an error.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	done := s.shutdown
	s.mu.Unlock()
	if done {
		_ = ln.Close()
		return nil
	}

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				s.logger.Warn("accept failed; retrying", "err", err, "backoff", backoff)
				time.Sleep(backoff)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		backoff = 0

		if s.limiter != nil && !s.limiter.Allow() {
			s.metrics.ConnectionsRejected.Inc()
			s.logger.Warn("connection rate exceeded; closing", "remote", conn.RemoteAddr().String())
			_ = conn.Close()
			continue
		}

		s.mu.Lock()
		if s.shutdown {
			s.mu.Unlock()
			_ = conn.Close()
			return nil
		}
		s.wg.Add(1)
		s.mu.Unlock()
		go func() {
			defer s.wg.Done()
			s.handler.Serve(s.ctx, conn)
		}()
	}
}

// Shutdown stops accepting, cancels every in-flight exchange, and waits for
// their handlers to return or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	ln := s.ln
	s.mu.Unlock()
	s.cancel()

	if ln != nil {
		_ = ln.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	return min(2*d, time.Second)
}
