// Package relay copies bytes between connections with backpressure.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"gloo-proxy/internal/config"
	"gloo-proxy/internal/metrics"
)

// Direction labels which way a relay copies bytes.
type Direction string

const (
	ClientToUpstream Direction = "client_to_upstream"
	UpstreamToClient Direction = "upstream_to_client"
)

// Relay pumps bytes from a source to a destination one chunk at a time.
type Relay struct {
	size    int
	pool    sync.Pool
	metrics *metrics.Metrics
}

// New creates a Relay whose chunk size is server.buffer_size.
// The metrics parameter is optional; pass nil to disable byte counting.
func New(cfg *config.Config, m *metrics.Metrics) *Relay {
	r := &Relay{size: cfg.Server.BufferSize, metrics: m}
	if r.size <= 0 {
		r.size = 4096
	}
	r.pool.New = func() any {
		buf := make([]byte, r.size)
		return &buf
	}
	return r
}

// ChunkSize returns the maximum number of bytes read per iteration.
func (r *Relay) ChunkSize() int {
	return r.size
}

// Pump reads a chunk from src, writes all of it to dst, and repeats until src
// reaches end-of-stream or either side fails. A new read is only issued once
// the previous write has returned, so a slow dst throttles src.
//
// dst is always closed before Pump returns. End-of-stream is not an error.
func (r *Relay) Pump(dst io.WriteCloser, src io.Reader, dir Direction) (int64, error) {
	defer func() { _ = dst.Close() }()

	buf := r.pool.Get().(*[]byte)
	defer r.pool.Put(buf)

	var total int64
	for {
		n, rerr := src.Read(*buf)
		if n > 0 {
			w, werr := dst.Write((*buf)[:n])
			total += int64(w)
			r.count(dir, w)
			if werr != nil {
				return total, fmt.Errorf("relay %s: write: %w", dir, werr)
			}
			if w != n {
				return total, fmt.Errorf("relay %s: write: %w", dir, io.ErrShortWrite)
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return total, nil
			}
			return total, fmt.Errorf("relay %s: read: %w", dir, rerr)
		}
	}
}

func (r *Relay) count(dir Direction, n int) {
	if r.metrics != nil && n > 0 {
		r.metrics.BytesRelayed.WithLabelValues(string(dir)).Add(float64(n))
	}
}

// Join pumps client->upstream and upstream->client concurrently. As soon as
// either direction stops, or ctx is done, both connections are closed so the
// other direction stops too; Join returns after both have exited.
//
// Errors caused by that forced close are not reported.
func (r *Relay) Join(ctx context.Context, client, upstream io.ReadWriteCloser) error {
	g, gctx := errgroup.WithContext(ctx)

	first := make(chan struct{})
	var once sync.Once
	stopped := func() { once.Do(func() { close(first) }) }

	g.Go(func() error {
		defer stopped()
		_, err := r.Pump(upstream, client, ClientToUpstream)
		return err
	})
	g.Go(func() error {
		defer stopped()
		_, err := r.Pump(client, upstream, UpstreamToClient)
		return err
	})

	select {
	case <-first:
	case <-gctx.Done():
	}
	_ = client.Close()
	_ = upstream.Close()

	if err := g.Wait(); err != nil && !IsClosed(err) {
		return err
	}
	return nil
}

// IsClosed reports whether err comes from using a connection after it was closed locally.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
