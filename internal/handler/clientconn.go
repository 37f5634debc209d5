package handler

import (
	"bufio"
	"net"
	"sync"
)

// clientConn wraps an accepted client connection so that Close reaches the
// underlying socket exactly once, however many teardown paths call it.
type clientConn struct {
	net.Conn

	closeOnce sync.Once
	closeErr  error
}

func newClientConn(conn net.Conn) *clientConn {
	return &clientConn{Conn: conn}
}

// Close closes the underlying connection on the first call and returns the
// same result on every later call.
func (c *clientConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.Conn.Close()
	})
	return c.closeErr
}

// bufferedConn reads through the head reader so bytes it buffered past the
// header block are not lost when the connection switches to raw relaying.
type bufferedConn struct {
	*clientConn
	r *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) {
	return b.r.Read(p)
}
