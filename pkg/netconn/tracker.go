package netconn

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/multierr"
)

// Tracker remembers the live connections of one client so they can all be
// closed at once, from any goroutine.
// Mutable
type Tracker struct {
	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
}

// Add registers conn. If the tracker is already closed, conn is closed
// immediately and Add returns false.
func (t *Tracker) Add(conn net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		_ = conn.Close()
		return false
	}
	if t.conns == nil {
		t.conns = make(map[net.Conn]struct{})
	}
	t.conns[conn] = struct{}{}
	return true
}

// Release forgets conn and closes it.
func (t *Tracker) Release(conn net.Conn) error {
	if conn == nil {
		return nil
	}

	t.mu.Lock()
	delete(t.conns, conn)
	t.mu.Unlock()

	return closeConn(conn)
}

// Close closes every registered connection. Later Adds are refused.
func (t *Tracker) Close() (err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	for c := range t.conns {
		err = multierr.Append(err, closeConn(c))
	}
	t.conns = nil

	return err
}

// Closed reports whether Close has been called.
func (t *Tracker) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func closeConn(c net.Conn) error {
	err := c.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// IdleReader returns a reader that refreshes conn's read deadline before
// every read, so a stalled peer fails the read after timeout.
// A non-positive timeout returns r unchanged.
func IdleReader(conn net.Conn, r io.Reader, timeout time.Duration) io.Reader {
	if timeout <= 0 {
		return r
	}
	return &idleReader{conn: conn, r: r, timeout: timeout}
}

type idleReader struct {
	conn    net.Conn
	r       io.Reader
	timeout time.Duration
}

func (i *idleReader) Read(p []byte) (int, error) {
	if err := i.conn.SetReadDeadline(time.Now().Add(i.timeout)); err != nil {
		return 0, err
	}
	return i.r.Read(p)
}
