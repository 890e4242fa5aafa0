// Package ingress owns the gateway's device-facing TCP socket: the
// accept loop that hands every new connection to the worker pool.
package ingress

import (
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/ocx/iot-gateway/internal/dispatch"
)

// Listener accepts device connections on a fixed port and submits each
// one to a dispatch.Pool. It never reads from the socket itself — that
// is the handler's job once a worker picks up the task.
type Listener struct {
	ln      net.Listener
	pool    *dispatch.Pool
	working atomic.Bool
}

// New binds port and returns a Listener ready to Run.
func New(port int, pool *dispatch.Pool) (*Listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("ingress: listen: %w", err)
	}
	l := &Listener{ln: ln, pool: pool}
	l.working.Store(true)
	return l, nil
}

// Run accepts connections until Shutdown is called, submitting each to
// the pool. It returns once the listener has been closed.
func (l *Listener) Run() {
	for l.working.Load() {
		conn, err := l.ln.Accept()
		if err != nil {
			if !l.working.Load() {
				return // Shutdown closed the socket; this is expected.
			}
			slog.Warn("accept failed", "error", err)
			continue
		}
		l.pool.Submit(conn)
	}
}

// Shutdown flips the working flag and closes the listening socket so
// that a blocked Accept returns immediately, rather than waiting for
// the next incoming connection.
func (l *Listener) Shutdown() error {
	l.working.Store(false)
	return l.ln.Close()
}

// Addr returns the listener's bound address, mainly useful in tests
// that bind to port 0.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}
