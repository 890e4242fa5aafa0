// Package dispatch implements the gateway's fixed-size worker pool: a
// bounded queue of accepted connections, drained by a fixed number of
// goroutines that each run one task to completion before pulling the
// next.
package dispatch

import (
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"
)

// Handler processes one accepted connection to completion, including
// closing it on every exit path.
type Handler func(conn net.Conn, traceID string)

// Pool is a fixed number of workers draining a bounded queue. Submit
// blocks when the queue is full — there is no overflow policy beyond
// backpressure on the caller.
type Pool struct {
	tasks   chan net.Conn
	handler Handler
	wg      sync.WaitGroup
}

// NewPool starts size workers reading from a queue of the same
// capacity and returns the running pool.
func NewPool(size int, handler Handler) *Pool {
	p := &Pool{
		tasks:   make(chan net.Conn, size),
		handler: handler,
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker(i)
	}
	return p
}

// Submit enqueues an accepted connection. It blocks until a worker
// slot frees up if the queue is currently full.
func (p *Pool) Submit(conn net.Conn) {
	p.tasks <- conn
}

// Close stops accepting new work and waits for in-flight and queued
// tasks to drain. Callers must not call Submit after Close.
func (p *Pool) Close() {
	close(p.tasks)
	p.wg.Wait()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for conn := range p.tasks {
		traceID := uuid.NewString()
		p.runTask(conn, traceID)
	}
	slog.Debug("worker exiting", "worker_id", id)
}

func (p *Pool) runTask(conn net.Conn, traceID string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("worker task panicked", "trace_id", traceID, "panic", r)
		}
	}()
	p.handler(conn, traceID)
}
