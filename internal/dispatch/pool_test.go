package dispatch

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsTaskForEverySubmittedConn(t *testing.T) {
	var handled atomic.Int32
	done := make(chan struct{})

	pool := NewPool(2, func(conn net.Conn, traceID string) {
		assert.NotEmpty(t, traceID)
		conn.Close()
		if handled.Add(1) == 3 {
			close(done)
		}
	})

	for i := 0; i < 3; i++ {
		client, server := net.Pipe()
		go client.Close()
		pool.Submit(server)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for all tasks to run")
	}
	assert.Equal(t, int32(3), handled.Load())

	pool.Close()
}

func TestPool_TraceIDsAreUnique(t *testing.T) {
	seen := make(chan string, 4)
	pool := NewPool(1, func(conn net.Conn, traceID string) {
		conn.Close()
		seen <- traceID
	})

	for i := 0; i < 4; i++ {
		client, server := net.Pipe()
		go client.Close()
		pool.Submit(server)
	}

	ids := make(map[string]bool)
	for i := 0; i < 4; i++ {
		id := <-seen
		require.False(t, ids[id], "trace id reused: %s", id)
		ids[id] = true
	}

	pool.Close()
}
