package ingress

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/iot-gateway/internal/dispatch"
)

func TestListener_SubmitsAcceptedConnsToPool(t *testing.T) {
	var submitted atomic.Int32
	pool := dispatch.NewPool(2, func(conn net.Conn, traceID string) {
		submitted.Add(1)
		conn.Close()
	})
	defer pool.Close()

	l, err := New(0, pool)
	require.NoError(t, err)
	go l.Run()
	defer l.Shutdown()

	addr := l.Addr().String()
	for i := 0; i < 3; i++ {
		conn, err := net.Dial("tcp", addr)
		require.NoError(t, err)
		conn.Close()
	}

	assert.Eventually(t, func() bool {
		return submitted.Load() == 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestListener_ShutdownUnblocksAccept(t *testing.T) {
	pool := dispatch.NewPool(1, func(conn net.Conn, traceID string) { conn.Close() })
	defer pool.Close()

	l, err := New(0, pool)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		l.Run()
		close(done)
	}()

	require.NoError(t, l.Shutdown())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
}
