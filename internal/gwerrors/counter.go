// Package gwerrors tracks the gateway's process-wide error counter.
package gwerrors

import "sync/atomic"

// Counter is a monotonically non-decreasing count of errors observed
// since process start. It is safe for concurrent use by any number of
// workers, the listener, and the request handler; the telemetry
// reporter only ever reads it.
type Counter struct {
	n atomic.Uint64
}

// Incr increments the counter by one and returns the new value.
func (c *Counter) Incr() uint64 {
	return c.n.Add(1)
}

// Load returns the current value without mutating it.
func (c *Counter) Load() uint64 {
	return c.n.Load()
}
