// Package activity tallies which (app_key, dev_id) pairs the gateway has
// served since the last telemetry flush. It is the gateway's half of the
// contract with the Telemetry Reporter: Add is called from request-handling
// goroutines, Flush is called exclusively from the reporter.
package activity

import (
	"encoding/json"
	"sync"
)

// Key identifies a served device within an application.
type Key struct {
	AppKey [8]byte
	DevID  byte
}

// Entry is the externally-visible, JSON-serialisable shape of one tally.
// The platform only relies on the field names and the fact that entries
// are unambiguously delimited — the shape itself is not otherwise load
// bearing.
type Entry struct {
	AppKey string `json:"app_key"`
	DevID  uint8  `json:"dev_id"`
	Count  uint64 `json:"count"`
}

// Log is a thread-safe tally of (app_key, dev_id) occurrences. Its mutex
// is disjoint from any database mutex held elsewhere in the gateway and
// must never be held while a database call is in flight.
type Log struct {
	mu      sync.Mutex
	entries map[Key]uint64
}

// New returns an empty activity log.
func New() *Log {
	return &Log{entries: make(map[Key]uint64)}
}

// Add increments the tally for (appKey, devID), inserting it with count 1
// if it is not already present.
func (l *Log) Add(appKey [8]byte, devID byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[Key{AppKey: appKey, DevID: devID}]++
}

// Flush serialises every entry to a JSON array and clears the log. The
// returned bytes are suitable for embedding as a SQL string literal in the
// telemetry heartbeat update.
func (l *Log) Flush() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0, len(l.entries))
	for k, count := range l.entries {
		out = append(out, Entry{
			AppKey: appKeyString(k.AppKey),
			DevID:  k.DevID,
			Count:  count,
		})
	}
	l.entries = make(map[Key]uint64)

	return json.Marshal(out)
}

// Len reports the number of distinct (app_key, dev_id) pairs currently
// tallied. Intended for tests and diagnostics only.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func appKeyString(appKey [8]byte) string {
	n := len(appKey)
	for n > 0 && appKey[n-1] == 0 {
		n--
	}
	return string(appKey[:n])
}
