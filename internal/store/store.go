// Package store is the gateway's single point of contact with the
// relational database: application key resolution, sensor-reading
// inserts, pending-message delivery and acknowledgement, and gateway
// heartbeats. Every exported method serialises on one mutex, so at most
// one query is in flight against the shared handle at any time — there
// is no connection pool to hide the contention behind.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sync"
	"time"

	_ "github.com/lib/pq" // Postgres driver
)

// appKeyPattern is the allow-list an app_key must satisfy before it is
// ever interpolated into a table name. Only ASCII letters, digits and
// underscore are permitted; this is the gateway's entire defence
// against SQL injection through the per-application table scheme.
var appKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,32}$`)

// Store wraps a single *sql.DB behind a mutex. Every query method below
// holds the mutex for the full duration of the query, including result
// scanning.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open connects to Postgres using the given DSN and verifies the
// connection with a ping.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Store{db: db}, nil
}

// NewFromDB wraps an already-open *sql.DB, primarily for tests against
// a sqlmock or an in-process fake driver.
func NewFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ValidAppKey reports whether key is safe to interpolate into a table
// name. InsertReading checks it before building the table name.
func ValidAppKey(key string) bool {
	return appKeyPattern.MatchString(key)
}

// InsertReading persists one sensor reading into the per-device table
// dev_<appKey>_<devID>. It returns an error without querying when
// appKey fails ValidAppKey; devID is a small integer and never
// attacker-controlled text, so it is safe to format directly.
func (s *Store) InsertReading(ctx context.Context, appKey string, devID uint8, utc uint32, timedate string, data []byte) error {
	if !ValidAppKey(appKey) {
		return fmt.Errorf("store: insert reading: invalid app key %q", appKey)
	}
	table := fmt.Sprintf("dev_%s_%d", appKey, devID)

	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf(`INSERT INTO %s (utc, timedate, data) VALUES ($1, $2, $3)`, table)
	_, err := s.db.ExecContext(ctx, query, utc, timedate, data)
	if err != nil {
		return fmt.Errorf("store: insert reading: %w", err)
	}
	return nil
}

// PendingMessage is one row of the pend_msgs table.
type PendingMessage struct {
	AppKey string
	DevID  uint8
	Body   string // base64-encoded, as stored
	Ack    bool
}

// PendingForDevice returns the unacknowledged pending messages for
// (appKey, devID), oldest first: the platform queues downlinks in
// insertion order and the gateway delivers them in that order.
func (s *Store) PendingForDevice(ctx context.Context, appKey string, devID uint8) ([]PendingMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT app_key, dev_id, msg, ack FROM pend_msgs WHERE app_key=$1 AND dev_id=$2 AND ack=false ORDER BY id ASC`,
		appKey, devID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: pending for device: %w", err)
	}
	defer rows.Close()

	var out []PendingMessage
	for rows.Next() {
		var m PendingMessage
		if err := rows.Scan(&m.AppKey, &m.DevID, &m.Body, &m.Ack); err != nil {
			return nil, fmt.Errorf("store: pending for device: scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: pending for device: %w", err)
	}
	return out, nil
}

// AckPending marks as acknowledged every unacked pend_msgs row for
// (appKey, devID) whose body equals the delivered one. Duplicate queued
// bodies are acknowledged together: the device cannot distinguish two
// identical downlinks, so once one is confirmed they are all settled.
func (s *Store) AckPending(ctx context.Context, appKey string, devID uint8, deliveredBody string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE pend_msgs SET ack=true WHERE app_key=$1 AND dev_id=$2 AND msg=$3 AND ack=false`,
		appKey, devID, deliveredBody,
	)
	if err != nil {
		return fmt.Errorf("store: ack pending: %w", err)
	}
	return nil
}

// ResolveApp looks up the secure key and secure flag for an
// application. It is the backing query behind the codec's checkup
// callback (see internal/appkeys).
func (s *Store) ResolveApp(ctx context.Context, appKey string) (secureKeyB64 string, secure bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `SELECT secure_key, secure FROM applications WHERE app_key=$1`, appKey)
	if err := row.Scan(&secureKeyB64, &secure); err != nil {
		return "", false, fmt.Errorf("store: resolve app: %w", err)
	}
	return secureKeyB64, secure, nil
}

// UpdateHeartbeat writes the gateway's error count and activity log to
// its gateways row. now is passed in rather than read with time.Now so
// that callers control the exact timestamps written.
func (s *Store) UpdateHeartbeat(ctx context.Context, gwIDB64 string, numErrors uint64, now time.Time, activityReport string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE gateways SET num_errors=$1, last_keep_alive=$2, last_report=$3 WHERE id=$4`,
		numErrors, now, activityReport, gwIDB64,
	)
	if err != nil {
		return fmt.Errorf("store: update heartbeat: %w", err)
	}
	return nil
}
