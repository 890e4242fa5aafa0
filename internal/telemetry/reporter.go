// Package telemetry runs the gateway's periodic heartbeat: draining the
// activity log and writing it, with the current error count, into the
// gateway's row on every tick of a dedicated timer. The error counter
// is only read, never reset.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/ocx/iot-gateway/internal/activity"
	"github.com/ocx/iot-gateway/internal/gwerrors"
)

// Store is the narrow persistence surface the reporter needs.
type Store interface {
	UpdateHeartbeat(ctx context.Context, gwIDB64 string, numErrors uint64, now time.Time, activityReport string) error
}

// Reporter owns a ticker and, on each tick, flushes the activity log
// and writes a heartbeat. A failed heartbeat is logged but never
// increments the shared error counter — the reporter itself must never
// become a source of the errors it reports, or a persistently failing
// database would drive the counter to climb on its own.
type Reporter struct {
	store    Store
	activity *activity.Log
	errors   *gwerrors.Counter
	gwIDB64  string
	period   time.Duration
	now      func() time.Time
}

// New constructs a Reporter. period is telemetry_send_period from the
// dynamic configuration.
func New(store Store, act *activity.Log, errs *gwerrors.Counter, gwIDB64 string, period time.Duration) *Reporter {
	return &Reporter{
		store:    store,
		activity: act,
		errors:   errs,
		gwIDB64:  gwIDB64,
		period:   period,
		now:      time.Now,
	}
}

// Run ticks every period until ctx is cancelled. It is meant to be run
// on its own goroutine; the ticker is private to this loop so that only
// the reporter ever observes a tick.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reporter) tick(ctx context.Context) {
	reportBytes, err := r.activity.Flush()
	report := string(reportBytes)
	if err != nil {
		slog.Error("activity log flush failed", "error", err)
		report = "[]"
	}

	if err := r.store.UpdateHeartbeat(ctx, r.gwIDB64, r.errors.Load(), r.now(), report); err != nil {
		slog.Error("heartbeat update failed", "error", err)
		return
	}
}
