// Package handler implements the gateway's per-packet state machine:
// the decision of what to do with a decoded frame, and the reply (if
// any) to send back on the same connection before it is closed.
package handler

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/ocx/iot-gateway/internal/activity"
	"github.com/ocx/iot-gateway/internal/gwerrors"
	"github.com/ocx/iot-gateway/internal/protocol"
	"github.com/ocx/iot-gateway/internal/store"
)

// Store is the narrow slice of internal/store's Store the handler
// needs, so tests can substitute a fake without a database.
type Store interface {
	InsertReading(ctx context.Context, appKey string, devID uint8, utc uint32, timedate string, data []byte) error
	PendingForDevice(ctx context.Context, appKey string, devID uint8) ([]store.PendingMessage, error)
	AckPending(ctx context.Context, appKey string, devID uint8, deliveredBody string) error
}

// Invalidator is implemented by resolvers that cache checkup results
// and need to drop a stale entry on a tag mismatch.
type Invalidator interface {
	Invalidate(appKey [protocol.AppKeySize]byte)
}

// Handler wires together everything a decoded request needs to be
// serviced: persistence, the activity tally, the error counter and the
// checkup callback.
type Handler struct {
	Store       Store
	Activity    *activity.Log
	Errors      *gwerrors.Counter
	Checkup     protocol.CheckupFunc
	Invalidate  Invalidator // nil when the checkup callback is uncached
	Now         func() time.Time
	RetryDelay  time.Duration
	MaxAttempts int
}

// New returns a Handler with the retry-loop defaults from the downlink
// delivery contract (5 attempts, 300ms apart).
func New(store Store, act *activity.Log, errs *gwerrors.Counter, checkup protocol.CheckupFunc, inval Invalidator) *Handler {
	return &Handler{
		Store:       store,
		Activity:    act,
		Errors:      errs,
		Checkup:     checkup,
		Invalidate:  inval,
		Now:         time.Now,
		RetryDelay:  300 * time.Millisecond,
		MaxAttempts: 5,
	}
}

// HandleConn reads exactly one frame from conn, dispatches it, and
// closes the connection on every exit path.
func (h *Handler) HandleConn(conn net.Conn, traceID string) {
	defer conn.Close()

	buf := make([]byte, protocol.MaxFrameSize)
	n, err := conn.Read(buf)
	if err != nil {
		h.Errors.Incr()
		slog.Warn("read failed", "trace_id", traceID, "error", err)
		return
	}

	ctx := context.Background()
	var conf protocol.Conf
	packetType, payload, err := protocol.Decode(ctx, &conf, buf[:n], h.Checkup)
	if err != nil {
		h.Errors.Incr()
		if errors.Is(err, protocol.ErrDecodeTagMismatch) && h.Invalidate != nil {
			h.Invalidate.Invalidate(conf.AppKey)
		}
		slog.Warn("decode failed", "trace_id", traceID, "error", err)
		return // unreadable frame: silent drop, no reply
	}

	switch packetType {
	case protocol.TimeReq:
		h.handleTimeReq(ctx, conn, conf, traceID)
	case protocol.DataSend:
		h.handleDataSend(ctx, conn, conf, payload, traceID)
	case protocol.PendReq:
		h.handlePendReq(ctx, conn, conf, traceID)
	case protocol.Stat:
		h.handleStat(ctx, payload, conf, traceID)
	default:
		h.Errors.Incr()
		h.reply(conn, conf, protocol.Stat, []byte{byte(protocol.StatNack)}, traceID)
	}
}

func (h *Handler) reply(conn net.Conn, conf protocol.Conf, packetType protocol.PacketType, payload []byte, traceID string) {
	frame, err := protocol.Encode(conf, packetType, payload)
	if err != nil {
		h.Errors.Incr()
		slog.Warn("encode reply failed", "trace_id", traceID, "error", err)
		return
	}
	if _, err := conn.Write(frame); err != nil {
		h.Errors.Incr()
		slog.Warn("send reply failed", "trace_id", traceID, "error", err)
	}
}

func (h *Handler) handleTimeReq(_ context.Context, conn net.Conn, conf protocol.Conf, traceID string) {
	var payload [4]byte
	binary.LittleEndian.PutUint32(payload[:], uint32(h.Now().Unix()))
	h.reply(conn, conf, protocol.TimeSend, payload[:], traceID)
}

func (h *Handler) handleDataSend(ctx context.Context, conn net.Conn, conf protocol.Conf, payload []byte, traceID string) {
	if len(payload) < 4 {
		h.Errors.Incr()
		slog.Warn("data_send payload too short", "trace_id", traceID, "len", len(payload))
		return
	}
	utc := binary.LittleEndian.Uint32(payload[:4])
	data := payload[4:]
	if utc == 0 {
		utc = uint32(h.Now().Unix())
	}
	timedate := h.Now().Format("02/01/2006 15:04:05")

	appKey := appKeyString(conf.AppKey)
	if err := h.Store.InsertReading(ctx, appKey, conf.DevID, utc, timedate, data); err != nil {
		h.Errors.Incr()
		slog.Warn("insert reading failed", "trace_id", traceID, "error", err)
		return // database failure on DATA_SEND: no reply
	}

	h.Activity.Add(conf.AppKey, conf.DevID)

	pending, err := h.Store.PendingForDevice(ctx, appKey, conf.DevID)
	if err != nil {
		h.Errors.Incr()
		slog.Warn("pending lookup failed", "trace_id", traceID, "error", err)
		return
	}

	stat := protocol.StatAck
	if len(pending) > 0 {
		stat = protocol.StatAckPend
	}
	h.reply(conn, conf, protocol.Stat, []byte{byte(stat)}, traceID)
}

func (h *Handler) handlePendReq(ctx context.Context, conn net.Conn, conf protocol.Conf, traceID string) {
	appKey := appKeyString(conf.AppKey)

	pending, err := h.Store.PendingForDevice(ctx, appKey, conf.DevID)
	if err != nil {
		h.Errors.Incr()
		slog.Warn("pending lookup failed", "trace_id", traceID, "error", err)
		return
	}
	if len(pending) == 0 {
		h.reply(conn, conf, protocol.Stat, []byte{byte(protocol.StatNack)}, traceID)
		return
	}

	body, err := base64.StdEncoding.DecodeString(pending[0].Body)
	if err != nil {
		h.Errors.Incr()
		slog.Warn("pending body decode failed", "trace_id", traceID, "error", err)
		return
	}

	h.deliver(ctx, conn, conf, appKey, pending[0].Body, body, traceID)
}

// deliver runs the downlink retry loop: send PEND_SEND, wait
// RetryDelay, re-query pend_msgs for the same key, and stop as soon as
// the top row's body has changed or the result set is empty — or after
// MaxAttempts sends, whichever comes first. The database is the
// rendezvous: the device's acknowledgement arrives as a STAT on a
// separate connection that flips the row's ack flag (see handleStat),
// so this loop never waits on an application-level ACK.
func (h *Handler) deliver(ctx context.Context, conn net.Conn, conf protocol.Conf, appKey, deliveredBodyB64 string, body []byte, traceID string) {
	for attempt := 1; attempt <= h.MaxAttempts; attempt++ {
		h.reply(conn, conf, protocol.PendSend, body, traceID)

		if attempt == h.MaxAttempts {
			break
		}
		time.Sleep(h.RetryDelay)

		pending, err := h.Store.PendingForDevice(ctx, appKey, conf.DevID)
		if err != nil {
			h.Errors.Incr()
			slog.Warn("retry requery failed", "trace_id", traceID, "error", err)
			return
		}
		if len(pending) == 0 || pending[0].Body != deliveredBodyB64 {
			return
		}
	}
}

func (h *Handler) handleStat(ctx context.Context, payload []byte, conf protocol.Conf, traceID string) {
	if len(payload) == 0 {
		h.Errors.Incr()
		return
	}
	if protocol.StatCode(payload[0]) != protocol.StatAck {
		return
	}
	// Re-query and ack the oldest unacked row's body: delivery is
	// oldest-first, so that body is the one the device is confirming.
	appKey := appKeyString(conf.AppKey)
	pending, err := h.Store.PendingForDevice(ctx, appKey, conf.DevID)
	if err != nil || len(pending) == 0 {
		return
	}
	if err := h.Store.AckPending(ctx, appKey, conf.DevID, pending[0].Body); err != nil {
		h.Errors.Incr()
		slog.Warn("ack pending failed", "trace_id", traceID, "error", err)
	}
}

func appKeyString(appKey [protocol.AppKeySize]byte) string {
	n := len(appKey)
	for n > 0 && appKey[n-1] == 0 {
		n--
	}
	return string(appKey[:n])
}
