package protocol

import "context"

// AppKeySize is the fixed ASCII width of an application key.
const AppKeySize = 8

// MaxFrameSize is the largest a wire frame may be, header through tag
// inclusive.
const MaxFrameSize = 256

// headerSize covers app_key, dev_id, packet_type and the one-byte
// payload length field.
const headerSize = AppKeySize + 1 + 1 + 1

// tagSize is the width of the trailing integrity tag.
const tagSize = 2

// maxPayloadSize is the largest payload that still fits within
// MaxFrameSize once header and tag are accounted for.
const maxPayloadSize = MaxFrameSize - headerSize - tagSize

// Conf is the per-request protocol configuration: which application this
// frame belongs to, its device id, and the secure-key material resolved
// for that application. It is never shared across requests — each
// decode call populates a fresh Conf from the frame header plus a
// checkup lookup.
type Conf struct {
	AppKey    [AppKeySize]byte
	DevID     byte
	SecureKey [16]byte
	Secure    bool
}

// CheckupFunc resolves the secure key and secure flag for an application
// key, querying persistent storage. It is registered once at startup and
// must be idempotent and safe to call concurrently from any worker.
type CheckupFunc func(ctx context.Context, appKey [AppKeySize]byte) (secureKey [16]byte, secure bool, err error)
