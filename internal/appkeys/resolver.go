// Package appkeys resolves an application's secure-key material for the
// protocol codec's checkup callback, with an optional LRU layer in
// front of the database lookup.
package appkeys

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/ocx/iot-gateway/internal/protocol"
)

// AppStore is the subset of internal/store's Store the resolver needs,
// kept narrow so it can be faked in tests without a database.
type AppStore interface {
	ResolveApp(ctx context.Context, appKey string) (secureKeyB64 string, secure bool, err error)
}

// Resolver turns an application key into secure-key material by
// querying an AppStore and base64-decoding the stored key. It
// implements protocol.CheckupFunc via Checkup.
type Resolver struct {
	store AppStore
}

// New returns a Resolver backed directly by store, with no caching.
func New(store AppStore) *Resolver {
	return &Resolver{store: store}
}

// Checkup satisfies protocol.CheckupFunc.
func (r *Resolver) Checkup(ctx context.Context, appKey [protocol.AppKeySize]byte) ([16]byte, bool, error) {
	return resolveOnce(ctx, r.store, appKey)
}

func resolveOnce(ctx context.Context, store AppStore, appKey [protocol.AppKeySize]byte) ([16]byte, bool, error) {
	var zero [16]byte

	keyStr := trimTrailingZeros(appKey)
	b64, secure, err := store.ResolveApp(ctx, keyStr)
	if err != nil {
		return zero, false, fmt.Errorf("appkeys: resolve %q: %w", keyStr, err)
	}

	decoded, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return zero, false, fmt.Errorf("appkeys: decode secure key for %q: %w", keyStr, err)
	}
	if len(decoded) != 16 {
		return zero, false, fmt.Errorf("appkeys: secure key for %q has length %d, want 16", keyStr, len(decoded))
	}

	var secureKey [16]byte
	copy(secureKey[:], decoded)
	return secureKey, secure, nil
}

func trimTrailingZeros(appKey [protocol.AppKeySize]byte) string {
	n := len(appKey)
	for n > 0 && appKey[n-1] == 0 {
		n--
	}
	return string(appKey[:n])
}
