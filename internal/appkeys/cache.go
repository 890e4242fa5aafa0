package appkeys

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ocx/iot-gateway/internal/protocol"
)

// cachedEntry is what CachedResolver keeps per application key. An
// entry must be invalidated the moment a frame tagged under it fails
// its integrity check, since a stale or wrong key is the only thing a
// tag mismatch can mean once the frame itself round-trips correctly.
type cachedEntry struct {
	secureKey [16]byte
	secure    bool
}

// CachedResolver fronts an AppStore lookup with a bounded LRU so that
// busy applications don't hit the database on every single frame. It
// is safe for concurrent use by any number of workers.
type CachedResolver struct {
	store AppStore
	mu    sync.Mutex
	cache *lru.Cache[string, cachedEntry]
}

// NewCached returns a CachedResolver holding up to size entries. size
// must be positive.
func NewCached(store AppStore, size int) (*CachedResolver, error) {
	c, err := lru.New[string, cachedEntry](size)
	if err != nil {
		return nil, err
	}
	return &CachedResolver{store: store, cache: c}, nil
}

// Checkup satisfies protocol.CheckupFunc, serving from cache when
// possible and populating the cache on a miss.
func (r *CachedResolver) Checkup(ctx context.Context, appKey [protocol.AppKeySize]byte) ([16]byte, bool, error) {
	keyStr := trimTrailingZeros(appKey)

	r.mu.Lock()
	if entry, ok := r.cache.Get(keyStr); ok {
		r.mu.Unlock()
		return entry.secureKey, entry.secure, nil
	}
	r.mu.Unlock()

	secureKey, secure, err := resolveOnce(ctx, r.store, appKey)
	if err != nil {
		return secureKey, secure, err
	}

	r.mu.Lock()
	r.cache.Add(keyStr, cachedEntry{secureKey: secureKey, secure: secure})
	r.mu.Unlock()

	return secureKey, secure, nil
}

// Invalidate evicts any cached entry for appKey. The request handler
// calls this whenever protocol.Decode returns ErrDecodeTagMismatch, so
// that a rotated or corrected key is re-fetched from the database on
// the next frame instead of being trusted indefinitely.
func (r *CachedResolver) Invalidate(appKey [protocol.AppKeySize]byte) {
	keyStr := trimTrailingZeros(appKey)
	r.mu.Lock()
	r.cache.Remove(keyStr)
	r.mu.Unlock()
}
