package cache

import (
	"context"
	"sync"
	"time"

	"filings-pipeline/internal/common/errors"
	"filings-pipeline/internal/common/logging"
	"filings-pipeline/internal/redis"
)

// Config controls one logical cache region.
type Config struct {
	// Region names the key namespace, e.g. "filing" or "market". Shared
	// tier keys are prefixed "<region>:".
	Region string
	// Capacity bounds the in-process tier (entries).
	Capacity int
	// DefaultTTL applies when Set is called with a zero TTL.
	DefaultTTL time.Duration
}

// Tiered is a two-level cache: a bounded in-process LRU in front of a
// shared Redis tier. The shared tier is optional; when it is nil or
// becomes unreachable the cache degrades to in-process-only operation
// rather than surfacing errors to callers.
type Tiered struct {
	config Config
	local  *lruCache
	shared *redis.Client
	logger logging.Logger

	degradedOnce sync.Once
}

// NewTiered creates a cache region. shared may be nil for in-process-only
// operation.
func NewTiered(config Config, shared *redis.Client, logger logging.Logger) *Tiered {
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = time.Hour
	}
	return &Tiered{
		config: config,
		local:  newLRUCache(config.Capacity),
		shared: shared,
		logger: logger,
	}
}

// Get returns the cached value for key. The in-process tier is consulted
// first; a shared-tier hit warms the in-process tier so repeated reads of
// a warm key do not touch the network.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool) {
	if value, ok := t.local.get(key); ok {
		return value, true
	}

	if t.shared == nil {
		return nil, false
	}

	value, found, err := t.shared.Get(ctx, t.sharedKey(key))
	if err != nil {
		t.markDegraded(err)
		return nil, false
	}
	if !found {
		return nil, false
	}

	t.local.set(key, value, t.config.DefaultTTL)
	return value, true
}

// Set writes value to the shared tier and invalidates the single affected
// in-process entry, so a subsequent Get observes the new value from the
// shared tier. Unrelated in-process entries are untouched. With no shared
// tier the value is stored in-process directly. Set never returns an
// error; shared-tier failures degrade the region to in-process-only.
func (t *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = t.config.DefaultTTL
	}

	if t.shared == nil {
		t.local.set(key, value, ttl)
		return
	}

	if err := t.shared.SetEx(ctx, t.sharedKey(key), value, ttl); err != nil {
		t.markDegraded(err)
		t.local.set(key, value, ttl)
		return
	}

	t.local.delete(key)
}

// Invalidate removes key from both tiers.
func (t *Tiered) Invalidate(ctx context.Context, key string) {
	t.local.delete(key)

	if t.shared == nil {
		return
	}
	if err := t.shared.Delete(ctx, t.sharedKey(key)); err != nil {
		t.markDegraded(err)
	}
}

// Clear empties the region in both tiers. Only keys in this region's
// namespace are removed from the shared tier.
func (t *Tiered) Clear(ctx context.Context) {
	t.local.clear()

	if t.shared == nil {
		return
	}
	if err := t.shared.DeleteByPrefix(ctx, t.config.Region+":"); err != nil {
		t.markDegraded(err)
	}
}

// Size reports the entry count of the in-process tier.
func (t *Tiered) Size() int {
	return t.local.size()
}

func (t *Tiered) sharedKey(key string) string {
	return t.config.Region + ":" + key
}

// markDegraded logs the first shared-tier failure for this region. The
// cache keeps serving from the in-process tier; later failures are
// silent since the operator already knows.
func (t *Tiered) markDegraded(err error) {
	t.degradedOnce.Do(func() {
		if t.logger != nil {
			t.logger.Warn("shared cache tier unavailable, serving in-process only",
				logging.String("region", t.config.Region),
				logging.Err(errors.CacheUnavailableError("shared tier call failed", err)),
			)
		}
	})
}
