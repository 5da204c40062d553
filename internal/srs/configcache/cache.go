// Package configcache provides a short-TTL read-through cache over stored
// algorithm default configuration, so the orchestrator does not hit the
// config store on every review.
package configcache

import (
	"context"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"mnemo/internal/observability"
	"mnemo/internal/srs/ports"
)

const (
	defaultTTL     = 5 * time.Minute
	defaultMaxSize = 64
)

// entry holds a cached document along with the timestamp it was stored.
// A nil doc records a confirmed absence (negative cache), so repeated
// lookups for unknown ids do not hammer the store.
type entry struct {
	doc      map[string]any
	storedAt time.Time
}

// Cache is a TTL'd read-through cache keyed by algorithm id. Reads are
// lock-free through the LRU; concurrent misses for the same id collapse
// into one store lookup.
type Cache struct {
	store   ports.AlgorithmConfigStore
	lru     *lru.Cache[string, entry]
	group   singleflight.Group
	ttl     time.Duration
	now     func() time.Time
	metrics *observability.MetricsCollector
}

// Option customizes a Cache.
type Option func(*Cache)

// WithTTL overrides the 5-minute default TTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithMetrics records hit/miss outcomes on the collector.
func WithMetrics(metrics *observability.MetricsCollector) Option {
	return func(c *Cache) {
		c.metrics = metrics
	}
}

// New creates a cache over the given config store.
func New(store ports.AlgorithmConfigStore, opts ...Option) *Cache {
	cache, err := lru.New[string, entry](defaultMaxSize)
	if err != nil {
		// lru.New only errors on a non-positive size.
		panic(err)
	}
	c := &Cache{
		store: store,
		lru:   cache,
		ttl:   defaultTTL,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the stored default configuration for the algorithm id, or nil
// when none exists. The absence is cached for the same TTL as a hit.
func (c *Cache) Get(ctx context.Context, algorithmID string) (map[string]any, error) {
	if e, ok := c.lru.Get(algorithmID); ok {
		if c.now().Sub(e.storedAt) < c.ttl {
			c.metrics.RecordConfigCache(ctx, true)
			return e.doc, nil
		}
		c.lru.Remove(algorithmID)
	}
	c.metrics.RecordConfigCache(ctx, false)

	v, err, _ := c.group.Do(algorithmID, func() (any, error) {
		doc, err := c.store.GetByID(ctx, algorithmID)
		if err != nil {
			if errors.Is(err, ports.ErrConfigNotFound) {
				c.lru.Add(algorithmID, entry{doc: nil, storedAt: c.now()})
				return map[string]any(nil), nil
			}
			return nil, err
		}
		c.lru.Add(algorithmID, entry{doc: doc, storedAt: c.now()})
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

// Invalidate drops the cached entry for an algorithm id.
func (c *Cache) Invalidate(algorithmID string) {
	c.lru.Remove(algorithmID)
}
