package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/jonboulle/clockwork"
)

const (
	// DefaultTTL is how long a detail lookup stays fresh.
	DefaultTTL = 3 * time.Second
	// DefaultTTLMaxEntries bounds a TTL cache that nobody reads back.
	DefaultTTLMaxEntries = 4096
)

type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

type ttlConfig struct {
	clock      clockwork.Clock
	maxEntries int
}

// TTLOption configures a TTL cache.
type TTLOption func(*ttlConfig)

// WithClock sets the clock used to stamp and check expiry.
func WithClock(c clockwork.Clock) TTLOption {
	return func(cfg *ttlConfig) { cfg.clock = c }
}

// WithMaxEntries bounds the number of live entries; the oldest entry is
// dropped when the bound is exceeded.
func WithMaxEntries(n int) TTLOption {
	return func(cfg *ttlConfig) { cfg.maxEntries = n }
}

// TTL is a time-expiring cache. A lookup at or after an entry's expiry
// behaves as absent. Expired entries are dropped lazily on lookup.
type TTL[K comparable, V any] struct {
	mu    sync.Mutex
	ttl   time.Duration
	clock clockwork.Clock
	items *simplelru.LRU[K, ttlEntry[V]]
}

// NewTTL creates a cache whose entries live for ttl after each Set. A
// non-positive ttl selects DefaultTTL.
func NewTTL[K comparable, V any](ttl time.Duration, opts ...TTLOption) *TTL[K, V] {
	cfg := ttlConfig{
		clock:      clockwork.NewRealClock(),
		maxEntries: DefaultTTLMaxEntries,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if cfg.maxEntries <= 0 {
		cfg.maxEntries = DefaultTTLMaxEntries
	}
	// NewLRU only fails for a non-positive size, which is ruled out above.
	items, _ := simplelru.NewLRU[K, ttlEntry[V]](cfg.maxEntries, nil)
	return &TTL[K, V]{
		ttl:   ttl,
		clock: cfg.clock,
		items: items,
	}
}

// Get returns the value for key if it has not expired.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.items.Peek(key)
	if !ok {
		return zero, false
	}
	if !c.clock.Now().Before(e.expiresAt) {
		c.items.Remove(key)
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, replacing any previous value and expiry.
func (c *TTL[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Add(key, ttlEntry[V]{value: value, expiresAt: c.clock.Now().Add(c.ttl)})
}

func (c *TTL[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Remove(key)
}

// Len counts stored entries, including ones that expired but were not read.
func (c *TTL[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Len()
}

// Clear empties the cache unconditionally.
func (c *TTL[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Purge()
}
