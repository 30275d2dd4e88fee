// Package memory is an in-process storage.Storage backed by
// github.com/hashicorp/golang-lru/v2. It suits a single process hosting all
// of its bots; nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ggoodman/voicebot/storage"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
)

const sweepInterval = 5 * time.Minute

type Option func(*Storage)

// WithClock replaces the clock used for expiry and the background sweep.
func WithClock(c clockwork.Clock) Option {
	return func(s *Storage) { s.clock = c }
}

// Storage implements storage.Storage in memory.
type Storage struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *storage.Item]
	clock clockwork.Clock

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a store holding at most maxItems entries; the least recently
// used entry is dropped beyond that.
func New(maxItems int, opts ...Option) (*Storage, error) {
	cache, err := lru.New[string, *storage.Item](maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	s := &Storage{
		cache: cache,
		clock: clockwork.NewRealClock(),
		stop:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.sweepExpired()

	return s, nil
}

func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.Item, error) {
	if key == "" {
		return nil, storage.ErrEmptyKey
	}
	options := storage.Apply(opts...)
	storageKey := buildKey(options.Namespace, key)

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.cache.Get(storageKey)
	if !ok {
		return nil, nil
	}
	if item.IsExpired(s.clock.Now()) {
		s.cache.Remove(storageKey)
		return nil, nil
	}

	out := *item
	out.Data = append([]byte(nil), item.Data...)
	return &out, nil
}

func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	if key == "" {
		return storage.ErrEmptyKey
	}
	options := storage.Apply(opts...)
	if options.Key != nil {
		return fmt.Errorf("%w: WithKey is only valid for Delete", storage.ErrInvalidOptions)
	}

	now := s.clock.Now()
	item := &storage.Item{
		Data:      append([]byte(nil), data...),
		CreatedAt: now,
	}
	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		item.ExpiresAt = &expiresAt
	}

	s.mu.Lock()
	s.cache.Add(buildKey(options.Namespace, key), item)
	s.mu.Unlock()

	return nil
}

func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	options := storage.Apply(opts...)

	s.mu.Lock()
	defer s.mu.Unlock()

	if options.Key != nil {
		s.cache.Remove(buildKey(options.Namespace, *options.Key))
		return nil
	}

	prefix := namespacePrefix(options.Namespace)
	// LRU has no prefix iteration; namespaces are small.
	for _, k := range s.cache.Keys() {
		if strings.HasPrefix(k, prefix) {
			s.cache.Remove(k)
		}
	}
	return nil
}

// Close stops the sweep and drops every entry.
func (s *Storage) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	s.cache.Purge()
	s.mu.Unlock()
	return nil
}

func buildKey(ns storage.Namespace, key string) string {
	return namespacePrefix(ns) + "key:" + key
}

func namespacePrefix(ns storage.Namespace) string {
	switch ns := ns.(type) {
	case storage.BotNamespace:
		return "bot:" + ns.BotID + ":"
	case storage.PoolNamespace:
		return "pool:" + ns.PoolID + ":"
	default:
		return "global:"
	}
}

func (s *Storage) sweepExpired() {
	ticker := s.clock.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.Chan():
		}

		s.mu.Lock()
		now := s.clock.Now()
		for _, k := range s.cache.Keys() {
			if item, ok := s.cache.Peek(k); ok && item.IsExpired(now) {
				s.cache.Remove(k)
			}
		}
		s.mu.Unlock()
	}
}

var _ storage.Storage = (*Storage)(nil)
