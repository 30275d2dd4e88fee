// Package storage persists small namespaced blobs for bots: their
// configuration documents and anything else that must survive a process
// restart. Backends live in the memory and redis subpackages.
package storage

import (
	"context"
	"errors"
	"time"
)

// Storage is a namespaced key/value store.
type Storage interface {
	// Get returns nil, nil when the key does not exist or has expired. An
	// error means the backend itself failed.
	Get(ctx context.Context, key string, opts ...Option) (*Item, error)

	// Set stores data under key in the selected namespace.
	Set(ctx context.Context, key string, data []byte, opts ...Option) error

	// Delete removes one key when WithKey is given, otherwise the whole
	// namespace.
	Delete(ctx context.Context, opts ...Option) error

	// Close releases the backend.
	Close() error
}

// Item is a stored blob with its metadata.
type Item struct {
	Data      []byte
	CreatedAt time.Time
	ExpiresAt *time.Time // nil = no expiration
}

// IsExpired reports whether the item is past its expiry at now.
func (it *Item) IsExpired(now time.Time) bool {
	return it.ExpiresAt != nil && !now.Before(*it.ExpiresAt)
}

// Option configures a storage operation.
type Option func(*Options)

type Options struct {
	Namespace Namespace      // nil = global
	Key       *string        // Delete only
	TTL       *time.Duration // Set only
}

// Apply folds opts into a fresh Options value.
func Apply(opts ...Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Namespace selects where a key lives. Only this package's types implement
// it.
type Namespace interface {
	namespace()
}

// BotNamespace holds everything belonging to one bot instance.
type BotNamespace struct {
	BotID string
}

func (BotNamespace) namespace() {}

// PoolNamespace holds data shared by every bot of one pool.
type PoolNamespace struct {
	PoolID string
}

func (PoolNamespace) namespace() {}

// WithBot selects the namespace of a single bot.
func WithBot(botID string) Option {
	return func(opts *Options) {
		opts.Namespace = BotNamespace{BotID: botID}
	}
}

// WithPool selects the namespace shared by a pool of bots.
func WithPool(poolID string) Option {
	return func(opts *Options) {
		opts.Namespace = PoolNamespace{PoolID: poolID}
	}
}

// WithKey restricts Delete to a single key.
func WithKey(key string) Option {
	return func(opts *Options) {
		opts.Key = &key
	}
}

// WithTTL makes a stored value expire after ttl.
func WithTTL(ttl time.Duration) Option {
	return func(opts *Options) {
		opts.TTL = &ttl
	}
}

var (
	ErrInvalidOptions = errors.New("storage: invalid option combination")
	ErrEmptyKey       = errors.New("storage: empty key")
)
