package botconfig

import (
	"context"
	"sync"
)

// Accessor is the bot-scoped view of configuration a session holds. The
// backing store is shared and outlives the session.
type Accessor interface {
	// Snapshot returns a copy of the current configuration.
	Snapshot() Config
	// Update applies fn to the in-memory configuration.
	Update(fn func(*Config))
	// SaveWhenExists persists the configuration if its backing store
	// exists; it is a no-op otherwise.
	SaveWhenExists(ctx context.Context) error
}

// Memory is an Accessor without a backing store.
type Memory struct {
	mu    sync.RWMutex
	cfg   Config
	saves int
}

func NewMemory(cfg Config) *Memory {
	return &Memory{cfg: cfg}
}

func (m *Memory) Snapshot() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clone(m.cfg)
}

func (m *Memory) Update(fn func(*Config)) {
	m.mu.Lock()
	fn(&m.cfg)
	m.mu.Unlock()
}

func (m *Memory) SaveWhenExists(ctx context.Context) error {
	m.mu.Lock()
	m.saves++
	m.mu.Unlock()
	return nil
}

// Saves counts SaveWhenExists calls.
func (m *Memory) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

func clone(c Config) Config {
	r := c.Reconnect
	c.Reconnect = ReconnectConfig{
		OnTimeout:  append([]string(nil), r.OnTimeout...),
		OnKick:     append([]string(nil), r.OnKick...),
		OnBan:      append([]string(nil), r.OnBan...),
		OnShutdown: append([]string(nil), r.OnShutdown...),
		OnError:    append([]string(nil), r.OnError...),
	}
	return c
}

var (
	_ Accessor = (*Memory)(nil)
	_ Accessor = (*FileAccessor)(nil)
	_ Accessor = (*StoreAccessor)(nil)
)
