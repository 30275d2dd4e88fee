package cache

import (
	"context"
	"sync"
)

// FetchFunc performs the round trip that produces a fresh snapshot.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Snapshot caches one whole value behind a single outdated flag instead of
// per-entry expiry. It starts out outdated.
//
// Readers must tolerate a stale or empty value between Invalidate and the
// next completed Refresh.
type Snapshot[T any] struct {
	fetch FetchFunc[T]

	mu       sync.Mutex
	value    T
	outdated bool
	gen      uint64
}

func NewSnapshot[T any](fetch FetchFunc[T]) *Snapshot[T] {
	return &Snapshot[T]{fetch: fetch, outdated: true}
}

// Invalidate marks the snapshot outdated. The current value stays readable.
func (s *Snapshot[T]) Invalidate() {
	s.mu.Lock()
	s.outdated = true
	s.gen++
	s.mu.Unlock()
}

func (s *Snapshot[T]) Outdated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outdated
}

// Value returns the current, possibly stale, value.
func (s *Snapshot[T]) Value() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Refresh fetches a new value if the snapshot is outdated or force is set,
// then replaces the whole value. The flag is cleared only when no
// invalidation arrived while the fetch was in flight.
func (s *Snapshot[T]) Refresh(ctx context.Context, force bool) (T, error) {
	s.mu.Lock()
	if !s.outdated && !force {
		v := s.value
		s.mu.Unlock()
		return v, nil
	}
	gen := s.gen
	s.mu.Unlock()

	v, err := s.fetch(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = v
	if s.gen == gen {
		s.outdated = false
	}
	return v, nil
}

// Update applies fn to the current value without touching the flag. It lets
// a slow-path lookup append what it learned.
func (s *Snapshot[T]) Update(fn func(T) T) {
	s.mu.Lock()
	s.value = fn(s.value)
	s.mu.Unlock()
}
