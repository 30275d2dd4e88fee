package memory

import (
	"testing"
	"time"

	"github.com/ggoodman/voicebot/storage"
	"github.com/ggoodman/voicebot/storage/storagetest"
	"github.com/jonboulle/clockwork"
)

func TestMemoryStorage(t *testing.T) {
	clock := clockwork.NewFakeClock()
	storagetest.RunStorageTests(t, func(t *testing.T) storage.Storage {
		s, err := New(100, WithClock(clock))
		if err != nil {
			t.Fatalf("New() failed: %v", err)
		}
		return s
	}, func(d time.Duration) { clock.Advance(d) })
}

func TestInvalidCapacity(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Fatal("expected error for zero capacity")
	}
}

func TestCapacityEvictsLeastRecentlyUsed(t *testing.T) {
	s, err := New(2)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Close()

	ctx := t.Context()
	for _, k := range []string{"a", "b", "c"} {
		if err := s.Set(ctx, k, []byte(k), storage.WithBot("b1")); err != nil {
			t.Fatalf("Set() failed: %v", err)
		}
	}
	item, err := s.Get(ctx, "a", storage.WithBot("b1"))
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if item != nil {
		t.Fatal("oldest entry should have been evicted")
	}
}

func TestSetRejectsWithKey(t *testing.T) {
	s, err := New(10)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Close()

	if err := s.Set(t.Context(), "k", nil, storage.WithKey("k")); err == nil {
		t.Fatal("expected invalid options error")
	}
}
