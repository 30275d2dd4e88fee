// Package storagetest is a conformance suite every storage.Storage backend
// runs from its own tests.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ggoodman/voicebot/storage"
)

// Factory returns a fresh, empty backend. The suite closes it.
type Factory func(t *testing.T) storage.Storage

// Expirer moves a backend's notion of time forward. Backends on wall time
// pass nil and the TTL case sleeps instead.
type Expirer func(d time.Duration)

func RunStorageTests(t *testing.T, factory Factory, expire Expirer) {
	t.Run("SetAndGet", func(t *testing.T) { testSetAndGet(t, factory) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, factory) })
	t.Run("EmptyKey", func(t *testing.T) { testEmptyKey(t, factory) })
	t.Run("Overwrite", func(t *testing.T) { testOverwrite(t, factory) })
	t.Run("NamespaceIsolation", func(t *testing.T) { testNamespaceIsolation(t, factory) })
	t.Run("TTL", func(t *testing.T) { testTTL(t, factory, expire) })
	t.Run("DeleteKey", func(t *testing.T) { testDeleteKey(t, factory) })
	t.Run("DeleteNamespace", func(t *testing.T) { testDeleteNamespace(t, factory) })
}

func open(t *testing.T, factory Factory) storage.Storage {
	t.Helper()
	s := factory(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustGet(t *testing.T, s storage.Storage, key string, opts ...storage.Option) *storage.Item {
	t.Helper()
	item, err := s.Get(context.Background(), key, opts...)
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", key, err)
	}
	return item
}

func testSetAndGet(t *testing.T, factory Factory) {
	s := open(t, factory)
	ctx := context.Background()

	if err := s.Set(ctx, "config", []byte(`{"name":"bot"}`), storage.WithBot("b1")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	item := mustGet(t, s, "config", storage.WithBot("b1"))
	if item == nil {
		t.Fatal("Get() returned nil item")
	}
	if string(item.Data) != `{"name":"bot"}` {
		t.Fatalf("Get() returned wrong data: %s", item.Data)
	}
	if item.CreatedAt.IsZero() {
		t.Fatal("CreatedAt not stamped")
	}
	if item.ExpiresAt != nil {
		t.Fatal("item without TTL must not expire")
	}
}

func testGetMissing(t *testing.T, factory Factory) {
	s := open(t, factory)
	if item := mustGet(t, s, "nope", storage.WithBot("b1")); item != nil {
		t.Fatalf("expected nil item, got %+v", item)
	}
}

func testEmptyKey(t *testing.T, factory Factory) {
	s := open(t, factory)
	err := s.Set(context.Background(), "", []byte("x"))
	if !errors.Is(err, storage.ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
}

func testOverwrite(t *testing.T, factory Factory) {
	s := open(t, factory)
	ctx := context.Background()
	for _, v := range []string{"one", "two"} {
		if err := s.Set(ctx, "k", []byte(v), storage.WithBot("b1")); err != nil {
			t.Fatalf("Set() failed: %v", err)
		}
	}
	if item := mustGet(t, s, "k", storage.WithBot("b1")); item == nil || string(item.Data) != "two" {
		t.Fatalf("expected overwritten value, got %+v", item)
	}
}

func testNamespaceIsolation(t *testing.T, factory Factory) {
	s := open(t, factory)
	ctx := context.Background()

	writes := []struct {
		data string
		opts []storage.Option
	}{
		{"global", nil},
		{"bot-a", []storage.Option{storage.WithBot("a")}},
		{"bot-b", []storage.Option{storage.WithBot("b")}},
		{"pool", []storage.Option{storage.WithPool("a")}},
	}
	for _, w := range writes {
		if err := s.Set(ctx, "k", []byte(w.data), w.opts...); err != nil {
			t.Fatalf("Set(%s) failed: %v", w.data, err)
		}
	}
	for _, w := range writes {
		item := mustGet(t, s, "k", w.opts...)
		if item == nil || string(item.Data) != w.data {
			t.Fatalf("namespace %s not isolated: %+v", w.data, item)
		}
	}
}

func testTTL(t *testing.T, factory Factory, expire Expirer) {
	s := open(t, factory)
	ctx := context.Background()
	ttl := 200 * time.Millisecond

	if err := s.Set(ctx, "short", []byte("x"), storage.WithBot("b1"), storage.WithTTL(ttl)); err != nil {
		t.Fatalf("Set() with TTL failed: %v", err)
	}
	item := mustGet(t, s, "short", storage.WithBot("b1"))
	if item == nil {
		t.Fatal("item missing before expiry")
	}
	if item.ExpiresAt == nil {
		t.Fatal("ExpiresAt not set")
	}

	if expire != nil {
		expire(ttl)
	} else {
		time.Sleep(ttl + 100*time.Millisecond)
	}

	if item := mustGet(t, s, "short", storage.WithBot("b1")); item != nil {
		t.Fatal("item still present after expiry")
	}
}

func testDeleteKey(t *testing.T, factory Factory) {
	s := open(t, factory)
	ctx := context.Background()

	for _, k := range []string{"a", "b"} {
		if err := s.Set(ctx, k, []byte(k), storage.WithBot("b1")); err != nil {
			t.Fatalf("Set() failed: %v", err)
		}
	}
	if err := s.Delete(ctx, storage.WithBot("b1"), storage.WithKey("a")); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if item := mustGet(t, s, "a", storage.WithBot("b1")); item != nil {
		t.Fatal("deleted key still present")
	}
	if item := mustGet(t, s, "b", storage.WithBot("b1")); item == nil {
		t.Fatal("sibling key removed by single-key delete")
	}
}

func testDeleteNamespace(t *testing.T, factory Factory) {
	s := open(t, factory)
	ctx := context.Background()

	for _, k := range []string{"k1", "k2", "k3"} {
		if err := s.Set(ctx, k, []byte(k), storage.WithBot("gone")); err != nil {
			t.Fatalf("Set() failed: %v", err)
		}
	}
	if err := s.Set(ctx, "k1", []byte("stay"), storage.WithBot("kept")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	if err := s.Delete(ctx, storage.WithBot("gone")); err != nil {
		t.Fatalf("Delete() namespace failed: %v", err)
	}
	for _, k := range []string{"k1", "k2", "k3"} {
		if item := mustGet(t, s, k, storage.WithBot("gone")); item != nil {
			t.Fatalf("key %s survived namespace delete", k)
		}
	}
	if item := mustGet(t, s, "k1", storage.WithBot("kept")); item == nil {
		t.Fatal("namespace delete leaked into another bot")
	}
}
