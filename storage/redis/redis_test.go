package redis

import (
	"context"
	"testing"
	"time"

	"github.com/ggoodman/voicebot/storage"
	"github.com/ggoodman/voicebot/storage/storagetest"
	"github.com/google/uuid"
)

func TestRedisStorage(t *testing.T) {
	// Skip when no Redis is reachable.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := NewFromEnv(ctx)
	if err != nil {
		t.Skipf("skipping redis storage tests: %v", err)
		return
	}
	_ = conn.Close()

	storagetest.RunStorageTests(t, func(t *testing.T) storage.Storage {
		cfg, err := ConfigFromEnv()
		if err != nil {
			t.Fatalf("ConfigFromEnv: %v", err)
		}
		// A fresh prefix per case keeps runs isolated without flushing.
		cfg.KeyPrefix = "voicebot:test:" + uuid.NewString() + ":"
		s, err := New(context.Background(), cfg)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		t.Cleanup(func() {
			for _, ns := range []storage.Option{storage.WithBot("b1"), storage.WithBot("a"), storage.WithBot("b"), storage.WithPool("a"), storage.WithBot("kept")} {
				_ = s.Delete(context.Background(), ns)
			}
			_ = s.Delete(context.Background())
		})
		return s
	}, nil)
}

func TestConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Setenv("REDIS_DB", "3")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if cfg.Addr != "redis.internal:6380" || cfg.DB != 3 {
		t.Fatalf("env not applied: %+v", cfg)
	}
}
