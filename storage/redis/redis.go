// Package redis is a storage.Storage backed by Redis, for pools of bots that
// span several processes or must keep their configuration across restarts.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/voicebot/storage"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "voicebot:storage:"

// Config for the Redis backend.
type Config struct {
	// Client is used as is when set; Addr and DB are then ignored.
	Client *redis.Client

	// Addr like "localhost:6379". ENV: REDIS_ADDR
	Addr string `env:"REDIS_ADDR,default=localhost:6379"`
	// DB selects the logical database. ENV: REDIS_DB
	DB int `env:"REDIS_DB,default=0"`
	// KeyPrefix for all keys. ENV: VOICEBOT_STORAGE_PREFIX
	KeyPrefix string `env:"VOICEBOT_STORAGE_PREFIX,default=voicebot:storage:"`
}

// ConfigFromEnv decodes Config from the environment, falling back to the
// tag defaults.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode redis config: %w", err)
	}
	return cfg, nil
}

type Storage struct {
	client    *redis.Client
	keyPrefix string
}

type storedItem struct {
	Data      []byte     `json:"data"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg Config) (*Storage, error) {
	client := cfg.Client
	if client == nil {
		addr := cfg.Addr
		if addr == "" {
			addr = "localhost:6379"
		}
		client = redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Storage{client: client, keyPrefix: prefix}, nil
}

// NewFromEnv builds a Storage from ConfigFromEnv.
func NewFromEnv(ctx context.Context) (*Storage, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return New(ctx, cfg)
}

func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.Item, error) {
	if key == "" {
		return nil, storage.ErrEmptyKey
	}
	options := storage.Apply(opts...)
	redisKey := s.buildKey(options.Namespace, key)

	raw, err := s.client.Get(ctx, redisKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get key %s: %w", redisKey, err)
	}

	var stored storedItem
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored data: %w", err)
	}

	item := &storage.Item{
		Data:      stored.Data,
		CreatedAt: stored.CreatedAt,
		ExpiresAt: stored.ExpiresAt,
	}
	// Redis expires the key itself; this covers clock skew between writers.
	if item.IsExpired(time.Now()) {
		s.client.Del(ctx, redisKey)
		return nil, nil
	}
	return item, nil
}

func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	if key == "" {
		return storage.ErrEmptyKey
	}
	options := storage.Apply(opts...)
	if options.Key != nil {
		return fmt.Errorf("%w: WithKey is only valid for Delete", storage.ErrInvalidOptions)
	}
	redisKey := s.buildKey(options.Namespace, key)

	now := time.Now()
	stored := storedItem{Data: data, CreatedAt: now}

	var ttl time.Duration
	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		stored.ExpiresAt = &expiresAt
		ttl = *options.TTL
	}

	payload, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal storage item: %w", err)
	}
	if err := s.client.Set(ctx, redisKey, payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", redisKey, err)
	}
	return nil
}

func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	options := storage.Apply(opts...)

	if options.Key != nil {
		redisKey := s.buildKey(options.Namespace, *options.Key)
		if err := s.client.Del(ctx, redisKey).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", redisKey, err)
		}
		return nil
	}

	pattern := s.buildKey(options.Namespace, "*")
	keys, err := s.scanKeys(ctx, pattern)
	if err != nil {
		return fmt.Errorf("failed to scan keys for pattern %s: %w", pattern, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

func (s *Storage) Close() error {
	return s.client.Close()
}

func (s *Storage) buildKey(ns storage.Namespace, key string) string {
	switch ns := ns.(type) {
	case storage.BotNamespace:
		return s.keyPrefix + "bot:" + ns.BotID + ":" + key
	case storage.PoolNamespace:
		return s.keyPrefix + "pool:" + ns.PoolID + ":" + key
	default:
		return s.keyPrefix + "global:" + key
	}
}

func (s *Storage) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

var _ storage.Storage = (*Storage)(nil)
