package botconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ggoodman/voicebot/storage"
)

// StoreKey is the key a bot's configuration is stored under in its
// namespace.
const StoreKey = "config"

// StoreAccessor keeps a bot's configuration as JSON in a storage backend
// under the bot's namespace. The backend is shared by every bot of the
// process.
type StoreAccessor struct {
	store storage.Storage
	botID string

	mu  sync.RWMutex
	cfg Config
}

// OpenStore loads the bot's configuration, falling back to defaults when
// nothing was stored yet. Environment overrides are applied on top.
func OpenStore(ctx context.Context, store storage.Storage, botID string) (*StoreAccessor, error) {
	item, err := store.Get(ctx, StoreKey, storage.WithBot(botID))
	if err != nil {
		return nil, fmt.Errorf("load config of bot %s: %w", botID, err)
	}

	cfg := Default()
	if item != nil {
		if err := json.Unmarshal(item.Data, &cfg); err != nil {
			return nil, fmt.Errorf("%w: bot %s: %w", ErrInvalidConfig, botID, err)
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}
	return &StoreAccessor{store: store, botID: botID, cfg: cfg}, nil
}

func (a *StoreAccessor) Snapshot() Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return clone(a.cfg)
}

func (a *StoreAccessor) Update(fn func(*Config)) {
	a.mu.Lock()
	fn(&a.cfg)
	a.mu.Unlock()
}

// SaveWhenExists always writes: the store exists by construction.
func (a *StoreAccessor) SaveWhenExists(ctx context.Context) error {
	data, err := json.Marshal(a.Snapshot())
	if err != nil {
		return fmt.Errorf("encode config of bot %s: %w", a.botID, err)
	}
	if err := a.store.Set(ctx, StoreKey, data, storage.WithBot(a.botID)); err != nil {
		return fmt.Errorf("save config of bot %s: %w", a.botID, err)
	}
	return nil
}
