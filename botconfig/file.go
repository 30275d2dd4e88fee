package botconfig

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileAccessor keeps a bot's configuration in a TOML or YAML file. A missing
// file is not an error: the bot runs on defaults and SaveWhenExists leaves
// the disk alone until someone creates the file.
type FileAccessor struct {
	path   string
	format Format
	log    *slog.Logger

	mu  sync.RWMutex
	cfg Config
	// saved is the content of our last write, so Watch can tell it from an
	// external edit.
	saved []byte

	subMu    sync.Mutex
	onReload []func(Config)
}

type FileOption func(*FileAccessor)

func WithLogger(l *slog.Logger) FileOption {
	return func(a *FileAccessor) {
		if l != nil {
			a.log = l
		}
	}
}

// Open reads path, applies the environment overrides, and returns the
// accessor.
func Open(path string, opts ...FileOption) (*FileAccessor, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	a := &FileAccessor{path: path, format: format, log: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}

	cfg, err := a.read()
	if err != nil {
		return nil, err
	}
	a.cfg = cfg
	return a, nil
}

func (a *FileAccessor) read() (Config, error) {
	data, err := os.ReadFile(a.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return a.parse(nil)
	case err != nil:
		return Config{}, fmt.Errorf("read %s: %w", a.path, err)
	}
	return a.parse(data)
}

// parse decodes data over the defaults; nil data means no file.
func (a *FileAccessor) parse(data []byte) (Config, error) {
	cfg := Default()
	if data != nil {
		var err error
		cfg, err = Decode(data, a.format)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", a.path, err)
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (a *FileAccessor) Path() string { return a.path }

func (a *FileAccessor) Snapshot() Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return clone(a.cfg)
}

func (a *FileAccessor) Update(fn func(*Config)) {
	a.mu.Lock()
	fn(&a.cfg)
	a.mu.Unlock()
}

// SaveWhenExists rewrites the file if it exists. The write goes through a
// temporary file and a rename so a crash never leaves half a config behind.
func (a *FileAccessor) SaveWhenExists(ctx context.Context) error {
	if _, err := os.Stat(a.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", a.path, err)
	}

	data, err := Encode(a.Snapshot(), a.format)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(a.path), "."+filepath.Base(a.path)+".*")
	if err != nil {
		return fmt.Errorf("save %s: %w", a.path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("save %s: %w", a.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save %s: %w", a.path, err)
	}
	a.mu.Lock()
	prev := a.saved
	a.saved = data
	a.mu.Unlock()
	if err := os.Rename(tmp.Name(), a.path); err != nil {
		a.mu.Lock()
		a.saved = prev
		a.mu.Unlock()
		return fmt.Errorf("save %s: %w", a.path, err)
	}
	return nil
}

// OnReload registers fn to run with the new configuration after an external
// edit was picked up by Watch.
func (a *FileAccessor) OnReload(fn func(Config)) {
	a.subMu.Lock()
	a.onReload = append(a.onReload, fn)
	a.subMu.Unlock()
}

// Watch reloads the file whenever it changes on disk until ctx is done. The
// directory is watched rather than the file so editors that replace the file
// are picked up too. A file that fails to parse is logged and skipped.
func (a *FileAccessor) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", a.path, err)
	}
	defer func() {
		_ = w.Close()
	}()

	if err := w.Add(filepath.Dir(a.path)); err != nil {
		return fmt.Errorf("watch %s: %w", a.path, err)
	}

	target := filepath.Clean(a.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			a.reload(ctx)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			a.log.DebugContext(ctx, "botconfig.watch.error", slog.String("path", a.path), slog.String("err", err.Error()))
		}
	}
}

func (a *FileAccessor) reload(ctx context.Context) {
	data, err := os.ReadFile(a.path)
	if err != nil {
		return
	}
	a.mu.RLock()
	own := a.saved != nil && bytes.Equal(data, a.saved)
	a.mu.RUnlock()
	if own {
		a.log.DebugContext(ctx, "botconfig.reload.skip_own_write", slog.String("path", a.path))
		return
	}

	cfg, err := a.parse(data)
	if err != nil {
		a.log.WarnContext(ctx, "botconfig.reload.fail", slog.String("path", a.path), slog.String("err", err.Error()))
		return
	}

	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
	a.log.InfoContext(ctx, "botconfig.reload.ok", slog.String("path", a.path))

	a.subMu.Lock()
	subs := append([]func(Config){}, a.onReload...)
	a.subMu.Unlock()
	for _, fn := range subs {
		fn(clone(cfg))
	}
}
