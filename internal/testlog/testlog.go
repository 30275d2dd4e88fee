// Package testlog routes slog output into the running test's log.
package testlog

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/ggoodman/voicebot/internal/logctx"
)

// Bridge is an implementation of slog.Handler that works
// with the stdlib testing pkg.
type Bridge struct {
	slog.Handler
	t    testing.TB
	buf  *bytes.Buffer
	mu   *sync.Mutex
	done *bool
}

// Handle implements slog.Handler.
func (b *Bridge) Handle(ctx context.Context, rec slog.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.Handler.Handle(ctx, rec)
	if err != nil {
		return err
	}

	output, err := io.ReadAll(b.buf)
	if err != nil {
		return err
	}

	// Records emitted by background goroutines after the test returned
	// cannot go to t.Log.
	if *b.done {
		return nil
	}

	output = bytes.TrimSuffix(output, []byte("\n"))
	b.t.Helper()
	b.t.Log(string(output))

	return nil
}

// WithAttrs implements slog.Handler.
func (b *Bridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Bridge{t: b.t, buf: b.buf, mu: b.mu, done: b.done, Handler: b.Handler.WithAttrs(attrs)}
}

// WithGroup implements slog.Handler.
func (b *Bridge) WithGroup(name string) slog.Handler {
	return &Bridge{t: b.t, buf: b.buf, mu: b.mu, done: b.done, Handler: b.Handler.WithGroup(name)}
}

// Logger returns a debug-level logger bound to t, decorated with the
// bot/attempt context groups.
func Logger(t testing.TB) *slog.Logger {
	done := false
	b := &Bridge{
		t:    t,
		buf:  &bytes.Buffer{},
		mu:   &sync.Mutex{},
		done: &done,
	}
	b.Handler = slog.NewTextHandler(b.buf, &slog.HandlerOptions{
		AddSource: false,
		Level:     slog.LevelDebug,
	})
	t.Cleanup(func() {
		b.mu.Lock()
		done = true
		b.mu.Unlock()
	})
	return slog.New(logctx.Handler{Handler: b})
}
