// Package botpool hosts many independent bot sessions in one process. The
// bots share the configuration store and the process monitor; nothing else.
package botpool

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/ggoodman/voicebot/botconfig"
	"github.com/ggoodman/voicebot/identity"
	"github.com/ggoodman/voicebot/session"
	"github.com/ggoodman/voicebot/storage"
	"github.com/ggoodman/voicebot/sysmon"
	"github.com/ggoodman/voicebot/transport"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// DefaultConnectLimit bounds concurrent first connections in ConnectAll.
const DefaultConnectLimit = 4

var (
	ErrExists   = errors.New("botpool: bot already exists")
	ErrNotFound = errors.New("botpool: bot not found")
	ErrClosed   = errors.New("botpool: pool closed")
)

// Bot is one hosted session and its configuration.
type Bot struct {
	ID      string
	Session *session.Manager
	Config  botconfig.Accessor
}

// Pool owns its bots. Bots are added with Add and released by Remove or
// Close.
type Pool struct {
	store   storage.Storage
	monitor *sysmon.Monitor
	log     *slog.Logger
	clock   clockwork.Clock
	limit   int

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	bots   map[string]*Bot
	closed bool
}

type Option func(*Pool)

func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.log = l
		}
	}
}

// WithClock is handed to every session and to the monitor.
func WithClock(c clockwork.Clock) Option {
	return func(p *Pool) { p.clock = c }
}

// WithMonitor replaces the process monitor the pool runs.
func WithMonitor(m *sysmon.Monitor) Option {
	return func(p *Pool) { p.monitor = m }
}

// WithConnectLimit bounds concurrent connects in ConnectAll.
func WithConnectLimit(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.limit = n
		}
	}
}

// New creates a pool over store and starts the process monitor.
func New(store storage.Storage, opts ...Option) (*Pool, error) {
	if store == nil {
		return nil, fmt.Errorf("botpool: a configuration store is required")
	}
	p := &Pool{
		store: store,
		log:   slog.Default(),
		clock: clockwork.NewRealClock(),
		limit: DefaultConnectLimit,
		bots:  make(map[string]*Bot),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.monitor == nil {
		p.monitor = sysmon.New(sysmon.WithClock(p.clock), sysmon.WithLogger(p.log))
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		_ = p.monitor.Run(ctx)
	}()
	return p, nil
}

// Monitor is the process monitor shared by all bots.
func (p *Pool) Monitor() *sysmon.Monitor { return p.monitor }

// Add loads the bot's configuration from the store and creates its session.
// It does not connect.
func (p *Pool) Add(ctx context.Context, id string, conn transport.Conn, ids identity.Provider) (*Bot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if _, ok := p.bots[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrExists, id)
	}

	cfg, err := botconfig.OpenStore(ctx, p.store, id)
	if err != nil {
		return nil, err
	}
	m, err := session.New(conn, ids, cfg,
		session.WithID(id),
		session.WithLogger(p.log),
		session.WithClock(p.clock))
	if err != nil {
		return nil, fmt.Errorf("create session for bot %s: %w", id, err)
	}

	b := &Bot{ID: id, Session: m, Config: cfg}
	p.bots[id] = b
	p.log.InfoContext(ctx, "botpool.bot.added", slog.String("bot", id))
	return b, nil
}

func (p *Pool) Get(id string) (*Bot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, ok := p.bots[id]
	return b, ok
}

// IDs lists the hosted bots in sorted order.
func (p *Pool) IDs() []string {
	p.mu.RLock()
	ids := make([]string, 0, len(p.bots))
	for id := range p.bots {
		ids = append(ids, id)
	}
	p.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

func (p *Pool) snapshot() []*Bot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Bot, 0, len(p.bots))
	for _, b := range p.bots {
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b *Bot) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// ConnectAll starts every bot. A bot whose identity cannot be resolved does
// not keep the others from starting; the errors are joined.
func (p *Pool) ConnectAll(ctx context.Context) error {
	bots := p.snapshot()
	errs := make([]error, len(bots))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.limit)
	for i, b := range bots {
		g.Go(func() error {
			if err := b.Session.Connect(gctx); err != nil {
				p.log.ErrorContext(gctx, "botpool.connect.fail", slog.String("bot", b.ID), slog.String("err", err.Error()))
				errs[i] = fmt.Errorf("bot %s: %w", b.ID, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Remove disconnects the bot and releases its session.
func (p *Pool) Remove(ctx context.Context, id string) error {
	p.mu.Lock()
	b, ok := p.bots[id]
	delete(p.bots, id)
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	err := p.release(ctx, b)
	p.log.InfoContext(ctx, "botpool.bot.removed", slog.String("bot", id))
	return err
}

func (p *Pool) release(ctx context.Context, b *Bot) error {
	var err error
	if b.Session.Connected() {
		err = b.Session.Disconnect(ctx)
	}
	b.Session.Close()
	return err
}

// Close disconnects and releases every bot and stops the monitor. The store
// is left open; it belongs to the caller.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	bots := p.bots
	p.bots = make(map[string]*Bot)
	p.mu.Unlock()

	var g errgroup.Group
	for _, b := range bots {
		g.Go(func() error { return p.release(ctx, b) })
	}
	err := g.Wait()

	p.cancel()
	p.wg.Wait()
	return err
}
