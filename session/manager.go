package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/voicebot/botconfig"
	"github.com/ggoodman/voicebot/cache"
	"github.com/ggoodman/voicebot/identity"
	"github.com/ggoodman/voicebot/internal/logctx"
	"github.com/ggoodman/voicebot/internal/runloop"
	"github.com/ggoodman/voicebot/presence"
	"github.com/ggoodman/voicebot/reconnect"
	"github.com/ggoodman/voicebot/transport"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const dbIDCacheSize = 128

// Manager keeps one bot's session alive. See the package documentation for
// the threading model.
type Manager struct {
	id    string
	conn  transport.Conn
	ids   identity.Provider
	cfg   botconfig.Accessor
	log   *slog.Logger
	clock clockwork.Clock

	loop      *runloop.Loop
	cancel    context.CancelFunc
	pumped    chan struct{}
	forwarded atomic.Uint64 // transport events posted to the loop

	// Notify is where consumers subscribe to session notifications.
	Notify Notifications

	state  atomic.Int32
	closed atomic.Bool
	// epoch is bumped by every Connect; attempts scheduled under an older
	// epoch are dropped.
	epoch atomic.Uint64

	// Owned by the run loop.
	identity         *identity.Identity
	policy           reconnect.Policy
	attempts         int
	current          uint64 // epoch adopted by the last Connect task
	selfID           transport.ClientID
	reconnectChannel transport.ChannelID

	// Copies readable from any goroutine.
	mu          sync.Mutex
	rstate      reconnect.State
	quitMessage string

	clients  *cache.Snapshot[[]transport.Client]
	dbInfo   *cache.TTL[transport.ClientDBID, transport.ClientDBInfo]
	dbIDs    *cache.LRU[transport.UID, transport.ClientDBID]
	presence *presence.Tracker
}

type Option func(*Manager)

// WithID names the bot in logs and storage. A random id is used otherwise.
func WithID(id string) Option {
	return func(m *Manager) { m.id = id }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithClock replaces the clock behind backoff waits and cache expiry.
func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// New creates a manager and starts its run loop. ids may be nil, in which
// case Connect fails with ErrInvalidState. Close releases the manager.
func New(conn transport.Conn, ids identity.Provider, cfg botconfig.Accessor, opts ...Option) (*Manager, error) {
	if conn == nil || cfg == nil {
		return nil, fmt.Errorf("%w: transport and configuration are required", ErrInvalidState)
	}
	m := &Manager{
		conn:     conn,
		ids:      ids,
		cfg:      cfg,
		log:      slog.Default(),
		clock:    clockwork.NewRealClock(),
		policy:   reconnect.NewPolicy(reconnect.DefaultConfig()),
		presence: presence.New(),
		pumped:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.id == "" {
		m.id = uuid.NewString()
	}

	dbIDs, err := cache.NewLRU[transport.UID, transport.ClientDBID](dbIDCacheSize)
	if err != nil {
		return nil, err
	}
	m.dbIDs = dbIDs
	m.dbInfo = cache.NewTTL[transport.ClientDBID, transport.ClientDBInfo](cache.DefaultTTL, cache.WithClock(m.clock))
	m.clients = cache.NewSnapshot(m.conn.ClientList)

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.loop = runloop.New("session/"+m.id, runloop.WithLogger(m.log))
	m.loop.Start(ctx)
	go m.pump(ctx)

	return m, nil
}

func (m *Manager) ID() string { return m.id }

func (m *Manager) State() State { return State(m.state.Load()) }

// ReconnectState is the rolling attempt counter as of the last decision.
func (m *Manager) ReconnectState() reconnect.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rstate
}

// Connected reports whether the transport currently has a live session.
func (m *Manager) Connected() bool {
	_, ok := m.conn.Self()
	return ok
}

func (m *Manager) Presence() presence.State { return m.presence.State() }

// Close stops the run loop and the event pump. It does not disconnect; call
// Disconnect first for a clean exit.
func (m *Manager) Close() {
	m.closed.Store(true)
	m.cancel()
	m.loop.Stop()
	<-m.pumped
}

func (m *Manager) setState(s State) { m.state.Store(int32(s)) }

func (m *Manager) logCtx(ctx context.Context) context.Context {
	return logctx.WithBot(ctx, &logctx.BotData{BotID: m.id, State: m.State().String()})
}

// Connect resolves the identity and starts the first connection attempt in
// the background. The returned error covers only the identity step.
func (m *Manager) Connect(ctx context.Context) error {
	ctx = m.logCtx(ctx)
	if m.ids == nil {
		return fmt.Errorf("%w: no identity provider", ErrInvalidState)
	}

	cfg := m.cfg.Snapshot()
	id, generated, err := identity.Resolve(ctx, m.ids, cfg.Identity.PrivateKey, cfg.Identity.Offset)
	if err != nil {
		if errors.Is(err, identity.ErrCorrupt) {
			m.log.ErrorContext(ctx, "session.identity.corrupt",
				slog.String("err", err.Error()),
				slog.String("hint", "remove the key to generate a new identity, or repair it"))
			m.setState(StateStopped)
		}
		return err
	}
	if generated {
		m.log.InfoContext(ctx, "session.identity.generated", slog.Int("level", id.Level))
	}

	switch lvl := cfg.Identity.Level; {
	case identity.ValidLevel(lvl):
		if lvl > id.Level {
			m.log.InfoContext(ctx, "session.identity.improve", slog.Int("from", id.Level), slog.Int("to", lvl))
		}
		if _, err := identity.Escalate(ctx, m.ids, id, lvl); err != nil {
			return err
		}
	case lvl == identity.AutoAdapt:
	default:
		m.log.WarnContext(ctx, "session.identity.level_invalid",
			slog.Int("level", lvl),
			slog.String("hint", "use a level between 0 and 160, or -1 to adapt automatically"))
	}
	m.storeIdentity(ctx, id)

	rc, err := cfg.Reconnect.Policy()
	if err != nil {
		m.log.WarnContext(ctx, "session.reconnect.config_invalid", slog.String("err", err.Error()))
		rc = reconnect.DefaultConfig()
	}

	quit := pickQuitMessage()
	m.mu.Lock()
	m.quitMessage = quit
	m.mu.Unlock()
	epoch := m.epoch.Add(1)
	m.closed.Store(false)

	return m.loop.Post(func(ctx context.Context) {
		if epoch != m.epoch.Load() {
			return
		}
		m.current = epoch
		m.identity = id
		m.policy = reconnect.NewPolicy(rc)
		m.setReconnectState(reconnect.State{})
		m.selfID = 0
		m.reconnectChannel = 0
		m.clearCaches()
		m.attempt(ctx, epoch, false)
	})
}

func (m *Manager) storeIdentity(ctx context.Context, id *identity.Identity) {
	m.cfg.Update(func(c *botconfig.Config) {
		c.Identity.PrivateKey = id.PrivateKey
		c.Identity.Offset = id.Offset
	})
	if err := m.cfg.SaveWhenExists(ctx); err != nil {
		m.log.WarnContext(ctx, "session.config.save_fail", slog.String("err", err.Error()))
	}
}

// Disconnect closes the session for good: no disconnect reason will lead to
// another attempt until the next Connect.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.closed.Store(true)
	m.mu.Lock()
	quit := m.quitMessage
	m.mu.Unlock()
	if err := m.conn.Disconnect(ctx, quit); err != nil {
		return wrap("disconnect", err, nil)
	}
	return nil
}

func (m *Manager) setReconnectState(st reconnect.State) {
	m.mu.Lock()
	m.rstate = st
	m.mu.Unlock()
}

func (m *Manager) clearCaches() {
	m.clients.Invalidate()
	m.dbIDs.Clear()
	m.dbInfo.Clear()
	m.presence.Reset()
}

// attempt runs one connection attempt on the loop. Attempts scheduled before
// the latest Connect carry a stale epoch and are dropped.
func (m *Manager) attempt(ctx context.Context, epoch uint64, reconnecting bool) {
	ctx = m.logCtx(ctx)
	if m.closed.Load() || epoch != m.epoch.Load() {
		m.log.DebugContext(ctx, "session.attempt.skip", slog.Bool("closed", m.closed.Load()))
		return
	}
	m.setState(StateConnecting)

	cfg := m.cfg.Snapshot()
	channel := cfg.DefaultChannel
	if m.reconnectChannel != 0 {
		channel = transport.ChannelPath(m.reconnectChannel)
	}
	desc := transport.Descriptor{
		Address:         cfg.Address,
		Identity:        m.identity,
		Name:            cfg.Name,
		ServerPassword:  cfg.ServerPassword,
		DefaultChannel:  channel,
		ChannelPassword: cfg.ChannelPassword,
		Version:         m.versionFor(ctx, cfg.Version),
		CorrelationID:   uuid.NewString(),
	}

	m.attempts++
	st := m.ReconnectState()
	ctx = logctx.WithAttempt(ctx, &logctx.AttemptData{
		CorrelationID: desc.CorrelationID,
		Number:        m.attempts,
		Category:      st.Last.String(),
	})

	if err := m.cfg.SaveWhenExists(ctx); err != nil {
		m.log.WarnContext(ctx, "session.config.save_fail", slog.String("err", err.Error()))
	}

	if err := m.conn.Connect(ctx, desc); err != nil {
		m.connectFailed(ctx, err, reconnecting)
		return
	}

	if self, ok := m.conn.Self(); ok {
		m.selfID = self.ID
	}
	m.log.InfoContext(ctx, "session.connect.ok", slog.String("address", desc.Address))
	m.setReconnectState(reconnect.State{})
	m.setState(StateConnected)
	m.recheckAlone(ctx, nil)
	m.Notify.Connected.emit(ctx, m.log, "connected", ConnectedEvent{CorrelationID: desc.CorrelationID})
}

func (m *Manager) versionFor(ctx context.Context, vc botconfig.VersionConfig) transport.VersionSign {
	if vc.Build == "" {
		return transport.DefaultVersion()
	}
	v := vc.VersionSign()
	if !v.Valid() {
		m.log.WarnContext(ctx, "session.version.invalid", slog.String("build", vc.Build), slog.String("platform", vc.Platform))
		return transport.VersionWindows
	}
	return v
}

// connectFailed handles a refused handshake. A failed first handshake is
// final; a failed reconnect attempt goes back through the policy.
func (m *Manager) connectFailed(ctx context.Context, err error, reconnecting bool) {
	m.log.ErrorContext(ctx, "session.connect.fail", slog.String("err", err.Error()), slog.Bool("reconnecting", reconnecting))

	var ce *transport.CommandError
	errors.As(err, &ce)
	identityRefused := ce != nil && ce.Code == transport.CodeCouldNotValidateIdentity
	if identityRefused && m.adaptIdentity(ctx, ce) {
		m.retryNow(ctx)
		return
	}
	if !reconnecting {
		m.setState(StateStopped)
		return
	}
	if identityRefused {
		m.stopReconnecting(ctx, reconnect.IdentityError)
		return
	}

	ev := transport.Disconnected{Reason: transport.ReasonTimeout, Err: ce}
	m.setState(StateDisconnected)
	m.applyPolicy(ctx, m.classify(ctx, ev))
}

func (m *Manager) retryNow(ctx context.Context) {
	epoch := m.current
	if err := m.loop.Post(func(ctx context.Context) { m.attempt(ctx, epoch, true) }); err != nil {
		m.log.DebugContext(ctx, "session.attempt.post_fail", slog.String("err", err.Error()))
	}
}

// pump forwards transport events onto the run loop.
func (m *Manager) pump(ctx context.Context) {
	defer close(m.pumped)
	events := m.conn.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := m.loop.Post(func(ctx context.Context) { m.handle(ctx, ev) }); err != nil {
				return
			}
			m.forwarded.Add(1)
		}
	}
}

func (m *Manager) handle(ctx context.Context, ev transport.Event) {
	ctx = m.logCtx(ctx)
	switch e := ev.(type) {
	case transport.Connected:
		m.log.DebugContext(ctx, "session.transport.connected")
	case transport.Disconnected:
		m.onDisconnected(ctx, e)
	case transport.ClientMoved:
		m.onMembership(ctx, e.Client, e.Target, e.Source)
	case transport.ClientEnterView:
		m.onMembership(ctx, e.Client.ID, e.Target, e.Source)
	case transport.ClientLeftView:
		m.onMembership(ctx, e.Client, e.Target, e.Source)
	case transport.ErrorEvent:
		m.onErrorEvent(ctx, e)
	case transport.TextMessage:
		if self, ok := m.conn.Self(); ok && self.ID == e.Invoker {
			return
		}
		m.Notify.MessageReceived.emit(ctx, m.log, "message_received", e)
	default:
		m.log.DebugContext(ctx, "session.transport.unknown_event", slog.String("type", fmt.Sprintf("%T", ev)))
	}
}

func (m *Manager) onMembership(ctx context.Context, client transport.ClientID, target, source transport.ChannelID) {
	m.clients.Invalidate()
	// Matched against the id from the handshake: by the time a move is
	// handled the live view may already be gone.
	if m.selfID != 0 && client == m.selfID && target != 0 {
		m.reconnectChannel = target
	}
	m.recheckAlone(ctx, func() (bool, bool) {
		return m.presence.Observe(m.conn, client, target, source)
	})
}

// recheckAlone runs observe, or a full recompute when observe is nil, and
// notifies on a transition.
func (m *Manager) recheckAlone(ctx context.Context, observe func() (changed, alone bool)) {
	var changed, alone bool
	if observe != nil {
		changed, alone = observe()
	} else {
		changed, alone = m.presence.Recompute(m.conn)
	}
	if !changed {
		return
	}
	m.log.DebugContext(ctx, "session.presence.alone_changed", slog.Bool("alone", alone))
	m.Notify.AloneChanged.emit(ctx, m.log, "alone_changed", alone)
}

func (m *Manager) onErrorEvent(ctx context.Context, e transport.ErrorEvent) {
	if e.Err != nil && e.Err.Code == transport.CodeWhisperNoTargets {
		m.Notify.WhisperNoTarget.emit(ctx, m.log, "whisper_no_target", struct{}{})
		return
	}
	msg := "<nil>"
	if e.Err != nil {
		msg = e.Err.Error()
	}
	m.log.DebugContext(ctx, "session.transport.error_event", slog.String("err", msg))
}

func (m *Manager) onDisconnected(ctx context.Context, e transport.Disconnected) {
	m.setState(StateDisconnected)
	m.clients.Invalidate()
	m.Notify.Disconnected.emit(ctx, m.log, "disconnected", e)

	if e.Err != nil && e.Err.Code == transport.CodeCouldNotValidateIdentity {
		if m.adaptIdentity(ctx, e.Err) {
			m.retryNow(ctx)
			return
		}
		m.stopReconnecting(ctx, reconnect.IdentityError)
		return
	}
	m.applyPolicy(ctx, m.classify(ctx, e))
}

// adaptIdentity raises the identity to the level the server asked for when
// the configuration allows it. It reports false when nothing was improved,
// so a server asking for the same level twice cannot loop.
func (m *Manager) adaptIdentity(ctx context.Context, ce *transport.CommandError) bool {
	if m.cfg.Snapshot().Identity.Level != identity.AutoAdapt || m.identity == nil {
		m.log.WarnContext(ctx, "session.identity.rejected",
			slog.String("hint", "the server requires a higher security level; raise identity.level or set it to -1"))
		return false
	}
	target, err := strconv.Atoi(ce.ExtraMessage)
	if err != nil || !identity.ValidLevel(target) {
		m.log.WarnContext(ctx, "session.identity.rejected", slog.String("required", ce.ExtraMessage))
		return false
	}

	m.log.InfoContext(ctx, "session.identity.adapt", slog.Int("from", m.identity.Level), slog.Int("to", target))
	improved, err := identity.Escalate(ctx, m.ids, m.identity, target)
	if err != nil {
		m.log.ErrorContext(ctx, "session.identity.adapt_fail", slog.String("err", err.Error()))
		return false
	}
	if !improved {
		return false
	}
	m.storeIdentity(ctx, m.identity)
	return true
}

// classify maps a disconnect to a reconnect category.
func (m *Manager) classify(ctx context.Context, e transport.Disconnected) reconnect.Category {
	if e.Err != nil {
		switch e.Err.Code {
		case transport.CodeTooManyClones:
			m.log.WarnContext(ctx, "session.disconnect.too_many_clones")
			return reconnect.Error
		case transport.CodeConnectFailedBanned:
			m.log.WarnContext(ctx, "session.disconnect.banned", slog.String("reason", e.Err.Message))
			return reconnect.Ban
		default:
			m.log.WarnContext(ctx, "session.disconnect.error", slog.String("err", e.Err.Error()))
			return reconnect.Error
		}
	}

	switch e.Reason {
	case transport.ReasonTimeout, transport.ReasonSocketError:
		return reconnect.Timeout
	case transport.ReasonKickedFromServer:
		return reconnect.Kick
	case transport.ReasonServerShutdown, transport.ReasonServerStopped:
		return reconnect.ServerShutdown
	case transport.ReasonBanned:
		return reconnect.Ban
	default:
		return reconnect.None
	}
}

// applyPolicy either schedules the next attempt or stops and notifies.
func (m *Manager) applyPolicy(ctx context.Context, cat reconnect.Category) {
	if m.scheduleReconnect(ctx, cat) {
		return
	}
	m.stopReconnecting(ctx, cat)
}

func (m *Manager) stopReconnecting(ctx context.Context, cat reconnect.Category) {
	m.setState(StateStopped)
	m.log.InfoContext(ctx, "session.reconnect.stopped", slog.String("category", cat.String()), slog.Bool("closed", m.closed.Load()))
	m.Notify.StoppedReconnecting.emit(ctx, m.log, "stopped_reconnecting", StoppedEvent{Category: cat, Closed: m.closed.Load()})
}

func (m *Manager) scheduleReconnect(ctx context.Context, cat reconnect.Category) bool {
	if m.closed.Load() {
		return false
	}

	d, next := m.policy.Next(cat, m.ReconnectState())
	m.setReconnectState(next)
	if d.Stop {
		if cat != reconnect.None {
			m.log.InfoContext(ctx, "session.reconnect.exhausted", slog.String("category", d.Category.String()), slog.Int("attempt", d.Attempt))
		}
		return false
	}

	m.setState(StateReconnecting)
	m.log.InfoContext(ctx, "session.reconnect.scheduled",
		slog.String("category", d.Category.String()),
		slog.Int("attempt", d.Attempt),
		slog.Duration("delay", d.Delay))

	epoch := m.current
	m.clock.AfterFunc(d.Delay, func() {
		if err := m.loop.Post(func(ctx context.Context) { m.attempt(ctx, epoch, true) }); err != nil {
			m.log.DebugContext(ctx, "session.attempt.post_fail", slog.String("err", err.Error()))
		}
	})
	return true
}
