package session

import (
	"context"
	"testing"
	"time"

	"github.com/ggoodman/voicebot/botconfig"
	"github.com/ggoodman/voicebot/internal/testlog"
	"github.com/ggoodman/voicebot/transport"
	"github.com/ggoodman/voicebot/transport/transporttest"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

const (
	botClient  transport.ClientID   = 1
	botDBID    transport.ClientDBID = 500
	waitTimeout                      = 2 * time.Second
)

// fakeClock is the part of clockwork's fake clock the tests drive.
type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
	BlockUntil(waiters int)
}

type harness struct {
	t     *testing.T
	conn  *transporttest.Conn
	ids   *transporttest.Identities
	cfg   *botconfig.Memory
	clock fakeClock
	m     *Manager

	connected    chan ConnectedEvent
	disconnected chan transport.Disconnected
	stopped      chan StoppedEvent
	alone        chan bool
	messages     chan transport.TextMessage
	whispers     chan struct{}
}

func newHarness(t *testing.T, configure func(*botconfig.Config)) *harness {
	t.Helper()
	cfg := botconfig.Default()
	cfg.Address = "voice.example.org"
	cfg.Name = "bot"
	if configure != nil {
		configure(&cfg)
	}

	h := &harness{
		t:            t,
		conn:         transporttest.New(transport.Client{ID: botClient, DBID: botDBID, UID: "bot-uid", Name: "bot"}),
		ids:          &transporttest.Identities{GenerateLevel: 8},
		cfg:          botconfig.NewMemory(cfg),
		clock:        clockwork.NewFakeClock(),
		connected:    make(chan ConnectedEvent, 16),
		disconnected: make(chan transport.Disconnected, 16),
		stopped:      make(chan StoppedEvent, 16),
		alone:        make(chan bool, 16),
		messages:     make(chan transport.TextMessage, 16),
		whispers:     make(chan struct{}, 16),
	}

	m, err := New(h.conn, h.ids, h.cfg,
		WithID("test-bot"),
		WithLogger(testlog.Logger(t)),
		WithClock(h.clock))
	require.NoError(t, err)
	t.Cleanup(m.Close)
	h.m = m

	m.Notify.Connected.Subscribe(func(_ context.Context, e ConnectedEvent) { h.connected <- e })
	m.Notify.Disconnected.Subscribe(func(_ context.Context, e transport.Disconnected) { h.disconnected <- e })
	m.Notify.StoppedReconnecting.Subscribe(func(_ context.Context, e StoppedEvent) { h.stopped <- e })
	m.Notify.AloneChanged.Subscribe(func(_ context.Context, a bool) { h.alone <- a })
	m.Notify.MessageReceived.Subscribe(func(_ context.Context, e transport.TextMessage) { h.messages <- e })
	m.Notify.WhisperNoTarget.Subscribe(func(_ context.Context, e struct{}) { h.whispers <- e })
	return h
}

// connect runs Connect and waits for the Connected notification.
func (h *harness) connect() {
	h.t.Helper()
	require.NoError(h.t, h.m.Connect(context.Background()))
	recv(h.t, h.connected)
}

// settle waits until every event the fake emitted so far has been forwarded
// to the run loop and everything on the loop has run.
func (h *harness) settle() {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return uint64(h.conn.Emitted()) == h.m.forwarded.Load()
	}, waitTimeout, time.Millisecond, "transport events not forwarded")
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(h.t, h.m.loop.Do(ctx, func(context.Context) {}))
}

// advance moves the fake clock once a backoff timer is pending.
func (h *harness) advance(d time.Duration) {
	h.t.Helper()
	h.clock.BlockUntil(1)
	h.clock.Advance(d)
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %T", *new(T))
	}
	panic("unreachable")
}

func requireNone[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected %T: %+v", v, v)
	case <-time.After(100 * time.Millisecond):
	}
}
