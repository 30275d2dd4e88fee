package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ggoodman/voicebot/botconfig"
	"github.com/ggoodman/voicebot/identity"
	"github.com/ggoodman/voicebot/reconnect"
	"github.com/ggoodman/voicebot/transport"
	"github.com/ggoodman/voicebot/transport/transporttest"
	"github.com/stretchr/testify/require"
)

var errUnreachable = errors.New("connection timed out")

func TestConnectWithoutIdentityGeneratesOne(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()
	requireNone(t, h.connected)

	require.Equal(t, 1, h.ids.Generated())
	cfg := h.cfg.Snapshot()
	require.Equal(t, "generated-1", cfg.Identity.PrivateKey)
	require.EqualValues(t, 8, cfg.Identity.Offset)
	require.GreaterOrEqual(t, h.cfg.Saves(), 1)

	descs := h.conn.Descriptors()
	require.Len(t, descs, 1)
	require.Equal(t, "generated-1", descs[0].Identity.PrivateKey)
	require.Equal(t, "voice.example.org", descs[0].Address)
	require.NotEmpty(t, descs[0].CorrelationID)
	require.Equal(t, StateConnected, h.m.State())
	require.True(t, h.m.Connected())
}

func TestConnectWithoutProvider(t *testing.T) {
	m, err := New(transporttest.New(transport.Client{ID: 1}), nil, botconfig.NewMemory(botconfig.Default()))
	require.NoError(t, err)
	defer m.Close()
	require.ErrorIs(t, m.Connect(context.Background()), ErrInvalidState)
}

func TestNewRequiresTransport(t *testing.T) {
	_, err := New(nil, nil, botconfig.NewMemory(botconfig.Default()))
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestCorruptIdentityIsTerminal(t *testing.T) {
	h := newHarness(t, func(c *botconfig.Config) {
		c.Identity.PrivateKey = transporttest.CorruptPrefix + "-key"
	})
	err := h.m.Connect(context.Background())
	require.ErrorIs(t, err, identity.ErrCorrupt)
	require.Equal(t, StateStopped, h.m.State())

	requireNone(t, h.connected)
	require.Empty(t, h.conn.Descriptors())
	require.Equal(t, transporttest.CorruptPrefix+"-key", h.cfg.Snapshot().Identity.PrivateKey, "the key is left for the operator")
}

func TestConnectRaisesConfiguredLevel(t *testing.T) {
	h := newHarness(t, func(c *botconfig.Config) {
		c.Identity.PrivateKey = "stored"
		c.Identity.Offset = 5
		c.Identity.Level = 20
	})
	h.connect()
	require.Equal(t, []int{20}, h.ids.Improved())
	require.EqualValues(t, 20, h.cfg.Snapshot().Identity.Offset)
	require.Equal(t, 20, h.conn.Descriptors()[0].Identity.Level)
}

func TestOutOfRangeLevelIsIgnored(t *testing.T) {
	h := newHarness(t, func(c *botconfig.Config) { c.Identity.Level = 500 })
	h.connect()
	require.Empty(t, h.ids.Improved())
}

func TestFirstHandshakeFailureStops(t *testing.T) {
	h := newHarness(t, nil)
	h.conn.FailConnect(errUnreachable)
	require.NoError(t, h.m.Connect(context.Background()), "the attempt runs in the background")

	require.Eventually(t, func() bool { return h.m.State() == StateStopped }, waitTimeout, 5*time.Millisecond)
	requireNone(t, h.connected)
	requireNone(t, h.stopped)
	require.Len(t, h.conn.Descriptors(), 1)
}

func TestThreeTimeoutsThenStop(t *testing.T) {
	h := newHarness(t, func(c *botconfig.Config) {
		c.Reconnect.OnTimeout = []string{"5s", "15s", "45s"}
	})
	h.connect()

	h.conn.FailConnect(errUnreachable, errUnreachable, errUnreachable)
	h.conn.Drop(transport.ReasonTimeout, nil)
	require.Equal(t, transport.ReasonTimeout, recv(t, h.disconnected).Reason)

	for i, delay := range []time.Duration{5 * time.Second, 15 * time.Second, 45 * time.Second} {
		h.advance(delay - time.Millisecond)
		require.Len(t, h.conn.Descriptors(), 1+i, "attempt %d fired early", i)

		h.clock.Advance(time.Millisecond)
		want := 2 + i
		require.Eventually(t, func() bool { return len(h.conn.Descriptors()) == want }, waitTimeout, 5*time.Millisecond)
	}

	ev := recv(t, h.stopped)
	require.Equal(t, reconnect.Timeout, ev.Category)
	require.False(t, ev.Closed)
	requireNone(t, h.stopped)
	requireNone(t, h.connected)

	require.Equal(t, StateStopped, h.m.State())
	require.Len(t, h.conn.Descriptors(), 4)
}

func TestSuccessfulReconnectResetsCounter(t *testing.T) {
	h := newHarness(t, func(c *botconfig.Config) {
		c.Reconnect.OnTimeout = []string{"5s", "15s"}
	})
	h.connect()

	for range 3 {
		h.conn.Drop(transport.ReasonTimeout, nil)
		recv(t, h.disconnected)
		h.advance(5 * time.Second)
		recv(t, h.connected)
		require.Equal(t, reconnect.State{}, h.m.ReconnectState())
	}
}

func TestKickIsNotRetriedByDefault(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()

	h.conn.Drop(transport.ReasonKickedFromServer, nil)
	ev := recv(t, h.stopped)
	require.Equal(t, reconnect.Kick, ev.Category)
	require.Equal(t, StateStopped, h.m.State())
}

func TestUnknownReasonStops(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()

	h.conn.Drop(transport.ReasonUnknown, nil)
	require.Equal(t, reconnect.None, recv(t, h.stopped).Category)
}

func TestBannedErrorCode(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()

	h.conn.Drop(transport.ReasonUnknown, transport.NewError(transport.CodeConnectFailedBanned, "you are banned"))
	require.Equal(t, reconnect.Ban, recv(t, h.stopped).Category)
}

func TestTooManyClonesIsAnError(t *testing.T) {
	h := newHarness(t, func(c *botconfig.Config) { c.Reconnect.OnError = []string{"2s"} })
	h.connect()

	h.conn.Drop(transport.ReasonUnknown, transport.NewError(transport.CodeTooManyClones, ""))
	recv(t, h.disconnected)
	h.advance(2 * time.Second)
	recv(t, h.connected)
}

func TestShutdownThenTimeoutContinuesCounter(t *testing.T) {
	h := newHarness(t, func(c *botconfig.Config) {
		c.Reconnect.OnShutdown = []string{"1s", "2s", "3s"}
		c.Reconnect.OnTimeout = []string{"1h"}
	})
	h.connect()

	h.conn.FailConnect(errUnreachable)
	h.conn.Drop(transport.ReasonServerShutdown, nil)
	recv(t, h.disconnected)

	h.advance(time.Second)
	require.Eventually(t, func() bool { return len(h.conn.Descriptors()) == 2 }, waitTimeout, 5*time.Millisecond)
	h.settle()
	require.Equal(t, reconnect.State{Attempt: 2, Last: reconnect.ServerShutdown, HasLast: true}, h.m.ReconnectState())

	// The failed attempt counted as the shutdown's second step: 2s, not 1h.
	h.advance(2 * time.Second)
	recv(t, h.connected)
}

func TestDisconnectStopsForGood(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()

	require.NoError(t, h.m.Disconnect(context.Background()))
	ev := recv(t, h.stopped)
	require.True(t, ev.Closed)

	quits := h.conn.QuitMessages()
	require.Len(t, quits, 1)
	require.Contains(t, quitMessages, quits[0])
	require.Len(t, h.conn.Descriptors(), 1)
}

func TestDisconnectDuringBackoffSkipsAttempt(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()

	h.conn.Drop(transport.ReasonTimeout, nil)
	recv(t, h.disconnected)
	h.clock.BlockUntil(1)

	require.NoError(t, h.m.Disconnect(context.Background()))
	h.clock.Advance(time.Hour)
	require.Never(t, func() bool { return len(h.conn.Descriptors()) > 1 }, 200*time.Millisecond, 10*time.Millisecond)
	requireNone(t, h.connected)
}

func TestReconnectUsesLastKnownChannel(t *testing.T) {
	h := newHarness(t, func(c *botconfig.Config) {
		c.DefaultChannel = "/3"
		c.Reconnect.OnTimeout = []string{"1s"}
	})
	h.connect()
	require.Equal(t, "/3", h.conn.Descriptors()[0].DefaultChannel)

	h.conn.MoveClient(botClient, 7)
	h.conn.Drop(transport.ReasonTimeout, nil)
	recv(t, h.disconnected)
	h.advance(time.Second)
	recv(t, h.connected)

	descs := h.conn.Descriptors()
	require.Equal(t, "/7", descs[1].DefaultChannel)
	require.NotEqual(t, descs[0].CorrelationID, descs[1].CorrelationID)
}

func TestAutoAdaptIdentityOnFirstHandshake(t *testing.T) {
	h := newHarness(t, nil)
	h.conn.FailConnect(&transport.CommandError{Code: transport.CodeCouldNotValidateIdentity, ExtraMessage: "25"})
	h.connect()

	require.Equal(t, []int{25}, h.ids.Improved())
	require.EqualValues(t, 25, h.cfg.Snapshot().Identity.Offset)
	require.Len(t, h.conn.Descriptors(), 2)
	require.Equal(t, reconnect.State{}, h.m.ReconnectState(), "adapting does not count against the policy")
}

func TestAutoAdaptIdentityOnLiveDisconnect(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()

	h.conn.Drop(transport.ReasonUnknown, &transport.CommandError{Code: transport.CodeCouldNotValidateIdentity, ExtraMessage: "30"})
	recv(t, h.disconnected)
	recv(t, h.connected)
	require.Equal(t, []int{30}, h.ids.Improved())
}

func TestAutoAdaptDoesNotLoopOnSameLevel(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()

	// Already at level 8: nothing to improve, so the refusal is final.
	h.conn.Drop(transport.ReasonUnknown, &transport.CommandError{Code: transport.CodeCouldNotValidateIdentity, ExtraMessage: "8"})
	require.Equal(t, reconnect.IdentityError, recv(t, h.stopped).Category)
	require.Empty(t, h.ids.Improved())
	require.Len(t, h.conn.Descriptors(), 1)
}

func TestIdentityRejectedWithFixedLevelStops(t *testing.T) {
	h := newHarness(t, func(c *botconfig.Config) {
		c.Identity.Level = 10
		c.Reconnect.OnError = []string{"3s"}
	})
	h.connect()

	h.conn.Drop(transport.ReasonUnknown, &transport.CommandError{Code: transport.CodeCouldNotValidateIdentity, ExtraMessage: "30"})
	recv(t, h.disconnected)
	ev := recv(t, h.stopped)
	require.Equal(t, reconnect.IdentityError, ev.Category)
	require.False(t, ev.Closed)
	require.Equal(t, StateStopped, h.m.State())
	require.Equal(t, []int{10}, h.ids.Improved())

	h.clock.Advance(time.Hour)
	require.Never(t, func() bool { return len(h.conn.Descriptors()) > 1 }, 200*time.Millisecond, 10*time.Millisecond)
}

func TestIdentityRefusedOnReconnectAttemptStops(t *testing.T) {
	h := newHarness(t, func(c *botconfig.Config) {
		c.Identity.Level = 10
		c.Reconnect.OnTimeout = []string{"1s"}
	})
	h.connect()

	h.conn.FailConnect(&transport.CommandError{Code: transport.CodeCouldNotValidateIdentity, ExtraMessage: "30"})
	h.conn.Drop(transport.ReasonTimeout, nil)
	recv(t, h.disconnected)
	h.advance(time.Second)

	require.Equal(t, reconnect.IdentityError, recv(t, h.stopped).Category)
	require.Len(t, h.conn.Descriptors(), 2)
}

func TestStaleAttemptAfterReconnectIsDropped(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()

	h.conn.Drop(transport.ReasonTimeout, nil)
	recv(t, h.disconnected)
	h.settle()
	require.NoError(t, h.m.Disconnect(context.Background()))

	// Hold the loop while the backoff attempt of the old session is queued
	// ahead of the new Connect.
	release := make(chan struct{})
	require.NoError(t, h.m.loop.Post(func(context.Context) { <-release }))
	stale := h.m.current
	require.NoError(t, h.m.loop.Post(func(ctx context.Context) { h.m.attempt(ctx, stale, true) }))
	require.NoError(t, h.m.Connect(context.Background()))
	close(release)

	recv(t, h.connected)
	h.settle()
	requireNone(t, h.connected)
	require.Len(t, h.conn.Descriptors(), 2)

	// The old backoff timer fires into the new session and is dropped too.
	h.clock.Advance(time.Hour)
	require.Never(t, func() bool { return len(h.conn.Descriptors()) > 2 }, 200*time.Millisecond, 10*time.Millisecond)
}

func TestMoveJustBeforeDropIsRemembered(t *testing.T) {
	h := newHarness(t, func(c *botconfig.Config) {
		c.DefaultChannel = "/3"
		c.Reconnect.OnTimeout = []string{"1s"}
	})
	h.connect()

	// Both events are queued before either is handled; the live view is
	// already offline when the move is processed.
	h.conn.MoveClient(botClient, 9)
	h.conn.Drop(transport.ReasonTimeout, nil)
	require.False(t, h.m.Connected())
	recv(t, h.disconnected)
	h.advance(time.Second)
	recv(t, h.connected)
	require.Equal(t, "/9", h.conn.Descriptors()[1].DefaultChannel)
}

func TestConnectAgainResetsState(t *testing.T) {
	h := newHarness(t, func(c *botconfig.Config) { c.Reconnect.OnKick = nil })
	h.connect()
	h.conn.Drop(transport.ReasonKickedFromServer, nil)
	recv(t, h.stopped)

	h.connect()
	require.Equal(t, reconnect.State{}, h.m.ReconnectState())
	require.Equal(t, 1, h.ids.Generated(), "the identity persisted in the config is reused")
}

func TestInvalidReconnectConfigFallsBackToDefaults(t *testing.T) {
	h := newHarness(t, func(c *botconfig.Config) { c.Reconnect.OnTimeout = []string{"soon"} })
	h.connect()

	h.conn.Drop(transport.ReasonTimeout, nil)
	recv(t, h.disconnected)
	h.advance(reconnect.DefaultConfig().OnTimeout.Delays[0])
	recv(t, h.connected)
}

func TestNotificationsRunInRegistrationOrder(t *testing.T) {
	h := newHarness(t, nil)
	order := make(chan int, 3)
	for i := range 3 {
		h.m.Notify.Connected.Subscribe(func(context.Context, ConnectedEvent) { order <- i })
	}
	h.connect()
	for i := range 3 {
		require.Equal(t, i, recv(t, order))
	}
}

func TestPanickingSubscriberDoesNotStopOthers(t *testing.T) {
	h := newHarness(t, nil)
	reached := make(chan struct{}, 1)
	h.m.Notify.Connected.Subscribe(func(context.Context, ConnectedEvent) { panic("boom") })
	h.m.Notify.Connected.Subscribe(func(context.Context, ConnectedEvent) { reached <- struct{}{} })
	h.connect()
	recv(t, reached)
}
