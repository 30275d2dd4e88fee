package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ggoodman/voicebot/reconnect"
	"github.com/ggoodman/voicebot/transport"
)

// Notifier is an ordered list of subscribers for one kind of notification.
// The zero value is ready to use.
type Notifier[T any] struct {
	mu   sync.Mutex
	subs []func(ctx context.Context, v T)
}

// Subscribe appends fn. Subscribers run in registration order.
func (n *Notifier[T]) Subscribe(fn func(ctx context.Context, v T)) {
	n.mu.Lock()
	n.subs = append(n.subs, fn)
	n.mu.Unlock()
}

func (n *Notifier[T]) emit(ctx context.Context, log *slog.Logger, name string, v T) {
	n.mu.Lock()
	subs := append([]func(context.Context, T){}, n.subs...)
	n.mu.Unlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.ErrorContext(ctx, "session.notify.panic", slog.String("notification", name), slog.Any("panic", r))
				}
			}()
			fn(ctx, v)
		}()
	}
}

// ConnectedEvent follows a completed handshake.
type ConnectedEvent struct {
	CorrelationID string
}

// StoppedEvent is sent once the manager gives up reconnecting.
type StoppedEvent struct {
	// Category is the last classified disconnect cause.
	Category reconnect.Category
	// Closed is set when the stop was caused by Disconnect.
	Closed bool
}

// Notifications groups every outward notification of a Manager.
type Notifications struct {
	Connected           Notifier[ConnectedEvent]
	Disconnected        Notifier[transport.Disconnected]
	StoppedReconnecting Notifier[StoppedEvent]
	AloneChanged        Notifier[bool]
	MessageReceived     Notifier[transport.TextMessage]
	WhisperNoTarget     Notifier[struct{}]
}
