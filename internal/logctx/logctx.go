package logctx

import (
	"context"
	"log/slog"
)

// Handler decorates records with the bot and attempt data carried by the
// record's context.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if bd, ok := ctx.Value(botDataKey{}).(*BotData); ok {
		r.AddAttrs(slog.Group("bot",
			slog.String("id", bd.BotID),
			slog.String("state", bd.State),
		))
	}

	if ad, ok := ctx.Value(attemptDataKey{}).(*AttemptData); ok {
		r.AddAttrs(slog.Group("attempt",
			slog.String("id", ad.CorrelationID),
			slog.Int("n", ad.Number),
			slog.String("category", ad.Category),
		))
	}

	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

type botDataKey struct{}

type BotData struct {
	BotID string
	State string
}

// WithBot returns a child context carrying bot data. The parent is not
// modified, so callers that scope the child to one operation get the prior
// value back on every return path.
func WithBot(ctx context.Context, data *BotData) context.Context {
	return context.WithValue(ctx, botDataKey{}, data)
}

type attemptDataKey struct{}

type AttemptData struct {
	CorrelationID string
	Number        int
	Category      string
}

func WithAttempt(ctx context.Context, data *AttemptData) context.Context {
	return context.WithValue(ctx, attemptDataKey{}, data)
}

// Attempt returns the attempt data bound to ctx, if any.
func Attempt(ctx context.Context) (*AttemptData, bool) {
	ad, ok := ctx.Value(attemptDataKey{}).(*AttemptData)
	return ad, ok
}
