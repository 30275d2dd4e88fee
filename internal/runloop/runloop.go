// Package runloop provides a single-owner execution queue. Every task posted
// to a Loop runs on the same goroutine in FIFO order, which lets a component
// keep its state transitions serialized without locking that state.
package runloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrStopped is returned when posting to a loop that is not running.
var ErrStopped = errors.New("runloop: stopped")

// Task is a unit of work executed on the loop goroutine.
type Task func(ctx context.Context)

// Loop is an unbounded FIFO mailbox drained by one goroutine. Post never
// blocks, so tasks may post follow-up tasks onto their own loop.
type Loop struct {
	name string
	log  *slog.Logger

	mu      sync.Mutex
	queue   []Task
	wake    chan struct{}
	started bool
	stopped bool

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger used to report recovered task panics.
func WithLogger(l *slog.Logger) Option {
	return func(lp *Loop) {
		if l != nil {
			lp.log = l
		}
	}
}

// New creates a loop. Call Start before posting.
func New(name string, opts ...Option) *Loop {
	l := &Loop{
		name: name,
		log:  slog.Default(),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start launches the loop goroutine. Tasks receive a context derived from
// ctx that is cancelled by Stop.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return
	}
	l.started = true
	ctx, l.cancel = context.WithCancel(ctx)
	l.mu.Unlock()

	go l.run(ctx)
}

// Post enqueues fn. It returns ErrStopped if the loop was never started or
// has been stopped.
func (l *Loop) Post(fn Task) error {
	l.mu.Lock()
	if !l.started || l.stopped {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStopped, l.name)
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Do posts fn and waits for it to finish. It must not be called from a task
// running on the same loop.
func (l *Loop) Do(ctx context.Context, fn Task) error {
	finished := make(chan struct{})
	err := l.Post(func(ctx context.Context) {
		defer close(finished)
		fn(ctx)
	})
	if err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return fmt.Errorf("%w: %s", ErrStopped, l.name)
	}
}

// Stop rejects further posts, cancels the task context, and waits for the
// loop goroutine to exit. Tasks still queued are discarded.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.started || l.stopped {
		started := l.started
		l.stopped = true
		l.mu.Unlock()
		if started {
			<-l.done
		}
		return
	}
	l.stopped = true
	l.queue = nil
	l.mu.Unlock()

	l.cancel()
	<-l.done
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)
	for {
		task, ok := l.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-l.wake:
				continue
			}
		}
		if ctx.Err() != nil {
			return
		}
		l.exec(ctx, task)
	}
}

func (l *Loop) next() (Task, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	task := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return task, true
}

func (l *Loop) exec(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			l.log.ErrorContext(ctx, "runloop.task.panic", slog.String("loop", l.name), slog.Any("panic", r))
		}
	}()
	task(ctx)
}
