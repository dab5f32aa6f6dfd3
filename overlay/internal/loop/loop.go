// Package loop provides the single event loop that owns all mutable overlay
// state, and the Scheduler abstraction through which core components arm
// timers and run off-loop work.
//
// Components never block the loop: network calls run through Go and come
// back as continuations, timers fire as loop events. Cancellation is
// cooperative: a stale callback is expected to check its own token and bail.
package loop

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop prevents the callback from running if it has not been queued yet.
	Stop() bool
}

// Scheduler is what core components see of the event loop.
type Scheduler interface {
	Now() time.Time
	// AfterFunc runs f on the loop once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
	// Go runs work off the loop. The continuation it returns, if any, runs
	// on the loop.
	Go(work func() func())
}

// Loop is the production Scheduler: a goroutine draining a queue of closures.
type Loop struct {
	events chan func()
	done   chan struct{}
	once   sync.Once
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger used for recovered panics.
func WithLogger(l *slog.Logger) Option {
	return func(lp *Loop) { lp.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(lp *Loop) { lp.now = now }
}

// WithQueueSize sets the event buffer length. Default: 1024.
func WithQueueSize(n int) Option {
	return func(lp *Loop) { lp.events = make(chan func(), n) }
}

// New creates a Loop. Call Run to start processing.
func New(opts ...Option) *Loop {
	l := &Loop{
		events: make(chan func(), 1024),
		done:   make(chan struct{}),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Run processes events in arrival order until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	defer l.once.Do(func() { close(l.done) })

	for {
		select {
		case <-ctx.Done():
			return
		case f := <-l.events:
			l.exec(f)
		}
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Post queues f. It reports false when the loop has stopped.
func (l *Loop) Post(f func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.events <- f:
		return true
	case <-l.done:
		return false
	}
}

// Do runs f on the loop and waits for it to finish.
func (l *Loop) Do(ctx context.Context, f func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		f()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Now implements Scheduler.
func (l *Loop) Now() time.Time { return l.now() }

// AfterFunc implements Scheduler.
func (l *Loop) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, func() { l.Post(f) })
}

// Go implements Scheduler.
func (l *Loop) Go(work func() func()) {
	go func() {
		cont := work()
		if cont != nil {
			l.Post(cont)
		}
	}()
}

func (l *Loop) exec(f func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop: event panic recovered",
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	f()
}
