package knownset

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/mplens/overlay/internal/loop"
)

// Keeper drives Set loads from the event loop: first load on Start, a fixed
// backoff between failed attempts, and an optional periodic refresh once
// ready. All methods must be called on the loop.
type Keeper struct {
	set     *Set
	sched   loop.Scheduler
	logger  *slog.Logger
	backoff time.Duration
	refresh time.Duration
	onReady func()

	ctx      context.Context
	timer    loop.Timer
	gen      uint64
	running  bool
	inFlight bool
	failures int
}

// KeeperOption configures a Keeper.
type KeeperOption func(*Keeper)

// WithBackoff sets the delay between failed loads. Default: 5s.
func WithBackoff(d time.Duration) KeeperOption {
	return func(k *Keeper) { k.backoff = d }
}

// WithRefresh reloads the set every d once it is ready. Zero disables it.
func WithRefresh(d time.Duration) KeeperOption {
	return func(k *Keeper) { k.refresh = d }
}

// WithOnReady is called on the loop after the first successful load.
func WithOnReady(fn func()) KeeperOption {
	return func(k *Keeper) { k.onReady = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) KeeperOption {
	return func(k *Keeper) { k.logger = l }
}

// NewKeeper creates a stopped Keeper for set.
func NewKeeper(set *Set, sched loop.Scheduler, opts ...KeeperOption) *Keeper {
	k := &Keeper{
		set:     set,
		sched:   sched,
		logger:  slog.Default(),
		backoff: 5 * time.Second,
	}
	for _, o := range opts {
		o(k)
	}
	return k
}

// Start begins loading. ctx bounds every fetch.
func (k *Keeper) Start(ctx context.Context) {
	if k.running {
		return
	}
	k.running = true
	k.ctx = ctx
	k.gen++
	k.attempt()
}

// Stop disarms the retry timer. An in-flight load still lands in the Set
// but triggers nothing.
func (k *Keeper) Stop() {
	if !k.running {
		return
	}
	k.running = false
	k.gen++
	if k.timer != nil {
		k.timer.Stop()
		k.timer = nil
	}
}

// Failures returns the number of consecutive failed loads.
func (k *Keeper) Failures() int { return k.failures }

func (k *Keeper) attempt() {
	if k.inFlight {
		return
	}
	k.inFlight = true
	gen := k.gen
	ctx := k.ctx
	wasReady := k.set.Ready()

	k.sched.Go(func() func() {
		err := k.set.Load(ctx)
		return func() { k.loaded(gen, wasReady, err) }
	})
}

func (k *Keeper) loaded(gen uint64, wasReady bool, err error) {
	k.inFlight = false
	if gen != k.gen || !k.running {
		return
	}

	if err != nil {
		k.failures++
		k.logger.Warn("knownset: load failed, retrying",
			"attempt", k.failures, "backoff", k.backoff, "ready", k.set.Ready(), "error", err)
		k.arm(k.backoff)
		return
	}

	k.failures = 0
	k.logger.Info("knownset: loaded", "articles", k.set.Len())
	if !wasReady && k.onReady != nil {
		k.onReady()
	}
	if k.refresh > 0 {
		k.arm(k.refresh)
	}
}

func (k *Keeper) arm(d time.Duration) {
	gen := k.gen
	k.timer = k.sched.AfterFunc(d, func() {
		if gen != k.gen || !k.running {
			return
		}
		k.timer = nil
		k.attempt()
	})
}
