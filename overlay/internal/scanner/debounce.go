package scanner

import (
	"time"

	"github.com/hazyhaar/mplens/overlay/internal/loop"
)

// debouncer coalesces bursts of triggers into one trailing call. A burst
// that keeps re-arming the window still fires once maxBurst triggers have
// accumulated.
type debouncer struct {
	sched    loop.Scheduler
	window   time.Duration
	maxBurst int
	fn       func()

	timer   loop.Timer
	gen     uint64
	pending int
}

func newDebouncer(sched loop.Scheduler, window time.Duration, maxBurst int, fn func()) *debouncer {
	return &debouncer{sched: sched, window: window, maxBurst: maxBurst, fn: fn}
}

// trigger (re)arms the window.
func (d *debouncer) trigger() {
	d.pending++
	if d.maxBurst > 0 && d.pending >= d.maxBurst {
		d.fire(d.gen)
		return
	}

	d.cancel()
	gen := d.gen
	d.timer = d.sched.AfterFunc(d.window, func() { d.fire(gen) })
}

// cancel disarms the window and drops the burst.
func (d *debouncer) cancel() {
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *debouncer) fire(gen uint64) {
	if gen != d.gen {
		return
	}
	d.cancel()
	d.pending = 0
	d.fn()
}
