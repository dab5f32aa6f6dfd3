package loop

import (
	"sort"
	"time"
)

// Manual is a deterministic Scheduler driven by virtual time. Timers fire
// only inside Advance and off-loop work only runs inside Settle, both on the
// calling goroutine. It is meant for tests and is not safe for concurrent use.
type Manual struct {
	now    time.Time
	seq    uint64
	timers []*manualTimer
	works  []func() func()
}

type manualTimer struct {
	m       *Manual
	when    time.Time
	seq     uint64
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	if t.stopped {
		return false
	}
	t.stopped = true
	for i, x := range t.m.timers {
		if x == t {
			t.m.timers = append(t.m.timers[:i], t.m.timers[i+1:]...)
			break
		}
	}
	return true
}

// NewManual returns a Manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now implements Scheduler.
func (m *Manual) Now() time.Time { return m.now }

// AfterFunc implements Scheduler.
func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.seq++
	t := &manualTimer{m: m, when: m.now.Add(d), seq: m.seq, f: f}
	m.timers = append(m.timers, t)
	return t
}

// Go implements Scheduler. The work is deferred until Settle.
func (m *Manual) Go(work func() func()) {
	m.works = append(m.works, work)
}

// Advance moves virtual time forward by d, firing due timers in deadline
// order. Timers armed by a firing callback fire too if they fall due
// within the window.
func (m *Manual) Advance(d time.Duration) {
	target := m.now.Add(d)
	for {
		t := m.next(target)
		if t == nil {
			break
		}
		t.Stop()
		if t.when.After(m.now) {
			m.now = t.when
		}
		t.f()
	}
	m.now = target
}

// Settle runs queued off-loop work and its continuations, in FIFO order,
// until nothing is left.
func (m *Manual) Settle() {
	for len(m.works) > 0 {
		w := m.works[0]
		m.works = m.works[1:]
		if cont := w(); cont != nil {
			cont()
		}
	}
}

// Timers returns the number of armed timers.
func (m *Manual) Timers() int { return len(m.timers) }

// Works returns the number of queued off-loop work items.
func (m *Manual) Works() int { return len(m.works) }

func (m *Manual) next(target time.Time) *manualTimer {
	if len(m.timers) == 0 {
		return nil
	}
	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].when.Equal(m.timers[j].when) {
			return m.timers[i].seq < m.timers[j].seq
		}
		return m.timers[i].when.Before(m.timers[j].when)
	})
	if t := m.timers[0]; !t.when.After(target) {
		return t
	}
	return nil
}
