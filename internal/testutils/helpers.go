package testutils

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/prdflow/pkg/domain"
	"github.com/stretchr/testify/require"
)

// FakeClock is a manually advanced clock. Timers fire synchronously inside
// Advance, in deadline order.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
}

type fakeTimer struct {
	id       int
	deadline time.Time
	f        func()
	stopped  bool
}

// NewFakeClock creates a FakeClock starting at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{id: c.seq, deadline: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if t.stopped {
			return false
		}
		t.stopped = true
		return true
	}
}

// Advance moves the clock forward by d and runs every timer that came due.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now

	var due []*fakeTimer
	var rest []*fakeTimer
	for _, t := range c.timers {
		switch {
		case t.stopped:
		case !t.deadline.After(now):
			t.stopped = true
			due = append(due, t)
		default:
			rest = append(rest, t)
		}
	}
	c.timers = rest
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].id < due[j].id
		}
		return due[i].deadline.Before(due[j].deadline)
	})
	for _, t := range due {
		t.f()
	}
}

// Pending returns the number of timers that have not fired or been stopped.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// NextDeadline returns how far in the future the earliest pending timer is.
func (c *FakeClock) NextDeadline() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var best *fakeTimer
	for _, t := range c.timers {
		if t.stopped {
			continue
		}
		if best == nil || t.deadline.Before(best.deadline) {
			best = t
		}
	}
	if best == nil {
		return 0, false
	}
	return best.deadline.Sub(c.now), true
}

// Recorder collects events delivered to a listener.
type Recorder struct {
	mu     sync.Mutex
	events []domain.Event
	notify chan struct{}
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

// Listen is a channel.Listener.
func (r *Recorder) Listen(_ context.Context, ev domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

// Kinds returns the kinds of the recorded events, in order.
func (r *Recorder) Kinds() []domain.Kind {
	var out []domain.Kind
	for _, ev := range r.Events() {
		out = append(out, ev.Kind())
	}
	return out
}

// WaitFor blocks until cond holds for the recorded events or the timeout
// expires, failing the test in the latter case.
func (r *Recorder) WaitFor(t *testing.T, timeout time.Duration, cond func([]domain.Event) bool) []domain.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		evs := r.Events()
		if cond(evs) {
			return evs
		}
		select {
		case <-r.notify:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			require.FailNow(t, "timed out waiting for events", "got %v", r.Kinds())
			return nil
		}
	}
}

// HasConnectivity reports whether a status event with the given connectivity was seen.
func HasConnectivity(evs []domain.Event, c domain.Connectivity) bool {
	for _, ev := range evs {
		if s, ok := ev.(domain.StatusEvent); ok && s.Connectivity == c {
			return true
		}
	}
	return false
}
