package trigger

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Timers is an in-process Service backed by clock timers.
type Timers struct {
	clock clock.Clock
	caps  Capabilities

	mu     sync.Mutex
	seq    uint64
	timers map[Handle]*clock.Timer
	closed bool
}

// NewTimers returns a trigger service on the given clock.
// Timers fire at the exact time on a running process, so it reports PreciseWake.
func NewTimers(clk clock.Clock) *Timers {
	if clk == nil {
		clk = clock.New()
	}
	return &Timers{
		clock:  clk,
		caps:   Capabilities{PreciseWake: true},
		timers: map[Handle]*clock.Timer{},
	}
}

func (t *Timers) Capabilities() Capabilities {
	return t.caps
}

func (t *Timers) Register(id int64, at time.Time, fire FireFunc) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return Handle{}, ErrClosed
	}

	t.seq++
	h := Handle{ReminderID: id, Seq: t.seq}

	delay := at.Sub(t.clock.Now())
	if delay < 0 {
		delay = 0
	}
	t.timers[h] = t.clock.AfterFunc(delay, func() {
		// Skip if the handle was cancelled after the timer already elapsed
		t.mu.Lock()
		_, ok := t.timers[h]
		delete(t.timers, h)
		t.mu.Unlock()
		if !ok {
			return
		}
		fire(h, t.clock.Now())
	})
	return h, nil
}

func (t *Timers) Cancel(h Handle) {
	t.mu.Lock()
	timer, ok := t.timers[h]
	delete(t.timers, h)
	t.mu.Unlock()
	if ok {
		timer.Stop()
	}
}

// Len returns the number of registrations that haven't fired or been cancelled.
func (t *Timers) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}

// Close cancels every registration and rejects new ones.
func (t *Timers) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for h, timer := range t.timers {
		timer.Stop()
		delete(t.timers, h)
	}
	return nil
}
