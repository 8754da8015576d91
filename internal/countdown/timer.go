package countdown

import (
	"sync"
	"time"

	"github.com/rickgao/freightline/internal/clock"
)

// Tick is the recompute interval.
const Tick = time.Second

// Timer emits a Projection every Tick until the window expires. The final
// emission is the expired projection; no tick follows it.
type Timer struct {
	clock         clock.Clock
	expiresAt     time.Time
	bidAcceptedAt time.Time
	emit          func(Projection)

	mu      sync.Mutex
	started bool
	stopped bool
	next    *clock.Timer
	last    Projection
}

// NewTimer creates a stopped Timer for one window. emit runs on the
// clock's callback goroutine.
func NewTimer(clk clock.Clock, expiresAt, bidAcceptedAt time.Time, emit func(Projection)) *Timer {
	if clk == nil {
		clk = clock.Real()
	}
	if emit == nil {
		emit = func(Projection) {}
	}
	return &Timer{
		clock:         clk,
		expiresAt:     expiresAt,
		bidAcceptedAt: bidAcceptedAt,
		emit:          emit,
	}
}

// Start emits the current projection and begins ticking. Calling Start
// more than once has no effect.
func (t *Timer) Start() {
	t.mu.Lock()
	if t.started || t.stopped {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	t.tick()
}

// Stop cancels the next tick. It is idempotent.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.next != nil {
		t.next.Stop()
		t.next = nil
	}
}

// Last returns the most recent projection.
func (t *Timer) Last() Projection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Running reports whether another tick is scheduled.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.next != nil
}

// Window returns the window this timer follows.
func (t *Timer) Window() (expiresAt, bidAcceptedAt time.Time) {
	return t.expiresAt, t.bidAcceptedAt
}

func (t *Timer) tick() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	p := Project(t.expiresAt, t.bidAcceptedAt, t.clock.Now())
	t.last = p
	t.next = nil
	if !p.Expired {
		// Land the last tick on the deadline rather than up to a second late.
		d := Tick
		if p.Remaining < d {
			d = p.Remaining
		}
		t.next = t.clock.AfterFunc(d, t.tick)
	}
	t.mu.Unlock()

	t.emit(p)
}
