package countdown

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/rickgao/freightline/internal/clock"
	"github.com/rickgao/freightline/internal/model"
	"github.com/rickgao/freightline/internal/order"
)

// Entry is the countdown of one order.
type Entry struct {
	OrderID string `json:"order_id"`
	Projection
}

// Tracker runs a Timer for every cached order in bid_accepted.
type Tracker struct {
	clock    clock.Clock
	logger   *slog.Logger
	onUpdate func(orderID string, p Projection)

	mu     sync.Mutex
	timers map[string]*Timer
	closed bool
	unsub  func()
}

// NewTracker creates a Tracker. onUpdate, if not nil, receives every
// projection; it must not block.
func NewTracker(clk clock.Clock, logger *slog.Logger, onUpdate func(orderID string, p Projection)) *Tracker {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		clock:    clk,
		logger:   logger.With("component", "countdown"),
		onUpdate: onUpdate,
		timers:   make(map[string]*Timer),
	}
}

// Follow seeds the tracker from m and keeps it in step with every change.
func (t *Tracker) Follow(m *order.Machine) {
	unsub := m.Subscribe(t.OnChange)

	t.mu.Lock()
	if t.unsub != nil {
		t.unsub()
	}
	t.unsub = unsub
	t.mu.Unlock()

	for _, o := range m.List() {
		t.Track(o)
	}
}

// OnChange applies one cache change.
func (t *Tracker) OnChange(c order.Change) {
	if c.Source == order.SourceRemoved {
		t.Untrack(c.Order.ID)
		return
	}
	t.Track(c.Order)
}

// Track starts, keeps or stops the timer for o.
func (t *Tracker) Track(o model.Order) {
	if o.Status != model.OrderBidAccepted || !o.HasExpiry() {
		t.Untrack(o.ID)
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if cur, ok := t.timers[o.ID]; ok {
		exp, acc := cur.Window()
		if exp.Equal(*o.ExpiresAt) && acc.Equal(*o.BidAcceptedAt) {
			t.mu.Unlock()
			return
		}
		cur.Stop()
	}
	var timer *Timer
	timer = NewTimer(t.clock, *o.ExpiresAt, *o.BidAcceptedAt, func(p Projection) {
		t.record(o.ID, timer, p)
	})
	t.timers[o.ID] = timer
	t.mu.Unlock()

	// Started outside the lock; the first projection is emitted inline.
	timer.Start()
}

// Untrack stops the timer for id, if any.
func (t *Tracker) Untrack(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.timers[id]; ok {
		cur.Stop()
		delete(t.timers, id)
	}
}

// Get returns the latest projection for id.
func (t *Tracker) Get(id string) (Projection, bool) {
	t.mu.Lock()
	timer, ok := t.timers[id]
	t.mu.Unlock()
	if !ok {
		return Projection{}, false
	}
	return timer.Last(), true
}

// Snapshot returns every tracked countdown sorted by order id.
func (t *Tracker) Snapshot() []Entry {
	t.mu.Lock()
	entries := make([]Entry, 0, len(t.timers))
	for id, timer := range t.timers {
		entries = append(entries, Entry{OrderID: id, Projection: timer.Last()})
	}
	t.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].OrderID < entries[j].OrderID })
	return entries
}

// Running returns the number of timers still ticking.
func (t *Tracker) Running() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, timer := range t.timers {
		if timer.Running() {
			n++
		}
	}
	return n
}

// Close stops every timer and unsubscribes. It is idempotent.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	if t.unsub != nil {
		t.unsub()
		t.unsub = nil
	}
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
}

func (t *Tracker) record(id string, timer *Timer, p Projection) {
	t.mu.Lock()
	current := t.timers[id] == timer
	t.mu.Unlock()
	if !current {
		return
	}

	if p.Expired {
		t.logger.Info("bid window expired", "order_id", id)
	}
	if t.onUpdate != nil {
		t.onUpdate(id, p)
	}
}
