package order

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/freightline/internal/clock"
	"github.com/rickgao/freightline/internal/model"
)

// Source identifies who produced a change.
type Source string

const (
	SourceServer     Source = "server"     // REST snapshot or inbound frame
	SourceOptimistic Source = "optimistic" // local user action, unconfirmed
	SourceRollback   Source = "rollback"   // optimistic action undone
	SourceLocal      Source = "local"      // authoritative local input (warm start, payment capture)
	SourceRemoved    Source = "removed"    // dropped by a REST snapshot
)

// Change is delivered to subscribers after every cache mutation.
type Change struct {
	Order   model.Order
	Prev    model.OrderStatus // empty for a new order
	Source  Source
	Version uint64
}

// Pending is an optimistic transition awaiting the REST result.
type Pending struct {
	ID        string
	OrderID   string
	From      model.OrderStatus
	To        model.OrderStatus
	Trigger   Trigger
	StartedAt time.Time
}

// ServerUpdate is a partial authoritative update carried by a frame.
type ServerUpdate struct {
	OrderID       string
	Status        model.OrderStatus
	BidAcceptedAt *time.Time // both or neither
	ExpiresAt     *time.Time
}

type entry struct {
	order   model.Order
	version uint64
	pending *Pending
	written uint64 // write mark of the last authoritative write
}

// Machine holds the cached projection of every known order.
type Machine struct {
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.RWMutex
	orders  map[string]*entry
	mark    uint64 // bumped by every authoritative write
	subs    map[int]func(Change)
	nextSub int
}

// NewMachine creates an empty order cache.
func NewMachine(clk clock.Clock, logger *slog.Logger) *Machine {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		clock:  clk,
		logger: logger.With("component", "orders"),
		orders: make(map[string]*entry),
		subs:   make(map[int]func(Change)),
	}
}

// Get returns a copy of the cached order.
func (m *Machine) Get(id string) (model.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.orders[id]
	if !ok {
		return model.Order{}, false
	}
	return e.order.Clone(), true
}

// PendingFor returns the unconfirmed optimistic action on id, if any.
func (m *Machine) PendingFor(id string) (Pending, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.orders[id]
	if !ok || e.pending == nil {
		return Pending{}, false
	}
	return *e.pending, true
}

// List returns copies of every cached order sorted by id.
func (m *Machine) List() []model.Order {
	m.mu.RLock()
	result := make([]model.Order, 0, len(m.orders))
	for _, e := range m.orders {
		result = append(result, e.order.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Len returns the number of cached orders.
func (m *Machine) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.orders)
}

// Subscribe registers fn for every change. fn runs with no lock held but
// on the caller's goroutine; it must not block.
func (m *Machine) Subscribe(fn func(Change)) (cancel func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Mark returns the current write mark. A REST read taken after Mark is
// applied with ReplaceSince or ApplyServerSince so that writes landing
// while the request was in flight are not overwritten.
func (m *Machine) Mark() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mark
}

// Replace installs a full authoritative snapshot. Orders missing from the
// snapshot are dropped and pending actions are discarded.
func (m *Machine) Replace(orders []model.Order) error {
	_, err := m.replace(orders, 0, false)
	return err
}

// ReplaceSince is Replace for a snapshot requested at mark. Entries
// written after mark are newer than the snapshot and are kept as they
// are. It returns how many were kept.
func (m *Machine) ReplaceSince(mark uint64, orders []model.Order) (int, error) {
	return m.replace(orders, mark, true)
}

func (m *Machine) replace(orders []model.Order, mark uint64, guarded bool) (int, error) {
	for _, o := range orders {
		if err := o.Validate(); err != nil {
			return 0, fmt.Errorf("order %q: %w", o.ID, err)
		}
	}

	newer := func(e *entry) bool { return guarded && e.written > mark }
	seen := make(map[string]struct{}, len(orders))
	var changes []Change
	kept := 0

	m.mu.Lock()
	for id, e := range m.orders {
		if newer(e) {
			seen[id] = struct{}{}
			kept++
		}
	}
	for _, o := range orders {
		if _, ok := seen[o.ID]; ok {
			continue
		}
		seen[o.ID] = struct{}{}
		changes = append(changes, m.putLocked(o, SourceServer))
	}
	for id, e := range m.orders {
		if _, ok := seen[id]; ok {
			continue
		}
		delete(m.orders, id)
		e.version++
		changes = append(changes, Change{Order: e.order.Clone(), Prev: e.order.Status, Source: SourceRemoved, Version: e.version})
	}
	m.mu.Unlock()

	if kept > 0 {
		m.logger.Debug("snapshot older than cached orders", "kept", kept)
	}
	m.notify(changes...)
	return kept, nil
}

// Merge inserts orders that are not yet cached. Existing entries win.
func (m *Machine) Merge(orders []model.Order) int {
	var changes []Change

	m.mu.Lock()
	for _, o := range orders {
		if o.Validate() != nil {
			continue
		}
		if _, ok := m.orders[o.ID]; ok {
			continue
		}
		changes = append(changes, m.putLocked(o, SourceLocal))
	}
	m.mu.Unlock()

	m.notify(changes...)
	return len(changes)
}

// ApplyServer overwrites one order with an authoritative record,
// discarding any optimistic guess.
func (m *Machine) ApplyServer(o model.Order) error {
	if err := o.Validate(); err != nil {
		return fmt.Errorf("order %q: %w", o.ID, err)
	}

	m.mu.Lock()
	change := m.putLocked(o, SourceServer)
	m.mu.Unlock()

	m.notify(change)
	return nil
}

// ApplyServerSince is ApplyServer for a record requested at mark. It
// reports false, changing nothing, if the order was written after mark.
func (m *Machine) ApplyServerSince(mark uint64, o model.Order) (bool, error) {
	if err := o.Validate(); err != nil {
		return false, fmt.Errorf("order %q: %w", o.ID, err)
	}

	m.mu.Lock()
	if e, ok := m.orders[o.ID]; ok && e.written > mark {
		m.mu.Unlock()
		return false, nil
	}
	change := m.putLocked(o, SourceServer)
	m.mu.Unlock()

	m.notify(change)
	return true, nil
}

// ApplyServerUpdate patches status (and the bid window, when given) from an
// inbound frame. Unknown orders are created.
func (m *Machine) ApplyServerUpdate(u ServerUpdate) (model.Order, error) {
	if u.OrderID == "" {
		return model.Order{}, model.ErrMissingID
	}

	m.mu.Lock()
	var next model.Order
	if e, ok := m.orders[u.OrderID]; ok {
		next = e.order.Clone()
	} else {
		next = model.Order{ID: u.OrderID}
	}
	next.Status = u.Status
	if u.BidAcceptedAt != nil || u.ExpiresAt != nil {
		next.BidAcceptedAt = u.BidAcceptedAt
		next.ExpiresAt = u.ExpiresAt
	}
	next.UpdatedAt = m.clock.Now()

	if err := next.Validate(); err != nil {
		m.mu.Unlock()
		return model.Order{}, fmt.Errorf("order %q: %w", u.OrderID, err)
	}
	change := m.putLocked(next, SourceServer)
	m.mu.Unlock()

	m.notify(change)
	return next.Clone(), nil
}

// Propose validates a user action against the current time and applies it
// optimistically. The returned Pending must be passed to Confirm or
// Rollback once the REST call completes.
func (m *Machine) Propose(id string, to model.OrderStatus, trigger Trigger) (Pending, error) {
	m.mu.Lock()
	e, ok := m.orders[id]
	if !ok {
		m.mu.Unlock()
		return Pending{}, fmt.Errorf("%w: %s", ErrUnknownOrder, id)
	}

	now := m.clock.Now()
	if err := Check(e.order, to, trigger, now); err != nil {
		m.mu.Unlock()
		return Pending{}, err
	}

	p := &Pending{
		ID:        uuid.NewString(),
		OrderID:   id,
		From:      e.order.Status,
		To:        to,
		Trigger:   trigger,
		StartedAt: now,
	}
	prev := e.order.Status
	e.order.Status = to
	e.order.UpdatedAt = now
	e.pending = p
	e.version++
	change := Change{Order: e.order.Clone(), Prev: prev, Source: SourceOptimistic, Version: e.version}
	m.mu.Unlock()

	m.logger.Debug("optimistic transition", "order_id", id, "from", prev, "to", to, "pending_id", p.ID)
	m.notify(change)
	return *p, nil
}

// Confirm marks p as accepted by the server. It reports false if a server
// update already superseded it.
func (m *Machine) Confirm(p Pending) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.orders[p.OrderID]
	if !ok || e.pending == nil || e.pending.ID != p.ID {
		return false
	}
	e.pending = nil
	return true
}

// Rollback restores the status p replaced. It reports false, and changes
// nothing, if a server update superseded p.
func (m *Machine) Rollback(p Pending) bool {
	m.mu.Lock()
	e, ok := m.orders[p.OrderID]
	if !ok || e.pending == nil || e.pending.ID != p.ID {
		m.mu.Unlock()
		return false
	}
	e.order.Status = p.From
	e.order.UpdatedAt = m.clock.Now()
	e.pending = nil
	e.version++
	change := Change{Order: e.order.Clone(), Prev: p.To, Source: SourceRollback, Version: e.version}
	m.mu.Unlock()

	m.logger.Info("optimistic transition rolled back", "order_id", p.OrderID, "from", p.To, "to", p.From)
	m.notify(change)
	return true
}

// Transition validates and applies a transition that needs no server
// round trip, such as an external payment capture.
func (m *Machine) Transition(id string, to model.OrderStatus, trigger Trigger) (model.Order, error) {
	m.mu.Lock()
	e, ok := m.orders[id]
	if !ok {
		m.mu.Unlock()
		return model.Order{}, fmt.Errorf("%w: %s", ErrUnknownOrder, id)
	}
	if err := Check(e.order, to, trigger, m.clock.Now()); err != nil {
		m.mu.Unlock()
		return model.Order{}, err
	}
	next := e.order.Clone()
	next.Status = to
	next.UpdatedAt = m.clock.Now()
	change := m.putLocked(next, SourceLocal)
	m.mu.Unlock()

	m.notify(change)
	return next, nil
}

// putLocked stores o, clearing any pending action. Caller holds m.mu.
func (m *Machine) putLocked(o model.Order, source Source) Change {
	e, ok := m.orders[o.ID]
	if !ok {
		e = &entry{}
		m.orders[o.ID] = e
	}
	prev := e.order.Status
	if e.pending != nil {
		m.logger.Debug("server update supersedes optimistic transition",
			"order_id", o.ID,
			"pending_to", e.pending.To,
			"server_status", o.Status,
		)
	}
	e.order = o.Clone()
	e.pending = nil
	e.version++
	m.mark++
	e.written = m.mark
	return Change{Order: o.Clone(), Prev: prev, Source: source, Version: e.version}
}

func (m *Machine) notify(changes ...Change) {
	if len(changes) == 0 {
		return
	}
	m.mu.RLock()
	fns := make([]func(Change), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.RUnlock()

	for _, c := range changes {
		for _, fn := range fns {
			fn(c)
		}
	}
}
