package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/freightline/internal/api"
	"github.com/rickgao/freightline/internal/clock"
	"github.com/rickgao/freightline/internal/model"
	"github.com/rickgao/freightline/internal/router"
)

// ErrInvalidWindow is returned when a bid acceptance window is out of range.
var ErrInvalidWindow = errors.New("bid acceptance window out of range")

// Backend is the REST surface the coordinator calls.
type Backend interface {
	ListOrders(ctx context.Context) ([]model.Order, error)
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status model.OrderStatus) error
	RespondToBid(ctx context.Context, orderID, action string) error
	AcceptBid(ctx context.Context, bidID string, expiryMinutes int) error
}

// CoordinatorConfig bounds the bid acceptance window.
type CoordinatorConfig struct {
	BidWindowMin time.Duration
	BidWindowMax time.Duration
	FetchTimeout time.Duration // per-order refresh triggered by a frame
}

// DefaultCoordinatorConfig returns default bounds.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		BidWindowMin: time.Minute,
		BidWindowMax: 24 * time.Hour,
		FetchTimeout: 30 * time.Second,
	}
}

// View is the display projection of one order.
type View struct {
	Order     model.Order       `json:"order"`
	Effective model.OrderStatus `json:"effective_status"`
	Actions   []Action          `json:"actions"`
	Pending   bool              `json:"pending"`
}

// Coordinator applies user actions to the Machine and the REST backend,
// and applies routed frames as server updates.
type Coordinator struct {
	router.NoOpHandler

	cfg     CoordinatorConfig
	machine *Machine
	backend Backend
	clock   clock.Clock
	logger  *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg CoordinatorConfig, machine *Machine, backend Backend, clk clock.Clock, logger *slog.Logger) *Coordinator {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultCoordinatorConfig().FetchTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:     cfg,
		machine: machine,
		backend: backend,
		clock:   clk,
		logger:  logger.With("component", "coordinator"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Machine returns the underlying order cache.
func (c *Coordinator) Machine() *Machine { return c.machine }

// Stop cancels background fetches and waits for them.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ChangeStatus requests an explicit status change. Eligibility is checked
// again against the clock immediately before the request is sent.
func (c *Coordinator) ChangeStatus(ctx context.Context, orderID string, to model.OrderStatus) error {
	return c.act(ctx, orderID, to, TriggerStatusChange, func(ctx context.Context) error {
		return c.backend.UpdateOrderStatus(ctx, orderID, to)
	})
}

// Accept confirms a shipper-accepted bid as the driver.
func (c *Coordinator) Accept(ctx context.Context, orderID string) error {
	return c.act(ctx, orderID, model.OrderDriverAccepted, TriggerAccept, func(ctx context.Context) error {
		return c.backend.RespondToBid(ctx, orderID, api.ActionAccept)
	})
}

// Decline rejects a shipper-accepted bid as the driver.
func (c *Coordinator) Decline(ctx context.Context, orderID string) error {
	return c.act(ctx, orderID, model.OrderDriverRejected, TriggerDecline, func(ctx context.Context) error {
		return c.backend.RespondToBid(ctx, orderID, api.ActionDecline)
	})
}

func (c *Coordinator) act(ctx context.Context, orderID string, to model.OrderStatus, trigger Trigger, send func(context.Context) error) error {
	p, err := c.machine.Propose(orderID, to, trigger)
	if err != nil {
		c.logger.Info("action rejected", "order_id", orderID, "to", to, "error", err)
		return err
	}

	if err := send(ctx); err != nil {
		rolledBack := c.machine.Rollback(p)
		c.logger.Warn("action failed",
			"order_id", orderID,
			"to", to,
			"rolled_back", rolledBack,
			"error", err,
		)
		return fmt.Errorf("%s order %s: %w", trigger, orderID, err)
	}

	if !c.machine.Confirm(p) {
		c.logger.Debug("action superseded by server update", "order_id", orderID, "to", to)
	}
	return nil
}

// AcceptBid accepts a bid as the shipper, opening a commitment window.
// The resulting order state arrives later as a bid_accepted frame.
func (c *Coordinator) AcceptBid(ctx context.Context, bidID string, window time.Duration) error {
	if window < c.cfg.BidWindowMin || (c.cfg.BidWindowMax > 0 && window > c.cfg.BidWindowMax) {
		return fmt.Errorf("%w: %v not in [%v, %v]", ErrInvalidWindow, window, c.cfg.BidWindowMin, c.cfg.BidWindowMax)
	}
	minutes := int(window / time.Minute)
	if minutes < 1 {
		return fmt.Errorf("%w: %v is under one minute", ErrInvalidWindow, window)
	}
	if err := c.backend.AcceptBid(ctx, bidID, minutes); err != nil {
		return err
	}
	c.logger.Info("bid accepted", "bid_id", bidID, "window_minutes", minutes)
	return nil
}

// ConfirmPayment records an external payment capture (delivered ->
// completed).
func (c *Coordinator) ConfirmPayment(orderID string) error {
	_, err := c.machine.Transition(orderID, model.OrderCompleted, TriggerPaymentCapture)
	return err
}

// Refresh replaces the cache with a REST snapshot. Orders updated by a
// frame while the request was in flight keep the frame's state.
func (c *Coordinator) Refresh(ctx context.Context) error {
	mark := c.machine.Mark()
	orders, err := c.backend.ListOrders(ctx)
	if err != nil {
		return err
	}
	kept, err := c.machine.ReplaceSince(mark, orders)
	if err != nil {
		return err
	}
	c.logger.Debug("orders refreshed", "count", len(orders), "kept_newer", kept)
	return nil
}

// RefreshOrder re-fetches one order.
func (c *Coordinator) RefreshOrder(ctx context.Context, orderID string) error {
	mark := c.machine.Mark()
	o, err := c.backend.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	applied, err := c.machine.ApplyServerSince(mark, *o)
	if err == nil && !applied {
		c.logger.Debug("fetched order older than cache", "order_id", orderID)
	}
	return err
}

// Views returns the display projection of every order at now.
func (c *Coordinator) Views() []View {
	now := c.clock.Now()
	orders := c.machine.List()
	views := make([]View, len(orders))
	for i, o := range orders {
		_, pending := c.machine.PendingFor(o.ID)
		views[i] = View{
			Order:     o,
			Effective: EffectiveStatus(o, now),
			Actions:   AvailableActions(o, now),
			Pending:   pending,
		}
	}
	return views
}

// Frame handlers. They run on the dispatch path and never block.

func (c *Coordinator) OnBidAccepted(m router.BidAccepted) {
	if m.OrderID == "" {
		return
	}
	if m.ExpiresAt == nil {
		// Window not in the frame; fetch the full record.
		c.fetchAsync(m.OrderID)
		return
	}
	c.applyFrame(m.Type(), ServerUpdate{
		OrderID:       m.OrderID,
		Status:        model.OrderBidAccepted,
		BidAcceptedAt: m.BidAcceptedAt,
		ExpiresAt:     m.ExpiresAt,
	})
}

func (c *Coordinator) OnOrderAccepted(m router.OrderAccepted) {
	c.applyStatus(m.Type(), m.OrderID, model.OrderDriverAccepted)
}

func (c *Coordinator) OnOrderDeclined(m router.OrderDeclined) {
	c.applyStatus(m.Type(), m.OrderID, model.OrderDriverRejected)
}

func (c *Coordinator) OnOrderStatusUpdated(m router.OrderStatusUpdated) {
	c.applyStatus(m.Type(), m.OrderID, m.Status)
}

func (c *Coordinator) OnOrderCompleted(m router.OrderCompleted) {
	c.applyStatus(m.Type(), m.OrderID, model.OrderCompleted)
}

func (c *Coordinator) applyStatus(msgType, orderID string, status model.OrderStatus) {
	if orderID == "" {
		return
	}
	c.applyFrame(msgType, ServerUpdate{OrderID: orderID, Status: status})
}

func (c *Coordinator) applyFrame(msgType string, u ServerUpdate) {
	if _, err := c.machine.ApplyServerUpdate(u); err != nil {
		// Frame cannot be applied on its own; the REST record is authoritative.
		c.logger.Warn("frame not applicable, fetching order",
			"type", msgType,
			"order_id", u.OrderID,
			"error", err,
		)
		c.fetchAsync(u.OrderID)
		return
	}
	c.logger.Debug("applied server frame", "type", msgType, "order_id", u.OrderID, "status", u.Status)
}

func (c *Coordinator) fetchAsync(orderID string) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.FetchTimeout)
		defer cancel()
		if err := c.RefreshOrder(ctx, orderID); err != nil {
			c.logger.Warn("order fetch failed", "order_id", orderID, "error", err)
		}
	}()
}
