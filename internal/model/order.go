package model

import (
	"errors"
	"fmt"
	"time"
)

// OrderStatus is the stored lifecycle status of an order.
type OrderStatus string

const (
	OrderPending        OrderStatus = "pending"
	OrderBidAccepted    OrderStatus = "bid_accepted"
	OrderDriverAccepted OrderStatus = "driver_accepted"
	OrderDriverRejected OrderStatus = "driver_rejected"
	OrderPickedUp       OrderStatus = "picked_up"
	OrderInTransit      OrderStatus = "in_transit"
	OrderDelivered      OrderStatus = "delivered"
	OrderCompleted      OrderStatus = "completed"
	OrderCanceled       OrderStatus = "canceled"

	// OrderExpired is display-only. It is derived from a bid_accepted order
	// whose window has passed and is never stored.
	OrderExpired OrderStatus = "expired"
)

// Valid reports whether s may appear in a stored order record.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderBidAccepted, OrderDriverAccepted, OrderDriverRejected,
		OrderPickedUp, OrderInTransit, OrderDelivered, OrderCompleted, OrderCanceled:
		return true
	}
	return false
}

// Errors
var (
	ErrMissingID       = errors.New("order id is required")
	ErrInvalidStatus   = errors.New("invalid order status")
	ErrExpiryMismatch  = errors.New("bid_accepted_at and expires_at must both be set or both be absent")
	ErrMissingExpiry   = errors.New("bid_accepted order requires bid_accepted_at and expires_at")
	ErrExpiryBeforeBid = errors.New("expires_at must not precede bid_accepted_at")
)

// Order is the client's cached projection of a posted load.
type Order struct {
	ID            string      `json:"id"`
	Status        OrderStatus `json:"status"`
	BidAcceptedAt *time.Time  `json:"bid_accepted_at,omitempty"`
	ExpiresAt     *time.Time  `json:"expires_at,omitempty"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// WindowClosed reports whether a bid-accepted window ending at expiresAt
// is over at now. The deadline instant itself counts as closed, so a
// countdown reading zero never coexists with an offered action.
func WindowClosed(expiresAt, now time.Time) bool {
	return !now.Before(expiresAt)
}

// HasExpiry reports whether the order carries a bid-accepted window.
func (o Order) HasExpiry() bool {
	return o.BidAcceptedAt != nil && o.ExpiresAt != nil
}

// Validate checks the record invariants.
func (o Order) Validate() error {
	if o.ID == "" {
		return ErrMissingID
	}
	if !o.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, o.Status)
	}
	if (o.BidAcceptedAt == nil) != (o.ExpiresAt == nil) {
		return ErrExpiryMismatch
	}
	if o.Status == OrderBidAccepted && !o.HasExpiry() {
		return ErrMissingExpiry
	}
	if o.HasExpiry() && o.ExpiresAt.Before(*o.BidAcceptedAt) {
		return ErrExpiryBeforeBid
	}
	return nil
}

// Clone returns a deep copy so cached records are never aliased.
func (o Order) Clone() Order {
	c := o
	if o.BidAcceptedAt != nil {
		t := *o.BidAcceptedAt
		c.BidAcceptedAt = &t
	}
	if o.ExpiresAt != nil {
		t := *o.ExpiresAt
		c.ExpiresAt = &t
	}
	return c
}
