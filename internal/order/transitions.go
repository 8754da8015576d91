package order

import (
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/freightline/internal/model"
)

// Errors
var (
	ErrIllegalTransition = errors.New("illegal transition")
	ErrBidExpired        = errors.New("bid acceptance window has expired")
	ErrUnknownOrder      = errors.New("unknown order")
)

// Trigger is what causes a transition.
type Trigger int

const (
	TriggerStatusChange   Trigger = iota // explicit status-change action
	TriggerAccept                        // driver accepts the bid
	TriggerDecline                       // driver declines the bid
	TriggerPaymentCapture                // external payment confirmation
)

func (t Trigger) String() string {
	switch t {
	case TriggerStatusChange:
		return "status_change"
	case TriggerAccept:
		return "accept"
	case TriggerDecline:
		return "decline"
	case TriggerPaymentCapture:
		return "payment_capture"
	}
	return fmt.Sprintf("trigger(%d)", int(t))
}

// Action is one transition currently offered for an order.
type Action struct {
	To      model.OrderStatus `json:"to"`
	Trigger Trigger           `json:"-"`
	Name    string            `json:"trigger"`
}

// TransitionError explains a rejected transition.
type TransitionError struct {
	OrderID string
	From    model.OrderStatus
	To      model.OrderStatus
	Reason  error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %s: %s -> %s: %v", e.OrderID, e.From, e.To, e.Reason)
}

func (e *TransitionError) Unwrap() error { return e.Reason }

type edge struct {
	to      model.OrderStatus
	trigger Trigger
}

var progress = []model.OrderStatus{
	model.OrderInTransit,
	model.OrderDelivered,
	model.OrderCanceled,
	model.OrderPickedUp,
}

// transitions lists, per stored status, every legal edge in display order.
// Statuses absent from the map are terminal for this machine.
var transitions = map[model.OrderStatus][]edge{
	model.OrderPending:     statusChanges(progress...),
	model.OrderBidAccepted: append(statusChanges(progress...), edge{model.OrderDriverAccepted, TriggerAccept}, edge{model.OrderDriverRejected, TriggerDecline}),
	model.OrderInTransit:   statusChanges(model.OrderDelivered, model.OrderCanceled, model.OrderPickedUp),
	model.OrderPickedUp:    statusChanges(model.OrderDelivered, model.OrderCanceled),
	model.OrderDelivered:   {{model.OrderCompleted, TriggerPaymentCapture}},
}

func statusChanges(to ...model.OrderStatus) []edge {
	edges := make([]edge, len(to))
	for i, s := range to {
		edges[i] = edge{s, TriggerStatusChange}
	}
	return edges
}

// Allowed reports whether the table permits from -> to via trigger,
// ignoring expiry.
func Allowed(from, to model.OrderStatus, trigger Trigger) bool {
	for _, e := range transitions[from] {
		if e.to == to && e.trigger == trigger {
			return true
		}
	}
	return false
}

// IsExpired reports whether o is a bid_accepted order past its window.
func IsExpired(o model.Order, now time.Time) bool {
	return o.Status == model.OrderBidAccepted && o.ExpiresAt != nil && model.WindowClosed(*o.ExpiresAt, now)
}

// EffectiveStatus is the status to display and to decide eligibility on.
func EffectiveStatus(o model.Order, now time.Time) model.OrderStatus {
	if IsExpired(o, now) {
		return model.OrderExpired
	}
	return o.Status
}

// Check validates a transition of o at now.
func Check(o model.Order, to model.OrderStatus, trigger Trigger, now time.Time) error {
	if IsExpired(o, now) {
		return &TransitionError{OrderID: o.ID, From: model.OrderExpired, To: to, Reason: ErrBidExpired}
	}
	if !Allowed(o.Status, to, trigger) {
		return &TransitionError{
			OrderID: o.ID,
			From:    o.Status,
			To:      to,
			Reason:  fmt.Errorf("%w via %s", ErrIllegalTransition, trigger),
		}
	}
	return nil
}

// AvailableActions lists the user-facing transitions for o at now.
// Payment capture is external and never offered. Expired orders offer
// nothing.
func AvailableActions(o model.Order, now time.Time) []Action {
	if IsExpired(o, now) {
		return nil
	}
	var actions []Action
	for _, e := range transitions[o.Status] {
		if e.trigger == TriggerPaymentCapture {
			continue
		}
		actions = append(actions, Action{To: e.to, Trigger: e.trigger, Name: e.trigger.String()})
	}
	return actions
}
