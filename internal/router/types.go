package router

import (
	"encoding/json"
	"time"

	"github.com/rickgao/freightline/internal/model"
)

// Wire type discriminators.
const (
	TypeBidAccepted        = "bid_accepted"
	TypeOrderAccepted      = "order_accepted"
	TypeOrderDeclined      = "order_declined"
	TypeOrderStatusUpdated = "order_status_updated"
	TypeOrderCompleted     = "order_completed"
)

// RouterConfig holds configuration for the Message Router.
type RouterConfig struct {
	HistorySize int // Default: 50
}

// DefaultRouterConfig returns default configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		HistorySize: 50,
	}
}

// Message is one parsed inbound frame. The set of implementations is
// closed: BidAccepted, OrderAccepted, OrderDeclined, OrderStatusUpdated,
// OrderCompleted and Unknown.
type Message interface {
	Type() string
	Received() time.Time
	isMessage()
}

// Header carries the fields common to every known message.
type Header struct {
	Text       string    // human-readable notification text
	OrderID    string    // empty when the frame names no order
	SentAt     time.Time // server timestamp, zero if absent
	ReceivedAt time.Time
}

func (h Header) Received() time.Time { return h.ReceivedAt }
func (Header) isMessage()            {}

// BidAccepted reports that a shipper accepted a bid. When the frame
// carries the commitment window both timestamps are set.
type BidAccepted struct {
	Header
	BidID         string
	BidAcceptedAt *time.Time
	ExpiresAt     *time.Time
}

// OrderAccepted reports that the driver confirmed the order.
type OrderAccepted struct{ Header }

// OrderDeclined reports that the driver rejected the order.
type OrderDeclined struct{ Header }

// OrderStatusUpdated reports an authoritative status change.
type OrderStatusUpdated struct {
	Header
	Status model.OrderStatus
}

// OrderCompleted reports that payment was captured for a delivered order.
type OrderCompleted struct{ Header }

// Unknown is any frame with an unrecognized type. It is kept for
// notification history rather than treated as an error.
type Unknown struct {
	RawType    string
	RawPayload json.RawMessage
	ReceivedAt time.Time
}

func (BidAccepted) Type() string        { return TypeBidAccepted }
func (OrderAccepted) Type() string      { return TypeOrderAccepted }
func (OrderDeclined) Type() string      { return TypeOrderDeclined }
func (OrderStatusUpdated) Type() string { return TypeOrderStatusUpdated }
func (OrderCompleted) Type() string     { return TypeOrderCompleted }
func (u Unknown) Type() string          { return u.RawType }

func (u Unknown) Received() time.Time { return u.ReceivedAt }
func (Unknown) isMessage()            {}

// wireMessage is the JSON shape of every inbound frame.
type wireMessage struct {
	Type          string          `json:"type"`
	Message       string          `json:"message"`
	OrderID       string          `json:"order_id"`
	BidID         string          `json:"bid_id"`
	Status        string          `json:"status"`
	Timestamp     json.RawMessage `json:"timestamp"`
	BidAcceptedAt json.RawMessage `json:"bid_accepted_at"`
	ExpiresAt     json.RawMessage `json:"expires_at"`
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	MessagesReceived int64
	MessagesRouted   int64
	ParseErrors      int64
	UnknownMessages  int64
	History          BufferStats
}
