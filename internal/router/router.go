package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/freightline/internal/connection"
	"github.com/rickgao/freightline/internal/model"
)

// Errors
var (
	ErrMissingType   = errors.New("frame has no type")
	ErrInvalidStatus = errors.New("frame carries an invalid order status")
	ErrInvalidWindow = errors.New("frame carries an incomplete bid window")
)

// Router classifies raw frames and dispatches them to a Handler.
type Router interface {
	// Dispatch parses one frame and calls exactly one handler method.
	// Malformed frames are logged and dropped.
	Dispatch(msg connection.TimestampedMessage)

	// History returns the most recent parsed messages, oldest first.
	History() []Message

	// Stats returns current router statistics.
	Stats() RouterStats
}

// router is the internal implementation.
type router struct {
	cfg     RouterConfig
	handler Handler
	logger  *slog.Logger
	history *History[Message]

	// Dispatch is serialized so handlers observe frames in receive order.
	dispatchMu sync.Mutex

	mu              sync.RWMutex
	received        int64
	routed          int64
	parseErrors     int64
	unknownMessages int64
}

// NewRouter creates a new Message Router.
func NewRouter(cfg RouterConfig, handler Handler, logger *slog.Logger) Router {
	if logger == nil {
		logger = slog.Default()
	}
	if handler == nil {
		handler = NoOpHandler{}
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultRouterConfig().HistorySize
	}

	return &router{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("component", "router"),
		history: NewHistory[Message](cfg.HistorySize),
	}
}

// Dispatch parses and routes a single frame.
func (r *router) Dispatch(raw connection.TimestampedMessage) {
	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()

	r.mu.Lock()
	r.received++
	r.mu.Unlock()

	msg, err := Parse(raw.Data, raw.ReceivedAt)
	if err != nil {
		r.logger.Warn("dropping malformed frame", "error", err, "size", len(raw.Data))
		r.mu.Lock()
		r.parseErrors++
		r.mu.Unlock()
		return
	}

	r.history.Push(msg)

	if u, ok := msg.(Unknown); ok {
		r.logger.Debug("unknown message type", "type", u.RawType)
		r.mu.Lock()
		r.unknownMessages++
		r.mu.Unlock()
	}

	Visit(msg, r.handler)

	r.mu.Lock()
	r.routed++
	r.mu.Unlock()
}

// History returns the retained messages.
func (r *router) History() []Message {
	return r.history.Snapshot()
}

// Stats returns current statistics.
func (r *router) Stats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return RouterStats{
		MessagesReceived: r.received,
		MessagesRouted:   r.routed,
		ParseErrors:      r.parseErrors,
		UnknownMessages:  r.unknownMessages,
		History:          r.history.Stats(),
	}
}

// Parse decodes one frame into a Message.
func Parse(data []byte, receivedAt time.Time) (Message, error) {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if wire.Type == "" {
		return nil, ErrMissingType
	}

	header := Header{
		Text:       wire.Message,
		OrderID:    wire.OrderID,
		ReceivedAt: receivedAt,
	}
	// An unreadable timestamp leaves SentAt zero.
	if t, ok := parseTime(wire.Timestamp); ok {
		header.SentAt = t
	}

	switch wire.Type {
	case TypeBidAccepted:
		if present(wire.BidAcceptedAt) != present(wire.ExpiresAt) {
			return nil, ErrInvalidWindow
		}
		m := BidAccepted{Header: header, BidID: wire.BidID}
		// A window that cannot be read is dropped whole; the order is
		// then fetched over REST.
		acceptedAt, okAccepted := parseTime(wire.BidAcceptedAt)
		expiresAt, okExpires := parseTime(wire.ExpiresAt)
		if okAccepted && okExpires {
			m.BidAcceptedAt = &acceptedAt
			m.ExpiresAt = &expiresAt
		}
		return m, nil

	case TypeOrderAccepted:
		return OrderAccepted{Header: header}, nil

	case TypeOrderDeclined:
		return OrderDeclined{Header: header}, nil

	case TypeOrderStatusUpdated:
		status := model.OrderStatus(wire.Status)
		if !status.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, wire.Status)
		}
		return OrderStatusUpdated{Header: header, Status: status}, nil

	case TypeOrderCompleted:
		return OrderCompleted{Header: header}, nil

	default:
		payload := make(json.RawMessage, len(data))
		copy(payload, data)
		return Unknown{
			RawType:    wire.Type,
			RawPayload: payload,
			ReceivedAt: receivedAt,
		}, nil
	}
}
