package router

// Handler receives routed messages, one method per known type. Adding a
// message type adds a method here, so every implementation must handle it.
// Methods run on the dispatch path and must not block.
type Handler interface {
	OnBidAccepted(BidAccepted)
	OnOrderAccepted(OrderAccepted)
	OnOrderDeclined(OrderDeclined)
	OnOrderStatusUpdated(OrderStatusUpdated)
	OnOrderCompleted(OrderCompleted)
	OnUnknown(Unknown)
}

// NoOpHandler implements Handler with empty methods. Embed it to handle
// only a subset of messages.
type NoOpHandler struct{}

func (NoOpHandler) OnBidAccepted(BidAccepted)               {}
func (NoOpHandler) OnOrderAccepted(OrderAccepted)           {}
func (NoOpHandler) OnOrderDeclined(OrderDeclined)           {}
func (NoOpHandler) OnOrderStatusUpdated(OrderStatusUpdated) {}
func (NoOpHandler) OnOrderCompleted(OrderCompleted)         {}
func (NoOpHandler) OnUnknown(Unknown)                       {}

// Visit calls exactly one method of h for m.
func Visit(m Message, h Handler) {
	switch m := m.(type) {
	case BidAccepted:
		h.OnBidAccepted(m)
	case OrderAccepted:
		h.OnOrderAccepted(m)
	case OrderDeclined:
		h.OnOrderDeclined(m)
	case OrderStatusUpdated:
		h.OnOrderStatusUpdated(m)
	case OrderCompleted:
		h.OnOrderCompleted(m)
	case Unknown:
		h.OnUnknown(m)
	}
}
