package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/rickgao/freightline/internal/connection"
	"github.com/rickgao/freightline/internal/countdown"
	"github.com/rickgao/freightline/internal/model"
	"github.com/rickgao/freightline/internal/order"
	"github.com/rickgao/freightline/internal/poller"
	"github.com/rickgao/freightline/internal/router"
	"github.com/rickgao/freightline/internal/store"
)

// sessionStatus is the read side of connection.Session.
type sessionStatus interface {
	State() connection.State
	Attempt() int
	Err() error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// handlerDeps is everything the HTTP surface reads or drives. writer and
// db are nil when the projection store is disabled.
type handlerDeps struct {
	session sessionStatus
	router  router.Router
	coord   *order.Coordinator
	tracker *countdown.Tracker
	poller  func() poller.Stats
	writer  *store.Writer
	db      pinger
	bids    func(ctx context.Context, loadID string) ([]model.Bid, error)
	logger  *slog.Logger
}

func (a *agent) handler() http.Handler {
	deps := handlerDeps{
		session: a.session,
		router:  a.router,
		coord:   a.coord,
		tracker: a.tracker,
		poller:  a.poller.Stats,
		writer:  a.writer,
		bids:    a.client.ListBids,
		logger:  a.logger,
	}
	if a.pool != nil {
		deps.db = a.pool
	}
	return newHandler(deps)
}

func newHandler(d handlerDeps) http.Handler {
	if d.logger == nil {
		d.logger = slog.Default()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", d.health)
	mux.HandleFunc("GET /debug/orders", d.debugOrders)
	mux.HandleFunc("GET /debug/notifications", d.debugNotifications)

	mux.HandleFunc("POST /orders/{id}/status", d.changeStatus)
	mux.HandleFunc("POST /orders/{id}/accept", d.driverResponse(d.coord.Accept))
	mux.HandleFunc("POST /orders/{id}/decline", d.driverResponse(d.coord.Decline))
	mux.HandleFunc("POST /orders/{id}/payment", d.confirmPayment)
	mux.HandleFunc("POST /bids/{id}/accept", d.acceptBid)
	if d.bids != nil {
		mux.HandleFunc("GET /loads/{id}/bids", d.listBids)
	}

	return mux
}

type sessionHealth struct {
	State   string `json:"state"`
	Attempt int    `json:"attempt"`
	Error   string `json:"error,omitempty"`
}

func (d handlerDeps) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := struct {
		Status     string         `json:"status"`
		Components map[string]any `json:"components"`
	}{
		Status:     "healthy",
		Components: make(map[string]any),
	}

	state := d.session.State()
	sh := sessionHealth{State: state.String(), Attempt: d.session.Attempt()}
	if err := d.session.Err(); err != nil {
		sh.Error = err.Error()
	}
	health.Components["session"] = sh
	switch {
	case state == connection.StateClosed && sh.Error != "":
		health.Status = "unhealthy"
	case state != connection.StateOpen:
		health.Status = "degraded"
	}

	health.Components["orders"] = map[string]any{
		"count":      d.coord.Machine().Len(),
		"countdowns": d.tracker.Running(),
	}
	health.Components["router"] = d.router.Stats()
	health.Components["poller"] = d.poller()

	if d.db != nil {
		if err := d.db.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["postgres"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["postgres"] = "connected"
		}
	}
	if d.writer != nil {
		health.Components["projection_writer"] = map[string]any{
			"metrics": d.writer.Stats(),
			"queue":   d.writer.QueueStats(),
		}
	}

	code := http.StatusOK
	if health.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

type orderView struct {
	order.View
	Countdown *countdown.Projection `json:"countdown,omitempty"`
}

func (d handlerDeps) debugOrders(w http.ResponseWriter, r *http.Request) {
	views := d.coord.Views()
	out := make([]orderView, len(views))
	for i, v := range views {
		out[i] = orderView{View: v}
		if p, ok := d.tracker.Get(v.Order.ID); ok {
			out[i].Countdown = &p
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(out),
		"orders": out,
	})
}

type notification struct {
	Type       string    `json:"type"`
	OrderID    string    `json:"order_id,omitempty"`
	Text       string    `json:"text,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

func toNotification(m router.Message) notification {
	n := notification{Type: m.Type(), ReceivedAt: m.Received()}
	switch v := m.(type) {
	case router.BidAccepted:
		n.OrderID, n.Text = v.OrderID, v.Text
	case router.OrderAccepted:
		n.OrderID, n.Text = v.OrderID, v.Text
	case router.OrderDeclined:
		n.OrderID, n.Text = v.OrderID, v.Text
	case router.OrderStatusUpdated:
		n.OrderID, n.Text = v.OrderID, v.Text
	case router.OrderCompleted:
		n.OrderID, n.Text = v.OrderID, v.Text
	}
	return n
}

func (d handlerDeps) debugNotifications(w http.ResponseWriter, r *http.Request) {
	history := d.router.History()
	out := make([]notification, len(history))
	// Newest first.
	for i, m := range history {
		out[len(history)-1-i] = toNotification(m)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":         len(out),
		"notifications": out,
	})
}

func (d handlerDeps) changeStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status model.OrderStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Status == "" {
		writeError(w, http.StatusBadRequest, errors.New("body must be {\"status\": \"...\"}"))
		return
	}
	id := r.PathValue("id")
	d.respond(w, id, d.coord.ChangeStatus(r.Context(), id, body.Status))
}

func (d handlerDeps) driverResponse(fn func(context.Context, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		d.respond(w, id, fn(r.Context(), id))
	}
}

func (d handlerDeps) confirmPayment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	d.respond(w, id, d.coord.ConfirmPayment(id))
}

func (d handlerDeps) acceptBid(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Window string `json:"window"` // Go duration, e.g. "30m"
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	window, err := time.ParseDuration(body.Window)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := d.coord.AcceptBid(r.Context(), r.PathValue("id"), window); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type bidView struct {
	model.Bid
	Acceptable bool `json:"acceptable"`
}

func (d handlerDeps) listBids(w http.ResponseWriter, r *http.Request) {
	bids, err := d.bids(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	out := make([]bidView, len(bids))
	for i, b := range bids {
		out[i] = bidView{Bid: b, Acceptable: b.Acceptable()}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(out),
		"bids":  out,
	})
}

// respond writes the order's view after an action, or the error.
func (d handlerDeps) respond(w http.ResponseWriter, id string, err error) {
	if err != nil {
		code := statusFor(err)
		if code >= 500 {
			d.logger.Warn("order action failed", "order_id", id, "error", err)
		}
		writeError(w, code, err)
		return
	}
	for _, v := range d.coord.Views() {
		if v.Order.ID == id {
			writeJSON(w, http.StatusOK, v)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_id": id})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, order.ErrUnknownOrder):
		return http.StatusNotFound
	case errors.Is(err, order.ErrBidExpired), errors.Is(err, order.ErrIllegalTransition):
		return http.StatusConflict
	case errors.Is(err, order.ErrInvalidWindow):
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
