package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/freightline/internal/clock"
	"github.com/rickgao/freightline/internal/connection"
	"github.com/rickgao/freightline/internal/countdown"
	"github.com/rickgao/freightline/internal/model"
	"github.com/rickgao/freightline/internal/order"
	"github.com/rickgao/freightline/internal/poller"
	"github.com/rickgao/freightline/internal/router"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeSession struct {
	state   connection.State
	attempt int
	err     error
}

func (s fakeSession) State() connection.State { return s.state }
func (s fakeSession) Attempt() int            { return s.attempt }
func (s fakeSession) Err() error              { return s.err }

type fakeBackend struct {
	mu    sync.Mutex
	calls []string
}

func (b *fakeBackend) record(c string) {
	b.mu.Lock()
	b.calls = append(b.calls, c)
	b.mu.Unlock()
}

func (b *fakeBackend) ListOrders(context.Context) ([]model.Order, error) { return nil, nil }
func (b *fakeBackend) GetOrder(_ context.Context, id string) (*model.Order, error) {
	return nil, errors.New("not found")
}
func (b *fakeBackend) UpdateOrderStatus(_ context.Context, id string, s model.OrderStatus) error {
	b.record("status " + id + " " + string(s))
	return nil
}
func (b *fakeBackend) RespondToBid(_ context.Context, id, action string) error {
	b.record(action + " " + id)
	return nil
}
func (b *fakeBackend) AcceptBid(_ context.Context, id string, minutes int) error {
	b.record("accept_bid " + id)
	return nil
}

type testEnv struct {
	handler http.Handler
	machine *order.Machine
	router  router.Router
	backend *fakeBackend
}

func newTestEnv(t *testing.T, sess fakeSession, opts ...func(*handlerDeps)) *testEnv {
	t.Helper()
	clk := clock.NewFake(now)
	backend := &fakeBackend{}
	m := order.NewMachine(clk, nil)
	coord := order.NewCoordinator(order.DefaultCoordinatorConfig(), m, backend, clk, nil)
	t.Cleanup(func() { coord.Stop(context.Background()) })

	tracker := countdown.NewTracker(clk, nil, nil)
	tracker.Follow(m)
	t.Cleanup(tracker.Close)

	rtr := router.NewRouter(router.DefaultRouterConfig(), coord, nil)
	deps := handlerDeps{
		session: sess,
		router:  rtr,
		coord:   coord,
		tracker: tracker,
		poller:  func() poller.Stats { return poller.Stats{Polls: 3} },
	}
	for _, opt := range opts {
		opt(&deps)
	}
	h := newHandler(deps)
	return &testEnv{handler: h, machine: m, router: rtr, backend: backend}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s %s: %v (%s)", method, path, err, rec.Body.String())
	}
	return rec, out
}

func window(id string, accepted time.Time, d time.Duration) model.Order {
	exp := accepted.Add(d)
	return model.Order{ID: id, Status: model.OrderBidAccepted, BidAcceptedAt: &accepted, ExpiresAt: &exp}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		session    fakeSession
		wantCode   int
		wantStatus string
	}{
		{"open", fakeSession{state: connection.StateOpen}, http.StatusOK, "healthy"},
		{"reconnecting", fakeSession{state: connection.StateDisconnected, attempt: 2}, http.StatusOK, "degraded"},
		{"manually closed", fakeSession{state: connection.StateClosed}, http.StatusOK, "degraded"},
		{"failed", fakeSession{state: connection.StateClosed, attempt: 6, err: connection.ErrRetriesExhausted}, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.session)
			rec, body := env.do(t, http.MethodGet, "/health", "")

			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if body["status"] != tt.wantStatus {
				t.Errorf("status = %v, want %s", body["status"], tt.wantStatus)
			}
			session := body["components"].(map[string]any)["session"].(map[string]any)
			if session["state"] != tt.session.state.String() {
				t.Errorf("session.state = %v", session["state"])
			}
		})
	}
}

func TestDebugOrders(t *testing.T) {
	env := newTestEnv(t, fakeSession{state: connection.StateOpen})
	env.machine.ApplyServer(window("live", now, 15*time.Minute))
	env.machine.ApplyServer(window("stale", now.Add(-time.Hour), 30*time.Minute))

	_, body := env.do(t, http.MethodGet, "/debug/orders", "")
	orders := body["orders"].([]any)
	if len(orders) != 2 {
		t.Fatalf("orders = %d, want 2", len(orders))
	}

	live := orders[0].(map[string]any)
	if live["effective_status"] != "bid_accepted" {
		t.Errorf("live effective_status = %v", live["effective_status"])
	}
	cd := live["countdown"].(map[string]any)
	if cd["urgency"] != "warning" || cd["label"] != "15m 00s" {
		t.Errorf("live countdown = %v", cd)
	}

	stale := orders[1].(map[string]any)
	if stale["effective_status"] != "expired" {
		t.Errorf("stale effective_status = %v", stale["effective_status"])
	}
	if stale["actions"] != nil {
		t.Errorf("stale actions = %v, want none", stale["actions"])
	}
}

func TestOrderActions(t *testing.T) {
	tests := []struct {
		name     string
		seed     model.Order
		path     string
		body     string
		wantCode int
		wantCall string
	}{
		{"status change", model.Order{ID: "a", Status: model.OrderInTransit}, "/orders/a/status", `{"status":"delivered"}`, http.StatusOK, "status a delivered"},
		{"illegal status", model.Order{ID: "a", Status: model.OrderCanceled}, "/orders/a/status", `{"status":"delivered"}`, http.StatusConflict, ""},
		{"bad body", model.Order{ID: "a", Status: model.OrderInTransit}, "/orders/a/status", `{}`, http.StatusBadRequest, ""},
		{"accept", window("a", now, time.Hour), "/orders/a/accept", "", http.StatusOK, "accept a"},
		{"decline", window("a", now, time.Hour), "/orders/a/decline", "", http.StatusOK, "decline a"},
		{"expired accept", window("a", now.Add(-2*time.Hour), time.Hour), "/orders/a/accept", "", http.StatusConflict, ""},
		{"unknown order", model.Order{ID: "a", Status: model.OrderPending}, "/orders/zzz/accept", "", http.StatusNotFound, ""},
		{"payment", model.Order{ID: "a", Status: model.OrderDelivered}, "/orders/a/payment", "", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, fakeSession{state: connection.StateOpen})
			env.machine.ApplyServer(tt.seed)

			rec, body := env.do(t, http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d: %v", rec.Code, tt.wantCode, body)
			}

			env.backend.mu.Lock()
			calls := env.backend.calls
			env.backend.mu.Unlock()
			if tt.wantCall == "" {
				if len(calls) != 0 {
					t.Errorf("unexpected backend calls: %v", calls)
				}
				return
			}
			if len(calls) != 1 || calls[0] != tt.wantCall {
				t.Errorf("calls = %v, want [%s]", calls, tt.wantCall)
			}
		})
	}
}

func TestAcceptBid(t *testing.T) {
	env := newTestEnv(t, fakeSession{state: connection.StateOpen})

	rec, _ := env.do(t, http.MethodPost, "/bids/b1/accept", `{"window":"30s"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("short window code = %d, want 400", rec.Code)
	}
	rec, _ = env.do(t, http.MethodPost, "/bids/b1/accept", `{"window":"soon"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unparseable window code = %d, want 400", rec.Code)
	}
	rec, _ = env.do(t, http.MethodPost, "/bids/b1/accept", `{"window":"30m"}`)
	if rec.Code != http.StatusAccepted {
		t.Errorf("code = %d, want 202", rec.Code)
	}
}

func TestListBids(t *testing.T) {
	env := newTestEnv(t, fakeSession{state: connection.StateOpen}, func(d *handlerDeps) {
		d.bids = func(_ context.Context, loadID string) ([]model.Bid, error) {
			if loadID != "l1" {
				return nil, errors.New("upstream unavailable")
			}
			return []model.Bid{
				{ID: "b1", LoadID: "l1", AmountCents: 125000, Status: model.BidPending},
				{ID: "b2", LoadID: "l1", AmountCents: 99000, Status: model.BidDeclined},
			}, nil
		}
	})

	rec, out := env.do(t, http.MethodGet, "/loads/l1/bids", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}
	bids := out["bids"].([]any)
	if len(bids) != 2 {
		t.Fatalf("bids = %d, want 2", len(bids))
	}
	if b := bids[0].(map[string]any); b["acceptable"] != true {
		t.Errorf("pending bid acceptable = %v, want true", b["acceptable"])
	}
	if b := bids[1].(map[string]any); b["acceptable"] != false {
		t.Errorf("declined bid acceptable = %v, want false", b["acceptable"])
	}

	rec, _ = env.do(t, http.MethodGet, "/loads/l2/bids", "")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("failed upstream code = %d, want 502", rec.Code)
	}
}

func TestDebugNotifications(t *testing.T) {
	env := newTestEnv(t, fakeSession{state: connection.StateOpen})
	env.router.Dispatch(connection.TimestampedMessage{
		Data:       []byte(`{"type":"order_accepted","message":"Driver confirmed","order_id":"a"}`),
		ReceivedAt: now,
	})
	env.router.Dispatch(connection.TimestampedMessage{
		Data:       []byte(`{"type":"promo","message":"hello"}`),
		ReceivedAt: now.Add(time.Second),
	})

	_, body := env.do(t, http.MethodGet, "/debug/notifications", "")
	list := body["notifications"].([]any)
	if len(list) != 2 {
		t.Fatalf("notifications = %d, want 2", len(list))
	}
	first := list[0].(map[string]any)
	second := list[1].(map[string]any)
	if first["type"] != "promo" {
		t.Errorf("newest = %v, want promo", first["type"])
	}
	if second["order_id"] != "a" || second["text"] != "Driver confirmed" {
		t.Errorf("oldest = %v", second)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]string{
		"debug": "DEBUG",
		"WARN":  "WARN",
		"error": "ERROR",
		"info":  "INFO",
		"":      "INFO",
	}
	for in, want := range tests {
		if got := parseLevel(in).String(); got != want {
			t.Errorf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
