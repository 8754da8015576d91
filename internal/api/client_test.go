package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/freightline/internal/model"
)

func staticToken(token string) TokenFunc {
	return func() string { return token }
}

// TestNewClient tests client construction with various options.
func TestNewClient(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		c := NewClient("https://api.example.com", staticToken("tok"))

		if c.baseURL != "https://api.example.com" {
			t.Errorf("baseURL = %q, want %q", c.baseURL, "https://api.example.com")
		}
		if c.httpClient.Timeout != 30*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 30*time.Second)
		}
		if c.maxRetries != 3 {
			t.Errorf("maxRetries = %d, want %d", c.maxRetries, 3)
		}
		if c.retryBackoff != time.Second {
			t.Errorf("retryBackoff = %v, want %v", c.retryBackoff, time.Second)
		}
		if c.logger == nil {
			t.Error("logger should not be nil")
		}
	})

	t.Run("with multiple options", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		hc := &http.Client{}
		c := NewClient("https://api.example.com", nil,
			WithHTTPClient(hc),
			WithTimeout(15*time.Second),
			WithRetries(10, 500*time.Millisecond),
			WithLogger(logger),
		)
		if c.httpClient != hc {
			t.Error("custom HTTP client not set")
		}
		if c.httpClient.Timeout != 15*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 15*time.Second)
		}
		if c.maxRetries != 10 {
			t.Errorf("maxRetries = %d, want %d", c.maxRetries, 10)
		}
		if c.retryBackoff != 500*time.Millisecond {
			t.Errorf("retryBackoff = %v, want %v", c.retryBackoff, 500*time.Millisecond)
		}
		if c.logger == nil {
			t.Error("logger should not be nil")
		}
	})

	t.Run("trims trailing slash", func(t *testing.T) {
		c := NewClient("https://api.example.com/v1/", nil)
		if c.baseURL != "https://api.example.com/v1" {
			t.Errorf("baseURL = %q", c.baseURL)
		}
	})

	t.Run("ignores invalid values", func(t *testing.T) {
		c := NewClient("https://api.example.com", nil,
			WithTimeout(0),
			WithRetries(-1, 0),
			WithLogger(nil),
		)
		if c.httpClient.Timeout != 30*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 30*time.Second)
		}
		if c.maxRetries != 3 || c.retryBackoff != time.Second {
			t.Errorf("retries = %d/%v, want 3/1s", c.maxRetries, c.retryBackoff)
		}
		if c.logger == nil {
			t.Error("logger should not be nil")
		}
	})
}

// TestAPIError tests the APIError type.
func TestAPIError(t *testing.T) {
	t.Run("Error method", func(t *testing.T) {
		err := &APIError{StatusCode: 404, Message: "Not Found"}
		expected := "marketplace api error 404: Not Found"
		if err.Error() != expected {
			t.Errorf("Error() = %q, want %q", err.Error(), expected)
		}
	})

	t.Run("classification", func(t *testing.T) {
		tests := []struct {
			code      int
			retryable bool
			auth      bool
		}{
			{500, true, false},
			{503, true, false},
			{429, true, false},
			{400, false, false},
			{401, false, true},
			{403, false, false},
			{404, false, false},
		}

		for _, tt := range tests {
			err := &APIError{StatusCode: tt.code}
			if got := err.IsRetryable(); got != tt.retryable {
				t.Errorf("IsRetryable() for status %d = %v, want %v", tt.code, got, tt.retryable)
			}
			if got := err.IsAuthFailure(); got != tt.auth {
				t.Errorf("IsAuthFailure() for status %d = %v, want %v", tt.code, got, tt.auth)
			}
		}
	})

	t.Run("IsAuthFailure unwraps", func(t *testing.T) {
		wrapped := errors.Join(errors.New("context"), &APIError{StatusCode: 401})
		if !IsAuthFailure(wrapped) {
			t.Error("IsAuthFailure should see through wrapping")
		}
		if IsAuthFailure(errors.New("plain")) {
			t.Error("IsAuthFailure on plain error should be false")
		}
	})
}

// TestDoRequest tests the HTTP request functionality.
func TestDoRequest(t *testing.T) {
	t.Run("bearer token read per request", func(t *testing.T) {
		var seen []string
		var mu sync.Mutex
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			seen = append(seen, r.Header.Get("Authorization"))
			mu.Unlock()
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		token := "first"
		c := NewClient(server.URL, func() string { return token })

		if _, err := c.doRequest(context.Background(), call{method: http.MethodGet, path: "/x"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		token = "second"
		if _, err := c.doRequest(context.Background(), call{method: http.MethodGet, path: "/x"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(seen) != 2 || seen[0] != "Bearer first" || seen[1] != "Bearer second" {
			t.Errorf("Authorization headers = %v", seen)
		}
	})

	t.Run("anonymous call omits token", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get("Authorization"); got != "" {
				t.Errorf("Authorization header should be empty, got %q", got)
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, staticToken("tok"))
		if _, err := c.doRequest(context.Background(), call{method: http.MethodPost, path: "/x", anonymous: true}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("4xx error returns APIError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error": "not found"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, nil)
		_, err := c.doRequest(context.Background(), call{method: http.MethodGet, path: "/x"})

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %T", err)
		}
		if apiErr.StatusCode != 404 {
			t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, 404)
		}
		if !strings.Contains(string(apiErr.Body), "not found") {
			t.Errorf("Body should contain 'not found', got %q", string(apiErr.Body))
		}
	})
}

// TestDoWithRetry tests the retry logic.
func TestDoWithRetry(t *testing.T) {
	t.Run("retries on 5xx with stable request id", func(t *testing.T) {
		var attempts int32
		var mu sync.Mutex
		ids := map[string]int{}
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			ids[r.Header.Get(RequestIDHeader)]++
			mu.Unlock()
			if atomic.AddInt32(&attempts, 1) < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write([]byte(`{"ok": true}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, nil, WithRetries(3, 10*time.Millisecond))
		if _, err := c.doWithRetry(context.Background(), call{method: http.MethodPost, path: "/x"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
		if len(ids) != 1 {
			t.Errorf("distinct request ids = %d, want 1", len(ids))
		}
		for id := range ids {
			if id == "" {
				t.Error("request id header missing")
			}
		}
	})

	t.Run("does not retry on 4xx (except 429)", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusConflict)
		}))
		defer server.Close()

		c := NewClient(server.URL, nil, WithRetries(3, 10*time.Millisecond))
		if _, err := c.doWithRetry(context.Background(), call{method: http.MethodGet, path: "/x"}); err == nil {
			t.Fatal("expected error, got nil")
		}
		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
	})

	t.Run("max retries exceeded", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		c := NewClient(server.URL, nil, WithRetries(2, 10*time.Millisecond))
		_, err := c.doWithRetry(context.Background(), call{method: http.MethodGet, path: "/x"})
		if err == nil || !strings.Contains(err.Error(), "max retries exceeded") {
			t.Errorf("error should contain 'max retries exceeded', got %v", err)
		}
		// 1 initial + 2 retries = 3 attempts
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})
}

func TestRefreshToken(t *testing.T) {
	t.Run("rotates pair", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/auth/token/refresh" {
				t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			}
			if got := r.Header.Get("Authorization"); got != "" {
				t.Errorf("refresh must not send bearer token, got %q", got)
			}
			var req refreshRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.RefreshToken != "r1" {
				t.Errorf("refresh_token = %q, want r1", req.RefreshToken)
			}
			w.Write([]byte(`{"access_token":"a2","refresh_token":"r2"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, staticToken("a1"))
		pair, err := c.RefreshToken(context.Background(), "r1")
		if err != nil {
			t.Fatalf("RefreshToken failed: %v", err)
		}
		if pair.AccessToken != "a2" || pair.RefreshToken != "r2" {
			t.Errorf("pair = %+v", pair)
		}
	})

	t.Run("keeps refresh token when not rotated", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"access_token":"a2"}`))
		}))
		defer server.Close()

		pair, err := NewClient(server.URL, nil).RefreshToken(context.Background(), "r1")
		if err != nil {
			t.Fatalf("RefreshToken failed: %v", err)
		}
		if pair.RefreshToken != "r1" {
			t.Errorf("RefreshToken = %q, want r1", pair.RefreshToken)
		}
	})

	t.Run("rejected", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		_, err := NewClient(server.URL, nil).RefreshToken(context.Background(), "r1")
		if !IsAuthFailure(err) {
			t.Errorf("expected auth failure, got %v", err)
		}
	})

	t.Run("empty access token", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		_, err := NewClient(server.URL, nil).RefreshToken(context.Background(), "r1")
		if !errors.Is(err, ErrEmptyToken) {
			t.Errorf("error = %v, want ErrEmptyToken", err)
		}
	})
}

func TestOrderEndpoints(t *testing.T) {
	var lastMethod, lastPath, lastBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		lastMethod, lastPath, lastBody = r.Method, r.URL.Path, string(body)

		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/orders":
			w.Write([]byte(`{"orders":[{"id":"o1","status":"pending"},{"id":"o2","status":"bid_accepted","bid_accepted_at":"2026-03-01T10:00:00Z","expires_at":"2026-03-01T10:30:00Z"}]}`))
		case r.Method == http.MethodGet && r.URL.Path == "/orders/o2":
			w.Write([]byte(`{"order":{"id":"o2","status":"in_transit"}}`))
		case r.Method == http.MethodGet && r.URL.Path == "/loads/l1/bids":
			w.Write([]byte(`{"bids":[{"id":"b1","load_id":"l1","amount_cents":125000,"status":"pending"}]}`))
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer server.Close()

	c := NewClient(server.URL, staticToken("tok"))
	ctx := context.Background()

	orders, err := c.ListOrders(ctx)
	if err != nil {
		t.Fatalf("ListOrders failed: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("len(orders) = %d, want 2", len(orders))
	}
	if orders[1].Status != model.OrderBidAccepted || orders[1].ExpiresAt == nil {
		t.Errorf("orders[1] = %+v", orders[1])
	}
	if err := orders[1].Validate(); err != nil {
		t.Errorf("fetched order invalid: %v", err)
	}

	o, err := c.GetOrder(ctx, "o2")
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if o.Status != model.OrderInTransit {
		t.Errorf("Status = %s, want in_transit", o.Status)
	}

	if err := c.UpdateOrderStatus(ctx, "o1", model.OrderPickedUp); err != nil {
		t.Fatalf("UpdateOrderStatus failed: %v", err)
	}
	if lastMethod != http.MethodPatch || lastPath != "/orders/o1/status" || lastBody != `{"status":"picked_up"}` {
		t.Errorf("UpdateOrderStatus sent %s %s %s", lastMethod, lastPath, lastBody)
	}

	if err := c.RespondToBid(ctx, "o2", ActionDecline); err != nil {
		t.Fatalf("RespondToBid failed: %v", err)
	}
	if lastPath != "/orders/o2/driver-response" || lastBody != `{"action":"decline"}` {
		t.Errorf("RespondToBid sent %s %s", lastPath, lastBody)
	}

	if err := c.AcceptBid(ctx, "b1", 30); err != nil {
		t.Fatalf("AcceptBid failed: %v", err)
	}
	if lastPath != "/bids/b1/accept" || lastBody != `{"expiry_minutes":30}` {
		t.Errorf("AcceptBid sent %s %s", lastPath, lastBody)
	}

	bids, err := c.ListBids(ctx, "l1")
	if err != nil {
		t.Fatalf("ListBids failed: %v", err)
	}
	if len(bids) != 1 || bids[0].AmountCents != 125000 || !bids[0].Acceptable() {
		t.Errorf("bids = %+v", bids)
	}
}
