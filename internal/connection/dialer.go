package connection

import (
	"context"
	"fmt"
	"log/slog"
)

// Dialer opens a connected Client for one identity.
type Dialer interface {
	Dial(ctx context.Context, userID, token string) (Client, error)
}

// wsDialer dials the per-user websocket endpoint.
type wsDialer struct {
	baseURL string
	cfg     ClientConfig
	logger  *slog.Logger
}

// NewDialer returns a Dialer for the marketplace websocket at baseURL.
func NewDialer(baseURL string, cfg ClientConfig, logger *slog.Logger) Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &wsDialer{baseURL: baseURL, cfg: cfg, logger: logger}
}

func (d *wsDialer) Dial(ctx context.Context, userID, token string) (Client, error) {
	endpoint, err := EndpointURL(d.baseURL, userID, token)
	if err != nil {
		return nil, fmt.Errorf("build endpoint: %w", err)
	}

	cfg := d.cfg
	cfg.URL = endpoint
	c := NewClient(cfg, d.logger.With("user_id", userID))
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}
