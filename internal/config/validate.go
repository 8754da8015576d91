package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks that all required fields are set and values are valid.
func (c *AgentConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := validateURL("api.rest_url", c.API.RestURL, "http", "https"); err != nil {
		return err
	}
	if err := validateURL("api.ws_url", c.API.WSURL, "ws", "wss"); err != nil {
		return err
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}

	if c.Auth.UserID == "" {
		return errors.New("auth.user_id is required")
	}
	if c.Auth.RefreshToken == "" {
		return errors.New("auth.refresh_token is required")
	}

	if err := c.Session.validate(); err != nil {
		return err
	}

	if c.Orders.PollInterval <= 0 {
		return errors.New("orders.poll_interval must be > 0")
	}
	if c.Orders.BidWindowMin <= 0 {
		return errors.New("orders.bid_window_min must be > 0")
	}
	if c.Orders.BidWindowMax < c.Orders.BidWindowMin {
		return fmt.Errorf("orders.bid_window_max (%v) cannot be less than bid_window_min (%v)", c.Orders.BidWindowMax, c.Orders.BidWindowMin)
	}

	if c.Database.Postgres.Enabled() {
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
		if c.Writer.BatchSize < 1 {
			return errors.New("writer.batch_size must be >= 1")
		}
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func (s *SessionConfig) validate() error {
	if s.MaxAttempts < 1 {
		return errors.New("session.max_attempts must be >= 1")
	}
	if s.BackoffBase <= 0 {
		return errors.New("session.backoff_base must be > 0")
	}
	if s.BackoffMax != 0 && s.BackoffMax < s.BackoffBase {
		return fmt.Errorf("session.backoff_max (%v) cannot be less than backoff_base (%v)", s.BackoffMax, s.BackoffBase)
	}
	if s.BackoffJitter < 0 || s.BackoffJitter > 1 {
		return fmt.Errorf("session.backoff_jitter must be between 0 and 1, got %v", s.BackoffJitter)
	}
	if s.AuthFailureCode < 4000 || s.AuthFailureCode > 4999 {
		return fmt.Errorf("session.auth_failure_code must be between 4000 and 4999, got %d", s.AuthFailureCode)
	}
	if s.PingInterval >= s.PingTimeout {
		return fmt.Errorf("session.ping_interval (%v) must be less than ping_timeout (%v)", s.PingInterval, s.PingTimeout)
	}
	if s.BufferSize < 1 {
		return errors.New("session.buffer_size must be >= 1")
	}
	if s.HistorySize < 1 {
		return errors.New("session.history_size must be >= 1")
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s scheme must be one of %v, got %q", field, schemes, u.Scheme)
}
