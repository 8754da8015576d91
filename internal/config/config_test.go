package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: agent-1
api:
  rest_url: https://api.example.com/v1
  ws_url: wss://ws.example.com
auth:
  user_id: "42"
  refresh_token: r1
session:
  max_attempts: 3
  backoff_jitter: 0.2
orders:
  bid_window_max: 2h
database:
  postgres:
    host: localhost
    port: 5432
    name: freight
    user: agent
    password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "agent-1" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "agent-1")
	}
	if cfg.API.WSURL != "wss://ws.example.com" {
		t.Errorf("API.WSURL = %q", cfg.API.WSURL)
	}
	if cfg.Auth.UserID != "42" {
		t.Errorf("Auth.UserID = %q, want 42", cfg.Auth.UserID)
	}
	if cfg.Session.MaxAttempts != 3 || cfg.Session.BackoffJitter != 0.2 {
		t.Errorf("Session = %+v", cfg.Session)
	}
	if cfg.Orders.BidWindowMax != 2*time.Hour {
		t.Errorf("Orders.BidWindowMax = %v, want 2h", cfg.Orders.BidWindowMax)
	}
	if !cfg.Database.Postgres.Enabled() {
		t.Error("Database.Postgres should be enabled")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_REFRESH_TOKEN", "secret123")

	yaml := `
instance:
  id: agent-1
auth:
  user_id: "42"
  refresh_token: ${TEST_REFRESH_TOKEN}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Auth.RefreshToken != "secret123" {
		t.Errorf("Auth.RefreshToken = %q, want %q", cfg.Auth.RefreshToken, "secret123")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: agent-1
api:
  rest_url: https://api.example.com/v1
  ws_url: wss://ws.example.com
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.API.Timeout != DefaultAPITimeout {
		t.Errorf("API.Timeout = %v, want default %v", cfg.API.Timeout, DefaultAPITimeout)
	}
	if cfg.Session.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("Session.MaxAttempts = %d, want default %d", cfg.Session.MaxAttempts, DefaultMaxAttempts)
	}
	if cfg.Session.AuthFailureCode != DefaultAuthFailureCode {
		t.Errorf("Session.AuthFailureCode = %d, want default %d", cfg.Session.AuthFailureCode, DefaultAuthFailureCode)
	}
	if cfg.Session.BackoffMax != 0 || cfg.Session.BackoffJitter != 0 {
		t.Errorf("backoff cap and jitter should stay off by default: %+v", cfg.Session)
	}
	if cfg.Session.HistorySize != DefaultHistorySize {
		t.Errorf("Session.HistorySize = %d, want default %d", cfg.Session.HistorySize, DefaultHistorySize)
	}
	if cfg.Orders.PollInterval != DefaultPollInterval {
		t.Errorf("Orders.PollInterval = %v, want default %v", cfg.Orders.PollInterval, DefaultPollInterval)
	}
	if cfg.Database.Postgres.Enabled() || cfg.Database.Postgres.Port != 0 {
		t.Errorf("database defaults applied without a host: %+v", cfg.Database.Postgres)
	}
	if cfg.Health.Port != DefaultHealthPort {
		t.Errorf("Health.Port = %d, want default %d", cfg.Health.Port, DefaultHealthPort)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

func TestLoadAndValidate(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadAndValidate(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		if _, err := LoadAndValidate(writeTempFile(t, "instance: [")); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("missing credentials", func(t *testing.T) {
		path := writeTempFile(t, `
instance:
  id: agent-1
api:
  rest_url: https://api.example.com/v1
  ws_url: wss://ws.example.com
auth:
  user_id: "42"
`)
		_, err := LoadAndValidate(path)
		if err == nil || err.Error() != "validate config: auth.refresh_token is required" {
			t.Errorf("LoadAndValidate() error = %v", err)
		}
	})
}

// validConfig returns a config that passes Validate.
func validConfig() AgentConfig {
	cfg := AgentConfig{
		Instance: InstanceConfig{ID: "test"},
		API:      APIConfig{RestURL: "https://api.example.com", WSURL: "wss://ws.example.com"},
		Auth:     AuthConfig{UserID: "42", RefreshToken: "r1"},
	}
	cfg.applyDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AgentConfig)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(*AgentConfig) {},
			wantErr: "",
		},
		{
			name:    "missing instance id",
			mutate:  func(c *AgentConfig) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "missing rest url",
			mutate:  func(c *AgentConfig) { c.API.RestURL = "" },
			wantErr: "api.rest_url is required",
		},
		{
			name:    "ws url with http scheme",
			mutate:  func(c *AgentConfig) { c.API.WSURL = "https://ws.example.com" },
			wantErr: `api.ws_url scheme must be one of [ws wss], got "https"`,
		},
		{
			name:    "missing user id",
			mutate:  func(c *AgentConfig) { c.Auth.UserID = "" },
			wantErr: "auth.user_id is required",
		},
		{
			name:    "negative max attempts",
			mutate:  func(c *AgentConfig) { c.Session.MaxAttempts = -1 },
			wantErr: "session.max_attempts must be >= 1",
		},
		{
			name:    "backoff cap below base",
			mutate:  func(c *AgentConfig) { c.Session.BackoffMax = 500 * time.Millisecond },
			wantErr: "session.backoff_max (500ms) cannot be less than backoff_base (1s)",
		},
		{
			name:    "jitter out of range",
			mutate:  func(c *AgentConfig) { c.Session.BackoffJitter = 1.5 },
			wantErr: "session.backoff_jitter must be between 0 and 1, got 1.5",
		},
		{
			name:    "auth failure code outside application range",
			mutate:  func(c *AgentConfig) { c.Session.AuthFailureCode = 1008 },
			wantErr: "session.auth_failure_code must be between 4000 and 4999, got 1008",
		},
		{
			name:    "ping interval not below timeout",
			mutate:  func(c *AgentConfig) { c.Session.PingInterval = c.Session.PingTimeout },
			wantErr: "session.ping_interval (1m0s) must be less than ping_timeout (1m0s)",
		},
		{
			name: "bid window inverted",
			mutate: func(c *AgentConfig) {
				c.Orders.BidWindowMin = time.Hour
				c.Orders.BidWindowMax = time.Minute
			},
			wantErr: "orders.bid_window_max (1m0s) cannot be less than bid_window_min (1h0m0s)",
		},
		{
			name: "missing postgres password",
			mutate: func(c *AgentConfig) {
				c.Database.Postgres = DBConfig{Host: "localhost", Name: "db", User: "user", MaxConns: 4}
			},
			wantErr: "database.postgres.password is required",
		},
		{
			name: "min_conns exceeds max_conns",
			mutate: func(c *AgentConfig) {
				c.Database.Postgres = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 5, MinConns: 10}
			},
			wantErr: "database.postgres.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name:    "health port out of range",
			mutate:  func(c *AgentConfig) { c.Health.Port = 70000 },
			wantErr: "health.port must be between 1 and 65535, got 70000",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *AgentConfig) { c.Log.Level = "verbose" },
			wantErr: `log.level must be one of debug, info, warn, error, got "verbose"`,
		},
		{
			name:    "unknown log format",
			mutate:  func(c *AgentConfig) { c.Log.Format = "xml" },
			wantErr: `log.format must be text or json, got "xml"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
