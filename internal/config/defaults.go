package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultAPITimeout       = 30 * time.Second
	DefaultMaxRetries       = 3
	DefaultRetryBackoff     = 500 * time.Millisecond
	DefaultMaxAttempts      = 5
	DefaultBackoffBase      = 1 * time.Second
	DefaultAuthFailureCode  = 4001
	DefaultPingTimeout      = 60 * time.Second
	DefaultPingInterval     = 30 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultBufferSize       = 256
	DefaultHistorySize      = 50
	DefaultPollInterval     = 5 * time.Minute
	DefaultPollTimeout      = 30 * time.Second
	DefaultFetchTimeout     = 30 * time.Second
	DefaultBidWindowMin     = 1 * time.Minute
	DefaultBidWindowMax     = 24 * time.Hour
	DefaultDBPort           = 5432
	DefaultDBSSLMode        = "prefer"
	DefaultMaxConns         = 4
	DefaultMinConns         = 1
	DefaultBatchSize        = 100
	DefaultFlushInterval    = 1 * time.Second
	DefaultHealthPort       = 8080
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
)

func (c *AgentConfig) applyDefaults() {
	// API defaults
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}
	if c.API.RetryBackoff == 0 {
		c.API.RetryBackoff = DefaultRetryBackoff
	}

	// Session defaults
	s := &c.Session
	if s.MaxAttempts == 0 {
		s.MaxAttempts = DefaultMaxAttempts
	}
	if s.BackoffBase == 0 {
		s.BackoffBase = DefaultBackoffBase
	}
	if s.AuthFailureCode == 0 {
		s.AuthFailureCode = DefaultAuthFailureCode
	}
	if s.PingTimeout == 0 {
		s.PingTimeout = DefaultPingTimeout
	}
	if s.PingInterval == 0 {
		s.PingInterval = DefaultPingInterval
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.HandshakeTimeout == 0 {
		s.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if s.BufferSize == 0 {
		s.BufferSize = DefaultBufferSize
	}
	if s.HistorySize == 0 {
		s.HistorySize = DefaultHistorySize
	}

	// Orders defaults
	if c.Orders.PollInterval == 0 {
		c.Orders.PollInterval = DefaultPollInterval
	}
	if c.Orders.PollTimeout == 0 {
		c.Orders.PollTimeout = DefaultPollTimeout
	}
	if c.Orders.FetchTimeout == 0 {
		c.Orders.FetchTimeout = DefaultFetchTimeout
	}
	if c.Orders.BidWindowMin == 0 {
		c.Orders.BidWindowMin = DefaultBidWindowMin
	}
	if c.Orders.BidWindowMax == 0 {
		c.Orders.BidWindowMax = DefaultBidWindowMax
	}

	// Database defaults, only when a database is configured
	if c.Database.Postgres.Enabled() {
		applyDBDefaults(&c.Database.Postgres)
	}

	// Writer defaults
	if c.Writer.BatchSize == 0 {
		c.Writer.BatchSize = DefaultBatchSize
	}
	if c.Writer.FlushInterval == 0 {
		c.Writer.FlushInterval = DefaultFlushInterval
	}

	// Health defaults
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
