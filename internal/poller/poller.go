package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/freightline/internal/clock"
	"github.com/rickgao/freightline/internal/connection"
)

// Refresher re-fetches the authoritative order list.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// RefresherFunc is a function adapter for Refresher.
type RefresherFunc func(ctx context.Context) error

func (f RefresherFunc) Refresh(ctx context.Context) error {
	return f(ctx)
}

// Config holds poller configuration.
type Config struct {
	Interval time.Duration // Poll interval (default: 5m)
	Timeout  time.Duration // Per-fetch timeout (default: 30s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Minute,
		Timeout:  30 * time.Second,
	}
}

// Stats summarizes poll outcomes.
type Stats struct {
	Polls     int64     `json:"polls"`
	Failures  int64     `json:"failures"`
	LastPoll  time.Time `json:"last_poll"`
	LastError string    `json:"last_error,omitempty"`
}

// Poller periodically reconciles the order cache against REST, and
// immediately after every reconnect.
type Poller struct {
	cfg       Config
	refresher Refresher
	clock     clock.Clock
	logger    *slog.Logger

	trigger chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	stats Stats
}

// New creates a new Poller.
func New(cfg Config, refresher Refresher, clk clock.Clock, logger *slog.Logger) *Poller {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	return &Poller{
		cfg:       cfg,
		refresher: refresher,
		clock:     clk,
		logger:    logger.With("component", "poller"),
		trigger:   make(chan struct{}, 1),
	}
}

// Start begins the polling loop. The first poll happens on the first tick
// or Trigger, not at start.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	ticker := p.clock.NewTicker(p.cfg.Interval)

	p.wg.Add(1)
	go p.run(ticker)

	p.logger.Info("order poller started", "interval", p.cfg.Interval)
	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("order poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger requests a poll as soon as possible. Requests made while one is
// already queued are coalesced.
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// OnStateChange triggers a poll whenever the session becomes Open, so
// frames missed while disconnected are recovered.
func (p *Poller) OnStateChange(sc connection.StateChange) {
	if sc.To == connection.StateOpen {
		p.Trigger()
	}
}

// Stats returns poll counters.
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Poller) run(ticker *clock.Ticker) {
	defer p.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.poll("interval")
		case <-p.trigger:
			p.poll("trigger")
		}
	}
}

func (p *Poller) poll(reason string) {
	start := p.clock.Now()

	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	err := p.refresher.Refresh(ctx)
	cancel()

	p.mu.Lock()
	p.stats.Polls++
	p.stats.LastPoll = start
	if err != nil {
		p.stats.Failures++
		p.stats.LastError = err.Error()
	} else {
		p.stats.LastError = ""
	}
	p.mu.Unlock()

	if err != nil {
		if p.ctx.Err() != nil {
			return
		}
		p.logger.Warn("order poll failed", "reason", reason, "error", err)
		return
	}
	p.logger.Debug("order poll complete", "reason", reason, "duration", p.clock.Now().Sub(start))
}
