// freightline-agent keeps a live, reconciled view of a user's freight
// orders: it logs in with a refresh credential, follows the notification
// socket, re-fetches orders on an interval and after every reconnect, and
// serves health, debug and order action endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/freightline/internal/api"
	"github.com/rickgao/freightline/internal/auth"
	"github.com/rickgao/freightline/internal/backoff"
	"github.com/rickgao/freightline/internal/clock"
	"github.com/rickgao/freightline/internal/config"
	"github.com/rickgao/freightline/internal/connection"
	"github.com/rickgao/freightline/internal/countdown"
	"github.com/rickgao/freightline/internal/database"
	"github.com/rickgao/freightline/internal/order"
	"github.com/rickgao/freightline/internal/poller"
	"github.com/rickgao/freightline/internal/router"
	"github.com/rickgao/freightline/internal/store"
	"github.com/rickgao/freightline/internal/version"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath, logLevel string
	flagSet := pflag.NewFlagSet("freightline-agent", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "configs/agent.yaml", "path to config file")
	flagSet.StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	showVersion := flagSet.Bool("version", false, "print version and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Println("freightline-agent", version.String())
		return nil
	}

	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting freightline agent",
		"version", version.Version,
		"commit", version.Commit,
		"config", configPath,
		"instance_id", cfg.Instance.ID,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newAgent(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return a.run(ctx)
}

// newLogger builds the process logger from config.
func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// agent owns every long-running component.
type agent struct {
	cfg    *config.AgentConfig
	logger *slog.Logger

	client  *api.Client
	tokens  *auth.TokenSource
	machine *order.Machine
	coord   *order.Coordinator
	tracker *countdown.Tracker
	router  router.Router
	session *connection.Session
	poller  *poller.Poller

	pool   *pgxpool.Pool // nil when the store is disabled
	writer *store.Writer // nil when the store is disabled

	health *http.Server
}

func newAgent(ctx context.Context, cfg *config.AgentConfig, logger *slog.Logger) (*agent, error) {
	clk := clock.Real()
	a := &agent{cfg: cfg, logger: logger}

	// The REST client reads the token from the source on every request;
	// the source refreshes through the same client.
	client := api.NewClient(
		cfg.API.RestURL,
		func() string { return a.tokens.AccessToken() },
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, cfg.API.RetryBackoff),
	)
	a.client = client
	a.tokens = auth.NewTokenSource(client, auth.Identity{
		UserID:       cfg.Auth.UserID,
		AccessToken:  cfg.Auth.AccessToken,
		RefreshToken: cfg.Auth.RefreshToken,
	}, logger)

	if cfg.Auth.AccessToken == "" {
		logger.Info("logging in with refresh credential", "user_id", cfg.Auth.UserID)
		if _, err := a.tokens.Refresh(ctx); err != nil {
			return nil, fmt.Errorf("login: %w", err)
		}
	}

	a.machine = order.NewMachine(clk, logger)
	a.coord = order.NewCoordinator(order.CoordinatorConfig{
		BidWindowMin: cfg.Orders.BidWindowMin,
		BidWindowMax: cfg.Orders.BidWindowMax,
		FetchTimeout: cfg.Orders.FetchTimeout,
	}, a.machine, client, clk, logger)

	if cfg.Database.Postgres.Enabled() {
		if err := a.openStore(ctx, clk); err != nil {
			return nil, err
		}
	}

	a.tracker = countdown.NewTracker(clk, logger, nil)
	a.tracker.Follow(a.machine)

	a.router = router.NewRouter(router.RouterConfig{HistorySize: cfg.Session.HistorySize}, a.coord, logger)

	s := cfg.Session
	a.session = connection.NewSession(connection.SessionConfig{
		URL:             cfg.API.WSURL,
		MaxAttempts:     s.MaxAttempts,
		AuthFailureCode: s.AuthFailureCode,
		Backoff:         backoff.Policy{Base: s.BackoffBase, Max: s.BackoffMax, Jitter: s.BackoffJitter},
		Client: connection.ClientConfig{
			PingTimeout:      s.PingTimeout,
			PingInterval:     s.PingInterval,
			WriteTimeout:     s.WriteTimeout,
			HandshakeTimeout: s.HandshakeTimeout,
			BufferSize:       s.BufferSize,
		},
	}, a.tokens, a.router.Dispatch, connection.WithClock(clk), connection.WithLogger(logger))

	a.poller = poller.New(poller.Config{
		Interval: cfg.Orders.PollInterval,
		Timeout:  cfg.Orders.PollTimeout,
	}, a.coord, clk, logger)
	a.session.OnStateChange(a.poller.OnStateChange)
	a.session.OnStateChange(func(sc connection.StateChange) {
		if sc.To == connection.StateClosed && sc.Err != nil {
			logger.Error("notification session failed; restart or reconnect required",
				"attempt", sc.Attempt,
				"error", sc.Err,
			)
		}
	})

	a.health = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Health.Port),
		Handler:           a.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return a, nil
}

// openStore connects the projection database, warms the cache from it and
// mirrors every later change back.
func (a *agent) openStore(ctx context.Context, clk clock.Clock) error {
	db := a.cfg.Database.Postgres
	a.logger.Info("connecting to database", "host", db.Host, "port", db.Port, "database", db.Name)

	pool, err := database.Connect(ctx, db)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	pg := store.NewPostgres(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return err
	}

	orders, err := pg.Load(ctx)
	if err != nil {
		pool.Close()
		return fmt.Errorf("warm start: %w", err)
	}
	n := a.machine.Merge(orders)
	a.logger.Info("warm start from projection", "stored", len(orders), "loaded", n)

	a.pool = pool
	a.writer = store.NewWriter(store.WriterConfig{
		BatchSize:     a.cfg.Writer.BatchSize,
		FlushInterval: a.cfg.Writer.FlushInterval,
	}, pg, clk, a.logger)
	a.machine.Subscribe(a.writer.OnChange)
	return nil
}

func (a *agent) run(ctx context.Context) error {
	if a.writer != nil {
		if err := a.writer.Start(ctx); err != nil {
			return err
		}
	}

	if err := a.coord.Refresh(ctx); err != nil {
		// The poller retries; a stale cache is better than no agent.
		a.logger.Warn("initial order fetch failed", "error", err)
	} else {
		a.logger.Info("orders loaded", "count", a.machine.Len())
	}

	if err := a.poller.Start(ctx); err != nil {
		return err
	}
	if err := a.session.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("starting health server", "addr", a.health.Addr)
		if err := a.health.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})

	a.logger.Info("agent running",
		"instance_id", a.cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", a.cfg.Health.Port),
	)
	return g.Wait()
}

// shutdown stops components in reverse dependency order: inputs first,
// then the cache consumers, then storage.
func (a *agent) shutdown() error {
	a.logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.health.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("health server: %w", err))
	}

	// Socket and poller are independent inputs.
	var inputs errgroup.Group
	inputs.Go(func() error { return a.session.Stop(ctx) })
	inputs.Go(func() error { return a.poller.Stop(ctx) })
	inputs.Go(func() error { return a.coord.Stop(ctx) })
	if err := inputs.Wait(); err != nil {
		errs = append(errs, err)
	}

	a.tracker.Close()

	if a.writer != nil {
		if err := a.writer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("projection writer: %w", err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}

	a.logger.Info("agent stopped")
	return errors.Join(errs...)
}
