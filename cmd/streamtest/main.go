// streamtest opens one notification session and prints every routed
// message and connection state change to the console.
// Usage: go run ./cmd/streamtest --config configs/agent.yaml
//
// The access token is taken from --token, then auth.access_token, and
// otherwise obtained with auth.refresh_token.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/rickgao/freightline/internal/api"
	"github.com/rickgao/freightline/internal/auth"
	"github.com/rickgao/freightline/internal/config"
	"github.com/rickgao/freightline/internal/connection"
	"github.com/rickgao/freightline/internal/router"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath, userID, token string
	var verbose bool
	flagSet := pflag.NewFlagSet("streamtest", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "configs/agent.yaml", "path to config file")
	flagSet.StringVar(&userID, "user", "", "override auth.user_id")
	flagSet.StringVar(&token, "token", "", "access token to connect with")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "print full message JSON")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg, err := config.LoadWithDefaults(configPath)
	if err != nil {
		return err
	}
	if userID != "" {
		cfg.Auth.UserID = userID
	}
	if token != "" {
		cfg.Auth.AccessToken = token
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var tokens *auth.TokenSource
	client := api.NewClient(cfg.API.RestURL, func() string { return tokens.AccessToken() }, api.WithLogger(logger))
	tokens = auth.NewTokenSource(client, auth.Identity{
		UserID:       cfg.Auth.UserID,
		AccessToken:  cfg.Auth.AccessToken,
		RefreshToken: cfg.Auth.RefreshToken,
	}, logger)

	if cfg.Auth.AccessToken == "" {
		if _, err := tokens.Refresh(ctx); err != nil {
			return fmt.Errorf("login: %w", err)
		}
	}

	rtr := router.NewRouter(router.RouterConfig{HistorySize: cfg.Session.HistorySize}, printer{verbose: verbose}, logger)

	sessCfg := connection.DefaultSessionConfig()
	sessCfg.URL = cfg.API.WSURL
	sessCfg.MaxAttempts = cfg.Session.MaxAttempts
	sessCfg.AuthFailureCode = cfg.Session.AuthFailureCode
	session := connection.NewSession(sessCfg, tokens, rtr.Dispatch, connection.WithLogger(logger))
	session.OnStateChange(func(sc connection.StateChange) {
		fmt.Printf("[STATE] %s -> %s attempt=%d", sc.From, sc.To, sc.Attempt)
		if sc.Err != nil {
			fmt.Printf(" error=%v", sc.Err)
		}
		fmt.Println()
	})

	if err := session.Start(ctx); err != nil {
		return err
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s := rtr.Stats()
				logger.Info("stats",
					"state", session.State(),
					"attempt", session.Attempt(),
					"router_received", s.MessagesReceived,
					"router_routed", s.MessagesRouted,
					"parse_errors", s.ParseErrors,
					"unknown", s.UnknownMessages,
					"history", s.History.Count,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop", "user_id", cfg.Auth.UserID)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down...")
	if err := session.Stop(shutdownCtx); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// printer writes one console line per routed message.
type printer struct {
	verbose bool
}

func (p printer) print(tag string, m router.Message, format string, args ...any) {
	if p.verbose {
		data, _ := json.MarshalIndent(m, "", "  ")
		fmt.Printf("[%s] %s\n", tag, data)
		return
	}
	fmt.Printf("[%s] %s\n", tag, fmt.Sprintf(format, args...))
}

func (p printer) OnBidAccepted(m router.BidAccepted) {
	expires := "-"
	if m.ExpiresAt != nil {
		expires = m.ExpiresAt.Format(time.RFC3339)
	}
	p.print("BID ACCEPTED", m, "order=%s bid=%s expires=%s text=%q", m.OrderID, m.BidID, expires, m.Text)
}

func (p printer) OnOrderAccepted(m router.OrderAccepted) {
	p.print("ORDER ACCEPTED", m, "order=%s text=%q", m.OrderID, m.Text)
}

func (p printer) OnOrderDeclined(m router.OrderDeclined) {
	p.print("ORDER DECLINED", m, "order=%s text=%q", m.OrderID, m.Text)
}

func (p printer) OnOrderStatusUpdated(m router.OrderStatusUpdated) {
	p.print("STATUS", m, "order=%s status=%s text=%q", m.OrderID, m.Status, m.Text)
}

func (p printer) OnOrderCompleted(m router.OrderCompleted) {
	p.print("COMPLETED", m, "order=%s text=%q", m.OrderID, m.Text)
}

func (p printer) OnUnknown(m router.Unknown) {
	p.print("UNKNOWN", m, "type=%s payload=%s", m.RawType, m.RawPayload)
}
