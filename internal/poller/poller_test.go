package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/freightline/internal/clock"
	"github.com/rickgao/freightline/internal/connection"
)

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func startPoller(t *testing.T, clk clock.Clock, r Refresher) *Poller {
	t.Helper()
	p := New(Config{Interval: time.Minute, Timeout: time.Second}, r, clk, nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		p.Stop(ctx)
	})
	return p
}

func TestPoller_Interval(t *testing.T) {
	clk := clock.NewFake(start)
	var calls atomic.Int32
	p := startPoller(t, clk, RefresherFunc(func(context.Context) error {
		calls.Add(1)
		return nil
	}))

	clk.Advance(time.Minute)
	waitFor(t, func() bool { return calls.Load() == 1 })

	clk.Advance(time.Minute)
	waitFor(t, func() bool { return calls.Load() == 2 })

	waitFor(t, func() bool { return p.Stats().Polls == 2 })
	if s := p.Stats(); s.Failures != 0 {
		t.Errorf("Failures = %d, want 0", s.Failures)
	}
}

func TestPoller_OnStateChange(t *testing.T) {
	clk := clock.NewFake(start)
	var calls atomic.Int32
	p := startPoller(t, clk, RefresherFunc(func(context.Context) error {
		calls.Add(1)
		return nil
	}))

	tests := []struct {
		to   connection.State
		want int32
	}{
		{connection.StateConnecting, 0},
		{connection.StateOpen, 1},
		{connection.StateDisconnected, 1},
		{connection.StateOpen, 2},
	}
	for _, tt := range tests {
		p.OnStateChange(connection.StateChange{To: tt.to})
		waitFor(t, func() bool { return calls.Load() == tt.want })
	}
}

func TestPoller_TriggerCoalesces(t *testing.T) {
	clk := clock.NewFake(start)
	release := make(chan struct{})
	var calls atomic.Int32
	p := startPoller(t, clk, RefresherFunc(func(context.Context) error {
		if calls.Add(1) == 1 {
			<-release
		}
		return nil
	}))

	p.Trigger()
	waitFor(t, func() bool { return calls.Load() == 1 })

	// One fetch in flight; these collapse into a single queued poll.
	p.Trigger()
	p.Trigger()
	p.Trigger()
	close(release)

	waitFor(t, func() bool { return calls.Load() == 2 })
	time.Sleep(50 * time.Millisecond)
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestPoller_RecordsFailures(t *testing.T) {
	clk := clock.NewFake(start)
	p := startPoller(t, clk, RefresherFunc(func(context.Context) error {
		return errors.New("backend down")
	}))

	p.Trigger()
	waitFor(t, func() bool { return p.Stats().Failures == 1 })

	s := p.Stats()
	if s.LastError != "backend down" || !s.LastPoll.Equal(start) {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestPoller_StopCancelsFetch(t *testing.T) {
	clk := clock.NewFake(start)
	entered := make(chan struct{})
	p := New(Config{Interval: time.Minute, Timeout: time.Hour}, RefresherFunc(func(ctx context.Context) error {
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	}), clk, nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	p.Trigger()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}
