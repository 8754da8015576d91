package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/freightline/internal/auth"
	"github.com/rickgao/freightline/internal/clock"
)

// Handler receives every inbound frame of the current connection, in
// receive order. It must not block.
type Handler func(TimestampedMessage)

// Session owns the single live connection for an authenticated identity.
//
// All state lives on one event-loop goroutine. Sockets, dials, reconnect
// timers and credential refreshes report back as events tagged with the
// generation they belong to, so anything left over from an earlier
// connection is ignored.
type Session struct {
	id      string
	cfg     SessionConfig
	creds   auth.Source
	dialer  Dialer
	clock   clock.Clock
	logger  *slog.Logger
	handler Handler

	events   chan event
	loopDone chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	unsubAuth func()

	// Generation of the current connection, readable off-loop so frame
	// pumps can discard frames from a replaced socket.
	liveGen atomic.Uint64

	// Loop-owned.
	state      State
	attempt    int
	err        error
	gen        uint64
	client     Client
	connID     auth.Identity // identity used by the current connection or dial
	dialing    bool
	redial     bool
	dialCancel context.CancelFunc
	timer      *clock.Timer
	timerSeq   uint64
	refreshed  bool      // credentials refreshed and no frame received since
	openedAt   time.Time // when the current connection opened; zero otherwise
	manual     bool      // closed by Disconnect; only Connect reopens

	// Published snapshot and subscribers.
	mu      sync.RWMutex
	snap    StateChange
	subs    map[int]func(StateChange)
	nextSub int
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithClock sets the clock used for reconnect timers.
func WithClock(c clock.Clock) SessionOption {
	return func(s *Session) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) SessionOption {
	return func(s *Session) { s.dialer = d }
}

// NewSession creates a Session for the identities supplied by creds.
// Frames are passed to handler.
func NewSession(cfg SessionConfig, creds auth.Source, handler Handler, opts ...SessionOption) *Session {
	def := DefaultSessionConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.AuthFailureCode == 0 {
		cfg.AuthFailureCode = def.AuthFailureCode
	}
	if cfg.ReauthGrace <= 0 {
		cfg.ReauthGrace = def.ReauthGrace
	}

	s := &Session{
		id:       uuid.NewString(),
		cfg:      cfg,
		creds:    creds,
		clock:    clock.Real(),
		logger:   slog.Default(),
		handler:  handler,
		events:   make(chan event, 64),
		loopDone: make(chan struct{}),
		subs:     make(map[int]func(StateChange)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.handler == nil {
		s.handler = func(TimestampedMessage) {}
	}
	s.logger = s.logger.With("component", "session", "session_id", s.id)
	if s.dialer == nil {
		s.dialer = NewDialer(cfg.URL, cfg.Client, s.logger)
	}
	return s
}

// ID returns the session id used in logs.
func (s *Session) ID() string { return s.id }

// Start runs the event loop and connects if an identity is present.
// Identity changes from the credential source are followed until Stop.
func (s *Session) Start(ctx context.Context) error {
	if s.started.Load() {
		return nil
	}
	s.startOnce.Do(func() {
		s.ctx, s.cancel = context.WithCancel(ctx)
		s.started.Store(true)
		go s.loop()
		s.unsubAuth = s.creds.Subscribe(func(id auth.Identity) {
			s.post(identityEvent{id: id})
		})
		s.post(identityEvent{id: s.creds.Identity()})
	})
	return nil
}

// Connect opens a connection if none is active. It is how a user retries
// after the session has failed or was disconnected.
func (s *Session) Connect() error {
	if !s.started.Load() {
		return ErrNotConnected
	}
	if !s.post(connectEvent{}) {
		return ErrSessionClosed
	}
	return nil
}

// Disconnect closes the connection with a normal closure and cancels any
// pending reconnect. Calling it again, or with no connection, is a no-op.
func (s *Session) Disconnect() {
	if !s.started.Load() {
		return
	}
	done := make(chan struct{})
	if s.post(disconnectEvent{done: done}) {
		select {
		case <-done:
		case <-s.loopDone:
		}
	}
}

// Stop tears the session down: the connection is closed, timers are
// cancelled, and the event loop exits. Safe to call more than once.
func (s *Session) Stop(ctx context.Context) error {
	if !s.started.Load() {
		return nil
	}
	s.stopOnce.Do(func() {
		if s.unsubAuth != nil {
			s.unsubAuth()
		}
		s.Disconnect()
		s.cancel()
	})

	select {
	case <-s.loopDone:
		return nil
	case <-ctx.Done():
		s.logger.Warn("shutdown timeout waiting for session loop")
		return ctx.Err()
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.To
}

// Attempt returns the current reconnect attempt counter.
func (s *Session) Attempt() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Attempt
}

// Err returns the terminal error, if the session has failed.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Err
}

// OnStateChange registers fn for every state transition. fn runs on the
// session loop and must not block or call back into the Session.
func (s *Session) OnStateChange(fn func(StateChange)) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Events

type event interface{}

type connectEvent struct{}

type disconnectEvent struct{ done chan struct{} }

type identityEvent struct{ id auth.Identity }

type dialResult struct {
	gen    uint64
	client Client
	err    error
}

type closedEvent struct {
	gen uint64
	err error
}

type frameEvent struct{ gen uint64 }

type retryEvent struct{ seq uint64 }

type refreshResult struct {
	gen uint64
	err error
}

type barrierEvent struct{ done chan struct{} }

// post queues ev for the loop. Returns false once the loop has exited.
func (s *Session) post(ev event) bool {
	select {
	case <-s.loopDone:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-s.loopDone:
		return false
	}
}

func (s *Session) loop() {
	defer close(s.loopDone)
	for {
		select {
		case <-s.ctx.Done():
			s.teardown()
			return
		case ev := <-s.events:
			s.handle(ev)
		}
	}
}

func (s *Session) handle(ev event) {
	switch ev := ev.(type) {
	case connectEvent:
		s.onConnect()
	case disconnectEvent:
		s.onDisconnect()
		close(ev.done)
	case identityEvent:
		s.onIdentity(ev.id)
	case dialResult:
		s.onDialResult(ev)
	case closedEvent:
		s.onClosed(ev)
	case frameEvent:
		if ev.gen == s.gen {
			s.refreshed = false
		}
	case retryEvent:
		s.onRetry(ev)
	case refreshResult:
		s.onRefreshResult(ev)
	case barrierEvent:
		close(ev.done)
	}
}

func (s *Session) onConnect() {
	s.manual = false
	if s.state == StateOpen || s.state == StateConnecting || s.state == StateReauthenticating {
		return
	}
	s.attempt = 0
	s.err = nil
	s.startDial()
}

func (s *Session) onDisconnect() {
	s.manual = true
	if s.state == StateClosed && s.client == nil && s.timer == nil && !s.dialing {
		return
	}
	s.teardown()
	s.err = nil
	s.setState(StateClosed)
	s.logger.Info("session disconnected")
}

func (s *Session) onIdentity(id auth.Identity) {
	if !id.Valid() {
		if s.state == StateDisconnected && s.client == nil && s.timer == nil && !s.dialing {
			return
		}
		s.logger.Info("identity cleared, closing connection")
		s.teardown()
		s.attempt = 0
		s.setState(StateDisconnected)
		return
	}

	if s.manual {
		return
	}
	if id.SameConnection(s.connID) {
		switch {
		case s.state == StateOpen, s.state == StateConnecting, s.state == StateReauthenticating:
			return
		case s.state == StateDisconnected && s.timer != nil:
			// A reconnect is already scheduled for this identity.
			return
		}
	}
	if id.UserID != s.connID.UserID {
		s.refreshed = false
	}

	if s.state == StateOpen {
		s.logger.Info("identity changed, reconnecting", "user_id", id.UserID)
	}
	s.attempt = 0
	s.err = nil
	s.startDial()
}

// startDial closes whatever is live and dials with the current identity.
func (s *Session) startDial() {
	id := s.creds.Identity()
	if !id.Valid() {
		s.teardown()
		s.setState(StateDisconnected)
		return
	}
	if s.dialing {
		// Identity moved on mid-dial; the result is discarded on arrival.
		s.redial = true
		s.connID = id
		return
	}

	s.closeClient(CloseNormal)
	s.cancelTimer()

	s.gen++
	s.liveGen.Store(s.gen)
	gen := s.gen
	s.dialing = true
	s.redial = false
	s.connID = id
	s.openedAt = time.Time{}

	ctx, cancel := context.WithCancel(s.ctx)
	s.dialCancel = cancel
	s.setState(StateConnecting)

	s.logger.Debug("dialing", "user_id", id.UserID, "attempt", s.attempt, "gen", gen)
	go func() {
		c, err := s.dialer.Dial(ctx, id.UserID, id.AccessToken)
		if !s.post(dialResult{gen: gen, client: c, err: err}) && c != nil {
			c.Close()
		}
	}()
}

func (s *Session) onDialResult(ev dialResult) {
	if ev.gen != s.gen || !s.dialing {
		if ev.client != nil {
			ev.client.Close()
		}
		return
	}
	s.dialing = false
	if s.dialCancel != nil {
		s.dialCancel()
		s.dialCancel = nil
	}

	if s.redial {
		s.redial = false
		if ev.client != nil {
			ev.client.Close()
		}
		s.startDial()
		return
	}

	if ev.err != nil {
		s.logger.Warn("dial failed", "attempt", s.attempt, "error", ev.err)
		s.handleFailure(ev.err)
		return
	}

	s.client = ev.client
	s.attempt = 0
	s.openedAt = s.clock.Now()
	s.setState(StateOpen)
	s.logger.Info("connection open", "user_id", s.connID.UserID)
	go s.pump(ev.gen, ev.client)
}

func (s *Session) onClosed(ev closedEvent) {
	if ev.gen != s.gen || s.client == nil {
		return
	}
	s.client = nil
	s.logger.Info("connection closed", "code", CloseCode(ev.err), "error", ev.err)
	s.handleFailure(ev.err)
}

// handleFailure classifies why the connection (or dial) ended.
func (s *Session) handleFailure(err error) {
	if s.isAuthFailure(err) {
		s.reauthenticate(err)
		return
	}

	if CloseCode(err) == CloseNormal {
		// Intentional close from the server: no retry, attempt unchanged.
		s.setState(StateClosed)
		return
	}

	s.attempt++
	if s.attempt > s.cfg.MaxAttempts {
		s.fail(ErrRetriesExhausted, err)
		return
	}

	delay := s.cfg.Backoff.Delay(s.attempt)
	s.setState(StateDisconnected)
	s.scheduleRetry(delay)
	s.logger.Warn("connection lost, reconnect scheduled",
		"attempt", s.attempt,
		"max_attempts", s.cfg.MaxAttempts,
		"delay", delay,
	)
}

func (s *Session) isAuthFailure(err error) bool {
	var he *HandshakeError
	if errors.As(err, &he) {
		return he.IsAuthFailure()
	}
	return CloseCode(err) == s.cfg.AuthFailureCode
}

func (s *Session) reauthenticate(cause error) {
	// A quiet connection that outlived the grace period may simply have
	// outlived its token.
	if s.refreshed && !s.openedFor(s.cfg.ReauthGrace) {
		s.fail(ErrReauthenticate, cause)
		return
	}
	s.refreshed = true

	s.closeClient(CloseNormal)
	s.cancelTimer()
	s.gen++
	s.liveGen.Store(s.gen)
	gen := s.gen
	s.setState(StateReauthenticating)
	s.logger.Info("authentication rejected, refreshing credentials")

	go func() {
		_, err := s.creds.Refresh(s.ctx)
		s.post(refreshResult{gen: gen, err: err})
	}()
}

func (s *Session) openedFor(d time.Duration) bool {
	return !s.openedAt.IsZero() && s.clock.Now().Sub(s.openedAt) >= d
}

func (s *Session) onRefreshResult(ev refreshResult) {
	if ev.gen != s.gen || s.state != StateReauthenticating {
		// The identity-changed path already reconnected.
		return
	}
	if ev.err != nil {
		s.fail(ErrReauthenticate, ev.err)
		return
	}
	s.onIdentity(s.creds.Identity())
	if s.state == StateReauthenticating {
		// The refresh kept the access token, so no identity change will
		// follow.
		s.attempt = 0
		s.err = nil
		s.startDial()
	}
}

func (s *Session) scheduleRetry(d time.Duration) {
	s.cancelTimer()
	seq := s.timerSeq
	s.timer = s.clock.AfterFunc(d, func() {
		s.post(retryEvent{seq: seq})
	})
}

func (s *Session) onRetry(ev retryEvent) {
	if ev.seq != s.timerSeq || s.timer == nil {
		return
	}
	s.timer = nil
	if s.state != StateDisconnected {
		return
	}
	// Reads the identity now, not when the timer was scheduled.
	s.startDial()
}

func (s *Session) fail(terminal, cause error) {
	s.teardown()
	if cause != nil {
		s.err = fmt.Errorf("%w: %v", terminal, cause)
	} else {
		s.err = terminal
	}
	s.setState(StateClosed)
	s.logger.Error("session failed", "error", s.err, "attempt", s.attempt)
}

// teardown releases the socket, any in-flight dial and the reconnect
// timer. It leaves state untouched.
func (s *Session) teardown() {
	s.closeClient(CloseNormal)
	s.cancelTimer()
	if s.dialCancel != nil {
		s.dialCancel()
		s.dialCancel = nil
	}
	s.dialing = false
	s.redial = false
	s.gen++
	s.liveGen.Store(s.gen)
}

func (s *Session) closeClient(code int) {
	if s.client == nil {
		return
	}
	c := s.client
	s.client = nil
	if err := c.CloseWithCode(code, ""); err != nil {
		s.logger.Debug("close error", "error", err)
	}
}

func (s *Session) cancelTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerSeq++
}

func (s *Session) setState(to State) {
	from := s.state
	s.state = to

	change := StateChange{From: from, To: to, Attempt: s.attempt}
	if to == StateClosed {
		change.Err = s.err
	}

	s.mu.Lock()
	prev := s.snap
	s.snap = change
	fns := make([]func(StateChange), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	if from == to && prev.Attempt == change.Attempt && prev.Err == change.Err {
		return
	}
	if from != to {
		s.logger.Debug("state change", "from", from, "to", to, "attempt", s.attempt)
	}
	for _, fn := range fns {
		fn(change)
	}
}

// pump forwards frames from c to the handler until c ends.
func (s *Session) pump(gen uint64, c Client) {
	first := true
	deliver := func(msg TimestampedMessage) {
		if s.liveGen.Load() != gen {
			return
		}
		if first {
			first = false
			s.post(frameEvent{gen: gen})
		}
		s.handler(msg)
	}

	for {
		select {
		case msg := <-c.Messages():
			deliver(msg)
		case <-c.Done():
		drain:
			for {
				select {
				case msg := <-c.Messages():
					deliver(msg)
				default:
					break drain
				}
			}
			s.post(closedEvent{gen: gen, err: c.Err()})
			return
		}
	}
}

// barrier blocks until every event queued before it has been handled.
func (s *Session) barrier() {
	done := make(chan struct{})
	if s.post(barrierEvent{done: done}) {
		select {
		case <-done:
		case <-s.loopDone:
		}
	}
}
