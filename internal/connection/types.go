package connection

import (
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/freightline/internal/backoff"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrNoIdentity      = errors.New("no authenticated identity")

	// Terminal session errors. These are the only connection failures
	// surfaced to the user.
	ErrRetriesExhausted = errors.New("connection failed: reconnect attempts exhausted")
	ErrReauthenticate   = errors.New("authentication failed: please sign in again")
	ErrSessionClosed    = errors.New("session closed")
)

// Close codes.
const (
	// CloseNormal marks an intentional close; it is never retried.
	CloseNormal = 1000

	// DefaultAuthFailureCode is the application close code the server uses
	// to reject the presented access token.
	DefaultAuthFailureCode = 4001

	// CloseNoStatus is reported when the connection ended without a close
	// frame (network error, stale heartbeat).
	CloseNoStatus = 1005
)

// HandshakeError is returned by Connect when the server refuses the upgrade.
type HandshakeError struct {
	StatusCode int
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket handshake rejected: http %d", e.StatusCode)
}

// IsAuthFailure reports whether the server rejected the credentials.
func (e *HandshakeError) IsAuthFailure() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // Full endpoint including user path and token query
	PingTimeout      time.Duration // Max time without ping/pong before considering connection stale
	PingInterval     time.Duration // How often the client pings
	WriteTimeout     time.Duration // Write deadline for sends and control frames
	HandshakeTimeout time.Duration // Dial handshake limit
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingTimeout:      60 * time.Second,
		PingInterval:     30 * time.Second,
		WriteTimeout:     5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		BufferSize:       256,
	}
}

// State is the connection state of a Session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateReauthenticating
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReauthenticating:
		return "reauthenticating"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// StateChange is delivered to state subscribers after every transition.
type StateChange struct {
	From    State
	To      State
	Attempt int
	Err     error // set when To is a terminal Closed
}

// SessionConfig configures a Session.
type SessionConfig struct {
	URL             string // Base websocket URL, e.g. wss://api.example.com
	MaxAttempts     int    // Reconnects allowed before the session fails
	AuthFailureCode int    // Application close code meaning "token rejected"
	Backoff         backoff.Policy
	Client          ClientConfig // URL is filled per dial

	// ReauthGrace is how long a refreshed connection must stay open before
	// another auth failure earns a fresh refresh.
	ReauthGrace time.Duration
}

// DefaultReauthGrace is the default SessionConfig.ReauthGrace.
const DefaultReauthGrace = 30 * time.Second

// DefaultSessionConfig returns the default reconnect policy.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxAttempts:     5,
		AuthFailureCode: DefaultAuthFailureCode,
		Backoff:         backoff.Default(),
		Client:          DefaultClientConfig(),
		ReauthGrace:     DefaultReauthGrace,
	}
}
