// Package auth provides the marketplace Credential Source: the current
// identity (user id + access token) and a coalesced token refresh.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/rickgao/freightline/internal/api"
)

// Errors
var (
	ErrNoRefreshToken = errors.New("no refresh token available")
	ErrLoggedOut      = errors.New("identity cleared")
)

// Identity is the authenticated principal a Session connects as.
type Identity struct {
	UserID       string
	AccessToken  string
	RefreshToken string
}

// Valid reports whether the identity can open a connection.
func (id Identity) Valid() bool {
	return id.UserID != "" && id.AccessToken != ""
}

// SameConnection reports whether two identities would produce the same
// connection (same user, same access token).
func (id Identity) SameConnection(other Identity) bool {
	return id.UserID == other.UserID && id.AccessToken == other.AccessToken
}

// Source supplies the current identity and refreshes it on demand.
type Source interface {
	Identity() Identity
	Refresh(ctx context.Context) (Identity, error)
	Subscribe(fn func(Identity)) (cancel func())
}

// Refresher exchanges a refresh token for a new pair.
type Refresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (api.TokenPair, error)
}

// TokenSource is a Source backed by the REST token-refresh endpoint.
type TokenSource struct {
	refresher Refresher
	logger    *slog.Logger
	group     singleflight.Group

	mu        sync.RWMutex
	identity  Identity
	nextSubID int
	subs      map[int]func(Identity)
}

// NewTokenSource creates a TokenSource seeded with initial.
func NewTokenSource(refresher Refresher, initial Identity, logger *slog.Logger) *TokenSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenSource{
		refresher: refresher,
		identity:  initial,
		logger:    logger.With("component", "auth"),
		subs:      make(map[int]func(Identity)),
	}
}

// Identity returns the current identity.
func (s *TokenSource) Identity() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// AccessToken returns the current access token. It matches api.TokenFunc.
func (s *TokenSource) AccessToken() string {
	return s.Identity().AccessToken
}

// Refresh obtains a new access token. Concurrent callers share one request.
// On success subscribers are notified with the new identity.
func (s *TokenSource) Refresh(ctx context.Context) (Identity, error) {
	v, err, shared := s.group.Do("refresh", func() (any, error) {
		return s.refresh(ctx)
	})
	if err != nil {
		return Identity{}, err
	}
	if shared {
		s.logger.Debug("refresh coalesced")
	}
	return v.(Identity), nil
}

func (s *TokenSource) refresh(ctx context.Context) (Identity, error) {
	current := s.Identity()
	if current.RefreshToken == "" {
		return Identity{}, ErrNoRefreshToken
	}

	pair, err := s.refresher.RefreshToken(ctx, current.RefreshToken)
	if err != nil {
		s.logger.Warn("token refresh failed", "user_id", current.UserID, "error", err)
		return Identity{}, fmt.Errorf("refresh credentials: %w", err)
	}

	next := Identity{
		UserID:       current.UserID,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}
	if pair.UserID != "" {
		next.UserID = pair.UserID
	}

	s.mu.Lock()
	if s.identity.RefreshToken != current.RefreshToken {
		// Replaced (login/logout) while the request was in flight.
		s.mu.Unlock()
		return Identity{}, ErrLoggedOut
	}
	s.identity = next
	s.mu.Unlock()

	s.logger.Info("credentials refreshed", "user_id", next.UserID)
	s.notify(next)
	return next, nil
}

// SetIdentity replaces the identity (login, account switch or logout with
// the zero value) and notifies subscribers if it changed.
func (s *TokenSource) SetIdentity(id Identity) {
	s.mu.Lock()
	changed := s.identity != id
	s.identity = id
	s.mu.Unlock()

	if changed {
		s.notify(id)
	}
}

// Subscribe registers fn to receive every identity change. The returned
// function removes the subscription and is safe to call more than once.
func (s *TokenSource) Subscribe(fn func(Identity)) (cancel func()) {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *TokenSource) notify(id Identity) {
	s.mu.RLock()
	fns := make([]func(Identity), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(id)
	}
}
