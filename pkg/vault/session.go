package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/systmms/punlock/internal/logging"
)

// Session is an authenticated capability on a backend.
type Session struct {
	backend  Backend
	resolver Resolver
	identity string
	logger   *logging.Logger
	timeout  time.Duration
	tokens   *tokenCache
}

func newSession(c *Client, result LoginResult) *Session {
	s := &Session{
		backend:  c.backend,
		resolver: c.resolver,
		identity: c.identity,
		logger:   c.logger,
		timeout:  c.timeout,
		tokens:   newTokenCache(c.now),
	}
	s.tokens.set(result.Token, result.ExpiresAt)
	if !result.ExpiresAt.IsZero() {
		s.logger.Debug("%s session valid until %s", c.backend.Name(), result.ExpiresAt.Format(time.RFC3339))
	}
	return s
}

// Backend returns the backend name the session is bound to.
func (s *Session) Backend() string {
	return s.backend.Name()
}

// Identity returns the identity that authenticated.
func (s *Session) Identity() string {
	return s.identity
}

// Token returns the capability token, or "" once it has expired or the
// session was logged out.
func (s *Session) Token() string {
	token, _ := s.tokens.get()
	return token
}

// ExpiresAt returns the expiry reported at login, zero if none.
func (s *Session) ExpiresAt() time.Time {
	return s.tokens.expiry()
}

// Fetch retrieves item entry.ID and extracts entry.Query from it.
func (s *Session) Fetch(ctx context.Context, entry Entry) (string, error) {
	token, ok := s.tokens.get()
	if !ok {
		return "", ErrSessionExpired
	}
	if s.resolver == nil {
		return "", fmt.Errorf("no resolver configured for %s", s.backend.Name())
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	body, err := s.backend.GetItem(ctx, token, entry.ID)
	if err != nil {
		return "", err
	}

	var document any
	if err := json.Unmarshal(body, &document); err != nil {
		return "", &ParseError{ID: entry.ID, Err: err}
	}

	return s.resolver.Resolve(document, entry.Query)
}

// Logout revokes the session. Failures are logged and swallowed; the
// session is unusable afterwards either way.
func (s *Session) Logout(ctx context.Context) {
	token := s.tokens.peek()
	s.tokens.clear()
	if token == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.backend.Revoke(ctx, token); err != nil {
		s.logger.Debug("Ignoring %s logout failure: %v", s.backend.Name(), err)
		return
	}
	s.logger.Debug("Logged out of %s", s.backend.Name())
}
