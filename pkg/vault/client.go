package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/systmms/punlock/internal/logging"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 30 * time.Second
)

// Client is an unauthenticated handle on a backend.
type Client struct {
	backend  Backend
	resolver Resolver
	identity string

	prompter   Prompter
	logger     *logging.Logger
	timeout    time.Duration
	minBackoff time.Duration
	maxBackoff time.Duration
	sleep      func(context.Context, time.Duration) error
	now        func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithPrompter sets where prompted backends read the credential from.
func WithPrompter(p Prompter) Option {
	return func(c *Client) {
		c.prompter = p
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithTimeout bounds every individual backend call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithBackoff sets the wait between failed attempts. Prompted backends
// only wait after a failed prompt read; the user is the rate limit.
func WithBackoff(initial, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.minBackoff = initial
		c.maxBackoff = maxDelay
	}
}

// WithClock replaces time.Now and the backoff sleep. Tests only.
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// NewClient creates an unauthenticated client for identity on backend.
func NewClient(backend Backend, resolver Resolver, identity string, opts ...Option) *Client {
	c := &Client{
		backend:    backend,
		resolver:   resolver,
		identity:   identity,
		logger:     logging.Discard(),
		timeout:    defaultTimeout,
		minBackoff: defaultInitialBackoff,
		maxBackoff: defaultMaxBackoff,
		sleep:      sleepContext,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authenticate obtains a session, retrying until the backend accepts a
// credential. Rejections are logged and retried; once attempts start, the
// only error returned is the context's, when it is cancelled. A backend that
// needs a typed credential but was given no prompter fails immediately with
// ErrNoPrompter: that is a wiring mistake, not a rejected login.
//
// Before the first attempt any existing backend session is dropped and the
// endpoint override, if any, is applied. Both are best effort.
func (c *Client) Authenticate(ctx context.Context, endpoint string) (*Session, error) {
	name := c.backend.Name()

	if err := c.withTimeout(ctx, c.backend.Invalidate); err != nil {
		c.logger.Debug("Ignoring %s logout failure: %v", name, err)
	}

	if endpoint != "" {
		err := c.withTimeout(ctx, func(ctx context.Context) error {
			return c.backend.SetEndpoint(ctx, endpoint)
		})
		if err != nil {
			c.logger.Warn("Could not point %s at %s: %v", name, endpoint, err)
		}
	}

	prompted := c.backend.CredentialMode() == CredentialPrompted
	if prompted && c.prompter == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrNoPrompter)
	}

	delay := c.minBackoff
	backoff := func() error {
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
		if delay > c.maxBackoff {
			delay = c.maxBackoff
		}
		return nil
	}

	for attempt := 1; ; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var credential string
		if prompted {
			value, err := c.prompter.Password(ctx, c.promptMessage(endpoint))
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				c.logger.Warn("Could not read credential: %v", err)
				if err := backoff(); err != nil {
					return nil, err
				}
				continue
			}
			if strings.TrimSpace(value) == "" {
				continue
			}
			credential = value
		}

		result, err := c.login(ctx, credential)
		if err == nil {
			if result.AlreadyAuthenticated {
				c.logger.Debug("%s reported an existing session for %s", name, c.identity)
			}
			c.logger.Info("Authenticated to %s as %s", name, c.identity)
			return newSession(c, result), nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if IsTimeout(err) {
			c.logger.Error("Authentication attempt %d timed out after %s", attempt, c.timeout)
		} else {
			c.logger.Error("Authentication attempt %d failed: %v", attempt, err)
		}
		attempt++

		if !prompted {
			if err := backoff(); err != nil {
				return nil, err
			}
		}
	}
}

func (c *Client) login(ctx context.Context, credential string) (LoginResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := c.backend.Login(ctx, c.identity, credential)
	if err != nil {
		return LoginResult{}, err
	}
	if strings.TrimSpace(result.Token) == "" {
		return LoginResult{}, &AuthError{Backend: c.backend.Name(), Message: "backend returned an empty token"}
	}
	result.Token = strings.TrimSpace(result.Token)
	return result, nil
}

func (c *Client) promptMessage(endpoint string) string {
	if endpoint != "" {
		return fmt.Sprintf("Enter password for %s[%s] user %s: ", c.backend.Name(), endpoint, c.identity)
	}
	return fmt.Sprintf("Enter password for %s user %s: ", c.backend.Name(), c.identity)
}

func (c *Client) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return fn(ctx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsTimeout reports whether err came from a per-call deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
