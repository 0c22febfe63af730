package vault

import (
	"sync"
	"time"
)

// tokenCache holds the session token for the lifetime of the process. It is
// never persisted.
type tokenCache struct {
	mu        sync.RWMutex
	token     string
	expiresAt time.Time
	now       func() time.Time
}

func newTokenCache(now func() time.Time) *tokenCache {
	if now == nil {
		now = time.Now
	}
	return &tokenCache{now: now}
}

// get returns the token if it is set and not expired. A zero expiry never
// expires.
func (c *tokenCache) get() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.token == "" {
		return "", false
	}
	if !c.expiresAt.IsZero() && !c.now().Before(c.expiresAt) {
		return "", false
	}
	return c.token, true
}

// peek returns the token regardless of expiry, for revocation.
func (c *tokenCache) peek() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// set stores a token. A small buffer is taken off a reported expiry so a
// fetch does not start with a token that dies mid-request.
func (c *tokenCache) set(token string, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.token = token
	if !expiresAt.IsZero() {
		buffer := 5 * time.Second
		if expiresAt.Sub(c.now()) > buffer {
			expiresAt = expiresAt.Add(-buffer)
		}
	}
	c.expiresAt = expiresAt
}

func (c *tokenCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.token = ""
	c.expiresAt = time.Time{}
}

func (c *tokenCache) expiry() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.expiresAt
}
