// Package vault defines the contract between punlock and a secret backend,
// and the session state machine built on top of it.
//
// A Client is unauthenticated and can only Authenticate. Authenticate hands
// back a Session, which is the only type able to fetch items. A Session is
// safe for concurrent use by any number of fetches.
package vault

import (
	"context"
	"time"
)

// CredentialMode tells the Client where login material comes from.
type CredentialMode int

const (
	// CredentialPrompted backends need a secret typed by the user (master
	// password, API client secret).
	CredentialPrompted CredentialMode = iota
	// CredentialAmbient backends authenticate from the environment (cloud
	// SDK credential chains) and never prompt.
	CredentialAmbient
)

func (m CredentialMode) String() string {
	switch m {
	case CredentialPrompted:
		return "prompted"
	case CredentialAmbient:
		return "ambient"
	default:
		return "unknown"
	}
}

// LoginResult is a successful backend login.
type LoginResult struct {
	Token string
	// ExpiresAt is zero when the backend does not report an expiry.
	ExpiresAt time.Time
	// AlreadyAuthenticated is set when the backend reported an existing
	// session and the token was recovered from it.
	AlreadyAuthenticated bool
}

// Backend is a vault that can authenticate an identity and return items as
// JSON documents.
type Backend interface {
	// Name identifies the backend type in logs and errors.
	Name() string
	CredentialMode() CredentialMode

	// Invalidate drops any session the backend already holds.
	Invalidate(ctx context.Context) error
	// SetEndpoint points the backend at a non-default server.
	SetEndpoint(ctx context.Context, endpoint string) error
	// Login exchanges identity and credential for a session token.
	// credential is empty for ambient backends.
	Login(ctx context.Context, identity, credential string) (LoginResult, error)
	// GetItem returns the raw JSON document for id.
	GetItem(ctx context.Context, token, id string) ([]byte, error)
	// Revoke ends the session identified by token.
	Revoke(ctx context.Context, token string) error
}

// Resolver extracts a scalar string from a parsed JSON document.
type Resolver interface {
	Resolve(document any, query string) (string, error)
}

// Prompter reads a masked credential from the user.
type Prompter interface {
	Password(ctx context.Context, message string) (string, error)
}

// Entry is one secret to materialize.
type Entry struct {
	// ID is the backend item identifier.
	ID string `toml:"id" yaml:"id" json:"id"`
	// Query selects the secret inside the item document.
	Query string `toml:"query" yaml:"query" json:"query"`
	// Path is relative to the store root.
	Path string `toml:"path" yaml:"path" json:"path"`
	// Public files are world-readable (0444) instead of owner-only (0400).
	Public bool `toml:"public,omitempty" yaml:"public,omitempty" json:"public,omitempty"`
	// Links are symlinks to create pointing at the placed file. Relative
	// links are resolved against the user's home directory.
	Links []string `toml:"links,omitempty" yaml:"links,omitempty" json:"links,omitempty"`
}
