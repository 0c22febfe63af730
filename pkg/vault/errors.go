package vault

import (
	"errors"
	"fmt"
)

// ErrSessionExpired is returned by Fetch once the backend-reported expiry
// has passed, or after Logout.
var ErrSessionExpired = errors.New("vault session expired")

// ErrNoPrompter means a backend that authenticates with a typed credential
// was handed to a Client built without WithPrompter.
var ErrNoPrompter = errors.New("backend needs a credential but no prompter is configured")

// AuthError is a rejected login. Authenticate retries these; they never
// escape it.
type AuthError struct {
	Backend string
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("%s: authentication failed: %v", e.Backend, e.Err)
	}
	return fmt.Sprintf("%s: authentication failed: %s", e.Backend, e.Message)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransportError means the backend could not be reached at all: the CLI
// failed to spawn, or the network round trip failed.
type TransportError struct {
	Backend string
	Op      string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// FetchError is a non-success response for one item. Message carries the
// backend's own trimmed error text.
type FetchError struct {
	ID      string
	Message string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s", e.ID, e.Message)
}

// ParseError means the item body is not valid JSON.
type ParseError struct {
	ID  string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.ID, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// QueryError means the extraction expression does not compile or cannot
// be applied to the document.
type QueryError struct {
	Query string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %q: %v", e.Query, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// ExtractionError means the query matched nothing, or matched something
// other than a string.
type ExtractionError struct {
	Query  string
	Reason string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("query %q: %s", e.Query, e.Reason)
}
