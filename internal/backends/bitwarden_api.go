package backends

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/systmms/punlock/internal/credentials"
	"github.com/systmms/punlock/internal/logging"
	"github.com/systmms/punlock/pkg/vault"
)

const (
	deviceName = "punlock"
	// deviceType is Bitwarden's LinuxCLI client type.
	deviceType = "25"

	maxItemSize = 1 << 20
)

// BitwardenAPI talks to the Bitwarden server directly with a personal API
// key. Item fields come back encrypted; decrypting them is out of scope,
// so queries usually target metadata or already-plain fields.
type BitwardenAPI struct {
	creds  credentials.Credentials
	client *http.Client
	logger *logging.Logger

	mu   sync.RWMutex
	base string
}

// APIOption configures BitwardenAPI.
type APIOption func(*BitwardenAPI)

// WithHTTPClient sets the HTTP client used for both token and item calls.
func WithHTTPClient(c *http.Client) APIOption {
	return func(b *BitwardenAPI) {
		b.client = c
	}
}

// WithAPILogger sets the logger.
func WithAPILogger(l *logging.Logger) APIOption {
	return func(b *BitwardenAPI) {
		b.logger = l
	}
}

// NewBitwardenAPI creates the HTTP backend for domain.
func NewBitwardenAPI(domain string, creds credentials.Credentials, opts ...APIOption) *BitwardenAPI {
	b := &BitwardenAPI{
		creds:  creds,
		client: &http.Client{Timeout: 60 * time.Second},
		logger: logging.Discard(),
		base:   baseURL(domain),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *BitwardenAPI) Name() string { return "bitwarden-api" }

// CredentialMode is ambient: the API key pair comes from the credentials
// store, not from a prompt.
func (b *BitwardenAPI) CredentialMode() vault.CredentialMode { return vault.CredentialAmbient }

// Invalidate is a no-op; client-credential tokens are not server sessions.
func (b *BitwardenAPI) Invalidate(ctx context.Context) error { return nil }

// SetEndpoint changes the server for subsequent calls.
func (b *BitwardenAPI) SetEndpoint(ctx context.Context, endpoint string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.base = baseURL(endpoint)
	return nil
}

func (b *BitwardenAPI) endpoint(path string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.base + path
}

// Login performs the client-credentials grant against the identity server.
func (b *BitwardenAPI) Login(ctx context.Context, identity, credential string) (vault.LoginResult, error) {
	cfg := clientcredentials.Config{
		ClientID:     b.creds.ClientID,
		ClientSecret: b.creds.ClientSecret,
		TokenURL:     b.endpoint("/identity/connect/token"),
		Scopes:       []string{"api"},
		AuthStyle:    oauth2.AuthStyleInParams,
		EndpointParams: url.Values{
			"deviceIdentifier": {b.creds.DeviceID},
			"deviceType":       {deviceType},
			"deviceName":       {deviceName},
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, b.client)
	token, err := cfg.Token(ctx)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			message := retrieveErr.ErrorCode
			if retrieveErr.ErrorDescription != "" {
				message += ": " + retrieveErr.ErrorDescription
			}
			if message == "" {
				message = retrieveErr.Response.Status
			}
			return vault.LoginResult{}, &vault.AuthError{Backend: b.Name(), Message: message, Err: err}
		}
		return vault.LoginResult{}, &vault.TransportError{Backend: b.Name(), Op: "token", Err: err}
	}

	b.logger.Debug("Token for %s issued (kdf=%v, iterations=%v)", identity, token.Extra("Kdf"), token.Extra("KdfIterations"))
	return vault.LoginResult{Token: token.AccessToken, ExpiresAt: token.Expiry}, nil
}

// GetItem fetches /api/ciphers/<id>.
func (b *BitwardenAPI) GetItem(ctx context.Context, token, id string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint("/api/ciphers/"+url.PathEscape(id)), nil)
	if err != nil {
		return nil, &vault.TransportError{Backend: b.Name(), Op: "get item", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, &vault.TransportError{Backend: b.Name(), Op: "get item", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxItemSize))
	if err != nil {
		return nil, &vault.TransportError{Backend: b.Name(), Op: "read item", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := resp.Status
		if text := trimmed(body); text != "" {
			message = fmt.Sprintf("%s: %s", resp.Status, text)
		}
		return nil, &vault.FetchError{ID: id, Message: message}
	}
	return body, nil
}

// Revoke is a no-op; the token simply expires.
func (b *BitwardenAPI) Revoke(ctx context.Context, token string) error { return nil }
