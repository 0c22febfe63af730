package backends

import (
	"context"
	"fmt"
	"os"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/impersonate"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/systmms/punlock/internal/config"
	dserrors "github.com/systmms/punlock/internal/errors"
	"github.com/systmms/punlock/internal/logging"
	"github.com/systmms/punlock/pkg/vault"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// GCPSecretManagerAPI is the part of the Secret Manager client GCP uses.
type GCPSecretManagerAPI interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
}

// GCP reads items from Google Secret Manager.
type GCP struct {
	projectID string
	client    GCPSecretManagerAPI
	tokens    oauth2.TokenSource
	closer    func() error
	logger    *logging.Logger
}

// GCPOption configures GCP.
type GCPOption func(*GCP)

// WithGCPSecretManagerClient sets a custom Secret Manager client (for testing)
func WithGCPSecretManagerClient(c GCPSecretManagerAPI) GCPOption {
	return func(g *GCP) {
		g.client = c
	}
}

// WithTokenSource replaces Application Default Credentials.
func WithTokenSource(ts oauth2.TokenSource) GCPOption {
	return func(g *GCP) {
		g.tokens = ts
	}
}

// WithGCPLogger sets the logger.
func WithGCPLogger(l *logging.Logger) GCPOption {
	return func(g *GCP) {
		g.logger = l
	}
}

// NewGCP creates the backend for cfg.ProjectID.
func NewGCP(ctx context.Context, cfg config.GCPConfig, opts ...GCPOption) (*GCP, error) {
	if cfg.ProjectID == "" {
		return nil, dserrors.ConfigError{
			Field:      "gcp.project_id",
			Message:    "project_id is required for GCP Secret Manager",
			Suggestion: "Set project_id under [gcp]",
		}
	}

	g := &GCP{projectID: cfg.ProjectID, logger: logging.Discard()}
	for _, opt := range opts {
		opt(g)
	}

	if g.tokens == nil {
		ts, err := gcpTokenSource(ctx, cfg)
		if err != nil {
			return nil, err
		}
		g.tokens = ts
	}

	if g.client == nil {
		client, err := secretmanager.NewClient(ctx, option.WithTokenSource(g.tokens))
		if err != nil {
			return nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
		}
		g.client = client
		g.closer = client.Close
	}
	return g, nil
}

func gcpTokenSource(ctx context.Context, cfg config.GCPConfig) (oauth2.TokenSource, error) {
	if cfg.ImpersonateServiceAccount != "" {
		var opts []option.ClientOption
		if cfg.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		}
		ts, err := impersonate.CredentialsTokenSource(ctx, impersonate.CredentialsConfig{
			TargetPrincipal: cfg.ImpersonateServiceAccount,
			Scopes:          []string{cloudPlatformScope},
		}, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create impersonated credentials: %w", err)
		}
		return ts, nil
	}

	if cfg.CredentialsFile != "" {
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, &dserrors.IoError{Op: "read credentials file", Path: cfg.CredentialsFile, Err: err}
		}
		creds, err := google.CredentialsFromJSON(ctx, data, cloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("invalid GCP credentials file: %w", err)
		}
		return creds.TokenSource, nil
	}

	creds, err := google.FindDefaultCredentials(ctx, cloudPlatformScope)
	if err != nil {
		return nil, dserrors.UserError{
			Message:    "No Google Application Default Credentials found",
			Suggestion: "Run 'gcloud auth application-default login' or set GOOGLE_APPLICATION_CREDENTIALS",
			Err:        err,
		}
	}
	return creds.TokenSource, nil
}

func (g *GCP) Name() string { return "gcp" }

func (g *GCP) CredentialMode() vault.CredentialMode { return vault.CredentialAmbient }

func (g *GCP) Invalidate(ctx context.Context) error { return nil }

// SetEndpoint is unsupported.
func (g *GCP) SetEndpoint(ctx context.Context, endpoint string) error {
	return fmt.Errorf("gcp does not support endpoint overrides")
}

// Login fetches an access token to prove the credentials work.
func (g *GCP) Login(ctx context.Context, identity, credential string) (vault.LoginResult, error) {
	token, err := g.tokens.Token()
	if err != nil {
		return vault.LoginResult{}, &vault.AuthError{Backend: g.Name(), Err: err}
	}
	return vault.LoginResult{Token: token.AccessToken, ExpiresAt: token.Expiry}, nil
}

// GetItem accesses "secret" (latest) or "secret/version".
func (g *GCP) GetItem(ctx context.Context, token, id string) ([]byte, error) {
	name := g.resourceName(id)

	resp, err := g.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		st, ok := status.FromError(err)
		if !ok || st.Code() == codes.Unavailable || st.Code() == codes.DeadlineExceeded || st.Code() == codes.Canceled {
			return nil, &vault.TransportError{Backend: g.Name(), Op: "access secret version", Err: err}
		}
		return nil, &vault.FetchError{ID: id, Message: fmt.Sprintf("%s: %s", st.Code(), st.Message())}
	}

	var data string
	if resp.GetPayload() != nil {
		data = string(resp.GetPayload().GetData())
	}
	return envelope(map[string]any{
		"name": resp.GetName(),
		"data": data,
	}, data)
}

// Revoke releases the gRPC connection. Access tokens expire on their own.
func (g *GCP) Revoke(ctx context.Context, token string) error {
	if g.closer == nil {
		return nil
	}
	return g.closer()
}

func (g *GCP) resourceName(id string) string {
	if strings.HasPrefix(id, "projects/") {
		return id
	}
	secret, version := splitVersion(id)
	if version == "" {
		version = "latest"
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", g.projectID, secret, version)
}
