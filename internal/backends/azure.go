package backends

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	"github.com/systmms/punlock/internal/config"
	dserrors "github.com/systmms/punlock/internal/errors"
	"github.com/systmms/punlock/internal/logging"
	"github.com/systmms/punlock/pkg/vault"
)

const keyVaultScope = "https://vault.azure.net/.default"

// AzureKeyVaultClientAPI is the part of the Key Vault client Azure uses.
type AzureKeyVaultClientAPI interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
}

// Azure reads items from Azure Key Vault.
type Azure struct {
	client     AzureKeyVaultClientAPI
	credential azcore.TokenCredential
	logger     *logging.Logger

	clientSecret string
}

// AzureOption configures Azure.
type AzureOption func(*Azure)

// WithAzureKeyVaultClient sets a custom Azure Key Vault client (for testing)
func WithAzureKeyVaultClient(c AzureKeyVaultClientAPI) AzureOption {
	return func(a *Azure) {
		a.client = c
	}
}

// WithTokenCredential replaces the credential chain.
func WithTokenCredential(c azcore.TokenCredential) AzureOption {
	return func(a *Azure) {
		a.credential = c
	}
}

// WithClientSecret authenticates as the service principal in the [azure]
// section using secret.
func WithClientSecret(secret string) AzureOption {
	return func(a *Azure) {
		a.clientSecret = secret
	}
}

// WithAzureLogger sets the logger.
func WithAzureLogger(l *logging.Logger) AzureOption {
	return func(a *Azure) {
		a.logger = l
	}
}

// NewAzure creates the backend for the configured vault.
func NewAzure(cfg config.AzureConfig, opts ...AzureOption) (*Azure, error) {
	if cfg.VaultURL == "" {
		return nil, dserrors.ConfigError{
			Field:      "azure.vault_url",
			Message:    "vault_url is required for Azure Key Vault",
			Suggestion: "Provide the Key Vault URL (e.g., https://my-vault.vault.azure.net/)",
		}
	}

	a := &Azure{logger: logging.Discard()}
	for _, opt := range opts {
		opt(a)
	}

	if a.credential == nil {
		cred, err := azureCredential(cfg, a.clientSecret)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure credential: %w", err)
		}
		a.credential = cred
	}

	if a.client == nil {
		client, err := azsecrets.NewClient(cfg.VaultURL, a.credential, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Key Vault client: %w", err)
		}
		a.client = client
	}
	return a, nil
}

func azureCredential(cfg config.AzureConfig, clientSecret string) (azcore.TokenCredential, error) {
	switch {
	case cfg.UseManagedIdentity:
		var opts *azidentity.ManagedIdentityCredentialOptions
		if cfg.ClientID != "" {
			opts = &azidentity.ManagedIdentityCredentialOptions{ID: azidentity.ClientID(cfg.ClientID)}
		}
		return azidentity.NewManagedIdentityCredential(opts)
	case clientSecret != "" && cfg.TenantID != "" && cfg.ClientID != "":
		return azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, clientSecret, nil)
	default:
		var opts *azidentity.DefaultAzureCredentialOptions
		if cfg.TenantID != "" {
			opts = &azidentity.DefaultAzureCredentialOptions{TenantID: cfg.TenantID}
		}
		return azidentity.NewDefaultAzureCredential(opts)
	}
}

func (a *Azure) Name() string { return "azure" }

func (a *Azure) CredentialMode() vault.CredentialMode { return vault.CredentialAmbient }

func (a *Azure) Invalidate(ctx context.Context) error { return nil }

// SetEndpoint is unsupported; the vault URL is part of the configuration.
func (a *Azure) SetEndpoint(ctx context.Context, endpoint string) error {
	return fmt.Errorf("azure vault is set through azure.vault_url")
}

// Login acquires a Key Vault access token from the credential chain.
func (a *Azure) Login(ctx context.Context, identity, credential string) (vault.LoginResult, error) {
	token, err := a.credential.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{keyVaultScope}})
	if err != nil {
		return vault.LoginResult{}, &vault.AuthError{Backend: a.Name(), Err: err}
	}
	return vault.LoginResult{Token: token.Token, ExpiresAt: token.ExpiresOn}, nil
}

// GetItem fetches "name" (latest) or "name/version".
func (a *Azure) GetItem(ctx context.Context, token, id string) ([]byte, error) {
	name, version := splitVersion(id)

	resp, err := a.client.GetSecret(ctx, name, version, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) {
			return nil, &vault.FetchError{ID: id, Message: fmt.Sprintf("%d %s", respErr.StatusCode, respErr.ErrorCode)}
		}
		return nil, &vault.TransportError{Backend: a.Name(), Op: "get secret", Err: err}
	}

	secret := resp.Secret
	fields := map[string]any{
		"id":          "",
		"name":        name,
		"version":     version,
		"contentType": deref(secret.ContentType),
		"value":       deref(secret.Value),
		"tags":        tags(secret.Tags),
	}
	if secret.ID != nil {
		fields["id"] = string(*secret.ID)
		fields["name"] = secret.ID.Name()
		fields["version"] = secret.ID.Version()
	}
	return envelope(fields, deref(secret.Value))
}

func (a *Azure) Revoke(ctx context.Context, token string) error { return nil }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func tags(in map[string]*string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = deref(v)
	}
	return out
}
