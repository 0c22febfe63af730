package fakes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

// FakeAzureKeyVaultClient is a mock implementation of the Key Vault client
// subset the azure backend uses.
type FakeAzureKeyVaultClient struct {
	mu sync.Mutex

	// Secrets maps secret names to their data
	Secrets map[string]*AzureSecretData
	// Errors maps secret names to errors to return
	Errors map[string]error

	Requests []string
}

// AzureSecretData holds the data for a mock Azure Key Vault secret
type AzureSecretData struct {
	Value       *string
	Tags        map[string]*string
	ContentType *string
	// Versions holds older values by version id
	Versions map[string]string
}

// NewFakeAzureKeyVaultClient creates a new mock Azure Key Vault client
func NewFakeAzureKeyVaultClient() *FakeAzureKeyVaultClient {
	return &FakeAzureKeyVaultClient{
		Secrets: make(map[string]*AzureSecretData),
		Errors:  make(map[string]error),
	}
}

// AddSecretString adds a string secret to the mock client
func (f *FakeAzureKeyVaultClient) AddSecretString(name, value string) {
	f.Secrets[name] = &AzureSecretData{Value: to.Ptr(value)}
}

// AddSecretWithTags adds a secret with tags and a content type
func (f *FakeAzureKeyVaultClient) AddSecretWithTags(name, value, contentType string, tags map[string]*string) {
	f.Secrets[name] = &AzureSecretData{Value: to.Ptr(value), ContentType: to.Ptr(contentType), Tags: tags}
}

// AddSecretVersion adds an explicit version of an existing secret
func (f *FakeAzureKeyVaultClient) AddSecretVersion(name, version, value string) {
	data, ok := f.Secrets[name]
	if !ok {
		data = &AzureSecretData{}
		f.Secrets[name] = data
	}
	if data.Versions == nil {
		data.Versions = make(map[string]string)
	}
	data.Versions[version] = value
}

// AddError configures the mock to return an error for a specific secret
func (f *FakeAzureKeyVaultClient) AddError(name string, err error) {
	f.Errors[name] = err
}

// GetSecret mocks the GetSecret operation
func (f *FakeAzureKeyVaultClient) GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error) {
	f.mu.Lock()
	f.Requests = append(f.Requests, name+"/"+version)
	f.mu.Unlock()

	if err, exists := f.Errors[name]; exists {
		return azsecrets.GetSecretResponse{}, err
	}

	data, exists := f.Secrets[name]
	if !exists {
		return azsecrets.GetSecretResponse{}, AzureNotFoundError(name)
	}

	value := data.Value
	resolved := "0123456789abcdef"
	if version != "" {
		v, ok := data.Versions[version]
		if !ok {
			return azsecrets.GetSecretResponse{}, AzureNotFoundError(name)
		}
		value = to.Ptr(v)
		resolved = version
	}

	id := azsecrets.ID(fmt.Sprintf("https://test-vault.vault.azure.net/secrets/%s/%s", name, resolved))
	return azsecrets.GetSecretResponse{
		Secret: azsecrets.Secret{
			ID:          &id,
			Value:       value,
			Tags:        data.Tags,
			ContentType: data.ContentType,
		},
	}, nil
}

// AzureNotFoundError creates a mock Azure not found error
func AzureNotFoundError(secretName string) error {
	return &azcore.ResponseError{
		StatusCode: 404,
		ErrorCode:  "SecretNotFound",
	}
}

// AzureForbiddenError creates a mock Azure forbidden error
func AzureForbiddenError() error {
	return &azcore.ResponseError{
		StatusCode: 403,
		ErrorCode:  "Forbidden",
	}
}

// FakeTokenCredential is an azcore.TokenCredential with a scripted result.
type FakeTokenCredential struct {
	Token     string
	ExpiresOn time.Time
	Err       error
	Scopes    []string
}

// GetToken implements azcore.TokenCredential.
func (f *FakeTokenCredential) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	f.Scopes = opts.Scopes
	if f.Err != nil {
		return azcore.AccessToken{}, f.Err
	}
	return azcore.AccessToken{Token: f.Token, ExpiresOn: f.ExpiresOn}, nil
}
