package fakes

import (
	"context"
	"sync"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"golang.org/x/oauth2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FakeGCPSecretManagerClient is a mock implementation of the Secret
// Manager client subset the gcp backend uses.
type FakeGCPSecretManagerClient struct {
	mu sync.Mutex

	// Versions maps full version resource names to payloads
	Versions map[string][]byte
	// Errors maps resource names to errors to return
	Errors map[string]error

	Requests []string
}

// NewFakeGCPSecretManagerClient creates a new mock Secret Manager client
func NewFakeGCPSecretManagerClient() *FakeGCPSecretManagerClient {
	return &FakeGCPSecretManagerClient{
		Versions: make(map[string][]byte),
		Errors:   make(map[string]error),
	}
}

// AddSecretString adds a payload under projects/<p>/secrets/<s>/versions/<v>
func (f *FakeGCPSecretManagerClient) AddSecretString(projectID, secretName, version, value string) {
	f.Versions["projects/"+projectID+"/secrets/"+secretName+"/versions/"+version] = []byte(value)
}

// AddError configures the mock to return an error for a resource name
func (f *FakeGCPSecretManagerClient) AddError(resourceName string, err error) {
	f.Errors[resourceName] = err
}

// AccessSecretVersion mocks the AccessSecretVersion operation
func (f *FakeGCPSecretManagerClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	f.Requests = append(f.Requests, req.Name)
	f.mu.Unlock()

	if err, exists := f.Errors[req.Name]; exists {
		return nil, err
	}

	data, exists := f.Versions[req.Name]
	if !exists {
		return nil, GCPNotFoundError(req.Name)
	}

	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    req.Name,
		Payload: &secretmanagerpb.SecretPayload{Data: data},
	}, nil
}

// GCPNotFoundError creates a mock GCP not found error
func GCPNotFoundError(resourceName string) error {
	return status.Errorf(codes.NotFound, "Secret [%s] not found or has no versions.", resourceName)
}

// GCPPermissionDeniedError creates a mock GCP permission denied error
func GCPPermissionDeniedError(message string) error {
	return status.Error(codes.PermissionDenied, message)
}

// GCPUnavailableError creates a mock GCP connectivity error
func GCPUnavailableError() error {
	return status.Error(codes.Unavailable, "connection refused")
}

// FakeTokenSource is an oauth2.TokenSource with a scripted result.
type FakeTokenSource struct {
	Result *oauth2.Token
	Err    error
}

// Token implements oauth2.TokenSource.
func (f *FakeTokenSource) Token() (*oauth2.Token, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Result, nil
}
