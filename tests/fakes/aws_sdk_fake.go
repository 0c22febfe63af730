package fakes

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
)

// FakeSecretsManagerClient is a mock implementation of the Secrets Manager
// client subset the aws backend uses.
type FakeSecretsManagerClient struct {
	mu sync.Mutex

	// Secrets maps secret names to their data
	Secrets map[string]*SecretData
	// Errors maps secret names to errors to return
	Errors map[string]error
	// GetSecretValueFunc allows custom behavior for GetSecretValue
	GetSecretValueFunc func(ctx context.Context, params *secretsmanager.GetSecretValueInput) (*secretsmanager.GetSecretValueOutput, error)

	Requests []string
}

// SecretData holds the data for a mock secret
type SecretData struct {
	SecretString *string
	SecretBinary []byte
	VersionId    *string
}

// NewFakeSecretsManagerClient creates a new mock Secrets Manager client
func NewFakeSecretsManagerClient() *FakeSecretsManagerClient {
	return &FakeSecretsManagerClient{
		Secrets: make(map[string]*SecretData),
		Errors:  make(map[string]error),
	}
}

// AddSecretString adds a string secret to the mock client
func (f *FakeSecretsManagerClient) AddSecretString(name, value string) {
	f.Secrets[name] = &SecretData{
		SecretString: aws.String(value),
		VersionId:    aws.String("v1-abc123"),
	}
}

// AddSecretBinary adds a binary secret to the mock client
func (f *FakeSecretsManagerClient) AddSecretBinary(name string, value []byte) {
	f.Secrets[name] = &SecretData{
		SecretBinary: value,
		VersionId:    aws.String("v1-abc123"),
	}
}

// AddError configures the mock to return an error for a specific secret
func (f *FakeSecretsManagerClient) AddError(name string, err error) {
	f.Errors[name] = err
}

// GetSecretValue mocks the GetSecretValue operation
func (f *FakeSecretsManagerClient) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.mu.Lock()
	f.Requests = append(f.Requests, aws.ToString(params.SecretId))
	f.mu.Unlock()

	if f.GetSecretValueFunc != nil {
		return f.GetSecretValueFunc(ctx, params)
	}

	secretName := aws.ToString(params.SecretId)

	if err, exists := f.Errors[secretName]; exists {
		return nil, err
	}

	data, exists := f.Secrets[secretName]
	if !exists {
		return nil, &types.ResourceNotFoundException{
			Message: aws.String(fmt.Sprintf("Secrets Manager can't find the specified secret: %s", secretName)),
		}
	}

	return &secretsmanager.GetSecretValueOutput{
		ARN:          aws.String(fmt.Sprintf("arn:aws:secretsmanager:us-east-1:123456789012:secret:%s", secretName)),
		Name:         params.SecretId,
		SecretString: data.SecretString,
		SecretBinary: data.SecretBinary,
		VersionId:    data.VersionId,
	}, nil
}

// FakeSTSClient answers GetCallerIdentity.
type FakeSTSClient struct {
	Arn     string
	Account string
	Err     error
	Calls   int
}

// NewFakeSTSClient creates an STS fake for a fixed identity.
func NewFakeSTSClient(arn string) *FakeSTSClient {
	return &FakeSTSClient{Arn: arn, Account: "123456789012"}
}

// GetCallerIdentity mocks the GetCallerIdentity operation
func (f *FakeSTSClient) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}
	return &sts.GetCallerIdentityOutput{
		Arn:     aws.String(f.Arn),
		Account: aws.String(f.Account),
		UserId:  aws.String("AIDAEXAMPLE"),
	}, nil
}

// AWSAccessDeniedError creates a mock AWS access denied error
func AWSAccessDeniedError(message string) error {
	return &smithy.GenericAPIError{Code: "AccessDeniedException", Message: message}
}

// AWSExpiredTokenError creates a mock AWS expired credentials error
func AWSExpiredTokenError() error {
	return &smithy.GenericAPIError{Code: "ExpiredToken", Message: "The security token included in the request is expired"}
}
