package backends

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"

	"github.com/systmms/punlock/internal/config"
	"github.com/systmms/punlock/internal/logging"
	"github.com/systmms/punlock/pkg/vault"
)

// SecretsManagerClientAPI is the part of the Secrets Manager client AWS uses.
type SecretsManagerClientAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// STSClientAPI is the part of the STS client AWS uses.
type STSClientAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// AWS reads items from AWS Secrets Manager. The session token is the
// caller ARN; the SDK signs every request itself.
type AWS struct {
	secrets SecretsManagerClientAPI
	sts     STSClientAPI
	logger  *logging.Logger

	accessKeyID     string
	secretAccessKey string
}

// AWSOption configures AWS.
type AWSOption func(*AWS)

// WithSecretsManagerClient sets a custom Secrets Manager client (for testing)
func WithSecretsManagerClient(c SecretsManagerClientAPI) AWSOption {
	return func(a *AWS) {
		a.secrets = c
	}
}

// WithSTSClient sets a custom STS client (for testing)
func WithSTSClient(c STSClientAPI) AWSOption {
	return func(a *AWS) {
		a.sts = c
	}
}

// WithStaticCredentials replaces the default credential chain.
func WithStaticCredentials(accessKeyID, secretAccessKey string) AWSOption {
	return func(a *AWS) {
		a.accessKeyID = accessKeyID
		a.secretAccessKey = secretAccessKey
	}
}

// WithAWSLogger sets the logger.
func WithAWSLogger(l *logging.Logger) AWSOption {
	return func(a *AWS) {
		a.logger = l
	}
}

// NewAWS creates the backend, loading the SDK configuration unless both
// clients were injected.
func NewAWS(ctx context.Context, cfg config.AWSConfig, opts ...AWSOption) (*AWS, error) {
	a := &AWS{logger: logging.Discard()}
	for _, opt := range opts {
		opt(a)
	}
	if a.secrets != nil && a.sts != nil {
		return a, nil
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if a.accessKeyID != "" && a.secretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			awscreds.NewStaticCredentialsProvider(a.accessKeyID, a.secretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if a.secrets == nil {
		var smOpts []func(*secretsmanager.Options)
		if cfg.Endpoint != "" {
			endpoint := cfg.Endpoint
			smOpts = append(smOpts, func(o *secretsmanager.Options) {
				o.BaseEndpoint = &endpoint
			})
		}
		a.secrets = secretsmanager.NewFromConfig(awsCfg, smOpts...)
	}
	if a.sts == nil {
		var stsOpts []func(*sts.Options)
		if cfg.Endpoint != "" {
			endpoint := cfg.Endpoint
			stsOpts = append(stsOpts, func(o *sts.Options) {
				o.BaseEndpoint = &endpoint
			})
		}
		a.sts = sts.NewFromConfig(awsCfg, stsOpts...)
	}
	return a, nil
}

func (a *AWS) Name() string { return "aws" }

func (a *AWS) CredentialMode() vault.CredentialMode { return vault.CredentialAmbient }

func (a *AWS) Invalidate(ctx context.Context) error { return nil }

// SetEndpoint is unsupported after construction; use aws.endpoint instead.
func (a *AWS) SetEndpoint(ctx context.Context, endpoint string) error {
	return fmt.Errorf("aws endpoint is set through the [aws] config section")
}

// Login proves the credential chain works by asking STS who we are.
func (a *AWS) Login(ctx context.Context, identity, credential string) (vault.LoginResult, error) {
	out, err := a.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return vault.LoginResult{}, a.authError(err)
	}
	arn := aws.ToString(out.Arn)
	a.logger.Debug("AWS caller identity: %s (account %s)", arn, aws.ToString(out.Account))
	return vault.LoginResult{Token: arn}, nil
}

// GetItem fetches the current version of a secret by name or ARN.
func (a *AWS) GetItem(ctx context.Context, token, id string) ([]byte, error) {
	input := &secretsmanager.GetSecretValueInput{SecretId: aws.String(id)}

	out, err := a.secrets.GetSecretValue(ctx, input)
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return nil, &vault.FetchError{ID: id, Message: fmt.Sprintf("%s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage())}
		}
		return nil, &vault.TransportError{Backend: a.Name(), Op: "get secret value", Err: err}
	}

	value := aws.ToString(out.SecretString)
	if out.SecretString == nil && out.SecretBinary != nil {
		value = string(out.SecretBinary)
	}

	return envelope(map[string]any{
		"name":         aws.ToString(out.Name),
		"arn":          aws.ToString(out.ARN),
		"versionId":    aws.ToString(out.VersionId),
		"secretString": value,
	}, value)
}

func (a *AWS) Revoke(ctx context.Context, token string) error { return nil }

func (a *AWS) authError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return &vault.AuthError{Backend: a.Name(), Message: apiErr.ErrorCode() + ": " + apiErr.ErrorMessage(), Err: err}
	}
	return &vault.AuthError{Backend: a.Name(), Err: err}
}
