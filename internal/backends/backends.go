// Package backends implements vault.Backend for every supported secret
// store and builds the configured one.
package backends

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/systmms/punlock/internal/config"
	"github.com/systmms/punlock/internal/credentials"
	dserrors "github.com/systmms/punlock/internal/errors"
	"github.com/systmms/punlock/internal/logging"
	pkgexec "github.com/systmms/punlock/pkg/exec"
	"github.com/systmms/punlock/pkg/vault"
)

// Deps are the collaborators a backend may need.
type Deps struct {
	Executor pkgexec.CommandExecutor
	// Credentials are the stored API client pair. Required for
	// bitwarden-api, optional static keys for aws.
	Credentials *credentials.Credentials
	HTTPClient  *http.Client
	Logger      *logging.Logger
}

// New builds the backend selected by def.
func New(ctx context.Context, def *config.Definition, deps Deps) (vault.Backend, error) {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Executor == nil {
		deps.Executor = pkgexec.DefaultExecutor()
	}

	switch def.Backend {
	case "bitwarden-cli":
		return NewBitwardenCLI(deps.Executor, deps.Logger), nil

	case "bitwarden-api":
		if deps.Credentials == nil || !deps.Credentials.Complete() {
			return nil, dserrors.UserError{
				Message:    "bitwarden-api needs an API client id and secret",
				Suggestion: "Create a personal API key in the Bitwarden web vault under Account Settings > Security > Keys",
			}
		}
		opts := []APIOption{WithAPILogger(deps.Logger)}
		if deps.HTTPClient != nil {
			opts = append(opts, WithHTTPClient(deps.HTTPClient))
		}
		return NewBitwardenAPI(def.Domain, *deps.Credentials, opts...), nil

	case "aws":
		opts := []AWSOption{WithAWSLogger(deps.Logger)}
		if deps.Credentials != nil && deps.Credentials.Complete() {
			opts = append(opts, WithStaticCredentials(deps.Credentials.ClientID, deps.Credentials.ClientSecret))
		}
		return NewAWS(ctx, def.AWS, opts...)

	case "azure":
		opts := []AzureOption{WithAzureLogger(deps.Logger)}
		if deps.Credentials != nil && deps.Credentials.Complete() {
			opts = append(opts, WithClientSecret(deps.Credentials.ClientSecret))
		}
		return NewAzure(def.Azure, opts...)

	case "gcp":
		return NewGCP(ctx, def.GCP, WithGCPLogger(deps.Logger))

	default:
		return nil, dserrors.ConfigError{
			Field:      "backend",
			Value:      def.Backend,
			Message:    "unknown backend",
			Suggestion: "Available backends: " + strings.Join(config.Backends, ", "),
		}
	}
}

// Endpoint returns the server override for def, or "" for the default.
func Endpoint(def *config.Definition) string {
	if !def.NeedsEmail() || def.Domain == "" || def.Domain == config.DefaultDomain {
		return ""
	}
	return def.Domain
}

// NeedsCredentials reports whether backend reads the credentials store.
func NeedsCredentials(backend string) bool {
	return backend == "bitwarden-api"
}

func baseURL(domain string) string {
	if strings.HasPrefix(domain, "http://") || strings.HasPrefix(domain, "https://") {
		return strings.TrimRight(domain, "/")
	}
	return "https://" + strings.TrimRight(domain, "/")
}

// envelope serializes fields plus a "secret" member holding value: parsed
// when value is a JSON object or array, verbatim otherwise.
func envelope(fields map[string]any, value string) ([]byte, error) {
	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err == nil {
		switch parsed.(type) {
		case map[string]any, []any:
			fields["secret"] = parsed
		default:
			fields["secret"] = value
		}
	} else {
		fields["secret"] = value
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode item: %w", err)
	}
	return data, nil
}

// splitVersion splits "name/version" ids. The version is empty when absent.
func splitVersion(id string) (name, version string) {
	name, version, _ = strings.Cut(id, "/")
	return name, version
}
