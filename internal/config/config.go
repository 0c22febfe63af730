package config

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	dserrors "github.com/systmms/punlock/internal/errors"
	"github.com/systmms/punlock/internal/logging"
	"github.com/systmms/punlock/internal/placer"
	"github.com/systmms/punlock/internal/resolve"
	"github.com/systmms/punlock/internal/store"
	"github.com/systmms/punlock/pkg/vault"
)

const (
	// LatestVersion is written into configurations that omit a version.
	LatestVersion = "1.0.0"
	// DefaultDomain is the public Bitwarden cloud.
	DefaultDomain = "vault.bitwarden.com"
	// DefaultBackend drives the bw command line tool.
	DefaultBackend = "bitwarden-cli"
	// DefaultTimeout bounds every backend call.
	DefaultTimeout = 30 * time.Second
)

// Backends lists the backend names a configuration may select.
var Backends = []string{"bitwarden-cli", "bitwarden-api", "aws", "azure", "gcp"}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

//go:embed schema.json
var schema string

// Config holds the runtime configuration
type Config struct {
	Path       string
	Logger     *logging.Logger
	Paths      Paths
	Definition *Definition
}

// Definition is the on-disk configuration document.
type Definition struct {
	Version     string `toml:"version" yaml:"version" json:"version"`
	Email       string `toml:"email,omitempty" yaml:"email,omitempty" json:"email,omitempty"`
	Domain      string `toml:"domain,omitempty" yaml:"domain,omitempty" json:"domain,omitempty"`
	Backend     string `toml:"backend,omitempty" yaml:"backend,omitempty" json:"backend,omitempty"`
	Timeout     string `toml:"timeout,omitempty" yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Concurrency int    `toml:"concurrency,omitempty" yaml:"concurrency,omitempty" json:"concurrency,omitempty"`
	MetricsFile string `toml:"metrics_file,omitempty" yaml:"metrics_file,omitempty" json:"metrics_file,omitempty"`

	Store StoreConfig `toml:"store" yaml:"store" json:"store"`
	AWS   AWSConfig   `toml:"aws,omitempty" yaml:"aws,omitempty" json:"aws,omitempty"`
	Azure AzureConfig `toml:"azure,omitempty" yaml:"azure,omitempty" json:"azure,omitempty"`
	GCP   GCPConfig   `toml:"gcp,omitempty" yaml:"gcp,omitempty" json:"gcp,omitempty"`

	Entries []vault.Entry `toml:"entries" yaml:"entries" json:"entries"`
}

// StoreConfig describes the secret store root.
type StoreConfig struct {
	Root     string `toml:"root,omitempty" yaml:"root,omitempty" json:"root,omitempty"`
	Volatile *bool  `toml:"volatile,omitempty" yaml:"volatile,omitempty" json:"volatile,omitempty"`
	Size     string `toml:"size,omitempty" yaml:"size,omitempty" json:"size,omitempty"`
}

// IsVolatile reports whether a tmpfs should back the store. Defaults to true.
func (s StoreConfig) IsVolatile() bool {
	return s.Volatile == nil || *s.Volatile
}

// AWSConfig configures the AWS Secrets Manager backend.
type AWSConfig struct {
	Region   string `toml:"region,omitempty" yaml:"region,omitempty" json:"region,omitempty"`
	Endpoint string `toml:"endpoint,omitempty" yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Profile  string `toml:"profile,omitempty" yaml:"profile,omitempty" json:"profile,omitempty"`
}

// AzureConfig configures the Azure Key Vault backend.
type AzureConfig struct {
	VaultURL           string `toml:"vault_url,omitempty" yaml:"vault_url,omitempty" json:"vault_url,omitempty"`
	TenantID           string `toml:"tenant_id,omitempty" yaml:"tenant_id,omitempty" json:"tenant_id,omitempty"`
	ClientID           string `toml:"client_id,omitempty" yaml:"client_id,omitempty" json:"client_id,omitempty"`
	UseManagedIdentity bool   `toml:"use_managed_identity,omitempty" yaml:"use_managed_identity,omitempty" json:"use_managed_identity,omitempty"`
}

// GCPConfig configures the Google Secret Manager backend.
type GCPConfig struct {
	ProjectID       string `toml:"project_id,omitempty" yaml:"project_id,omitempty" json:"project_id,omitempty"`
	CredentialsFile string `toml:"credentials_file,omitempty" yaml:"credentials_file,omitempty" json:"credentials_file,omitempty"`

	// ImpersonateServiceAccount, when set, is the service account whose
	// identity the ambient credentials act as.
	ImpersonateServiceAccount string `toml:"impersonate_service_account,omitempty" yaml:"impersonate_service_account,omitempty" json:"impersonate_service_account,omitempty"`
}

// Load reads, validates and fills in defaults for the configuration file.
// An empty Path is resolved against Paths.ConfigCandidates.
func (c *Config) Load() error {
	log := c.logger()

	if c.Path == "" {
		path, ok := Discover(c.Paths.ConfigCandidates)
		if !ok {
			return dserrors.ConfigError{
				Field:      "path",
				Value:      strings.Join(c.Paths.ConfigCandidates, ", "),
				Message:    "no configuration file found",
				Suggestion: fmt.Sprintf("Create %s with an 'email' and at least one [[entries]] table", c.Paths.UserConfigFile()),
			}
		}
		c.Path = path
	}
	log.Debug("Loading configuration from %s", c.Path)

	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return dserrors.ConfigError{
				Field:      "path",
				Value:      c.Path,
				Message:    "configuration file not found",
				Suggestion: "Check the --config flag, or omit it to use the default locations",
				Err:        err,
			}
		}
		return dserrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	def, err := Parse(data, formatOf(c.Path))
	if err != nil {
		return err
	}

	c.Definition = def
	return nil
}

// Parse decodes, schema-checks and validates a configuration document.
func Parse(data []byte, format string) (*Definition, error) {
	var raw map[string]any
	if err := unmarshal(data, format, &raw); err != nil {
		return nil, syntaxError(format, err)
	}
	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	var def Definition
	if err := unmarshal(data, format, &def); err != nil {
		return nil, syntaxError(format, err)
	}

	def.ApplyDefaults()
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// ApplyDefaults fills every unset optional field.
func (d *Definition) ApplyDefaults() {
	if d.Version == "" {
		d.Version = LatestVersion
	}
	if d.Domain == "" {
		d.Domain = DefaultDomain
	}
	if d.Backend == "" {
		d.Backend = DefaultBackend
	}
	if d.Timeout == "" {
		d.Timeout = DefaultTimeout.String()
	}
	if d.Store.Size == "" {
		d.Store.Size = store.DefaultSize
	}
}

// Validate checks the semantic rules the schema cannot express.
func (d *Definition) Validate() error {
	if d.Email != "" && !ValidEmail(d.Email) {
		return dserrors.ConfigError{
			Field:      "email",
			Value:      d.Email,
			Message:    "invalid email address",
			Suggestion: "Use the email address of your vault account, e.g. me@example.com",
		}
	}

	if !knownBackend(d.Backend) {
		return dserrors.ConfigError{
			Field:      "backend",
			Value:      d.Backend,
			Message:    "unknown backend",
			Suggestion: "Available backends: " + strings.Join(Backends, ", "),
		}
	}

	if timeout, err := time.ParseDuration(d.Timeout); err != nil || timeout <= 0 {
		return dserrors.ConfigError{
			Field:      "timeout",
			Value:      d.Timeout,
			Message:    "timeout must be a positive duration",
			Suggestion: "Use Go duration syntax, e.g. \"30s\" or \"2m\"",
		}
	}

	if d.Concurrency < 0 {
		return dserrors.ConfigError{
			Field:   "concurrency",
			Value:   d.Concurrency,
			Message: "concurrency cannot be negative",
		}
	}

	if err := store.ValidSize(d.Store.Size); err != nil {
		return dserrors.ConfigError{
			Field:      "store.size",
			Value:      d.Store.Size,
			Message:    "invalid tmpfs size",
			Suggestion: "Use a byte count with an optional k, m, g or % suffix, e.g. \"16M\"",
			Err:        err,
		}
	}

	switch d.Backend {
	case "azure":
		if d.Azure.VaultURL == "" {
			return dserrors.ConfigError{
				Field:      "azure.vault_url",
				Message:    "the azure backend requires a vault URL",
				Suggestion: "Set vault_url = \"https://<name>.vault.azure.net/\" under [azure]",
			}
		}
	case "gcp":
		if d.GCP.ProjectID == "" {
			return dserrors.ConfigError{
				Field:      "gcp.project_id",
				Message:    "the gcp backend requires a project id",
				Suggestion: "Set project_id under [gcp]",
			}
		}
	}

	seen := make(map[string]string, len(d.Entries))
	for i, entry := range d.Entries {
		field := fmt.Sprintf("entries[%d]", i)
		if strings.TrimSpace(entry.ID) == "" {
			return dserrors.ConfigError{
				Field:   field + ".id",
				Message: "entry id cannot be empty",
			}
		}
		if err := resolve.Validate(entry.Query); err != nil {
			return dserrors.ConfigError{
				Field:      field + ".query",
				Value:      entry.Query,
				Message:    "query does not compile",
				Suggestion: "Use a JMESPath expression such as \"login.password\", or prefix jq syntax with \"jq:\"",
				Err:        err,
			}
		}
		if err := placer.ValidatePath(entry.Path); err != nil {
			return dserrors.ConfigError{
				Field:      field + ".path",
				Value:      entry.Path,
				Message:    "entry path must name a file inside the store root",
				Suggestion: "Use a relative path without '..' segments, e.g. \"ssh/id_ed25519\"",
				Err:        err,
			}
		}
		for j, link := range entry.Links {
			if err := placer.ValidateLink(link); err != nil {
				return dserrors.ConfigError{
					Field:      fmt.Sprintf("%s.links[%d]", field, j),
					Value:      link,
					Message:    "link must name a file, not the home directory or a filesystem root",
					Suggestion: "Use a path under your home directory such as \".ssh/id_ed25519\", or an absolute path",
					Err:        err,
				}
			}
		}

		clean := filepath.ToSlash(filepath.Clean(filepath.FromSlash(entry.Path)))
		if other, dup := seen[clean]; dup {
			return dserrors.ConfigError{
				Field:      field + ".path",
				Value:      entry.Path,
				Message:    fmt.Sprintf("path is already used by entry %s", other),
				Suggestion: "Give every entry its own path",
			}
		}
		for prev, other := range seen {
			if strings.HasPrefix(clean, prev+"/") || strings.HasPrefix(prev, clean+"/") {
				return dserrors.ConfigError{
					Field:      field + ".path",
					Value:      entry.Path,
					Message:    fmt.Sprintf("path conflicts with %s of entry %s: one would have to be both a file and a directory", prev, other),
					Suggestion: "Move one of the two entries to a sibling path",
				}
			}
		}
		seen[clean] = entry.ID
	}

	return nil
}

// TimeoutDuration returns the parsed per-call timeout.
func (d *Definition) TimeoutDuration() time.Duration {
	timeout, err := time.ParseDuration(d.Timeout)
	if err != nil || timeout <= 0 {
		return DefaultTimeout
	}
	return timeout
}

// NeedsEmail reports whether the backend authenticates with an email
// address. Cloud backends use ambient credentials instead.
func (d *Definition) NeedsEmail() bool {
	return strings.HasPrefix(d.Backend, "bitwarden")
}

// Identity is the name the session authenticates as.
func (d *Definition) Identity() string {
	if d.Email != "" {
		return d.Email
	}
	return d.Backend
}

// StoreRoot returns the configured root, or the runtime default.
func (c *Config) StoreRoot() string {
	if c.Definition != nil && c.Definition.Store.Root != "" {
		return c.Definition.Store.Root
	}
	return c.Paths.StoreRoot
}

// LinePrompter reads one line of visible input.
type LinePrompter interface {
	Line(ctx context.Context, message string) (string, error)
}

// EnsureEmail prompts until a valid email is entered when the backend
// needs one and the file had none. It reports whether it prompted.
func (c *Config) EnsureEmail(ctx context.Context, prompter LinePrompter) (bool, error) {
	def := c.Definition
	if def == nil {
		return false, dserrors.UserError{
			Message:    "Configuration not loaded",
			Suggestion: "This is an internal error. Please report it",
		}
	}
	if def.Email != "" || !def.NeedsEmail() {
		return false, nil
	}

	for {
		answer, err := prompter.Line(ctx, "Please enter your email: ")
		if err != nil {
			return false, fmt.Errorf("failed to read email: %w", err)
		}
		email := strings.TrimSpace(answer)
		if ValidEmail(email) {
			def.Email = email
			return true, nil
		}
		c.logger().Error("Invalid email %q", email)
	}
}

// Save writes the definition to path, TOML or YAML by extension, with
// owner-only permissions.
func (c *Config) Save(path string) error {
	if c.Definition == nil {
		return fmt.Errorf("no configuration to save")
	}

	data, err := marshal(c.Definition, formatOf(path))
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return &dserrors.IoError{Op: "create config directory", Path: filepath.Dir(path), Err: err}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return &dserrors.IoError{Op: "write configuration", Path: path, Err: err}
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return &dserrors.IoError{Op: "restrict configuration", Path: path, Err: err}
	}
	c.logger().Debug("Wrote configuration to %s", path)
	return nil
}

func (c *Config) logger() *logging.Logger {
	if c.Logger == nil {
		c.Logger = logging.Discard()
	}
	return c.Logger
}

// ValidEmail reports whether s looks like an email address.
func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

func knownBackend(name string) bool {
	for _, b := range Backends {
		if b == name {
			return true
		}
	}
	return false
}

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "toml"
	}
}

func unmarshal(data []byte, format string, v any) error {
	if format == "yaml" {
		if len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		return yaml.Unmarshal(data, v)
	}
	return toml.Unmarshal(data, v)
}

func marshal(v any, format string) ([]byte, error) {
	if format == "yaml" {
		return yaml.Marshal(v)
	}
	return toml.Marshal(v)
}

func syntaxError(format string, err error) error {
	if format == "yaml" {
		return dserrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters",
			Err:        err,
		}
	}
	return dserrors.ConfigError{
		Message:    "invalid TOML syntax in configuration file: " + err.Error(),
		Suggestion: "Check for unquoted strings, duplicate keys, and that [[entries]] tables come last",
		Err:        err,
	}
}

func validateSchema(raw map[string]any) error {
	if raw == nil {
		raw = map[string]any{}
	}
	doc, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration for validation: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var messages []string
	for _, desc := range result.Errors() {
		messages = append(messages, desc.String())
	}
	first := result.Errors()[0]
	return dserrors.ConfigError{
		Field:      first.Field(),
		Message:    "configuration does not match the schema:\n  - " + strings.Join(messages, "\n  - "),
		Suggestion: "Remove unknown keys and check value types",
	}
}
