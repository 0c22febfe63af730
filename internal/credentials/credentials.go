// Package credentials stores the API client credentials used by the
// Bitwarden HTTP backend. They live in the OS keyring when one is
// available, with credentials.toml as a fallback.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
	"github.com/zalando/go-keyring"

	dserrors "github.com/systmms/punlock/internal/errors"
	"github.com/systmms/punlock/internal/logging"
)

// KeyringService is the service name entries are stored under.
const KeyringService = "punlock"

// Source says where credentials were loaded from.
type Source string

const (
	SourceKeyring Source = "keyring"
	SourceFile    Source = "file"
	SourcePrompt  Source = "prompt"
)

// Credentials is an API client id/secret pair plus the device identifier
// sent with every token request.
type Credentials struct {
	ClientID     string `toml:"id" json:"client_id"`
	ClientSecret string `toml:"secret" json:"client_secret"`
	DeviceID     string `toml:"device_id,omitempty" json:"device_id,omitempty"`
}

// Complete reports whether both halves of the client pair are present.
func (c Credentials) Complete() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// String never prints the secret.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{ClientID: %s, ClientSecret: %s, DeviceID: %s}",
		c.ClientID, logging.Secret(c.ClientSecret), c.DeviceID)
}

// Keyring is the subset of go-keyring the store uses.
type Keyring interface {
	Get(service, account string) (string, error)
	Set(service, account, secret string) error
	Delete(service, account string) error
}

type systemKeyring struct{}

func (systemKeyring) Get(service, account string) (string, error) {
	return keyring.Get(service, account)
}

func (systemKeyring) Set(service, account, secret string) error {
	return keyring.Set(service, account, secret)
}

func (systemKeyring) Delete(service, account string) error {
	return keyring.Delete(service, account)
}

// SystemKeyring is the OS keyring: Secret Service, Keychain or Credential
// Manager.
func SystemKeyring() Keyring {
	return systemKeyring{}
}

// Prompter reads masked input.
type Prompter interface {
	Password(ctx context.Context, message string) (string, error)
}

// Store loads and saves credentials for one account.
type Store struct {
	path     string
	account  string
	keyring  Keyring
	prompter Prompter
	logger   *logging.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithKeyring replaces the OS keyring. A nil keyring disables it.
func WithKeyring(k Keyring) Option {
	return func(s *Store) {
		s.keyring = k
	}
}

// WithPrompter enables interactive entry when nothing is stored.
func WithPrompter(p Prompter) Option {
	return func(s *Store) {
		s.prompter = p
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// NewStore creates a store backed by the file at path and the keyring
// entry for account.
func NewStore(path, account string, opts ...Option) *Store {
	s := &Store{
		path:    path,
		account: account,
		keyring: SystemKeyring(),
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the stored credentials, prompting when neither the keyring
// nor the file has a complete pair. A device id is generated if missing.
func (s *Store) Load(ctx context.Context) (Credentials, Source, error) {
	if creds, ok := s.fromKeyring(); ok {
		return s.withDevice(creds), SourceKeyring, nil
	}
	if creds, ok := s.fromFile(); ok {
		return s.withDevice(creds), SourceFile, nil
	}

	creds, err := s.fromPrompt(ctx)
	if err != nil {
		return Credentials{}, "", err
	}
	return s.withDevice(creds), SourcePrompt, nil
}

// Save writes creds to the keyring, best-effort, and to the file with
// owner-only permissions.
func (s *Store) Save(creds Credentials) error {
	if s.keyring != nil {
		data, err := json.Marshal(creds)
		if err == nil {
			err = s.keyring.Set(KeyringService, s.account, string(data))
		}
		if err != nil {
			s.logger.Debug("Could not store credentials in keyring: %v", err)
		} else {
			s.logger.Debug("Stored credentials in keyring for %s", s.account)
		}
	}

	data, err := toml.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return &dserrors.IoError{Op: "create credentials directory", Path: filepath.Dir(s.path), Err: err}
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return &dserrors.IoError{Op: "write credentials", Path: s.path, Err: err}
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		return &dserrors.IoError{Op: "restrict credentials", Path: s.path, Err: err}
	}
	s.logger.Debug("Wrote credentials to %s", s.path)
	return nil
}

func (s *Store) fromKeyring() (Credentials, bool) {
	if s.keyring == nil {
		return Credentials{}, false
	}

	raw, err := s.keyring.Get(KeyringService, s.account)
	if err != nil {
		if !errors.Is(err, keyring.ErrNotFound) {
			s.logger.Debug("Keyring unavailable: %v", err)
		}
		return Credentials{}, false
	}

	var creds Credentials
	if err := json.Unmarshal([]byte(raw), &creds); err != nil || !creds.Complete() {
		s.logger.Warn("Ignoring malformed keyring entry for %s", s.account)
		return Credentials{}, false
	}
	return creds, true
}

func (s *Store) fromFile() (Credentials, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Could not read %s: %v", s.path, err)
		}
		return Credentials{}, false
	}

	var creds Credentials
	if err := toml.Unmarshal(data, &creds); err != nil || !creds.Complete() {
		s.logger.Error("Invalid credentials file %s; deleting", s.path)
		if err := os.Remove(s.path); err != nil {
			s.logger.Error("Unable to remove credentials file: %v", err)
		}
		return Credentials{}, false
	}
	return creds, true
}

func (s *Store) fromPrompt(ctx context.Context) (Credentials, error) {
	if s.prompter == nil {
		return Credentials{}, dserrors.UserError{
			Message:    "No API client credentials found",
			Suggestion: fmt.Sprintf("Run punlock interactively once, or write 'id' and 'secret' to %s", s.path),
		}
	}

	id, err := s.ask(ctx, "Enter client id: ")
	if err != nil {
		return Credentials{}, err
	}
	secret, err := s.ask(ctx, "Enter client secret: ")
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{ClientID: id, ClientSecret: secret}, nil
}

func (s *Store) ask(ctx context.Context, message string) (string, error) {
	for {
		answer, err := s.prompter.Password(ctx, message)
		if err != nil {
			return "", fmt.Errorf("failed to read credentials: %w", err)
		}
		if answer = strings.TrimSpace(answer); answer != "" {
			return answer, nil
		}
		s.logger.Warn("Value cannot be empty")
	}
}

func (s *Store) withDevice(creds Credentials) Credentials {
	if creds.DeviceID == "" {
		creds.DeviceID = uuid.NewString()
		s.logger.Debug("Generated device id %s", creds.DeviceID)
	}
	return creds
}
