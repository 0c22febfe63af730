package backends

import (
	"bytes"
	"context"
	"strings"

	dserrors "github.com/systmms/punlock/internal/errors"
	"github.com/systmms/punlock/internal/logging"
	pkgexec "github.com/systmms/punlock/pkg/exec"
	"github.com/systmms/punlock/pkg/vault"
)

const (
	bwCommand = "bw"
	// passwordEnv carries the master password to bw; it never appears in argv.
	passwordEnv = "PUNLOCK_BW_PASSWORD"
	sessionEnv  = "BW_SESSION"

	alreadyLoggedIn = "You are already logged in as"
)

// BitwardenCLI drives the bw command line tool.
type BitwardenCLI struct {
	exec   pkgexec.CommandExecutor
	logger *logging.Logger
}

// NewBitwardenCLI creates the bw backend.
func NewBitwardenCLI(executor pkgexec.CommandExecutor, logger *logging.Logger) *BitwardenCLI {
	if logger == nil {
		logger = logging.Discard()
	}
	return &BitwardenCLI{exec: executor, logger: logger}
}

func (b *BitwardenCLI) Name() string { return "bitwarden-cli" }

func (b *BitwardenCLI) CredentialMode() vault.CredentialMode { return vault.CredentialPrompted }

// Invalidate runs `bw logout` so the next login starts clean.
func (b *BitwardenCLI) Invalidate(ctx context.Context) error {
	_, stderr, err := b.exec.Execute(ctx, bwCommand, "logout")
	return b.commandError("logout", stderr, err)
}

// SetEndpoint runs `bw config server`.
func (b *BitwardenCLI) SetEndpoint(ctx context.Context, endpoint string) error {
	_, stderr, err := b.exec.Execute(ctx, bwCommand, "config", "server", baseURL(endpoint))
	return b.commandError("config server", stderr, err)
}

// Login runs `bw login`. If bw already holds a session for some account
// it falls back to `bw unlock` with the same password.
func (b *BitwardenCLI) Login(ctx context.Context, identity, credential string) (vault.LoginResult, error) {
	env := []string{passwordEnv + "=" + credential}

	stdout, stderr, err := b.exec.ExecuteWithEnv(ctx, env, bwCommand, "login", identity, "--passwordenv", passwordEnv, "--raw")
	if err == nil {
		return vault.LoginResult{Token: strings.TrimSpace(string(stdout))}, nil
	}
	if !ranAndFailed(stderr, err) {
		return vault.LoginResult{}, b.transportError("login", err)
	}

	message := scrubbed(stderr, credential)
	if !strings.HasPrefix(message, alreadyLoggedIn) {
		return vault.LoginResult{}, &vault.AuthError{Backend: b.Name(), Message: message}
	}

	b.logger.Debug("bw reported an existing login, unlocking instead")
	stdout, stderr, err = b.exec.ExecuteWithEnv(ctx, env, bwCommand, "unlock", "--passwordenv", passwordEnv, "--raw")
	if err != nil {
		if !ranAndFailed(stderr, err) {
			return vault.LoginResult{}, b.transportError("unlock", err)
		}
		return vault.LoginResult{}, &vault.AuthError{Backend: b.Name(), Message: scrubbed(stderr, credential)}
	}
	return vault.LoginResult{Token: strings.TrimSpace(string(stdout)), AlreadyAuthenticated: true}, nil
}

// GetItem runs `bw get item <id>` with the session in the environment.
func (b *BitwardenCLI) GetItem(ctx context.Context, token, id string) ([]byte, error) {
	stdout, stderr, err := b.exec.ExecuteWithEnv(ctx, []string{sessionEnv + "=" + token}, bwCommand, "get", "item", id)
	if err != nil {
		if !ranAndFailed(stderr, err) {
			return nil, b.transportError("get item", err)
		}
		return nil, &vault.FetchError{ID: id, Message: scrubbed(stderr, token)}
	}
	return stdout, nil
}

// Revoke logs the session out.
func (b *BitwardenCLI) Revoke(ctx context.Context, token string) error {
	_, stderr, err := b.exec.ExecuteWithEnv(ctx, []string{sessionEnv + "=" + token}, bwCommand, "logout")
	return b.commandError("logout", stderr, err)
}

func (b *BitwardenCLI) commandError(op string, stderr []byte, err error) error {
	if err == nil {
		return nil
	}
	if !ranAndFailed(stderr, err) {
		return b.transportError(op, err)
	}
	return dserrors.CommandError{Command: bwCommand + " " + op, Message: trimmed(stderr)}
}

func (b *BitwardenCLI) transportError(op string, err error) error {
	if pkgexec.IsNotFound(err) {
		err = dserrors.WrapCommandNotFound(bwCommand, err)
	}
	return &vault.TransportError{Backend: b.Name(), Op: op, Err: err}
}

// ranAndFailed tells a non-zero exit apart from a failure to start.
func ranAndFailed(stderr []byte, err error) bool {
	return pkgexec.IsExitError(err) || len(bytes.TrimSpace(stderr)) > 0
}

func trimmed(b []byte) string {
	return strings.TrimSpace(string(b))
}

// scrubbed is trimmed stderr with any echoed credential or session token
// redacted, since it ends up in logged error messages.
func scrubbed(stderr []byte, secrets ...string) string {
	return logging.Redact(trimmed(stderr), secrets)
}
