package errors

import (
	"errors"
	"fmt"
	"strings"
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
	Err        error
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

func (e ConfigError) Unwrap() error {
	return e.Err
}

// CommandError represents a command execution error
type CommandError struct {
	Command    string
	ExitCode   int
	Message    string
	Suggestion string
}

func (e CommandError) Error() string {
	msg := fmt.Sprintf("Command '%s' failed", e.Command)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit code: %d)", e.ExitCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// IoError is a local filesystem failure while placing a secret or
// preparing the store root.
type IoError struct {
	Op   string
	Path string
	Err  error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IoError) Unwrap() error {
	return e.Err
}

// MountError means the volatile store could not be provisioned. It always
// aborts the run: there is no safe location to write secrets to.
type MountError struct {
	Root string
	Op   string
	Err  error
}

func (e *MountError) Error() string {
	return fmt.Sprintf("failed to %s store root %s: %v", e.Op, e.Root, e.Err)
}

func (e *MountError) Unwrap() error {
	return e.Err
}

// BackendError enhances vault backend errors with context
func BackendError(backend string, operation string, err error) error {
	return UserError{
		Message:    fmt.Sprintf("%s backend error during %s", backend, operation),
		Details:    err.Error(),
		Suggestion: BackendSuggestion(backend, err),
		Err:        err,
	}
}

// BackendSuggestion returns a hint for err raised by backend, or "" when
// there is nothing useful to say.
func BackendSuggestion(backend string, err error) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()

	switch backend {
	case "bitwarden-cli":
		if strings.Contains(errStr, "not logged in") {
			return "Check the email in your punlock config and the master password"
		}
		if strings.Contains(errStr, "Not found") {
			return "Verify the item id exists. Use 'bw list items --search <name>' to look it up"
		}
		if strings.Contains(errStr, "executable file not found") || strings.Contains(errStr, "command not found") {
			return "Install Bitwarden CLI: https://bitwarden.com/help/cli/"
		}

	case "bitwarden-api":
		if strings.Contains(errStr, "invalid_client") {
			return "Check the API client id and secret in credentials.toml"
		}
		if strings.Contains(errStr, "404") {
			return "Verify the item id and that the API key's organization can see it"
		}

	case "aws":
		if strings.Contains(errStr, "credentials") || strings.Contains(errStr, "authorization") {
			return "Configure AWS credentials: 'aws configure' or set AWS_PROFILE"
		}
		if strings.Contains(errStr, "AccessDenied") {
			return "Check IAM permissions for secretsmanager:GetSecretValue"
		}
		if strings.Contains(errStr, "ResourceNotFoundException") {
			return "Verify the secret name and region. List secrets with: 'aws secretsmanager list-secrets'"
		}

	case "azure":
		if strings.Contains(errStr, "SecretNotFound") {
			return "Verify the secret name in the configured Key Vault"
		}
		if strings.Contains(errStr, "Forbidden") {
			return "Grant the identity 'Key Vault Secrets User' on the vault"
		}

	case "gcp":
		if strings.Contains(errStr, "PermissionDenied") {
			return "Check IAM permissions: secretmanager.versions.access"
		}
		if strings.Contains(errStr, "NotFound") {
			return "Verify the secret id and project_id"
		}
	}

	if strings.Contains(errStr, "deadline exceeded") || strings.Contains(errStr, "timeout") {
		return "The operation timed out. Check your network connection or raise 'timeout' in the config"
	}
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host") {
		return "Unable to connect. Check your network and the configured domain"
	}

	return ""
}

// WrapCommandNotFound wraps command not found errors with helpful suggestions
func WrapCommandNotFound(command string, err error) error {
	suggestions := map[string]string{
		"bw":     "Install Bitwarden CLI: npm install -g @bitwarden/cli",
		"sudo":   "Run punlock as root, or disable volatile storage with 'store.volatile = false'",
		"mount":  "Install util-linux, or disable volatile storage with 'store.volatile = false'",
		"umount": "Install util-linux",
	}

	suggestion := suggestions[command]
	if suggestion == "" {
		suggestion = fmt.Sprintf("Make sure '%s' is installed and in your PATH", command)
	}

	msg := "command not found"
	if err != nil {
		msg = err.Error()
	}

	return CommandError{
		Command:    command,
		Message:    msg,
		Suggestion: suggestion,
	}
}

// SimplifyError simplifies complex error messages for users
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	// Already a user-friendly error
	var userErr UserError
	var configErr ConfigError
	var cmdErr CommandError
	var mountErr *MountError
	if errors.As(err, &userErr) || errors.As(err, &configErr) || errors.As(err, &cmdErr) || errors.As(err, &mountErr) {
		return err
	}

	// Unwrap to get the root cause
	rootErr := err
	for {
		unwrapped := errors.Unwrap(rootErr)
		if unwrapped == nil {
			break
		}
		rootErr = unwrapped
	}

	errStr := rootErr.Error()

	if strings.Contains(errStr, "yaml:") {
		return ConfigError{
			Message:    "Invalid YAML format",
			Suggestion: "Check for indentation errors and missing quotes",
			Err:        err,
		}
	}

	if strings.Contains(errStr, "toml:") {
		return ConfigError{
			Message:    "Invalid TOML format",
			Suggestion: "Check for unquoted strings and duplicate keys",
			Err:        err,
		}
	}

	if strings.Contains(errStr, "permission denied") {
		return UserError{
			Message:    "Permission denied",
			Suggestion: "Check file permissions or run with appropriate privileges",
			Err:        err,
		}
	}

	if strings.Contains(errStr, "no such file or directory") {
		return UserError{
			Message:    "File or directory not found",
			Suggestion: "Verify the path exists and is spelled correctly",
			Err:        err,
		}
	}

	return err
}
