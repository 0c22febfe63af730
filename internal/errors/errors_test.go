package errors_test

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/punlock/internal/errors"
)

func TestUserErrorFormatting(t *testing.T) {
	t.Parallel()

	err := errors.UserError{
		Message:    "Operation failed",
		Details:    "Connection timeout",
		Suggestion: "Check network connectivity",
	}

	errMsg := err.Error()

	assert.Contains(t, errMsg, "Operation failed")
	assert.Contains(t, errMsg, "Details: Connection timeout")
	assert.Contains(t, errMsg, "💡 Try: Check network connectivity")
}

func TestConfigErrorFormatting(t *testing.T) {
	t.Parallel()

	err := errors.ConfigError{
		Field:      "entries[0].path",
		Value:      "../escape",
		Message:    "path must stay inside the store root",
		Suggestion: "Use a relative path without '..'",
	}

	errMsg := err.Error()

	assert.Contains(t, errMsg, "entries[0].path")
	assert.Contains(t, errMsg, "../escape")
	assert.Contains(t, errMsg, "inside the store root")
	assert.Contains(t, errMsg, "without '..'")
}

func TestCommandErrorFormatting(t *testing.T) {
	t.Parallel()

	err := errors.CommandError{
		Command:    "bw get item",
		ExitCode:   1,
		Message:    "Not found.",
		Suggestion: "Check the item id",
	}

	errMsg := err.Error()

	assert.Contains(t, errMsg, "bw get item")
	assert.Contains(t, errMsg, "exit code: 1")
	assert.Contains(t, errMsg, "Not found.")
}

func TestIoAndMountErrorsUnwrap(t *testing.T) {
	t.Parallel()

	ioErr := &errors.IoError{Op: "write", Path: "/run/user/1000/punlock/a", Err: fs.ErrPermission}
	assert.True(t, stderrors.Is(ioErr, fs.ErrPermission))
	assert.Equal(t, "write /run/user/1000/punlock/a: permission denied", ioErr.Error())

	mountErr := &errors.MountError{Root: "/run/user/1000/punlock", Op: "mount", Err: fmt.Errorf("operation not permitted")}
	wrapped := fmt.Errorf("setup: %w", mountErr)

	var target *errors.MountError
	require.True(t, stderrors.As(wrapped, &target))
	assert.Equal(t, "mount", target.Op)
	assert.Contains(t, mountErr.Error(), "failed to mount store root")
}

func TestBackendErrorSuggestions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		backend string
		err     error
		want    string
	}{
		{
			name:    "bw missing",
			backend: "bitwarden-cli",
			err:     fmt.Errorf(`exec: "bw": executable file not found in $PATH`),
			want:    "Install Bitwarden CLI",
		},
		{
			name:    "api bad client",
			backend: "bitwarden-api",
			err:     fmt.Errorf("oauth2: \"invalid_client\""),
			want:    "credentials.toml",
		},
		{
			name:    "aws access denied",
			backend: "aws",
			err:     fmt.Errorf("AccessDeniedException: nope"),
			want:    "secretsmanager:GetSecretValue",
		},
		{
			name:    "generic timeout",
			backend: "gcp",
			err:     fmt.Errorf("context deadline exceeded"),
			want:    "timed out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := errors.BackendError(tt.backend, "fetch", tt.err)

			assert.Contains(t, err.Error(), tt.want)
			assert.Contains(t, err.Error(), "Details: "+tt.err.Error())
			assert.ErrorIs(t, err, tt.err)
			assert.Contains(t, errors.BackendSuggestion(tt.backend, tt.err), tt.want)
		})
	}
}

func TestBackendSuggestion_NothingToSay(t *testing.T) {
	t.Parallel()

	assert.Empty(t, errors.BackendSuggestion("aws", nil))
	assert.Empty(t, errors.BackendSuggestion("bitwarden-cli", fmt.Errorf("something unusual")))
}

func TestWrapCommandNotFound(t *testing.T) {
	t.Parallel()

	err := errors.WrapCommandNotFound("sudo", nil)
	assert.Contains(t, err.Error(), "store.volatile")

	err = errors.WrapCommandNotFound("frobnicate", nil)
	assert.Contains(t, err.Error(), "'frobnicate' is installed")
}

func TestSimplifyError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "toml", err: fmt.Errorf("decode: %w", stderrors.New("toml: expected character =")), want: "Invalid TOML format"},
		{name: "yaml", err: stderrors.New("yaml: line 3: mapping values are not allowed"), want: "Invalid YAML format"},
		{name: "permission", err: fmt.Errorf("open: %w", stderrors.New("permission denied")), want: "Permission denied"},
		{name: "passthrough", err: stderrors.New("something else"), want: "something else"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Contains(t, errors.SimplifyError(tt.err).Error(), tt.want)
		})
	}

	assert.Nil(t, errors.SimplifyError(nil))

	mountErr := &errors.MountError{Root: "/x", Op: "mount", Err: stderrors.New("permission denied")}
	assert.Same(t, mountErr, errors.SimplifyError(mountErr))
}
