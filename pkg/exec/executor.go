// Package exec provides abstractions for command execution.
// Vault CLIs and the privileged mount helpers run through it so tests can
// script their output.
package exec

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
)

// CommandExecutor defines an interface for executing external commands.
type CommandExecutor interface {
	// Execute runs a command with the given context and arguments.
	// Returns stdout, stderr, and any error that occurred.
	Execute(ctx context.Context, name string, args ...string) (stdout []byte, stderr []byte, err error)

	// ExecuteWithEnv is Execute with extra KEY=VALUE pairs appended to the
	// inherited environment. Credentials travel this way rather than argv,
	// where they would be visible in the process table.
	ExecuteWithEnv(ctx context.Context, env []string, name string, args ...string) (stdout []byte, stderr []byte, err error)
}

// RealCommandExecutor executes actual commands using os/exec.
type RealCommandExecutor struct{}

// Execute runs an actual command.
func (r *RealCommandExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	return r.ExecuteWithEnv(ctx, nil, name, args...)
}

// ExecuteWithEnv runs an actual command with additional environment.
func (r *RealCommandExecutor) ExecuteWithEnv(ctx context.Context, env []string, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// DefaultExecutor returns the standard production executor.
func DefaultExecutor() CommandExecutor {
	return &RealCommandExecutor{}
}

// IsExitError reports whether err means the process ran and exited
// non-zero, as opposed to failing to start at all.
func IsExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}

// LookPath is exec.LookPath, re-exported so callers need not import both
// exec packages.
func LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

// IsNotFound reports whether err means the executable is not on PATH.
func IsNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound)
}
