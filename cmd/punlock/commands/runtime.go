package commands

import (
	"context"
	"io"
	"os"

	"github.com/systmms/punlock/internal/backends"
	"github.com/systmms/punlock/internal/config"
	"github.com/systmms/punlock/internal/credentials"
	"github.com/systmms/punlock/internal/logging"
	"github.com/systmms/punlock/internal/prompt"
	"github.com/systmms/punlock/internal/store"
	pkgexec "github.com/systmms/punlock/pkg/exec"
	"github.com/systmms/punlock/pkg/vault"
)

// Prompter asks the user for masked and visible input.
type Prompter interface {
	Password(ctx context.Context, message string) (string, error)
	Line(ctx context.Context, message string) (string, error)
}

// BackendFactory builds the configured vault backend.
type BackendFactory func(ctx context.Context, def *config.Definition, deps backends.Deps) (vault.Backend, error)

// Runtime holds the process-level collaborators shared by commands.
type Runtime struct {
	Executor   pkgexec.CommandExecutor
	Prompter   Prompter
	Keyring    credentials.Keyring
	NewBackend BackendFactory
	LookPath   func(file string) (string, error)
	// Mounter overrides the platform mounter. Nil uses the default one,
	// driven by Executor.
	Mounter store.Mounter
	Out     io.Writer
}

// DefaultRuntime wires the real terminal, keyring, processes and backends.
func DefaultRuntime() *Runtime {
	return &Runtime{
		Executor:   pkgexec.DefaultExecutor(),
		Prompter:   prompt.NewTerminal(),
		Keyring:    credentials.SystemKeyring(),
		NewBackend: backends.New,
		LookPath:   pkgexec.LookPath,
		Out:        os.Stdout,
	}
}

func (rt *Runtime) store(cfg *config.Config, logger *logging.Logger) *store.Store {
	def := cfg.Definition
	opts := store.Options{Root: cfg.StoreRoot()}
	if def != nil {
		opts.Volatile = def.Store.IsVolatile()
		opts.Size = def.Store.Size
	}

	var extra []store.Option
	if rt.Mounter != nil {
		extra = append(extra, store.WithMounter(rt.Mounter))
	} else {
		extra = append(extra, store.WithExecutor(rt.Executor))
	}
	return store.New(opts, logger, extra...)
}

func (rt *Runtime) credentialStore(cfg *config.Config, prompter credentials.Prompter) *credentials.Store {
	opts := []credentials.Option{
		credentials.WithKeyring(rt.Keyring),
		credentials.WithLogger(cfg.Logger),
	}
	if prompter != nil {
		opts = append(opts, credentials.WithPrompter(prompter))
	}
	return credentials.NewStore(cfg.Paths.CredentialsFile, cfg.Definition.Identity(), opts...)
}
