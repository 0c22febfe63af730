package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/punlock/internal/backends"
	"github.com/systmms/punlock/internal/config"
	"github.com/systmms/punlock/internal/credentials"
	dserrors "github.com/systmms/punlock/internal/errors"
	"github.com/systmms/punlock/internal/pipeline"
	"github.com/systmms/punlock/internal/placer"
	"github.com/systmms/punlock/internal/resolve"
	"github.com/systmms/punlock/pkg/vault"
)

// PartialFailureError is returned when at least one entry failed and
// --allow-partial was not given. main maps it to exit status 2.
type PartialFailureError struct {
	Succeeded int
	Total     int
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%d of %d entries failed", e.Total-e.Succeeded, e.Total)
}

// UnlockOptions are the unlock flags.
type UnlockOptions struct {
	AllowPartial bool
	MetricsFile  string
}

// NewUnlockCommand creates the unlock command, which is also what a bare
// `punlock` runs.
func NewUnlockCommand(cfg *config.Config, rt *Runtime) *cobra.Command {
	var opts UnlockOptions

	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Fetch every configured secret into the store",
		Long: `Authenticate against the configured vault, recreate the store root and
write each entry's secret into it with owner-only permissions, then
reconcile the requested symlinks.

Entries are processed concurrently and independently: one failing entry
does not stop the others. The run exits with status 2 when any entry
failed, unless --allow-partial is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunUnlock(cmd.Context(), cfg, rt, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.AllowPartial, "allow-partial", false, "Exit 0 even if some entries failed")
	cmd.Flags().StringVar(&opts.MetricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile (overrides metrics_file)")

	return cmd
}

// RunUnlock performs one full run.
func RunUnlock(ctx context.Context, cfg *config.Config, rt *Runtime, opts UnlockOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := cfg.Logger

	if err := cfg.Load(); err != nil {
		return err
	}
	def := cfg.Definition

	prompted, err := cfg.EnsureEmail(ctx, rt.Prompter)
	if err != nil {
		return err
	}
	if prompted {
		if err := cfg.Save(cfg.Paths.UserConfigFile()); err != nil {
			logger.Warn("Could not save configuration: %v", err)
		} else {
			logger.Info("Saved email to %s", cfg.Paths.UserConfigFile())
		}
	}

	creds, err := loadCredentials(ctx, cfg, rt)
	if err != nil {
		return err
	}

	backend, err := rt.NewBackend(ctx, def, backends.Deps{
		Executor:    rt.Executor,
		Credentials: creds,
		Logger:      logger,
	})
	if err != nil {
		return dserrors.BackendError(def.Backend, "setup", err)
	}

	st := rt.store(cfg, logger)
	st.Teardown(ctx)
	provisioned, err := st.Setup(ctx)
	if err != nil {
		return err
	}

	client := vault.NewClient(backend, resolve.New(), def.Identity(),
		vault.WithPrompter(rt.Prompter),
		vault.WithLogger(logger),
		vault.WithTimeout(def.TimeoutDuration()),
	)
	session, err := client.Authenticate(ctx, backends.Endpoint(def))
	if err != nil {
		return err
	}

	metrics := pipeline.NewMetrics()
	summary := pipeline.New(session, placer.New(cfg.Paths.Home, logger), provisioned.Root,
		pipeline.WithConcurrency(def.Concurrency),
		pipeline.WithMetrics(metrics),
		pipeline.WithBackend(def.Backend),
		pipeline.WithLogger(logger),
	).WriteSecrets(ctx, def.Entries)

	session.Logout(context.WithoutCancel(ctx))

	metricsFile := opts.MetricsFile
	if metricsFile == "" {
		metricsFile = def.MetricsFile
	}
	if metricsFile != "" {
		if err := metrics.WriteTextfile(metricsFile); err != nil {
			logger.Warn("Could not write metrics to %s: %v", metricsFile, err)
		} else {
			logger.Debug("Wrote metrics to %s", metricsFile)
		}
	}

	if summary.Failed() > 0 && !opts.AllowPartial {
		return &PartialFailureError{Succeeded: summary.Succeeded, Total: summary.Total}
	}
	return nil
}

// loadCredentials returns the API client pair. bitwarden-api requires it
// and may prompt; aws and azure use a stored pair when there is one.
func loadCredentials(ctx context.Context, cfg *config.Config, rt *Runtime) (*credentials.Credentials, error) {
	def := cfg.Definition

	switch {
	case backends.NeedsCredentials(def.Backend):
		store := rt.credentialStore(cfg, rt.Prompter)
		creds, source, err := store.Load(ctx)
		if err != nil {
			return nil, err
		}
		cfg.Logger.Debug("Loaded %s from %s", creds, source)
		if source != credentials.SourceKeyring {
			if err := store.Save(creds); err != nil {
				cfg.Logger.Warn("Could not save credentials: %v", err)
			}
		}
		return &creds, nil

	case def.Backend == "aws" || def.Backend == "azure":
		creds, source, err := rt.credentialStore(cfg, nil).Load(ctx)
		if err != nil {
			cfg.Logger.Debug("No stored credentials for %s, using the ambient chain", def.Backend)
			return nil, nil
		}
		cfg.Logger.Debug("Using stored %s from %s", creds, source)
		return &creds, nil
	}
	return nil, nil
}
