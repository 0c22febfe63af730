package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"github.com/systmms/punlock/cmd/punlock/commands"
	"github.com/systmms/punlock/internal/config"
	dserrors "github.com/systmms/punlock/internal/errors"
	"github.com/systmms/punlock/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	code := run()
	memguard.Purge()
	os.Exit(code)
}

func run() int {
	// SIGINT and SIGTERM cancel the run; guarded memory is purged on the way out.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCommand(commands.DefaultRuntime()).ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", dserrors.SimplifyError(err))

	var partial *commands.PartialFailureError
	if errors.As(err, &partial) {
		return 2
	}
	return 1
}

func newRootCommand(rt *commands.Runtime) *cobra.Command {
	// Global flags
	var (
		configFile string
		noColor    bool
		debug      bool
	)

	cfg := &config.Config{}
	unlock := commands.NewUnlockCommand(cfg, rt)

	rootCmd := &cobra.Command{
		Use:   "punlock",
		Short: "Unlock vault secrets into an ephemeral store",
		Long: `punlock fetches secrets from a password vault into a permission-hardened,
memory-backed directory and links them where your tools expect them.

Running punlock without a subcommand is the same as 'punlock unlock'.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			paths, err := config.NewPaths()
			if err != nil {
				return err
			}

			cfg.Path = configFile
			cfg.Logger = logging.New(debug, noColor)
			cfg.Paths = paths
			return nil
		},
		RunE: unlock.RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (default: first of punlock.toml, punlock.yaml, the user config dir, /etc/punlock)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.Flags().AddFlagSet(unlock.Flags())

	rootCmd.AddCommand(
		unlock,
		commands.NewTeardownCommand(cfg, rt),
		commands.NewDoctorCommand(cfg, rt),
		commands.NewCompletionCommand(),
	)

	return rootCmd
}
