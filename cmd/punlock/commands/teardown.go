package commands

import (
	"github.com/spf13/cobra"

	"github.com/systmms/punlock/internal/config"
)

// NewTeardownCommand creates the teardown command.
func NewTeardownCommand(cfg *config.Config, rt *Runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "teardown",
		Short: "Unmount and delete the store root",
		Long: `Remove every materialized secret by unmounting the store root (when it
is a tmpfs) and deleting it. Symlinks pointing into the root are left
dangling until the next unlock.

Without a readable configuration the default store root is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Load(); err != nil {
				cfg.Logger.Debug("Using the default store root: %v", err)
			}

			st := rt.store(cfg, cfg.Logger)
			st.Teardown(cmd.Context())
			cfg.Logger.Info("Removed %s", st.Root())
			return nil
		},
	}

	return cmd
}
