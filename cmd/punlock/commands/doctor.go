package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/punlock/internal/backends"
	"github.com/systmms/punlock/internal/config"
)

// CheckResult is one row of the doctor report.
type CheckResult struct {
	Name    string
	OK      bool
	Message string
}

func NewDoctorCommand(cfg *config.Config, rt *Runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, tools and the store root",
		Long: `Verify that punlock can run on this machine.

This command checks:
- Configuration file validity
- Backend tooling (the bw CLI, stored API credentials)
- Store root state
- Volatile (tmpfs) storage support`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			results := RunChecks(cmd.Context(), cfg, rt)

			out := rt.Out
			if out == nil {
				out = cmd.OutOrStdout()
			}
			displayResults(out, results)

			failed := 0
			for _, r := range results {
				if !r.OK {
					failed++
				}
			}
			_, _ = fmt.Fprintf(out, "\nSummary: %d/%d checks passed\n", len(results)-failed, len(results))
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			cfg.Logger.Info("Ready to unlock")
			return nil
		},
	}

	return cmd
}

// RunChecks evaluates every check. A configuration failure skips the
// checks that depend on it.
func RunChecks(ctx context.Context, cfg *config.Config, rt *Runtime) []CheckResult {
	if ctx == nil {
		ctx = context.Background()
	}
	var results []CheckResult

	if err := cfg.Load(); err != nil {
		results = append(results, CheckResult{Name: "config", Message: firstLine(err)})
	} else {
		def := cfg.Definition
		results = append(results,
			CheckResult{Name: "config", OK: true, Message: fmt.Sprintf("%s (%d entries)", cfg.Path, len(def.Entries))},
			backendCheck(ctx, cfg, rt),
		)
	}

	st := rt.store(cfg, cfg.Logger)
	results = append(results, storeCheck(st.Root(), st.Mounted()))

	volatile := CheckResult{Name: "volatile storage", OK: true}
	switch {
	case cfg.Definition != nil && !cfg.Definition.Store.IsVolatile():
		volatile.Message = "disabled in configuration"
	case st.VolatileSupported():
		volatile.Message = "tmpfs available"
	default:
		volatile.Message = "not supported on this platform; secrets stay on disk"
	}
	results = append(results, volatile)

	return results
}

func backendCheck(ctx context.Context, cfg *config.Config, rt *Runtime) CheckResult {
	def := cfg.Definition
	result := CheckResult{Name: "backend " + def.Backend}

	switch {
	case def.Backend == "bitwarden-cli":
		path, err := rt.LookPath("bw")
		if err != nil {
			result.Message = "bw not found in PATH"
			return result
		}
		result.OK = true
		result.Message = path

	case backends.NeedsCredentials(def.Backend):
		creds, source, err := rt.credentialStore(cfg, nil).Load(ctx)
		if err != nil {
			result.OK = true
			result.Message = "no stored API credentials; unlock will prompt"
			return result
		}
		result.OK = creds.Complete()
		result.Message = fmt.Sprintf("API credentials from %s", source)

	default:
		result.OK = true
		result.Message = "uses the ambient credential chain"
	}
	return result
}

func storeCheck(root string, mounted bool) CheckResult {
	result := CheckResult{Name: "store root", OK: true}

	info, err := os.Stat(root)
	switch {
	case errors.Is(err, os.ErrNotExist):
		result.Message = root + " (not created yet)"
	case err != nil:
		result.OK = false
		result.Message = err.Error()
	case !info.IsDir():
		result.OK = false
		result.Message = root + " is not a directory"
	case mounted:
		result.Message = root + " (tmpfs)"
	default:
		result.Message = root
	}
	return result
}

func displayResults(w io.Writer, results []CheckResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintf(tw, "CHECK\tSTATUS\tMESSAGE\n")
	_, _ = fmt.Fprintf(tw, "-----\t------\t-------\n")

	for _, r := range results {
		status := "✓ ok"
		if !r.OK {
			status = "✗ fail"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Name, status, r.Message)
	}
	_ = tw.Flush()
}
