package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/railyard/internal/store"
)

// historyOptions holds the history command's flags.
type historyOptions struct {
	RegistryPath string
	Limit        int
	Attempt      string
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &historyOptions{}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded platform versions and promotion ledgers",
		Long: `Show the registry's platform version rows, newest first. With
--attempt, show the promotion ledger of one release attempt instead.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(rootOpts, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.RegistryPath, "registry", "railyard.db", "path to the version registry database")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum platform versions to show (0 = all)")
	cmd.Flags().StringVar(&opts.Attempt, "attempt", "", "show the promotion ledger for one attempt token")

	return cmd
}

func runHistory(rootOpts *RootOptions, opts *historyOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    rootOpts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   rootOpts.Verbose,
	}

	// Opening a registry creates the file; a typo'd path should fail
	// instead of materializing an empty database.
	if _, err := os.Stat(opts.RegistryPath); err != nil {
		msg := fmt.Sprintf("registry %s not found", opts.RegistryPath)
		_ = formatter.Error(ErrCodeRegistry, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	reg, err := store.Open(opts.RegistryPath)
	if err != nil {
		_ = formatter.Error(ErrCodeRegistry, err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}
	defer reg.Close()

	ctx := cmd.Context()
	if opts.Attempt != "" {
		ledger, err := reg.Promotions(ctx, opts.Attempt)
		if err != nil {
			_ = formatter.Error(ErrCodeRegistry, err.Error(), nil)
			return NewExitError(ExitCommandError, err.Error())
		}
		if formatter.Format == "json" {
			return formatter.Success(ledger)
		}
		for _, e := range ledger {
			fmt.Fprintf(formatter.Writer, "%3d  %-8s  %-10s  %s@%s", e.Seq, e.Kind, e.Status, e.Service, e.Version)
			if e.Detail != "" {
				fmt.Fprintf(formatter.Writer, "  (%s)", e.Detail)
			}
			fmt.Fprintln(formatter.Writer)
		}
		return nil
	}

	records, err := reg.History(ctx, opts.Limit)
	if err != nil {
		_ = formatter.Error(ErrCodeRegistry, err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}
	if formatter.Format == "json" {
		return formatter.Success(records)
	}
	for _, r := range records {
		fmt.Fprintf(formatter.Writer, "%-10s  %-24s  %-8s  %s  %s\n",
			r.Version, r.Outcome, r.ReleaseType, r.CreatedAt.UTC().Format(time.RFC3339), r.Attempt)
	}
	return nil
}
