package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/railyard/internal/graph"
	"github.com/roach88/railyard/internal/manifest"
	"github.com/roach88/railyard/internal/release"
)

// rollbackOptions holds the rollback command's flags.
type rollbackOptions struct {
	ManifestDir string
	To          string
	Stage       string
	CallTimeout time.Duration
	RetryDelay  time.Duration
}

// RollbackView summarizes a manual rollback for CLI output.
type RollbackView struct {
	Target string                  `json:"target"`
	Stage  string                  `json:"stage"`
	Result *release.RollbackResult `json:"result"`
}

// NewRollbackCommand creates the rollback command.
func NewRollbackCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &rollbackOptions{}

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Restore the fleet to a known-good manifest",
		Long: `Restore every service to the versions recorded in a completed
release manifest, in reverse deployment order. Defaults to the last
known-good manifest; use --to for an earlier platform version.

A service that fails to restore is recorded as unrecovered and does not
stop the remaining services from being restored.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRollback(rootOpts, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ManifestDir, "manifest-dir", "manifests", "directory holding release manifests")
	cmd.Flags().StringVar(&opts.To, "to", "", "platform version to restore (default: last known-good)")
	cmd.Flags().StringVar(&opts.Stage, "stage", "", "promotion target stage (default: manifest source_stage)")
	cmd.Flags().DurationVar(&opts.CallTimeout, "timeout", 2*time.Minute, "per-promotion call timeout")
	cmd.Flags().DurationVar(&opts.RetryDelay, "retry-delay", 2*time.Second, "pause before the single retry of a transient failure")

	return cmd
}

func runRollback(rootOpts *RootOptions, opts *rollbackOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    rootOpts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   rootOpts.Verbose,
	}

	dir := manifest.NewDir(opts.ManifestDir)
	var (
		m   *manifest.Manifest
		err error
	)
	if opts.To != "" {
		m, err = dir.Read(opts.To)
	} else {
		m, err = dir.LastKnownGood()
		if err == nil && m == nil {
			err = fmt.Errorf("no completed release manifest in %s", opts.ManifestDir)
		}
	}
	if err != nil {
		_ = formatter.Error(ErrCodeRegistry, err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}

	versions, err := m.ServiceVersions()
	if err != nil {
		_ = formatter.Error(ErrCodeRegistry, err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}

	// Rebuild the deployment order from the manifest's recorded
	// dependencies; rollback then walks it in reverse.
	names := m.ServiceNames()
	nodes := make([]graph.Node, 0, len(names))
	for _, name := range names {
		nodes = append(nodes, graph.Node{Name: name, DependsOn: m.Dependencies[name]})
	}
	plan, err := graph.Resolve(nodes, names)
	if err != nil {
		_ = formatter.Error(ErrCodeCycle, err.Error(), nil)
		return NewExitError(ExitFailure, err.Error())
	}

	stage := opts.Stage
	if stage == "" {
		stage = m.SourceStage
	}

	rb := release.NewRollbacker(LogPromoter{}, opts.CallTimeout, opts.RetryDelay)
	result := rb.Rollback(cmd.Context(), plan.Flatten(), versions, stage)

	view := RollbackView{Target: m.PlatformVersion, Stage: stage, Result: result}
	if formatter.Format == "json" {
		if !result.FullyRecovered() {
			_ = formatter.Error(ErrCodeRollback, "rollback left services unrecovered", view)
			return NewExitError(ExitFailure, "rollback left services unrecovered")
		}
		return formatter.Success(view)
	}

	fmt.Fprintf(formatter.Writer, "restoring to %s on %s\n", m.PlatformVersion, stage)
	for _, s := range result.Steps {
		mark := "✓"
		if !s.Recovered {
			mark = "✗"
		}
		fmt.Fprintf(formatter.Writer, "  %s %s@%s\n", mark, s.Service, s.Version)
	}
	if !result.FullyRecovered() {
		fmt.Fprintf(formatter.Writer, "✗ unrecovered: %s\n", strings.Join(result.Unrecovered, ", "))
		return NewExitError(ExitFailure, "rollback left services unrecovered")
	}
	fmt.Fprintln(formatter.Writer, "✓ fleet restored")
	return nil
}
