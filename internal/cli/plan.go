package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/railyard/internal/config"
	"github.com/roach88/railyard/internal/graph"
)

// PlanResult holds the resolved deployment schedule.
type PlanResult struct {
	Phases        [][]string `json:"phases"`
	RollbackOrder []string   `json:"rollback_order"`
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <config.yaml>",
		Short: "Resolve the dependency graph into deployment phases",
		Long: `Resolve the configured dependency declarations into ordered
deployment phases. Services within one phase share no dependency edges
and are promoted concurrently; the rollback order is the flattened
phases reversed.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runPlan(opts *RootOptions, configPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}

	participating := make([]string, 0, len(cfg.Services))
	for _, s := range cfg.Services {
		participating = append(participating, s.Name)
	}

	plan, err := graph.Resolve(cfg.Nodes(), participating)
	if err != nil {
		var ce *graph.CycleError
		if errors.As(err, &ce) {
			_ = formatter.Error(ErrCodeCycle, err.Error(), ce.Remaining)
			return NewExitError(ExitFailure, err.Error())
		}
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}

	result := PlanResult{Phases: plan.Phases, RollbackOrder: plan.RollbackOrder}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	for i, phase := range plan.Phases {
		fmt.Fprintf(formatter.Writer, "phase %d: %s\n", i+1, strings.Join(phase, ", "))
	}
	fmt.Fprintf(formatter.Writer, "rollback order: %s\n", strings.Join(plan.RollbackOrder, ", "))
	return nil
}
