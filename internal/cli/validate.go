package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/railyard/internal/compat"
	"github.com/roach88/railyard/internal/config"
)

// PairView is one evaluated compatibility rule in CLI output.
type PairView struct {
	Pair        string `json:"pair"`
	FromVersion string `json:"from_version"`
	ToVersion   string `json:"to_version"`
	Severity    string `json:"severity"`
	Compatible  bool   `json:"compatible"`
	Reason      string `json:"reason,omitempty"`
}

// ValidationResult holds compatibility validation results.
type ValidationResult struct {
	Compatible bool       `json:"compatible"`
	Results    []PairView `json:"results,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config.yaml>",
		Short: "Validate the proposed version set against compatibility rules",
		Long: `Validate that the configured service versions may coexist, without
planning or promoting anything. Every registered rule whose two services
participate is evaluated; a single ERROR-severity result fails validation.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, configPath string, cmd *cobra.Command) error {
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

	rules, err := cfg.RuleSet()
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}
	versions, err := cfg.ProposedVersions()
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}

	formatter.VerboseLog("Evaluating %d rule(s) over %d service(s)", rules.Len(), len(versions))
	report := rules.Validate(versions)
	result := ValidationResult{
		Compatible: report.OverallCompatible(),
		Results:    pairViews(report),
	}

	if formatter.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		printValidationText(formatter, report)
	}

	if !result.Compatible {
		return NewExitError(ExitFailure, fmt.Sprintf("%d pair(s) incompatible", len(report.Errors())))
	}
	return nil
}

func pairViews(report *compat.Report) []PairView {
	views := make([]PairView, 0, len(report.Results))
	for _, pr := range report.Results {
		views = append(views, PairView{
			Pair:        pr.Pair.String(),
			FromVersion: pr.FromVersion.String(),
			ToVersion:   pr.ToVersion.String(),
			Severity:    pr.Result.Severity.String(),
			Compatible:  pr.Result.Compatible,
			Reason:      pr.Result.Reason,
		})
	}
	return views
}

func printValidationText(formatter *OutputFormatter, report *compat.Report) {
	w := formatter.Writer
	if report.OverallCompatible() {
		fmt.Fprintf(w, "✓ compatible (%d rule(s) evaluated)\n", len(report.Results))
	} else {
		fmt.Fprintln(w, "✗ incompatible")
	}
	for _, pr := range report.Errors() {
		fmt.Fprintf(w, "  ERROR %s (%s with %s): %s\n",
			pr.Pair, pr.FromVersion, pr.ToVersion, pr.Result.Reason)
	}
	for _, pr := range report.Warnings() {
		fmt.Fprintf(w, "  WARNING %s (%s with %s): %s\n",
			pr.Pair, pr.FromVersion, pr.ToVersion, pr.Result.Reason)
	}
}
