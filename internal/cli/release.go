package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/railyard/internal/compat"
	"github.com/roach88/railyard/internal/config"
	"github.com/roach88/railyard/internal/graph"
	"github.com/roach88/railyard/internal/manifest"
	"github.com/roach88/railyard/internal/release"
	"github.com/roach88/railyard/internal/semver"
	"github.com/roach88/railyard/internal/store"
)

// releaseOptions holds the release command's flags.
type releaseOptions struct {
	ManifestDir    string
	RegistryPath   string
	Stage          string
	Current        string
	Notes          string
	Overrides      []string
	Preview        bool
	AllowDowngrade bool
	RequireChange  bool
	CallTimeout    time.Duration
	RetryDelay     time.Duration
}

// ReleaseResult summarizes one release attempt for CLI output.
type ReleaseResult struct {
	Token          string                     `json:"token"`
	State          string                     `json:"state"`
	CurrentVersion string                     `json:"current_version"`
	NextVersion    string                     `json:"next_version"`
	Change         string                     `json:"change"`
	NoOp           bool                       `json:"no_op,omitempty"`
	Phases         [][]string                 `json:"phases,omitempty"`
	Promotions     []release.PromotionOutcome `json:"promotions,omitempty"`
	Rollback       *release.RollbackResult    `json:"rollback,omitempty"`
}

// NewReleaseCommand creates the release command.
func NewReleaseCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &releaseOptions{}

	cmd := &cobra.Command{
		Use:   "release <config.yaml>",
		Short: "Run a coordinated platform release",
		Long: `Run a release end to end: collect version transitions, validate
compatibility, resolve deployment order, determine the next platform
version, promote phase by phase, and write the manifest on success.

With --preview the run stops after the platform version is determined
and prints the resulting manifest without promoting anything.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelease(rootOpts, opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ManifestDir, "manifest-dir", "manifests", "directory holding release manifests")
	cmd.Flags().StringVar(&opts.RegistryPath, "registry", "railyard.db", "path to the version registry database")
	cmd.Flags().StringVar(&opts.Stage, "stage", "", "promotion target stage (default: config source_stage)")
	cmd.Flags().StringVar(&opts.Current, "current", "", "current platform version (default: last known-good manifest)")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "release notes recorded in the manifest")
	cmd.Flags().StringArrayVar(&opts.Overrides, "override", nil, "override a proposed version (service=version, repeatable)")
	cmd.Flags().BoolVar(&opts.Preview, "preview", false, "stop after version determination and print the manifest")
	cmd.Flags().BoolVar(&opts.AllowDowngrade, "allow-downgrade", false, "permit proposed versions lower than deployed ones")
	cmd.Flags().BoolVar(&opts.RequireChange, "require-change", false, "fail instead of completing as a no-op when nothing changed")
	cmd.Flags().DurationVar(&opts.CallTimeout, "timeout", 2*time.Minute, "per-promotion call timeout")
	cmd.Flags().DurationVar(&opts.RetryDelay, "retry-delay", 2*time.Second, "pause before the single retry of a transient failure")

	return cmd
}

func runRelease(rootOpts *RootOptions, opts *releaseOptions, configPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    rootOpts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   rootOpts.Verbose,
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}

	overrides, err := config.ParseOverrides(opts.Overrides)
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}
	if err := cfg.ApplyOverrides(overrides); err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}

	req, deps, cleanup, err := buildRelease(cfg, opts)
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}
	defer cleanup()

	orch := release.New(cfg.Platform.Name, deps,
		release.WithCallTimeout(opts.CallTimeout),
		release.WithRetryDelay(opts.RetryDelay),
	)

	attempt, runErr := orch.Run(cmd.Context(), req)
	if attempt == nil {
		code, exit := classifyReleaseError(runErr)
		_ = formatter.Error(code, runErr.Error(), nil)
		return NewExitError(exit, runErr.Error())
	}

	if opts.Preview && runErr == nil {
		return printPreview(formatter, attempt)
	}

	result := releaseResult(attempt)
	if runErr != nil {
		code, exit := classifyReleaseError(runErr)
		if formatter.Format == "json" {
			_ = formatter.Error(code, runErr.Error(), result)
		} else {
			printReleaseText(formatter, result)
			fmt.Fprintf(formatter.Writer, "✗ %s\n", runErr.Error())
		}
		return NewExitError(exit, runErr.Error())
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	printReleaseText(formatter, result)
	return nil
}

// buildRelease assembles the orchestrator request and collaborators from
// the config and flags. The returned cleanup closes the registry.
func buildRelease(cfg *config.Config, opts *releaseOptions) (release.Request, release.Deps, func(), error) {
	none := func() {}

	versions, err := cfg.ProposedVersions()
	if err != nil {
		return release.Request{}, release.Deps{}, none, err
	}
	rules, err := cfg.RuleSet()
	if err != nil {
		return release.Request{}, release.Deps{}, none, err
	}
	seeds, err := cfg.SeedVersions()
	if err != nil {
		return release.Request{}, release.Deps{}, none, err
	}

	reg, err := store.Open(opts.RegistryPath)
	if err != nil {
		return release.Request{}, release.Deps{}, none, err
	}

	manifests := manifest.NewDir(opts.ManifestDir)
	deps := release.Deps{
		Rules:     rules,
		Source:    release.NewManifestSource(manifests, seeds),
		Promoter:  LogPromoter{},
		Validator: StructuralValidator{},
		Registry:  reg,
		Manifests: manifests,
	}

	stage := opts.Stage
	if stage == "" {
		stage = cfg.Platform.SourceStage
	}
	req := release.Request{
		Services:       versions,
		Nodes:          cfg.Nodes(),
		Stage:          stage,
		ReleaseType:    cfg.ReleaseType,
		Notes:          firstNonEmpty(opts.Notes, cfg.Notes),
		Preview:        opts.Preview,
		AllowDowngrade: opts.AllowDowngrade,
		RequireChange:  opts.RequireChange,
	}
	if opts.Current != "" {
		current, err := semver.Parse(opts.Current)
		if err != nil {
			reg.Close()
			return release.Request{}, release.Deps{}, none, fmt.Errorf("--current: %w", err)
		}
		req.CurrentPlatform = &current
	}

	return req, deps, func() { reg.Close() }, nil
}

func releaseResult(a *release.Attempt) ReleaseResult {
	result := ReleaseResult{
		Token:          a.Token,
		State:          a.State().String(),
		CurrentVersion: a.Current.String(),
		NextVersion:    a.Next.String(),
		Change:         a.Change.String(),
		NoOp:           a.NoOp,
		Promotions:     a.Promotions(),
		Rollback:       a.Rollback,
	}
	if a.Plan != nil {
		result.Phases = a.Plan.Phases
	}
	return result
}

func printPreview(formatter *OutputFormatter, a *release.Attempt) error {
	// A no-op preview has no manifest; the attempt summary carries the
	// no_op flag and the unchanged version.
	if a.NoOp {
		if formatter.Format == "json" {
			return formatter.Success(releaseResult(a))
		}
		fmt.Fprintf(formatter.Writer, "no change: platform stays at %s\n", a.Next.String())
		return nil
	}
	if formatter.Format == "json" {
		return formatter.Success(a.Manifest)
	}
	data, err := yaml.Marshal(a.Manifest)
	if err != nil {
		return err
	}
	fmt.Fprint(formatter.Writer, string(data))
	return nil
}

func printReleaseText(formatter *OutputFormatter, r ReleaseResult) {
	w := formatter.Writer
	if r.NoOp {
		fmt.Fprintf(w, "✓ no change: platform stays at %s\n", r.NextVersion)
		return
	}
	fmt.Fprintf(w, "%s: %s -> %s (%s)\n", r.State, r.CurrentVersion, r.NextVersion, r.Change)
	for i, phase := range r.Phases {
		fmt.Fprintf(w, "  phase %d: %s\n", i+1, strings.Join(phase, ", "))
	}
	for _, p := range r.Promotions {
		mark := "✓"
		if !p.Success {
			mark = "✗"
		}
		fmt.Fprintf(w, "  %s %s@%s (attempts: %d)\n", mark, p.Service, p.Version, p.Attempts)
	}
	if r.Rollback != nil {
		for _, s := range r.Rollback.Steps {
			mark := "✓"
			if !s.Recovered {
				mark = "✗"
			}
			fmt.Fprintf(w, "  rollback %s %s@%s\n", mark, s.Service, s.Version)
		}
	}
}

// classifyReleaseError maps an orchestrator error to a CLI error code
// and exit code.
func classifyReleaseError(err error) (string, int) {
	var (
		incompatible *compat.IncompatibleError
		cycle        *graph.CycleError
		rollback     *release.RollbackFailedError
	)
	switch {
	case errors.As(err, &incompatible):
		return ErrCodeIncompatible, ExitFailure
	case errors.As(err, &cycle):
		return ErrCodeCycle, ExitFailure
	case errors.As(err, &rollback):
		return ErrCodeRollback, ExitFailure
	default:
		return ErrCodeRelease, ExitFailure
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
