// hubswitch drives a controlled switchover between two hub clusters: it
// validates both sides, quiesces the primary, activates the secondary's
// restore pipeline, verifies the fleet re-registers, and hands off the old
// primary. Progress is checkpointed so an interrupted run resumes where it
// stopped.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hubfleet/switchover"
	"github.com/hubfleet/switchover/kube"
	"github.com/hubfleet/switchover/phases"
	"github.com/hubfleet/switchover/postgres"
	"github.com/hubfleet/switchover/validation"
)

type options struct {
	primaryContext   string
	secondaryContext string
	kubeconfig       string
	method           string
	oldHub           string
	settingsPath     string

	stateBackend string
	stateDir     string
	stateFile    string
	stateDSN     string
	stepLogDir   string

	dryRun       bool
	validateOnly bool
	resetState   bool
	rollback     bool
	decommission bool
	status       bool
	yes          bool
	logJSON      bool
	verbose      bool
}

func main() {
	if err := newCommand().Execute(); err != nil {
		printFailure(err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "hubswitch --primary-context CTX --secondary-context CTX --method METHOD --old-hub DISPOSITION",
		Short: "Controlled switchover between two hub clusters",
		Long: `hubswitch promotes a standby hub to active and demotes the old one.

The run is resumable: every completed step is checkpointed, and re-running
the same command picks up where the previous invocation stopped. Validation
runs on every invocation before any mutation.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.primaryContext, "primary-context", "", "kubeconfig context of the currently active hub")
	flags.StringVar(&opts.secondaryContext, "secondary-context", "", "kubeconfig context of the standby hub to activate")
	flags.StringVar(&opts.kubeconfig, "kubeconfig", "", "path to the kubeconfig file (defaults to the ambient kubeconfig)")
	flags.StringVar(&opts.method, "method", "", "activation method: patch or recreate")
	flags.StringVar(&opts.oldHub, "old-hub", "", "old hub disposition after switchover: standby, decommission or manual")
	flags.StringVar(&opts.settingsPath, "settings", "", "path to a YAML settings file overriding poll intervals and ceilings")

	flags.StringVar(&opts.stateBackend, "state-backend", "file", "state persistence backend: file or postgres")
	flags.StringVar(&opts.stateDir, "state-dir", "", "directory for state files (default ~/.hubswitch/state, or $"+switchover.StateStoreDirEnv+")")
	flags.StringVar(&opts.stateFile, "state-file", "", "explicit state file path, overriding the derived location")
	flags.StringVar(&opts.stateDSN, "state-dsn", "", "PostgreSQL DSN for --state-backend=postgres")
	flags.StringVar(&opts.stepLogDir, "step-log-dir", "", "directory for per-run step audit logs (default alongside the state)")

	flags.BoolVar(&opts.dryRun, "dry-run", false, "log every intended mutation without performing it")
	flags.BoolVar(&opts.validateOnly, "validate-only", false, "run the validation battery and exit")
	flags.BoolVar(&opts.resetState, "reset-state", false, "discard the persisted ledger and start fresh")
	flags.BoolVar(&opts.rollback, "rollback", false, "undo the pipeline's mutations and return the primary to active duty")
	flags.BoolVar(&opts.decommission, "decommission", false, "run only the old-hub decommission branch")
	flags.BoolVar(&opts.status, "status", false, "print the persisted switchover status and exit")
	flags.BoolVar(&opts.yes, "yes", false, "skip the interactive confirmation before decommission")
	flags.BoolVar(&opts.logJSON, "log-json", false, "write logs as JSON instead of colored text")
	flags.BoolVar(&opts.verbose, "verbose", false, "enable debug logging")

	cobra.CheckErr(cmd.MarkFlagRequired("primary-context"))
	cobra.CheckErr(cmd.MarkFlagRequired("secondary-context"))

	// Both choices change what the pipeline does to the clusters; neither gets
	// a default, the operator picks explicitly.
	cobra.CheckErr(cmd.MarkFlagRequired("method"))
	cobra.CheckErr(cmd.MarkFlagRequired("old-hub"))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cmd.SetContext(ctx)
	cobra.OnFinalize(cancel)
	return cmd
}

func run(ctx context.Context, opts *options) error {
	logger := buildLogger(opts)

	method, err := switchover.ParseMethod(opts.method)
	if err != nil {
		return err
	}
	disposition, err := switchover.ParseDisposition(opts.oldHub)
	if err != nil {
		return err
	}
	if opts.rollback && opts.decommission {
		return fmt.Errorf("--rollback and --decommission are mutually exclusive")
	}

	settings := switchover.DefaultSettings()
	if opts.settingsPath != "" {
		settings, err = switchover.LoadSettings(opts.settingsPath)
		if err != nil {
			return err
		}
	}

	store, cleanup, err := buildStore(ctx, opts)
	if err != nil {
		return err
	}
	defer cleanup()

	if opts.resetState {
		if err := store.Reset(ctx); err != nil {
			return err
		}
		logger.Info("discarded persisted state",
			"primary", opts.primaryContext, "secondary", opts.secondaryContext)
	}

	if opts.status {
		return printStatus(ctx, store, opts)
	}

	pair, err := buildPair(opts, settings, logger)
	if err != nil {
		return err
	}

	runner := validation.NewRunner(logger, validation.Checks(pair, method)...)
	if opts.validateOnly {
		summary := runner.Run(ctx)
		summary.Print(os.Stdout)
		if !summary.Passed() {
			return switchover.NewValidationError(summary.String())
		}
		return nil
	}

	orchestrator, err := buildOrchestrator(opts, store, logger, pair, settings, runner, method, disposition)
	if err != nil {
		return err
	}

	switch {
	case opts.rollback:
		err = orchestrator.RunRollback(ctx)
	case opts.decommission:
		if err := confirmDecommission(opts); err != nil {
			return err
		}
		err = orchestrator.RunDecommission(ctx)
	default:
		err = orchestrator.Run(ctx)
		if err == nil && disposition == switchover.DispositionDecommission {
			if err := confirmDecommission(opts); err != nil {
				return err
			}
			err = orchestrator.RunDecommission(ctx)
		}
	}
	return err
}

func buildLogger(opts *options) *slog.Logger {
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	if opts.logJSON {
		return switchover.NewJSONLogger(level)
	}
	return switchover.NewLogger(level)
}

// buildStore picks the state backend. Dry runs must not advance the ledger,
// so they always get the null store regardless of backend flags.
func buildStore(ctx context.Context, opts *options) (switchover.StateStore, func(), error) {
	noop := func() {}
	if opts.dryRun {
		return switchover.NewNullStateStore(), noop, nil
	}
	switch opts.stateBackend {
	case "file":
		if opts.stateFile != "" {
			store, err := switchover.NewFileStateStoreAt(opts.stateFile)
			return store, noop, err
		}
		store, err := switchover.NewFileStateStore(opts.stateDir, opts.primaryContext, opts.secondaryContext)
		return store, noop, err
	case "postgres":
		if opts.stateDSN == "" {
			return nil, noop, fmt.Errorf("--state-dsn is required with --state-backend=postgres")
		}
		store, err := postgres.New(ctx, opts.stateDSN, opts.primaryContext, opts.secondaryContext)
		if err != nil {
			return nil, noop, err
		}
		return store, func() { store.Close() }, nil
	}
	return nil, noop, fmt.Errorf("unknown state backend %q (expected file or postgres)", opts.stateBackend)
}

func buildPair(opts *options, settings switchover.Settings, logger *slog.Logger) (*kube.Pair, error) {
	clientOpts := func(context string) kube.Options {
		return kube.Options{
			Context:     context,
			Kubeconfig:  opts.kubeconfig,
			DryRun:      opts.dryRun,
			CallTimeout: settings.CallTimeout,
			Logger:      logger,
		}
	}
	return kube.NewPair(clientOpts(opts.primaryContext), clientOpts(opts.secondaryContext))
}

func buildOrchestrator(opts *options, store switchover.StateStore, logger *slog.Logger,
	pair *kube.Pair, settings switchover.Settings, runner *validation.Runner,
	method switchover.Method, disposition switchover.Disposition) (*switchover.Orchestrator, error) {

	// The state document is shared across executors; the orchestrator
	// persists it after every completed step.
	state := switchover.NewWorkflowState(opts.primaryContext, opts.secondaryContext)
	deps := phases.Deps{Pair: pair, State: state, Settings: settings, Logger: logger}

	var stepLog switchover.StepLogger = switchover.NewNullStepLogger()
	if !opts.dryRun {
		dir := opts.stepLogDir
		if dir == "" {
			if home, err := os.UserHomeDir(); err == nil {
				dir = filepath.Join(home, ".hubswitch", "steps")
			}
		}
		if dir != "" {
			stepLog = switchover.NewFileStepLogger(dir)
		}
	}

	return switchover.NewOrchestrator(switchover.Options{
		Store:            store,
		State:            state,
		StepLog:          stepLog,
		Logger:           logger,
		PrimaryContext:   opts.primaryContext,
		SecondaryContext: opts.secondaryContext,
		Gate:             validation.Gate(runner, nil),
		Pipeline: []switchover.Executor{
			phases.NewPreparation(deps),
			phases.NewActivation(deps, method),
			phases.NewPostActivation(deps),
			phases.NewFinalization(deps, disposition),
		},
		Rollback:     phases.NewRollback(deps),
		Decommission: phases.NewDecommission(deps),
	})
}

// confirmDecommission requires an explicit operator acknowledgement before
// the destructive branch. --yes is the non-interactive path.
func confirmDecommission(opts *options) error {
	if opts.yes {
		return nil
	}
	fmt.Fprintf(os.Stderr, "%s decommission deletes the hub installation and detaches every fleet member on %s.\n",
		color.RedString("WARNING:"), opts.primaryContext)
	fmt.Fprint(os.Stderr, "Type 'yes' to continue: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read confirmation: %w", err)
	}
	if strings.TrimSpace(line) != "yes" {
		return fmt.Errorf("decommission not confirmed")
	}
	return nil
}

// printStatus renders the persisted ledger for the operator.
func printStatus(ctx context.Context, store switchover.StateStore, opts *options) error {
	state, err := store.Load(ctx)
	if err != nil {
		return err
	}
	if state == nil {
		fmt.Printf("no switchover state for pair (%s, %s)\n", opts.primaryContext, opts.secondaryContext)
		return nil
	}
	fmt.Printf("run:       %s\n", state.RunID)
	fmt.Printf("pair:      %s -> %s\n", state.PrimaryContext, state.SecondaryContext)
	fmt.Printf("phase:     %s\n", phaseColor(state.CurrentPhase))
	if state.FailedPhase != "" {
		fmt.Printf("resumes:   %s\n", state.FailedPhase)
	}
	fmt.Printf("started:   %s\n", state.StartTime.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("updated:   %s\n", state.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("completed: %d step(s)\n", len(state.CompletedSteps))
	for _, step := range state.CompletedSteps {
		fmt.Printf("  %s %s\n", color.GreenString("done"), step.Name)
	}
	if len(state.Errors) > 0 {
		fmt.Printf("errors:    %d\n", len(state.Errors))
		last := state.Errors[len(state.Errors)-1]
		fmt.Printf("  last (%s): %s\n", last.Phase, last.Message)
	}
	return nil
}

func phaseColor(phase switchover.Phase) string {
	switch phase {
	case switchover.PhaseCompleted:
		return color.GreenString(string(phase))
	case switchover.PhaseFailed:
		return color.RedString(string(phase))
	}
	return color.YellowString(string(phase))
}

// printFailure translates classified failures into operator-facing guidance.
func printFailure(err error) {
	switch {
	case switchover.IsValidationFailure(err):
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("validation no-go:"), err)
	case switchover.IsTimeout(err):
		fmt.Fprintf(os.Stderr, "%s %v\n", color.YellowString("timed out:"), err)
	case switchover.IsAttention(err):
		fmt.Fprintf(os.Stderr, "%s %v\n", color.YellowString("attention required:"), err)
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(os.Stderr, "interrupted; re-run the same command to resume")
	default:
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("error:"), err)
	}
}
