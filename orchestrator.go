package switchover

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// GateFunc runs the validation pipeline and returns a validation error on a
// no-go verdict. It must be read-only against both clusters.
type GateFunc func(ctx context.Context) error

// Options configure an Orchestrator.
type Options struct {
	Store            StateStore
	StepLog          StepLogger
	Logger           *slog.Logger
	PrimaryContext   string
	SecondaryContext string

	// Gate is the go/no-go validation verdict. It runs on every invocation
	// before any mutation and cannot be suppressed.
	Gate GateFunc

	// Pipeline holds the forward phase executors in execution order.
	Pipeline []Executor

	// Rollback reverses primary preparation; invoked only via Rollback().
	Rollback Executor

	// Decommission is the terminal destructive branch; invoked only via
	// Decommission().
	Decommission Executor

	// State optionally provides the shared state document. Executors usually
	// hold a pointer to the same document so step code can record discovered
	// facts; the orchestrator copies loaded state into it so those executors
	// observe the resumed ledger.
	State *WorkflowState
}

// Orchestrator drives the switchover pipeline: it loads state, determines
// the furthest completed phase, and resumes execution at the next incomplete
// step, checkpointing each step's completion before advancing.
type Orchestrator struct {
	store            StateStore
	stepLog          StepLogger
	logger           *slog.Logger
	primaryContext   string
	secondaryContext string
	gate             GateFunc
	pipeline         []Executor
	rollback         Executor
	decommission     Executor
	state            *WorkflowState
}

// NewOrchestrator creates an orchestrator from the given options.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if opts.Gate == nil {
		return nil, fmt.Errorf("validation gate is required")
	}
	if opts.PrimaryContext == "" || opts.SecondaryContext == "" {
		return nil, fmt.Errorf("primary and secondary contexts are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.StepLog == nil {
		opts.StepLog = NewNullStepLogger()
	}
	return &Orchestrator{
		store:            opts.Store,
		stepLog:          opts.StepLog,
		logger:           opts.Logger,
		primaryContext:   opts.PrimaryContext,
		secondaryContext: opts.SecondaryContext,
		gate:             opts.Gate,
		pipeline:         opts.Pipeline,
		rollback:         opts.Rollback,
		decommission:     opts.Decommission,
		state:            opts.State,
	}, nil
}

// bind copies the effective state into the shared document, if one was
// provided, so executors holding that pointer see the resumed ledger.
func (o *Orchestrator) bind(state *WorkflowState) *WorkflowState {
	if o.state == nil || o.state == state {
		return state
	}
	*o.state = *state
	return o.state
}

// loadOrCreate loads the persisted state, verifying the cluster identity
// pair, or creates a fresh document on first invocation.
func (o *Orchestrator) loadOrCreate(ctx context.Context) (*WorkflowState, error) {
	state, err := o.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = o.bind(NewWorkflowState(o.primaryContext, o.secondaryContext))
		if err := o.store.Save(ctx, state); err != nil {
			return nil, err
		}
		o.logger.Info("starting new switchover",
			"run_id", state.RunID,
			"primary", o.primaryContext,
			"secondary", o.secondaryContext)
		return state, nil
	}
	if !state.MatchesIdentity(o.primaryContext, o.secondaryContext) {
		return nil, fmt.Errorf(
			"state file records cluster pair (%s, %s) but this invocation targets (%s, %s); pass --reset-state to discard the old ledger",
			state.PrimaryContext, state.SecondaryContext, o.primaryContext, o.secondaryContext)
	}
	o.logger.Info("loaded existing switchover state",
		"run_id", state.RunID,
		"current_phase", state.CurrentPhase,
		"completed_steps", len(state.CompletedSteps),
		"errors", len(state.Errors))
	return o.bind(state), nil
}

// Run executes the pipeline to completion, resuming from persisted state.
// It returns nil only when every phase completed and the state reached
// COMPLETED.
func (o *Orchestrator) Run(ctx context.Context) error {
	release, err := o.store.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	state, err := o.loadOrCreate(ctx)
	if err != nil {
		return err
	}
	if state.CurrentPhase == PhaseCompleted {
		o.logger.Info("switchover already completed", "run_id", state.RunID)
		return nil
	}

	// Clear a previous failure marker so the pipeline re-enters the phase
	// that failed. The ledger guarantees completed steps are not re-run.
	if state.CurrentPhase == PhaseFailed {
		o.logger.Info("resuming after failure", "resume_phase", state.ResumePhase())
		state.SetPhase(state.ResumePhase())
		state.FailedPhase = ""
	}

	// The validation gate runs on every invocation, before any mutation.
	state.SetPhase(PhasePreflight)
	if err := o.store.Save(ctx, state); err != nil {
		return err
	}
	if err := o.gate(ctx); err != nil {
		state.RecordError(PhasePreflight, err)
		state.SetFailed(PhasePreflight)
		if saveErr := o.store.Save(ctx, state); saveErr != nil {
			o.logger.Error("failed to save state after validation no-go", "error", saveErr)
		}
		return err
	}
	state.MarkStepDone(phaseMarker(PhasePreflight))
	if err := o.store.Save(ctx, state); err != nil {
		return err
	}

	for _, executor := range o.pipeline {
		if state.StepDone(phaseMarker(executor.Phase())) {
			o.logger.Debug("phase already completed", "phase", executor.Phase())
			continue
		}
		if err := o.runPhase(ctx, state, executor); err != nil {
			return err
		}
	}

	state.SetPhase(PhaseCompleted)
	if err := o.store.Save(ctx, state); err != nil {
		return err
	}
	o.logger.Info("switchover completed", "run_id", state.RunID)
	return nil
}

// runPhase executes one phase's steps in order with ledger-based skipping.
// Each step's side effect is written before its completion record; a crash
// between the two causes a safe re-execution of an idempotent step.
func (o *Orchestrator) runPhase(ctx context.Context, state *WorkflowState, executor Executor) error {
	phase := executor.Phase()
	state.SetPhase(phase)
	if err := o.store.Save(ctx, state); err != nil {
		return err
	}
	o.logger.Info("entering phase", "phase", phase)

	for _, step := range executor.Steps() {
		// Cooperative interrupt: stop between steps, never mid-step.
		if err := ctx.Err(); err != nil {
			o.logger.Warn("interrupted, stopping before next step",
				"phase", phase, "next_step", step.Name)
			return err
		}

		if state.StepDone(step.Name) {
			o.logger.Info("step already completed, skipping", "phase", phase, "step", step.Name)
			o.logStep(ctx, state, phase, step.Name, time.Now(), 0, true, nil)
			continue
		}

		o.logger.Info("running step", "phase", phase, "step", step.Name)
		startTime := time.Now()
		err := step.Run(ctx)
		o.logStep(ctx, state, phase, step.Name, startTime, time.Since(startTime), false, err)

		if err != nil {
			state.RecordError(phase, err)
			state.SetFailed(phase)
			if saveErr := o.store.Save(ctx, state); saveErr != nil {
				o.logger.Error("failed to save state after step failure", "error", saveErr)
			}
			o.logger.Error("step failed", "phase", phase, "step", step.Name, "error", err)
			return NewStepError(phase, step.Name, err)
		}

		state.MarkStepDone(step.Name)
		if err := o.store.Save(ctx, state); err != nil {
			return err
		}
	}

	state.MarkStepDone(phaseMarker(phase))
	return o.store.Save(ctx, state)
}

func (o *Orchestrator) logStep(ctx context.Context, state *WorkflowState, phase Phase, name string, start time.Time, d time.Duration, skipped bool, stepErr error) {
	entry := &StepLogEntry{
		RunID:     state.RunID,
		Phase:     phase,
		StepName:  name,
		Skipped:   skipped,
		StartTime: start,
		Duration:  d.Seconds(),
	}
	if stepErr != nil {
		entry.Error = stepErr.Error()
	}
	if err := o.stepLog.LogStep(ctx, entry); err != nil {
		o.logger.Error("failed to write step log", "error", err)
	}
}

// RunRollback reverses primary preparation's mutations and discards the
// ledger so a later attempt starts fresh. It refuses to run once the old hub
// has begun decommissioning.
func (o *Orchestrator) RunRollback(ctx context.Context) error {
	if o.rollback == nil {
		return fmt.Errorf("no rollback executor configured")
	}
	release, err := o.store.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	state, err := o.store.Load(ctx)
	if err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("no switchover state found, nothing to roll back")
	}
	if !state.MatchesIdentity(o.primaryContext, o.secondaryContext) {
		return fmt.Errorf("state file records a different cluster pair (%s, %s)",
			state.PrimaryContext, state.SecondaryContext)
	}
	if decommissionStarted(state) {
		return fmt.Errorf("old hub decommissioning has started; rollback is no longer possible")
	}
	state = o.bind(state)

	if err := o.runPhase(ctx, state, o.rollback); err != nil {
		return err
	}

	o.logger.Info("rollback completed, discarding switchover state", "run_id", state.RunID)
	return o.store.Reset(ctx)
}

// RunDecommission runs the terminal destructive branch in isolation.
func (o *Orchestrator) RunDecommission(ctx context.Context) error {
	if o.decommission == nil {
		return fmt.Errorf("no decommission executor configured")
	}
	release, err := o.store.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	state, err := o.loadOrCreate(ctx)
	if err != nil {
		return err
	}
	return o.runPhase(ctx, state, o.decommission)
}

// decommissionStarted reports whether any decommission step is in the ledger.
func decommissionStarted(state *WorkflowState) bool {
	for _, step := range state.CompletedSteps {
		if strings.HasPrefix(step.Name, "decommission-") {
			return true
		}
	}
	return false
}
