package switchover

import (
	"fmt"
	"time"

	"go.jetify.com/typeid"
)

// SchemaVersion identifies the on-disk state document layout.
const SchemaVersion = "1"

// NewRunID returns a new typed ID identifying one switchover run.
func NewRunID() string {
	id, err := typeid.WithPrefix("run")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// Phase identifies a stage of the switchover pipeline.
type Phase string

const (
	PhaseInit           Phase = "INIT"
	PhasePreflight      Phase = "PREFLIGHT"
	PhasePrimaryPrep    Phase = "PRIMARY_PREP"
	PhaseActivation     Phase = "ACTIVATION"
	PhasePostActivation Phase = "POST_ACTIVATION"
	PhaseFinalization   Phase = "FINALIZATION"
	PhaseCompleted      Phase = "COMPLETED"
	PhaseFailed         Phase = "FAILED"
	PhaseRollback       Phase = "ROLLBACK"
	PhaseDecommission   Phase = "DECOMMISSION"
)

// Method selects how the standby restore pipeline is activated.
type Method string

const (
	// MethodPatch patches the continuous-sync restore in place.
	MethodPatch Method = "patch"

	// MethodRecreate deletes the standby restore and creates a new
	// activation-specific one.
	MethodRecreate Method = "recreate"
)

// ParseMethod validates an operator-supplied method name.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodPatch, MethodRecreate:
		return Method(s), nil
	}
	return "", fmt.Errorf("unknown switchover method %q (expected %q or %q)",
		s, MethodPatch, MethodRecreate)
}

// Disposition selects what happens to the old hub after activation.
type Disposition string

const (
	DispositionStandby      Disposition = "standby"
	DispositionDecommission Disposition = "decommission"
	DispositionManual       Disposition = "manual"
)

// ParseDisposition validates an operator-supplied old-hub disposition.
func ParseDisposition(s string) (Disposition, error) {
	switch Disposition(s) {
	case DispositionStandby, DispositionDecommission, DispositionManual:
		return Disposition(s), nil
	}
	return "", fmt.Errorf("unknown old-hub disposition %q (expected %q, %q or %q)",
		s, DispositionStandby, DispositionDecommission, DispositionManual)
}

// CompletedStep is one entry in the append-only step ledger. The name is the
// step's idempotency key: a step whose name is already recorded is skipped.
type CompletedStep struct {
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
}

// StateError records a step failure. Entries are append-only and never block
// resumption by themselves.
type StateError struct {
	Message   string    `json:"message"`
	Phase     Phase     `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
}

// StateConfig holds phase-discovered facts needed by later phases.
type StateConfig struct {
	PrimaryVersion       string `json:"primary_version,omitempty"`
	SecondaryVersion     string `json:"secondary_version,omitempty"`
	ObservabilityPresent bool   `json:"observability_present,omitempty"`

	// ActiveRestoreName is the restore the activation poller tracks.
	ActiveRestoreName string `json:"active_restore_name,omitempty"`

	// CompactorReplicas is the metrics compactor's replica count before it
	// was scaled to zero, so rollback can restore it.
	CompactorReplicas int64 `json:"compactor_replicas,omitempty"`

	// ActivationTime marks when activation began; finalization only accepts
	// backups that started after this point.
	ActivationTime time.Time `json:"activation_time,omitzero"`

	// SavedResources holds full pre-mutation definitions of resources whose
	// mutation is not naturally reversible (e.g. a backup schedule that had
	// to be deleted on hubs without pause support). Keyed by a stable
	// resource key, see SaveResource.
	SavedResources map[string]map[string]any `json:"saved_resources,omitempty"`
}

// WorkflowState is the single durable source of truth for one switchover,
// keyed by the (primary, secondary) cluster identity pair. It is mutated
// exactly once per successfully completed step and persisted by a StateStore.
// The struct is fully JSON serializable.
type WorkflowState struct {
	SchemaVersion    string          `json:"schema_version"`
	RunID            string          `json:"run_id"`
	PrimaryContext   string          `json:"primary_context"`
	SecondaryContext string          `json:"secondary_context"`
	CurrentPhase     Phase           `json:"current_phase"`
	FailedPhase      Phase           `json:"failed_phase,omitempty"`
	CompletedSteps   []CompletedStep `json:"completed_steps"`
	Config           StateConfig     `json:"config"`
	Errors           []StateError    `json:"errors"`
	StartTime        time.Time       `json:"start_time,omitzero"`
	UpdatedAt        time.Time       `json:"updated_at,omitzero"`
}

// NewWorkflowState creates the state document for a fresh switchover between
// the given kubeconfig contexts.
func NewWorkflowState(primaryContext, secondaryContext string) *WorkflowState {
	return &WorkflowState{
		SchemaVersion:    SchemaVersion,
		RunID:            NewRunID(),
		PrimaryContext:   primaryContext,
		SecondaryContext: secondaryContext,
		CurrentPhase:     PhaseInit,
		StartTime:        time.Now(),
		UpdatedAt:        time.Now(),
	}
}

// MatchesIdentity reports whether the state was recorded for the given
// cluster pair. A mismatch means the ledger belongs to a different
// switchover and must not be resumed.
func (s *WorkflowState) MatchesIdentity(primaryContext, secondaryContext string) bool {
	return s.PrimaryContext == primaryContext && s.SecondaryContext == secondaryContext
}

// StepDone reports whether a step name is already in the completed ledger.
func (s *WorkflowState) StepDone(name string) bool {
	for _, step := range s.CompletedSteps {
		if step.Name == name {
			return true
		}
	}
	return false
}

// MarkStepDone appends a step to the completed ledger. Recording the same
// name twice is a no-op, matching the step idempotency contract.
func (s *WorkflowState) MarkStepDone(name string) {
	if s.StepDone(name) {
		return
	}
	s.CompletedSteps = append(s.CompletedSteps, CompletedStep{
		Name:      name,
		Timestamp: time.Now(),
	})
	s.UpdatedAt = time.Now()
}

// RecordError appends a step failure to the error history.
func (s *WorkflowState) RecordError(phase Phase, err error) {
	s.Errors = append(s.Errors, StateError{
		Message:   err.Error(),
		Phase:     phase,
		Timestamp: time.Now(),
	})
	s.UpdatedAt = time.Now()
}

// SetPhase updates the current phase.
func (s *WorkflowState) SetPhase(phase Phase) {
	s.CurrentPhase = phase
	s.UpdatedAt = time.Now()
}

// SetFailed marks the pipeline failed while remembering which phase to
// resume from on the next invocation.
func (s *WorkflowState) SetFailed(phase Phase) {
	s.FailedPhase = phase
	s.CurrentPhase = PhaseFailed
	s.UpdatedAt = time.Now()
}

// ResumePhase returns the phase the next invocation should enter.
func (s *WorkflowState) ResumePhase() Phase {
	if s.CurrentPhase == PhaseFailed && s.FailedPhase != "" {
		return s.FailedPhase
	}
	return s.CurrentPhase
}

// SaveResource stores a full pre-mutation resource definition under a stable
// key so a later phase (or rollback) can recreate it.
func (s *WorkflowState) SaveResource(key string, definition map[string]any) {
	if s.Config.SavedResources == nil {
		s.Config.SavedResources = map[string]map[string]any{}
	}
	s.Config.SavedResources[key] = definition
	s.UpdatedAt = time.Now()
}

// SavedResource returns a previously saved resource definition.
func (s *WorkflowState) SavedResource(key string) (map[string]any, bool) {
	definition, ok := s.Config.SavedResources[key]
	return definition, ok
}
