package switchover

import (
	"errors"
	"fmt"
	"time"
)

// Failure kind constants for classification and matching.
const (
	// KindValidation is a validation no-go: zero mutations were performed
	// and the run is fully recoverable by fixing the condition and
	// re-running.
	KindValidation = "validation_failed"

	// KindStep is a fatal step error: the current phase halted with
	// current_phase unadvanced, so the next invocation resumes at the same
	// point.
	KindStep = "step_failed"

	// KindTimeout is a poll ceiling exceeded. Distinct from a reported
	// failure because the underlying operation may be slow but succeeding;
	// re-running resumes the wait.
	KindTimeout = "poll_timeout"

	// KindAttention is an operator decision point: the operation reported a
	// partial result (e.g. a restore in FinishedWithErrors) that is neither
	// full success nor fatal failure. The pipeline stops without guessing.
	KindAttention = "attention_required"
)

// PipelineError is a classified switchover failure. It supports Go's error
// wrapping patterns with Unwrap().
type PipelineError struct {
	Kind    string
	Phase   Phase
	Step    string
	Cause   string
	Wrapped error
}

func (e *PipelineError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("%s: %s/%s: %s", e.Kind, e.Phase, e.Step, e.Cause)
	}
	if e.Phase != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Phase, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
}

func (e *PipelineError) Unwrap() error {
	return e.Wrapped
}

// NewValidationError returns a validation no-go failure.
func NewValidationError(cause string) *PipelineError {
	return &PipelineError{Kind: KindValidation, Phase: PhasePreflight, Cause: cause}
}

// NewStepError wraps a step failure with its phase and step identity.
func NewStepError(phase Phase, step string, err error) *PipelineError {
	return &PipelineError{
		Kind:    KindStep,
		Phase:   phase,
		Step:    step,
		Cause:   err.Error(),
		Wrapped: err,
	}
}

// NewTimeoutError reports a poll ceiling exceeded while waiting on an
// external condition.
func NewTimeoutError(phase Phase, waitingFor string, ceiling time.Duration) *PipelineError {
	return &PipelineError{
		Kind:  KindTimeout,
		Phase: phase,
		Cause: fmt.Sprintf("timed out after %s waiting for %s; the operation may still be progressing, re-run to resume waiting", ceiling, waitingFor),
	}
}

// NewAttentionError reports a condition requiring an operator decision.
func NewAttentionError(phase Phase, cause string) *PipelineError {
	return &PipelineError{Kind: KindAttention, Phase: phase, Cause: cause}
}

// kindOf extracts the failure kind from an error chain, or "" if the error
// is not a PipelineError.
func kindOf(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsValidationFailure reports whether err is a validation no-go.
func IsValidationFailure(err error) bool { return kindOf(err) == KindValidation }

// IsTimeout reports whether err is a poll ceiling failure.
func IsTimeout(err error) bool { return kindOf(err) == KindTimeout }

// IsAttention reports whether err requires an operator decision.
func IsAttention(err error) bool { return kindOf(err) == KindAttention }
