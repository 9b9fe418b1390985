package switchover

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStepErrorWrapsCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := NewStepError(PhaseActivation, "patch-sync-restore", cause)

	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "step_failed")
	require.Contains(t, err.Error(), "ACTIVATION")
	require.Contains(t, err.Error(), "patch-sync-restore")

	var pe *PipelineError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, KindStep, pe.Kind)
}

func TestClassificationPredicates(t *testing.T) {
	require.True(t, IsValidationFailure(NewValidationError("no-go")))
	require.True(t, IsTimeout(NewTimeoutError(PhaseActivation, "restore to finish", time.Minute)))
	require.True(t, IsAttention(NewAttentionError(PhaseActivation, "restore finished with errors")))

	require.False(t, IsValidationFailure(fmt.Errorf("plain")))
	require.False(t, IsTimeout(nil))
	require.False(t, IsAttention(NewValidationError("no-go")))
}

func TestClassificationSurvivesWrapping(t *testing.T) {
	inner := NewTimeoutError(PhaseFinalization, "a new backup", 30*time.Minute)
	wrapped := fmt.Errorf("finalization: %w", inner)
	require.True(t, IsTimeout(wrapped))

	stepWrapped := NewStepError(PhaseFinalization, "await-new-backup", inner)
	require.Equal(t, KindStep, kindOf(stepWrapped))
	require.ErrorIs(t, stepWrapped, inner)
}

func TestTimeoutErrorMentionsResumability(t *testing.T) {
	err := NewTimeoutError(PhaseActivation, "restore restore-acm-activation to finish", time.Hour)
	require.Contains(t, err.Error(), "re-run to resume waiting")
}
