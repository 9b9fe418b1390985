package switchover

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWorkflowState(t *testing.T) {
	state := NewWorkflowState("hub-east", "hub-west")
	require.Equal(t, SchemaVersion, state.SchemaVersion)
	require.True(t, strings.HasPrefix(state.RunID, "run_"))
	require.Equal(t, PhaseInit, state.CurrentPhase)
	require.True(t, state.MatchesIdentity("hub-east", "hub-west"))
	require.False(t, state.MatchesIdentity("hub-west", "hub-east"))
	require.False(t, state.StartTime.IsZero())
}

func TestStepLedgerIsIdempotent(t *testing.T) {
	state := NewWorkflowState("a", "b")
	require.False(t, state.StepDone("pause-backup-schedule"))

	state.MarkStepDone("pause-backup-schedule")
	require.True(t, state.StepDone("pause-backup-schedule"))
	require.Len(t, state.CompletedSteps, 1)

	// Recording the same name again must not duplicate the entry.
	state.MarkStepDone("pause-backup-schedule")
	require.Len(t, state.CompletedSteps, 1)
}

func TestFailureAndResume(t *testing.T) {
	state := NewWorkflowState("a", "b")
	state.SetPhase(PhaseActivation)
	require.Equal(t, PhaseActivation, state.ResumePhase())

	state.RecordError(PhaseActivation, fmt.Errorf("restore failed"))
	state.SetFailed(PhaseActivation)
	require.Equal(t, PhaseFailed, state.CurrentPhase)
	require.Equal(t, PhaseActivation, state.ResumePhase())
	require.Len(t, state.Errors, 1)
	require.Equal(t, PhaseActivation, state.Errors[0].Phase)
}

func TestSaveResourceRoundTrip(t *testing.T) {
	state := NewWorkflowState("a", "b")
	_, ok := state.SavedResource("backupschedule:a")
	require.False(t, ok)

	definition := map[string]any{
		"apiVersion": "cluster.open-cluster-management.io/v1beta1",
		"kind":       "BackupSchedule",
		"metadata":   map[string]any{"name": "schedule-acm"},
	}
	state.SaveResource("backupschedule:a", definition)

	saved, ok := state.SavedResource("backupschedule:a")
	require.True(t, ok)
	require.Equal(t, "BackupSchedule", saved["kind"])
}

func TestStateSurvivesJSONRoundTrip(t *testing.T) {
	state := NewWorkflowState("hub-east", "hub-west")
	state.SetPhase(PhasePrimaryPrep)
	state.MarkStepDone("detect-hub-versions")
	state.Config.PrimaryVersion = "2.11.0"
	state.Config.ObservabilityPresent = true
	state.Config.CompactorReplicas = 3
	state.SaveResource("backupschedule:hub-east", map[string]any{"kind": "BackupSchedule"})
	state.RecordError(PhasePrimaryPrep, fmt.Errorf("transient"))

	data, err := json.Marshal(state)
	require.NoError(t, err)

	var loaded WorkflowState
	require.NoError(t, json.Unmarshal(data, &loaded))
	require.Equal(t, state.RunID, loaded.RunID)
	require.Equal(t, PhasePrimaryPrep, loaded.CurrentPhase)
	require.True(t, loaded.StepDone("detect-hub-versions"))
	require.Equal(t, "2.11.0", loaded.Config.PrimaryVersion)
	require.True(t, loaded.Config.ObservabilityPresent)
	require.EqualValues(t, 3, loaded.Config.CompactorReplicas)
	require.Len(t, loaded.Errors, 1)
	_, ok := loaded.SavedResource("backupschedule:hub-east")
	require.True(t, ok)
}

func TestParseMethod(t *testing.T) {
	method, err := ParseMethod("patch")
	require.NoError(t, err)
	require.Equal(t, MethodPatch, method)

	method, err = ParseMethod("recreate")
	require.NoError(t, err)
	require.Equal(t, MethodRecreate, method)

	_, err = ParseMethod("inplace")
	require.Error(t, err)
}

func TestParseDisposition(t *testing.T) {
	for _, valid := range []string{"standby", "decommission", "manual"} {
		_, err := ParseDisposition(valid)
		require.NoError(t, err)
	}
	_, err := ParseDisposition("keep")
	require.Error(t, err)
}
