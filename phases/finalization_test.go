package phases

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/hubfleet/switchover"
	"github.com/hubfleet/switchover/resources"
)

func TestFinalizationStepListPerDisposition(t *testing.T) {
	deps := testDeps(fakeHub(t, "hub-east", nil), fakeHub(t, "hub-west", nil))

	require.Equal(t, []string{
		"enable-backup-schedule",
		"await-new-backup",
		"convert-primary-to-standby",
	}, stepNames(NewFinalization(deps, switchover.DispositionStandby)))

	require.Equal(t, []string{
		"enable-backup-schedule",
		"await-new-backup",
	}, stepNames(NewFinalization(deps, switchover.DispositionManual)))

	require.Equal(t, []string{
		"enable-backup-schedule",
		"await-new-backup",
	}, stepNames(NewFinalization(deps, switchover.DispositionDecommission)),
		"decommission runs as its own confirmed branch, not inline")
}

func TestEnableBackupScheduleUnpauses(t *testing.T) {
	secondary := fakeHub(t, "hub-west", nil, scheduleObject(true))
	deps := testDeps(fakeHub(t, "hub-east", nil), secondary)

	finalization := NewFinalization(deps, switchover.DispositionManual)
	require.NoError(t, finalization.enableBackupSchedule(context.Background()))

	schedule := getObject(t, secondary, resources.BackupSchedules, resources.BackupNamespace, resources.BackupScheduleName)
	paused, _, err := unstructured.NestedBool(schedule.Object, "spec", "paused")
	require.NoError(t, err)
	require.False(t, paused)
}

func TestEnableBackupScheduleRecreatesFromSavedDefinition(t *testing.T) {
	secondary := fakeHub(t, "hub-west", nil)
	deps := testDeps(fakeHub(t, "hub-east", nil), secondary)
	deps.State.SaveResource(savedScheduleKey("hub-east"),
		resources.Definition(scheduleObject(false)))

	finalization := NewFinalization(deps, switchover.DispositionManual)
	require.NoError(t, finalization.enableBackupSchedule(context.Background()))

	getObject(t, secondary, resources.BackupSchedules, resources.BackupNamespace, resources.BackupScheduleName)
}

func TestEnableBackupScheduleWithNothingToEnable(t *testing.T) {
	deps := testDeps(fakeHub(t, "hub-east", nil), fakeHub(t, "hub-west", nil))

	finalization := NewFinalization(deps, switchover.DispositionManual)
	err := finalization.enableBackupSchedule(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "no saved definition")
}

func TestAwaitNewBackup(t *testing.T) {
	activation := time.Now().Add(-time.Hour)
	secondary := fakeHub(t, "hub-west", nil,
		// Inherited from the restore: predates activation, must not count.
		backupObject("inherited", resources.BackupPhaseCompleted, activation.Add(-24*time.Hour)),
		backupObject("fresh", resources.BackupPhaseCompleted, activation.Add(30*time.Minute)),
	)
	deps := testDeps(fakeHub(t, "hub-east", nil), secondary)
	deps.State.Config.ActivationTime = activation

	finalization := NewFinalization(deps, switchover.DispositionManual)
	require.NoError(t, finalization.awaitNewBackup(context.Background()))
}

func TestAwaitNewBackupTimesOutOnInheritedHistoryOnly(t *testing.T) {
	activation := time.Now()
	secondary := fakeHub(t, "hub-west", nil,
		backupObject("inherited", resources.BackupPhaseCompleted, activation.Add(-24*time.Hour)),
	)
	deps := testDeps(fakeHub(t, "hub-east", nil), secondary)
	deps.State.Config.ActivationTime = activation

	finalization := NewFinalization(deps, switchover.DispositionManual)
	err := finalization.awaitNewBackup(context.Background())
	require.Error(t, err)
	require.True(t, switchover.IsTimeout(err))
}

func TestAwaitNewBackupRejectsMissingActivationTime(t *testing.T) {
	secondary := fakeHub(t, "hub-west", nil,
		backupObject("inherited", resources.BackupPhaseCompleted, time.Now().Add(-24*time.Hour)),
	)
	deps := testDeps(fakeHub(t, "hub-east", nil), secondary)

	// A zero activation time would make every inherited backup look new.
	finalization := NewFinalization(deps, switchover.DispositionManual)
	err := finalization.awaitNewBackup(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "no activation time")
}

func TestConvertPrimaryToStandby(t *testing.T) {
	primary := fakeHub(t, "hub-east", nil)
	deps := testDeps(primary, fakeHub(t, "hub-west", nil))

	finalization := NewFinalization(deps, switchover.DispositionStandby)
	require.NoError(t, finalization.convertPrimaryToStandby(context.Background()))

	created := getObject(t, primary, resources.Restores, resources.BackupNamespace, resources.SyncRestoreName)
	restore, err := resources.RestoreFrom(created)
	require.NoError(t, err)
	require.True(t, restore.SyncWithNewBackups)
	require.Equal(t, "skip", restore.ManagedClustersBackupName)

	// Re-execution finds the restore and leaves it alone.
	require.NoError(t, finalization.convertPrimaryToStandby(context.Background()))
}
