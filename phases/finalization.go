package phases

import (
	"context"
	"fmt"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/hubfleet/switchover"
	"github.com/hubfleet/switchover/resources"
)

// Finalization makes the new arrangement durable: the secondary starts
// producing its own backups, and the old primary is handed off according to
// the operator's chosen disposition.
type Finalization struct {
	deps        Deps
	disposition switchover.Disposition
}

// NewFinalization creates the finalization executor for the chosen old-hub
// disposition.
func NewFinalization(deps Deps, disposition switchover.Disposition) *Finalization {
	deps.normalize()
	return &Finalization{deps: deps, disposition: disposition}
}

func (f *Finalization) Phase() switchover.Phase {
	return switchover.PhaseFinalization
}

func (f *Finalization) Steps() []switchover.Step {
	steps := []switchover.Step{
		{Name: "enable-backup-schedule", Run: f.enableBackupSchedule},
		{Name: "await-new-backup", Run: f.awaitNewBackup},
	}
	if f.disposition == switchover.DispositionStandby {
		steps = append(steps, switchover.Step{Name: "convert-primary-to-standby", Run: f.convertPrimaryToStandby})
	}
	return steps
}

// enableBackupSchedule turns on backups on the secondary. A schedule carried
// over by the restore gets unpaused in place; when the primary's schedule had
// to be deleted (hubs without pause support), the saved definition is
// recreated here instead.
func (f *Finalization) enableBackupSchedule(ctx context.Context) error {
	secondary := f.deps.Pair.Secondary
	_, schedule, err := findBackupSchedule(ctx, secondary)
	if err != nil {
		return err
	}
	if schedule != nil {
		if !schedule.Paused {
			f.deps.Logger.Info("backup schedule already active on secondary", "schedule", schedule.Name)
			return nil
		}
		return secondary.Patch(ctx, resources.BackupSchedules, schedule.Namespace, schedule.Name, pausePatch(false))
	}

	definition, ok := f.deps.State.SavedResource(savedScheduleKey(f.deps.Pair.Primary.Name()))
	if !ok {
		return fmt.Errorf("no backup schedule on %s and no saved definition to recreate; create one manually and re-run",
			secondary.Name())
	}
	obj := &unstructured.Unstructured{Object: definition}
	obj = obj.DeepCopy()
	// Pause support was absent when the definition was saved, so the saved
	// spec never carries a paused flag; it is safe to create as-is.
	unstructured.RemoveNestedField(obj.Object, "spec", "paused")
	f.deps.Logger.Info("recreating backup schedule from saved definition",
		"schedule", obj.GetName())
	return secondary.Create(ctx, resources.BackupSchedules, resources.BackupNamespace, obj)
}

// awaitNewBackup waits for proof that the secondary's schedule is actually
// producing: a backup whose start timestamp postdates activation. The
// activation restore reproduces the primary's old backups on the secondary,
// so the timestamp comparison is what separates inherited history from new
// work.
func (f *Finalization) awaitNewBackup(ctx context.Context) error {
	secondary := f.deps.Pair.Secondary
	since := f.deps.State.Config.ActivationTime
	if since.IsZero() {
		return fmt.Errorf("state records no activation time; cannot tell new backups from restored history")
	}
	deadline := time.Now().Add(f.deps.Settings.BackupWaitCeiling)
	for {
		items, err := secondary.List(ctx, resources.Backups, resources.BackupNamespace, metav1.ListOptions{})
		if err != nil {
			return err
		}
		for i := range items {
			backup, err := resources.BackupFrom(&items[i])
			if err != nil {
				return err
			}
			if backup.StartTimestamp.After(since) {
				f.deps.Logger.Info("secondary produced a new backup",
					"backup", backup.Name, "phase", backup.Phase, "started", backup.StartTimestamp)
				return nil
			}
		}
		if time.Now().After(deadline) {
			return switchover.NewTimeoutError(switchover.PhaseFinalization,
				fmt.Sprintf("a backup started after %s on %s", since.Format(time.RFC3339), secondary.Name()),
				f.deps.Settings.BackupWaitCeiling)
		}
		f.deps.Logger.Info("waiting for the secondary to produce a backup", "since", since)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.deps.Settings.PollInterval):
		}
	}
}

// convertPrimaryToStandby creates a continuous-sync restore on the old
// primary so it tracks the new active hub's backups, mirroring the
// arrangement the secondary had before this switchover.
func (f *Finalization) convertPrimaryToStandby(ctx context.Context) error {
	primary := f.deps.Pair.Primary
	_, found, err := primary.Get(ctx, resources.Restores, resources.BackupNamespace, resources.SyncRestoreName)
	if err != nil {
		return err
	}
	if found {
		f.deps.Logger.Info("old primary already has a continuous-sync restore",
			"restore", resources.SyncRestoreName)
		return nil
	}
	return primary.Create(ctx, resources.Restores, resources.BackupNamespace,
		resources.NewSyncRestore(resources.SyncRestoreName))
}
