package phases

import (
	"context"
	"fmt"
	"time"

	"github.com/hubfleet/switchover"
	"github.com/hubfleet/switchover/resources"
	"github.com/hubfleet/switchover/validation"
)

// Activation converts the secondary's standby restore pipeline into the
// active source of truth. This is the highest-risk phase and the only one
// permitted to destroy and recreate a resource; every other mutation in the
// pipeline is strictly patch-or-annotate.
type Activation struct {
	deps   Deps
	method switchover.Method
}

// NewActivation creates the activation executor for the chosen method.
func NewActivation(deps Deps, method switchover.Method) *Activation {
	deps.normalize()
	return &Activation{deps: deps, method: method}
}

func (a *Activation) Phase() switchover.Phase {
	return switchover.PhaseActivation
}

func (a *Activation) Steps() []switchover.Step {
	steps := []switchover.Step{
		{Name: "mark-activation-time", Run: a.markActivationTime},
	}
	switch a.method {
	case switchover.MethodPatch:
		steps = append(steps,
			switchover.Step{Name: "patch-sync-restore", Run: a.patchSyncRestore},
		)
	case switchover.MethodRecreate:
		steps = append(steps,
			switchover.Step{Name: "save-sync-restore-definition", Run: a.saveSyncRestoreDefinition},
			switchover.Step{Name: "delete-sync-restore", Run: a.deleteSyncRestore},
			switchover.Step{Name: "confirm-restore-absence", Run: a.confirmRestoreAbsence},
			switchover.Step{Name: "create-activation-restore", Run: a.createActivationRestore},
		)
	}
	return append(steps, switchover.Step{Name: "await-restore", Run: a.awaitRestore})
}

// markActivationTime pins the moment activation began; finalization only
// accepts backups started after this point.
func (a *Activation) markActivationTime(ctx context.Context) error {
	a.deps.State.Config.ActivationTime = time.Now()
	return nil
}

// patchSyncRestore (method A) points the continuous-sync restore's managed
// clusters reference at the latest backup, flipping the standby into the
// active hub in place.
func (a *Activation) patchSyncRestore(ctx context.Context) error {
	secondary := a.deps.Pair.Secondary
	restore, err := validation.FindSyncRestore(ctx, secondary)
	if err != nil {
		return err
	}
	if restore == nil {
		return fmt.Errorf("no continuous-sync restore found on %s; method %q requires one",
			secondary.Name(), switchover.MethodPatch)
	}
	a.deps.State.Config.ActiveRestoreName = restore.Name
	if restore.ManagedClustersBackupName == resources.LatestBackupRef {
		a.deps.Logger.Info("sync restore already activated", "restore", restore.Name)
		return nil
	}
	patch := []byte(fmt.Sprintf(`{"spec":{"veleroManagedClustersBackupName":%q}}`, resources.LatestBackupRef))
	return secondary.Patch(ctx, resources.Restores, restore.Namespace, restore.Name, patch)
}

// saveSyncRestoreDefinition (method B) captures the standby restore's
// definition so rollback or a later standby conversion can recreate it. A
// separate step so the definition is checkpointed before the delete runs;
// a crash after the delete cannot lose it.
func (a *Activation) saveSyncRestoreDefinition(ctx context.Context) error {
	secondary := a.deps.Pair.Secondary
	restore, err := validation.FindSyncRestore(ctx, secondary)
	if err != nil {
		return err
	}
	if restore == nil {
		// Already deleted, possibly by a prior interrupted run.
		return nil
	}
	obj, found, err := secondary.Get(ctx, resources.Restores, restore.Namespace, restore.Name)
	if err != nil {
		return err
	}
	if found {
		a.deps.State.SaveResource("syncrestore:"+secondary.Name(), resources.Definition(obj))
	}
	return nil
}

// deleteSyncRestore (method B) removes the standby restore, whose definition
// the previous step already checkpointed.
func (a *Activation) deleteSyncRestore(ctx context.Context) error {
	secondary := a.deps.Pair.Secondary
	restore, err := validation.FindSyncRestore(ctx, secondary)
	if err != nil {
		return err
	}
	if restore == nil {
		return nil
	}
	a.deps.State.Config.ActiveRestoreName = ""
	return secondary.Delete(ctx, resources.Restores, restore.Namespace, restore.Name)
}

// confirmRestoreAbsence waits until the deleted restore is actually gone.
// The controller may report the resource as still logically active for a
// short window after the delete call returns; creating the replacement
// during that window races the old pipeline.
func (a *Activation) confirmRestoreAbsence(ctx context.Context) error {
	secondary := a.deps.Pair.Secondary
	deadline := time.Now().Add(a.deps.Settings.AbsenceWaitCeiling)
	for {
		restore, err := validation.FindSyncRestore(ctx, secondary)
		if err != nil {
			return err
		}
		if restore == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return switchover.NewTimeoutError(switchover.PhaseActivation,
				fmt.Sprintf("restore %s to disappear after deletion", restore.Name),
				a.deps.Settings.AbsenceWaitCeiling)
		}
		a.deps.Logger.Info("waiting for deleted restore to disappear", "restore", restore.Name)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.deps.Settings.PollInterval):
		}
	}
}

// createActivationRestore (method B) creates the activation restore
// referencing the latest backups for every category.
func (a *Activation) createActivationRestore(ctx context.Context) error {
	secondary := a.deps.Pair.Secondary
	a.deps.State.Config.ActiveRestoreName = resources.ActivationRestoreName
	_, found, err := secondary.Get(ctx, resources.Restores, resources.BackupNamespace, resources.ActivationRestoreName)
	if err != nil {
		return err
	}
	if found {
		a.deps.Logger.Info("activation restore already exists", "restore", resources.ActivationRestoreName)
		return nil
	}
	return secondary.Create(ctx, resources.Restores, resources.BackupNamespace,
		resources.NewActivationRestore(resources.ActivationRestoreName))
}

// awaitRestore polls the tracked restore at a fixed interval up to a hard
// ceiling. Finished is success. FinishedWithErrors and PartiallyFailed are
// an explicit operator decision point, neither retried nor treated as
// fatal. Exceeding the ceiling is a timeout distinct from a reported
// failure; re-running resumes polling rather than recreating the resource.
func (a *Activation) awaitRestore(ctx context.Context) error {
	secondary := a.deps.Pair.Secondary
	name := a.deps.State.Config.ActiveRestoreName
	if name == "" {
		return fmt.Errorf("no active restore recorded in state; activation did not reach the polling step")
	}
	deadline := time.Now().Add(a.deps.Settings.PollCeiling)
	for {
		obj, found, err := secondary.Get(ctx, resources.Restores, resources.BackupNamespace, name)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("restore %s disappeared while being polled", name)
		}
		restore, err := resources.RestoreFrom(obj)
		if err != nil {
			return err
		}
		switch restore.Phase {
		case resources.RestorePhaseFinished:
			a.deps.Logger.Info("restore finished", "restore", name)
			return nil
		case resources.RestorePhaseFinishedWithErrors, resources.RestorePhasePartiallyFailed:
			return switchover.NewAttentionError(switchover.PhaseActivation, fmt.Sprintf(
				"restore %s reported %s (%s); inspect the restore and re-run to continue or roll back",
				name, restore.Phase, restore.LastMessage))
		case resources.RestorePhaseFailed:
			return fmt.Errorf("restore %s failed: %s", name, restore.LastMessage)
		}

		if time.Now().After(deadline) {
			return switchover.NewTimeoutError(switchover.PhaseActivation,
				fmt.Sprintf("restore %s to finish (last phase %s)", name, restore.Phase),
				a.deps.Settings.PollCeiling)
		}
		a.deps.Logger.Info("restore in progress", "restore", name, "phase", restore.Phase)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.deps.Settings.PollInterval):
		}
	}
}
