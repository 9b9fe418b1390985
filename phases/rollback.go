package phases

import (
	"context"
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/hubfleet/switchover"
	"github.com/hubfleet/switchover/resources"
	"github.com/hubfleet/switchover/validation"
)

// Rollback undoes the pipeline's mutations in reverse order, returning the
// primary to active duty. It is only safe before decommission has deleted
// anything; the orchestrator enforces that.
type Rollback struct {
	deps Deps
}

// NewRollback creates the rollback executor.
func NewRollback(deps Deps) *Rollback {
	deps.normalize()
	return &Rollback{deps: deps}
}

func (r *Rollback) Phase() switchover.Phase {
	return switchover.PhaseRollback
}

func (r *Rollback) Steps() []switchover.Step {
	return []switchover.Step{
		{Name: "revert-activation", Run: r.revertActivation},
		{Name: "unblock-auto-import", Run: r.unblockAutoImport},
		{Name: "restore-backup-schedule", Run: r.restoreBackupSchedule},
		{Name: "rescale-compactor", Run: r.rescaleCompactor},
	}
}

// revertActivation puts the secondary back into standby. How depends on what
// activation did: a patched sync restore is patched back to skip managed
// clusters; a created activation restore is deleted and the saved sync
// restore definition recreated.
func (r *Rollback) revertActivation(ctx context.Context) error {
	secondary := r.deps.Pair.Secondary

	if name := r.deps.State.Config.ActiveRestoreName; name == resources.ActivationRestoreName {
		if err := secondary.Delete(ctx, resources.Restores, resources.BackupNamespace, name); err != nil {
			return err
		}
	} else if name != "" {
		patch := []byte(`{"spec":{"veleroManagedClustersBackupName":"skip"}}`)
		if err := secondary.Patch(ctx, resources.Restores, resources.BackupNamespace, name, patch); err != nil {
			return err
		}
		return nil
	}

	// Recreate the standby sync restore if activation deleted it.
	existing, err := validation.FindSyncRestore(ctx, secondary)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	if definition, ok := r.deps.State.SavedResource("syncrestore:" + secondary.Name()); ok {
		obj := (&unstructured.Unstructured{Object: definition}).DeepCopy()
		return secondary.Create(ctx, resources.Restores, resources.BackupNamespace, obj)
	}
	return secondary.Create(ctx, resources.Restores, resources.BackupNamespace,
		resources.NewSyncRestore(resources.SyncRestoreName))
}

// unblockAutoImport removes the auto-import block from every fleet member
// that carries it.
func (r *Rollback) unblockAutoImport(ctx context.Context) error {
	clusters, err := listManagedClusters(ctx, r.deps.Pair.Primary)
	if err != nil {
		return err
	}
	for _, cluster := range clusters {
		if !cluster.AutoImportBlocked() {
			continue
		}
		if err := r.deps.Pair.Primary.Patch(ctx, resources.ManagedClusters, "", cluster.Name,
			annotationPatch(resources.DisableAutoImportAnnotation, nil)); err != nil {
			return err
		}
		r.deps.Logger.Info("unblocked auto-import", "cluster", cluster.Name)
	}
	return nil
}

// restoreBackupSchedule reactivates backups on the primary, either by
// unpausing the schedule or by recreating the saved definition when
// preparation had to delete it.
func (r *Rollback) restoreBackupSchedule(ctx context.Context) error {
	primary := r.deps.Pair.Primary
	_, schedule, err := findBackupSchedule(ctx, primary)
	if err != nil {
		return err
	}
	if schedule != nil {
		if !schedule.Paused {
			return nil
		}
		return primary.Patch(ctx, resources.BackupSchedules, schedule.Namespace, schedule.Name, pausePatch(false))
	}
	definition, ok := r.deps.State.SavedResource(savedScheduleKey(primary.Name()))
	if !ok {
		return fmt.Errorf("no backup schedule on %s and no saved definition to recreate", primary.Name())
	}
	obj := (&unstructured.Unstructured{Object: definition}).DeepCopy()
	return primary.Create(ctx, resources.BackupSchedules, resources.BackupNamespace, obj)
}

// rescaleCompactor restores the metrics compactor to its recorded replica
// count.
func (r *Rollback) rescaleCompactor(ctx context.Context) error {
	if !r.deps.State.Config.ObservabilityPresent {
		return nil
	}
	replicas := r.deps.State.Config.CompactorReplicas
	if replicas == 0 {
		return nil
	}
	return r.deps.Pair.Primary.Patch(ctx, resources.StatefulSets, resources.ObservabilityNamespace,
		resources.CompactorStatefulSet, replicasPatch(replicas))
}
