package phases

import (
	"context"
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/hubfleet/switchover"
	"github.com/hubfleet/switchover/resources"
	"github.com/hubfleet/switchover/validation"
)

// Preparation makes the current primary safe to abandon without losing
// in-flight work: it stops new backups, blocks premature auto-import of the
// fleet by the secondary, and quiesces the metrics compactor.
type Preparation struct {
	deps Deps
}

// NewPreparation creates the primary preparation executor.
func NewPreparation(deps Deps) *Preparation {
	deps.normalize()
	return &Preparation{deps: deps}
}

func (p *Preparation) Phase() switchover.Phase {
	return switchover.PhasePrimaryPrep
}

func (p *Preparation) Steps() []switchover.Step {
	return []switchover.Step{
		{Name: "detect-hub-versions", Run: p.detectHubVersions},
		{Name: "detect-observability", Run: p.detectObservability},
		{Name: "save-backup-schedule-definition", Run: p.saveBackupScheduleDefinition},
		{Name: "pause-backup-schedule", Run: p.pauseBackupSchedule},
		{Name: "block-auto-import", Run: p.blockAutoImport},
		{Name: "scale-down-compactor", Run: p.scaleDownCompactor},
	}
}

// detectHubVersions records the control-plane version on each side for the
// version-skewed branches in later steps.
func (p *Preparation) detectHubVersions(ctx context.Context) error {
	primaryVersion, err := validation.HubVersion(ctx, p.deps.Pair.Primary)
	if err != nil {
		return err
	}
	secondaryVersion, err := validation.HubVersion(ctx, p.deps.Pair.Secondary)
	if err != nil {
		return err
	}
	p.deps.State.Config.PrimaryVersion = primaryVersion
	p.deps.State.Config.SecondaryVersion = secondaryVersion
	p.deps.Logger.Info("detected hub versions",
		"primary", primaryVersion, "secondary", secondaryVersion)
	return nil
}

// detectObservability records whether the optional observability subsystem
// is installed; later steps that touch it are no-ops when it is absent.
func (p *Preparation) detectObservability(ctx context.Context) error {
	present, err := observabilityPresent(ctx, p.deps.Pair.Primary)
	if err != nil {
		return err
	}
	p.deps.State.Config.ObservabilityPresent = present
	p.deps.Logger.Info("detected observability subsystem", "present", present)
	return nil
}

// saveBackupScheduleDefinition captures the schedule's full definition on
// hubs that lack pause support and will need the schedule deleted. It is a
// separate step so the orchestrator checkpoints the definition before the
// delete runs; a crash between the delete and its ledger write then resumes
// with the definition already persisted.
func (p *Preparation) saveBackupScheduleDefinition(ctx context.Context) error {
	if resources.SupportsSchedulePause(p.deps.State.Config.PrimaryVersion) {
		return nil
	}
	primary := p.deps.Pair.Primary
	obj, schedule, err := findBackupSchedule(ctx, primary)
	if err != nil {
		return err
	}
	if schedule == nil {
		return nil
	}
	p.deps.State.SaveResource(savedScheduleKey(primary.Name()), resources.Definition(obj))
	p.deps.Logger.Info("saved backup schedule definition for later recreation",
		"schedule", schedule.Name, "version", p.deps.State.Config.PrimaryVersion)
	return nil
}

// pauseBackupSchedule stops new backups on the primary. Hubs with pause
// support get an in-place patch; older hubs require deleting the schedule,
// whose definition the previous step already checkpointed.
func (p *Preparation) pauseBackupSchedule(ctx context.Context) error {
	primary := p.deps.Pair.Primary
	_, schedule, err := findBackupSchedule(ctx, primary)
	if err != nil {
		return err
	}
	if schedule == nil {
		p.deps.Logger.Info("no backup schedule on primary, nothing to pause")
		return nil
	}

	if resources.SupportsSchedulePause(p.deps.State.Config.PrimaryVersion) {
		if schedule.Paused {
			p.deps.Logger.Info("backup schedule already paused", "schedule", schedule.Name)
			return nil
		}
		return primary.Patch(ctx, resources.BackupSchedules, schedule.Namespace, schedule.Name, pausePatch(true))
	}

	if _, ok := p.deps.State.SavedResource(savedScheduleKey(primary.Name())); !ok {
		return fmt.Errorf("backup schedule %s must be deleted but no saved definition was checkpointed", schedule.Name)
	}
	p.deps.Logger.Info("hub predates schedule pause support, deleting schedule",
		"schedule", schedule.Name, "version", p.deps.State.Config.PrimaryVersion)
	return primary.Delete(ctx, resources.BackupSchedules, schedule.Namespace, schedule.Name)
}

// blockAutoImport annotates every fleet member except the hub itself so the
// soon-to-be-active secondary does not auto-import them prematurely.
func (p *Preparation) blockAutoImport(ctx context.Context) error {
	clusters, err := listManagedClusters(ctx, p.deps.Pair.Primary)
	if err != nil {
		return err
	}
	value := "true"
	for _, cluster := range clusters {
		if cluster.IsLocal() {
			continue
		}
		if cluster.AutoImportBlocked() {
			continue
		}
		if err := p.deps.Pair.Primary.Patch(ctx, resources.ManagedClusters, "", cluster.Name,
			annotationPatch(resources.DisableAutoImportAnnotation, &value)); err != nil {
			return err
		}
		p.deps.Logger.Info("blocked auto-import", "cluster", cluster.Name)
	}
	return nil
}

// scaleDownCompactor stops the metrics compactor so it does not write to
// shared object storage while two hubs could both consider themselves owner.
func (p *Preparation) scaleDownCompactor(ctx context.Context) error {
	if !p.deps.State.Config.ObservabilityPresent {
		return nil
	}
	primary := p.deps.Pair.Primary
	obj, found, err := primary.Get(ctx, resources.StatefulSets, resources.ObservabilityNamespace, resources.CompactorStatefulSet)
	if err != nil {
		return err
	}
	if !found {
		p.deps.Logger.Warn("observability present but compactor workload missing",
			"statefulset", resources.CompactorStatefulSet)
		return nil
	}
	replicas, _, err := unstructured.NestedInt64(obj.Object, "spec", "replicas")
	if err != nil {
		return fmt.Errorf("statefulset %s: malformed spec.replicas: %w", resources.CompactorStatefulSet, err)
	}
	if replicas == 0 {
		return nil
	}
	p.deps.State.Config.CompactorReplicas = replicas
	return primary.Patch(ctx, resources.StatefulSets, resources.ObservabilityNamespace,
		resources.CompactorStatefulSet, replicasPatch(0))
}
