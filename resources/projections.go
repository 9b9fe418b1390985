package resources

import (
	"fmt"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// Restore projects the fields of a restore resource the pipeline reads.
type Restore struct {
	Name                      string
	Namespace                 string
	Phase                     string
	LastMessage               string
	SyncWithNewBackups        bool
	ManagedClustersBackupName string
	CredentialsBackupName     string
	ResourcesBackupName       string
}

// RestoreFrom decodes a restore projection from the raw object.
func RestoreFrom(obj *unstructured.Unstructured) (*Restore, error) {
	restore := &Restore{
		Name:      obj.GetName(),
		Namespace: obj.GetNamespace(),
	}
	var err error
	if restore.Phase, _, err = unstructured.NestedString(obj.Object, "status", "phase"); err != nil {
		return nil, fmt.Errorf("restore %s: malformed status.phase: %w", obj.GetName(), err)
	}
	if restore.LastMessage, _, err = unstructured.NestedString(obj.Object, "status", "lastMessage"); err != nil {
		return nil, fmt.Errorf("restore %s: malformed status.lastMessage: %w", obj.GetName(), err)
	}
	if restore.SyncWithNewBackups, _, err = unstructured.NestedBool(obj.Object, "spec", "syncRestoreWithNewBackups"); err != nil {
		return nil, fmt.Errorf("restore %s: malformed spec.syncRestoreWithNewBackups: %w", obj.GetName(), err)
	}
	if restore.ManagedClustersBackupName, _, err = unstructured.NestedString(obj.Object, "spec", "veleroManagedClustersBackupName"); err != nil {
		return nil, fmt.Errorf("restore %s: malformed spec.veleroManagedClustersBackupName: %w", obj.GetName(), err)
	}
	if restore.CredentialsBackupName, _, err = unstructured.NestedString(obj.Object, "spec", "veleroCredentialsBackupName"); err != nil {
		return nil, fmt.Errorf("restore %s: malformed spec.veleroCredentialsBackupName: %w", obj.GetName(), err)
	}
	if restore.ResourcesBackupName, _, err = unstructured.NestedString(obj.Object, "spec", "veleroResourcesBackupName"); err != nil {
		return nil, fmt.Errorf("restore %s: malformed spec.veleroResourcesBackupName: %w", obj.GetName(), err)
	}
	return restore, nil
}

// NewActivationRestore builds the restore object created by the
// delete-and-recreate activation method: latest backups for every category,
// no continuous sync.
func NewActivationRestore(name string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": Restores.Group + "/" + Restores.Version,
		"kind":       "Restore",
		"metadata": map[string]any{
			"name":      name,
			"namespace": BackupNamespace,
		},
		"spec": map[string]any{
			"cleanupBeforeRestore":            "CleanupRestored",
			"veleroManagedClustersBackupName": LatestBackupRef,
			"veleroCredentialsBackupName":     LatestBackupRef,
			"veleroResourcesBackupName":       LatestBackupRef,
		},
	}}
}

// NewSyncRestore builds a continuous-sync restore, used when converting the
// old hub into a standby.
func NewSyncRestore(name string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": Restores.Group + "/" + Restores.Version,
		"kind":       "Restore",
		"metadata": map[string]any{
			"name":      name,
			"namespace": BackupNamespace,
		},
		"spec": map[string]any{
			"cleanupBeforeRestore":            "CleanupRestored",
			"syncRestoreWithNewBackups":       true,
			"restoreSyncInterval":             "10m",
			"veleroManagedClustersBackupName": "skip",
			"veleroCredentialsBackupName":     LatestBackupRef,
			"veleroResourcesBackupName":       LatestBackupRef,
		},
	}}
}

// BackupSchedule projects the backup schedule resource.
type BackupSchedule struct {
	Name      string
	Namespace string
	Phase     string
	Paused    bool
}

// BackupScheduleFrom decodes a backup schedule projection.
func BackupScheduleFrom(obj *unstructured.Unstructured) (*BackupSchedule, error) {
	schedule := &BackupSchedule{
		Name:      obj.GetName(),
		Namespace: obj.GetNamespace(),
	}
	var err error
	if schedule.Phase, _, err = unstructured.NestedString(obj.Object, "status", "phase"); err != nil {
		return nil, fmt.Errorf("backupschedule %s: malformed status.phase: %w", obj.GetName(), err)
	}
	if schedule.Paused, _, err = unstructured.NestedBool(obj.Object, "spec", "paused"); err != nil {
		return nil, fmt.Errorf("backupschedule %s: malformed spec.paused: %w", obj.GetName(), err)
	}
	return schedule, nil
}

// Definition strips server-managed metadata from a raw object, leaving a
// definition that can be recreated later.
func Definition(obj *unstructured.Unstructured) map[string]any {
	definition := obj.DeepCopy()
	unstructured.RemoveNestedField(definition.Object, "metadata", "resourceVersion")
	unstructured.RemoveNestedField(definition.Object, "metadata", "uid")
	unstructured.RemoveNestedField(definition.Object, "metadata", "generation")
	unstructured.RemoveNestedField(definition.Object, "metadata", "creationTimestamp")
	unstructured.RemoveNestedField(definition.Object, "metadata", "managedFields")
	unstructured.RemoveNestedField(definition.Object, "metadata", "ownerReferences")
	unstructured.RemoveNestedField(definition.Object, "status")
	return definition.Object
}

// ManagedCluster projects a fleet member: two independent boolean conditions
// plus annotations. The orchestrator's only mutation of a member is adding
// or removing a single annotation.
type ManagedCluster struct {
	Name        string
	Available   bool
	Joined      bool
	Annotations map[string]string
}

// ManagedClusterFrom decodes a managed cluster projection.
func ManagedClusterFrom(obj *unstructured.Unstructured) (*ManagedCluster, error) {
	cluster := &ManagedCluster{
		Name:        obj.GetName(),
		Annotations: obj.GetAnnotations(),
	}
	conditions, _, err := unstructured.NestedSlice(obj.Object, "status", "conditions")
	if err != nil {
		return nil, fmt.Errorf("managedcluster %s: malformed status.conditions: %w", obj.GetName(), err)
	}
	for _, raw := range conditions {
		condition, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		conditionType, _, _ := unstructured.NestedString(condition, "type")
		status, _, _ := unstructured.NestedString(condition, "status")
		switch conditionType {
		case ConditionAvailable:
			cluster.Available = status == string(metav1.ConditionTrue)
		case ConditionJoined:
			cluster.Joined = status == string(metav1.ConditionTrue)
		}
	}
	return cluster, nil
}

// IsLocal reports whether this member is the hub's self-registration.
func (m *ManagedCluster) IsLocal() bool {
	return m.Name == LocalClusterName
}

// AutoImportBlocked reports whether the disable-auto-import annotation is set.
func (m *ManagedCluster) AutoImportBlocked() bool {
	_, ok := m.Annotations[DisableAutoImportAnnotation]
	return ok
}

// ClusterDeployment projects the infrastructure-lifecycle record backing a
// provisioned fleet member.
type ClusterDeployment struct {
	Name             string
	Namespace        string
	PreserveOnDelete bool
}

// ClusterDeploymentFrom decodes a cluster deployment projection.
func ClusterDeploymentFrom(obj *unstructured.Unstructured) (*ClusterDeployment, error) {
	deployment := &ClusterDeployment{
		Name:      obj.GetName(),
		Namespace: obj.GetNamespace(),
	}
	var err error
	if deployment.PreserveOnDelete, _, err = unstructured.NestedBool(obj.Object, "spec", "preserveOnDelete"); err != nil {
		return nil, fmt.Errorf("clusterdeployment %s: malformed spec.preserveOnDelete: %w", obj.GetName(), err)
	}
	return deployment, nil
}

// Hub projects the control-plane installation resource.
type Hub struct {
	Name      string
	Namespace string
	Version   string
}

// HubFrom decodes a hub installation projection.
func HubFrom(obj *unstructured.Unstructured) (*Hub, error) {
	hub := &Hub{
		Name:      obj.GetName(),
		Namespace: obj.GetNamespace(),
	}
	var err error
	if hub.Version, _, err = unstructured.NestedString(obj.Object, "status", "currentVersion"); err != nil {
		return nil, fmt.Errorf("multiclusterhub %s: malformed status.currentVersion: %w", obj.GetName(), err)
	}
	return hub, nil
}

// Backup projects a velero backup for the health and finalization checks.
type Backup struct {
	Name           string
	Phase          string
	StartTimestamp time.Time
}

// BackupFrom decodes a backup projection.
func BackupFrom(obj *unstructured.Unstructured) (*Backup, error) {
	backup := &Backup{Name: obj.GetName()}
	var err error
	if backup.Phase, _, err = unstructured.NestedString(obj.Object, "status", "phase"); err != nil {
		return nil, fmt.Errorf("backup %s: malformed status.phase: %w", obj.GetName(), err)
	}
	raw, found, err := unstructured.NestedString(obj.Object, "status", "startTimestamp")
	if err != nil {
		return nil, fmt.Errorf("backup %s: malformed status.startTimestamp: %w", obj.GetName(), err)
	}
	if found && raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("backup %s: unparseable status.startTimestamp %q: %w", obj.GetName(), raw, err)
		}
		backup.StartTimestamp = ts
	}
	return backup, nil
}
