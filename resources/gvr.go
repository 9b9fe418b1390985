// Package resources names the external resources the orchestrator observes
// and defines small typed projections of them. Projections decode only the
// fields consumers need instead of threading raw maps through the pipeline.
package resources

import "k8s.io/apimachinery/pkg/runtime/schema"

// Resource identifiers for everything the orchestrator touches.
var (
	BackupSchedules = schema.GroupVersionResource{
		Group: "cluster.open-cluster-management.io", Version: "v1beta1", Resource: "backupschedules"}
	Restores = schema.GroupVersionResource{
		Group: "cluster.open-cluster-management.io", Version: "v1beta1", Resource: "restores"}
	Backups = schema.GroupVersionResource{
		Group: "velero.io", Version: "v1", Resource: "backups"}
	ManagedClusters = schema.GroupVersionResource{
		Group: "cluster.open-cluster-management.io", Version: "v1", Resource: "managedclusters"}
	ClusterDeployments = schema.GroupVersionResource{
		Group: "hive.openshift.io", Version: "v1", Resource: "clusterdeployments"}
	MultiClusterHubs = schema.GroupVersionResource{
		Group: "operator.open-cluster-management.io", Version: "v1", Resource: "multiclusterhubs"}
	MultiClusterObservabilities = schema.GroupVersionResource{
		Group: "observability.open-cluster-management.io", Version: "v1beta2", Resource: "multiclusterobservabilities"}
	StatefulSets = schema.GroupVersionResource{
		Group: "apps", Version: "v1", Resource: "statefulsets"}
	Deployments = schema.GroupVersionResource{
		Group: "apps", Version: "v1", Resource: "deployments"}
)

// Well-known namespaces and names.
const (
	BackupNamespace        = "open-cluster-management-backup"
	HubNamespace           = "open-cluster-management"
	ObservabilityNamespace = "open-cluster-management-observability"

	// LocalClusterName is the hub's self-registration as a fleet member. It
	// is exempt from auto-import blocking and decommission deletion.
	LocalClusterName = "local-cluster"

	// DisableAutoImportAnnotation on a managed cluster prevents a hub from
	// importing it automatically.
	DisableAutoImportAnnotation = "import.open-cluster-management.io/disable-auto-import"

	// SyncRestoreName is the conventional continuous-sync restore on a
	// standby hub; ActivationRestoreName is the restore created by the
	// delete-and-recreate activation method.
	SyncRestoreName       = "restore-acm-passive-sync"
	ActivationRestoreName = "restore-acm-activation"

	// BackupScheduleName is the conventional backup schedule resource name.
	BackupScheduleName = "schedule-acm"

	// CompactorStatefulSet and GatewayDeployment are the observability
	// workloads the pipeline scales and restarts.
	CompactorStatefulSet = "observability-thanos-compact"
	GatewayDeployment    = "observability-observatorium-api"

	// LatestBackupRef selects the most recent backup of a category in a
	// restore spec.
	LatestBackupRef = "latest"
)

// Restore lifecycle phases reported by the backup controller.
const (
	RestorePhaseEnabled            = "Enabled"
	RestorePhaseRunning            = "Running"
	RestorePhaseFinished           = "Finished"
	RestorePhaseFinishedWithErrors = "FinishedWithErrors"
	RestorePhasePartiallyFailed    = "PartiallyFailed"
	RestorePhaseFailed             = "Failed"
)

// Backup lifecycle phases (velero).
const (
	BackupPhaseNew        = "New"
	BackupPhaseInProgress = "InProgress"
	BackupPhaseCompleted  = "Completed"
)

// SchedulePhaseCollision means two hubs both believe they own the backup
// location. Switching over in this condition corrupts the shared history.
const SchedulePhaseCollision = "BackupCollision"

// Managed cluster condition types.
const (
	ConditionAvailable = "ManagedClusterConditionAvailable"
	ConditionJoined    = "ManagedClusterJoined"
)
