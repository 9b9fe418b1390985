package validation

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	k8sfake "k8s.io/client-go/kubernetes/fake"

	"github.com/hubfleet/switchover"
	"github.com/hubfleet/switchover/kube"
	"github.com/hubfleet/switchover/resources"
)

func listKinds() map[schema.GroupVersionResource]string {
	return map[schema.GroupVersionResource]string{
		resources.BackupSchedules:             "BackupScheduleList",
		resources.Restores:                    "RestoreList",
		resources.Backups:                     "BackupList",
		resources.ManagedClusters:             "ManagedClusterList",
		resources.ClusterDeployments:          "ClusterDeploymentList",
		resources.MultiClusterHubs:            "MultiClusterHubList",
		resources.MultiClusterObservabilities: "MultiClusterObservabilityList",
		resources.StatefulSets:                "StatefulSetList",
		resources.Deployments:                 "DeploymentList",
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeHub builds a client over fake API machinery. hubObjects feed the
// dynamic client; coreObjects feed the typed clientset (namespaces, pods).
func fakeHub(t *testing.T, name string, coreObjects []runtime.Object, hubObjects ...runtime.Object) *kube.Client {
	t.Helper()
	dyn := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(runtime.NewScheme(), listKinds(), hubObjects...)
	return kube.NewFromClients(kube.Options{Context: name, Logger: testLogger()},
		dyn, k8sfake.NewClientset(coreObjects...))
}

func backupNamespace() []runtime.Object {
	return []runtime.Object{&corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{Name: resources.BackupNamespace},
	}}
}

func hubObject(version string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": "operator.open-cluster-management.io/v1",
		"kind":       "MultiClusterHub",
		"metadata":   map[string]any{"name": "multiclusterhub", "namespace": resources.HubNamespace},
		"status":     map[string]any{"currentVersion": version},
	}}
}

func clusterDeploymentObject(name string, preserve bool) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": "hive.openshift.io/v1",
		"kind":       "ClusterDeployment",
		"metadata":   map[string]any{"name": name, "namespace": name},
		"spec":       map[string]any{"preserveOnDelete": preserve},
	}}
}

func backupObject(name, phase string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": "velero.io/v1",
		"kind":       "Backup",
		"metadata":   map[string]any{"name": name, "namespace": resources.BackupNamespace},
		"status":     map[string]any{"phase": phase},
	}}
}

func syncRestoreObject(phase string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": "cluster.open-cluster-management.io/v1beta1",
		"kind":       "Restore",
		"metadata":   map[string]any{"name": resources.SyncRestoreName, "namespace": resources.BackupNamespace},
		"spec": map[string]any{
			"syncRestoreWithNewBackups":       true,
			"veleroManagedClustersBackupName": "skip",
		},
		"status": map[string]any{"phase": phase},
	}}
}

func TestPreserveOnDeleteFindsUnprotected(t *testing.T) {
	ctx := context.Background()
	primary := fakeHub(t, "hub-east", nil,
		clusterDeploymentObject("spoke-1", true),
		clusterDeploymentObject("spoke-2", false),
		clusterDeploymentObject("spoke-3", false),
	)

	unprotected, err := PreserveOnDelete(ctx, primary)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"spoke-2/spoke-2", "spoke-3/spoke-3"}, unprotected)
}

func TestPreserveOnDeleteCheckIsCritical(t *testing.T) {
	ctx := context.Background()
	primary := fakeHub(t, "hub-east", nil, clusterDeploymentObject("spoke-1", false))

	result := preserveOnDeleteCheck(primary).Run(ctx)
	require.False(t, result.Passed)
	require.True(t, result.Critical, "the infrastructure gate is never advisory")
	require.Contains(t, result.Message, "spoke-1/spoke-1")

	// All protected passes; no deployments at all also passes.
	primary = fakeHub(t, "hub-east", nil, clusterDeploymentObject("spoke-1", true))
	require.True(t, preserveOnDeleteCheck(primary).Run(ctx).Passed)

	primary = fakeHub(t, "hub-east", nil)
	require.True(t, preserveOnDeleteCheck(primary).Run(ctx).Passed)
}

func TestNamespaceCheck(t *testing.T) {
	ctx := context.Background()
	pair := &kube.Pair{
		Primary:   fakeHub(t, "hub-east", backupNamespace()),
		Secondary: fakeHub(t, "hub-west", nil),
	}
	result := namespaceCheck(pair).Run(ctx)
	require.False(t, result.Passed)
	require.True(t, result.Critical)
	require.Contains(t, result.Message, "hub-west")

	pair.Secondary = fakeHub(t, "hub-west", backupNamespace())
	require.True(t, namespaceCheck(pair).Run(ctx).Passed)
}

func TestVersionMatchCheckSeverity(t *testing.T) {
	ctx := context.Background()

	pair := &kube.Pair{
		Primary:   fakeHub(t, "hub-east", nil, hubObject("2.11.0")),
		Secondary: fakeHub(t, "hub-west", nil, hubObject("2.11.0")),
	}
	require.True(t, versionMatchCheck(pair).Run(ctx).Passed)

	// Minor skew within a major is a warning, not a no-go.
	pair.Secondary = fakeHub(t, "hub-west", nil, hubObject("2.10.2"))
	result := versionMatchCheck(pair).Run(ctx)
	require.False(t, result.Passed)
	require.False(t, result.Critical)

	// A major boundary is critical.
	pair.Secondary = fakeHub(t, "hub-west", nil, hubObject("3.0.0"))
	result = versionMatchCheck(pair).Run(ctx)
	require.False(t, result.Passed)
	require.True(t, result.Critical)
}

func TestHubVersion(t *testing.T) {
	ctx := context.Background()

	version, err := HubVersion(ctx, fakeHub(t, "hub-east", nil, hubObject("2.11.0")))
	require.NoError(t, err)
	require.Equal(t, "2.11.0", version)

	_, err = HubVersion(ctx, fakeHub(t, "hub-east", nil))
	require.Error(t, err)

	_, err = HubVersion(ctx, fakeHub(t, "hub-east", nil, hubObject("")))
	require.Error(t, err)
}

func TestBackupHealthCheck(t *testing.T) {
	ctx := context.Background()

	primary := fakeHub(t, "hub-east", nil, backupObject("done", resources.BackupPhaseCompleted))
	require.True(t, backupHealthCheck(primary).Run(ctx).Passed)

	primary = fakeHub(t, "hub-east", nil,
		backupObject("done", resources.BackupPhaseCompleted),
		backupObject("running", resources.BackupPhaseInProgress),
	)
	result := backupHealthCheck(primary).Run(ctx)
	require.False(t, result.Passed)
	require.True(t, result.Critical)
	require.Contains(t, result.Message, "running")
}

func scheduleObject(phase string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": "cluster.open-cluster-management.io/v1beta1",
		"kind":       "BackupSchedule",
		"metadata":   map[string]any{"name": resources.BackupScheduleName, "namespace": resources.BackupNamespace},
		"spec":       map[string]any{"veleroSchedule": "0 */2 * * *"},
		"status":     map[string]any{"phase": phase},
	}}
}

func TestScheduleCollisionCheck(t *testing.T) {
	ctx := context.Background()

	primary := fakeHub(t, "hub-east", nil, scheduleObject("Enabled"))
	require.True(t, scheduleCollisionCheck(primary).Run(ctx).Passed)

	// No schedule at all is fine here; preparation handles absence.
	primary = fakeHub(t, "hub-east", nil)
	require.True(t, scheduleCollisionCheck(primary).Run(ctx).Passed)

	primary = fakeHub(t, "hub-east", nil, scheduleObject(resources.SchedulePhaseCollision))
	result := scheduleCollisionCheck(primary).Run(ctx)
	require.False(t, result.Passed)
	require.True(t, result.Critical)
	require.Contains(t, result.Message, "BackupCollision")
}

func TestSyncRestoreCheckCriticalityFollowsMethod(t *testing.T) {
	ctx := context.Background()

	// Absent restore: fatal for the patch method, advisory for recreate.
	secondary := fakeHub(t, "hub-west", nil)
	result := syncRestoreCheck(secondary, switchover.MethodPatch).Run(ctx)
	require.False(t, result.Passed)
	require.True(t, result.Critical)

	result = syncRestoreCheck(secondary, switchover.MethodRecreate).Run(ctx)
	require.False(t, result.Passed)
	require.False(t, result.Critical)

	secondary = fakeHub(t, "hub-west", nil, syncRestoreObject(resources.RestorePhaseEnabled))
	require.True(t, syncRestoreCheck(secondary, switchover.MethodPatch).Run(ctx).Passed)

	secondary = fakeHub(t, "hub-west", nil, syncRestoreObject(resources.RestorePhaseFailed))
	result = syncRestoreCheck(secondary, switchover.MethodPatch).Run(ctx)
	require.False(t, result.Passed)
}

func TestFindSyncRestore(t *testing.T) {
	ctx := context.Background()
	secondary := fakeHub(t, "hub-west", nil, syncRestoreObject(resources.RestorePhaseEnabled))

	restore, err := FindSyncRestore(ctx, secondary)
	require.NoError(t, err)
	require.NotNil(t, restore)
	require.Equal(t, resources.SyncRestoreName, restore.Name)

	restore, err = FindSyncRestore(ctx, fakeHub(t, "hub-west", nil))
	require.NoError(t, err)
	require.Nil(t, restore)
}

func TestRunnerRunsEveryCheckDespiteFailures(t *testing.T) {
	ctx := context.Background()
	ran := []string{}
	runner := NewRunner(testLogger(),
		Check{Name: "first", Run: func(ctx context.Context) Result {
			ran = append(ran, "first")
			return fail(true, "broken")
		}},
		Check{Name: "second", Run: func(ctx context.Context) Result {
			ran = append(ran, "second")
			return pass("fine")
		}},
	)

	summary := runner.Run(ctx)
	require.Equal(t, []string{"first", "second"}, ran,
		"the operator sees the complete picture in one pass")
	require.False(t, summary.Passed())
	require.Len(t, summary.Failures(), 1)
	require.Empty(t, summary.Warnings())
	require.Equal(t, "1/2 checks passed", summary.String())
}

func TestGateTranslatesSummary(t *testing.T) {
	ctx := context.Background()

	gate := Gate(NewRunner(testLogger(),
		Check{Name: "ok", Run: func(ctx context.Context) Result { return pass("fine") }},
	), nil)
	require.NoError(t, gate(ctx))

	var observed *Summary
	gate = Gate(NewRunner(testLogger(),
		Check{Name: "bad", Run: func(ctx context.Context) Result { return fail(true, "no-go reason") }},
	), func(s Summary) { observed = &s })
	err := gate(ctx)
	require.Error(t, err)
	require.True(t, switchover.IsValidationFailure(err))
	require.Contains(t, err.Error(), "no-go reason")
	require.NotNil(t, observed)
}

func TestFullBatteryOnHealthyPair(t *testing.T) {
	ctx := context.Background()
	pair := &kube.Pair{
		Primary: fakeHub(t, "hub-east", backupNamespace(),
			hubObject("2.11.0"),
			clusterDeploymentObject("spoke-1", true),
			backupObject("done", resources.BackupPhaseCompleted),
		),
		Secondary: fakeHub(t, "hub-west", backupNamespace(),
			hubObject("2.11.0"),
			syncRestoreObject(resources.RestorePhaseEnabled),
		),
	}

	summary := NewRunner(testLogger(), Checks(pair, switchover.MethodPatch)...).Run(ctx)
	require.True(t, summary.Passed(), summary.String())
	require.Empty(t, summary.Warnings())
}
