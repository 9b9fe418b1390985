package phases

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
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

// testSettings shrinks every poll interval and ceiling so waiting branches
// resolve in milliseconds.
func testSettings() switchover.Settings {
	settings := switchover.DefaultSettings()
	settings.PollInterval = time.Millisecond
	settings.PollCeiling = 100 * time.Millisecond
	settings.MemberWaitCeiling = 100 * time.Millisecond
	settings.BackupWaitCeiling = 100 * time.Millisecond
	settings.AbsenceWaitCeiling = 100 * time.Millisecond
	return settings
}

func fakeHub(t *testing.T, name string, coreObjects []runtime.Object, hubObjects ...runtime.Object) *kube.Client {
	t.Helper()
	dyn := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(runtime.NewScheme(), listKinds(), hubObjects...)
	return kube.NewFromClients(kube.Options{Context: name, Logger: testLogger()},
		dyn, k8sfake.NewClientset(coreObjects...))
}

func testDeps(primary, secondary *kube.Client) Deps {
	return Deps{
		Pair:     &kube.Pair{Primary: primary, Secondary: secondary},
		State:    switchover.NewWorkflowState(primary.Name(), secondary.Name()),
		Settings: testSettings(),
		Logger:   testLogger(),
	}
}

// runSteps executes every step of an executor in order, failing the test on
// the first step error.
func runSteps(t *testing.T, executor switchover.Executor) {
	t.Helper()
	ctx := context.Background()
	for _, step := range executor.Steps() {
		require.NoError(t, step.Run(ctx), "step %s", step.Name)
	}
}

func hubObject(version string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": "operator.open-cluster-management.io/v1",
		"kind":       "MultiClusterHub",
		"metadata":   map[string]any{"name": "multiclusterhub", "namespace": resources.HubNamespace},
		"status":     map[string]any{"currentVersion": version},
	}}
}

func scheduleObject(paused bool) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": "cluster.open-cluster-management.io/v1beta1",
		"kind":       "BackupSchedule",
		"metadata":   map[string]any{"name": resources.BackupScheduleName, "namespace": resources.BackupNamespace},
		"spec":       map[string]any{"veleroSchedule": "0 */2 * * *", "paused": paused},
		"status":     map[string]any{"phase": "Enabled"},
	}}
}

func managedClusterObject(name string, available, joined bool, annotations map[string]any) *unstructured.Unstructured {
	status := func(b bool) string {
		if b {
			return "True"
		}
		return "False"
	}
	metadata := map[string]any{"name": name}
	if annotations != nil {
		metadata["annotations"] = annotations
	}
	return &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": "cluster.open-cluster-management.io/v1",
		"kind":       "ManagedCluster",
		"metadata":   metadata,
		"status": map[string]any{
			"conditions": []any{
				map[string]any{"type": resources.ConditionAvailable, "status": status(available)},
				map[string]any{"type": resources.ConditionJoined, "status": status(joined)},
			},
		},
	}}
}

func observabilityObject() *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": "observability.open-cluster-management.io/v1beta2",
		"kind":       "MultiClusterObservability",
		"metadata":   map[string]any{"name": "observability"},
	}}
}

func compactorObject(replicas int64) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": "apps/v1",
		"kind":       "StatefulSet",
		"metadata": map[string]any{
			"name":      resources.CompactorStatefulSet,
			"namespace": resources.ObservabilityNamespace,
		},
		"spec": map[string]any{"replicas": replicas},
	}}
}

func gatewayObject() *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": "apps/v1",
		"kind":       "Deployment",
		"metadata": map[string]any{
			"name":      resources.GatewayDeployment,
			"namespace": resources.ObservabilityNamespace,
		},
		"spec": map[string]any{"replicas": int64(2)},
	}}
}

func restoreObject(name, phase string, sync bool, managedClustersBackup string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": "cluster.open-cluster-management.io/v1beta1",
		"kind":       "Restore",
		"metadata":   map[string]any{"name": name, "namespace": resources.BackupNamespace},
		"spec": map[string]any{
			"syncRestoreWithNewBackups":       sync,
			"veleroManagedClustersBackupName": managedClustersBackup,
		},
		"status": map[string]any{"phase": phase},
	}}
}

func backupObject(name, phase string, started time.Time) *unstructured.Unstructured {
	status := map[string]any{"phase": phase}
	if !started.IsZero() {
		status["startTimestamp"] = started.UTC().Format(time.RFC3339)
	}
	return &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": "velero.io/v1",
		"kind":       "Backup",
		"metadata":   map[string]any{"name": name, "namespace": resources.BackupNamespace},
		"status":     status,
	}}
}

func getObject(t *testing.T, client *kube.Client, gvr schema.GroupVersionResource, namespace, name string) *unstructured.Unstructured {
	t.Helper()
	obj, found, err := client.Get(context.Background(), gvr, namespace, name)
	require.NoError(t, err)
	require.True(t, found, "%s %s/%s should exist", gvr.Resource, namespace, name)
	return obj
}

func objectAbsent(t *testing.T, client *kube.Client, gvr schema.GroupVersionResource, namespace, name string) {
	t.Helper()
	_, found, err := client.Get(context.Background(), gvr, namespace, name)
	require.NoError(t, err)
	require.False(t, found, "%s %s/%s should be absent", gvr.Resource, namespace, name)
}

func toUnstructured(object map[string]any) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: object}
}

func listAll() metav1.ListOptions {
	return metav1.ListOptions{}
}
