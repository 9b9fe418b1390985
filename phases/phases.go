// Package phases implements the switchover phase executors. Each executor
// produces the ordered, idempotent steps of one pipeline phase; the
// orchestrator in the root package sequences them and owns the ledger.
package phases

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/hubfleet/switchover"
	"github.com/hubfleet/switchover/kube"
	"github.com/hubfleet/switchover/resources"
)

// Deps are the shared dependencies of every phase executor. State is the
// live workflow document: steps write discovered facts into State.Config and
// the orchestrator persists it after each completed step.
type Deps struct {
	Pair     *kube.Pair
	State    *switchover.WorkflowState
	Settings switchover.Settings
	Logger   *slog.Logger
}

func (d *Deps) normalize() {
	if d.Logger == nil {
		d.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// savedScheduleKey is the SavedResources key for a backup schedule deleted
// on a hub without pause support.
func savedScheduleKey(cluster string) string {
	return "backupschedule:" + cluster
}

// pausePatch toggles the in-place pause flag on a backup schedule.
func pausePatch(paused bool) []byte {
	return []byte(fmt.Sprintf(`{"spec":{"paused":%t}}`, paused))
}

// replicasPatch scales a workload.
func replicasPatch(replicas int64) []byte {
	return []byte(fmt.Sprintf(`{"spec":{"replicas":%d}}`, replicas))
}

// annotationPatch sets or (with a nil value) removes a single annotation via
// JSON merge patch semantics.
func annotationPatch(key string, value *string) []byte {
	if value == nil {
		return []byte(fmt.Sprintf(`{"metadata":{"annotations":{%q:null}}}`, key))
	}
	return []byte(fmt.Sprintf(`{"metadata":{"annotations":{%q:%q}}}`, key, *value))
}

// findBackupSchedule returns the hub's backup schedule, or nil when absent.
func findBackupSchedule(ctx context.Context, client *kube.Client) (*unstructured.Unstructured, *resources.BackupSchedule, error) {
	items, err := client.List(ctx, resources.BackupSchedules, resources.BackupNamespace, metav1.ListOptions{})
	if err != nil {
		return nil, nil, err
	}
	if len(items) == 0 {
		return nil, nil, nil
	}
	obj := &items[0]
	schedule, err := resources.BackupScheduleFrom(obj)
	if err != nil {
		return nil, nil, err
	}
	return obj, schedule, nil
}

// listManagedClusters returns typed projections of every fleet member.
func listManagedClusters(ctx context.Context, client *kube.Client) ([]*resources.ManagedCluster, error) {
	items, err := client.List(ctx, resources.ManagedClusters, "", metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	clusters := make([]*resources.ManagedCluster, 0, len(items))
	for i := range items {
		cluster, err := resources.ManagedClusterFrom(&items[i])
		if err != nil {
			return nil, err
		}
		clusters = append(clusters, cluster)
	}
	return clusters, nil
}

// observabilityPresent reports whether the optional observability subsystem
// is installed on a hub.
func observabilityPresent(ctx context.Context, client *kube.Client) (bool, error) {
	items, err := client.List(ctx, resources.MultiClusterObservabilities, metav1.NamespaceAll, metav1.ListOptions{})
	if err != nil {
		return false, err
	}
	return len(items) > 0, nil
}
