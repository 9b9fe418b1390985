package validation

import (
	"context"
	"fmt"
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/hubfleet/switchover"
	"github.com/hubfleet/switchover/kube"
	"github.com/hubfleet/switchover/resources"
)

// PreserveOnDelete returns the names of infrastructure-lifecycle records
// that lack the preserve-on-delete flag. Deleting a fleet member whose
// record lacks the flag destroys the real infrastructure behind it, so the
// pipeline refuses to proceed while this returns anything. Decommission
// re-runs this immediately before fleet-member deletion.
func PreserveOnDelete(ctx context.Context, client *kube.Client) ([]string, error) {
	items, err := client.List(ctx, resources.ClusterDeployments, metav1.NamespaceAll, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	var unprotected []string
	for i := range items {
		deployment, err := resources.ClusterDeploymentFrom(&items[i])
		if err != nil {
			return nil, err
		}
		if !deployment.PreserveOnDelete {
			unprotected = append(unprotected, deployment.Namespace+"/"+deployment.Name)
		}
	}
	return unprotected, nil
}

// Checks builds the standard pre-switchover battery for the given cluster
// pair and activation method.
func Checks(pair *kube.Pair, method switchover.Method) []Check {
	return []Check{
		preserveOnDeleteCheck(pair.Primary),
		namespaceCheck(pair),
		versionMatchCheck(pair),
		scheduleCollisionCheck(pair.Primary),
		backupHealthCheck(pair.Primary),
		syncRestoreCheck(pair.Secondary, method),
	}
}

// scheduleCollisionCheck fails when the primary's backup schedule reports a
// collision: two hubs writing to the same backup location corrupt the shared
// history, and a switchover on top of that makes it worse.
func scheduleCollisionCheck(primary *kube.Client) Check {
	return Check{
		Name: "backup-schedule-collision",
		Run: func(ctx context.Context) Result {
			items, err := primary.List(ctx, resources.BackupSchedules, resources.BackupNamespace, metav1.ListOptions{})
			if err != nil {
				return errorResult(true, err)
			}
			for i := range items {
				schedule, err := resources.BackupScheduleFrom(&items[i])
				if err != nil {
					return errorResult(true, err)
				}
				if schedule.Phase == resources.SchedulePhaseCollision {
					return fail(true, fmt.Sprintf(
						"backup schedule %s reports %s on %s; resolve the backup location conflict first",
						schedule.Name, schedule.Phase, primary.Name()))
				}
			}
			return pass("no backup schedule collision")
		},
	}
}

// preserveOnDeleteCheck is the safety gate. It is always critical and cannot
// be suppressed by any flag, dry-run included.
func preserveOnDeleteCheck(primary *kube.Client) Check {
	return Check{
		Name: "preserve-on-delete",
		Run: func(ctx context.Context) Result {
			unprotected, err := PreserveOnDelete(ctx, primary)
			if err != nil {
				return errorResult(true, err)
			}
			if len(unprotected) > 0 {
				return fail(true, fmt.Sprintf(
					"%d cluster deployment(s) lack spec.preserveOnDelete; deleting their fleet members would destroy infrastructure: %s",
					len(unprotected), strings.Join(unprotected, ", ")))
			}
			return pass("every cluster deployment preserves infrastructure on delete")
		},
	}
}

// namespaceCheck verifies the backup namespace exists on both hubs.
func namespaceCheck(pair *kube.Pair) Check {
	return Check{
		Name: "backup-namespace",
		Run: func(ctx context.Context) Result {
			for _, client := range []*kube.Client{pair.Primary, pair.Secondary} {
				exists, err := client.NamespaceExists(ctx, resources.BackupNamespace)
				if err != nil {
					return errorResult(true, err)
				}
				if !exists {
					return fail(true, fmt.Sprintf("namespace %s missing on %s",
						resources.BackupNamespace, client.Name()))
				}
			}
			return pass(fmt.Sprintf("namespace %s present on both hubs", resources.BackupNamespace))
		},
	}
}

// versionMatchCheck compares the two hub versions. An exact mismatch within
// the same major version is a warning; a major-version mismatch is critical
// because backup formats are not compatible across majors.
func versionMatchCheck(pair *kube.Pair) Check {
	return Check{
		Name: "hub-version-match",
		Run: func(ctx context.Context) Result {
			primaryVersion, err := HubVersion(ctx, pair.Primary)
			if err != nil {
				return errorResult(true, err)
			}
			secondaryVersion, err := HubVersion(ctx, pair.Secondary)
			if err != nil {
				return errorResult(true, err)
			}
			if primaryVersion == secondaryVersion {
				return pass(fmt.Sprintf("both hubs on %s", primaryVersion))
			}
			message := fmt.Sprintf("hub versions differ: %s is %s, %s is %s",
				pair.Primary.Name(), primaryVersion, pair.Secondary.Name(), secondaryVersion)
			if !resources.SameMajor(primaryVersion, secondaryVersion) {
				return fail(true, message+" (major version boundary)")
			}
			return fail(false, message)
		},
	}
}

// HubVersion finds the control-plane installation and returns its version.
func HubVersion(ctx context.Context, client *kube.Client) (string, error) {
	items, err := client.List(ctx, resources.MultiClusterHubs, metav1.NamespaceAll, metav1.ListOptions{})
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "", fmt.Errorf("no hub installation found on %s", client.Name())
	}
	hub, err := resources.HubFrom(&items[0])
	if err != nil {
		return "", err
	}
	if hub.Version == "" {
		return "", fmt.Errorf("hub installation on %s reports no version", client.Name())
	}
	return hub.Version, nil
}

// backupHealthCheck refuses to start while a backup is mid-flight on the
// primary: switching over during a backup can capture a torn snapshot.
func backupHealthCheck(primary *kube.Client) Check {
	return Check{
		Name: "backup-subsystem-health",
		Run: func(ctx context.Context) Result {
			items, err := primary.List(ctx, resources.Backups, resources.BackupNamespace, metav1.ListOptions{})
			if err != nil {
				return errorResult(true, err)
			}
			for i := range items {
				backup, err := resources.BackupFrom(&items[i])
				if err != nil {
					return errorResult(true, err)
				}
				if backup.Phase == resources.BackupPhaseInProgress || backup.Phase == resources.BackupPhaseNew {
					return fail(true, fmt.Sprintf("backup %s is %s on %s; wait for it to finish",
						backup.Name, backup.Phase, primary.Name()))
				}
			}
			return pass("no backup mid-flight")
		},
	}
}

// syncRestoreCheck verifies the continuous-sync restore on the secondary
// when the patch-in-place method depends on it. Critical for MethodPatch,
// advisory otherwise.
func syncRestoreCheck(secondary *kube.Client, method switchover.Method) Check {
	critical := method == switchover.MethodPatch
	return Check{
		Name: "continuous-sync-restore",
		Run: func(ctx context.Context) Result {
			restore, err := FindSyncRestore(ctx, secondary)
			if err != nil {
				return errorResult(critical, err)
			}
			if restore == nil {
				return fail(critical, fmt.Sprintf("no continuous-sync restore found on %s", secondary.Name()))
			}
			switch restore.Phase {
			case resources.RestorePhaseEnabled, resources.RestorePhaseFinished, resources.RestorePhaseRunning:
				return pass(fmt.Sprintf("restore %s is %s", restore.Name, restore.Phase))
			}
			return fail(critical, fmt.Sprintf("restore %s is %s", restore.Name, restore.Phase))
		},
	}
}

// FindSyncRestore locates the continuous-sync restore on a hub, or nil if
// none exists. Shared with the activation executor.
func FindSyncRestore(ctx context.Context, client *kube.Client) (*resources.Restore, error) {
	items, err := client.List(ctx, resources.Restores, resources.BackupNamespace, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	for i := range items {
		restore, err := resources.RestoreFrom(&items[i])
		if err != nil {
			return nil, err
		}
		if restore.SyncWithNewBackups {
			return restore, nil
		}
	}
	return nil, nil
}
