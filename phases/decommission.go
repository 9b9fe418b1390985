package phases

import (
	"context"
	"fmt"
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/hubfleet/switchover"
	"github.com/hubfleet/switchover/resources"
	"github.com/hubfleet/switchover/validation"
)

// Decommission dismantles the old primary after a completed switchover. Its
// deletions are unrecoverable, which shapes everything here: the executor
// re-verifies the preserve-on-delete gate immediately before touching any
// fleet member, and every step name carries the decommission prefix so the
// orchestrator can refuse rollback once any of them has run.
type Decommission struct {
	deps Deps
}

// NewDecommission creates the old-primary decommission executor.
func NewDecommission(deps Deps) *Decommission {
	deps.normalize()
	return &Decommission{deps: deps}
}

func (d *Decommission) Phase() switchover.Phase {
	return switchover.PhaseDecommission
}

func (d *Decommission) Steps() []switchover.Step {
	return []switchover.Step{
		{Name: "decommission-delete-observability", Run: d.deleteObservability},
		{Name: "decommission-delete-fleet-members", Run: d.deleteFleetMembers},
		{Name: "decommission-delete-hub", Run: d.deleteHub},
	}
}

// verifyPreserveOnDelete re-runs the infrastructure safety gate against the
// live cluster. The preflight result is stale by now; a record could have
// been edited or created since. It is deliberately not a ledgered step: it
// runs inside deleteFleetMembers so every invocation that reaches the
// deletion, including a resumed one, re-verifies first. No flag suppresses
// this.
func (d *Decommission) verifyPreserveOnDelete(ctx context.Context) error {
	unprotected, err := validation.PreserveOnDelete(ctx, d.deps.Pair.Primary)
	if err != nil {
		return err
	}
	if len(unprotected) > 0 {
		return fmt.Errorf(
			"refusing to delete fleet members: %d cluster deployment(s) lack spec.preserveOnDelete: %s",
			len(unprotected), strings.Join(unprotected, ", "))
	}
	return nil
}

// deleteObservability removes the observability installation from the old
// primary before the hub itself goes away.
func (d *Decommission) deleteObservability(ctx context.Context) error {
	primary := d.deps.Pair.Primary
	items, err := primary.List(ctx, resources.MultiClusterObservabilities, metav1.NamespaceAll, metav1.ListOptions{})
	if err != nil {
		return err
	}
	for i := range items {
		obj := &items[i]
		if err := primary.Delete(ctx, resources.MultiClusterObservabilities, obj.GetNamespace(), obj.GetName()); err != nil {
			return err
		}
		d.deps.Logger.Info("deleted observability installation", "name", obj.GetName())
	}
	return nil
}

// deleteFleetMembers detaches every fleet member from the old primary. The
// hub's self-registration stays; it is deleted implicitly with the hub.
// Members were verified on the secondary during post-activation, and the
// gate re-check here guarantees their infrastructure is protected, so
// deletion only detaches, never destroys.
func (d *Decommission) deleteFleetMembers(ctx context.Context) error {
	if err := d.verifyPreserveOnDelete(ctx); err != nil {
		return err
	}
	primary := d.deps.Pair.Primary
	clusters, err := listManagedClusters(ctx, primary)
	if err != nil {
		return err
	}
	for _, cluster := range clusters {
		if cluster.IsLocal() {
			continue
		}
		if err := primary.Delete(ctx, resources.ManagedClusters, "", cluster.Name); err != nil {
			return err
		}
		d.deps.Logger.Info("detached fleet member from old primary", "cluster", cluster.Name)
	}
	return nil
}

// deleteHub removes the control-plane installation itself.
func (d *Decommission) deleteHub(ctx context.Context) error {
	primary := d.deps.Pair.Primary
	items, err := primary.List(ctx, resources.MultiClusterHubs, metav1.NamespaceAll, metav1.ListOptions{})
	if err != nil {
		return err
	}
	for i := range items {
		obj := &items[i]
		if err := primary.Delete(ctx, resources.MultiClusterHubs, obj.GetNamespace(), obj.GetName()); err != nil {
			return err
		}
		d.deps.Logger.Info("deleted hub installation", "name", obj.GetName())
	}
	return nil
}
