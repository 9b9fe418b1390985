package phases

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	corev1 "k8s.io/api/core/v1"

	"github.com/hubfleet/switchover"
	"github.com/hubfleet/switchover/resources"
)

// PostActivation verifies the secondary actually took over: every fleet
// member re-registers against it, the observability gateway picks up the
// restored configuration, and the hub's own workloads are healthy. The phase
// is read-only except for the gateway restart.
type PostActivation struct {
	deps Deps
}

// NewPostActivation creates the post-activation verification executor.
func NewPostActivation(deps Deps) *PostActivation {
	deps.normalize()
	return &PostActivation{deps: deps}
}

func (p *PostActivation) Phase() switchover.Phase {
	return switchover.PhasePostActivation
}

func (p *PostActivation) Steps() []switchover.Step {
	return []switchover.Step{
		{Name: "await-member-registration", Run: p.awaitMemberRegistration},
		{Name: "restart-observability-gateway", Run: p.restartGateway},
		{Name: "inspect-hub-workloads", Run: p.inspectHubWorkloads},
	}
}

// awaitMemberRegistration waits until every fleet member known to the
// primary reports Available and Joined on the secondary. Members are polled
// concurrently with a bounded worker pool; one stuck member should not
// serialize the whole fleet behind it.
func (p *PostActivation) awaitMemberRegistration(ctx context.Context) error {
	expected, err := listManagedClusters(ctx, p.deps.Pair.Primary)
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.deps.Settings.WorkerLimit)
	for _, cluster := range expected {
		if cluster.IsLocal() {
			continue
		}
		name := cluster.Name
		group.Go(func() error {
			return p.awaitMember(groupCtx, name)
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	p.deps.Logger.Info("all fleet members registered on secondary",
		"members", len(expected))
	return nil
}

// awaitMember polls a single member on the secondary until it is Available
// and Joined or the per-member ceiling elapses.
func (p *PostActivation) awaitMember(ctx context.Context, name string) error {
	secondary := p.deps.Pair.Secondary
	deadline := time.Now().Add(p.deps.Settings.MemberWaitCeiling)
	for {
		obj, found, err := secondary.Get(ctx, resources.ManagedClusters, "", name)
		if err != nil {
			return err
		}
		if found {
			cluster, err := resources.ManagedClusterFrom(obj)
			if err != nil {
				return err
			}
			if cluster.Available && cluster.Joined {
				p.deps.Logger.Info("fleet member registered", "cluster", name)
				return nil
			}
		}
		if time.Now().After(deadline) {
			return switchover.NewTimeoutError(switchover.PhasePostActivation,
				fmt.Sprintf("fleet member %s to register on %s", name, secondary.Name()),
				p.deps.Settings.MemberWaitCeiling)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.deps.Settings.PollInterval):
		}
	}
}

// restartGateway rolls the observability gateway on the secondary so it
// reloads the restored tenant configuration. Standard rollout-restart
// annotation; a no-op when observability is not installed.
func (p *PostActivation) restartGateway(ctx context.Context) error {
	if !p.deps.State.Config.ObservabilityPresent {
		return nil
	}
	secondary := p.deps.Pair.Secondary
	_, found, err := secondary.Get(ctx, resources.Deployments, resources.ObservabilityNamespace, resources.GatewayDeployment)
	if err != nil {
		return err
	}
	if !found {
		p.deps.Logger.Warn("observability present but gateway workload missing",
			"deployment", resources.GatewayDeployment)
		return nil
	}
	patch := []byte(fmt.Sprintf(
		`{"spec":{"template":{"metadata":{"annotations":{"kubectl.kubernetes.io/restartedAt":%q}}}}}`,
		time.Now().Format(time.RFC3339)))
	return secondary.Patch(ctx, resources.Deployments, resources.ObservabilityNamespace,
		resources.GatewayDeployment, patch)
}

// inspectHubWorkloads scans pods in the hub namespaces on the secondary for
// the failure modes a restore commonly leaves behind: crash-looping
// containers, unpullable images, and non-zero exits.
func (p *PostActivation) inspectHubWorkloads(ctx context.Context) error {
	namespaces := []string{resources.HubNamespace, resources.BackupNamespace}
	if p.deps.State.Config.ObservabilityPresent {
		namespaces = append(namespaces, resources.ObservabilityNamespace)
	}

	var unhealthy []string
	for _, namespace := range namespaces {
		pods, err := p.deps.Pair.Secondary.Pods(ctx, namespace)
		if err != nil {
			return err
		}
		for i := range pods {
			if reason := podFailure(&pods[i]); reason != "" {
				unhealthy = append(unhealthy, fmt.Sprintf("%s/%s (%s)", namespace, pods[i].Name, reason))
			}
		}
	}
	if len(unhealthy) > 0 {
		return switchover.NewAttentionError(switchover.PhasePostActivation, fmt.Sprintf(
			"%d unhealthy pod(s) on %s after activation: %s",
			len(unhealthy), p.deps.Pair.Secondary.Name(), strings.Join(unhealthy, ", ")))
	}
	p.deps.Logger.Info("hub workloads healthy", "namespaces", namespaces)
	return nil
}

// podFailure returns a short reason when a pod's containers are in a known
// bad state, or empty when the pod looks fine. Succeeded pods (completed
// jobs) are fine.
func podFailure(pod *corev1.Pod) string {
	if pod.Status.Phase == corev1.PodSucceeded {
		return ""
	}
	for _, status := range pod.Status.ContainerStatuses {
		if waiting := status.State.Waiting; waiting != nil {
			switch waiting.Reason {
			case "CrashLoopBackOff", "ImagePullBackOff", "ErrImagePull", "CreateContainerConfigError":
				return status.Name + " " + waiting.Reason
			}
		}
		if terminated := status.State.Terminated; terminated != nil && terminated.ExitCode != 0 {
			return fmt.Sprintf("%s exited %d", status.Name, terminated.ExitCode)
		}
	}
	if pod.Status.Phase == corev1.PodFailed {
		return "pod " + string(pod.Status.Phase)
	}
	return ""
}
