package kube

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
)

// Options configure a Client for one cluster endpoint.
type Options struct {
	// Context is the kubeconfig context naming this endpoint. It doubles as
	// the cluster identity in logs and the state file.
	Context string

	// Kubeconfig optionally overrides the ambient kubeconfig path.
	Kubeconfig string

	// DryRun causes every mutating call to log the intended operation and
	// return success without touching the network. Reads still execute.
	DryRun bool

	// CallTimeout bounds every API call; no call may block indefinitely.
	CallTimeout time.Duration

	Retry  Policy
	Logger *slog.Logger
}

// Client is one logical client per cluster endpoint. All resource access
// goes through the dynamic client; the typed clientset covers core reads
// (namespaces, pods). Absence is a value, not an error: Get returns
// found=false on 404 and Delete treats an already-absent resource as
// success.
type Client struct {
	name        string
	dyn         dynamic.Interface
	core        kubernetes.Interface
	dryRun      bool
	callTimeout time.Duration
	retry       Policy
	logger      *slog.Logger
}

// NewClient connects to the cluster named by the kubeconfig context.
func NewClient(opts Options) (*Client, error) {
	if opts.Context == "" {
		return nil, fmt.Errorf("kubeconfig context is required")
	}
	config, err := BuildConfig(opts.Kubeconfig, opts.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to build client config for context %q: %w", opts.Context, err)
	}
	dyn, err := dynamic.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client for context %q: %w", opts.Context, err)
	}
	core, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset for context %q: %w", opts.Context, err)
	}
	return NewFromClients(opts, dyn, core), nil
}

// NewFromClients wires a Client around existing client interfaces. Tests use
// this with fake clients.
func NewFromClients(opts Options, dyn dynamic.Interface, core kubernetes.Interface) *Client {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = DefaultPolicy()
	}
	return &Client{
		name:        opts.Context,
		dyn:         dyn,
		core:        core,
		dryRun:      opts.DryRun,
		callTimeout: opts.CallTimeout,
		retry:       opts.Retry,
		logger:      opts.Logger.With("cluster", opts.Context),
	}
}

// Name returns the kubeconfig context identifying this endpoint.
func (c *Client) Name() string {
	return c.name
}

// DryRun reports whether mutations are suppressed.
func (c *Client) DryRun() bool {
	return c.dryRun
}

// resource resolves the namespaced (or cluster-scoped, when namespace is
// empty) resource interface.
func (c *Client) resource(gvr schema.GroupVersionResource, namespace string) dynamic.ResourceInterface {
	if namespace == "" {
		return c.dyn.Resource(gvr)
	}
	return c.dyn.Resource(gvr).Namespace(namespace)
}

// call runs op under the per-call timeout and the retry policy.
func (c *Client) call(ctx context.Context, description string, op func(ctx context.Context) error) error {
	return c.retry.Do(ctx, c.logger, description, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
		return op(callCtx)
	})
}

// Get fetches one resource. A 404 is not an error: the second return value
// reports presence.
func (c *Client) Get(ctx context.Context, gvr schema.GroupVersionResource, namespace, name string) (*unstructured.Unstructured, bool, error) {
	var obj *unstructured.Unstructured
	err := c.call(ctx, "get "+gvr.Resource+"/"+name, func(ctx context.Context) error {
		var err error
		obj, err = c.resource(gvr, namespace).Get(ctx, name, metav1.GetOptions{})
		return err
	})
	if apierrors.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s %s/%s on %s: %w", gvr.Resource, namespace, name, c.name, err)
	}
	return obj, true, nil
}

// List returns every matching item, transparently following continuation
// tokens until the list is exhausted.
func (c *Client) List(ctx context.Context, gvr schema.GroupVersionResource, namespace string, opts metav1.ListOptions) ([]unstructured.Unstructured, error) {
	items, err := collectPages(ctx, opts, func(ctx context.Context, opts metav1.ListOptions) (*unstructured.UnstructuredList, error) {
		var page *unstructured.UnstructuredList
		err := c.call(ctx, "list "+gvr.Resource, func(ctx context.Context) error {
			var err error
			page, err = c.resource(gvr, namespace).List(ctx, opts)
			return err
		})
		return page, err
	})
	if err != nil {
		return nil, fmt.Errorf("list %s on %s: %w", gvr.Resource, c.name, err)
	}
	return items, nil
}

// Create creates a resource. Unlike Get/Delete there is no 404 tolerance
// here: any error, including a missing namespace, is a real failure.
func (c *Client) Create(ctx context.Context, gvr schema.GroupVersionResource, namespace string, obj *unstructured.Unstructured) error {
	if c.dryRun {
		c.logger.Info("dry-run: would create resource",
			"resource", gvr.Resource, "namespace", namespace, "name", obj.GetName())
		return nil
	}
	err := c.call(ctx, "create "+gvr.Resource+"/"+obj.GetName(), func(ctx context.Context) error {
		_, err := c.resource(gvr, namespace).Create(ctx, obj, metav1.CreateOptions{})
		return err
	})
	if err != nil {
		return fmt.Errorf("create %s %s/%s on %s: %w", gvr.Resource, namespace, obj.GetName(), c.name, err)
	}
	return nil
}

// Patch applies a JSON merge patch. A 404 here is deliberately surfaced as
// an error rather than an absent value: patching a resource that does not
// exist indicates a configuration defect, not a missing-is-fine condition.
func (c *Client) Patch(ctx context.Context, gvr schema.GroupVersionResource, namespace, name string, patch []byte) error {
	if c.dryRun {
		c.logger.Info("dry-run: would patch resource",
			"resource", gvr.Resource, "namespace", namespace, "name", name, "patch", string(patch))
		return nil
	}
	err := c.call(ctx, "patch "+gvr.Resource+"/"+name, func(ctx context.Context) error {
		_, err := c.resource(gvr, namespace).Patch(ctx, name, types.MergePatchType, patch, metav1.PatchOptions{})
		return err
	})
	if err != nil {
		return fmt.Errorf("patch %s %s/%s on %s: %w", gvr.Resource, namespace, name, c.name, err)
	}
	return nil
}

// Delete removes a resource. Deleting an already-absent resource is success.
func (c *Client) Delete(ctx context.Context, gvr schema.GroupVersionResource, namespace, name string) error {
	if c.dryRun {
		c.logger.Info("dry-run: would delete resource",
			"resource", gvr.Resource, "namespace", namespace, "name", name)
		return nil
	}
	err := c.call(ctx, "delete "+gvr.Resource+"/"+name, func(ctx context.Context) error {
		return c.resource(gvr, namespace).Delete(ctx, name, metav1.DeleteOptions{})
	})
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete %s %s/%s on %s: %w", gvr.Resource, namespace, name, c.name, err)
	}
	return nil
}

// Pods lists every pod in a namespace, following continuation tokens until
// the list is exhausted. The typed read goes through the same retry policy
// and per-call timeout as the dynamic calls.
func (c *Client) Pods(ctx context.Context, namespace string) ([]corev1.Pod, error) {
	var pods []corev1.Pod
	opts := metav1.ListOptions{Limit: defaultPageSize}
	for {
		var page *corev1.PodList
		err := c.call(ctx, "list pods in "+namespace, func(ctx context.Context) error {
			var err error
			page, err = c.core.CoreV1().Pods(namespace).List(ctx, opts)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("list pods in %s on %s: %w", namespace, c.name, err)
		}
		pods = append(pods, page.Items...)
		if page.Continue == "" {
			return pods, nil
		}
		opts.Continue = page.Continue
	}
}

// NamespaceExists reports whether a namespace is present on this cluster.
func (c *Client) NamespaceExists(ctx context.Context, name string) (bool, error) {
	var found bool
	err := c.call(ctx, "get namespace/"+name, func(ctx context.Context) error {
		_, err := c.core.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("get namespace %s on %s: %w", name, c.name, err)
	}
	return found, nil
}
