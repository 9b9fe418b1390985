package kube

import (
	"fmt"

	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// BuildConfig resolves a rest.Config from the ambient kubeconfig mechanism,
// optionally pinned to an explicit kubeconfig path, for the named context.
func BuildConfig(kubeconfig, context string) (*rest.Config, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		loadingRules.ExplicitPath = kubeconfig
	}

	configOverrides := &clientcmd.ConfigOverrides{}
	if context != "" {
		configOverrides.CurrentContext = context
	}

	clientConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		loadingRules,
		configOverrides,
	)

	return clientConfig.ClientConfig()
}

// Pair holds the two independent cluster sessions. The sessions require no
// cross-cluster locking: the orchestrator is the sole writer.
type Pair struct {
	Primary   *Client
	Secondary *Client
}

// NewPair connects to both hubs. The two endpoints must be distinct
// contexts; switching a hub over to itself is always a mistake.
func NewPair(primary, secondary Options) (*Pair, error) {
	if primary.Context == secondary.Context {
		return nil, fmt.Errorf("primary and secondary contexts must differ (both %q)", primary.Context)
	}
	primaryClient, err := NewClient(primary)
	if err != nil {
		return nil, err
	}
	secondaryClient, err := NewClient(secondary)
	if err != nil {
		return nil, err
	}
	return &Pair{Primary: primaryClient, Secondary: secondaryClient}, nil
}
