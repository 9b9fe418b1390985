package kube

import (
	"context"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// defaultPageSize is the list page size requested from the server.
const defaultPageSize = 200

// pageFunc fetches one page of a list.
type pageFunc func(ctx context.Context, opts metav1.ListOptions) (*unstructured.UnstructuredList, error)

// collectPages follows continuation tokens until the list is exhausted, so
// callers never see a partial result set.
func collectPages(ctx context.Context, opts metav1.ListOptions, list pageFunc) ([]unstructured.Unstructured, error) {
	if opts.Limit == 0 {
		opts.Limit = defaultPageSize
	}
	var items []unstructured.Unstructured
	for {
		page, err := list(ctx, opts)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
		if page.GetContinue() == "" {
			return items, nil
		}
		opts.Continue = page.GetContinue()
	}
}
