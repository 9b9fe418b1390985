// Package kube wraps the dynamic Kubernetes client for the two hub
// endpoints with retry, pagination, absent-as-value semantics, and a
// dry-run mode.
package kube

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// Policy is the centralized retry policy applied to every API call. Backoff
// is exponential with optional full jitter. Only transient server-side
// failures (5xx, 429) are retried; other client errors indicate a request or
// permission defect and are returned immediately.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Factor    float64
	Jitter    bool
}

// DefaultPolicy returns the retry policy used by production clients.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:  5,
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  16 * time.Second,
		Factor:    2.0,
		Jitter:    true,
	}
}

// Retryable reports whether an API error is a transient server-side failure.
// 404 is never retryable: callers translate it to an absent value or a real
// error depending on the operation.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case apierrors.IsTooManyRequests(err),
		apierrors.IsServerTimeout(err),
		apierrors.IsTimeout(err),
		apierrors.IsInternalError(err),
		apierrors.IsServiceUnavailable(err),
		apierrors.IsUnexpectedServerError(err):
		return true
	}
	// The server may ask for an explicit delay (e.g. a 429 with Retry-After).
	if _, ok := apierrors.SuggestsClientDelay(err); ok {
		return true
	}
	return false
}

// Do invokes op, retrying transient failures per the policy. It returns the
// last error when attempts are exhausted. The wait between attempts blocks
// the calling step and respects context cancellation.
func (p Policy) Do(ctx context.Context, logger *slog.Logger, description string, op func(ctx context.Context) error) error {
	delay := p.BaseDelay
	var err error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if !Retryable(err) {
			return err
		}
		if attempt == p.Attempts {
			break
		}
		wait := delay
		if p.Jitter {
			wait = time.Duration(rand.Float64() * float64(delay))
		}
		logger.Warn("transient API error, retrying",
			"operation", description,
			"attempt", attempt,
			"wait", wait,
			"error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		delay = time.Duration(float64(delay) * p.Factor)
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return err
}
