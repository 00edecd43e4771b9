package runtime

import (
	"context"
	"math/rand"
	"time"
)

// RetryMiddleware enforces a per-node NodePolicy.RetryPolicy, re-invoking
// the downstream chain on a retryable failure with exponential backoff.
// Nodes absent from policies, or with RetryPolicy == nil, pass through
// untouched.
type RetryMiddleware struct {
	policies map[string]*NodePolicy
	rng      *rand.Rand
}

// NewRetryMiddleware returns a RetryMiddleware enforcing the given
// per-node policies.
func NewRetryMiddleware(policies map[string]*NodePolicy) *RetryMiddleware {
	return &RetryMiddleware{policies: policies, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Filter implements Middleware.
func (m *RetryMiddleware) Filter(se ServiceEntity) bool {
	p := m.policies[se.NodeName]
	return p != nil && p.RetryPolicy != nil
}

// Call implements Middleware.
func (m *RetryMiddleware) Call(ctx context.Context, rc *Context, se ServiceEntity) (Cell, error) {
	rp := m.policies[se.NodeName].RetryPolicy

	var lastErr error
	for attempt := 0; attempt < rp.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := computeBackoff(rp, attempt-1, m.rng)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		cell, err := rc.middlewareNext(ctx, se)
		if err == nil {
			return cell, nil
		}
		lastErr = err
		if !rp.retryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}
