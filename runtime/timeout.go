package runtime

import (
	"context"
	"fmt"
)

// TimeoutMiddleware enforces a per-node NodePolicy.Timeout by wrapping
// the downstream chain's context in context.WithTimeout. Nodes absent
// from policies, or with Timeout == 0, pass through untouched (Filter
// reports false so the chain moves on without this middleware running
// at all).
type TimeoutMiddleware struct {
	policies map[string]*NodePolicy
}

// NewTimeoutMiddleware returns a TimeoutMiddleware enforcing the given
// per-node policies.
func NewTimeoutMiddleware(policies map[string]*NodePolicy) *TimeoutMiddleware {
	return &TimeoutMiddleware{policies: policies}
}

// Filter implements Middleware.
func (m *TimeoutMiddleware) Filter(se ServiceEntity) bool {
	p := m.policies[se.NodeName]
	return p != nil && p.Timeout > 0
}

// Call implements Middleware.
func (m *TimeoutMiddleware) Call(ctx context.Context, rc *Context, se ServiceEntity) (Cell, error) {
	p := m.policies[se.NodeName]
	timeoutCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	type result struct {
		cell Cell
		err  error
	}
	done := make(chan result, 1)
	go func() {
		cell, err := rc.middlewareNext(timeoutCtx, se)
		done <- result{cell, err}
	}()

	select {
	case r := <-done:
		return r.cell, r.err
	case <-timeoutCtx.Done():
		return nil, newError(KindNodeTimeout, se.NodeName, fmt.Errorf("node %q exceeded timeout of %v", se.NodeName, p.Timeout))
	}
}
