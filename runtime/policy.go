package runtime

import (
	"math/rand"
	"time"
)

// NodePolicy configures the execution behavior for a specific node:
// timeout and retry. A node with no NodePolicy runs unmodified under
// base_hook. Policies are enforced by TimeoutMiddleware/RetryMiddleware,
// not by the Engine core, so a caller opts in by attaching them via
// WithMiddleware.
type NodePolicy struct {
	// Timeout is the maximum execution time allowed for this node. Zero
	// means unlimited.
	Timeout time.Duration

	// RetryPolicy specifies automatic retry behavior for transient
	// failures. Nil means no retries.
	RetryPolicy *RetryPolicy
}

// RetryPolicy configures automatic retry of a failed node dispatch.
// Exponential backoff with jitter avoids thundering-herd retries across
// concurrently dispatched nodes.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts including the first.
	// Must be >= 1; 1 means no retries.
	MaxAttempts int

	// BaseDelay is the base exponential-backoff delay.
	BaseDelay time.Duration

	// MaxDelay caps the computed delay. Must be >= BaseDelay when both
	// are set.
	MaxDelay time.Duration

	// Retryable reports whether err should be retried. A nil Retryable
	// treats every error as retryable.
	Retryable func(err error) bool
}

// Validate reports whether rp's fields are internally consistent.
func (rp *RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return newError(KindInvalidRetryPolicy, "", ErrInvalidRetryPolicy)
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return newError(KindInvalidRetryPolicy, "", ErrInvalidRetryPolicy)
	}
	return nil
}

func (rp *RetryPolicy) retryable(err error) bool {
	if rp.Retryable == nil {
		return true
	}
	return rp.Retryable(err)
}

// SideEffectPolicy declares the external I/O characteristics of a node.
// Nothing in this package reads it: an Engine with a runtime/store.Recorder
// attached records every successfully completed node's output, whatever
// its Recordable value.
type SideEffectPolicy struct {
	// Recordable marks a node's output as safe and useful to capture for
	// replay (e.g. an LLM call). Pure, cheap computations leave this
	// false.
	Recordable bool
}

// computeBackoff returns the delay before retry attempt (zero-based)
// given rp's BaseDelay/MaxDelay, using exponential backoff with jitter:
// delay = min(base*2^attempt, maxDelay) + jitter(0, base).
func computeBackoff(rp *RetryPolicy, attempt int, rng *rand.Rand) time.Duration {
	base := rp.BaseDelay
	if base <= 0 {
		return 0
	}
	delay := base * (1 << attempt)
	if rp.MaxDelay > 0 && delay > rp.MaxDelay {
		delay = rp.MaxDelay
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	jitter := time.Duration(rng.Int63n(int64(base)))
	return delay + jitter
}
