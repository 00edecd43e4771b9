package runtime

import (
	"math/rand"
	"testing"
	"time"
)

func TestRetryPolicyValidate(t *testing.T) {
	t.Run("rejects MaxAttempts < 1", func(t *testing.T) {
		rp := &RetryPolicy{MaxAttempts: 0}
		if err := rp.Validate(); err == nil {
			t.Fatal("expected error for MaxAttempts < 1, got nil")
		}
	})

	t.Run("rejects MaxDelay < BaseDelay", func(t *testing.T) {
		rp := &RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 500 * time.Millisecond}
		if err := rp.Validate(); err == nil {
			t.Fatal("expected error for MaxDelay < BaseDelay, got nil")
		}
	})

	t.Run("accepts a well-formed policy", func(t *testing.T) {
		rp := &RetryPolicy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second}
		if err := rp.Validate(); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})

	t.Run("accepts MaxAttempts of 1 with no delay fields", func(t *testing.T) {
		rp := &RetryPolicy{MaxAttempts: 1}
		if err := rp.Validate(); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})
}

func TestRetryPolicyRetryable(t *testing.T) {
	t.Run("nil Retryable treats every error as retryable", func(t *testing.T) {
		rp := &RetryPolicy{MaxAttempts: 2}
		if !rp.retryable(errTestBoom) {
			t.Error("expected nil Retryable to treat error as retryable")
		}
	})

	t.Run("custom Retryable is consulted", func(t *testing.T) {
		rp := &RetryPolicy{MaxAttempts: 2, Retryable: func(error) bool { return false }}
		if rp.retryable(errTestBoom) {
			t.Error("expected custom Retryable to reject the error")
		}
	})
}

func TestComputeBackoff(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	t.Run("zero BaseDelay returns zero", func(t *testing.T) {
		rp := &RetryPolicy{MaxAttempts: 3}
		if got := computeBackoff(rp, 0, rng); got != 0 {
			t.Errorf("computeBackoff = %v, want 0", got)
		}
	})

	t.Run("grows exponentially up to MaxDelay", func(t *testing.T) {
		rp := &RetryPolicy{MaxAttempts: 5, BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond}
		for attempt := 0; attempt < 5; attempt++ {
			d := computeBackoff(rp, attempt, rng)
			if d < 0 || d > rp.MaxDelay+rp.BaseDelay {
				t.Errorf("attempt %d: computeBackoff = %v, out of expected bounds", attempt, d)
			}
		}
	})

	t.Run("defaults rng when nil", func(t *testing.T) {
		rp := &RetryPolicy{MaxAttempts: 2, BaseDelay: 10 * time.Millisecond}
		if got := computeBackoff(rp, 0, nil); got <= 0 {
			t.Errorf("computeBackoff with nil rng = %v, want > 0", got)
		}
	})
}
