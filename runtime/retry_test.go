package runtime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRetryMiddlewareFilter(t *testing.T) {
	m := NewRetryMiddleware(map[string]*NodePolicy{
		"flaky": {RetryPolicy: &RetryPolicy{MaxAttempts: 3}},
		"bare":  {},
	})

	if !m.Filter(ServiceEntity{NodeName: "flaky"}) {
		t.Error("expected Filter true for a node with a RetryPolicy")
	}
	if m.Filter(ServiceEntity{NodeName: "bare"}) {
		t.Error("expected Filter false for a node with no RetryPolicy")
	}
	if m.Filter(ServiceEntity{NodeName: "unconfigured"}) {
		t.Error("expected Filter false for a node with no policy at all")
	}
}

func TestRetryMiddlewareSucceedsAfterTransientFailures(t *testing.T) {
	plan := NewDAG().
		Node("start", ServiceStart, nil).
		Node("flaky", "flaky", nil).
		Node("end", ServiceEnd, nil).
		Edge("start", "flaky").
		Edge("flaky", "end")

	var calls atomic.Int32
	registry := NewDefaultServiceRegistry()
	registry.RegisterFunc("flaky", func(_ context.Context, _ *Context, _ ServiceEntity) (Cell, error) {
		if calls.Add(1) < 3 {
			return nil, errTestBoom
		}
		return NewJSONCell("finally")
	})

	mw := NewRetryMiddleware(map[string]*NodePolicy{
		"flaky": {RetryPolicy: &RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}},
	})
	engine, err := NewEngine(WithServiceLoader(registry), WithMiddleware(mw))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	rc, err := engine.NewRunContext(plan)
	if err != nil {
		t.Fatalf("NewRunContext: %v", err)
	}
	out, err := engine.Run(context.Background(), rc, "run-retry-ok", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var got string
	if err := out.As(&got); err != nil {
		t.Fatalf("As: %v", err)
	}
	if got != "finally" {
		t.Errorf("got %q, want %q", got, "finally")
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestRetryMiddlewareExhaustsAttempts(t *testing.T) {
	plan := NewDAG().
		Node("start", ServiceStart, nil).
		Node("flaky", "flaky", nil).
		Node("end", ServiceEnd, nil).
		Edge("start", "flaky").
		Edge("flaky", "end")

	var calls atomic.Int32
	registry := NewDefaultServiceRegistry()
	registry.RegisterFunc("flaky", func(_ context.Context, _ *Context, _ ServiceEntity) (Cell, error) {
		calls.Add(1)
		return nil, errTestBoom
	})

	mw := NewRetryMiddleware(map[string]*NodePolicy{
		"flaky": {RetryPolicy: &RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}},
	})
	engine, err := NewEngine(WithServiceLoader(registry), WithMiddleware(mw))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	rc, err := engine.NewRunContext(plan)
	if err != nil {
		t.Fatalf("NewRunContext: %v", err)
	}
	if _, err := engine.Run(context.Background(), rc, "run-retry-fail", nil); err == nil {
		t.Fatal("expected Run to fail after exhausting retries")
	} else if !errors.Is(err, errTestBoom) {
		t.Errorf("Run error = %v, want wrapping errTestBoom", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3 (MaxAttempts)", calls.Load())
	}
}

func TestRetryMiddlewareDoesNotRetryNonRetryableError(t *testing.T) {
	plan := NewDAG().
		Node("start", ServiceStart, nil).
		Node("flaky", "flaky", nil).
		Node("end", ServiceEnd, nil).
		Edge("start", "flaky").
		Edge("flaky", "end")

	var calls atomic.Int32
	registry := NewDefaultServiceRegistry()
	registry.RegisterFunc("flaky", func(_ context.Context, _ *Context, _ ServiceEntity) (Cell, error) {
		calls.Add(1)
		return nil, errTestBoom
	})

	mw := NewRetryMiddleware(map[string]*NodePolicy{
		"flaky": {RetryPolicy: &RetryPolicy{
			MaxAttempts: 5,
			BaseDelay:   time.Millisecond,
			Retryable:   func(error) bool { return false },
		}},
	})
	engine, err := NewEngine(WithServiceLoader(registry), WithMiddleware(mw))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	rc, err := engine.NewRunContext(plan)
	if err != nil {
		t.Fatalf("NewRunContext: %v", err)
	}
	if _, err := engine.Run(context.Background(), rc, "run-retry-nonretryable", nil); err == nil {
		t.Fatal("expected Run to fail")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no retries for a non-retryable error)", calls.Load())
	}
}
