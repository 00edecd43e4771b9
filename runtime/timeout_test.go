package runtime

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTimeoutMiddlewareFilter(t *testing.T) {
	m := NewTimeoutMiddleware(map[string]*NodePolicy{
		"slow": {Timeout: time.Millisecond},
		"bare": {},
	})

	if !m.Filter(ServiceEntity{NodeName: "slow"}) {
		t.Error("expected Filter true for a node with Timeout > 0")
	}
	if m.Filter(ServiceEntity{NodeName: "bare"}) {
		t.Error("expected Filter false for a node with Timeout == 0")
	}
	if m.Filter(ServiceEntity{NodeName: "unconfigured"}) {
		t.Error("expected Filter false for a node with no policy at all")
	}
}

func TestTimeoutMiddlewareExceeded(t *testing.T) {
	plan := NewDAG().
		Node("start", ServiceStart, nil).
		Node("slow", "slow", nil).
		Node("end", ServiceEnd, nil).
		Edge("start", "slow").
		Edge("slow", "end")

	registry := NewDefaultServiceRegistry()
	registry.RegisterFunc("slow", func(ctx context.Context, _ *Context, _ ServiceEntity) (Cell, error) {
		select {
		case <-time.After(50 * time.Millisecond):
			return NewJSONCell("too slow")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	mw := NewTimeoutMiddleware(map[string]*NodePolicy{"slow": {Timeout: 5 * time.Millisecond}})
	engine, err := NewEngine(WithServiceLoader(registry), WithMiddleware(mw))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	rc, err := engine.NewRunContext(plan)
	if err != nil {
		t.Fatalf("NewRunContext: %v", err)
	}
	if _, err := engine.Run(context.Background(), rc, "run-timeout", nil); err == nil {
		t.Fatal("expected Run to fail with a timeout error")
	} else if !errors.Is(err, ErrNodeTimeout) {
		t.Errorf("Run error = %v, want ErrNodeTimeout", err)
	}
}

func TestTimeoutMiddlewarePassesFastNode(t *testing.T) {
	plan := NewDAG().
		Node("start", ServiceStart, nil).
		Node("fast", "fast", nil).
		Node("end", ServiceEnd, nil).
		Edge("start", "fast").
		Edge("fast", "end")

	registry := NewDefaultServiceRegistry()
	registry.RegisterFunc("fast", func(_ context.Context, _ *Context, _ ServiceEntity) (Cell, error) {
		return NewJSONCell("ok")
	})

	mw := NewTimeoutMiddleware(map[string]*NodePolicy{"fast": {Timeout: time.Second}})
	engine, err := NewEngine(WithServiceLoader(registry), WithMiddleware(mw))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	rc, err := engine.NewRunContext(plan)
	if err != nil {
		t.Fatalf("NewRunContext: %v", err)
	}
	if _, err := engine.Run(context.Background(), rc, "run-fast", nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
