package runtime

import (
	"context"
	"testing"
)

func TestStartServicePassthrough(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	plan := NewDAG().
		Node("start", ServiceStart, nil).
		Node("end", ServiceEnd, nil).
		Edge("start", "end")
	rc, err := engine.NewRunContext(plan)
	if err != nil {
		t.Fatalf("NewRunContext: %v", err)
	}
	out, err := engine.Run(context.Background(), rc, "run-start", map[string]any{"a": 1.0})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, ok := out.Get("start.a")
	if !ok || got != 1.0 {
		t.Fatalf("start.a = %v (ok=%v), want 1", got, ok)
	}
}

func TestSelectTreeCombinators(t *testing.T) {
	rc := newTestContextWithVar(t, "node1", map[string]any{"n": 5.0, "tag": "x"})

	tests := []struct {
		name string
		tree SelectTree
		want bool
	}{
		{"equal-true", SelectTree{Op: "equal", Left: "node1.tag", Right: "x"}, true},
		{"equal-false", SelectTree{Op: "equal", Left: "node1.tag", Right: "y"}, false},
		{"greater-true", SelectTree{Op: "greater", Left: "node1.n", Right: 1.0}, true},
		{"less-false", SelectTree{Op: "less", Left: "node1.n", Right: 1.0}, false},
		{"non_empty-true", SelectTree{Op: "non_empty", Left: "node1.tag"}, true},
		{"empty-missing", SelectTree{Op: "empty", Left: "node1.missing"}, true},
		{"and", SelectTree{Op: "and", Children: []SelectTree{
			{Op: "equal", Left: "node1.tag", Right: "x"},
			{Op: "greater", Left: "node1.n", Right: 1.0},
		}}, true},
		{"or-short-circuit", SelectTree{Op: "or", Children: []SelectTree{
			{Op: "equal", Left: "node1.tag", Right: "nope"},
			{Op: "equal", Left: "node1.tag", Right: "x"},
		}}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.tree.Eval(rc)
			if err != nil {
				t.Fatalf("Eval: %v", err)
			}
			if got != tc.want {
				t.Fatalf("Eval() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestBatchServiceFansOutBounded(t *testing.T) {
	plan := NewDAG().
		Node("start", ServiceStart, nil).
		Node("fanout", ServiceBatch, BatchConfig{Inputs: "start.items", BatchMax: 2, Service: "double"}).
		Node("end", ServiceEnd, nil).
		Edge("start", "fanout").
		Edge("fanout", "end")

	registry := NewDefaultServiceRegistry()
	registry.RegisterFunc("double", func(_ context.Context, _ *Context, se ServiceEntity) (Cell, error) {
		n := se.Config.(float64)
		return NewJSONCell(n * 2)
	})

	engine, err := NewEngine(WithServiceLoader(registry))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	rc, err := engine.NewRunContext(plan)
	if err != nil {
		t.Fatalf("NewRunContext: %v", err)
	}
	out, err := engine.Run(context.Background(), rc, "run-batch", map[string]any{"items": []any{1.0, 2.0, 3.0}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	outputs, ok := out.Get("fanout.outputs")
	if !ok {
		t.Fatal("missing fanout.outputs")
	}
	list, ok := outputs.([]any)
	if !ok || len(list) != 3 {
		t.Fatalf("outputs = %v, want 3-element list", outputs)
	}
	if list[0] != 2.0 || list[1] != 4.0 || list[2] != 6.0 {
		t.Fatalf("outputs = %v, want [2 4 6]", list)
	}
}

func TestWorkflowServiceRunsSubPlan(t *testing.T) {
	subPlan := NewDAG().
		Node("start", ServiceStart, nil).
		Node("end", ServiceEnd, JsonInput{TransformRules: map[string]TransformRule{
			"*": {Kind: RuleQuote, Quote: "start"},
		}}).
		Edge("start", "end")

	outerPlan := NewDAG().
		Node("start", ServiceStart, nil).
		Node("sub", ServiceWorkflow, WorkflowConfig{SubPlan: subPlan, Input: "nested"}).
		Node("end", ServiceEnd, JsonInput{TransformRules: map[string]TransformRule{
			"*": {Kind: RuleQuote, Quote: "sub"},
		}}).
		Edge("start", "sub").
		Edge("sub", "end")

	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	rc, err := engine.NewRunContext(outerPlan)
	if err != nil {
		t.Fatalf("NewRunContext: %v", err)
	}
	out, err := engine.Run(context.Background(), rc, "run-wf", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var got string
	if err := out.As(&got); err != nil {
		t.Fatalf("As: %v", err)
	}
	if got != "nested" {
		t.Fatalf("got %q, want %q", got, "nested")
	}
}
