package runtime

import (
	"context"
	"fmt"
)

// StartService implements the "start" reserved service (spec §C.2,
// grounded on the Rust original's service/custom/start.rs): it takes the
// run's input slot, applies its JsonInput transform (a plain passthrough
// if se.Config carries no JsonInput), and stores the result as its own
// OutputCell.
type StartService struct{}

// NewStartService returns the default "start" handler.
func NewStartService() StartService { return StartService{} }

func (StartService) Call(_ context.Context, rc *Context, se ServiceEntity) (Cell, error) {
	input, _ := rc.TakeInput()
	if ji, ok := se.Config.(JsonInput); ok {
		if ji.DefaultJSON == nil {
			ji.DefaultJSON = input
		}
		return ji.Resolve(rc)
	}
	return NewJSONCell(input)
}

// EndService implements the "end" reserved service: a passthrough
// JsonInput transform over its predecessors' vars. Its OutputCell becomes
// the run's return value (extracted by Engine.Run after Success).
type EndService struct{}

// NewEndService returns the default "end" handler.
func NewEndService() EndService { return EndService{} }

func (EndService) Call(_ context.Context, rc *Context, se ServiceEntity) (Cell, error) {
	if ji, ok := se.Config.(JsonInput); ok {
		return ji.Resolve(rc)
	}
	snapshot := rc.VarsSnapshot()
	out := make(map[string]any, len(snapshot))
	for name, cell := range snapshot {
		out[name] = cell.Raw()
	}
	return NewJSONCell(out)
}

// SelectTree is a small boolean expression tree evaluated by
// FlowSelectService against quoted vars (spec §C.2, grounded on
// service/flow/select.rs). Exactly one of the leaf or combinator fields
// is populated per node.
type SelectTree struct {
	// Op is one of: "equal", "not_equal", "greater", "less", "empty",
	// "non_empty", "and", "or". Leaf ops read Left/Right; combinator ops
	// read Children.
	Op       string
	Left     string // dotted "node.path" quote
	Right    any    // literal compared against Left's resolved value
	Children []SelectTree
}

// Eval evaluates the tree against rc's vars.
func (t SelectTree) Eval(rc *Context) (bool, error) {
	switch t.Op {
	case "equal", "not_equal", "greater", "less", "empty", "non_empty":
		val, ok := rc.GetVarField(t.Left)
		switch t.Op {
		case "empty":
			return !ok || isEmptyValue(val), nil
		case "non_empty":
			return ok && !isEmptyValue(val), nil
		}
		if !ok {
			return false, nil
		}
		return compareLeaf(t.Op, val, t.Right), nil
	case "and":
		for _, c := range t.Children {
			ok, err := c.Eval(rc)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case "or":
		for _, c := range t.Children {
			ok, err := c.Eval(rc)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("runtime: SelectTree: unknown op %q", t.Op)
	}
}

func isEmptyValue(v any) bool {
	switch vv := v.(type) {
	case nil:
		return true
	case string:
		return vv == ""
	case []any:
		return len(vv) == 0
	case map[string]any:
		return len(vv) == 0
	default:
		return false
	}
}

func compareLeaf(op string, left, right any) bool {
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	switch op {
	case "equal":
		if lok && rok {
			return lf == rf
		}
		return fmt.Sprintf("%v", left) == fmt.Sprintf("%v", right)
	case "not_equal":
		if lok && rok {
			return lf != rf
		}
		return fmt.Sprintf("%v", left) != fmt.Sprintf("%v", right)
	case "greater":
		return lok && rok && lf > rf
	case "less":
		return lok && rok && lf < rf
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch vv := v.(type) {
	case float64:
		return vv, true
	case float32:
		return float64(vv), true
	case int:
		return float64(vv), true
	case int64:
		return float64(vv), true
	default:
		return 0, false
	}
}

// FlowSelectConfig is the "flow_select" node's Config shape (spec §C.2).
type FlowSelectConfig struct {
	Conditions   SelectTree
	TrueToNodes  []string
	FalseToNodes []string
}

// FlowSelectService implements the "flow_select" reserved service:
// evaluates Conditions, then rewrites the Graph plan's successor list for
// this node before returning, implementing conditional routing. Only
// meaningful against the Graph Plan variant (spec §C.2) — DAG.SetSuccessors
// always errors.
type FlowSelectService struct{}

// NewFlowSelectService returns the default "flow_select" handler.
func NewFlowSelectService() FlowSelectService { return FlowSelectService{} }

func (FlowSelectService) Call(_ context.Context, rc *Context, se ServiceEntity) (Cell, error) {
	cfg, ok := se.Config.(FlowSelectConfig)
	if !ok {
		return nil, fmt.Errorf("runtime: flow_select: node %q has no FlowSelectConfig", se.NodeName)
	}
	taken, err := cfg.Conditions.Eval(rc)
	if err != nil {
		return nil, fmt.Errorf("runtime: flow_select: node %q: %w", se.NodeName, err)
	}
	chosen := cfg.FalseToNodes
	if taken {
		chosen = cfg.TrueToNodes
	}
	if err := rc.plan.SetSuccessors(se.NodeName, chosen); err != nil {
		return nil, fmt.Errorf("runtime: flow_select: node %q: %w", se.NodeName, err)
	}
	return NewJSONCell(map[string]any{"taken": taken})
}

// BatchConfig is the "batch" node's Config shape (spec §C.2).
type BatchConfig struct {
	// Inputs is a Quote reference ("node.path") to the list fanned out
	// over.
	Inputs string
	// BatchMax bounds concurrent in-flight elements.
	BatchMax int
	// Service names the handler each element is dispatched to.
	Service string
}

// BatchService implements the "batch" reserved service: fans Config.Service
// out over each element of the quoted Config.Inputs list, bounded by
// BatchMax concurrent elements, and collects outputs positionally into
// {"outputs": [...]} (spec §C.2, grounded on service/flow/batch.rs::Batch).
// Reuses the engine's DefaultPool machinery for bounded concurrency rather
// than a bespoke semaphore.
type BatchService struct{}

// NewBatchService returns the default "batch" handler.
func NewBatchService() BatchService { return BatchService{} }

func (BatchService) Call(ctx context.Context, rc *Context, se ServiceEntity) (Cell, error) {
	cfg, ok := se.Config.(BatchConfig)
	if !ok {
		return nil, fmt.Errorf("runtime: batch: node %q has no BatchConfig", se.NodeName)
	}
	elem, ok := rc.GetVarField(cfg.Inputs)
	if !ok {
		return nil, newError(KindNodeEntityNotFound, cfg.Inputs, fmt.Errorf("batch: inputs reference %q not found", cfg.Inputs))
	}
	items, ok := elem.([]any)
	if !ok {
		return nil, fmt.Errorf("runtime: batch: node %q: inputs at %q is not a list", se.NodeName, cfg.Inputs)
	}

	svc, err := rc.Engine().resolve(cfg.Service)
	if err != nil {
		return nil, err
	}

	pool := NewDefaultPool(cfg.BatchMax)
	outputs := make([]any, len(items))
	errs := make([]error, len(items))
	done := make(chan struct{}, len(items))

	for i, item := range items {
		i, item := i, item
		childSE := NewServiceEntity(fmt.Sprintf("%s[%d]", se.NodeName, i), cfg.Service, item).withService(svc)
		if pushErr := pool.Push(func() {
			defer func() { done <- struct{}{} }()
			cell, callErr := svc.Call(ctx, rc, childSE)
			if callErr != nil {
				errs[i] = callErr
				return
			}
			outputs[i] = cell.Raw()
		}); pushErr != nil {
			errs[i] = pushErr
			done <- struct{}{}
		}
	}
	for range items {
		<-done
	}
	for _, e := range errs {
		if e != nil {
			return nil, fmt.Errorf("runtime: batch: node %q: element failed: %w", se.NodeName, e)
		}
	}
	return NewJSONCell(map[string]any{"outputs": outputs})
}

// WorkflowConfig is the "workflow" node's Config shape (spec §C.2).
type WorkflowConfig struct {
	// SubPlan is the nested Plan to run via Context.Fork.
	SubPlan Plan
	// ShareEnv forwards the parent Context's env cabinet to the fork.
	ShareEnv bool
	// Input is the value handed to the sub-plan's start node.
	Input any
}

// WorkflowService implements the "workflow" reserved service: runs a
// nested Plan via rc.Fork and returns its result as this node's
// OutputCell — the concrete form of Plan composition through fork (spec
// §C.2, §4.2, §9).
type WorkflowService struct{}

// NewWorkflowService returns the default "workflow" handler.
func NewWorkflowService() WorkflowService { return WorkflowService{} }

func (WorkflowService) Call(ctx context.Context, rc *Context, se ServiceEntity) (Cell, error) {
	cfg, ok := se.Config.(WorkflowConfig)
	if !ok {
		return nil, fmt.Errorf("runtime: workflow: node %q has no WorkflowConfig", se.NodeName)
	}
	child := rc.Fork(cfg.SubPlan, cfg.ShareEnv)
	return rc.Engine().Run(ctx, child, rc.RunID()+"/"+se.NodeName, cfg.Input)
}

// NewDefaultServiceRegistry returns a ServiceRegistry pre-populated with
// the five reserved services' default implementations. A caller may
// still override any of them via Register, per spec §6's "implementations
// provide defaults but may be overridden."
func NewDefaultServiceRegistry() *ServiceRegistry {
	r := NewServiceRegistry()
	r.Register(ServiceStart, NewStartService())
	r.Register(ServiceEnd, NewEndService())
	r.Register(ServiceFlowSelect, NewFlowSelectService())
	r.Register(ServiceBatch, NewBatchService())
	r.Register(ServiceWorkflow, NewWorkflowService())
	return r
}
