package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/plango-run/plango/runtime/emit"
	"github.com/plango-run/plango/runtime/store"
)

// Engine is immutable once built: its loader, middleware chain, worker
// pool, hooks, and observability sinks never change after NewEngine
// returns. It is read-shared across runs and goroutines (spec §5).
type Engine struct {
	loader      ServiceLoader
	chain       []Middleware // user middleware, base_hook appended last
	pool        WorkerPool
	preHooks    []Hook
	postHooks   []Hook
	emitter     emit.Emitter
	metrics     *PrometheusMetrics
	costTracker *CostTracker
	recorder    store.Recorder
}

// NewEngine assembles an Engine from opts. Defaults: a ServiceRegistry
// pre-populated with the reserved services (NewDefaultServiceRegistry),
// a default worker pool sized to NumCPU, a NullEmitter,
// no hooks, no middleware beyond base_hook.
func NewEngine(opts ...Option) (*Engine, error) {
	cfg := &engineConfig{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("runtime: NewEngine: %w", err)
		}
	}
	if cfg.loader == nil {
		cfg.loader = NewDefaultServiceRegistry()
	}
	if cfg.pool == nil {
		cfg.pool = NewDefaultPool(0)
	}
	if cfg.emitter == nil {
		cfg.emitter = emit.NewNullEmitter()
	}

	e := &Engine{
		loader:      cfg.loader,
		pool:        cfg.pool,
		preHooks:    cfg.preHooks,
		postHooks:   cfg.postHooks,
		emitter:     cfg.emitter,
		metrics:     cfg.metrics,
		costTracker: cfg.costTracker,
		recorder:    cfg.recorder,
	}
	e.chain = append(append([]Middleware(nil), cfg.middlewares...), baseHook{engine: e})
	return e, nil
}

// middlewareChain returns the full dispatch chain: user middleware
// followed by the terminal base_hook. Called by Context.middlewareNext.
func (e *Engine) middlewareChain() []Middleware {
	return e.chain
}

// CostTracker returns the Engine's attached cost tracker, or nil if none
// was configured.
func (e *Engine) CostTracker() *CostTracker {
	return e.costTracker
}

// Metrics returns the Engine's attached Prometheus metrics, or nil if
// none was configured.
func (e *Engine) Metrics() *PrometheusMetrics {
	return e.metrics
}

// NewRunContext builds a Context over plan, bound to e. plan must pass
// Check() — NewRunContext runs it and fails fast if it doesn't, per the
// Plan usability contract (spec §4.1).
func (e *Engine) NewRunContext(plan Plan) (*Context, error) {
	if err := plan.Check(); err != nil {
		return nil, fmt.Errorf("runtime: NewRunContext: %w", err)
	}
	rc := newContext(e, plan)
	if e.costTracker != nil {
		rc.Env().Set(e.costTracker)
	}
	return rc, nil
}

func (e *Engine) emitEvent(rc *Context, se ServiceEntity, status string, err error, meta map[string]interface{}) {
	e.emitter.Emit(emit.Event{
		RunID:       rc.RunID(),
		NodeName:    se.NodeName,
		ServiceName: se.ServiceName,
		Status:      status,
		Err:         err,
		Meta:        meta,
	})
}

// resolve looks up name on the loader, wrapping a miss as ErrServiceNotFound.
func (e *Engine) resolve(name string) (Service, error) {
	svc, ok := e.loader.Load(name)
	if !ok {
		return nil, newError(KindServiceNotFound, name, fmt.Errorf("no service registered under %q", name))
	}
	return svc, nil
}

// dispatchResolved pushes se (service handle already attached) onto the
// worker pool, fire-and-forget. Any failure past this point — pushing,
// panicking inside the service, a downstream plan error — is routed back
// through rc.SetError rather than returned, since nothing here has a
// synchronous caller left to return to (spec §4.3 step 6).
func (e *Engine) dispatchResolved(ctx context.Context, rc *Context, se ServiceEntity) {
	se.middleIndex = 0
	e.emitEvent(rc, se, "dispatch", nil, nil)
	start := time.Now()
	err := e.pool.Push(func() {
		defer func() {
			if r := recover(); r != nil {
				rc.SetError(newError(KindWrapped, se.NodeName, fmt.Errorf("panic in service %q: %v", se.ServiceName, r)))
			}
		}()
		_, callErr := rc.middlewareNext(ctx, se)
		if callErr != nil {
			rc.SetError(callErr)
		}
		if e.metrics != nil {
			status := "success"
			if callErr != nil {
				status = "error"
			}
			e.metrics.RecordStepLatency(rc.RunID(), se.NodeName, time.Since(start), status)
		}
	})
	if err != nil {
		if e.metrics != nil {
			e.metrics.IncrementBackpressure(rc.RunID(), "pool_push_rejected")
		}
		rc.SetError(fmt.Errorf("runtime: worker pool push failed for node %q: %w", se.NodeName, err))
	}
}

// dispatch resolves se's service handle (if not already attached) before
// handing it to dispatchResolved. Used for successor dispatch from
// base_hook, where a resolution failure has no synchronous caller to
// return to and must instead terminate the run via rc.SetError.
func (e *Engine) dispatch(ctx context.Context, rc *Context, se ServiceEntity) {
	if se.service == nil {
		svc, err := e.resolve(se.ServiceName)
		if err != nil {
			rc.SetError(err)
			return
		}
		se = se.withService(svc)
	}
	e.dispatchResolved(ctx, rc, se)
}

// baseHook is the terminal middleware every chain ends in (spec §4.3).
// Reached once se.middleIndex == len(chain), it calls back into
// rc.middlewareNext to fall through to the resolved service, records the
// result into vars, and drives the Plan forward.
type baseHook struct {
	engine *Engine
}

func (h baseHook) Filter(ServiceEntity) bool { return true }

func (h baseHook) Call(ctx context.Context, rc *Context, se ServiceEntity) (Cell, error) {
	cell, err := rc.middlewareNext(ctx, se)
	if err != nil {
		h.engine.emitEvent(rc, se, "error", err, nil)
		return nil, err
	}

	if err := rc.InsertVar(se.NodeName, cell); err != nil {
		if h.engine.metrics != nil {
			h.engine.metrics.IncrementConflicts(rc.RunID(), se.NodeName)
		}
		h.engine.emitEvent(rc, se, "error", err, nil)
		return nil, err
	}
	h.engine.emitEvent(rc, se, "success", nil, nil)
	h.engine.recordStep(ctx, rc, se, cell)

	result, err := rc.plan.Next(se.NodeName)
	if err != nil {
		if h.engine.metrics != nil {
			h.engine.metrics.IncrementPlanErrors(rc.RunID(), se.NodeName, planErrorKind(err))
		}
		return nil, err
	}

	switch {
	case result.End:
		h.engine.emitEvent(rc, se, "end", nil, nil)
		rc.Success()
	case result.Wait:
		h.engine.emitEvent(rc, se, "wait", nil, nil)
	default:
		for _, next := range result.Nodes {
			h.engine.dispatch(ctx, rc, next)
		}
	}
	return nil, nil
}

// recordStep writes cell to the engine's Recorder, if one is attached, on a
// detached background goroutine — a slow or failing Recorder must never add
// latency to the run it's observing (spec §D.7). Marshal/record failures
// surface only as a "record_error" event, never as a run error.
func (e *Engine) recordStep(ctx context.Context, rc *Context, se ServiceEntity, cell Cell) {
	if e.recorder == nil || cell == nil {
		return
	}
	var raw []byte
	if jc, ok := cell.(JSONCell); ok {
		raw = jc.Bytes()
	} else {
		b, err := json.Marshal(cell.Raw())
		if err != nil {
			e.emitEvent(rc, se, "record_error", fmt.Errorf("runtime: marshal cell for recorder: %w", err), nil)
			return
		}
		raw = b
	}
	runID, nodeName := rc.RunID(), se.NodeName
	go func() {
		if err := e.recorder.RecordStep(ctx, runID, nodeName, raw); err != nil {
			e.emitEvent(rc, se, "record_error", fmt.Errorf("runtime: recorder: %w", err), nil)
		}
	}()
}

func planErrorKind(err error) string {
	var target *Error
	for e := err; e != nil; {
		if pe, ok := e.(*Error); ok {
			target = pe
			break
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	if target == nil {
		return "unknown"
	}
	return target.Kind.String()
}

// Run drives a Context to completion synchronously (spec §4.3 "run").
// runID correlates emitted events and metrics with this call; callers
// that don't need correlation may pass "".
func (e *Engine) Run(ctx context.Context, rc *Context, runID string, input interface{}) (Cell, error) {
	rc.setRunID(runID)
	rc.InsertInput(input)

	startSE, ok := rc.plan.Get(rc.plan.StartNodeName())
	if !ok {
		return nil, newError(KindNodeEntityNotFound, rc.plan.StartNodeName(), fmt.Errorf("start node not found in plan"))
	}
	svc, err := e.resolve(startSE.ServiceName)
	if err != nil {
		return nil, err
	}
	startSE = startSE.withService(svc)

	for _, hook := range e.preHooks {
		if err := hook.Call(ctx, rc); err != nil {
			return nil, fmt.Errorf("runtime: pre-hook failed: %w", err)
		}
	}

	rc.markRunning()
	e.dispatchResolved(ctx, rc, startSE)
	rc.wait()

	for i := len(e.postHooks) - 1; i >= 0; i-- {
		if err := e.postHooks[i].Call(ctx, rc); err != nil {
			rc.intoOver()
			return nil, newError(KindEndCallbackError, "", err)
		}
	}

	switch rc.intoOver() {
	case StatusSuccess:
		cell, ok := rc.RemoveVar(rc.plan.EndNodeName())
		if !ok {
			return nil, newError(KindNodeEntityNotFound, rc.plan.EndNodeName(), fmt.Errorf("end node output missing from vars"))
		}
		return cell, nil
	case StatusError:
		return nil, rc.TakeError()
	default:
		return nil, newError(KindUnknown, "", fmt.Errorf("run ended in unexpected terminal state"))
	}
}

// Go drives a Context to completion in the background and returns as
// soon as the first dispatch is handed to the worker pool. Errors that
// occur past that point are captured on the Context, not returned (spec
// §4.3 "go"); synchronous setup failures (start node resolution,
// pre-hooks) are still returned directly, since no dispatch has happened
// yet for them to race against.
func (e *Engine) Go(ctx context.Context, rc *Context, runID string, input interface{}) error {
	rc.setRunID(runID)
	rc.InsertInput(input)

	startSE, ok := rc.plan.Get(rc.plan.StartNodeName())
	if !ok {
		return newError(KindNodeEntityNotFound, rc.plan.StartNodeName(), fmt.Errorf("start node not found in plan"))
	}
	svc, err := e.resolve(startSE.ServiceName)
	if err != nil {
		return err
	}
	startSE = startSE.withService(svc)

	for _, hook := range e.preHooks {
		if err := hook.Call(ctx, rc); err != nil {
			return fmt.Errorf("runtime: pre-hook failed: %w", err)
		}
	}

	rc.markRunning()
	e.dispatchResolved(ctx, rc, startSE)

	return e.pool.Push(func() {
		rc.wait()
		for i := len(e.postHooks) - 1; i >= 0; i-- {
			if err := e.postHooks[i].Call(ctx, rc); err != nil {
				e.emitEvent(rc, ServiceEntity{}, "error", newError(KindEndCallbackError, "", err), nil)
				break
			}
		}
		rc.intoOver()
	})
}
