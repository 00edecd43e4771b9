package runtime

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

// envCabinet is a mutex-guarded mapping keyed by runtime type identity,
// for side-channel data exchange between services that do not want to
// thread values through vars (spec §3's "env" field).
type envCabinet struct {
	mu   sync.Mutex
	byTy map[reflect.Type]any
}

func newEnvCabinet() *envCabinet {
	return &envCabinet{byTy: make(map[reflect.Type]any)}
}

// Set stores v keyed by its dynamic type, overwriting any previous
// value of the same type.
func (e *envCabinet) Set(v any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.byTy[reflect.TypeOf(v)] = v
}

// Get retrieves the value previously stored under typ's dynamic type
// into dst (a pointer); ok is false if nothing of that type was stored.
func (e *envCabinet) Get(typ reflect.Type, dst any) bool {
	e.mu.Lock()
	v, ok := e.byTy[typ]
	e.mu.Unlock()
	if !ok {
		return false
	}
	_ = assignTyped(v, dst)
	return true
}

// Context is the per-run shared state: status, vars, input slot, error
// slot, the exclusively-owned Plan, a read-only Engine reference, and the
// env cabinet. All mutation is guarded by a single mutex with short
// critical sections (spec §4.2, §5).
type Context struct {
	mu sync.Mutex

	runID  string
	status Status
	waker  chan struct{} // closed exactly once, on the transition out of Running

	vars  map[string]Cell
	input any
	err   error

	plan   Plan
	engine *Engine
	env    *envCabinet
}

// newContext builds a fresh Context over plan, bound to engine. Not
// exported: callers go through Engine.NewRunContext.
func newContext(engine *Engine, plan Plan) *Context {
	return &Context{
		status: StatusInit,
		waker:  make(chan struct{}),
		vars:   make(map[string]Cell),
		plan:   plan,
		engine: engine,
		env:    newEnvCabinet(),
	}
}

// RunID returns the identifier Run/Go stamped onto this Context, for
// correlating emitted events and metrics with a caller-tracked run.
func (c *Context) RunID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runID
}

// setRunID stamps runID once, at the start of Run/Go.
func (c *Context) setRunID(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runID = runID
}

// Plan exposes the Context's exclusively-owned Plan, for services (like
// flow_select) that need to call SetSuccessors.
func (c *Context) Plan() Plan {
	return c.plan
}

// Engine exposes the Context's read-only Engine reference.
func (c *Context) Engine() *Engine {
	return c.engine
}

// Env exposes the side-channel env cabinet.
func (c *Context) Env() *envCabinet {
	return c.env
}

// InsertInput seeds the run's input slot, consumed once by the start
// service via TakeInput.
func (c *Context) InsertInput(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.input = v
}

// TakeInput removes and returns the input slot's value; ok is false if
// it was already taken or never set.
func (c *Context) TakeInput() (v any, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.input == nil {
		return nil, false
	}
	v, c.input = c.input, nil
	return v, true
}

// InsertVar stores cell under name. Per spec §3/§9, vars[name] is
// written at most once per run; a second write returns
// ErrVarAlreadyWritten rather than silently overwriting.
func (c *Context) InsertVar(name string, cell Cell) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.vars[name]; exists {
		return newError(KindVarAlreadyWritten, name, fmt.Errorf("vars[%s] already written this run", name))
	}
	c.vars[name] = cell
	return nil
}

// RemoveVar removes and returns vars[name]; ok is false if absent. Used
// once, at run completion, to extract the end node's output.
func (c *Context) RemoveVar(name string) (Cell, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cell, ok := c.vars[name]
	if ok {
		delete(c.vars, name)
	}
	return cell, ok
}

// GetVar returns vars[name] without removing it, for read access by
// templating/JsonServiceExt.
func (c *Context) GetVar(name string) (Cell, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cell, ok := c.vars[name]
	return cell, ok
}

// VarsSnapshot returns a shallow copy of vars keyed by node name, for the
// default "end" service's passthrough behavior and similar generic,
// read-only consumers.
func (c *Context) VarsSnapshot() map[string]Cell {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := make(map[string]Cell, len(c.vars))
	for k, v := range c.vars {
		snap[k] = v
	}
	return snap
}

// GetVarField resolves a dotted path "node.path" against vars[node],
// following OutputCell's dotted-path read contract; "node.*" or bare
// "node" returns the whole cell value.
func (c *Context) GetVarField(dottedPath string) (any, bool) {
	node, path := splitDottedHead(dottedPath)
	cell, ok := c.GetVar(node)
	if !ok {
		return nil, false
	}
	if path == "" {
		path = "*"
	}
	return cell.Get(path)
}

// splitDottedHead splits "node.a.b" into ("node", "a.b"); "node" alone
// yields ("node", "").
func splitDottedHead(dotted string) (head, rest string) {
	for i := 0; i < len(dotted); i++ {
		if dotted[i] == '.' {
			return dotted[:i], dotted[i+1:]
		}
	}
	return dotted, ""
}

// SetError transitions status to Error (if not already terminal) and
// wakes the waker if it was Running. Sticky: once Error, stays Error
// until the next Over transition.
func (c *Context) SetError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.terminal() || c.status == StatusOver {
		return
	}
	wasRunning := c.status == StatusRunning
	c.status = StatusError
	c.err = err
	if wasRunning {
		close(c.waker)
	}
}

// Success transitions status to Success (if not already terminal) and
// wakes the waker if it was Running.
func (c *Context) Success() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.terminal() || c.status == StatusOver {
		return
	}
	wasRunning := c.status == StatusRunning
	c.status = StatusSuccess
	if wasRunning {
		close(c.waker)
	}
}

// GetStatus returns the current status.
func (c *Context) GetStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// TakeError returns the captured error, if any.
func (c *Context) TakeError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// markRunning transitions Init -> Running synchronously, the alternative
// to the StartGate/CompletionFuture pair this implementation takes (spec
// §9, §D.4 of SPEC_FULL.md): called once, under the mutex, before the
// first dispatch is handed to the worker pool, so no service can ever
// observe status == Init.
func (c *Context) markRunning() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusInit {
		c.status = StatusRunning
	}
}

// wait blocks until status leaves Running (reaches Success or Error).
func (c *Context) wait() {
	c.mu.Lock()
	status := c.status
	waker := c.waker
	c.mu.Unlock()
	if status == StatusRunning {
		<-waker
	}
}

// intoOver transitions the context to Over and returns the status it had
// just before — used once, at run completion, to read the final
// outcome.
func (c *Context) intoOver() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.status
	c.status = StatusOver
	return prev
}

// Fork creates a sibling Context over a different plan, sharing this
// Context's Engine (and, optionally, Env), for sub-workflow composition
// (spec §4.2, §9: "avoid any back-pointer" between Plan and Context).
func (c *Context) Fork(plan Plan, shareEnv bool) *Context {
	child := newContext(c.engine, plan)
	if shareEnv {
		child.env = c.env
	}
	return child
}

// middlewareNext is the Context.next(se) dispatch step from the original
// design: advance se past the middleware chain, invoking the middleware
// at middle_index, or the resolved service once the chain is exhausted.
// Defined as a method on Context (not ServiceEntity) because it needs
// the Engine's chain, which Context holds a reference to.
func (c *Context) middlewareNext(stdCtx context.Context, se ServiceEntity) (Cell, error) {
	chain := c.engine.middlewareChain()
	if se.middleIndex > len(chain) {
		return nil, newError(KindNextNodeNull, se.NodeName, fmt.Errorf("middle_index %d exceeds chain length %d", se.middleIndex, len(chain)))
	}
	for se.middleIndex < len(chain) {
		mw := chain[se.middleIndex]
		se.middleIndex++
		if !mw.Filter(se) {
			continue
		}
		return mw.Call(stdCtx, c, se)
	}
	if se.service == nil {
		return nil, newError(KindServiceNotFound, se.ServiceName, fmt.Errorf("service handle not resolved"))
	}
	return se.service.Call(stdCtx, c, se)
}
