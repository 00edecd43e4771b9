package runtime

import (
	"context"
	"fmt"
	"sync"
)

// Reserved service names. Implementations provide defaults for all five
// but a caller may override any of them by registering a different
// handler under the same name.
const (
	ServiceStart      = "start"
	ServiceEnd        = "end"
	ServiceWorkflow   = "workflow"
	ServiceFlowSelect = "flow_select"
	ServiceBatch      = "batch"
)

// Service is an async handler bound to a node: (Context, ServiceEntity) ->
// Cell. Implementations should be safe for concurrent use across
// different ServiceEntity values — the engine may invoke the same Service
// from many goroutines at once.
type Service interface {
	Call(ctx context.Context, rc *Context, se ServiceEntity) (Cell, error)
}

// ServiceFunc adapts a plain function to the Service interface, mirroring
// the function-adapter pattern used throughout this package for
// middleware and hooks.
type ServiceFunc func(ctx context.Context, rc *Context, se ServiceEntity) (Cell, error)

// Call implements Service.
func (f ServiceFunc) Call(ctx context.Context, rc *Context, se ServiceEntity) (Cell, error) {
	return f(ctx, rc, se)
}

// ServiceEntity is the per-dispatch carrier handed to a service: node
// name, service name, opaque config, the resolved service handle, and the
// middleware chain cursor. Plan.Get produces a fresh ServiceEntity per
// dispatch (service handle unresolved); the engine resolves the handle
// immediately before the first middleware call.
type ServiceEntity struct {
	NodeName    string
	ServiceName string
	Config      any

	middleIndex int
	service     Service
}

// NewServiceEntity builds a ServiceEntity for nodeName bound to
// serviceName, with an opaque config value (typically a JsonInput or a
// plain map[string]any).
func NewServiceEntity(nodeName, serviceName string, config any) ServiceEntity {
	return ServiceEntity{NodeName: nodeName, ServiceName: serviceName, Config: config}
}

func (se ServiceEntity) withService(s Service) ServiceEntity {
	se.service = s
	return se
}

func (se ServiceEntity) String() string {
	return fmt.Sprintf("runtime.ServiceEntity[node:%s,service:%s]", se.NodeName, se.ServiceName)
}

// ServiceLoader resolves a service handle by name at dispatch time. A
// miss is reported to the caller as ErrServiceNotFound.
type ServiceLoader interface {
	Load(name string) (Service, bool)
}

// ServiceLoaderFunc adapts a plain function to ServiceLoader.
type ServiceLoaderFunc func(name string) (Service, bool)

// Load implements ServiceLoader.
func (f ServiceLoaderFunc) Load(name string) (Service, bool) { return f(name) }

// ServiceRegistry is a map-backed ServiceLoader, the kind of loader
// NewEngine uses by default (see NewDefaultServiceRegistry).
type ServiceRegistry struct {
	mu   sync.RWMutex
	byNm map[string]Service
}

// NewServiceRegistry returns an empty registry.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{byNm: make(map[string]Service)}
}

// Register binds name to s, overwriting any previous binding — this is
// how a caller overrides one of the reserved service names.
func (r *ServiceRegistry) Register(name string, s Service) *ServiceRegistry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byNm[name] = s
	return r
}

// RegisterFunc is Register for a bare function handler.
func (r *ServiceRegistry) RegisterFunc(name string, fn ServiceFunc) *ServiceRegistry {
	return r.Register(name, fn)
}

// Load implements ServiceLoader.
func (r *ServiceRegistry) Load(name string) (Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byNm[name]
	return s, ok
}

// Middleware wraps service invocation; it can observe or short-circuit a
// dispatch. The chain always ends in base_hook, appended by the Engine
// builder after all user-registered middleware (spec §4.3).
type Middleware interface {
	// Filter reports whether this middleware applies to se; false skips
	// straight to the next chain entry without incrementing past it.
	Filter(se ServiceEntity) bool
	Call(ctx context.Context, rc *Context, se ServiceEntity) (Cell, error)
}

// MiddlewareFunc adapts a function to Middleware with an always-true
// Filter, the common case.
type MiddlewareFunc func(ctx context.Context, rc *Context, se ServiceEntity) (Cell, error)

// Filter always returns true.
func (f MiddlewareFunc) Filter(ServiceEntity) bool { return true }

// Call implements Middleware.
func (f MiddlewareFunc) Call(ctx context.Context, rc *Context, se ServiceEntity) (Cell, error) {
	return f(ctx, rc, se)
}

// Hook runs before the first dispatch (pre-hook) or after the run's
// completion future resolves (post-hook).
type Hook interface {
	Call(ctx context.Context, rc *Context) error
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, rc *Context) error

// Call implements Hook.
func (f HookFunc) Call(ctx context.Context, rc *Context) error { return f(ctx, rc) }

// WorkerPool is the engine's dispatch substrate. Push must not block: it
// spawns work and returns immediately (spec §5's worker pool contract).
// Errors from the spawned function must be routed back through the
// Context it closed over, never panicked into the pool.
type WorkerPool interface {
	Push(fn func()) error
}
