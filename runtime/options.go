package runtime

import (
	"fmt"

	"github.com/plango-run/plango/runtime/emit"
	"github.com/plango-run/plango/runtime/store"
)

// Option is a functional option for configuring an Engine.
//
// Functional options keep NewEngine's surface extensible without a
// constructor per combination of settings:
//
//	engine, err := runtime.NewEngine(
//	    runtime.WithServiceLoader(registry),
//	    runtime.WithMiddleware(loggingMW),
//	    runtime.WithWorkerPool(pool),
//	    runtime.WithEmitter(emit.NewLogEmitter(os.Stdout, true)),
//	)
//
// Options return an error at build time rather than panicking, so a
// misconfigured engine never reaches NewEngine's caller.
type Option func(*engineConfig) error

// engineConfig collects options before NewEngine assembles the Engine,
// allowing later options to see and validate against earlier ones.
type engineConfig struct {
	loader      ServiceLoader
	middlewares []Middleware
	pool        WorkerPool
	preHooks    []Hook
	postHooks   []Hook
	emitter     emit.Emitter
	metrics     *PrometheusMetrics
	costTracker *CostTracker
	recorder    store.Recorder
}

// WithServiceLoader sets the loader used to resolve a ServiceEntity's
// handle by name at dispatch time.
//
// Default: NewDefaultServiceRegistry() — the reserved services only; a
// dispatch to any other service name fails with ErrServiceNotFound unless
// this option supplies a loader that has it.
//
// Example:
//
//	registry := runtime.NewServiceRegistry()
//	registry.Register(runtime.ServiceStart, runtime.NewStartService())
//	engine, err := runtime.NewEngine(runtime.WithServiceLoader(registry))
func WithServiceLoader(loader ServiceLoader) Option {
	return func(cfg *engineConfig) error {
		if loader == nil {
			return fmt.Errorf("runtime: WithServiceLoader: loader must not be nil")
		}
		cfg.loader = loader
		return nil
	}
}

// WithMiddleware appends mw to the dispatch chain, in registration order.
// The engine appends its own terminal middleware (base_hook) after every
// middleware registered this way — user middleware always runs first.
//
// Example:
//
//	engine, err := runtime.NewEngine(
//	    runtime.WithMiddleware(runtime.MiddlewareFunc(logDispatch)),
//	    runtime.WithMiddleware(runtime.MiddlewareFunc(authorizeNode)),
//	)
func WithMiddleware(mw Middleware) Option {
	return func(cfg *engineConfig) error {
		if mw == nil {
			return fmt.Errorf("runtime: WithMiddleware: mw must not be nil")
		}
		cfg.middlewares = append(cfg.middlewares, mw)
		return nil
	}
}

// WithWorkerPool sets the engine's dispatch substrate.
//
// Default: a bounded pool sized to runtime.NumCPU() (see NewDefaultPool).
// Push must not block — it spawns and returns immediately (spec's §5
// worker-pool contract).
//
// Example:
//
//	engine, err := runtime.NewEngine(runtime.WithWorkerPool(runtime.NewDefaultPool(32)))
func WithWorkerPool(pool WorkerPool) Option {
	return func(cfg *engineConfig) error {
		if pool == nil {
			return fmt.Errorf("runtime: WithWorkerPool: pool must not be nil")
		}
		cfg.pool = pool
		return nil
	}
}

// WithPreHook appends h to the hooks run, in order, before the first
// dispatch. The first pre-hook error fails the run before any service
// executes.
func WithPreHook(h Hook) Option {
	return func(cfg *engineConfig) error {
		if h == nil {
			return fmt.Errorf("runtime: WithPreHook: h must not be nil")
		}
		cfg.preHooks = append(cfg.preHooks, h)
		return nil
	}
}

// WithPostHook appends h to the hooks run, in *reverse* registration
// order, once the run's completion future resolves. A post-hook error
// replaces the run's result with ErrEndCallbackError.
func WithPostHook(h Hook) Option {
	return func(cfg *engineConfig) error {
		if h == nil {
			return fmt.Errorf("runtime: WithPostHook: h must not be nil")
		}
		cfg.postHooks = append(cfg.postHooks, h)
		return nil
	}
}

// WithEmitter sets the observability sink every dispatch, completion, and
// plan-error event is reported through.
//
// Default: emit.NewNullEmitter() — the engine always emits through an
// Emitter, it just discards by default.
//
// Example:
//
//	engine, err := runtime.NewEngine(runtime.WithEmitter(emit.NewLogEmitter(os.Stdout, false)))
func WithEmitter(emitter emit.Emitter) Option {
	return func(cfg *engineConfig) error {
		if emitter == nil {
			return fmt.Errorf("runtime: WithEmitter: emitter must not be nil")
		}
		cfg.emitter = emitter
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection. See PrometheusMetrics
// for the exact gauges/histograms/counters exposed.
//
// Example:
//
//	registry := prometheus.NewRegistry()
//	metrics := runtime.NewPrometheusMetrics(registry)
//	engine, err := runtime.NewEngine(runtime.WithMetrics(metrics))
func WithMetrics(metrics *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.metrics = metrics
		return nil
	}
}

// ConflictPolicy governs what happens when a node attempts to write
// vars[name] a second time in one run. Only ConflictFail is implemented;
// this is a placeholder for future merge-based policies, mirroring the
// teacher's own ConflictPolicy enum.
type ConflictPolicy int

const (
	// ConflictFail returns ErrVarAlreadyWritten on a second write. The
	// only implemented policy, and the engine's fixed behavior.
	ConflictFail ConflictPolicy = iota
	// ConflictLastWriterWins is reserved for a future merge policy.
	ConflictLastWriterWins
)

// WithConflictPolicy is accepted for symmetry with the teacher's
// configuration surface, but only ConflictFail is implemented — the
// engine's InsertVar already enforces it unconditionally. Any other
// policy fails NewEngine with ErrUnsupportedConflictPolicy.
func WithConflictPolicy(policy ConflictPolicy) Option {
	return func(cfg *engineConfig) error {
		if policy != ConflictFail {
			return newError(KindUnsupportedConflictPolicy, "", fmt.Errorf("policy %d is not implemented", policy))
		}
		return nil
	}
}

// WithCostTracker attaches tracker so runtime/model adapters can record
// LLM token usage and cost against it via the Context's env cabinet (the
// adapter retrieves the tracker with Context.Env().Get).
//
// Example:
//
//	tracker := runtime.NewCostTracker("run-123", "USD")
//	engine, err := runtime.NewEngine(runtime.WithCostTracker(tracker))
func WithCostTracker(tracker *CostTracker) Option {
	return func(cfg *engineConfig) error {
		cfg.costTracker = tracker
		return nil
	}
}

// WithRecorder attaches an append-only audit log (spec §D.7's "optional
// observer"): after each node completes successfully, its OutputCell is
// recorded on a best-effort background goroutine. A slow or unavailable
// Recorder never delays or fails a run — RecordStep errors are dropped,
// reported only through the engine's Emitter as a "record_error" event.
//
// Default: nil — no recording.
func WithRecorder(recorder store.Recorder) Option {
	return func(cfg *engineConfig) error {
		if recorder == nil {
			return fmt.Errorf("runtime: WithRecorder: recorder must not be nil")
		}
		cfg.recorder = recorder
		return nil
	}
}
