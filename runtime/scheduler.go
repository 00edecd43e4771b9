package runtime

import (
	"fmt"
	goruntime "runtime"
	"sync"
	"sync/atomic"
)

// numCPU returns the default pool size when none is requested. Aliased
// import because this package is itself named runtime.
func numCPU() int {
	return goruntime.NumCPU()
}

// DefaultPool is a bounded-concurrency worker pool: a fixed set of
// long-lived workers drain a buffered task queue, so Push never blocks the
// caller — it either enqueues fn and returns, or rejects outright once the
// queue is full. This keeps the teacher's Frontier bounded-capacity idiom
// but drops its OrderKey heap (successor ordering here is already decided
// by Plan.Next's join bookkeeping, not by the dispatch substrate) and,
// critically, never makes Push itself block: a semaphore-on-Push design
// deadlocks the moment a worker's own fn calls Push again to dispatch a
// successor, since that worker is still holding the slot it would need to
// acquire a second one. Workers here only ever read from tasks, never from
// a capacity gate, so a node's successors can always be enqueued from
// inside the goroutine running that node.
type DefaultPool struct {
	size     int
	tasks    chan func()
	capacity int32
	queued   atomic.Int32

	mu      sync.Mutex
	closed  bool
	workers sync.WaitGroup
	tasksWG sync.WaitGroup
}

// NewDefaultPool returns a DefaultPool running size long-lived workers.
// size <= 0 defaults to runtime.NumCPU() (see numCPU). The task queue holds
// up to size*8 pending items before Push starts rejecting.
func NewDefaultPool(size int) *DefaultPool {
	if size <= 0 {
		size = numCPU()
	}
	capacity := size * 8
	p := &DefaultPool{
		size:     size,
		tasks:    make(chan func(), capacity),
		capacity: int32(capacity),
	}
	p.workers.Add(size)
	for i := 0; i < size; i++ {
		go p.run()
	}
	return p
}

// run is a long-lived worker loop. It never calls Push itself, and it never
// blocks on anything but receiving from tasks, so it can never deadlock
// against a Push made from within fn.
func (p *DefaultPool) run() {
	defer p.workers.Done()
	for fn := range p.tasks {
		p.queued.Add(-1)
		fn()
		p.tasksWG.Done()
	}
}

// Push enqueues fn for a worker to run and returns immediately — it never
// blocks the caller, even when every worker is busy. It rejects immediately
// once the queue already holds capacity items, which is the backpressure
// signal the engine reports via IncrementBackpressure.
func (p *DefaultPool) Push(fn func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("runtime: pool closed")
	}
	p.mu.Unlock()

	p.tasksWG.Add(1)
	select {
	case p.tasks <- fn:
		p.queued.Add(1)
		return nil
	default:
		p.tasksWG.Done()
		return fmt.Errorf("runtime: pool saturated (queue capacity %d exceeded)", p.capacity)
	}
}

// QueueDepth returns the number of tasks currently queued awaiting a free
// worker, for UpdateDispatchQueueDepth polling.
func (p *DefaultPool) QueueDepth() int {
	return int(p.queued.Load())
}

// Wait blocks until every fn pushed so far has returned. Intended for tests
// and graceful shutdown, not called on Engine's hot path.
func (p *DefaultPool) Wait() {
	p.tasksWG.Wait()
}

// Close marks the pool closed: subsequent Push calls fail immediately, and
// once all queued tasks drain, workers exit. Call Wait after Close to block
// until in-flight and queued work finishes.
func (p *DefaultPool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()
}
