// Package parallel implements C5: a reusable concurrency primitive
// offering CPU- and IO-sized worker pools, order-preserving parallel
// execution, and DAG-scheduled execution with dependency propagation.
// Grounded on internal/agent/executor.go's semaphore/WaitGroup
// concurrency-limiting idiom, generalized from tool-call-shaped work
// items to arbitrary tasks.
package parallel

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
)

// Task is a unit of work submitted to the executor.
type Task func(ctx context.Context) (any, error)

// Metrics tracks executor activity, grounded on the teacher's
// ExecutorMetrics shape.
type Metrics struct {
	tasksExecuted int64
	cpuTasks      int64
	ioTasks       int64
	failures      int64
	activeNow     int64
	peakActive    int64
	mu            sync.Mutex
}

// Snapshot is an immutable copy of the current metrics.
type Snapshot struct {
	TasksExecuted int64
	CPUTasks      int64
	IOTasks       int64
	Failures      int64
	PeakActive    int64
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		TasksExecuted: atomic.LoadInt64(&m.tasksExecuted),
		CPUTasks:      atomic.LoadInt64(&m.cpuTasks),
		IOTasks:       atomic.LoadInt64(&m.ioTasks),
		Failures:      atomic.LoadInt64(&m.failures),
		PeakActive:    m.peakActive,
	}
}

func (m *Metrics) enter() {
	active := atomic.AddInt64(&m.activeNow, 1)
	m.mu.Lock()
	if active > m.peakActive {
		m.peakActive = active
	}
	m.mu.Unlock()
}

func (m *Metrics) leave() {
	atomic.AddInt64(&m.activeNow, -1)
}

// Executor runs Tasks on two separate semaphore-bounded pools: a CPU
// pool sized to GOMAXPROCS and a larger IO pool, per spec.md §4.5.
type Executor struct {
	cpuSem  chan struct{}
	ioSem   chan struct{}
	metrics *Metrics
}

// Config sizes the two pools. Zero values fall back to GOMAXPROCS and
// GOMAXPROCS*2 respectively.
type Config struct {
	CPUConcurrency int
	IOConcurrency  int
}

// NewExecutor builds an Executor. A nil cfg uses the defaults.
func NewExecutor(cfg *Config) *Executor {
	cpuN := runtime.GOMAXPROCS(0)
	ioN := cpuN * 2
	if cfg != nil {
		if cfg.CPUConcurrency > 0 {
			cpuN = cfg.CPUConcurrency
		}
		if cfg.IOConcurrency > 0 {
			ioN = cfg.IOConcurrency
		}
	}
	return &Executor{
		cpuSem:  make(chan struct{}, cpuN),
		ioSem:   make(chan struct{}, ioN),
		metrics: &Metrics{},
	}
}

// Metrics returns a snapshot of executor activity.
func (e *Executor) Metrics() Snapshot { return e.metrics.Snapshot() }

// ExecuteCPU runs task on the CPU-sized pool.
func (e *Executor) ExecuteCPU(ctx context.Context, task Task) (any, error) {
	return e.run(ctx, task, e.cpuSem, &e.metrics.cpuTasks)
}

// ExecuteIO runs task on the larger IO-sized pool.
func (e *Executor) ExecuteIO(ctx context.Context, task Task) (any, error) {
	return e.run(ctx, task, e.ioSem, &e.metrics.ioTasks)
}

func (e *Executor) run(ctx context.Context, task Task, sem chan struct{}, poolCounter *int64) (any, error) {
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-sem }()

	atomic.AddInt64(poolCounter, 1)
	atomic.AddInt64(&e.metrics.tasksExecuted, 1)
	e.metrics.enter()
	defer e.metrics.leave()

	result, err := task(ctx)
	if err != nil {
		atomic.AddInt64(&e.metrics.failures, 1)
	}
	return result, err
}

// ParallelOptions configures ExecuteParallel.
type ParallelOptions struct {
	ContinueOnError bool
	UseIOPool       bool
}

// ParallelResult is one slot of ExecuteParallel's order-preserving
// result slice.
type ParallelResult struct {
	Value any
	Err   error
}

// ExecuteParallel runs tasks concurrently on the IO or CPU pool,
// preserving input order in the returned slice. By default the first
// error cancels the remaining tasks (fail-fast); set
// opts.ContinueOnError to run every task to completion regardless.
func (e *Executor) ExecuteParallel(ctx context.Context, tasks []Task, opts ParallelOptions) ([]ParallelResult, error) {
	results := make([]ParallelResult, len(tasks))
	if len(tasks) == 0 {
		return results, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var firstErr error
	var firstErrOnce sync.Once

	pick := e.ExecuteIO
	if !opts.UseIOPool {
		pick = e.ExecuteCPU
	}

	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()
			value, err := pick(runCtx, task)
			results[i] = ParallelResult{Value: value, Err: err}
			if err != nil && !opts.ContinueOnError {
				firstErrOnce.Do(func() {
					firstErr = err
					cancel()
				})
			}
		}(i, task)
	}
	wg.Wait()

	if firstErr != nil {
		return results, firstErr
	}
	return results, nil
}
