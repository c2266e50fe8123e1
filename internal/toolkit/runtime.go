package toolkit

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/forgehq/forge/internal/forgeerr"
	"github.com/forgehq/forge/internal/models"
)

// RuntimeConfig configures the tool runtime's concurrency limits,
// timeouts, and retry strategy.
type RuntimeConfig struct {
	// MaxConcurrency bounds how many tool executions run at once.
	MaxConcurrency int
	// DefaultTimeout applies when a call has no per-tool override.
	// Spec default 30s, hard cap 300s.
	DefaultTimeout time.Duration
	// DefaultRetries is how many retries are attempted for retryable
	// failures.
	DefaultRetries int
	// RetryBackoff is the initial exponential-backoff delay.
	RetryBackoff time.Duration
	// MaxRetryBackoff caps the exponential backoff.
	MaxRetryBackoff time.Duration
}

// DefaultRuntimeConfig returns spec-compliant defaults.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		MaxConcurrency:  5,
		DefaultTimeout:  30 * time.Second,
		DefaultRetries:  0,
		RetryBackoff:    100 * time.Millisecond,
		MaxRetryBackoff: 5 * time.Second,
	}
}

// MaxToolTimeout is the hard cap on any per-tool timeout override.
const MaxToolTimeout = 300 * time.Second

// ToolOverride customizes timeout/retry behavior for one tool name.
type ToolOverride struct {
	Timeout      time.Duration
	Retries      int
	RetryBackoff time.Duration
}

// Metrics is a thread-safe snapshot of runtime execution counters.
type Metrics struct {
	mu              sync.Mutex
	TotalExecutions int64
	TotalRetries    int64
	TotalFailures   int64
	TotalTimeouts   int64
	TotalPanics     int64
}

// Snapshot returns a copy-safe view of the counters.
func (m *Metrics) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metrics{
		TotalExecutions: m.TotalExecutions,
		TotalRetries:    m.TotalRetries,
		TotalFailures:   m.TotalFailures,
		TotalTimeouts:   m.TotalTimeouts,
		TotalPanics:     m.TotalPanics,
	}
}

// Runtime executes tools registered in a Registry with bounded
// concurrency, per-tool timeout, retry-with-backoff, and panic recovery.
// The semaphore is its only concurrency bound: it does not consult
// models.ConcurrencySafe, and two executions of the same tool instance
// may run at once.
type Runtime struct {
	registry *Registry
	config   RuntimeConfig

	mu        sync.RWMutex
	overrides map[string]ToolOverride

	sem     chan struct{}
	metrics Metrics

	onToolCall []func(name, rawArgsJSON string)
}

// NewRuntime builds a Runtime over registry. A zero RuntimeConfig is
// replaced with DefaultRuntimeConfig.
func NewRuntime(registry *Registry, cfg RuntimeConfig) *Runtime {
	if cfg.MaxConcurrency <= 0 {
		cfg = DefaultRuntimeConfig()
	}
	return &Runtime{
		registry:  registry,
		config:    cfg,
		overrides: make(map[string]ToolOverride),
		sem:       make(chan struct{}, cfg.MaxConcurrency),
	}
}

// ConfigureTool sets a per-tool override.
func (rt *Runtime) ConfigureTool(name string, o ToolOverride) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.overrides[name] = o
}

func (rt *Runtime) override(name string) (ToolOverride, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	o, ok := rt.overrides[name]
	return o, ok
}

// OnToolCall registers a subscriber invoked before each tool execution
// begins, receiving the tool name and its raw arguments JSON.
func (rt *Runtime) OnToolCall(fn func(name, rawArgsJSON string)) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.onToolCall = append(rt.onToolCall, fn)
}

func (rt *Runtime) emitToolCall(name, rawArgsJSON string) {
	rt.mu.RLock()
	subs := make([]func(string, string), len(rt.onToolCall))
	copy(subs, rt.onToolCall)
	rt.mu.RUnlock()
	for _, fn := range subs {
		fn(name, rawArgsJSON)
	}
}

// Metrics returns a snapshot of execution counters.
func (rt *Runtime) Metrics() Metrics {
	return rt.metrics.Snapshot()
}

// Call is one tool invocation request: a call id, tool name, and raw
// JSON arguments.
type Call struct {
	ID            string
	Name          string
	ArgumentsJSON string
}

// Result is the outcome of one dispatched Call.
type Result struct {
	CallID   string
	ToolName string
	Result   models.ToolResult
	Err      error
	Duration time.Duration
	Attempts int
}

// ExecuteAll runs every call, honoring the runtime's concurrency bound.
// Results are returned in the same order as the input calls regardless
// of completion order.
func (rt *Runtime) ExecuteAll(ctx context.Context, calls []Call) []Result {
	if len(calls) == 0 {
		return nil
	}
	results := make([]Result, len(calls))
	var wg sync.WaitGroup
	for i, c := range calls {
		wg.Add(1)
		go func(idx int, call Call) {
			defer wg.Done()
			results[idx] = rt.Execute(ctx, call)
		}(i, c)
	}
	wg.Wait()
	return results
}

// Execute dispatches a single call, enforcing the semaphore, timeout,
// retry, and panic-recovery contract. A failure — including a not-found
// tool, bad arguments, timeout, or panic — is captured and returned as a
// ToolResult{Success:false}; Err is only set for a context-cancellation
// observed before a slot could be acquired.
func (rt *Runtime) Execute(ctx context.Context, call Call) Result {
	start := time.Now()
	res := Result{CallID: call.ID, ToolName: call.Name}

	select {
	case rt.sem <- struct{}{}:
		defer func() { <-rt.sem }()
	case <-ctx.Done():
		res.Err = &forgeerr.CancelledError{Op: "tool:" + call.Name}
		res.Duration = time.Since(start)
		return res
	}

	rt.emitToolCall(call.Name, call.ArgumentsJSON)

	timeout := rt.config.DefaultTimeout
	maxRetries := rt.config.DefaultRetries
	backoff := rt.config.RetryBackoff
	if o, ok := rt.override(call.Name); ok {
		if o.Timeout > 0 {
			timeout = o.Timeout
		}
		if o.Retries > 0 {
			maxRetries = o.Retries
		}
		if o.RetryBackoff > 0 {
			backoff = o.RetryBackoff
		}
	}
	if timeout > MaxToolTimeout {
		timeout = MaxToolTimeout
	}

	var lastResult models.ToolResult
	var lastErr *forgeerr.ToolError
	for attempt := 0; attempt <= maxRetries; attempt++ {
		res.Attempts = attempt + 1

		result, toolErr := rt.executeOnce(ctx, call, timeout)
		if toolErr == nil {
			res.Result = result
			res.Duration = time.Since(start)
			rt.metrics.mu.Lock()
			rt.metrics.TotalExecutions++
			rt.metrics.TotalRetries += int64(attempt)
			rt.metrics.mu.Unlock()
			return res
		}

		lastErr = toolErr
		lastResult = models.ToolResult{Success: false, Error: toolErr.Error()}

		if !toolErr.Kind.IsRetryable() || ctx.Err() != nil || attempt >= maxRetries {
			break
		}

		sleep := backoff * time.Duration(1<<uint(attempt))
		if sleep > rt.config.MaxRetryBackoff {
			sleep = rt.config.MaxRetryBackoff
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
		}
	}

	res.Result = lastResult
	res.Duration = time.Since(start)

	rt.metrics.mu.Lock()
	rt.metrics.TotalExecutions++
	rt.metrics.TotalFailures++
	if lastErr != nil {
		switch lastErr.Kind {
		case forgeerr.ToolErrTimeout:
			rt.metrics.TotalTimeouts++
		case forgeerr.ToolErrPanic:
			rt.metrics.TotalPanics++
		}
	}
	rt.metrics.mu.Unlock()

	return res
}

func (rt *Runtime) executeOnce(ctx context.Context, call Call, timeout time.Duration) (models.ToolResult, *forgeerr.ToolError) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result models.ToolResult
		err    *forgeerr.ToolError
	}
	ch := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: &forgeerr.ToolError{
					Kind:     forgeerr.ToolErrPanic,
					ToolName: call.Name,
					CallID:   call.ID,
					Message:  fmt.Sprintf("panic: %v\n%s", r, debug.Stack()),
				}}
			}
		}()

		argsJSON := call.ArgumentsJSON
		if argsJSON == "" {
			argsJSON = "{}"
		}
		result, err := rt.registry.Execute(execCtx, call.Name, []byte(argsJSON))
		if err != nil {
			ch <- outcome{err: &forgeerr.ToolError{
				Kind:     forgeerr.ToolErrExecution,
				ToolName: call.Name,
				CallID:   call.ID,
				Cause:    err,
			}}
			return
		}
		ch <- outcome{result: result}
	}()

	select {
	case o := <-ch:
		return o.result, o.err
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return models.ToolResult{}, &forgeerr.ToolError{
				Kind:     forgeerr.ToolErrTimeout,
				ToolName: call.Name,
				CallID:   call.ID,
				Message:  "context cancelled",
			}
		}
		return models.ToolResult{}, &forgeerr.ToolError{
			Kind:     forgeerr.ToolErrTimeout,
			ToolName: call.Name,
			CallID:   call.ID,
			Message:  fmt.Sprintf("execution timed out after %s", timeout),
		}
	}
}
