package parallel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestExecuteParallel_PreservesOrder(t *testing.T) {
	e := NewExecutor(nil)
	tasks := make([]Task, 5)
	for i := 0; i < 5; i++ {
		i := i
		tasks[i] = func(ctx context.Context) (any, error) {
			time.Sleep(time.Duration(5-i) * time.Millisecond)
			return i, nil
		}
	}
	results, err := e.ExecuteParallel(context.Background(), tasks, ParallelOptions{})
	if err != nil {
		t.Fatalf("ExecuteParallel: %v", err)
	}
	for i, r := range results {
		if r.Value.(int) != i {
			t.Fatalf("results[%d] = %v, want %d", i, r.Value, i)
		}
	}
}

func TestExecuteParallel_FailFastCancelsRemaining(t *testing.T) {
	e := NewExecutor(&Config{CPUConcurrency: 2})
	var ran int64
	tasks := []Task{
		func(ctx context.Context) (any, error) { return nil, errors.New("boom") },
		func(ctx context.Context) (any, error) {
			select {
			case <-time.After(200 * time.Millisecond):
				atomic.AddInt64(&ran, 1)
				return nil, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	_, err := e.ExecuteParallel(context.Background(), tasks, ParallelOptions{})
	if err == nil {
		t.Fatalf("expected error from fail-fast task")
	}
	if atomic.LoadInt64(&ran) != 0 {
		t.Fatalf("expected second task to be cancelled, but it completed")
	}
}

func TestExecuteParallel_ContinueOnError(t *testing.T) {
	e := NewExecutor(nil)
	tasks := []Task{
		func(ctx context.Context) (any, error) { return nil, errors.New("boom") },
		func(ctx context.Context) (any, error) { return "ok", nil },
	}
	results, err := e.ExecuteParallel(context.Background(), tasks, ParallelOptions{ContinueOnError: true})
	if err != nil {
		t.Fatalf("expected no aggregate error with ContinueOnError, got %v", err)
	}
	if results[0].Err == nil {
		t.Fatalf("expected results[0] to carry its error")
	}
	if results[1].Value != "ok" {
		t.Fatalf("results[1] = %v, want ok", results[1].Value)
	}
}

func TestExecuteParallelWithDependencies_Waves(t *testing.T) {
	e := NewExecutor(nil)
	var order []string
	var orderMu sync.Mutex

	appendOrder := func(id string) {
		orderMu.Lock()
		order = append(order, id)
		orderMu.Unlock()
	}

	ops := []Op{
		{ID: "a", Run: func(ctx context.Context, deps map[string]any) (any, error) {
			appendOrder("a")
			return 1, nil
		}},
		{ID: "b", Dependencies: []string{"a"}, Run: func(ctx context.Context, deps map[string]any) (any, error) {
			appendOrder("b")
			return deps["a"].(int) + 1, nil
		}},
		{ID: "c", Dependencies: []string{"a"}, Run: func(ctx context.Context, deps map[string]any) (any, error) {
			appendOrder("c")
			return deps["a"].(int) + 2, nil
		}},
	}
	results, err := e.ExecuteParallelWithDependencies(context.Background(), ops)
	if err != nil {
		t.Fatalf("ExecuteParallelWithDependencies: %v", err)
	}
	if results["b"].Value.(int) != 2 || results["c"].Value.(int) != 3 {
		t.Fatalf("unexpected results: %+v", results)
	}
	if len(order) == 0 || order[0] != "a" {
		t.Fatalf("expected 'a' to run first, got %v", order)
	}
}

func TestExecuteParallelWithDependencies_PropagatesFailure(t *testing.T) {
	e := NewExecutor(nil)
	var cRan int64
	ops := []Op{
		{ID: "a", Run: func(ctx context.Context, deps map[string]any) (any, error) {
			return nil, errors.New("a failed")
		}},
		{ID: "b", Dependencies: []string{"a"}, Run: func(ctx context.Context, deps map[string]any) (any, error) {
			return nil, nil
		}},
		{ID: "c", Run: func(ctx context.Context, deps map[string]any) (any, error) {
			atomic.AddInt64(&cRan, 1)
			return "independent", nil
		}},
	}
	results, err := e.ExecuteParallelWithDependencies(context.Background(), ops)
	if err != nil {
		t.Fatalf("ExecuteParallelWithDependencies: %v", err)
	}
	if results["a"].Err == nil {
		t.Fatalf("expected a to fail")
	}
	if results["b"].Err == nil {
		t.Fatalf("expected b to be skipped due to a's failure")
	}
	if results["c"].Err != nil || results["c"].Value != "independent" {
		t.Fatalf("expected independent subgraph c to succeed, got %+v", results["c"])
	}
	if atomic.LoadInt64(&cRan) != 1 {
		t.Fatalf("expected c to run exactly once")
	}
}

func TestExecuteParallelWithDependencies_DetectsCycle(t *testing.T) {
	e := NewExecutor(nil)
	ops := []Op{
		{ID: "a", Dependencies: []string{"b"}, Run: func(ctx context.Context, deps map[string]any) (any, error) { return nil, nil }},
		{ID: "b", Dependencies: []string{"a"}, Run: func(ctx context.Context, deps map[string]any) (any, error) { return nil, nil }},
	}
	_, err := e.ExecuteParallelWithDependencies(context.Background(), ops)
	if err == nil {
		t.Fatalf("expected cycle error")
	}
}
