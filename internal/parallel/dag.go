package parallel

import (
	"context"
	"fmt"
	"sync"
)

// Op is one node of a dependency graph submitted to
// ExecuteParallelWithDependencies. Run receives the completed results
// of every dependency, keyed by id, once they are all successful.
type Op struct {
	ID           string
	Dependencies []string
	Run          func(ctx context.Context, deps map[string]any) (any, error)
}

// DepResult is one entry of ExecuteParallelWithDependencies' result
// map: either a Value or an Err, never both.
type DepResult struct {
	Value any
	Err   error
}

// ExecuteParallelWithDependencies schedules ops in topological waves:
// within a wave every op whose dependencies have all completed
// successfully runs concurrently. An op whose dependency failed (or
// was itself skipped because of a failed ancestor) is never run and is
// recorded with a propagated error; independent subgraphs are
// unaffected.
func (e *Executor) ExecuteParallelWithDependencies(ctx context.Context, ops []Op) (map[string]DepResult, error) {
	byID := make(map[string]Op, len(ops))
	for _, op := range ops {
		if _, dup := byID[op.ID]; dup {
			return nil, fmt.Errorf("parallel: duplicate op id %q", op.ID)
		}
		byID[op.ID] = op
	}
	for _, op := range ops {
		for _, dep := range op.Dependencies {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("parallel: op %q depends on unknown id %q", op.ID, dep)
			}
		}
	}
	if cycle := findCycle(byID); cycle != "" {
		return nil, fmt.Errorf("parallel: dependency cycle detected at %q", cycle)
	}

	results := make(map[string]DepResult, len(ops))
	var mu sync.Mutex
	done := make(map[string]bool, len(ops))

	remaining := make(map[string]Op, len(ops))
	for id, op := range byID {
		remaining[id] = op
	}

	for len(remaining) > 0 {
		ready := readyOps(remaining, done)
		if len(ready) == 0 {
			// Every remaining op has an unresolved (failed or skipped)
			// dependency; propagate failure to all of them.
			for id, op := range remaining {
				mu.Lock()
				results[id] = DepResult{Err: fmt.Errorf("parallel: %q skipped, a dependency failed", op.ID)}
				done[id] = true
				mu.Unlock()
			}
			break
		}

		var wg sync.WaitGroup
		for _, op := range ready {
			delete(remaining, op.ID)
			wg.Add(1)
			go func(op Op) {
				defer wg.Done()

				mu.Lock()
				failed := false
				deps := make(map[string]any, len(op.Dependencies))
				for _, depID := range op.Dependencies {
					r := results[depID]
					if r.Err != nil {
						failed = true
						break
					}
					deps[depID] = r.Value
				}
				mu.Unlock()

				var res DepResult
				if failed {
					res = DepResult{Err: fmt.Errorf("parallel: %q skipped, a dependency failed", op.ID)}
				} else {
					value, err := e.ExecuteCPU(ctx, func(ctx context.Context) (any, error) {
						return op.Run(ctx, deps)
					})
					res = DepResult{Value: value, Err: err}
				}

				mu.Lock()
				results[op.ID] = res
				done[op.ID] = true
				mu.Unlock()
			}(op)
		}
		wg.Wait()
	}

	return results, nil
}

// readyOps returns every remaining op whose dependencies have all
// completed (successfully or not — failure handling happens inside the
// worker so independent subgraphs are unaffected).
func readyOps(remaining map[string]Op, done map[string]bool) []Op {
	var ready []Op
	for _, op := range remaining {
		allDone := true
		for _, dep := range op.Dependencies {
			if !done[dep] {
				allDone = false
				break
			}
		}
		if allDone {
			ready = append(ready, op)
		}
	}
	return ready
}

// findCycle performs a DFS over the dependency graph and returns the
// id at which a cycle was detected, or "" if the graph is acyclic.
func findCycle(byID map[string]Op) string {
	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)
	state := make(map[string]int, len(byID))

	var visit func(id string) bool
	visit = func(id string) bool {
		switch state[id] {
		case visiting:
			return true
		case visited:
			return false
		}
		state[id] = visiting
		for _, dep := range byID[id].Dependencies {
			if visit(dep) {
				return true
			}
		}
		state[id] = visited
		return false
	}

	for id := range byID {
		if state[id] == unvisited && visit(id) {
			return id
		}
	}
	return ""
}
