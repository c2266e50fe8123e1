package orchestrator

import (
	"sync"

	"github.com/forgehq/forge/internal/models"
)

// taskQueue is a bounded single-producer/multi-producer, single-consumer
// queue of tasks for one agent, grounded on the teacher's channel-based
// job queues (internal/agent/loop.go's jobSem pattern generalized to a
// dedicated per-agent channel, as spec.md §4.7 calls for explicitly:
// "per-agent task queues are channels").
type taskQueue struct {
	mu     sync.Mutex
	tasks  chan *models.Task
	closed bool
}

func newTaskQueue(depth int) *taskQueue {
	return &taskQueue{tasks: make(chan *models.Task, depth)}
}

// push enqueues task. ok is false if the queue is full or has already
// been closed (the owning agent was terminated); closed distinguishes
// the two so the caller can report an accurate reason.
func (q *taskQueue) push(task *models.Task) (ok bool, closed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false, true
	}
	select {
	case q.tasks <- task:
		return true, false
	default:
		return false, false
	}
}

// drainAndClose closes the queue and returns every task still buffered,
// in submission order. The consumer goroutine checks closed under mu
// before starting a task, so no task starts once the queue is closed.
func (q *taskQueue) drainAndClose() []*models.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.tasks)

	var drained []*models.Task
	for task := range q.tasks {
		drained = append(drained, task)
	}
	return drained
}
