package agentloop

import (
	"sort"
	"sync"
	"time"

	"github.com/forgehq/forge/internal/models"
)

// SteeringMessage is an out-of-band user message a caller can enqueue
// while a run is in flight. It is spliced into history before the next
// BuildRequest, without interrupting an in-flight tool dispatch.
// Grounded on the teacher's internal/agent/steering.go SteeringMessage,
// scoped down to the fields SPEC_FULL.md's supplemented feature needs;
// attachments and per-message tool-skip flags are teacher-only concerns
// with no SPEC_FULL.md component to attach to.
type SteeringMessage struct {
	Content  string
	Priority int // higher delivers first within a single drained batch
}

// Mode controls whether a drain delivers one queued message or all of
// them, mirroring the teacher's SteeringMode/FollowUpMode split applied
// uniformly to forge's single queue.
type Mode string

const (
	ModeOneAtATime Mode = "one-at-a-time"
	ModeAll        Mode = "all"
)

// SteeringQueue holds messages enqueued between runs of a Loop. Safe
// for concurrent use: Steer is typically called from a goroutine other
// than the one driving the loop.
type SteeringQueue struct {
	mu      sync.Mutex
	pending []SteeringMessage
	mode    Mode
}

// NewSteeringQueue builds an empty queue in one-at-a-time mode.
func NewSteeringQueue() *SteeringQueue {
	return &SteeringQueue{mode: ModeOneAtATime}
}

// SetMode configures whether a drain yields one message or all of them.
func (q *SteeringQueue) SetMode(mode Mode) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.mode = mode
}

// Steer enqueues a message for splicing before the loop's next turn.
func (q *SteeringQueue) Steer(content string) {
	q.SteerMessage(SteeringMessage{Content: content})
}

// SteerMessage enqueues a fully-specified message.
func (q *SteeringQueue) SteerMessage(msg SteeringMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, msg)
}

// HasPending reports whether any message is queued.
func (q *SteeringQueue) HasPending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) > 0
}

// Clear drops every queued message without delivering it.
func (q *SteeringQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
}

// drain removes and returns the messages a turn should splice,
// honoring the configured mode: one-at-a-time drains the single
// highest-priority message, all drains everything in priority order.
func (q *SteeringQueue) drain() []SteeringMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}

	sorted := make([]SteeringMessage, len(q.pending))
	copy(sorted, q.pending)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })

	if q.mode == ModeAll {
		q.pending = nil
		return sorted
	}

	q.pending = sorted[1:]
	return sorted[:1]
}

// spliceSteering drains the loop's steering queue and appends each
// message to agent's history as a user turn, before BuildRequest
// composes the next request.
func (l *Loop) spliceSteering(agent *models.Agent) {
	msgs := l.steering.drain()
	if len(msgs) == 0 {
		return
	}
	out := make([]models.Message, len(msgs))
	for i, m := range msgs {
		out[i] = models.Message{
			Role:      models.RoleUser,
			Content:   models.TextContent(m.Content),
			CreatedAt: time.Now(),
		}
	}
	agent.AppendMessages(out...)
}
