// Package orchestrator implements C7: the multi-agent orchestrator.
// It owns the agent table, per-agent task queues, and the results map
// that hand-offs publish into, grounded on the teacher's
// internal/multiagent/orchestrator.go (agent table + mutex, capacity
// checks) and internal/multiagent/subagent_registry.go (run-record
// lifecycle: Pending/Running/Completed/Error/Timeout, recombined here
// into spec.md §4.7's own Queued/Running/Completed/Failed/Cancelled
// vocabulary). Unlike the teacher's peer-to-peer handoff shape, forge's
// contract is spawn-and-await: a caller creates agents, hands off tasks
// to them, and waits for results, rather than agents handing off to one
// another mid-conversation.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forgehq/forge/internal/agentloop"
	"github.com/forgehq/forge/internal/forgeerr"
	"github.com/forgehq/forge/internal/models"
	"github.com/forgehq/forge/internal/obs"
)

// SessionPersister persists a newly created agent's session, satisfied
// by C8's session store. Declared here rather than imported to avoid a
// dependency cycle, the same structural-typing trick patch.MetricsRecorder
// uses for C10.
type SessionPersister interface {
	CreateSession(ctx context.Context, agentID string, cfg models.AgentConfig) error
}

// EventType categorizes an orchestrator lifecycle notification.
type EventType string

const (
	EventAgentCreated    EventType = "agent_created"
	EventTaskQueued      EventType = "task_queued"
	EventTaskRunning     EventType = "task_running"
	EventTaskCompleted   EventType = "task_completed"
	EventTaskFailed      EventType = "task_failed"
	EventAgentTerminated EventType = "agent_terminated"
)

// Event is emitted on the orchestrator's event callback, grounded on
// the teacher's OrchestratorEvent, retargeted from peer-handoff events
// to task lifecycle events.
type Event struct {
	Type      EventType
	AgentID   string
	TaskID    string
	Message   string
	Timestamp time.Time
}

// Config configures an Orchestrator.
type Config struct {
	MaxConcurrentAgents int
	DefaultAgentConfig  models.AgentConfig
	Persister           SessionPersister
	Logger              *obs.Logger
	// Notifier, if set, receives a signed callback whenever a task
	// resolves. Best-effort: a failed delivery is logged, never fatal
	// to the task's own result.
	Notifier *WebhookNotifier
	// QueueDepth bounds each agent's pending-task channel; a hand-off
	// to an agent whose queue is full fails at once with an error.
	QueueDepth int
}

// LoopFactory builds the agentloop.Loop that drives one managed agent.
// Supplied by the caller so the orchestrator stays decoupled from any
// particular transport.Provider/toolkit.Registry wiring.
type LoopFactory func(agent *models.Agent) *agentloop.Loop

type managedAgent struct {
	agent  *models.Agent
	loop   *agentloop.Loop
	queue  *taskQueue
	cancel context.CancelFunc
}

// Orchestrator owns the agent table, per-agent task queues, and the
// results map that hand-offs publish into.
type Orchestrator struct {
	mu sync.RWMutex

	cfg         Config
	loopFactory LoopFactory

	agents  map[string]*managedAgent
	tasks   map[string]*models.Task
	results map[string]*models.TaskResult
	notify  map[string]chan struct{}

	currentAgentCount int

	eventCallback func(Event)
}

// New builds an Orchestrator. loopFactory is called once per
// created agent to build the loop driving it.
func New(cfg Config, loopFactory LoopFactory) *Orchestrator {
	if cfg.MaxConcurrentAgents <= 0 {
		cfg.MaxConcurrentAgents = 10
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 64
	}
	return &Orchestrator{
		cfg:         cfg,
		loopFactory: loopFactory,
		agents:      make(map[string]*managedAgent),
		tasks:       make(map[string]*models.Task),
		results:     make(map[string]*models.TaskResult),
		notify:      make(map[string]chan struct{}),
	}
}

// OnEvent registers the orchestrator's single event subscriber.
func (o *Orchestrator) OnEvent(fn func(Event)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.eventCallback = fn
}

func (o *Orchestrator) emit(ev Event) {
	o.mu.RLock()
	fn := o.eventCallback
	o.mu.RUnlock()
	if fn != nil {
		ev.Timestamp = time.Now()
		fn(ev)
	}
}

// CreateAgent registers a new Idle agent, applying cfgOverrides on top
// of the orchestrator's DefaultAgentConfig. Fails with CapacityError if
// the orchestrator is already at MaxConcurrentAgents.
func (o *Orchestrator) CreateAgent(ctx context.Context, name string, cfgOverrides models.AgentConfig) (string, error) {
	o.mu.Lock()
	if o.currentAgentCount >= o.cfg.MaxConcurrentAgents {
		limit, current := o.cfg.MaxConcurrentAgents, o.currentAgentCount
		o.mu.Unlock()
		return "", &forgeerr.CapacityError{Limit: limit, Current: current}
	}

	agentCfg := mergeConfig(o.cfg.DefaultAgentConfig, cfgOverrides)
	agentCfg.Name = name

	id := uuid.NewString()
	ag := models.NewAgent(id, agentCfg)

	var loop *agentloop.Loop
	if o.loopFactory != nil {
		loop = o.loopFactory(ag)
	}

	ma := &managedAgent{
		agent: ag,
		loop:  loop,
		queue: newTaskQueue(o.cfg.QueueDepth),
	}
	o.agents[id] = ma
	o.currentAgentCount++
	o.mu.Unlock()

	go o.runAgentQueue(id, ma)

	if o.cfg.Persister != nil {
		if err := o.cfg.Persister.CreateSession(ctx, id, agentCfg); err != nil && o.cfg.Logger != nil {
			o.cfg.Logger.Warn(ctx, "failed to persist new agent session", "agent_id", id, "error", err)
		}
	}

	o.emit(Event{Type: EventAgentCreated, AgentID: id})
	return id, nil
}

// mergeConfig layers override onto base. Bools are additive, not
// replacing: a zero-value override can enable a flag but never
// disable one the base already set, since plain bools can't
// distinguish "not specified" from "explicitly false".
func mergeConfig(base, override models.AgentConfig) models.AgentConfig {
	cfg := base
	if override.Provider != "" {
		cfg.Provider = override.Provider
	}
	if override.Model != "" {
		cfg.Model = override.Model
	}
	if override.SystemPrompt != "" {
		cfg.SystemPrompt = override.SystemPrompt
	}
	if override.Temperature != 0 {
		cfg.Temperature = override.Temperature
	}
	if override.TopP != 0 {
		cfg.TopP = override.TopP
	}
	if override.MaxTokens != 0 {
		cfg.MaxTokens = override.MaxTokens
	}
	if override.MaxHistoryMessages != 0 {
		cfg.MaxHistoryMessages = override.MaxHistoryMessages
	}
	if override.ToolAllowlist != nil {
		cfg.ToolAllowlist = override.ToolAllowlist
	}
	cfg.Stream = override.Stream || base.Stream
	cfg.MaintainHistory = override.MaintainHistory || base.MaintainHistory
	cfg.EnableTools = override.EnableTools || base.EnableTools
	cfg.RequireCommandApproval = override.RequireCommandApproval || base.RequireCommandApproval
	return cfg
}

// HandOff creates a Queued Task and enqueues it onto the target
// agent's task queue, returning immediately. taskCtx is rendered into
// the task description the agent's loop receives.
func (o *Orchestrator) HandOff(agentID, description string, taskCtx map[string]any) (string, error) {
	o.mu.Lock()
	ma, ok := o.agents[agentID]
	o.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("orchestrator: unknown agent %q", agentID)
	}

	taskID := uuid.NewString()
	task := &models.Task{
		ID:              taskID,
		AssignedAgentID: agentID,
		Description:     description,
		Context:         taskCtx,
		State:           models.TaskQueued,
		SubmittedAt:     time.Now(),
	}

	o.mu.Lock()
	o.tasks[taskID] = task
	o.notify[taskID] = make(chan struct{})
	o.mu.Unlock()

	o.emit(Event{Type: EventTaskQueued, AgentID: agentID, TaskID: taskID})

	ok, closed := ma.queue.push(task)
	if !ok {
		reason := "agent task queue is full"
		if closed {
			reason = "agent terminated"
		}
		o.mu.Lock()
		task.State = models.TaskCancelled
		o.mu.Unlock()
		o.publishResult(task, &models.TaskResult{TaskID: taskID, Success: false, Error: reason})
		return taskID, fmt.Errorf("orchestrator: %s: %q", reason, agentID)
	}

	return taskID, nil
}

// runAgentQueue is the single consumer of one agent's task queue:
// tasks for the same agent never execute concurrently, per spec.md
// §4.7's concurrency invariant.
func (o *Orchestrator) runAgentQueue(agentID string, ma *managedAgent) {
	for task := range ma.queue.tasks {
		runCtx, cancel := context.WithCancel(context.Background())
		// A task received after drainAndClose closed the queue is cancelled, not started.
		ma.queue.mu.Lock()
		closed := ma.queue.closed
		if !closed {
			ma.agent.SetCancel(cancel)
			ma.agent.SetStatus(models.AgentBusy)
		}
		ma.queue.mu.Unlock()
		if closed {
			cancel()
			o.mu.Lock()
			task.State = models.TaskCancelled
			o.mu.Unlock()
			o.publishResult(task, &models.TaskResult{TaskID: task.ID, Success: false, Error: "agent terminated", CompletedAt: time.Now()})
			continue
		}

		o.mu.Lock()
		task.State = models.TaskRunning
		o.mu.Unlock()
		o.emit(Event{Type: EventTaskRunning, AgentID: agentID, TaskID: task.ID})

		start := time.Now()
		prompt := renderTask(task)

		var text string
		var runErr error
		if ma.loop != nil {
			text, runErr = ma.loop.Execute(runCtx, ma.agent, prompt)
		} else {
			runErr = fmt.Errorf("orchestrator: agent %q has no loop configured", agentID)
		}
		cancel()
		ma.queue.mu.Lock()
		if !ma.queue.closed {
			ma.agent.SetStatus(models.AgentIdle)
		}
		ma.queue.mu.Unlock()

		result := &models.TaskResult{
			TaskID:      task.ID,
			Success:     runErr == nil,
			Text:        text,
			CompletedAt: time.Now(),
			Duration:    time.Since(start),
		}
		if runErr != nil {
			result.Error = runErr.Error()
		}

		o.mu.Lock()
		task.State = models.TaskCompleted
		if !result.Success {
			task.State = models.TaskFailed
		}
		task.CompletedAt = result.CompletedAt
		task.Result = result
		o.mu.Unlock()

		evType := EventTaskCompleted
		if !result.Success {
			evType = EventTaskFailed
		}
		o.emit(Event{Type: evType, AgentID: agentID, TaskID: task.ID, Message: result.Error})

		o.publishResult(task, result)
	}
}

func renderTask(task *models.Task) string {
	if len(task.Context) == 0 {
		return task.Description
	}
	return fmt.Sprintf("%s\n\ncontext: %v", task.Description, task.Context)
}

func (o *Orchestrator) publishResult(task *models.Task, result *models.TaskResult) {
	o.mu.Lock()
	o.results[task.ID] = result
	ch := o.notify[task.ID]
	o.mu.Unlock()
	if ch != nil {
		close(ch)
	}

	if o.cfg.Notifier != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := o.cfg.Notifier.Notify(ctx, task.AssignedAgentID, result); err != nil && o.cfg.Logger != nil {
				o.cfg.Logger.Warn(ctx, "webhook notification failed", "task_id", task.ID, "error", err)
			}
		}()
	}
}

// GetTaskResult returns the TaskResult for taskID if the task has
// resolved.
func (o *Orchestrator) GetTaskResult(taskID string) (*models.TaskResult, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.results[taskID]
	return r, ok
}

// WaitFor blocks until every task id in taskIDs has a result or
// timeout elapses, returning results in the same order as the input;
// a timed-out id's slot is nil. Implemented via per-task notification
// channels fanned into a single select, never a busy-wait poll.
func (o *Orchestrator) WaitFor(ctx context.Context, taskIDs []string, timeout time.Duration) []*models.TaskResult {
	out := make([]*models.TaskResult, len(taskIDs))

	deadline := time.After(timeout)
	remaining := make(map[int]string, len(taskIDs))
	for i, id := range taskIDs {
		if r, ok := o.GetTaskResult(id); ok {
			out[i] = r
			continue
		}
		remaining[i] = id
	}

	for len(remaining) > 0 {
		cases := make([]chan struct{}, 0, len(remaining))
		idxByChan := make(map[chan struct{}]int, len(remaining))
		o.mu.RLock()
		for i, id := range remaining {
			ch := o.notify[id]
			if ch == nil {
				ch = make(chan struct{})
				close(ch)
			}
			cases = append(cases, ch)
			idxByChan[ch] = i
		}
		o.mu.RUnlock()

		fired := waitAny(ctx, cases, deadline)
		if fired == nil {
			return out
		}
		idx := idxByChan[fired]
		if r, ok := o.GetTaskResult(remaining[idx]); ok {
			out[idx] = r
		}
		delete(remaining, idx)
	}

	return out
}

// waitAny blocks until one of chans fires, ctx is cancelled, or
// deadline elapses, returning the fired channel (nil on cancel/timeout).
func waitAny(ctx context.Context, chans []chan struct{}, deadline <-chan time.Time) chan struct{} {
	fired := make(chan chan struct{}, len(chans))
	var once sync.Once
	stop := make(chan struct{})
	for _, c := range chans {
		go func(c chan struct{}) {
			select {
			case <-c:
				once.Do(func() { fired <- c })
			case <-stop:
			}
		}(c)
	}
	defer close(stop)

	select {
	case c := <-fired:
		return c
	case <-deadline:
		return nil
	case <-ctx.Done():
		return nil
	}
}

// TerminateAgent cancels the agent's in-flight run, drains its queued
// tasks into Cancelled, and marks it Terminated. Passing "all"
// terminates every managed agent.
func (o *Orchestrator) TerminateAgent(agentID string) error {
	if agentID == "all" {
		o.mu.RLock()
		ids := make([]string, 0, len(o.agents))
		for id := range o.agents {
			ids = append(ids, id)
		}
		o.mu.RUnlock()
		for _, id := range ids {
			if err := o.terminateOne(id); err != nil {
				return err
			}
		}
		return nil
	}
	return o.terminateOne(agentID)
}

func (o *Orchestrator) terminateOne(agentID string) error {
	o.mu.Lock()
	ma, ok := o.agents[agentID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator: unknown agent %q", agentID)
	}
	if ma.agent.Status() == models.AgentTerminated {
		o.mu.Unlock()
		return nil
	}
	o.currentAgentCount--
	o.mu.Unlock()

	drained := ma.queue.drainAndClose()
	ma.agent.Cancel()
	for _, task := range drained {
		o.mu.Lock()
		task.State = models.TaskCancelled
		o.mu.Unlock()
		o.publishResult(task, &models.TaskResult{TaskID: task.ID, Success: false, Error: "agent terminated", CompletedAt: time.Now()})
	}

	ma.agent.SetStatus(models.AgentTerminated)
	o.emit(Event{Type: EventAgentTerminated, AgentID: agentID})
	return nil
}

// AgentStatusSnapshot is one row of ListAgentStatuses' result.
type AgentStatusSnapshot struct {
	AgentID string
	Name    string
	Status  models.AgentStatus
}

// ListAgentStatuses returns a point-in-time snapshot of every managed
// agent's status.
func (o *Orchestrator) ListAgentStatuses() []AgentStatusSnapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]AgentStatusSnapshot, 0, len(o.agents))
	for id, ma := range o.agents {
		out = append(out, AgentStatusSnapshot{AgentID: id, Name: ma.agent.Name, Status: ma.agent.Status()})
	}
	return out
}
