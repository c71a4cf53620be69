package registry

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"conductor/internal/agent/domain"
	"conductor/internal/agent/ports"
	"conductor/internal/logging"
)

const (
	// DefaultRetention keeps completed, unviewed workflow state around long
	// enough for the user to come back to it.
	DefaultRetention = 10 * time.Minute
	// completedCacheSize bounds how many finished workflows are retained.
	completedCacheSize = 128
)

// WorkflowStatus is the registry's view of a workflow lifecycle.
type WorkflowStatus string

const (
	WorkflowRunning              WorkflowStatus = "running"
	WorkflowCompleted            WorkflowStatus = "completed"
	WorkflowFailed               WorkflowStatus = "failed"
	WorkflowAwaitingConfirmation WorkflowStatus = "awaiting_confirmation"
)

// ToolActivity is one tool call observed on a workflow stream.
type ToolActivity struct {
	CallID   string        `json:"call_id"`
	Name     string        `json:"name"`
	Done     bool          `json:"done"`
	Failed   bool          `json:"failed"`
	Duration time.Duration `json:"duration,omitempty"`
}

// SubAgentActivity is one sub-execution observed on a workflow stream.
type SubAgentActivity struct {
	SubExecutionID string        `json:"sub_execution_id"`
	AgentID        string        `json:"agent_id"`
	Done           bool          `json:"done"`
	Status         string        `json:"status,omitempty"`
	Duration       time.Duration `json:"duration,omitempty"`
}

// WorkflowStreamState accumulates everything a catch-up view needs about one
// workflow, whether or not anyone was watching while it ran.
type WorkflowStreamState struct {
	WorkflowID       string             `json:"workflow_id"`
	Status           WorkflowStatus     `json:"status"`
	Content          string             `json:"content"`
	ErrorMessage     string             `json:"error_message,omitempty"`
	Tools            []ToolActivity     `json:"tools"`
	ReasoningSteps   []string           `json:"reasoning_steps"`
	SubAgents        []SubAgentActivity `json:"sub_agents"`
	PendingAttention bool               `json:"pending_attention"`
	ConfirmPrompt    string             `json:"confirm_prompt,omitempty"`
	StartedAt        time.Time          `json:"started_at"`
	CompletedAt      time.Time          `json:"completed_at,omitempty"`

	// rootTaskID pins the workflow's top-level task. Sub-task completions
	// share the workflow id and must not finish the whole workflow.
	rootTaskID string
}

// Notification is a user-facing signal about a background workflow.
type Notification struct {
	WorkflowID string
	Status     WorkflowStatus
	Message    string
	// Persistent notifications survive Drain until the workflow is viewed
	// or its confirmation resolved.
	Persistent bool
}

// BackgroundExecutionRegistry tracks workflows that run while the user looks
// elsewhere. At most one workflow is "viewed" (its events forwarded live);
// the rest accumulate state here for later catch-up.
type BackgroundExecutionRegistry struct {
	logger    logging.Logger
	clock     ports.Clock
	retention time.Duration

	mu        sync.RWMutex
	live      map[string]*WorkflowStreamState
	completed *lru.Cache[string, *WorkflowStreamState]
	viewedID  string
	viewer    func(ports.WorkflowEvent)

	notifyMu      sync.Mutex
	notifications []Notification
}

// Option tweaks registry construction.
type Option func(*BackgroundExecutionRegistry)

// WithRetention overrides the completed-workflow retention window.
func WithRetention(d time.Duration) Option {
	return func(r *BackgroundExecutionRegistry) { r.retention = d }
}

// WithClock injects a clock for tests.
func WithClock(clock ports.Clock) Option {
	return func(r *BackgroundExecutionRegistry) { r.clock = clock }
}

// New builds the registry.
func New(logger logging.Logger, opts ...Option) *BackgroundExecutionRegistry {
	completed, _ := lru.New[string, *WorkflowStreamState](completedCacheSize)
	r := &BackgroundExecutionRegistry{
		logger:    logging.OrNop(logger),
		clock:     ports.SystemClock(),
		retention: DefaultRetention,
		live:      make(map[string]*WorkflowStreamState),
		completed: completed,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register starts tracking a workflow.
func (r *BackgroundExecutionRegistry) Register(workflowID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[workflowID]; ok {
		return
	}
	r.live[workflowID] = &WorkflowStreamState{
		WorkflowID: workflowID,
		Status:     WorkflowRunning,
		StartedAt:  r.clock.Now(),
	}
	r.logger.Debug("registered workflow %s", workflowID)
}

// OnEvent folds one stream event into workflow state and forwards it live
// when the workflow is the viewed one. Implements ports.EventListener.
func (r *BackgroundExecutionRegistry) OnEvent(event ports.WorkflowEvent) {
	if event == nil {
		return
	}
	workflowID := event.GetWorkflowID()
	if workflowID == "" {
		return
	}

	r.mu.Lock()
	state, ok := r.live[workflowID]
	if !ok {
		state = &WorkflowStreamState{
			WorkflowID: workflowID,
			Status:     WorkflowRunning,
			StartedAt:  r.clock.Now(),
		}
		r.live[workflowID] = state
	}
	r.applyEvent(state, event)
	viewed := r.viewedID == workflowID
	viewer := r.viewer
	r.mu.Unlock()

	if viewed && viewer != nil {
		viewer(event)
	}
}

// applyEvent must be called with r.mu held.
func (r *BackgroundExecutionRegistry) applyEvent(state *WorkflowStreamState, event ports.WorkflowEvent) {
	// The first task seen on a workflow stream is its root task.
	if state.rootTaskID == "" {
		state.rootTaskID = event.GetTaskID()
	}

	switch ev := event.(type) {
	case *domain.ReasoningEvent:
		state.ReasoningSteps = append(state.ReasoningSteps, ev.Content)

	case *domain.AssistantMessageEvent:
		if ev.Content != "" {
			state.Content = ev.Content
		}

	case *domain.ToolCallStartEvent:
		state.Tools = append(state.Tools, ToolActivity{CallID: ev.CallID, Name: ev.ToolName})

	case *domain.ToolCallCompleteEvent:
		for i := range state.Tools {
			if state.Tools[i].CallID == ev.CallID {
				state.Tools[i].Done = true
				state.Tools[i].Failed = ev.Error != nil
				state.Tools[i].Duration = ev.Duration
				return
			}
		}
		state.Tools = append(state.Tools, ToolActivity{
			CallID: ev.CallID, Name: ev.ToolName, Done: true,
			Failed: ev.Error != nil, Duration: ev.Duration,
		})

	case *domain.SubAgentStartedEvent:
		state.SubAgents = append(state.SubAgents, SubAgentActivity{
			SubExecutionID: ev.SubExecutionID, AgentID: ev.AgentID,
		})

	case *domain.SubAgentCompletedEvent:
		for i := range state.SubAgents {
			if state.SubAgents[i].SubExecutionID == ev.SubExecutionID {
				state.SubAgents[i].Done = true
				state.SubAgents[i].Status = string(ev.Status)
				state.SubAgents[i].Duration = ev.Duration
				return
			}
		}

	case *domain.AwaitingConfirmationEvent:
		state.Status = WorkflowAwaitingConfirmation
		state.PendingAttention = true
		state.ConfirmPrompt = ev.Prompt
		r.pushNotification(Notification{
			WorkflowID: state.WorkflowID,
			Status:     WorkflowAwaitingConfirmation,
			Message:    ev.Prompt,
			Persistent: true,
		})

	case *domain.TaskCompleteEvent:
		if state.rootTaskID != "" && ev.GetTaskID() != state.rootTaskID {
			return
		}
		status := WorkflowCompleted
		if ev.Status != domain.StatusSuccess {
			status = WorkflowFailed
		}
		r.markComplete(state, status, ev.Content, ev.Error)
	}
}

// MarkComplete finishes a workflow explicitly, for callers that complete
// outside the event stream.
func (r *BackgroundExecutionRegistry) MarkComplete(workflowID string, status WorkflowStatus, content, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.live[workflowID]
	if !ok {
		return
	}
	r.markComplete(state, status, content, errMsg)
}

// markComplete must be called with r.mu held.
func (r *BackgroundExecutionRegistry) markComplete(state *WorkflowStreamState, status WorkflowStatus, content, errMsg string) {
	state.Status = status
	if content != "" {
		state.Content = content
	}
	state.ErrorMessage = errMsg
	state.CompletedAt = r.clock.Now()
	state.PendingAttention = false

	delete(r.live, state.WorkflowID)
	r.completed.Add(state.WorkflowID, state)
	if r.viewedID == state.WorkflowID {
		r.viewedID = ""
	}

	message := "workflow completed"
	if status == WorkflowFailed {
		message = "workflow failed: " + errMsg
	}
	// A resolved confirmation no longer needs its standing notification.
	r.dropNotifications(state.WorkflowID)
	r.pushNotification(Notification{WorkflowID: state.WorkflowID, Status: status, Message: message})
	r.logger.Info("workflow %s finished status=%s", state.WorkflowID, status)
}

// SetViewed marks one workflow as the live-viewed one, displacing any
// previous viewed workflow into the background. Viewing clears the
// workflow's pending-attention flag.
func (r *BackgroundExecutionRegistry) SetViewed(workflowID string, viewer func(ports.WorkflowEvent)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.viewedID = workflowID
	r.viewer = viewer
	if state, ok := r.live[workflowID]; ok && state.Status != WorkflowAwaitingConfirmation {
		state.PendingAttention = false
	}
	if state, ok := r.completed.Get(workflowID); ok {
		state.PendingAttention = false
	}
	r.dropNotifications(workflowID)
}

// ViewedWorkflow returns the currently viewed workflow id, if any.
func (r *BackgroundExecutionRegistry) ViewedWorkflow() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.viewedID
}

// GetState returns a copy of the workflow's accumulated state.
func (r *BackgroundExecutionRegistry) GetState(workflowID string) (WorkflowStreamState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if state, ok := r.live[workflowID]; ok {
		return copyState(state), true
	}
	if state, ok := r.completed.Get(workflowID); ok {
		return copyState(state), true
	}
	return WorkflowStreamState{}, false
}

// List returns state copies for every tracked workflow, live first.
func (r *BackgroundExecutionRegistry) List() []WorkflowStreamState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]WorkflowStreamState, 0, len(r.live)+r.completed.Len())
	for _, state := range r.live {
		out = append(out, copyState(state))
	}
	for _, key := range r.completed.Keys() {
		if state, ok := r.completed.Get(key); ok {
			out = append(out, copyState(state))
		}
	}
	return out
}

// Cleanup evicts completed workflows older than the retention window.
// Workflows still awaiting a confirmation are never evicted; their
// notification must survive until a human resolves it.
func (r *BackgroundExecutionRegistry) Cleanup() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	evicted := 0
	for _, key := range r.completed.Keys() {
		state, ok := r.completed.Get(key)
		if !ok {
			continue
		}
		if state.PendingAttention {
			continue
		}
		if now.Sub(state.CompletedAt) >= r.retention {
			r.completed.Remove(key)
			evicted++
		}
	}
	if evicted > 0 {
		r.logger.Debug("cleanup evicted %d completed workflows", evicted)
	}
	return evicted
}

// StartCleanupLoop runs Cleanup on an interval until stop is closed.
func (r *BackgroundExecutionRegistry) StartCleanupLoop(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Cleanup()
			case <-stop:
				return
			}
		}
	}()
}

// Drain returns pending notifications. Transient ones are consumed;
// persistent (awaiting-confirmation) ones are returned every time until the
// workflow is viewed or resolved.
func (r *BackgroundExecutionRegistry) Drain() []Notification {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	out := make([]Notification, len(r.notifications))
	copy(out, r.notifications)

	kept := r.notifications[:0]
	for _, n := range r.notifications {
		if n.Persistent {
			kept = append(kept, n)
		}
	}
	r.notifications = kept
	return out
}

func (r *BackgroundExecutionRegistry) pushNotification(n Notification) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	if n.Persistent {
		for _, existing := range r.notifications {
			if existing.Persistent && existing.WorkflowID == n.WorkflowID {
				return
			}
		}
	}
	r.notifications = append(r.notifications, n)
}

func (r *BackgroundExecutionRegistry) dropNotifications(workflowID string) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	kept := r.notifications[:0]
	for _, n := range r.notifications {
		if n.WorkflowID == workflowID {
			continue
		}
		kept = append(kept, n)
	}
	r.notifications = kept
}

func copyState(state *WorkflowStreamState) WorkflowStreamState {
	out := *state
	out.Tools = append([]ToolActivity(nil), state.Tools...)
	out.ReasoningSteps = append([]string(nil), state.ReasoningSteps...)
	out.SubAgents = append([]SubAgentActivity(nil), state.SubAgents...)
	return out
}
