package domain

import (
	"time"

	"conductor/internal/agent/ports"
)

// Re-export the event contracts defined at the port layer.
type WorkflowEvent = ports.WorkflowEvent
type EventSink = ports.EventSink

// BaseEvent provides common fields for all events
type BaseEvent struct {
	timestamp  time.Time
	workflowID string
	taskID     string
}

func (e *BaseEvent) Timestamp() time.Time {
	return e.timestamp
}

func (e *BaseEvent) GetWorkflowID() string {
	return e.workflowID
}

func (e *BaseEvent) GetTaskID() string {
	return e.taskID
}

func newBaseEvent(workflowID, taskID string, ts time.Time) BaseEvent {
	return BaseEvent{
		timestamp:  ts,
		workflowID: workflowID,
		taskID:     taskID,
	}
}

// IterationStartEvent - emitted at start of each loop iteration
type IterationStartEvent struct {
	BaseEvent
	Iteration  int
	TotalIters int
}

func (e *IterationStartEvent) EventType() string { return "iteration_start" }

// ReasoningEvent - emitted when the provider exposes a reasoning channel
type ReasoningEvent struct {
	BaseEvent
	Iteration int
	Content   string
}

func (e *ReasoningEvent) EventType() string { return "reasoning" }

// AssistantMessageEvent - emitted when a provider response is received
type AssistantMessageEvent struct {
	BaseEvent
	Iteration     int
	Content       string
	ToolCallCount int
}

func (e *AssistantMessageEvent) EventType() string { return "assistant_message" }

// ToolCallStartEvent - emitted when tool execution begins
type ToolCallStartEvent struct {
	BaseEvent
	Iteration int
	CallID    string
	ToolName  string
	Arguments map[string]interface{}
}

func (e *ToolCallStartEvent) EventType() string { return "tool_call_start" }

// ToolCallCompleteEvent - emitted when tool execution finishes
type ToolCallCompleteEvent struct {
	BaseEvent
	CallID   string
	ToolName string
	Result   string
	Error    error
	Duration time.Duration
}

func (e *ToolCallCompleteEvent) EventType() string { return "tool_call_complete" }

// CorrectiveFeedbackEvent - emitted when malformed invocation markup is
// bounced back to the provider for another attempt
type CorrectiveFeedbackEvent struct {
	BaseEvent
	Iteration int
	Detail    string
}

func (e *CorrectiveFeedbackEvent) EventType() string { return "corrective_feedback" }

// SubAgentStartedEvent - emitted when a sub-execution is admitted
type SubAgentStartedEvent struct {
	BaseEvent
	SubExecutionID string
	AgentID        string
	Description    string
}

func (e *SubAgentStartedEvent) EventType() string { return "subagent_started" }

// NewSubAgentStartedEvent is used by the sub-agent layer, which cannot set
// the unexported base fields directly.
func NewSubAgentStartedEvent(workflowID, taskID, subExecutionID, agentID, description string, ts time.Time) *SubAgentStartedEvent {
	return &SubAgentStartedEvent{
		BaseEvent:      newBaseEvent(workflowID, taskID, ts),
		SubExecutionID: subExecutionID,
		AgentID:        agentID,
		Description:    description,
	}
}

// SubAgentCompletedEvent - emitted when a sub-execution finishes
type SubAgentCompletedEvent struct {
	BaseEvent
	SubExecutionID string
	AgentID        string
	Status         ReportStatus
	Duration       time.Duration
}

func (e *SubAgentCompletedEvent) EventType() string { return "subagent_completed" }

// NewSubAgentCompletedEvent mirrors NewSubAgentStartedEvent for completions.
func NewSubAgentCompletedEvent(workflowID, taskID, subExecutionID, agentID string, status ReportStatus, duration time.Duration, ts time.Time) *SubAgentCompletedEvent {
	return &SubAgentCompletedEvent{
		BaseEvent:      newBaseEvent(workflowID, taskID, ts),
		SubExecutionID: subExecutionID,
		AgentID:        agentID,
		Status:         status,
		Duration:       duration,
	}
}

// TaskCompleteEvent - emitted exactly once when an execution reaches a
// terminal state
type TaskCompleteEvent struct {
	BaseEvent
	Status     ReportStatus
	Content    string
	Error      string
	Iterations int
}

func (e *TaskCompleteEvent) EventType() string { return "task_complete" }

// NewTaskCompleteEvent is used by layers outside this package that cannot
// set the unexported base fields directly.
func NewTaskCompleteEvent(workflowID, taskID string, status ReportStatus, content, errMsg string, iterations int, ts time.Time) *TaskCompleteEvent {
	return &TaskCompleteEvent{
		BaseEvent:  newBaseEvent(workflowID, taskID, ts),
		Status:     status,
		Content:    content,
		Error:      errMsg,
		Iterations: iterations,
	}
}

// AwaitingConfirmationEvent - emitted when progress is blocked on a human
// decision; consumers must keep surfacing it until resolved
type AwaitingConfirmationEvent struct {
	BaseEvent
	Prompt string
}

func (e *AwaitingConfirmationEvent) EventType() string { return "awaiting_confirmation" }

// NewAwaitingConfirmationEvent is used by layers outside this package that
// cannot set the unexported base fields directly.
func NewAwaitingConfirmationEvent(workflowID, taskID, prompt string, ts time.Time) *AwaitingConfirmationEvent {
	return &AwaitingConfirmationEvent{
		BaseEvent: newBaseEvent(workflowID, taskID, ts),
		Prompt:    prompt,
	}
}
