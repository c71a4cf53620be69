package domain

import (
	"time"

	"conductor/internal/agent/ports"
)

// Task is one unit of work handed to an execution.
type Task struct {
	ID          string         `json:"id"`
	WorkflowID  string         `json:"workflow_id"`
	Description string         `json:"description"`
	Context     map[string]any `json:"context,omitempty"`
}

// ReportStatus classifies how an execution ended.
type ReportStatus string

const (
	StatusSuccess ReportStatus = "success"
	StatusFailed  ReportStatus = "failed"
	StatusPartial ReportStatus = "partial"
)

// Report is the terminal outcome of one execution. Run always returns a
// non-nil report, even on fatal errors, so callers never branch on nil.
type Report struct {
	TaskID       string       `json:"task_id"`
	Status       ReportStatus `json:"status"`
	Content      string       `json:"content"`
	ErrorMessage string       `json:"error_message,omitempty"`
	Metrics      Metrics      `json:"metrics"`
}

// Metrics aggregates resource use across an execution. ToolsUsed and
// SubCalls are the full trails, not counts.
type Metrics struct {
	Duration   time.Duration         `json:"duration"`
	Iterations int                   `json:"iterations"`
	TokensIn   int                   `json:"tokens_in"`
	TokensOut  int                   `json:"tokens_out"`
	ToolsUsed  []ToolCallRecord      `json:"tools_used"`
	SubCalls   []ports.SubCallRecord `json:"sub_calls"`
}

// ExecutionStatus tracks the lifecycle of an execution. Transitions are
// monotonic: Running is the only non-terminal state.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionError     ExecutionStatus = "error"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status can no longer change.
func (s ExecutionStatus) Terminal() bool {
	return s != ExecutionRunning
}

// Execution is the bookkeeping record for one running task.
type Execution struct {
	ID                string          `json:"id"`
	AgentID           string          `json:"agent_id"`
	ParentExecutionID string          `json:"parent_execution_id,omitempty"`
	TaskID            string          `json:"task_id"`
	WorkflowID        string          `json:"workflow_id"`
	Status            ExecutionStatus `json:"status"`
	StartedAt         time.Time       `json:"started_at"`
	CompletedAt       time.Time       `json:"completed_at,omitempty"`
}

// Record flattens the execution into a persistable payload. CompletedAt is
// only meaningful once the status is terminal.
func (e Execution) Record() map[string]any {
	payload := map[string]any{
		"execution_id": e.ID,
		"workflow_id":  e.WorkflowID,
		"task_id":      e.TaskID,
		"agent_id":     e.AgentID,
		"status":       string(e.Status),
		"started_at":   e.StartedAt.Format(time.RFC3339),
	}
	if e.Status.Terminal() {
		payload["completed_at"] = e.CompletedAt.Format(time.RFC3339)
	}
	if e.ParentExecutionID != "" {
		payload["parent_execution_id"] = e.ParentExecutionID
	}
	return payload
}

// ToolCallRecord captures one dispatched tool call for the report trail.
type ToolCallRecord struct {
	CallID    string        `json:"call_id"`
	Name      string        `json:"name"`
	Succeeded bool          `json:"succeeded"`
	Duration  time.Duration `json:"duration"`
}
