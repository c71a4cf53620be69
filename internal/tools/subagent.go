package tools

import (
	"context"
	"fmt"
	"strings"

	"conductor/internal/agent/domain"
	"conductor/internal/agent/ports"
	"conductor/internal/subagent"
	id "conductor/internal/utils/id"
)

// DispatchToolName is the tool name primary agents use to delegate.
const DispatchToolName = "subagent"

// DispatchTool lets a primary agent hand work to sub-agents from inside its
// tool loop. One instance is scoped to one parent execution.
type DispatchTool struct {
	executor     *subagent.Executor
	parent       ports.AgentIdentity
	parentExecID string
	workflowID   string
}

// NewDispatchTool binds the dispatch tool to a parent execution.
func NewDispatchTool(executor *subagent.Executor, parent ports.AgentIdentity, parentExecID, workflowID string) *DispatchTool {
	return &DispatchTool{
		executor:     executor,
		parent:       parent,
		parentExecID: parentExecID,
		workflowID:   workflowID,
	}
}

func (t *DispatchTool) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name: DispatchToolName,
		Description: "Delegates a focused sub-task to a worker agent and returns its report. " +
			"Pass 'tasks' instead of 'task' to run up to three sub-tasks in parallel.",
		Parameters: ports.ToolParameters{
			Type: "object",
			Properties: map[string]ports.ToolParameter{
				"agent": {Type: "string", Description: "Identity id of the worker agent, e.g. researcher."},
				"task":  {Type: "string", Description: "Description of one sub-task."},
				"tasks": {Type: "array", Description: "Descriptions of sub-tasks to run in parallel."},
			},
			Required: []string{"agent"},
		},
	}
}

func (t *DispatchTool) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	agentID, _ := call.Arguments["agent"].(string)
	if agentID == "" {
		return nil, fmt.Errorf("agent argument is required")
	}

	if raw, ok := call.Arguments["tasks"].([]any); ok && len(raw) > 0 {
		return t.parallel(ctx, call, agentID, raw)
	}

	description, _ := call.Arguments["task"].(string)
	if description == "" {
		return nil, fmt.Errorf("task argument is required")
	}

	report, err := t.executor.Delegate(ctx, t.parent, t.parentExecID, agentID, t.newTask(description))
	if err != nil {
		return nil, err
	}
	return &ports.ToolResult{
		CallID:  call.ID,
		Content: renderReport(report),
		Metadata: map[string]any{
			"agent":  agentID,
			"status": string(report.Status),
		},
		SubCalls: []ports.SubCallRecord{subCallRecord(agentID, report)},
	}, nil
}

func (t *DispatchTool) parallel(ctx context.Context, call ports.ToolCall, agentID string, raw []any) (*ports.ToolResult, error) {
	specs := make([]subagent.TaskSpec, 0, len(raw))
	for _, entry := range raw {
		description, _ := entry.(string)
		if description == "" {
			return nil, fmt.Errorf("tasks entries must be non-empty strings")
		}
		specs = append(specs, subagent.TaskSpec{AgentID: agentID, Task: t.newTask(description)})
	}

	reports, err := t.executor.ParallelBatch(ctx, t.parent, t.parentExecID, specs)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	subCalls := make([]ports.SubCallRecord, 0, len(reports))
	for i, report := range reports {
		fmt.Fprintf(&b, "--- sub-task %d (%s) ---\n%s\n", i+1, report.Status, renderReport(report))
		subCalls = append(subCalls, subCallRecord(agentID, report))
	}
	return &ports.ToolResult{
		CallID:  call.ID,
		Content: b.String(),
		Metadata: map[string]any{
			"agent": agentID,
			"count": len(reports),
		},
		SubCalls: subCalls,
	}, nil
}

func subCallRecord(agentID string, report *domain.Report) ports.SubCallRecord {
	return ports.SubCallRecord{
		TaskID:   report.TaskID,
		AgentID:  agentID,
		Status:   string(report.Status),
		Duration: report.Metrics.Duration,
	}
}

func (t *DispatchTool) newTask(description string) domain.Task {
	return domain.Task{
		ID:          id.NewTaskID(),
		WorkflowID:  t.workflowID,
		Description: description,
	}
}

func renderReport(report *domain.Report) string {
	if report.Status == domain.StatusSuccess {
		return report.Content
	}
	return fmt.Sprintf("sub-task %s: %s", report.Status, report.ErrorMessage)
}
