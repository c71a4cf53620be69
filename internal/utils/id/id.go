package id

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type contextKey string

const (
	workflowKey contextKey = "conductor_workflow_id"
	taskKey     contextKey = "conductor_task_id"
	parentKey   contextKey = "conductor_parent_execution_id"
)

// NewWorkflowID returns an identifier for one top-level workflow.
func NewWorkflowID() string {
	return fmt.Sprintf("wf_%s", uuid.NewString())
}

// NewTaskID returns an identifier for a single task submission.
func NewTaskID() string {
	return fmt.Sprintf("task_%d_%s", time.Now().UnixMilli(), shortUUID())
}

// NewExecutionID returns an identifier for one execution record.
func NewExecutionID() string {
	return fmt.Sprintf("exec_%s", uuid.NewString())
}

// NewSubExecutionID returns an identifier for a spawned sub-execution.
func NewSubExecutionID() string {
	return fmt.Sprintf("sub_%s", shortUUID())
}

// NewCallID returns an identifier for one tool invocation.
func NewCallID(ordinal int) string {
	return fmt.Sprintf("call_%d_%s", ordinal, shortUUID())
}

func shortUUID() string {
	return uuid.NewString()[:8]
}

// WithWorkflowID stores the workflow identifier on the context.
func WithWorkflowID(ctx context.Context, workflowID string) context.Context {
	if workflowID == "" {
		return ctx
	}
	return context.WithValue(ctx, workflowKey, workflowID)
}

// WorkflowIDFromContext returns the workflow identifier, if any.
func WorkflowIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(workflowKey).(string); ok {
		return v
	}
	return ""
}

// WithTaskID stores the current task identifier on the context.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	if taskID == "" {
		return ctx
	}
	return context.WithValue(ctx, taskKey, taskID)
}

// TaskIDFromContext returns the task identifier, if any.
func TaskIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(taskKey).(string); ok {
		return v
	}
	return ""
}

// WithParentExecutionID stores the parent execution identifier on the context.
func WithParentExecutionID(ctx context.Context, executionID string) context.Context {
	if executionID == "" {
		return ctx
	}
	return context.WithValue(ctx, parentKey, executionID)
}

// ParentExecutionIDFromContext returns the parent execution identifier, if any.
func ParentExecutionIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(parentKey).(string); ok {
		return v
	}
	return ""
}
