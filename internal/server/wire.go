package server

import (
	"time"

	"conductor/internal/agent/domain"
	"conductor/internal/agent/ports"
)

// encodeEvent flattens a domain event into the wire shape shared by the SSE
// and websocket endpoints.
func encodeEvent(event ports.WorkflowEvent) map[string]any {
	out := map[string]any{
		"type":        event.EventType(),
		"workflow_id": event.GetWorkflowID(),
		"task_id":     event.GetTaskID(),
		"timestamp":   event.Timestamp().Format(time.RFC3339Nano),
	}

	switch ev := event.(type) {
	case *domain.IterationStartEvent:
		out["iteration"] = ev.Iteration
		out["total_iterations"] = ev.TotalIters

	case *domain.ReasoningEvent:
		out["iteration"] = ev.Iteration
		out["content"] = ev.Content

	case *domain.AssistantMessageEvent:
		out["iteration"] = ev.Iteration
		out["content"] = ev.Content
		out["tool_call_count"] = ev.ToolCallCount

	case *domain.ToolCallStartEvent:
		out["iteration"] = ev.Iteration
		out["call_id"] = ev.CallID
		out["tool"] = ev.ToolName
		out["arguments"] = ev.Arguments

	case *domain.ToolCallCompleteEvent:
		out["call_id"] = ev.CallID
		out["tool"] = ev.ToolName
		out["result"] = ev.Result
		out["duration_ms"] = ev.Duration.Milliseconds()
		if ev.Error != nil {
			out["error"] = ev.Error.Error()
		}

	case *domain.CorrectiveFeedbackEvent:
		out["iteration"] = ev.Iteration
		out["detail"] = ev.Detail

	case *domain.SubAgentStartedEvent:
		out["sub_execution_id"] = ev.SubExecutionID
		out["agent_id"] = ev.AgentID
		out["description"] = ev.Description

	case *domain.SubAgentCompletedEvent:
		out["sub_execution_id"] = ev.SubExecutionID
		out["agent_id"] = ev.AgentID
		out["status"] = string(ev.Status)
		out["duration_ms"] = ev.Duration.Milliseconds()

	case *domain.TaskCompleteEvent:
		out["status"] = string(ev.Status)
		out["content"] = ev.Content
		out["iterations"] = ev.Iterations
		if ev.Error != "" {
			out["error"] = ev.Error
		}

	case *domain.AwaitingConfirmationEvent:
		out["prompt"] = ev.Prompt
	}

	return out
}
