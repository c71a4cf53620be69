package ports

import "time"

// WorkflowEvent represents a progress event emitted during execution.
type WorkflowEvent interface {
	EventType() string
	Timestamp() time.Time
	GetWorkflowID() string
	GetTaskID() string
}

// EventSink receives ordered progress events for a workflow. Emission is
// fire-and-forget; the consumer owns buffering and backpressure.
type EventSink interface {
	Emit(workflowID string, event WorkflowEvent)
}

// EventListener consumes events after the sink has ordered them.
type EventListener interface {
	OnEvent(event WorkflowEvent)
}

type nopSink struct{}

func (nopSink) Emit(string, WorkflowEvent) {}

// NopSink returns a sink that discards all events.
func NopSink() EventSink {
	return nopSink{}
}
