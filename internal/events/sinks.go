package events

import "conductor/internal/agent/ports"

type listenerSink struct {
	listener ports.EventListener
}

func (s listenerSink) Emit(_ string, event ports.WorkflowEvent) {
	s.listener.OnEvent(event)
}

// ListenerSink adapts an EventListener to the EventSink contract.
func ListenerSink(listener ports.EventListener) ports.EventSink {
	return listenerSink{listener: listener}
}

type multiSink []ports.EventSink

func (s multiSink) Emit(workflowID string, event ports.WorkflowEvent) {
	for _, sink := range s {
		sink.Emit(workflowID, event)
	}
}

// MultiSink fans one emission out to several sinks, in order.
func MultiSink(sinks ...ports.EventSink) ports.EventSink {
	out := make(multiSink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			out = append(out, sink)
		}
	}
	return out
}
