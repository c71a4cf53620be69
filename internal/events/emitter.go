package events

import (
	"sync"

	"conductor/internal/agent/ports"
	"conductor/internal/async"
	"conductor/internal/logging"
)

const (
	// workflowQueueSize buffers the per-workflow ordering queue.
	workflowQueueSize = 256
	// subscriberBufferSize buffers each subscriber channel. A slow consumer
	// drops events rather than stalling the workflow.
	subscriberBufferSize = 64
	// maxHistory bounds per-workflow replay history.
	maxHistory = 1000
)

// StreamEmitter implements ports.EventSink with per-workflow ordering. Each
// workflow gets one queue drained by one goroutine, so subscribers observe
// events in exactly the order the engine emitted them. Ordering across
// different workflows is not defined.
type StreamEmitter struct {
	logger logging.Logger

	mu      sync.RWMutex
	streams map[string]*workflowStream
	// finished remembers torn-down workflows so a late Emit or Subscribe
	// never resurrects a stream.
	finished map[string]struct{}

	metricsMu sync.Mutex
	dropped   int64
	delivered int64
}

type workflowStream struct {
	queue chan ports.WorkflowEvent

	mu          sync.RWMutex
	subscribers []chan ports.WorkflowEvent
	history     []ports.WorkflowEvent
}

// NewStreamEmitter builds an emitter.
func NewStreamEmitter(logger logging.Logger) *StreamEmitter {
	return &StreamEmitter{
		logger:   logging.OrNop(logger),
		streams:  make(map[string]*workflowStream),
		finished: make(map[string]struct{}),
	}
}

// Emit enqueues an event for ordered delivery. Implements ports.EventSink.
// Emission never blocks the caller; a full queue drops the event and counts
// it.
func (e *StreamEmitter) Emit(workflowID string, event ports.WorkflowEvent) {
	if workflowID == "" || event == nil {
		return
	}
	stream := e.stream(workflowID)
	if stream == nil {
		return
	}
	select {
	case stream.queue <- event:
	default:
		e.countDrop()
		e.logger.Warn("workflow %s queue full, dropping %s", workflowID, event.EventType())
	}
}

// Subscribe returns a channel of events for the workflow, preceded by the
// workflow's history so late subscribers can replay. Subscribing to a
// workflow that was already torn down yields an immediately closed channel.
// Call the returned cancel function to unsubscribe.
func (e *StreamEmitter) Subscribe(workflowID string) (<-chan ports.WorkflowEvent, func()) {
	stream := e.stream(workflowID)
	ch := make(chan ports.WorkflowEvent, subscriberBufferSize)
	if stream == nil {
		close(ch)
		return ch, func() {}
	}

	stream.mu.Lock()
	replay := make([]ports.WorkflowEvent, len(stream.history))
	copy(replay, stream.history)
	stream.subscribers = append(stream.subscribers, ch)
	stream.mu.Unlock()

	for _, event := range replay {
		select {
		case ch <- event:
		default:
		}
	}

	cancel := func() {
		stream.mu.Lock()
		defer stream.mu.Unlock()
		for i, sub := range stream.subscribers {
			if sub == ch {
				stream.subscribers = append(stream.subscribers[:i], stream.subscribers[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

// History returns a copy of the workflow's retained events.
func (e *StreamEmitter) History(workflowID string) []ports.WorkflowEvent {
	e.mu.RLock()
	stream, ok := e.streams[workflowID]
	e.mu.RUnlock()
	if !ok {
		return nil
	}
	stream.mu.RLock()
	defer stream.mu.RUnlock()
	out := make([]ports.WorkflowEvent, len(stream.history))
	copy(out, stream.history)
	return out
}

// CloseWorkflow tears down a workflow's stream once no more events will come.
// Later Emits for the workflow are dropped and later Subscribes get a closed
// channel.
func (e *StreamEmitter) CloseWorkflow(workflowID string) {
	e.mu.Lock()
	stream, ok := e.streams[workflowID]
	delete(e.streams, workflowID)
	e.finished[workflowID] = struct{}{}
	e.mu.Unlock()
	if ok {
		close(stream.queue)
	}
}

// Dropped returns how many events were discarded under backpressure.
func (e *StreamEmitter) Dropped() int64 {
	e.metricsMu.Lock()
	defer e.metricsMu.Unlock()
	return e.dropped
}

// Delivered returns how many events reached at least the ordering stage.
func (e *StreamEmitter) Delivered() int64 {
	e.metricsMu.Lock()
	defer e.metricsMu.Unlock()
	return e.delivered
}

func (e *StreamEmitter) stream(workflowID string) *workflowStream {
	e.mu.RLock()
	stream, ok := e.streams[workflowID]
	_, finished := e.finished[workflowID]
	e.mu.RUnlock()
	if ok {
		return stream
	}
	if finished {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if stream, ok := e.streams[workflowID]; ok {
		return stream
	}
	if _, finished := e.finished[workflowID]; finished {
		return nil
	}
	stream = &workflowStream{queue: make(chan ports.WorkflowEvent, workflowQueueSize)}
	e.streams[workflowID] = stream
	async.Go(e.logger, "event-stream-"+workflowID, func() {
		e.drain(stream)
	})
	return stream
}

// drain is the single consumer for one workflow; it is what guarantees
// ordering.
func (e *StreamEmitter) drain(stream *workflowStream) {
	for event := range stream.queue {
		stream.mu.Lock()
		stream.history = append(stream.history, event)
		if len(stream.history) > maxHistory {
			stream.history = stream.history[len(stream.history)-maxHistory:]
		}
		subscribers := make([]chan ports.WorkflowEvent, len(stream.subscribers))
		copy(subscribers, stream.subscribers)
		stream.mu.Unlock()

		e.countDelivery()
		for _, sub := range subscribers {
			select {
			case sub <- event:
			default:
				e.countDrop()
			}
		}
	}

	stream.mu.Lock()
	for _, sub := range stream.subscribers {
		close(sub)
	}
	stream.subscribers = nil
	stream.mu.Unlock()
}

func (e *StreamEmitter) countDrop() {
	e.metricsMu.Lock()
	e.dropped++
	e.metricsMu.Unlock()
}

func (e *StreamEmitter) countDelivery() {
	e.metricsMu.Lock()
	e.delivered++
	e.metricsMu.Unlock()
}
