package events

import (
	"testing"
	"time"

	"conductor/internal/agent/domain"
	"conductor/internal/agent/ports"
)

func emitTestEvents(e *StreamEmitter, workflowID string, n int) {
	for i := 0; i < n; i++ {
		e.Emit(workflowID, &domain.IterationStartEvent{Iteration: i + 1, TotalIters: n})
	}
}

func collect(ch <-chan ports.WorkflowEvent, n int, t *testing.T) []ports.WorkflowEvent {
	t.Helper()
	var out []ports.WorkflowEvent
	deadline := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for %d events, got %d", n, len(out))
		}
	}
	return out
}

func TestStreamEmitter_OrderPreservedPerWorkflow(t *testing.T) {
	e := NewStreamEmitter(nil)
	ch, cancel := e.Subscribe("wf_1")
	defer cancel()

	const n = 50
	emitTestEvents(e, "wf_1", n)

	received := collect(ch, n, t)
	for i, ev := range received {
		iter := ev.(*domain.IterationStartEvent)
		if iter.Iteration != i+1 {
			t.Fatalf("event %d out of order: iteration %d", i, iter.Iteration)
		}
	}
}

func TestStreamEmitter_LateSubscriberGetsHistory(t *testing.T) {
	e := NewStreamEmitter(nil)

	emitTestEvents(e, "wf_1", 5)

	// Let the drain goroutine record history before subscribing.
	waitFor(t, func() bool { return len(e.History("wf_1")) == 5 })

	ch, cancel := e.Subscribe("wf_1")
	defer cancel()

	received := collect(ch, 5, t)
	for i, ev := range received {
		if ev.(*domain.IterationStartEvent).Iteration != i+1 {
			t.Fatalf("replay out of order at %d", i)
		}
	}
}

func TestStreamEmitter_WorkflowsAreIsolated(t *testing.T) {
	e := NewStreamEmitter(nil)
	ch1, cancel1 := e.Subscribe("wf_1")
	defer cancel1()
	ch2, cancel2 := e.Subscribe("wf_2")
	defer cancel2()

	emitTestEvents(e, "wf_1", 3)
	emitTestEvents(e, "wf_2", 2)

	if got := len(collect(ch1, 3, t)); got != 3 {
		t.Errorf("wf_1 expected 3 events, got %d", got)
	}
	if got := len(collect(ch2, 2, t)); got != 2 {
		t.Errorf("wf_2 expected 2 events, got %d", got)
	}
	select {
	case ev := <-ch1:
		t.Errorf("wf_1 received stray event %v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestStreamEmitter_CloseWorkflowClosesSubscribers(t *testing.T) {
	e := NewStreamEmitter(nil)
	ch, _ := e.Subscribe("wf_1")

	emitTestEvents(e, "wf_1", 2)
	collect(ch, 2, t)

	e.CloseWorkflow("wf_1")

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel close, got event")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber channel never closed")
	}
}

func TestStreamEmitter_SubscribeAfterCloseGetsClosedChannel(t *testing.T) {
	e := NewStreamEmitter(nil)

	emitTestEvents(e, "wf_1", 1)
	e.CloseWorkflow("wf_1")

	// A consumer subscribing after teardown must see a closed channel,
	// never a fresh stream that hangs it forever.
	ch, cancel := e.Subscribe("wf_1")
	defer cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel, got event")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber channel on a finished workflow never closed")
	}
}

func TestStreamEmitter_EmitAfterCloseDoesNotResurrectStream(t *testing.T) {
	e := NewStreamEmitter(nil)

	emitTestEvents(e, "wf_1", 1)
	e.CloseWorkflow("wf_1")

	emitTestEvents(e, "wf_1", 1)

	if got := e.History("wf_1"); got != nil {
		t.Errorf("emit after close must be dropped, found %d history events", len(got))
	}

	ch, cancel := e.Subscribe("wf_1")
	defer cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("resurrected stream delivered an event after close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber channel on a finished workflow never closed")
	}
}

func TestStreamEmitter_UnsubscribeStopsDelivery(t *testing.T) {
	e := NewStreamEmitter(nil)
	ch, cancel := e.Subscribe("wf_1")
	cancel()

	emitTestEvents(e, "wf_1", 1)

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("cancelled subscriber must not receive events")
		}
	case <-time.After(50 * time.Millisecond):
		t.Error("cancel should close the channel")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}
