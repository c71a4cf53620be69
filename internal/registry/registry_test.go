package registry

import (
	"errors"
	"sync"
	"testing"
	"time"

	"conductor/internal/agent/domain"
	"conductor/internal/agent/ports"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func awaitingConfirmation(workflowID, prompt string) ports.WorkflowEvent {
	return domain.NewAwaitingConfirmationEvent(workflowID, "", prompt, time.Now())
}

func TestRegistry_AccumulatesStreamState(t *testing.T) {
	r := New(nil)
	r.Register("wf_1")

	r.OnEvent(domain.NewSubAgentStartedEvent("wf_1", "t1", "sub_1", "worker", "fetch data", time.Now()))
	r.OnEvent(domain.NewSubAgentCompletedEvent("wf_1", "t1", "sub_1", "worker", domain.StatusSuccess, time.Second, time.Now()))

	state, ok := r.GetState("wf_1")
	if !ok {
		t.Fatal("workflow state missing")
	}
	if state.Status != WorkflowRunning {
		t.Errorf("expected running, got %s", state.Status)
	}
	if len(state.SubAgents) != 1 || !state.SubAgents[0].Done || state.SubAgents[0].Status != "success" {
		t.Errorf("sub-agent activity not folded: %+v", state.SubAgents)
	}
}

func TestRegistry_SubTaskCompletionDoesNotFinishWorkflow(t *testing.T) {
	r := New(nil)
	r.Register("wf_1")

	// Root task announces itself first.
	r.OnEvent(domain.NewSubAgentStartedEvent("wf_1", "t_root", "sub_1", "worker", "dig", time.Now()))
	// The sub-task's own terminal event shares the workflow id.
	r.OnEvent(domain.NewTaskCompleteEvent("wf_1", "t_sub", domain.StatusSuccess, "partial", "", 2, time.Now()))

	state, ok := r.GetState("wf_1")
	if !ok {
		t.Fatal("workflow state missing")
	}
	if state.Status != WorkflowRunning {
		t.Fatalf("sub-task completion must not finish the workflow, got %s", state.Status)
	}

	r.OnEvent(domain.NewTaskCompleteEvent("wf_1", "t_root", domain.StatusSuccess, "final", "", 5, time.Now()))
	state, _ = r.GetState("wf_1")
	if state.Status != WorkflowCompleted || state.Content != "final" {
		t.Errorf("root completion must finish the workflow: %+v", state)
	}
}

func TestRegistry_CompletionMovesToCacheAndNotifies(t *testing.T) {
	r := New(nil)
	r.Register("wf_1")

	r.MarkComplete("wf_1", WorkflowCompleted, "all done", "")

	state, ok := r.GetState("wf_1")
	if !ok {
		t.Fatal("completed workflow must remain queryable")
	}
	if state.Status != WorkflowCompleted || state.Content != "all done" {
		t.Errorf("unexpected state: %+v", state)
	}

	notes := r.Drain()
	if len(notes) != 1 || notes[0].Status != WorkflowCompleted {
		t.Fatalf("expected one completion notification, got %v", notes)
	}
	// Transient notifications are consumed by a drain.
	if len(r.Drain()) != 0 {
		t.Error("completion notification must not repeat")
	}
}

func TestRegistry_AwaitingConfirmationNotificationPersists(t *testing.T) {
	r := New(nil)
	r.Register("wf_1")

	r.OnEvent(awaitingConfirmation("wf_1", "approve the deploy?"))

	for i := 0; i < 3; i++ {
		notes := r.Drain()
		if len(notes) != 1 || !notes[0].Persistent {
			t.Fatalf("drain %d: expected the standing confirmation notification, got %v", i, notes)
		}
	}

	// Viewing the workflow resolves the standing notification.
	r.SetViewed("wf_1", nil)
	if notes := r.Drain(); len(notes) != 0 {
		t.Fatalf("viewed workflow must clear its notification, got %v", notes)
	}
}

func TestRegistry_CleanupRespectsRetentionAndAttention(t *testing.T) {
	clock := newFakeClock()
	r := New(nil, WithClock(clock), WithRetention(10*time.Minute))

	r.Register("wf_old")
	r.MarkComplete("wf_old", WorkflowCompleted, "done", "")

	r.Register("wf_fresh")

	clock.Advance(11 * time.Minute)
	r.MarkComplete("wf_fresh", WorkflowCompleted, "done", "")

	if evicted := r.Cleanup(); evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", evicted)
	}
	if _, ok := r.GetState("wf_old"); ok {
		t.Error("stale workflow should be evicted")
	}
	if _, ok := r.GetState("wf_fresh"); !ok {
		t.Error("fresh workflow must survive cleanup")
	}
}

func TestRegistry_OnlyOneViewedWorkflow(t *testing.T) {
	r := New(nil)
	r.Register("wf_1")
	r.Register("wf_2")

	var forwarded []string
	r.SetViewed("wf_1", func(ev ports.WorkflowEvent) {
		forwarded = append(forwarded, ev.GetWorkflowID())
	})
	if r.ViewedWorkflow() != "wf_1" {
		t.Fatalf("expected wf_1 viewed, got %s", r.ViewedWorkflow())
	}

	r.OnEvent(awaitingConfirmation("wf_2", "x"))
	if len(forwarded) != 0 {
		t.Error("background workflow events must not be forwarded")
	}

	r.SetViewed("wf_2", func(ev ports.WorkflowEvent) {
		forwarded = append(forwarded, ev.GetWorkflowID())
	})
	if r.ViewedWorkflow() != "wf_2" {
		t.Fatalf("viewing wf_2 must displace wf_1, got %s", r.ViewedWorkflow())
	}
	r.OnEvent(awaitingConfirmation("wf_2", "y"))
	if len(forwarded) != 1 || forwarded[0] != "wf_2" {
		t.Errorf("viewed workflow events must be forwarded, got %v", forwarded)
	}
}

func TestRegistry_FailureNotificationCarriesError(t *testing.T) {
	r := New(nil)
	r.Register("wf_1")

	cause := errors.New("provider unreachable")
	r.MarkComplete("wf_1", WorkflowFailed, "", cause.Error())

	notes := r.Drain()
	if len(notes) != 1 || notes[0].Status != WorkflowFailed {
		t.Fatalf("expected failure notification, got %v", notes)
	}
	if notes[0].Message != "workflow failed: provider unreachable" {
		t.Errorf("unexpected message: %q", notes[0].Message)
	}
}
