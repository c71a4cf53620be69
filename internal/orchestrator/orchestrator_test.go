package orchestrator_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"conductor/internal/agent/domain"
	"conductor/internal/agent/ports"
	"conductor/internal/agent/ports/mocks"
	"conductor/internal/config"
	conderr "conductor/internal/errors"
	"conductor/internal/identity"
	"conductor/internal/orchestrator"
	"conductor/internal/parser"
	"conductor/internal/registry"
	"conductor/internal/tools"
)

func testConfig() *config.Config {
	return &config.Config{
		Provider: config.ProviderConfig{Temp: 0.2, Tokens: 1024},
		Engine: config.EngineConfig{
			MaxIterations:     10,
			InactivityTimeout: 30,
			HeartbeatPoll:     1,
			MaxSubAgents:      3,
			BreakerThreshold:  3,
			BreakerCooldown:   60,
		},
	}
}

func newTestOrchestrator(t *testing.T, provider ports.ReasoningProvider, mode ports.PolicyMode) (*orchestrator.Orchestrator, *mocks.MemoryStore) {
	t.Helper()
	store := &mocks.MemoryStore{}
	return orchestrator.New(testConfig(), orchestrator.Deps{
		Provider:   provider,
		Parser:     parser.New(),
		Tools:      tools.NewRegistry(nil),
		Store:      store,
		Identities: identity.NewRegistry(nil),
		Policy:     ports.StaticPolicy(mode),
	}), store
}

func TestRunWorkflow_FinalAnswer(t *testing.T) {
	provider := mocks.ScriptedProvider(
		&ports.CompletionResponse{Content: "All done.", StopReason: "stop"},
	)
	orch, store := newTestOrchestrator(t, provider, ports.ModePermissive)

	report, err := orch.RunWorkflow(context.Background(), "summarize the quarterly numbers")
	if err != nil {
		t.Fatalf("RunWorkflow: %v", err)
	}
	if report.Status != domain.StatusSuccess {
		t.Errorf("status = %s, want success", report.Status)
	}
	if report.Content != "All done." {
		t.Errorf("content = %q", report.Content)
	}
	if orch.Gate().Active() != 0 {
		t.Errorf("gate not released, active=%d", orch.Gate().Active())
	}
	if store.KindCount(ports.RecordKindExecution) != 1 {
		t.Errorf("expected one execution record, got %d", store.KindCount(ports.RecordKindExecution))
	}
	if store.KindCount(ports.RecordKindReport) != 1 {
		t.Errorf("expected one report record, got %d", store.KindCount(ports.RecordKindReport))
	}
}

func TestRunWorkflow_PrimaryDispatchesSubAgent(t *testing.T) {
	// Turn one delegates, turn two is the sub-agent answering, turn three is
	// the primary folding the sub-result into a final answer.
	provider := mocks.ScriptedProvider(
		&ports.CompletionResponse{Content: `<tool_call>{"name":"subagent","args":{"agent":"researcher","task":"find the figure"}}</tool_call>`},
		&ports.CompletionResponse{Content: "The figure is 7,421."},
		&ports.CompletionResponse{Content: "Based on the research, the figure is 7,421."},
	)
	orch, store := newTestOrchestrator(t, provider, ports.ModePermissive)

	report, err := orch.RunWorkflow(context.Background(), "dig up the figure")
	if err != nil {
		t.Fatalf("RunWorkflow: %v", err)
	}
	if report.Status != domain.StatusSuccess {
		t.Fatalf("status = %s (%s)", report.Status, report.ErrorMessage)
	}
	if !strings.Contains(report.Content, "7,421") {
		t.Errorf("final answer lost the sub-result: %q", report.Content)
	}
	if provider.CallCount() != 3 {
		t.Errorf("provider consulted %d times, want 3", provider.CallCount())
	}
	if len(report.Metrics.SubCalls) != 1 || report.Metrics.SubCalls[0].AgentID != "researcher" {
		t.Errorf("sub-call metrics missing or wrong: %+v", report.Metrics.SubCalls)
	}
	if len(report.Metrics.ToolsUsed) != 1 || report.Metrics.ToolsUsed[0].Name != "subagent" {
		t.Errorf("dispatch missing from tool trail: %+v", report.Metrics.ToolsUsed)
	}
	// Primary and sub-agent each persist an execution record.
	if store.KindCount(ports.RecordKindExecution) != 2 {
		t.Errorf("execution records = %d, want 2", store.KindCount(ports.RecordKindExecution))
	}
}

func TestRunWorkflow_SubAgentEventsReachBackgroundState(t *testing.T) {
	provider := mocks.ScriptedProvider(
		&ports.CompletionResponse{Content: `<tool_call>{"name":"subagent","args":{"agent":"researcher","task":"check the cache"}}</tool_call>`},
		&ports.CompletionResponse{Content: "Cache is warm."},
		&ports.CompletionResponse{Content: "Everything checks out."},
	)
	orch, _ := newTestOrchestrator(t, provider, ports.ModePermissive)

	if _, err := orch.RunWorkflow(context.Background(), "verify the cache"); err != nil {
		t.Fatalf("RunWorkflow: %v", err)
	}

	states := orch.Background().List()
	if len(states) != 1 {
		t.Fatalf("background states = %d, want 1", len(states))
	}
	state := states[0]
	if state.Status != registry.WorkflowCompleted {
		t.Errorf("state status = %s", state.Status)
	}
	if len(state.SubAgents) != 1 {
		t.Fatalf("sub-agent activity entries = %d, want 1", len(state.SubAgents))
	}
	if state.SubAgents[0].AgentID != "researcher" {
		t.Errorf("sub-agent id = %q", state.SubAgents[0].AgentID)
	}
}

func TestRunWorkflow_WorkerIdentityHasNoDispatchTool(t *testing.T) {
	var subRequests []ports.CompletionRequest
	var mu sync.Mutex
	turn := 0
	provider := &mocks.MockProvider{
		CompleteFunc: func(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
			mu.Lock()
			defer mu.Unlock()
			turn++
			switch turn {
			case 1:
				// Primary delegates to the researcher.
				return &ports.CompletionResponse{Content: `<tool_call>{"name":"subagent","args":{"agent":"researcher","task":"go deeper"}}</tool_call>`}, nil
			case 2:
				// The researcher tries to fan out again; the tool must not exist.
				return &ports.CompletionResponse{Content: `<tool_call>{"name":"subagent","args":{"agent":"executor","task":"even deeper"}}</tool_call>`}, nil
			case 3:
				subRequests = append(subRequests, req)
				return &ports.CompletionResponse{Content: "Could not go deeper, here is what I have."}, nil
			default:
				return &ports.CompletionResponse{Content: "Final."}, nil
			}
		},
	}
	orch, _ := newTestOrchestrator(t, provider, ports.ModePermissive)

	report, err := orch.RunWorkflow(context.Background(), "nest as far as possible")
	if err != nil {
		t.Fatalf("RunWorkflow: %v", err)
	}
	if report.Status != domain.StatusSuccess {
		t.Fatalf("status = %s (%s)", report.Status, report.ErrorMessage)
	}
	if len(subRequests) != 1 {
		t.Fatalf("expected the researcher to get a tool-failure turn")
	}
	last := subRequests[0].Messages[len(subRequests[0].Messages)-1]
	if last.Role != "tool" || !strings.Contains(last.Content, "failed") {
		t.Errorf("researcher's dispatch attempt should fail as an unknown tool, got %q: %q", last.Role, last.Content)
	}
}

func TestStartWorkflow_AdmissionAndRelease(t *testing.T) {
	release := make(chan struct{})
	provider := &mocks.MockProvider{
		CompleteFunc: func(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
			<-release
			return &ports.CompletionResponse{Content: "Done."}, nil
		},
	}
	orch, _ := newTestOrchestrator(t, provider, ports.ModePermissive)

	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		id, err := orch.StartWorkflow(context.Background(), "long running work")
		if err != nil {
			t.Fatalf("workflow %d rejected: %v", i, err)
		}
		ids = append(ids, id)
	}

	if _, err := orch.StartWorkflow(context.Background(), "one too many"); err == nil {
		t.Fatal("fourth concurrent workflow must be rejected")
	} else {
		var rejected *conderr.AdmissionRejected
		if !errors.As(err, &rejected) {
			t.Fatalf("unexpected rejection type: %v", err)
		}
	}

	close(release)
	waitFor(t, func() bool { return orch.Gate().Active() == 0 })

	for _, id := range ids {
		state, ok := orch.Background().GetState(id)
		if !ok {
			t.Errorf("workflow %s vanished from background registry", id)
			continue
		}
		if state.Status != registry.WorkflowCompleted {
			t.Errorf("workflow %s status = %s", id, state.Status)
		}
	}
}

func TestStartWorkflow_ConfirmationModePinsToOne(t *testing.T) {
	release := make(chan struct{})
	provider := &mocks.MockProvider{
		CompleteFunc: func(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
			<-release
			return &ports.CompletionResponse{Content: "Done."}, nil
		},
	}
	orch, _ := newTestOrchestrator(t, provider, ports.ModeConfirmationRequired)
	defer close(release)

	if _, err := orch.StartWorkflow(context.Background(), "first"); err != nil {
		t.Fatalf("first workflow rejected: %v", err)
	}
	if _, err := orch.StartWorkflow(context.Background(), "second"); err == nil {
		t.Fatal("confirmation mode must pin concurrency to one")
	}
}

func TestStartWorkflow_DiscardsTemporaryIdentitiesOnTeardown(t *testing.T) {
	release := make(chan struct{})
	provider := &mocks.MockProvider{
		CompleteFunc: func(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
			<-release
			return &ports.CompletionResponse{Content: "Done."}, nil
		},
	}
	identities := identity.NewRegistry(nil)
	orch := orchestrator.New(testConfig(), orchestrator.Deps{
		Provider:   provider,
		Parser:     parser.New(),
		Tools:      tools.NewRegistry(nil),
		Store:      &mocks.MemoryStore{},
		Identities: identities,
		Policy:     ports.StaticPolicy(ports.ModePermissive),
	})

	id, err := orch.StartWorkflow(context.Background(), "work with a one-off helper")
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}
	identities.Register(ports.AgentIdentity{
		ID:              "scratch",
		Lifecycle:       ports.LifecycleTemporary,
		OwnerWorkflowID: id,
	})

	close(release)
	waitFor(t, func() bool { return orch.Gate().Active() == 0 })
	waitFor(t, func() bool {
		_, err := identities.Resolve("scratch")
		return err != nil
	})
	if _, err := identities.Resolve("conductor"); err != nil {
		t.Errorf("permanent identity must survive teardown: %v", err)
	}
}

func TestExecute_UnknownIdentity(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &mocks.MockProvider{}, ports.ModePermissive)

	task := domain.Task{ID: "task_x", WorkflowID: "wf_x", Description: "anything"}
	report, err := orch.Execute(context.Background(), "nonexistent", task)
	if err == nil {
		t.Fatal("unknown identity must error")
	}
	if report == nil || report.Status != domain.StatusFailed {
		t.Fatalf("report must be failed, got %+v", report)
	}
}

func TestStartWorkflow_SurvivesCallerContextCancel(t *testing.T) {
	started := make(chan struct{}, 1)
	provider := &mocks.MockProvider{
		CompleteFunc: func(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
			select {
			case started <- struct{}{}:
			default:
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return &ports.CompletionResponse{Content: "Finished after caller left."}, nil
		},
	}
	orch, _ := newTestOrchestrator(t, provider, ports.ModePermissive)

	ctx, cancel := context.WithCancel(context.Background())
	id, err := orch.StartWorkflow(ctx, "background job")
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}
	<-started
	cancel()

	waitFor(t, func() bool {
		state, ok := orch.Background().GetState(id)
		return ok && state.Status == registry.WorkflowCompleted
	})
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
	t.Fatal("condition not met in time")
}
