package orchestrator

import (
	"context"
	"time"

	"conductor/internal/agent/domain"
	"conductor/internal/agent/ports"
	"conductor/internal/async"
	"conductor/internal/config"
	conderr "conductor/internal/errors"
	"conductor/internal/events"
	"conductor/internal/gate"
	"conductor/internal/logging"
	"conductor/internal/observability"
	"conductor/internal/registry"
	"conductor/internal/subagent"
	"conductor/internal/tools"
	id "conductor/internal/utils/id"
)

// PrimaryAgentID is the identity every workflow starts under.
const PrimaryAgentID = "conductor"

// Deps are the injected collaborators. Tests swap in mocks; production
// wiring builds them from config.
type Deps struct {
	Provider   ports.ReasoningProvider
	Parser     ports.FunctionCallParser
	Tools      *tools.Registry
	Store      ports.Store
	Identities ports.IdentityRegistry
	Estimator  ports.TokenEstimator
	Policy     ports.PolicyProvider
	Metrics    *observability.EngineMetrics
	Logger     logging.Logger
	Clock      ports.Clock
}

// Orchestrator owns workflow lifecycle: admission, identity resolution,
// supervised execution, event streaming and background tracking.
type Orchestrator struct {
	cfg    config.EngineConfig
	loop   domain.LoopConfig
	logger logging.Logger
	clock  ports.Clock

	provider   ports.ReasoningProvider
	parser     ports.FunctionCallParser
	toolBase   *tools.Registry
	store      ports.Store
	identities ports.IdentityRegistry
	estimator  ports.TokenEstimator
	metrics    *observability.EngineMetrics

	emitter    *events.StreamEmitter
	background *registry.BackgroundExecutionRegistry
	gate       *gate.ConcurrencyGate
	executor   *subagent.Executor
	sink       ports.EventSink
}

// New wires an orchestrator from config and dependencies.
func New(cfg *config.Config, deps Deps) *Orchestrator {
	logger := logging.OrNop(deps.Logger)
	clock := deps.Clock
	if clock == nil {
		clock = ports.SystemClock()
	}

	o := &Orchestrator{
		cfg: cfg.Engine,
		loop: domain.LoopConfig{
			MaxIterations: cfg.Engine.MaxIterations,
			Temperature:   cfg.Provider.Temp,
			MaxTokens:     cfg.Provider.Tokens,
			Logger:        logger,
			Clock:         clock,
		},
		logger:     logger,
		clock:      clock,
		provider:   deps.Provider,
		parser:     deps.Parser,
		toolBase:   deps.Tools,
		store:      deps.Store,
		identities: deps.Identities,
		estimator:  deps.Estimator,
		metrics:    deps.Metrics,
		emitter:    events.NewStreamEmitter(logger),
		background: registry.New(logger),
		gate:       gate.New(deps.Policy, logger),
	}

	o.sink = events.MultiSink(o.emitter, events.ListenerSink(o.background))

	breakers := conderr.NewCircuitBreakerManager(conderr.CircuitBreakerConfig{
		FailureThreshold: cfg.Engine.BreakerThreshold,
		Cooldown:         cfg.Engine.BreakerCooldownDuration(),
		OnStateChange: func(_, to conderr.CircuitState, name string) {
			deps.Metrics.SetCircuitState(name, int(to))
		},
	})

	o.executor = subagent.NewExecutor(subagent.Config{
		MaxSubAgents:      cfg.Engine.MaxSubAgents,
		InactivityTimeout: cfg.Engine.InactivityTimeoutDuration(),
		HeartbeatPoll:     cfg.Engine.HeartbeatPollDuration(),
		Logger:            logger,
		Clock:             clock,
	}, subagent.RunnerFunc(o.runTask), deps.Identities, breakers, o.sink)

	return o
}

// Events exposes the stream emitter for transports (SSE, websocket, CLI).
func (o *Orchestrator) Events() *events.StreamEmitter { return o.emitter }

// Background exposes the background workflow registry.
func (o *Orchestrator) Background() *registry.BackgroundExecutionRegistry { return o.background }

// Gate exposes the workflow admission gate.
func (o *Orchestrator) Gate() *gate.ConcurrencyGate { return o.gate }

// StartWorkflow admits and launches a workflow asynchronously, returning its
// id immediately. Events stream through Events(); final state lands in
// Background().
func (o *Orchestrator) StartWorkflow(ctx context.Context, description string) (string, error) {
	workflowID := id.NewWorkflowID()
	if err := o.gate.Register(workflowID); err != nil {
		o.metrics.ObserveAdmissionDenied("workflows")
		return "", err
	}
	o.metrics.SetActiveWorkflows(o.gate.Active())
	o.background.Register(workflowID)

	task := domain.Task{
		ID:          id.NewTaskID(),
		WorkflowID:  workflowID,
		Description: description,
	}

	// The workflow outlives the request that started it.
	runCtx := id.WithWorkflowID(context.WithoutCancel(ctx), workflowID)
	async.Go(o.logger, "workflow-"+workflowID, func() {
		defer func() {
			o.gate.Release(workflowID)
			o.metrics.SetActiveWorkflows(o.gate.Active())
			o.identities.RemoveTemporary(workflowID)
			o.emitter.CloseWorkflow(workflowID)
		}()
		if _, err := o.Execute(runCtx, PrimaryAgentID, task); err != nil {
			o.logger.Warn("workflow %s ended with error: %v", workflowID, err)
		}
	})
	return workflowID, nil
}

// RunWorkflow admits and runs a workflow synchronously, for CLI use.
func (o *Orchestrator) RunWorkflow(ctx context.Context, description string) (*domain.Report, error) {
	workflowID := id.NewWorkflowID()
	if err := o.gate.Register(workflowID); err != nil {
		o.metrics.ObserveAdmissionDenied("workflows")
		return nil, err
	}
	o.metrics.SetActiveWorkflows(o.gate.Active())
	o.background.Register(workflowID)
	defer func() {
		o.gate.Release(workflowID)
		o.metrics.SetActiveWorkflows(o.gate.Active())
		o.identities.RemoveTemporary(workflowID)
		o.emitter.CloseWorkflow(workflowID)
	}()

	task := domain.Task{
		ID:          id.NewTaskID(),
		WorkflowID:  workflowID,
		Description: description,
	}
	return o.Execute(id.WithWorkflowID(ctx, workflowID), PrimaryAgentID, task)
}

// Execute resolves the identity and runs the task under heartbeat
// supervision and circuit breaking. The returned report is never nil.
func (o *Orchestrator) Execute(ctx context.Context, agentID string, task domain.Task) (*domain.Report, error) {
	identity, err := o.identities.Resolve(agentID)
	if err != nil {
		return &domain.Report{
			TaskID:       task.ID,
			Status:       domain.StatusFailed,
			ErrorMessage: err.Error(),
		}, err
	}

	report, err := o.executor.ExecuteWithHeartbeat(ctx, task, identity)
	o.metrics.ObserveExecution(string(report.Status), report.Metrics.Iterations,
		report.Metrics.TokensIn, report.Metrics.TokensOut)
	return report, err
}

// runTask is the subagent.Runner: it assembles a per-execution loop with the
// right tool surface and activity sink.
func (o *Orchestrator) runTask(ctx context.Context, task domain.Task, identity ports.AgentIdentity, activity ports.ActivitySink) (*domain.Report, error) {
	execID := id.NewExecutionID()
	started := o.clock.Now()

	ctx, span := observability.StartExecutionSpan(ctx, task.WorkflowID, task.ID, identity.ID)
	defer span.End()

	toolset := o.toolBase
	if identity.Primary {
		// Only primary identities may fan work out to sub-agents.
		toolset = o.toolBase.With(tools.NewDispatchTool(o.executor, identity, execID, task.WorkflowID))
	}

	loop := domain.NewToolCallLoop(o.loop, domain.Services{
		Provider:  o.provider,
		Parser:    o.parser,
		Tools:     measuredTools{inner: toolset, metrics: o.metrics},
		Store:     o.store,
		Events:    o.sink,
		Activity:  activity,
		Estimator: o.estimator,
	})

	report, err := loop.Run(id.WithTaskID(ctx, task.ID), task, identity)

	o.persistExecution(ctx, execID, task, identity, report, started)
	return report, err
}

func (o *Orchestrator) persistExecution(ctx context.Context, execID string, task domain.Task, identity ports.AgentIdentity, report *domain.Report, started time.Time) {
	if o.store == nil {
		return
	}
	exec := domain.Execution{
		ID:                execID,
		AgentID:           identity.ID,
		ParentExecutionID: id.ParentExecutionIDFromContext(ctx),
		TaskID:            task.ID,
		WorkflowID:        task.WorkflowID,
		Status:            executionStatus(ctx, report),
		StartedAt:         started,
		CompletedAt:       o.clock.Now(),
	}
	payload := exec.Record()
	payload["iterations"] = report.Metrics.Iterations
	if err := o.store.Persist(ctx, ports.RecordKindExecution, payload); err != nil {
		o.logger.Warn("persist execution %s failed: %v", execID, err)
	}
}

// executionStatus folds a finished report into the execution lifecycle state.
func executionStatus(ctx context.Context, report *domain.Report) domain.ExecutionStatus {
	switch {
	case ctx.Err() != nil:
		return domain.ExecutionCancelled
	case report.Status == domain.StatusFailed:
		return domain.ExecutionError
	default:
		return domain.ExecutionCompleted
	}
}

// measuredTools records tool outcomes without the loop knowing about metrics.
type measuredTools struct {
	inner   ports.ToolInvoker
	metrics *observability.EngineMetrics
}

func (m measuredTools) Call(ctx context.Context, name string, args map[string]any) (*ports.ToolResult, error) {
	if name == tools.DispatchToolName {
		m.metrics.ObserveSubAgentDispatch()
	}
	result, err := m.inner.Call(ctx, name, args)
	m.metrics.ObserveToolCall(name, err == nil && result.Success())
	return result, err
}

func (m measuredTools) Definitions(allowlist []string) []ports.ToolDefinition {
	return m.inner.Definitions(allowlist)
}
