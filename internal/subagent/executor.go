package subagent

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"conductor/internal/agent/domain"
	"conductor/internal/agent/ports"
	conderr "conductor/internal/errors"
	"conductor/internal/logging"
	id "conductor/internal/utils/id"
)

const (
	// DefaultMaxSubAgents caps concurrent sub-executions per parent.
	DefaultMaxSubAgents = 3
	// DefaultInactivityTimeout aborts a sub-execution that produced no
	// observable work for this long.
	DefaultInactivityTimeout = 300 * time.Second
	// DefaultHeartbeatPoll is how often the supervisor checks liveness.
	DefaultHeartbeatPoll = 30 * time.Second
)

// Runner executes one task under an identity, reporting liveness through the
// provided sink. The orchestrator wires the tool-call loop behind this.
type Runner interface {
	Run(ctx context.Context, task domain.Task, identity ports.AgentIdentity, activity ports.ActivitySink) (*domain.Report, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, task domain.Task, identity ports.AgentIdentity, activity ports.ActivitySink) (*domain.Report, error)

func (f RunnerFunc) Run(ctx context.Context, task domain.Task, identity ports.AgentIdentity, activity ports.ActivitySink) (*domain.Report, error) {
	return f(ctx, task, identity, activity)
}

// TaskSpec names one sub-task in a parallel batch.
type TaskSpec struct {
	AgentID string
	Task    domain.Task
}

// Config tunes the executor. Zero values take the defaults above.
type Config struct {
	MaxSubAgents      int
	InactivityTimeout time.Duration
	HeartbeatPoll     time.Duration
	Logger            logging.Logger
	Clock             ports.Clock
}

// Executor runs sub-agent tasks under heartbeat supervision, concurrency
// admission, and per-class circuit breaking.
type Executor struct {
	maxSubAgents      int
	inactivityTimeout time.Duration
	heartbeatPoll     time.Duration
	logger            logging.Logger
	clock             ports.Clock

	runner     Runner
	identities ports.IdentityRegistry
	breakers   *conderr.CircuitBreakerManager
	events     ports.EventSink

	slots *slotTable
}

// NewExecutor wires the executor.
func NewExecutor(cfg Config, runner Runner, identities ports.IdentityRegistry, breakers *conderr.CircuitBreakerManager, events ports.EventSink) *Executor {
	if cfg.MaxSubAgents <= 0 {
		cfg.MaxSubAgents = DefaultMaxSubAgents
	}
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = DefaultInactivityTimeout
	}
	if cfg.HeartbeatPoll <= 0 {
		cfg.HeartbeatPoll = DefaultHeartbeatPoll
	}
	if cfg.Clock == nil {
		cfg.Clock = ports.SystemClock()
	}
	if events == nil {
		events = ports.NopSink()
	}
	if breakers == nil {
		breakers = conderr.NewCircuitBreakerManager(conderr.DefaultCircuitBreakerConfig())
	}
	return &Executor{
		maxSubAgents:      cfg.MaxSubAgents,
		inactivityTimeout: cfg.InactivityTimeout,
		heartbeatPoll:     cfg.HeartbeatPoll,
		logger:            logging.OrNop(cfg.Logger),
		clock:             cfg.Clock,
		runner:            runner,
		identities:        identities,
		breakers:          breakers,
		events:            events,
		slots:             newSlotTable(cfg.MaxSubAgents),
	}
}

// ExecuteWithHeartbeat runs one task under inactivity supervision. The
// returned report is never nil; a heartbeat abort yields a failed report and
// an *errors.InactivityTimeout.
func (e *Executor) ExecuteWithHeartbeat(ctx context.Context, task domain.Task, identity ports.AgentIdentity) (*domain.Report, error) {
	breaker := e.breakers.Get(identity.BreakerClass())
	if err := breaker.Allow(); err != nil {
		e.logger.Warn("dispatch rejected by circuit breaker class=%s: %v", identity.BreakerClass(), err)
		return failedReport(task, err), err
	}

	monitor := NewActivityMonitor(e.clock)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		report *domain.Report
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("sub-execution panicked task=%s: %v\n%s", task.ID, r, debug.Stack())
				err := fmt.Errorf("execution panicked: %v", r)
				done <- outcome{failedReport(task, err), err}
			}
		}()
		report, err := e.runner.Run(runCtx, task, identity, monitor)
		if report == nil {
			report = failedReport(task, err)
		}
		done <- outcome{report, err}
	}()

	ticker := time.NewTicker(e.heartbeatPoll)
	defer ticker.Stop()

	for {
		select {
		case out := <-done:
			breaker.Mark(out.err)
			return out.report, out.err

		case <-ticker.C:
			elapsed := monitor.SinceActivity()
			if elapsed < e.inactivityTimeout {
				continue
			}
			timeoutErr := &conderr.InactivityTimeout{Elapsed: elapsed, Timeout: e.inactivityTimeout}
			e.logger.Error("heartbeat abort task=%s agent=%s: %v", task.ID, identity.ID, timeoutErr)
			cancel()
			// Give the runner one poll interval to observe cancellation.
			// done is buffered, so abandoning a runner stuck in
			// non-cancellable code leaks nothing, and the timeout is the
			// result regardless of what it returns.
			select {
			case <-done:
			case <-time.After(e.heartbeatPoll):
			}
			breaker.Mark(timeoutErr)
			return failedReport(task, timeoutErr), timeoutErr

		case <-ctx.Done():
			cancel()
			select {
			case out := <-done:
				breaker.Mark(out.err)
				return out.report, out.err
			case <-time.After(e.heartbeatPoll):
				err := ctx.Err()
				breaker.Mark(err)
				return failedReport(task, err), err
			}
		}
	}
}

// Delegate runs one sub-task synchronously on behalf of a parent execution.
func (e *Executor) Delegate(ctx context.Context, parent ports.AgentIdentity, parentExecID, agentID string, task domain.Task) (*domain.Report, error) {
	if err := e.checkPrimary(parent); err != nil {
		return failedReport(task, err), err
	}
	identity, err := e.identities.Resolve(agentID)
	if err != nil {
		return failedReport(task, err), err
	}
	if err := e.slots.acquire(parentExecID); err != nil {
		e.logger.Warn("sub-agent admission rejected parent=%s: %v", parentExecID, err)
		return failedReport(task, err), err
	}
	defer e.slots.release(parentExecID)

	return e.runSupervised(ctx, identity, parentExecID, id.NewSubExecutionID(), task)
}

// Spawn starts a sub-task asynchronously. The slot is held until the
// sub-execution completes; the report arrives on the returned channel.
func (e *Executor) Spawn(ctx context.Context, parent ports.AgentIdentity, parentExecID, agentID string, task domain.Task) (string, <-chan *domain.Report, error) {
	if err := e.checkPrimary(parent); err != nil {
		return "", nil, err
	}
	identity, err := e.identities.Resolve(agentID)
	if err != nil {
		return "", nil, err
	}
	return e.spawn(ctx, identity, parentExecID, task)
}

// SpawnTemporary registers a workflow-scoped identity and spawns a sub-task
// under it. The identity is discarded when its owning workflow ends.
func (e *Executor) SpawnTemporary(ctx context.Context, parent ports.AgentIdentity, parentExecID string, identity ports.AgentIdentity, task domain.Task) (string, <-chan *domain.Report, error) {
	if err := e.checkPrimary(parent); err != nil {
		return "", nil, err
	}
	if identity.ID == "" {
		return "", nil, fmt.Errorf("temporary identity requires an id")
	}
	identity.Lifecycle = ports.LifecycleTemporary
	identity.OwnerWorkflowID = task.WorkflowID
	e.identities.Register(identity)
	return e.spawn(ctx, identity, parentExecID, task)
}

func (e *Executor) spawn(ctx context.Context, identity ports.AgentIdentity, parentExecID string, task domain.Task) (string, <-chan *domain.Report, error) {
	if err := e.slots.acquire(parentExecID); err != nil {
		e.logger.Warn("sub-agent admission rejected parent=%s: %v", parentExecID, err)
		return "", nil, err
	}

	// The id handed back here is the same one the stream events carry.
	subID := id.NewSubExecutionID()
	results := make(chan *domain.Report, 1)
	go func() {
		defer e.slots.release(parentExecID)
		report, _ := e.runSupervised(ctx, identity, parentExecID, subID, task)
		results <- report
	}()
	return subID, results, nil
}

// ParallelBatch runs up to MaxSubAgents sub-tasks concurrently. Reports come
// back in spec order; one failing member never aborts its siblings.
func (e *Executor) ParallelBatch(ctx context.Context, parent ports.AgentIdentity, parentExecID string, specs []TaskSpec) ([]*domain.Report, error) {
	if err := e.checkPrimary(parent); err != nil {
		return nil, err
	}
	if len(specs) == 0 {
		return nil, nil
	}

	// Admit the whole batch up front so a half-started batch never happens.
	identities := make([]ports.AgentIdentity, len(specs))
	for i, spec := range specs {
		identity, err := e.identities.Resolve(spec.AgentID)
		if err != nil {
			return nil, err
		}
		identities[i] = identity
	}
	acquired := 0
	for range specs {
		if err := e.slots.acquire(parentExecID); err != nil {
			for ; acquired > 0; acquired-- {
				e.slots.release(parentExecID)
			}
			e.logger.Warn("batch admission rejected parent=%s size=%d: %v", parentExecID, len(specs), err)
			return nil, err
		}
		acquired++
	}

	reports := make([]*domain.Report, len(specs))
	var group errgroup.Group
	for i := range specs {
		idx := i
		group.Go(func() error {
			defer e.slots.release(parentExecID)
			report, _ := e.runSupervised(ctx, identities[idx], parentExecID, id.NewSubExecutionID(), specs[idx].Task)
			reports[idx] = report
			return nil
		})
	}
	_ = group.Wait()
	return reports, nil
}

// ActiveSubAgents reports how many sub-executions a parent currently holds.
func (e *Executor) ActiveSubAgents(parentExecID string) int {
	return e.slots.active(parentExecID)
}

func (e *Executor) runSupervised(ctx context.Context, identity ports.AgentIdentity, parentExecID, subID string, task domain.Task) (*domain.Report, error) {
	started := e.clock.Now()

	e.events.Emit(task.WorkflowID, domain.NewSubAgentStartedEvent(task.WorkflowID, task.ID, subID, identity.ID, task.Description, started))

	report, err := e.ExecuteWithHeartbeat(id.WithParentExecutionID(ctx, parentExecID), task, identity)

	e.events.Emit(task.WorkflowID, domain.NewSubAgentCompletedEvent(task.WorkflowID, task.ID, subID, identity.ID, report.Status, e.clock.Now().Sub(started), e.clock.Now()))
	return report, err
}

func (e *Executor) checkPrimary(parent ports.AgentIdentity) error {
	if !parent.Primary {
		return fmt.Errorf("agent %q is not a primary identity and cannot dispatch sub-agents", parent.ID)
	}
	return nil
}

func failedReport(task domain.Task, err error) *domain.Report {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &domain.Report{
		TaskID:       task.ID,
		Status:       domain.StatusFailed,
		ErrorMessage: msg,
	}
}
