package gate

import (
	"sync"

	"conductor/internal/agent/ports"
	conderr "conductor/internal/errors"
	"conductor/internal/logging"
)

const (
	// PermissiveLimit is how many workflows may run when no human
	// confirmation gates progress.
	PermissiveLimit = 3
	// ConfirmationLimit pins concurrency to one when a pending confirmation
	// can halt a workflow.
	ConfirmationLimit = 1
)

// ConcurrencyGate admits workflow starts against a policy-dependent limit.
// The policy is read on every admission, never cached, so a mode flip takes
// effect on the next attempt. Already-running workflows are never evicted by
// a mode change.
type ConcurrencyGate struct {
	policy ports.PolicyProvider
	logger logging.Logger

	mu     sync.Mutex
	active map[string]struct{}
}

// New builds a gate over the given policy source.
func New(policy ports.PolicyProvider, logger logging.Logger) *ConcurrencyGate {
	return &ConcurrencyGate{
		policy: policy,
		logger: logging.OrNop(logger),
		active: make(map[string]struct{}),
	}
}

// CanStart reports whether a new workflow would currently be admitted,
// without reserving a slot.
func (g *ConcurrencyGate) CanStart() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active) < g.limit()
}

// Register admits a workflow, reserving its slot. It returns an
// *errors.AdmissionRejected when the current limit is reached.
func (g *ConcurrencyGate) Register(workflowID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.active[workflowID]; ok {
		return nil
	}
	limit := g.limit()
	if len(g.active) >= limit {
		g.logger.Warn("workflow %s rejected: %d/%d slots held", workflowID, len(g.active), limit)
		return &conderr.AdmissionRejected{Limit: limit, Active: len(g.active), Scope: "workflows"}
	}
	g.active[workflowID] = struct{}{}
	g.logger.Debug("workflow %s admitted (%d/%d)", workflowID, len(g.active), limit)
	return nil
}

// Release frees a workflow's slot. Releasing an unknown id is a no-op.
func (g *ConcurrencyGate) Release(workflowID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, workflowID)
}

// Active returns the number of admitted workflows.
func (g *ConcurrencyGate) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}

func (g *ConcurrencyGate) limit() int {
	if g.policy != nil && g.policy.CurrentMode() == ports.ModeConfirmationRequired {
		return ConfirmationLimit
	}
	return PermissiveLimit
}
