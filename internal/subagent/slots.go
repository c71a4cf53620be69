package subagent

import (
	"sync"

	conderr "conductor/internal/errors"
)

// slotTable enforces the per-parent sub-agent cap. A slot is held for the
// full lifetime of a sub-execution and released only on completion.
type slotTable struct {
	mu    sync.Mutex
	limit int
	held  map[string]int
}

func newSlotTable(limit int) *slotTable {
	return &slotTable{limit: limit, held: make(map[string]int)}
}

func (t *slotTable) acquire(parentExecID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.held[parentExecID] >= t.limit {
		return &conderr.AdmissionRejected{
			Limit:  t.limit,
			Active: t.held[parentExecID],
			Scope:  "sub-agents",
		}
	}
	t.held[parentExecID]++
	return nil
}

func (t *slotTable) release(parentExecID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.held[parentExecID] <= 1 {
		delete(t.held, parentExecID)
		return
	}
	t.held[parentExecID]--
}

func (t *slotTable) active(parentExecID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.held[parentExecID]
}
