package subagent

import (
	"sync"
	"time"

	"conductor/internal/agent/ports"
)

// ActivityMonitor tracks the last moment an execution did observable work.
// Writers are the loop's provider and tool hooks; the reader is the heartbeat
// supervisor polling from its own goroutine.
type ActivityMonitor struct {
	mu    sync.RWMutex
	clock ports.Clock
	last  time.Time
}

// NewActivityMonitor returns a monitor primed to "just active", so a fresh
// execution never trips the timeout before doing anything.
func NewActivityMonitor(clock ports.Clock) *ActivityMonitor {
	if clock == nil {
		clock = ports.SystemClock()
	}
	return &ActivityMonitor{clock: clock, last: clock.Now()}
}

// RecordActivity stamps the current time. Implements ports.ActivitySink.
func (m *ActivityMonitor) RecordActivity() {
	m.mu.Lock()
	m.last = m.clock.Now()
	m.mu.Unlock()
}

// SinceActivity returns the time elapsed since the last recorded activity.
func (m *ActivityMonitor) SinceActivity() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clock.Now().Sub(m.last)
}

// Reset re-primes the monitor, for reuse across sequential executions.
func (m *ActivityMonitor) Reset() {
	m.RecordActivity()
}
