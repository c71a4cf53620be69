package errors

import (
	"sync"
	"time"

	"conductor/internal/logging"
)

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	// StateClosed - normal operation, dispatches allowed
	StateClosed CircuitState = iota
	// StateOpen - failing, dispatches blocked
	StateOpen
	// StateHalfOpen - cooldown elapsed, one trial dispatch allowed
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures circuit breaker behavior
type CircuitBreakerConfig struct {
	FailureThreshold int                                      // consecutive failures to open circuit (default: 3)
	Cooldown         time.Duration                            // wait before attempting half-open (default: 60s)
	OnStateChange    func(from, to CircuitState, name string) // optional callback
}

// DefaultCircuitBreakerConfig returns the engine defaults: three consecutive
// failures open the circuit, a 60s cooldown admits one half-open trial.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 3,
		Cooldown:         60 * time.Second,
	}
}

// CircuitBreaker isolates repeated failures for one agent class.
//
// Transitions are strictly Closed->Open (threshold), Open->HalfOpen
// (cooldown), HalfOpen->Closed (trial success) or HalfOpen->Open (trial
// failure). External callers never mutate state directly; they call Allow
// before dispatch and Mark after.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	logger logging.Logger

	mu              sync.RWMutex
	state           CircuitState
	failureCount    int
	trialInFlight   bool
	lastFailureTime time.Time
	lastStateChange time.Time
}

// NewCircuitBreaker creates a circuit breaker for the named agent class.
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 60 * time.Second
	}
	return &CircuitBreaker{
		name:            name,
		config:          config,
		logger:          logging.NewComponentLogger("circuit-breaker"),
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Allow checks whether a dispatch can proceed. It returns a *CircuitOpenError
// carrying the remaining cooldown when the circuit is open, and transitions
// Open->HalfOpen once the cooldown has elapsed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		elapsed := time.Since(cb.lastFailureTime)
		if elapsed >= cb.config.Cooldown {
			cb.setState(StateHalfOpen)
			cb.trialInFlight = true
			cb.logger.Info("[%s] transitioning to half-open, admitting one trial", cb.name)
			return nil
		}
		return &CircuitOpenError{
			Name:              cb.name,
			RemainingCooldown: cb.config.Cooldown - elapsed,
		}

	case StateHalfOpen:
		// Exactly one trial at a time; concurrent dispatches wait out the trial.
		if cb.trialInFlight {
			return &CircuitOpenError{Name: cb.name, RemainingCooldown: cb.config.Cooldown}
		}
		cb.trialInFlight = true
		return nil

	default:
		return &CircuitOpenError{Name: cb.name, RemainingCooldown: cb.config.Cooldown}
	}
}

// Mark records a dispatch outcome. Pass nil to mark success, or a non-nil
// error to record failure.
func (cb *CircuitBreaker) Mark(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.onSuccess()
	} else {
		cb.onFailure()
	}
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case StateClosed:
		if cb.failureCount > 0 {
			cb.logger.Debug("[%s] success, resetting failure count", cb.name)
			cb.failureCount = 0
		}

	case StateHalfOpen:
		cb.trialInFlight = false
		cb.failureCount = 0
		cb.setState(StateClosed)
		cb.logger.Info("[%s] trial succeeded, circuit closed", cb.name)

	case StateOpen:
		cb.logger.Warn("[%s] unexpected success while open", cb.name)
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		cb.logger.Debug("[%s] failure %d/%d", cb.name, cb.failureCount, cb.config.FailureThreshold)
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.setState(StateOpen)
			cb.logger.Warn("[%s] circuit opened after %d consecutive failures", cb.name, cb.failureCount)
		}

	case StateHalfOpen:
		cb.trialInFlight = false
		cb.setState(StateOpen)
		cb.logger.Warn("[%s] trial failed, circuit reopened", cb.name)

	case StateOpen:
		cb.logger.Debug("[%s] failure while circuit open", cb.name)
	}
}

func (cb *CircuitBreaker) setState(newState CircuitState) {
	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = time.Now()

	if cb.config.OnStateChange != nil {
		// Callback runs off the lock path to avoid blocking dispatches.
		go cb.config.OnStateChange(oldState, newState, cb.name)
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Snapshot returns current circuit breaker statistics.
func (cb *CircuitBreaker) Snapshot() CircuitSnapshot {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return CircuitSnapshot{
		Name:            cb.name,
		State:           cb.state,
		FailureCount:    cb.failureCount,
		LastFailureTime: cb.lastFailureTime,
		LastStateChange: cb.lastStateChange,
	}
}

// CircuitSnapshot contains circuit breaker statistics.
type CircuitSnapshot struct {
	Name            string
	State           CircuitState
	FailureCount    int
	LastFailureTime time.Time
	LastStateChange time.Time
}

// CircuitBreakerManager holds one breaker per agent class.
type CircuitBreakerManager struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	config   CircuitBreakerConfig
	logger   logging.Logger
}

// NewCircuitBreakerManager creates a manager applying config to every class.
func NewCircuitBreakerManager(config CircuitBreakerConfig) *CircuitBreakerManager {
	return &CircuitBreakerManager{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
		logger:   logging.NewComponentLogger("circuit-breaker-manager"),
	}
}

// Get returns the circuit breaker for the given agent class, creating it on
// first use.
func (m *CircuitBreakerManager) Get(name string) *CircuitBreaker {
	m.mu.RLock()
	if breaker, ok := m.breakers[name]; ok {
		m.mu.RUnlock()
		return breaker
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if breaker, ok := m.breakers[name]; ok {
		return breaker
	}
	breaker := NewCircuitBreaker(name, m.config)
	m.breakers[name] = breaker
	m.logger.Debug("created circuit breaker for agent class: %s", name)
	return breaker
}

// Snapshots returns statistics for all tracked breakers.
func (m *CircuitBreakerManager) Snapshots() []CircuitSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CircuitSnapshot, 0, len(m.breakers))
	for _, breaker := range m.breakers {
		out = append(out, breaker.Snapshot())
	}
	return out
}
