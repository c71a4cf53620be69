package errors

import (
	"errors"
	"fmt"
	"time"
)

// The engine classifies every terminal failure so callers can tell apart
// "model misbehaved", "tool failed", "system protected itself from a hang"
// and "system protected itself from overload".

// FormatError reports malformed tool-call markup in a provider response.
// It is recoverable: the loop feeds the message back to the provider as a
// corrective turn instead of surfacing it to the caller.
type FormatError struct {
	Expected string // marker the parser expected, e.g. "</tool_call>"
	Got      string // what was actually found (truncated)
	Detail   string // optional parser detail, e.g. JSON syntax error
}

func (e *FormatError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("format error: expected %s, got %q (%s)", e.Expected, e.Got, e.Detail)
	}
	return fmt.Sprintf("format error: expected %s, got %q", e.Expected, e.Got)
}

// Feedback renders the corrective message injected as the next user turn.
func (e *FormatError) Feedback() string {
	return fmt.Sprintf(
		"Your previous response contained a malformed tool call (%s). "+
			"Re-issue the tool call as <tool_call>{\"name\": ..., \"args\": {...}}</tool_call> "+
			"with valid JSON and a matching closing tag.", e.Error())
}

// ToolExecutionError reports a tool that ran and failed. The loop records it
// and continues; it never terminates the execution on its own.
type ToolExecutionError struct {
	ToolName string
	Err      error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.ToolName, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// ProviderError reports an unreachable or failing reasoning provider.
// Fatal to the current execution; not retried automatically.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("reasoning provider error: %v", e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// InactivityTimeout reports an execution aborted by the heartbeat supervisor
// after producing no activity for longer than the configured window.
type InactivityTimeout struct {
	Elapsed time.Duration
	Timeout time.Duration
}

func (e *InactivityTimeout) Error() string {
	return fmt.Sprintf("inactive for %ds, aborted to prevent hang (timeout %ds)",
		int(e.Elapsed.Seconds()), int(e.Timeout.Seconds()))
}

// CircuitOpenError reports a dispatch rejected because the circuit breaker
// for the agent class is open. It fails fast before any work starts.
type CircuitOpenError struct {
	Name              string
	RemainingCooldown time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s: repeated failures, retry in %s",
		e.Name, e.RemainingCooldown.Round(time.Second))
}

// AdmissionRejected reports a dispatch rejected by a concurrency limit.
// The caller must retry later or wait; nothing is queued.
type AdmissionRejected struct {
	Limit  int
	Active int
	Scope  string // "sub-agents" or "workflows"
}

func (e *AdmissionRejected) Error() string {
	return fmt.Sprintf("%s limit reached: %d of %d slots in use", e.Scope, e.Active, e.Limit)
}

// IsRecoverable reports whether the loop can recover from err locally
// instead of terminating the execution.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	var formatErr *FormatError
	var toolErr *ToolExecutionError
	return errors.As(err, &formatErr) || errors.As(err, &toolErr)
}

// AsFormatError extracts a FormatError from err's chain.
func AsFormatError(err error, target **FormatError) bool {
	return errors.As(err, target)
}

// IsAdmissionRejected reports whether err is a concurrency-limit rejection.
func IsAdmissionRejected(err error) bool {
	var target *AdmissionRejected
	return errors.As(err, &target)
}

// IsCircuitOpen reports whether err is a circuit-breaker rejection.
func IsCircuitOpen(err error) bool {
	var target *CircuitOpenError
	return errors.As(err, &target)
}

// IsInactivityTimeout reports whether err is a heartbeat abort.
func IsInactivityTimeout(err error) bool {
	var target *InactivityTimeout
	return errors.As(err, &target)
}
