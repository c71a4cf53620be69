package ports

import (
	"context"
	"time"
)

// ToolCall is one parsed tool invocation from a provider response.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"args"`
}

// ToolResult is the outcome of executing one tool call.
type ToolResult struct {
	CallID   string         `json:"call_id"`
	Content  string         `json:"content"`
	Error    error          `json:"-"`
	Duration time.Duration  `json:"duration"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// SubCalls lists the sub-agent dispatches this call fanned out to, so
	// the report's metrics can account for them. Empty for ordinary tools.
	SubCalls []SubCallRecord `json:"sub_calls,omitempty"`
}

// SubCallRecord captures one sub-agent dispatch surfaced through a tool
// result.
type SubCallRecord struct {
	TaskID   string        `json:"task_id"`
	AgentID  string        `json:"agent_id"`
	Status   string        `json:"status"`
	Duration time.Duration `json:"duration"`
}

// Success reports whether the tool ran without error.
func (r *ToolResult) Success() bool {
	return r != nil && r.Error == nil
}

// ToolDefinition is the schema advertised to the reasoning provider.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  ToolParameters `json:"parameters"`
}

// ToolParameters describes a tool's argument schema.
type ToolParameters struct {
	Type       string                   `json:"type"`
	Properties map[string]ToolParameter `json:"properties,omitempty"`
	Required   []string                 `json:"required,omitempty"`
}

// ToolParameter describes a single argument.
type ToolParameter struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// ToolExecutor executes a single tool call. Both in-process tools and
// remote-protocol tools implement this contract.
type ToolExecutor interface {
	Execute(ctx context.Context, call ToolCall) (*ToolResult, error)
	Definition() ToolDefinition
}

// ToolInvoker resolves and dispatches tool calls by name.
type ToolInvoker interface {
	// Call dispatches one invocation. A non-nil error means the tool ran and
	// failed, or could not be resolved; at-most-once semantics.
	Call(ctx context.Context, name string, args map[string]any) (*ToolResult, error)

	// Definitions lists the tools visible to the caller, optionally filtered
	// by an identity allowlist (empty allowlist means everything).
	Definitions(allowlist []string) []ToolDefinition
}
