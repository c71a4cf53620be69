package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"conductor/internal/agent/ports"
	"conductor/internal/logging"
)

// Registry resolves and dispatches tools by name. Implements
// ports.ToolInvoker.
type Registry struct {
	logger logging.Logger

	mu    sync.RWMutex
	tools map[string]ports.ToolExecutor
}

// NewRegistry returns an empty registry.
func NewRegistry(logger logging.Logger) *Registry {
	return &Registry{
		logger: logging.OrNop(logger),
		tools:  make(map[string]ports.ToolExecutor),
	}
}

// Register adds a tool, replacing any previous tool of the same name.
func (r *Registry) Register(tool ports.ToolExecutor) {
	name := tool.Definition().Name
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = tool
	r.logger.Debug("registered tool %s", name)
}

// With returns a shallow copy extended with additional tools, leaving the
// receiver untouched. Used to scope per-execution tools (like sub-agent
// dispatch) without mutating the shared registry.
func (r *Registry) With(extra ...ports.ToolExecutor) *Registry {
	r.mu.RLock()
	clone := &Registry{
		logger: r.logger,
		tools:  make(map[string]ports.ToolExecutor, len(r.tools)+len(extra)),
	}
	for name, tool := range r.tools {
		clone.tools[name] = tool
	}
	r.mu.RUnlock()

	for _, tool := range extra {
		clone.tools[tool.Definition().Name] = tool
	}
	return clone
}

// Call dispatches one invocation.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (*ports.ToolResult, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("tool not found: %s", name)
	}

	started := time.Now()
	result, err := tool.Execute(ctx, ports.ToolCall{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = &ports.ToolResult{}
	}
	if result.Duration == 0 {
		result.Duration = time.Since(started)
	}
	return result, nil
}

// Definitions lists visible tools sorted by name, filtered by the allowlist
// when one is given.
func (r *Registry) Definitions(allowlist []string) []ports.ToolDefinition {
	allowed := map[string]bool{}
	for _, name := range allowlist {
		allowed[name] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ports.ToolDefinition, 0, len(r.tools))
	for name, tool := range r.tools {
		if len(allowlist) > 0 && !allowed[name] {
			continue
		}
		out = append(out, tool.Definition())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
