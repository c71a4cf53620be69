package mocks

import (
	"context"
	"fmt"
	"sync"

	"conductor/internal/agent/ports"
)

// MockProvider is a func-field mock for ports.ReasoningProvider.
type MockProvider struct {
	CompleteFunc func(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error)
	ModelName    string

	mu       sync.Mutex
	Requests []ports.CompletionRequest
}

func (m *MockProvider) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return &ports.CompletionResponse{Content: "done", StopReason: "stop"}, nil
}

func (m *MockProvider) Model() string {
	if m.ModelName != "" {
		return m.ModelName
	}
	return "mock-model"
}

// CallCount returns how many completions were requested.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// ScriptedProvider returns canned responses in order, repeating the last one
// once the script is exhausted.
func ScriptedProvider(responses ...*ports.CompletionResponse) *MockProvider {
	var mu sync.Mutex
	idx := 0
	return &MockProvider{
		CompleteFunc: func(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
			mu.Lock()
			defer mu.Unlock()
			if len(responses) == 0 {
				return &ports.CompletionResponse{Content: "done"}, nil
			}
			resp := responses[min(idx, len(responses)-1)]
			idx++
			return resp, nil
		},
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// MockInvoker is a func-field mock for ports.ToolInvoker.
type MockInvoker struct {
	CallFunc        func(ctx context.Context, name string, args map[string]any) (*ports.ToolResult, error)
	DefinitionsFunc func(allowlist []string) []ports.ToolDefinition

	mu    sync.Mutex
	Calls []string
}

func (m *MockInvoker) Call(ctx context.Context, name string, args map[string]any) (*ports.ToolResult, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, name)
	m.mu.Unlock()

	if m.CallFunc != nil {
		return m.CallFunc(ctx, name, args)
	}
	return &ports.ToolResult{Content: fmt.Sprintf("%s ok", name)}, nil
}

func (m *MockInvoker) Definitions(allowlist []string) []ports.ToolDefinition {
	if m.DefinitionsFunc != nil {
		return m.DefinitionsFunc(allowlist)
	}
	return nil
}

// CalledTools returns the tool names dispatched so far.
func (m *MockInvoker) CalledTools() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Calls))
	copy(out, m.Calls)
	return out
}

// MockParser is a func-field mock for ports.FunctionCallParser.
type MockParser struct {
	ParseFunc func(content string) ([]ports.ToolCall, error)
}

func (m *MockParser) Parse(content string) ([]ports.ToolCall, error) {
	if m.ParseFunc != nil {
		return m.ParseFunc(content)
	}
	return nil, nil
}

// MemoryStore is an in-memory ports.Store capturing persisted records.
type MemoryStore struct {
	mu      sync.Mutex
	Records []ports.StoredRecord

	PersistErr error
}

func (s *MemoryStore) Persist(_ context.Context, kind ports.RecordKind, payload map[string]any) error {
	if s.PersistErr != nil {
		return s.PersistErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Records = append(s.Records, ports.StoredRecord{Kind: kind, Payload: payload})
	return nil
}

func (s *MemoryStore) Query(_ context.Context, filter ports.RecordFilter) ([]ports.StoredRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ports.StoredRecord
	for _, rec := range s.Records {
		if filter.Kind != "" && rec.Kind != filter.Kind {
			continue
		}
		out = append(out, rec)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// KindCount returns how many records of a kind were persisted.
func (s *MemoryStore) KindCount(kind ports.RecordKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.Records {
		if rec.Kind == kind {
			n++
		}
	}
	return n
}

// RecordingSink captures emitted events in order, per workflow.
type RecordingSink struct {
	mu     sync.Mutex
	Events []ports.WorkflowEvent
}

func (s *RecordingSink) Emit(_ string, event ports.WorkflowEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Events = append(s.Events, event)
}

// Types returns event type names in emission order.
func (s *RecordingSink) Types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.Events))
	for _, ev := range s.Events {
		out = append(out, ev.EventType())
	}
	return out
}

// CountType returns how many events of the given type were emitted.
func (s *RecordingSink) CountType(eventType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.Events {
		if ev.EventType() == eventType {
			n++
		}
	}
	return n
}

// CountingActivity counts RecordActivity calls.
type CountingActivity struct {
	mu sync.Mutex
	n  int
}

func (c *CountingActivity) RecordActivity() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *CountingActivity) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// FixedEstimator estimates a fixed token count per message.
type FixedEstimator struct {
	PerMessage int
}

func (e FixedEstimator) Estimate(text string) int {
	if e.PerMessage > 0 {
		return e.PerMessage
	}
	return len(text) / 4
}

func (e FixedEstimator) EstimateMessages(messages []ports.Message) int {
	total := 0
	for _, msg := range messages {
		total += e.Estimate(msg.Content)
	}
	return total
}
