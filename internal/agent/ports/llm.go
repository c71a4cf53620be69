package ports

import "context"

// ReasoningProvider represents any reasoning backend the engine can consult.
type ReasoningProvider interface {
	// Complete sends the conversation and returns a response (non-streaming).
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Model returns the model identifier.
	Model() string
}

// CompletionRequest contains all parameters for one provider call.
type CompletionRequest struct {
	Messages      []Message      `json:"messages"`
	SystemPrompt  string         `json:"system_prompt,omitempty"`
	Temperature   float64        `json:"temperature,omitempty"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	StopSequences []string       `json:"stop,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// CompletionResponse is the provider's reply. Thinking carries the optional
// reasoning channel some providers expose alongside final content.
type CompletionResponse struct {
	Content    string     `json:"content"`
	Thinking   string     `json:"thinking,omitempty"`
	StopReason string     `json:"stop_reason,omitempty"`
	Usage      TokenUsage `json:"usage"`
}

// TokenUsage tracks token consumption for one provider call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Message represents a conversation message.
type Message struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// TokenEstimator approximates token counts when the provider does not report
// usage (or before a request is sent).
type TokenEstimator interface {
	Estimate(text string) int
	EstimateMessages(messages []Message) int
}
