package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"conductor/internal/agent/ports"
	conderr "conductor/internal/errors"
	"conductor/internal/logging"
)

// Config holds provider connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	// Timeout in seconds for one completion round trip.
	Timeout int
	Headers map[string]string
}

// OpenAI API compatible client. Implements ports.ReasoningProvider.
type openaiClient struct {
	model      string
	apiKey     string
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
	logger     logging.Logger
}

// NewOpenAIProvider constructs a reasoning provider speaking the
// OpenAI-compatible chat completions API.
func NewOpenAIProvider(config Config, logger logging.Logger) (ports.ReasoningProvider, error) {
	if config.Model == "" {
		return nil, fmt.Errorf("provider model is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://openrouter.ai/api/v1"
	}
	timeout := 120 * time.Second
	if config.Timeout > 0 {
		timeout = time.Duration(config.Timeout) * time.Second
	}
	return &openaiClient{
		model:      config.Model,
		apiKey:     config.APIKey,
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		headers:    config.Headers,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.OrNop(logger),
	}, nil
}

func (c *openaiClient) Model() string { return c.model }

func (c *openaiClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	payload := map[string]any{
		"model":    c.model,
		"messages": c.convertMessages(req),
		"stream":   false,
	}
	if req.Temperature > 0 {
		payload["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}
	if len(req.StopSequences) > 0 {
		payload["stop"] = req.StopSequences
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	c.logger.Debug("POST %s model=%s messages=%d", endpoint, c.model, len(req.Messages))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &conderr.ProviderError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &conderr.ProviderError{Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &conderr.ProviderError{
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, truncateBody(raw)),
		}
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content          string `json:"content"`
				ReasoningContent string `json:"reasoning_content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &conderr.ProviderError{Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return nil, &conderr.ProviderError{Err: fmt.Errorf("response has no choices")}
	}

	choice := parsed.Choices[0]
	return &ports.CompletionResponse{
		Content:    choice.Message.Content,
		Thinking:   choice.Message.ReasoningContent,
		StopReason: choice.FinishReason,
		Usage: ports.TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}, nil
}

func (c *openaiClient) convertMessages(req ports.CompletionRequest) []map[string]any {
	out := make([]map[string]any, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		out = append(out, map[string]any{"role": "system", "content": req.SystemPrompt})
	}
	for _, msg := range req.Messages {
		converted := map[string]any{"role": msg.Role, "content": msg.Content}
		if msg.Role == "tool" {
			// OpenAI-compatible endpoints want tool results as user turns
			// when the call was made through inline markup.
			converted["role"] = "user"
			converted["content"] = fmt.Sprintf("<tool_result id=%q>%s</tool_result>", msg.ToolCallID, msg.Content)
		}
		out = append(out, converted)
	}
	return out
}

func truncateBody(raw []byte) string {
	const limit = 512
	if len(raw) <= limit {
		return string(raw)
	}
	return string(raw[:limit]) + "..."
}
