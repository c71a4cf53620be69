package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"conductor/internal/agent/ports"
	conderr "conductor/internal/errors"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) ports.ReasoningProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	provider, err := NewOpenAIProvider(Config{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Model:   "test-model",
	}, nil)
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}
	return provider
}

func TestOpenAIProvider_Complete(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("missing auth header, got %q", got)
		}

		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		messages := req["messages"].([]any)
		first := messages[0].(map[string]any)
		if first["role"] != "system" {
			t.Errorf("system prompt must lead the conversation, got %v", first["role"])
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"content":           "hello",
					"reasoning_content": "thinking about it",
				},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{
				"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15,
			},
		})
	})

	resp, err := provider.Complete(context.Background(), ports.CompletionRequest{
		SystemPrompt: "be brief",
		Messages:     []ports.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "hello" || resp.Thinking != "thinking about it" {
		t.Errorf("response fields lost: %+v", resp)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("usage lost: %+v", resp.Usage)
	}
}

func TestOpenAIProvider_HTTPErrorIsProviderError(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
	})

	_, err := provider.Complete(context.Background(), ports.CompletionRequest{
		Messages: []ports.Message{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	var provErr *conderr.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected *ProviderError, got %T", err)
	}
}

func TestOpenAIProvider_ToolMessagesWrapped(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		messages := req["messages"].([]any)
		last := messages[len(messages)-1].(map[string]any)
		if last["role"] != "user" {
			t.Errorf("tool result must be sent as user turn, got %v", last["role"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "ok"}}},
		})
	})

	_, err := provider.Complete(context.Background(), ports.CompletionRequest{
		Messages: []ports.Message{
			{Role: "user", Content: "hi"},
			{Role: "tool", Content: "12:00", ToolCallID: "call_0"},
		},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
}

func TestOpenAIProvider_RequiresModel(t *testing.T) {
	if _, err := NewOpenAIProvider(Config{}, nil); err == nil {
		t.Fatal("missing model must be rejected")
	}
}
