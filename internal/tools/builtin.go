package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"conductor/internal/agent/ports"
)

// RegisterBuiltins installs the default tool set.
func RegisterBuiltins(r *Registry) {
	r.Register(ClockTool{})
	r.Register(NewHTTPFetchTool(nil))
}

// ClockTool reports the current time, optionally in a named zone.
type ClockTool struct{}

func (ClockTool) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "clock",
		Description: "Returns the current date and time, optionally in a specific IANA time zone.",
		Parameters: ports.ToolParameters{
			Type: "object",
			Properties: map[string]ports.ToolParameter{
				"zone": {Type: "string", Description: "IANA zone name, e.g. Europe/Berlin. Defaults to UTC."},
			},
		},
	}
}

func (ClockTool) Execute(_ context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	loc := time.UTC
	if zone, _ := call.Arguments["zone"].(string); zone != "" {
		parsed, err := time.LoadLocation(zone)
		if err != nil {
			return nil, fmt.Errorf("unknown time zone %q", zone)
		}
		loc = parsed
	}
	return &ports.ToolResult{
		CallID:  call.ID,
		Content: time.Now().In(loc).Format(time.RFC3339),
	}, nil
}

// HTTPFetchTool performs a bounded GET request and returns the body.
type HTTPFetchTool struct {
	client *http.Client
}

const fetchBodyLimit = 64 * 1024

// NewHTTPFetchTool builds the fetch tool; a nil client gets a 30s default.
func NewHTTPFetchTool(client *http.Client) *HTTPFetchTool {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPFetchTool{client: client}
}

func (t *HTTPFetchTool) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "http_fetch",
		Description: "Fetches a URL with HTTP GET and returns up to 64KB of the response body.",
		Parameters: ports.ToolParameters{
			Type: "object",
			Properties: map[string]ports.ToolParameter{
				"url": {Type: "string", Description: "Absolute http(s) URL to fetch."},
			},
			Required: []string{"url"},
		},
	}
}

func (t *HTTPFetchTool) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	url, _ := call.Arguments["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("url argument is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchBodyLimit))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &ports.ToolResult{
		CallID:  call.ID,
		Content: string(body),
		Metadata: map[string]any{
			"status_code": resp.StatusCode,
			"url":         url,
		},
	}, nil
}
