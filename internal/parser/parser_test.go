package parser_test

import (
	"errors"
	"strings"
	"testing"

	conderr "conductor/internal/errors"
	"conductor/internal/parser"
)

func TestParse_WellFormedSingleCall(t *testing.T) {
	p := parser.New()
	calls, err := p.Parse(`Let me check. <tool_call>{"name":"clock","args":{"zone":"UTC"}}</tool_call>`)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Name != "clock" {
		t.Errorf("expected clock, got %s", calls[0].Name)
	}
	if calls[0].Arguments["zone"] != "UTC" {
		t.Errorf("arguments lost: %v", calls[0].Arguments)
	}
	if calls[0].ID != "call_0" {
		t.Errorf("expected deterministic id, got %s", calls[0].ID)
	}
}

func TestParse_MultipleCallsPreserveOrder(t *testing.T) {
	p := parser.New()
	calls, err := p.Parse(
		`<tool_call>{"name":"alpha","args":{}}</tool_call>` +
			`<tool_call>{"name":"beta","args":{}}</tool_call>`)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(calls) != 2 || calls[0].Name != "alpha" || calls[1].Name != "beta" {
		t.Fatalf("order not preserved: %v", calls)
	}
}

func TestParse_PlainProseIsNotAnError(t *testing.T) {
	p := parser.New()
	calls, err := p.Parse("The answer is 42.")
	if err != nil {
		t.Fatalf("prose must not error: %v", err)
	}
	if len(calls) != 0 {
		t.Fatalf("expected no calls, got %v", calls)
	}
}

func TestParse_RepairsSloppyJSON(t *testing.T) {
	p := parser.New()
	// Trailing comma and single quotes are repairable.
	calls, err := p.Parse(`<tool_call>{'name': 'clock', 'args': {'zone': 'UTC',},}</tool_call>`)
	if err != nil {
		t.Fatalf("expected repair to succeed: %v", err)
	}
	if len(calls) != 1 || calls[0].Name != "clock" {
		t.Fatalf("repair produced wrong call: %v", calls)
	}
}

func TestParse_MalformedVariants(t *testing.T) {
	cases := []struct {
		name    string
		content string
		detail  string
	}{
		{"unterminated tag", `<tool_call>{"name":"clock","args":{}}`, "unterminated"},
		{"orphan close tag", `{"name":"clock"}</tool_call>`, "without matching open"},
		{"empty name", `<tool_call>{"name":"","args":{}}</tool_call>`, "invalid or missing tool name"},
		{"leaked marker name", `<tool_call>{"name":"functions.clock:0","args":{}}</tool_call>`, "invalid or missing tool name"},
	}

	p := parser.New()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calls, err := p.Parse(tc.content)
			if err == nil {
				t.Fatalf("expected format error, got calls %v", calls)
			}
			var formatErr *conderr.FormatError
			if !errors.As(err, &formatErr) {
				t.Fatalf("expected *FormatError, got %T: %v", err, err)
			}
			if !strings.Contains(formatErr.Detail, tc.detail) {
				t.Errorf("detail %q does not mention %q", formatErr.Detail, tc.detail)
			}
			if !strings.Contains(formatErr.Feedback(), "<tool_call>") {
				t.Errorf("feedback must show the expected markup: %q", formatErr.Feedback())
			}
		})
	}
}

func TestParse_ArgsDefaultToEmptyMap(t *testing.T) {
	p := parser.New()
	calls, err := p.Parse(`<tool_call>{"name":"clock"}</tool_call>`)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if calls[0].Arguments == nil {
		t.Fatal("arguments must never be nil")
	}
}
