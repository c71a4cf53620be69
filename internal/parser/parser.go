package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"conductor/internal/agent/ports"
	conderr "conductor/internal/errors"
)

const (
	openTag  = "<tool_call>"
	closeTag = "</tool_call>"
)

var (
	callRe     = regexp.MustCompile(`(?s)<tool_call>(.*?)</tool_call>`)
	toolNameRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)
)

type parser struct{}

// New returns the markup parser for provider responses.
func New() ports.FunctionCallParser {
	return &parser{}
}

// Parse extracts tool calls from <tool_call>{json}</tool_call> blocks.
// Plain prose returns (nil, nil). Any malformed markup returns a
// *errors.FormatError describing what to fix, so the caller can bounce the
// response back to the provider.
func (p *parser) Parse(content string) ([]ports.ToolCall, error) {
	if err := checkTagBalance(content); err != nil {
		return nil, err
	}

	matches := callRe.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil, nil
	}

	var calls []ports.ToolCall
	for _, match := range matches {
		body := strings.TrimSpace(match[1])

		var call struct {
			Name string         `json:"name"`
			Args map[string]any `json:"args"`
		}
		if err := json.Unmarshal([]byte(body), &call); err != nil {
			repaired, repairErr := jsonrepair.JSONRepair(body)
			if repairErr != nil || json.Unmarshal([]byte(repaired), &call) != nil {
				return nil, &conderr.FormatError{
					Expected: "valid JSON object",
					Got:      truncate(body, 120),
					Detail:   err.Error(),
				}
			}
		}

		if !toolNameRe.MatchString(call.Name) {
			return nil, &conderr.FormatError{
				Expected: "tool name matching [a-zA-Z][a-zA-Z0-9_]*",
				Got:      truncate(call.Name, 64),
				Detail:   "invalid or missing tool name",
			}
		}

		if call.Args == nil {
			call.Args = map[string]any{}
		}
		calls = append(calls, ports.ToolCall{
			ID:        fmt.Sprintf("call_%d", len(calls)),
			Name:      call.Name,
			Arguments: call.Args,
		})
	}
	return calls, nil
}

// checkTagBalance rejects unterminated opens and orphaned closes before any
// block extraction runs.
func checkTagBalance(content string) error {
	opens := strings.Count(content, openTag)
	closes := strings.Count(content, closeTag)
	switch {
	case opens > closes:
		return &conderr.FormatError{
			Expected: closeTag,
			Got:      truncate(content[strings.LastIndex(content, openTag):], 120),
			Detail:   "unterminated tool call tag",
		}
	case closes > opens:
		return &conderr.FormatError{
			Expected: openTag,
			Got:      truncate(content, 120),
			Detail:   "closing tag without matching open",
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
