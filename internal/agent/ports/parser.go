package ports

// FunctionCallParser extracts tool calls from provider responses.
//
// Parse returns (*errors.FormatError) when invocation markup is present but
// malformed, so the loop can inject corrective feedback instead of dropping
// the attempt or surfacing raw markup to the caller.
type FunctionCallParser interface {
	Parse(content string) ([]ToolCall, error)
}
