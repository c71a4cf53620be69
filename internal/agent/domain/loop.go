package domain

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"conductor/internal/agent/ports"
	conderr "conductor/internal/errors"
	"conductor/internal/logging"
	id "conductor/internal/utils/id"
)

// DefaultMaxIterations bounds the reason-act cycle when neither the
// configuration nor the identity overrides it.
const DefaultMaxIterations = 50

// Services bundles the collaborators one execution needs. Every field is a
// port; the loop owns no I/O of its own.
type Services struct {
	Provider  ports.ReasoningProvider
	Parser    ports.FunctionCallParser
	Tools     ports.ToolInvoker
	Store     ports.Store
	Events    ports.EventSink
	Activity  ports.ActivitySink
	Estimator ports.TokenEstimator
}

func (s *Services) normalize() {
	if s.Events == nil {
		s.Events = ports.NopSink()
	}
	if s.Activity == nil {
		s.Activity = ports.NopActivity()
	}
	if s.Store == nil {
		s.Store = ports.NopStore()
	}
}

// LoopConfig captures tunables for the tool-call loop.
type LoopConfig struct {
	MaxIterations int
	Temperature   float64
	MaxTokens     int
	Logger        logging.Logger
	Clock         ports.Clock
}

// ToolCallLoop drives the iterative consult-parse-dispatch cycle for one
// execution at a time. Instances are stateless across runs and safe for
// concurrent Run calls.
type ToolCallLoop struct {
	maxIterations int
	temperature   float64
	maxTokens     int
	logger        logging.Logger
	clock         ports.Clock
	services      Services
}

// NewToolCallLoop builds a loop around the given services.
func NewToolCallLoop(cfg LoopConfig, services Services) *ToolCallLoop {
	services.normalize()
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	clock := cfg.Clock
	if clock == nil {
		clock = ports.SystemClock()
	}
	return &ToolCallLoop{
		maxIterations: maxIter,
		temperature:   cfg.Temperature,
		maxTokens:     cfg.MaxTokens,
		logger:        logging.OrNop(cfg.Logger),
		clock:         clock,
		services:      services,
	}
}

// runState is the per-run conversation and accounting.
type runState struct {
	task       Task
	identity   ports.AgentIdentity
	messages   []ports.Message
	iterations int
	tokensIn   int
	tokensOut  int
	toolTrail  []ToolCallRecord
	subCalls   []ports.SubCallRecord
}

// Run executes the loop until a final answer, a fatal error, or the iteration
// cap. The returned report is never nil; when err is non-nil the report's
// status and error message mirror it.
func (l *ToolCallLoop) Run(ctx context.Context, task Task, identity ports.AgentIdentity) (*Report, error) {
	startTime := l.clock.Now()
	maxIter := l.maxIterations
	if identity.MaxIterations > 0 {
		maxIter = identity.MaxIterations
	}

	l.logger.Info("starting loop task=%s agent=%s max_iterations=%d", task.ID, identity.ID, maxIter)

	state := &runState{
		task:     task,
		identity: identity,
		messages: []ports.Message{{Role: "user", Content: task.Description}},
	}

	for state.iterations < maxIter {
		if ctx.Err() != nil {
			l.logger.Info("context cancelled, stopping execution: %v", ctx.Err())
			report := l.finalize(state, StatusFailed, "", "cancelled", startTime)
			l.emitComplete(state, report)
			return report, ctx.Err()
		}

		state.iterations++
		l.logger.Debug("=== iteration %d/%d ===", state.iterations, maxIter)

		l.emit(state, &IterationStartEvent{
			BaseEvent:  l.baseEvent(state),
			Iteration:  state.iterations,
			TotalIters: maxIter,
		})

		resp, err := l.consult(ctx, state)
		if err != nil {
			provErr := &conderr.ProviderError{Err: err}
			l.logger.Error("provider call failed: %v", provErr)
			report := l.finalize(state, StatusFailed, "", provErr.Error(), startTime)
			l.emitComplete(state, report)
			return report, provErr
		}

		l.accountTokens(state, resp)

		if thinking := strings.TrimSpace(resp.Thinking); thinking != "" {
			l.emit(state, &ReasoningEvent{
				BaseEvent: l.baseEvent(state),
				Iteration: state.iterations,
				Content:   thinking,
			})
			l.persist(ctx, ports.RecordKindReasoningStep, map[string]any{
				"workflow_id": state.task.WorkflowID,
				"task_id":     state.task.ID,
				"iteration":   state.iterations,
				"content":     thinking,
			})
		}

		calls, parseErr := l.services.Parser.Parse(resp.Content)
		if parseErr != nil {
			var formatErr *conderr.FormatError
			if conderr.AsFormatError(parseErr, &formatErr) {
				l.corrective(state, resp.Content, formatErr)
				continue
			}
			l.logger.Error("parser failed non-recoverably: %v", parseErr)
			report := l.finalize(state, StatusFailed, "", parseErr.Error(), startTime)
			l.emitComplete(state, report)
			return report, parseErr
		}

		l.emit(state, &AssistantMessageEvent{
			BaseEvent:     l.baseEvent(state),
			Iteration:     state.iterations,
			Content:       resp.Content,
			ToolCallCount: len(calls),
		})

		if len(calls) == 0 {
			trimmed := strings.TrimSpace(resp.Content)
			if trimmed == "" {
				l.logger.Warn("empty response without tool calls, continuing")
				continue
			}
			report := l.finalize(state, StatusSuccess, trimmed, "", startTime)
			l.persistReport(ctx, state, report)
			l.emitComplete(state, report)
			return report, nil
		}

		state.messages = append(state.messages, ports.Message{Role: "assistant", Content: resp.Content})

		results := l.dispatch(ctx, state, calls)
		state.messages = append(state.messages, l.buildToolMessages(results)...)
	}

	l.logger.Warn("iteration cap reached task=%s iterations=%d", task.ID, state.iterations)
	status := StatusFailed
	if len(state.toolTrail) > 0 {
		// Tool work happened, so the outcome is partial rather than a
		// plain failure.
		status = StatusPartial
	}
	report := l.finalize(state, status, "",
		fmt.Sprintf("no final answer after %d iterations", state.iterations), startTime)
	l.persistReport(ctx, state, report)
	l.emitComplete(state, report)
	return report, nil
}

// consult sends the conversation to the provider, recording activity on both
// sides of the call so a slow provider never looks like a hang.
func (l *ToolCallLoop) consult(ctx context.Context, state *runState) (*ports.CompletionResponse, error) {
	l.services.Activity.RecordActivity()

	req := ports.CompletionRequest{
		Messages:     state.messages,
		SystemPrompt: state.identity.SystemPrompt,
		Temperature:  l.temperature,
		MaxTokens:    l.maxTokens,
	}
	resp, err := l.services.Provider.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	l.services.Activity.RecordActivity()
	return resp, nil
}

func (l *ToolCallLoop) accountTokens(state *runState, resp *ports.CompletionResponse) {
	if resp.Usage.TotalTokens > 0 {
		state.tokensIn += resp.Usage.PromptTokens
		state.tokensOut += resp.Usage.CompletionTokens
		return
	}
	if l.services.Estimator == nil {
		return
	}
	state.tokensIn += l.services.Estimator.EstimateMessages(state.messages)
	state.tokensOut += l.services.Estimator.Estimate(resp.Content)
}

// corrective records the malformed response verbatim and injects the format
// error's feedback as the next user turn. The provider sees its own mistake.
func (l *ToolCallLoop) corrective(state *runState, content string, formatErr *conderr.FormatError) {
	l.logger.Warn("malformed invocation markup, injecting corrective feedback: %v", formatErr)

	l.emit(state, &CorrectiveFeedbackEvent{
		BaseEvent: l.baseEvent(state),
		Iteration: state.iterations,
		Detail:    formatErr.Detail,
	})

	state.messages = append(state.messages,
		ports.Message{Role: "assistant", Content: content},
		ports.Message{Role: "user", Content: formatErr.Feedback()},
	)
}

// dispatch runs the parsed calls in parallel, preserving call order in the
// result slice. Allowlist rejections short-circuit without touching the
// invoker.
func (l *ToolCallLoop) dispatch(ctx context.Context, state *runState, calls []ports.ToolCall) []*ports.ToolResult {
	results := make([]*ports.ToolResult, len(calls))

	var wg sync.WaitGroup
	for i := range calls {
		call := calls[i]
		if call.ID == "" {
			call.ID = id.NewCallID(i)
		}

		l.emit(state, &ToolCallStartEvent{
			BaseEvent: l.baseEvent(state),
			Iteration: state.iterations,
			CallID:    call.ID,
			ToolName:  call.Name,
			Arguments: call.Arguments,
		})

		wg.Add(1)
		go func(idx int, tc ports.ToolCall) {
			defer wg.Done()
			results[idx] = l.runTool(ctx, state, tc)
		}(i, call)
	}
	wg.Wait()

	for _, result := range results {
		state.toolTrail = append(state.toolTrail, ToolCallRecord{
			CallID:    result.CallID,
			Name:      toolNameFromMetadata(result),
			Succeeded: result.Success(),
			Duration:  result.Duration,
		})
		state.subCalls = append(state.subCalls, result.SubCalls...)
	}
	return results
}

func (l *ToolCallLoop) runTool(ctx context.Context, state *runState, call ports.ToolCall) *ports.ToolResult {
	started := l.clock.Now()
	l.services.Activity.RecordActivity()

	var result *ports.ToolResult
	if !state.identity.AllowsTool(call.Name) {
		result = &ports.ToolResult{
			CallID: call.ID,
			Error:  fmt.Errorf("tool %q not permitted for agent %q", call.Name, state.identity.ID),
		}
	} else {
		res, err := l.services.Tools.Call(ctx, call.Name, call.Arguments)
		if err != nil {
			toolErr := &conderr.ToolExecutionError{ToolName: call.Name, Err: err}
			l.logger.Warn("tool %s failed: %v", call.Name, toolErr)
			result = &ports.ToolResult{CallID: call.ID, Error: toolErr}
		} else {
			result = res
			if result.CallID == "" {
				result.CallID = call.ID
			}
		}
	}

	result.Duration = l.clock.Now().Sub(started)
	if result.Metadata == nil {
		result.Metadata = map[string]any{}
	}
	result.Metadata["tool_name"] = call.Name

	l.services.Activity.RecordActivity()

	l.persist(ctx, ports.RecordKindToolExecution, map[string]any{
		"workflow_id": state.task.WorkflowID,
		"task_id":     state.task.ID,
		"call_id":     result.CallID,
		"tool":        call.Name,
		"succeeded":   result.Success(),
		"duration_ms": result.Duration.Milliseconds(),
	})

	var resultErr error
	if !result.Success() {
		resultErr = result.Error
	}
	l.emit(state, &ToolCallCompleteEvent{
		BaseEvent: l.baseEvent(state),
		CallID:    result.CallID,
		ToolName:  call.Name,
		Result:    result.Content,
		Error:     resultErr,
		Duration:  result.Duration,
	})

	return result
}

// buildToolMessages converts tool results into the messages sent back to the
// provider. Failures are reported inline so the provider can adapt.
func (l *ToolCallLoop) buildToolMessages(results []*ports.ToolResult) []ports.Message {
	messages := make([]ports.Message, 0, len(results))
	for _, result := range results {
		var content string
		switch {
		case result.Error != nil:
			content = fmt.Sprintf("Tool %s failed: %v", result.CallID, result.Error)
		case strings.TrimSpace(result.Content) != "":
			content = strings.TrimSpace(result.Content)
		default:
			content = fmt.Sprintf("Tool %s completed successfully.", result.CallID)
		}
		messages = append(messages, ports.Message{
			Role:       "tool",
			Content:    content,
			ToolCallID: result.CallID,
			ToolName:   toolNameFromMetadata(result),
		})
	}
	return messages
}

func (l *ToolCallLoop) finalize(state *runState, status ReportStatus, content, errMsg string, startTime time.Time) *Report {
	return &Report{
		TaskID:       state.task.ID,
		Status:       status,
		Content:      content,
		ErrorMessage: errMsg,
		Metrics: Metrics{
			Duration:   l.clock.Now().Sub(startTime),
			Iterations: state.iterations,
			TokensIn:   state.tokensIn,
			TokensOut:  state.tokensOut,
			ToolsUsed:  state.toolTrail,
			SubCalls:   state.subCalls,
		},
	}
}

func (l *ToolCallLoop) persistReport(ctx context.Context, state *runState, report *Report) {
	l.persist(ctx, ports.RecordKindReport, map[string]any{
		"workflow_id": state.task.WorkflowID,
		"task_id":     report.TaskID,
		"status":      string(report.Status),
		"content":     report.Content,
		"error":       report.ErrorMessage,
		"iterations":  report.Metrics.Iterations,
		"tokens_in":   report.Metrics.TokensIn,
		"tokens_out":  report.Metrics.TokensOut,
		"tools_used":  report.Metrics.ToolsUsed,
		"sub_calls":   report.Metrics.SubCalls,
	})
}

// persist writes a record, logging and continuing on failure. Storage is an
// observer of the loop, never a gate on it.
func (l *ToolCallLoop) persist(ctx context.Context, kind ports.RecordKind, payload map[string]any) {
	if err := l.services.Store.Persist(ctx, kind, payload); err != nil {
		l.logger.Warn("persist %s failed: %v", kind, err)
	}
}

func (l *ToolCallLoop) emit(state *runState, event WorkflowEvent) {
	l.services.Events.Emit(state.task.WorkflowID, event)
}

func (l *ToolCallLoop) emitComplete(state *runState, report *Report) {
	l.emit(state, &TaskCompleteEvent{
		BaseEvent:  l.baseEvent(state),
		Status:     report.Status,
		Content:    report.Content,
		Error:      report.ErrorMessage,
		Iterations: report.Metrics.Iterations,
	})
}

func (l *ToolCallLoop) baseEvent(state *runState) BaseEvent {
	return newBaseEvent(state.task.WorkflowID, state.task.ID, l.clock.Now())
}

func toolNameFromMetadata(result *ports.ToolResult) string {
	if result.Metadata == nil {
		return ""
	}
	name, _ := result.Metadata["tool_name"].(string)
	return name
}
