package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"conductor/internal/agent/domain"
	"conductor/internal/agent/ports"
	"conductor/internal/config"
	"conductor/internal/orchestrator"
	"conductor/internal/registry"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run \"task description\"",
		Short: "Run one workflow and stream its progress",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			orch, err := buildOrchestrator(cfg)
			if err != nil {
				return err
			}
			return runWorkflow(orch, strings.Join(args, " "))
		},
	}
}

func runWorkflow(orch *orchestrator.Orchestrator, description string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workflowID, err := orch.StartWorkflow(ctx, description)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s\n", gray("workflow"), bold(workflowID))

	events, cancel := orch.Events().Subscribe(workflowID)
	defer cancel()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return printOutcome(orch.Background(), workflowID)
			}
			renderEvent(event)
		case <-ctx.Done():
			fmt.Println(yellow("interrupted; workflow keeps running in the background"))
			return nil
		}
	}
}

func printOutcome(background *registry.BackgroundExecutionRegistry, workflowID string) error {
	state, ok := background.GetState(workflowID)
	if !ok {
		return fmt.Errorf("workflow %s left no state behind", workflowID)
	}
	switch state.Status {
	case registry.WorkflowCompleted:
		fmt.Printf("\n%s\n%s\n", green("done"), state.Content)
		return nil
	case registry.WorkflowFailed:
		return fmt.Errorf("workflow failed: %s", state.ErrorMessage)
	}
	return nil
}

func renderEvent(event ports.WorkflowEvent) {
	switch ev := event.(type) {
	case *domain.IterationStartEvent:
		fmt.Printf("%s\n", gray(fmt.Sprintf("── iteration %d/%d", ev.Iteration, ev.TotalIters)))

	case *domain.ReasoningEvent:
		fmt.Printf("%s %s\n", cyan("thinking"), gray(truncate(ev.Content, 200)))

	case *domain.AssistantMessageEvent:
		if ev.ToolCallCount == 0 && ev.Content != "" {
			fmt.Printf("%s %s\n", blue("assistant"), ev.Content)
		}

	case *domain.ToolCallStartEvent:
		fmt.Printf("%s %s\n", yellow("tool"), ev.ToolName)

	case *domain.ToolCallCompleteEvent:
		if ev.Error != nil {
			fmt.Printf("  %s %s: %v\n", red("✗"), ev.ToolName, ev.Error)
		} else {
			fmt.Printf("  %s %s %s\n", green("✓"), ev.ToolName, gray(truncate(ev.Result, 120)))
		}

	case *domain.CorrectiveFeedbackEvent:
		fmt.Printf("%s %s\n", yellow("retry"), gray(ev.Detail))

	case *domain.SubAgentStartedEvent:
		fmt.Printf("%s %s %s\n", cyan("subagent"), bold(ev.AgentID), gray(truncate(ev.Description, 80)))

	case *domain.SubAgentCompletedEvent:
		fmt.Printf("%s %s %s\n", cyan("subagent"), ev.AgentID, gray(string(ev.Status)))

	case *domain.AwaitingConfirmationEvent:
		fmt.Printf("%s %s\n", yellow("confirm"), ev.Prompt)
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
