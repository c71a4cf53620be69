package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"conductor/internal/agent/ports"
	"conductor/internal/config"
	"conductor/internal/identity"
	"conductor/internal/llm"
	"conductor/internal/logging"
	"conductor/internal/observability"
	"conductor/internal/orchestrator"
	"conductor/internal/parser"
	"conductor/internal/storage"
	"conductor/internal/tokens"
	"conductor/internal/tools"
)

var version = "dev"

var (
	blue   = color.New(color.FgBlue).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

var (
	configPath string
	policyMode string
)

func main() {
	root := &cobra.Command{
		Use:   "conductor",
		Short: "Hierarchical task execution engine",
		Long: "conductor runs agent tasks through a reasoning provider, " +
			"delegating focused sub-tasks to worker agents under heartbeat " +
			"supervision and concurrency limits.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to conductor.yaml")
	root.PersistentFlags().StringVar(&policyMode, "mode", string(ports.ModePermissive),
		"autonomy mode: permissive or confirmation-required")

	root.AddCommand(newRunCmd(), newServeCmd(), newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red("error: "+err.Error()))
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("conductor %s\n", version)
		},
	}
}

func currentMode() (ports.PolicyMode, error) {
	switch ports.PolicyMode(policyMode) {
	case ports.ModePermissive:
		return ports.ModePermissive, nil
	case ports.ModeConfirmationRequired:
		return ports.ModeConfirmationRequired, nil
	default:
		return "", fmt.Errorf("unknown mode %q", policyMode)
	}
}

// buildOrchestrator assembles the production dependency graph from config.
func buildOrchestrator(cfg *config.Config) (*orchestrator.Orchestrator, error) {
	logging.SetDefaultLevel(logging.ParseLevel(cfg.Logging.Level))
	logger := logging.NewComponentLogger("Conductor")

	mode, err := currentMode()
	if err != nil {
		return nil, err
	}

	provider, err := llm.NewOpenAIProvider(llm.Config{
		BaseURL: cfg.Provider.BaseURL,
		APIKey:  cfg.Provider.APIKey,
		Model:   cfg.Provider.Model,
		Timeout: cfg.Provider.Timeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}

	store, err := storage.NewFileStore(cfg.Storage.Dir, logger)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	toolbox := tools.NewRegistry(logger)
	tools.RegisterBuiltins(toolbox)

	identities := identity.NewRegistry(logger)
	if cfg.Identity.PresetsFile != "" {
		if err := identities.LoadPresets(cfg.Identity.PresetsFile); err != nil {
			return nil, fmt.Errorf("identity presets: %w", err)
		}
	}

	return orchestrator.New(cfg, orchestrator.Deps{
		Provider:   provider,
		Parser:     parser.New(),
		Tools:      toolbox,
		Store:      store,
		Identities: identities,
		Estimator:  tokens.NewEstimator(),
		Policy:     ports.StaticPolicy(mode),
		Metrics:    observability.NewEngineMetrics(),
		Logger:     logger,
	}), nil
}
