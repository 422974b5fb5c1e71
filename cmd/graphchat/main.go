package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"graphchat/internal/config"
	"graphchat/internal/logging"
)

var (
	// Global flags
	verbose    bool
	workspace  string
	configPath string

	// Loaded configuration, available to all subcommands after PersistentPreRunE.
	cfg *config.Config

	// Logger for command-level reporting; category logs live under the
	// workspace and are managed by internal/logging.
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "graphchat",
	Short: "graphchat - streaming conversational code assistant",
	Long: `graphchat answers questions about a codebase through a knowledge graph.

Each query is classified first: questions answerable from conversation
context stream directly from the model, while code-grounded questions run a
tool-using agent against the project knowledge graph before answering.

Answers stream as JSON chunks of {citations, message}.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if workspace == "" {
			wd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to determine workspace: %w", err)
			}
			workspace = wd
		}

		var err error
		cfg, err = config.Load(workspace, configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Debug = true
		}
		if err := logging.Initialize(cfg.Workspace, cfg.Debug); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}

		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace directory (default: cwd)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config YAML")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(agentsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
