package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"graphchat/internal/agent"
	"graphchat/internal/classifier"
	"graphchat/internal/config"
	"graphchat/internal/graph"
	"graphchat/internal/orchestrator"
	"graphchat/internal/perception"
	"graphchat/internal/prompt"
	"graphchat/internal/store"
	"graphchat/internal/types"
)

var (
	askProject      string
	askUser         string
	askConversation string
	askKind         string
	askNodeIDs      []string
	askLogs         string
	askStacktrace   string
)

// askCmd runs one query through the full pipeline and prints the answer
// stream as JSON lines.
var askCmd = &cobra.Command{
	Use:   "ask [query]",
	Short: "Ask a question about a project",
	Long: `Runs a query through classification and, when needed, the
knowledge-graph tool agent. Prints one JSON object per answer chunk:
  {"citations": [...], "message": "..."}

Example:
  graphchat ask --project p1 --user alice "how does login work?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askProject, "project", "p", "", "project id (required)")
	askCmd.Flags().StringVarP(&askUser, "user", "u", "", "user id (required)")
	askCmd.Flags().StringVar(&askConversation, "conversation", "", "conversation id (default: new)")
	askCmd.Flags().StringVarP(&askKind, "agent", "a", "qna", "agent kind: qna, debugging, code_changes")
	askCmd.Flags().StringSliceVar(&askNodeIDs, "node", nil, "seed node id (repeatable)")
	askCmd.Flags().StringVar(&askLogs, "logs", "", "log excerpt for the debugging agent")
	askCmd.Flags().StringVar(&askStacktrace, "stacktrace", "", "stacktrace for the debugging agent")
	_ = askCmd.MarkFlagRequired("project")
	_ = askCmd.MarkFlagRequired("user")
}

func runAsk(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	kind := types.AgentKind(askKind)
	if !kind.Valid() {
		return fmt.Errorf("unknown agent kind %q", askKind)
	}

	conversationID := askConversation
	if conversationID == "" {
		conversationID = uuid.NewString()
		logger.Info("starting new conversation", zap.String("conversation", conversationID))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg, kind)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.histories.EnsureConversation(ctx, conversationID, askUser); err != nil {
		return fmt.Errorf("failed to open conversation: %w", err)
	}
	if err := app.histories.AddMessage(ctx, conversationID, query, types.MessageTypeHuman, nil); err != nil {
		return fmt.Errorf("failed to record query: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	for chunk := range app.orch.Run(ctx, orchestrator.Request{
		Query:          query,
		ProjectID:      askProject,
		UserID:         askUser,
		ConversationID: conversationID,
		NodeIDs:        askNodeIDs,
		Logs:           askLogs,
		Stacktrace:     askStacktrace,
	}) {
		if err := enc.Encode(chunk); err != nil {
			return err
		}
	}
	return nil
}

// app holds the wired pipeline for one command invocation.
type app struct {
	histories *store.HistoryStore
	graphs    *graph.Store
	watcher   *prompt.Watcher
	orch      *orchestrator.Orchestrator
}

func (a *app) Close() {
	if a.watcher != nil {
		_ = a.watcher.Close()
	}
	if a.graphs != nil {
		_ = a.graphs.Close()
	}
	if a.histories != nil {
		_ = a.histories.Close()
	}
}

// buildApp wires stores, the graph kernel, prompts, the provider, and the
// orchestrator for one agent kind.
func buildApp(ctx context.Context, cfg *config.Config, kind types.AgentKind) (*app, error) {
	histories, err := store.Open(cfg.Database.HistoryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}

	graphs, err := graph.Open(cfg.Database.GraphPath)
	if err != nil {
		histories.Close()
		return nil, fmt.Errorf("failed to open graph store: %w", err)
	}

	kernel := graph.NewKernel()
	edges, err := graphs.Edges(ctx, askProject)
	if err != nil {
		graphs.Close()
		histories.Close()
		return nil, fmt.Errorf("failed to load graph edges: %w", err)
	}
	if err := kernel.LoadProject(edges); err != nil {
		graphs.Close()
		histories.Close()
		return nil, fmt.Errorf("failed to build graph kernel: %w", err)
	}

	resolver, err := prompt.NewResolver(cfg.Prompts.Dir)
	if err != nil {
		graphs.Close()
		histories.Close()
		return nil, err
	}

	provider := perception.NewService(cfg)
	cls := classifier.New(provider, resolver, kind)
	runner := agent.NewRunner(provider, resolver, graphs, graphs,
		graph.Toolset(graphs, kernel, askProject),
		cfg.Streaming.MaxAgentIter, cfg.Streaming.ChannelBuffer)

	orch := orchestrator.New(kind, histories, provider, resolver, cls, runner, orchestrator.Options{
		ProjectPath:   cfg.ProjectPath,
		PartialFlush:  cfg.Streaming.PartialFlush,
		ChannelBuffer: cfg.Streaming.ChannelBuffer,
		CacheCapacity: cfg.Prompts.CacheCapacity,
	})

	var watcher *prompt.Watcher
	if cfg.Prompts.Watch {
		// Best effort: a missing prompts dir just disables hot reload.
		if w, err := prompt.NewWatcher(resolver, orch.InvalidatePromptCache); err == nil {
			watcher = w
		}
	}

	return &app{histories: histories, graphs: graphs, watcher: watcher, orch: orch}, nil
}
