package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"graphchat/internal/graph"
	"graphchat/internal/types"
)

var ingestProject string

// graphDump is the ingest file format: a node list plus an edge list.
type graphDump struct {
	Nodes []types.NodeCode `json:"nodes"`
	Edges []struct {
		Source   string `json:"source"`
		Target   string `json:"target"`
		Relation string `json:"relation"`
	} `json:"edges"`
}

// ingestCmd loads a knowledge-graph dump into the graph store.
var ingestCmd = &cobra.Command{
	Use:   "ingest [graph.json]",
	Short: "Load a knowledge-graph dump for a project",
	Long: `Reads a JSON dump of graph nodes and edges and stores it for querying:

  {"nodes": [{"node_id", "name", "file_path", "docstring", "code"}, ...],
   "edges": [{"source", "target", "relation"}, ...]}

Example:
  graphchat ingest --project p1 graph.json`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestProject, "project", "p", "", "project id (required)")
	_ = ingestCmd.MarkFlagRequired("project")
}

func runIngest(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read dump: %w", err)
	}

	var dump graphDump
	if err := json.Unmarshal(data, &dump); err != nil {
		return fmt.Errorf("failed to parse dump: %w", err)
	}

	graphs, err := graph.Open(cfg.Database.GraphPath)
	if err != nil {
		return fmt.Errorf("failed to open graph store: %w", err)
	}
	defer graphs.Close()

	ctx := context.Background()
	for _, node := range dump.Nodes {
		if err := graphs.UpsertNode(ctx, ingestProject, node); err != nil {
			return fmt.Errorf("failed to store node %s: %w", node.NodeID, err)
		}
	}
	for _, edge := range dump.Edges {
		if err := graphs.UpsertEdge(ctx, ingestProject, edge.Source, edge.Target, edge.Relation); err != nil {
			return fmt.Errorf("failed to store edge %s->%s: %w", edge.Source, edge.Target, err)
		}
	}

	logger.Info("graph ingested",
		zap.String("project", ingestProject),
		zap.Int("nodes", len(dump.Nodes)),
		zap.Int("edges", len(dump.Edges)))
	fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d nodes and %d edges for project %s\n",
		len(dump.Nodes), len(dump.Edges), ingestProject)
	return nil
}
