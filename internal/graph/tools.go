package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"graphchat/internal/logging"
	"graphchat/internal/types"
)

// Toolset builds the knowledge-graph tools for one project, bound to the
// node store and query kernel. The tool-agent runner registers these and
// invokes them by name during reasoning.
func Toolset(store *Store, kernel *Kernel, projectID string) []types.Tool {
	return []types.Tool{
		&codeFromNodeIDsTool{store: store, projectID: projectID},
		&nodesFromNameTool{store: store, projectID: projectID},
		&nodeNeighboursTool{kernel: kernel},
		&fileStructureTool{store: store, projectID: projectID},
		&kgQueryTool{kernel: kernel},
	}
}

// =============================================================================
// get_code_from_multiple_node_ids
// =============================================================================

type codeFromNodeIDsTool struct {
	store     *Store
	projectID string
}

func (t *codeFromNodeIDsTool) Name() string { return "get_code_from_multiple_node_ids" }

func (t *codeFromNodeIDsTool) Description() string {
	return "Fetch name, docstring and code for a list of graph node ids. Args: {\"node_ids\": [\"id\", ...]}"
}

func (t *codeFromNodeIDsTool) Run(ctx context.Context, args map[string]interface{}) (string, error) {
	ids := stringSlice(args["node_ids"])
	if len(ids) == 0 {
		return "", fmt.Errorf("node_ids argument required")
	}

	nodes, err := t.store.GetCodeFromNodeIDs(ctx, t.projectID, ids)
	if err != nil {
		return "", err
	}
	return encodeNodes(nodes)
}

// =============================================================================
// get_code_from_probable_node_name
// =============================================================================

type nodesFromNameTool struct {
	store     *Store
	projectID string
}

func (t *nodesFromNameTool) Name() string { return "get_code_from_probable_node_name" }

func (t *nodesFromNameTool) Description() string {
	return "Look up nodes whose name matches a probable symbol name. Args: {\"name\": \"symbol\"}"
}

func (t *nodesFromNameTool) Run(ctx context.Context, args map[string]interface{}) (string, error) {
	name, _ := args["name"].(string)
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("name argument required")
	}

	nodes, err := t.store.FindNodesByName(ctx, t.projectID, name, 10)
	if err != nil {
		return "", err
	}
	return encodeNodes(nodes)
}

// =============================================================================
// get_node_neighbours_from_node_id
// =============================================================================

type nodeNeighboursTool struct {
	kernel *Kernel
}

func (t *nodeNeighboursTool) Name() string { return "get_node_neighbours_from_node_id" }

func (t *nodeNeighboursTool) Description() string {
	return "List node ids adjacent to a node in the code graph. Args: {\"node_id\": \"id\"}"
}

func (t *nodeNeighboursTool) Run(_ context.Context, args map[string]interface{}) (string, error) {
	nodeID, _ := args["node_id"].(string)
	if nodeID == "" {
		return "", fmt.Errorf("node_id argument required")
	}

	neighbours, err := t.kernel.Neighbours(nodeID)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(neighbours)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// =============================================================================
// get_code_file_structure
// =============================================================================

type fileStructureTool struct {
	store     *Store
	projectID string
}

func (t *fileStructureTool) Name() string { return "get_code_file_structure" }

func (t *fileStructureTool) Description() string {
	return "Return the file paths known to the project graph, one per line. Args: {}"
}

func (t *fileStructureTool) Run(ctx context.Context, _ map[string]interface{}) (string, error) {
	return t.store.FileStructure(ctx, t.projectID)
}

// =============================================================================
// ask_knowledge_graph_queries
// =============================================================================

type kgQueryTool struct {
	kernel *Kernel
}

func (t *kgQueryTool) Name() string { return "ask_knowledge_graph_queries" }

func (t *kgQueryTool) Description() string {
	return "Query a derived graph relation (neighbour, calls, reachable). Args: {\"predicate\": \"calls\"}"
}

func (t *kgQueryTool) Run(_ context.Context, args map[string]interface{}) (string, error) {
	predicate, _ := args["predicate"].(string)
	if predicate == "" {
		return "", fmt.Errorf("predicate argument required")
	}

	facts, err := t.kernel.Query(predicate)
	if err != nil {
		return "", err
	}

	logging.Graph("KG query predicate=%s facts=%d", predicate, len(facts))
	var sb strings.Builder
	for _, f := range facts {
		sb.WriteString(f.String())
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// =============================================================================
// HELPERS
// =============================================================================

func encodeNodes(nodes []types.NodeCode) (string, error) {
	data, err := json.Marshal(nodes)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// stringSlice coerces a JSON-decoded array argument into []string.
func stringSlice(v interface{}) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []interface{}:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
