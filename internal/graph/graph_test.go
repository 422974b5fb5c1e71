package graph

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphchat/internal/types"
)

func newTestGraph(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedNodes(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	nodes := []types.NodeCode{
		{NodeID: "a", Name: "AuthService", FilePath: "app/auth/service.go", Docstring: "auth entry", Code: "func Login() {}"},
		{NodeID: "b", Name: "TokenStore", FilePath: "app/auth/tokens.go", Docstring: "token cache", Code: "type TokenStore struct{}"},
		{NodeID: "c", Name: "UserRepo", FilePath: "app/users/repo.go", Docstring: "", Code: "type UserRepo struct{}"},
	}
	for _, n := range nodes {
		require.NoError(t, s.UpsertNode(ctx, "proj", n))
	}
	require.NoError(t, s.UpsertEdge(ctx, "proj", "a", "b", "calls"))
	require.NoError(t, s.UpsertEdge(ctx, "proj", "b", "c", "uses"))
}

func TestStore_GetCodeFromNodeIDs_Batched(t *testing.T) {
	s := newTestGraph(t)
	seedNodes(t, s)

	nodes, err := s.GetCodeFromNodeIDs(context.Background(), "proj", []string{"b", "a", "missing"})
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	// Request order preserved, unknown ids absent.
	assert.Equal(t, "b", nodes[0].NodeID)
	assert.Equal(t, "a", nodes[1].NodeID)
	assert.Equal(t, "func Login() {}", nodes[1].Code)
}

func TestStore_GetCodeFromNodeIDs_Empty(t *testing.T) {
	s := newTestGraph(t)

	nodes, err := s.GetCodeFromNodeIDs(context.Background(), "proj", nil)
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestStore_FileStructure(t *testing.T) {
	s := newTestGraph(t)
	seedNodes(t, s)

	structure, err := s.FileStructure(context.Background(), "proj")
	require.NoError(t, err)
	assert.Equal(t, "app/auth/service.go\napp/auth/tokens.go\napp/users/repo.go", structure)
}

func TestKernel_Neighbours(t *testing.T) {
	s := newTestGraph(t)
	seedNodes(t, s)

	edges, err := s.Edges(context.Background(), "proj")
	require.NoError(t, err)

	k := NewKernel()
	require.NoError(t, k.LoadProject(edges))

	neighbours, err := k.Neighbours("b")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "c"}, neighbours)
}

func TestKernel_ReachableIsTransitive(t *testing.T) {
	k := NewKernel()
	require.NoError(t, k.LoadProject([][3]string{
		{"a", "b", "calls"},
		{"b", "c", "calls"},
	}))

	facts, err := k.Query("reachable")
	require.NoError(t, err)

	found := false
	for _, f := range facts {
		if len(f.Args) == 2 && f.Args[0] == "a" && f.Args[1] == "c" {
			found = true
		}
	}
	assert.True(t, found, "a should reach c transitively")
}

func TestKernel_EmptyProject(t *testing.T) {
	k := NewKernel()
	require.NoError(t, k.LoadProject(nil))

	facts, err := k.Query("neighbour")
	require.NoError(t, err)
	assert.Empty(t, facts)
}

func TestToolset_CodeFromNodeIDsTool(t *testing.T) {
	s := newTestGraph(t)
	seedNodes(t, s)
	k := NewKernel()
	require.NoError(t, k.LoadProject(nil))

	tools := Toolset(s, k, "proj")
	var lookup types.Tool
	for _, tool := range tools {
		if tool.Name() == "get_code_from_multiple_node_ids" {
			lookup = tool
		}
	}
	require.NotNil(t, lookup)

	out, err := lookup.Run(context.Background(), map[string]interface{}{
		"node_ids": []interface{}{"a"},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "AuthService")

	_, err = lookup.Run(context.Background(), map[string]interface{}{})
	assert.Error(t, err)
}
