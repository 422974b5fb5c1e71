// Package graph provides the code knowledge-graph collaborators consumed by
// the tool-agent: a SQLite node store for code bodies and a Mangle kernel
// for relational queries over graph edges.
package graph

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"graphchat/internal/logging"
	"graphchat/internal/types"
)

// Store holds graph nodes (code bodies) and edges in SQLite.
type Store struct {
	mu sync.RWMutex
	db *sql.DB
}

// Open opens (creating if needed) the graph database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open graph db: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Graph("Graph store opened: %s", path)
	return s, nil
}

var graphMigrations = []string{
	`CREATE TABLE IF NOT EXISTS nodes (
		project_id TEXT NOT NULL,
		node_id    TEXT NOT NULL,
		name       TEXT NOT NULL,
		file_path  TEXT NOT NULL DEFAULT '',
		docstring  TEXT NOT NULL DEFAULT '',
		code       TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (project_id, node_id)
	)`,
	`CREATE TABLE IF NOT EXISTS edges (
		project_id TEXT NOT NULL,
		src        TEXT NOT NULL,
		dst        TEXT NOT NULL,
		relation   TEXT NOT NULL,
		PRIMARY KEY (project_id, src, dst, relation)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_nodes_name ON nodes (project_id, name)`,
}

func (s *Store) migrate() error {
	for i, stmt := range graphMigrations {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("graph migration %d failed: %w", i, err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertNode inserts or replaces a graph node.
func (s *Store) UpsertNode(ctx context.Context, projectID string, node types.NodeCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO nodes (project_id, node_id, name, file_path, docstring, code)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		projectID, node.NodeID, node.Name, node.FilePath, node.Docstring, node.Code,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert node %s: %w", node.NodeID, err)
	}
	return nil
}

// UpsertEdge inserts a directed edge between two nodes.
func (s *Store) UpsertEdge(ctx context.Context, projectID, src, dst, relation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO edges (project_id, src, dst, relation) VALUES (?, ?, ?, ?)`,
		projectID, src, dst, relation,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert edge %s->%s: %w", src, dst, err)
	}
	return nil
}

// GetCodeFromNodeIDs resolves code bodies for the given node ids with a
// single batched query. Unknown ids are silently absent from the result.
func (s *Store) GetCodeFromNodeIDs(ctx context.Context, projectID string, nodeIDs []string) ([]types.NodeCode, error) {
	timer := logging.StartTimer(logging.CategoryGraph, "GetCodeFromNodeIDs")
	defer timer.Stop()

	if len(nodeIDs) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := strings.Repeat("?,", len(nodeIDs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]interface{}, 0, len(nodeIDs)+1)
	args = append(args, projectID)
	for _, id := range nodeIDs {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT node_id, name, file_path, docstring, code
		 FROM nodes
		 WHERE project_id = ? AND node_id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]types.NodeCode, len(nodeIDs))
	for rows.Next() {
		var n types.NodeCode
		if err := rows.Scan(&n.NodeID, &n.Name, &n.FilePath, &n.Docstring, &n.Code); err != nil {
			continue
		}
		byID[n.NodeID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Preserve request order.
	results := make([]types.NodeCode, 0, len(byID))
	for _, id := range nodeIDs {
		if n, ok := byID[id]; ok {
			results = append(results, n)
		}
	}

	logging.Graph("Resolved %d/%d nodes for project=%s", len(results), len(nodeIDs), projectID)
	return results, nil
}

// FindNodesByName returns nodes whose name matches the given probable name.
func (s *Store) FindNodesByName(ctx context.Context, projectID, probableName string, limit int) ([]types.NodeCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT node_id, name, file_path, docstring, code
		 FROM nodes
		 WHERE project_id = ? AND name LIKE ?
		 ORDER BY name LIMIT ?`,
		projectID, "%"+probableName+"%", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes by name: %w", err)
	}
	defer rows.Close()

	var results []types.NodeCode
	for rows.Next() {
		var n types.NodeCode
		if err := rows.Scan(&n.NodeID, &n.Name, &n.FilePath, &n.Docstring, &n.Code); err != nil {
			continue
		}
		results = append(results, n)
	}
	return results, rows.Err()
}

// FileStructure returns the distinct file paths of a project, sorted, one
// per line. A cheap project overview for the tool-agent.
func (s *Store) FileStructure(ctx context.Context, projectID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT file_path FROM nodes WHERE project_id = ? AND file_path != ''`,
		projectID,
	)
	if err != nil {
		return "", fmt.Errorf("failed to query file structure: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			continue
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	sort.Strings(paths)
	return strings.Join(paths, "\n"), nil
}

// Edges returns all edges of a project, used to seed the query kernel.
func (s *Store) Edges(ctx context.Context, projectID string) ([][3]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT src, dst, relation FROM edges WHERE project_id = ?`, projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	var edges [][3]string
	for rows.Next() {
		var src, dst, rel string
		if err := rows.Scan(&src, &dst, &rel); err != nil {
			continue
		}
		edges = append(edges, [3]string{src, dst, rel})
	}
	return edges, rows.Err()
}
