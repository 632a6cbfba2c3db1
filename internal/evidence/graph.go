package evidence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const findRelatedSQL = `SELECT s.label, s.type, e.relationship, t.label, t.type
	FROM edges e
	JOIN nodes s ON s.id = e.source_node_id
	JOIN nodes t ON t.id = e.target_node_id
	JOIN documents d ON d.id = e.document_id
	WHERE d.user_id = $1
	  AND (s.label ILIKE '%' || $2 || '%' OR t.label ILIKE '%' || $2 || '%')
	LIMIT $3`

const topEntitiesSQL = `SELECT n.label, n.type, COUNT(e.id) AS degree
	FROM nodes n
	JOIN documents d ON d.id = n.document_id
	LEFT JOIN edges e ON e.source_node_id = n.id OR e.target_node_id = n.id
	WHERE d.user_id = $1
	GROUP BY n.id, n.label, n.type
	ORDER BY degree DESC, n.label
	LIMIT $2`

const listNodesSQL = `SELECT n.label, n.type, COUNT(e.id) AS degree
	FROM nodes n
	JOIN documents d ON d.id = n.document_id
	LEFT JOIN edges e ON e.source_node_id = n.id OR e.target_node_id = n.id
	WHERE d.user_id = $1
	GROUP BY n.id, n.label, n.type
	ORDER BY n.label`

const listEdgesSQL = `SELECT s.label, s.type, e.relationship, t.label, t.type
	FROM edges e
	JOIN nodes s ON s.id = e.source_node_id
	JOIN nodes t ON t.id = e.target_node_id
	JOIN documents d ON d.id = e.document_id
	WHERE d.user_id = $1
	ORDER BY s.label, e.relationship`

// GraphStore reads the user's entity-relationship graph. The graph is
// written by the external ingestion service; this adapter is read-only.
//
// GraphStore is safe for concurrent use by multiple goroutines.
type GraphStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewGraphStore creates a GraphStore backed by the given pool.
func NewGraphStore(pool *pgxpool.Pool, logger *slog.Logger) (*GraphStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GraphStore{pool: pool, logger: logger}, nil
}

// FindRelated returns up to k edges where either endpoint label
// matches term as a case-insensitive substring.
func (g *GraphStore) FindRelated(ctx context.Context, term, userID string, k int) ([]Fact, error) {
	if term == "" {
		return nil, nil
	}
	rows, err := g.pool.Query(ctx, findRelatedSQL, userID, term, k)
	if err != nil {
		return nil, fmt.Errorf("finding related entities: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows.Next, rows.Scan, rows.Err)
}

// TopEntities returns the user's k highest-degree entities across the
// whole workspace, independent of any query.
func (g *GraphStore) TopEntities(ctx context.Context, userID string, k int) ([]EntitySummary, error) {
	rows, err := g.pool.Query(ctx, topEntitiesSQL, userID, k)
	if err != nil {
		return nil, fmt.Errorf("ranking entities: %w", err)
	}
	defer rows.Close()

	var entities []EntitySummary
	for rows.Next() {
		var e EntitySummary
		if err := rows.Scan(&e.Label, &e.Type, &e.Degree); err != nil {
			return nil, fmt.Errorf("scanning entity row: %w", err)
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading entity rows: %w", err)
	}
	return entities, nil
}

// Graph is the full user graph returned by Export, used by the
// graph-read API endpoint.
type Graph struct {
	Nodes []EntitySummary `json:"nodes"`
	Edges []Fact          `json:"edges"`
}

// Export returns every node (with degree) and edge in the user's
// workspace graph.
func (g *GraphStore) Export(ctx context.Context, userID string) (*Graph, error) {
	nodeRows, err := g.pool.Query(ctx, listNodesSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}
	defer nodeRows.Close()

	graph := &Graph{}
	for nodeRows.Next() {
		var e EntitySummary
		if err := nodeRows.Scan(&e.Label, &e.Type, &e.Degree); err != nil {
			return nil, fmt.Errorf("scanning node row: %w", err)
		}
		graph.Nodes = append(graph.Nodes, e)
	}
	if err := nodeRows.Err(); err != nil {
		return nil, fmt.Errorf("reading node rows: %w", err)
	}

	edgeRows, err := g.pool.Query(ctx, listEdgesSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing edges: %w", err)
	}
	defer edgeRows.Close()

	facts, err := scanFacts(edgeRows.Next, edgeRows.Scan, edgeRows.Err)
	if err != nil {
		return nil, err
	}
	graph.Edges = facts

	g.logger.Debug("graph exported",
		"user", userID, "nodes", len(graph.Nodes), "edges", len(graph.Edges))
	return graph, nil
}

// scanFacts drains a five-column edge result set into Facts.
func scanFacts(next func() bool, scan func(...any) error, rowsErr func() error) ([]Fact, error) {
	var facts []Fact
	for next() {
		var f Fact
		if err := scan(&f.Subject, &f.SubjectType, &f.Relationship, &f.Object, &f.ObjectType); err != nil {
			return nil, fmt.Errorf("scanning edge row: %w", err)
		}
		facts = append(facts, f)
	}
	if err := rowsErr(); err != nil {
		return nil, fmt.Errorf("reading edge rows: %w", err)
	}
	return facts, nil
}
