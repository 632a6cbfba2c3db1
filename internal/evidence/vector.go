package evidence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// searchTimeout bounds a single vector search so a slow index scan
// cannot stall the whole fusion step.
const searchTimeout = 10 * time.Second

const searchChunksSQL = `SELECT c.content, d.filename, 1 - (c.embedding <=> $1) AS similarity
	FROM chunks c
	JOIN documents d ON d.id = c.document_id
	WHERE d.user_id = $2
	  AND 1 - (c.embedding <=> $1) >= $3
	ORDER BY c.embedding <=> $1
	LIMIT $4`

// VectorIndex performs user-scoped similarity search over document
// chunks stored in PostgreSQL + pgvector.
//
// VectorIndex is safe for concurrent use by multiple goroutines.
type VectorIndex struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewVectorIndex creates a VectorIndex backed by the given pool.
func NewVectorIndex(pool *pgxpool.Pool, logger *slog.Logger) (*VectorIndex, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VectorIndex{pool: pool, logger: logger}, nil
}

// Search returns up to k chunks belonging to the user whose similarity
// to queryVec is at least minScore, ordered by descending similarity.
func (v *VectorIndex) Search(ctx context.Context, queryVec []float32, userID string, k int, minScore float64) ([]Chunk, error) {
	if len(queryVec) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	queryCtx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	vec := pgvector.NewVector(queryVec)
	rows, err := v.pool.Query(queryCtx, searchChunksSQL, vec, userID, minScore, k)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.Text, &c.SourceDocument, &c.Score); err != nil {
			return nil, fmt.Errorf("scanning chunk row: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading chunk rows: %w", err)
	}

	v.logger.Debug("vector search completed",
		"user", userID, "hits", len(chunks), "min_score", minScore)
	return chunks, nil
}
