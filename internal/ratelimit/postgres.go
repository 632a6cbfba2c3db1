package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// incrCounterSQL performs the atomic read-modify-write. The upsert
// runs as a single statement, so concurrent increments on the same
// (user, operation, window) row serialize inside PostgreSQL and no
// count is ever lost.
const incrCounterSQL = `INSERT INTO rate_counters (user_id, operation, window_start, count)
	VALUES ($1, $2, $3, 1)
	ON CONFLICT (user_id, operation, window_start)
	DO UPDATE SET count = rate_counters.count + 1
	RETURNING count`

const pruneCountersSQL = `DELETE FROM rate_counters WHERE window_start < $1`

// pruneInterval controls how often expired windows are deleted.
// Pruning is hygiene, not correctness: Admit only ever reads the
// current window's row.
const pruneInterval = 5 * time.Minute

// PostgresCounters is the production CounterStore, one row per
// (user, operation, window) in the rate_counters table.
//
// PostgresCounters is safe for concurrent use by multiple goroutines.
type PostgresCounters struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresCounters creates a CounterStore over the given pool.
func NewPostgresCounters(pool *pgxpool.Pool, logger *slog.Logger) (*PostgresCounters, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresCounters{pool: pool, logger: logger}, nil
}

// Incr atomically increments and returns the counter for the window.
func (p *PostgresCounters) Incr(ctx context.Context, userID string, op Operation, windowStart time.Time, _ time.Duration) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx, incrCounterSQL, userID, string(op), windowStart).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("incrementing rate counter: %w", err)
	}
	return count, nil
}

// StartPruning deletes expired counter windows on a fixed interval
// until ctx is canceled. maxWindow should be the longest configured
// budget window.
func (p *PostgresCounters) StartPruning(ctx context.Context, maxWindow time.Duration) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-2 * maxWindow)
			tag, err := p.pool.Exec(ctx, pruneCountersSQL, cutoff)
			if err != nil {
				p.logger.Warn("pruning rate counters", "error", err)
				continue
			}
			if tag.RowsAffected() > 0 {
				p.logger.Debug("pruned rate counters", "rows", tag.RowsAffected())
			}
		}
	}
}
