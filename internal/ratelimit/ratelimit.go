// Package ratelimit implements the per-user admission gate that bounds
// downstream model-API cost.
//
// Each operation has an independent trailing-window budget. Counters
// live in a shared CounterStore and are incremented with an atomic
// read-modify-write, so concurrent requests from the same user cannot
// double-count or lose counts. The gate fails closed: when the counter
// store is unreachable the request is rejected, never silently
// admitted.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Operation identifies an independently budgeted request class.
type Operation string

// Budgeted operations.
const (
	OpChat      Operation = "chat"
	OpUpload    Operation = "upload"
	OpGraphRead Operation = "graph-read"
)

// ErrStoreUnavailable indicates the counter store could not be
// reached. Callers must treat this as a rejection.
var ErrStoreUnavailable = errors.New("rate counter store unavailable")

// Limit is the budget for one operation: at most Count requests per
// trailing Window.
type Limit struct {
	Count  int64
	Window time.Duration
}

// DefaultLimits returns the stock budgets. Values are configuration,
// not law; config can override them per deployment.
func DefaultLimits() map[Operation]Limit {
	return map[Operation]Limit{
		OpChat:      {Count: 50, Window: 30 * time.Minute},
		OpUpload:    {Count: 10, Window: 30 * time.Minute},
		OpGraphRead: {Count: 100, Window: 30 * time.Minute},
	}
}

// Decision is the outcome of one admission attempt. Remaining and
// ResetAt carry enough information for the caller to render
// "try again in N seconds".
type Decision struct {
	Allowed   bool
	Remaining int64
	Limit     int64
	ResetAt   time.Time
}

// CounterStore is the atomic sliding-window counter consumed by Gate.
// Incr must atomically increment and return the counter for the given
// key and window; entries expire after the window length.
type CounterStore interface {
	Incr(ctx context.Context, userID string, op Operation, windowStart time.Time, ttl time.Duration) (int64, error)
}

// Gate is the per-user, per-operation admission gate.
//
// Gate is safe for concurrent use by multiple goroutines.
type Gate struct {
	store  CounterStore
	limits map[Operation]Limit
	logger *slog.Logger
	now    func() time.Time // injectable clock for tests
}

// NewGate creates a Gate over the given counter store. Operations
// missing from limits are denied outright.
func NewGate(store CounterStore, limits map[Operation]Limit, logger *slog.Logger) (*Gate, error) {
	if store == nil {
		return nil, fmt.Errorf("counter store is required")
	}
	if len(limits) == 0 {
		limits = DefaultLimits()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{store: store, limits: limits, logger: logger, now: time.Now}, nil
}

// Admit records one attempt and decides whether it is within budget.
// The attempt is counted even when rejected, which keeps the counter
// monotone under concurrent bursts.
func (g *Gate) Admit(ctx context.Context, userID string, op Operation) (Decision, error) {
	limit, ok := g.limits[op]
	if !ok {
		g.logger.Warn("admission attempt for unbudgeted operation", "operation", op)
		return Decision{Allowed: false}, fmt.Errorf("no budget configured for operation %q", op)
	}

	now := g.now()
	windowStart := now.Truncate(limit.Window)
	resetAt := windowStart.Add(limit.Window)

	count, err := g.store.Incr(ctx, userID, op, windowStart, limit.Window)
	if err != nil {
		// Fail closed: an unreachable store must not become an
		// unlimited budget.
		g.logger.Error("rate counter increment failed, rejecting",
			"user", userID, "operation", op, "error", err)
		return Decision{
			Allowed: false,
			Limit:   limit.Count,
			ResetAt: resetAt,
		}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	remaining := limit.Count - count
	if remaining < 0 {
		remaining = 0
	}

	d := Decision{
		Allowed:   count <= limit.Count,
		Remaining: remaining,
		Limit:     limit.Count,
		ResetAt:   resetAt,
	}
	if !d.Allowed {
		g.logger.Warn("rate limit exceeded",
			"user", userID, "operation", op, "count", count, "limit", limit.Count)
	}
	return d, nil
}

// RetrySeconds returns the whole seconds until the decision's window
// resets, never less than 1 for a rejected decision.
func (d Decision) RetrySeconds(now time.Time) int {
	secs := int(d.ResetAt.Sub(now).Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}
