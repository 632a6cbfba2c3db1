// Package app provides application initialization and dependency injection.
//
// App is the core container that wires the retrieval stores, the
// admission gate, the chat pipeline, and the HTTP server together.
// Setup builds everything in dependency order; Close releases it in
// reverse.
package app

import (
	"context"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docsage/docsage/internal/api"
	"github.com/docsage/docsage/internal/chat"
	"github.com/docsage/docsage/internal/config"
	"github.com/docsage/docsage/internal/ratelimit"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	// Core services
	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool
	Gate     *ratelimit.Gate
	Pipeline *chat.Pipeline
	Server   *api.Server

	// Lifecycle management
	cancel      context.CancelFunc
	otelCleanup func()
}

// Close gracefully shuts down all resources.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down application")
	}

	// 1. Stop background workers (counter pruning)
	if a.cancel != nil {
		a.cancel()
	}

	// 2. Close database pool
	if a.DBPool != nil {
		a.DBPool.Close()
	}

	// 3. Flush traces
	if a.otelCleanup != nil {
		a.otelCleanup()
	}

	return nil
}
