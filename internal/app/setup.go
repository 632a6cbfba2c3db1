package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/tracing"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/docsage/docsage/db"
	"github.com/docsage/docsage/internal/answer"
	"github.com/docsage/docsage/internal/api"
	"github.com/docsage/docsage/internal/chat"
	"github.com/docsage/docsage/internal/config"
	"github.com/docsage/docsage/internal/evidence"
	"github.com/docsage/docsage/internal/persona"
	"github.com/docsage/docsage/internal/ratelimit"
	"github.com/docsage/docsage/internal/retrieval"
	"github.com/docsage/docsage/internal/rewrite"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	pool, err := provideDBPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
	}
	a.Embedder = embedder

	gate, gateCancel, err := provideGate(ctx, pool, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Gate = gate
	a.cancel = gateCancel

	pipeline, graph, catalog, err := providePipeline(g, embedder, pool, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Pipeline = pipeline

	auth, err := api.NewHMACAuthenticator([]byte(cfg.AuthSecret))
	if err != nil {
		return nil, fmt.Errorf("creating authenticator: %w", err)
	}

	server, err := api.NewServer(api.ServerConfig{
		Logger:     logger,
		Auth:       auth,
		Gate:       gate,
		Pipeline:   pipeline,
		Graph:      graph,
		Catalog:    catalog,
		Pool:       pool,
		TrustProxy: cfg.TrustProxy,
		RateBurst:  cfg.IPBurst,
	})
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	a.Server = server

	return a, nil
}

// provideOtelShutdown sets up OTLP trace export before Genkit
// initialization, so spans from generation and embedding calls land in
// Genkit's TracerProvider. An empty endpoint disables tracing.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger *slog.Logger) func() {
	if cfg.OTLPEndpoint == "" {
		return func() {}
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(), // local collector, no TLS
	)
	if err != nil {
		logger.Warn("creating OTLP exporter, tracing disabled", "error", err)
		return func() {}
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	logger.Debug("trace export enabled", "endpoint", cfg.OTLPEndpoint)

	shutdown := tracing.TracerProvider().Shutdown

	//nolint:contextcheck // Independent context: shutdown runs during teardown when parent is canceled
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideDBPool creates a PostgreSQL connection pool and runs migrations.
func provideDBPool(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.DatabaseURL(), logger.With("component", "db")); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideGenkit initializes Genkit with the Gemini provider.
// Call ordering in Setup ensures tracing is set up first.
func provideGenkit(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*genkit.Genkit, error) {
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit with gemini provider")
	}
	logger.Info("initialized Genkit with gemini provider", "model", cfg.ModelName)
	return g, nil
}

// provideGate builds the per-user admission gate backed by the shared
// PostgreSQL counter table, and starts the background window pruner.
// The returned cancel stops the pruner.
func provideGate(ctx context.Context, pool *pgxpool.Pool, cfg *config.Config, logger *slog.Logger) (*ratelimit.Gate, context.CancelFunc, error) {
	counters, err := ratelimit.NewPostgresCounters(pool, logger.With("component", "ratelimit"))
	if err != nil {
		return nil, nil, fmt.Errorf("creating rate counters: %w", err)
	}

	limits := make(map[ratelimit.Operation]ratelimit.Limit, len(cfg.RateLimits))
	maxWindow := time.Duration(0)
	for op, budget := range cfg.RateLimits {
		limits[ratelimit.Operation(op)] = ratelimit.Limit{
			Count:  budget.Count,
			Window: budget.Window,
		}
		if budget.Window > maxWindow {
			maxWindow = budget.Window
		}
	}

	gate, err := ratelimit.NewGate(counters, limits, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating admission gate: %w", err)
	}

	pruneCtx, cancel := context.WithCancel(ctx)
	go counters.StartPruning(pruneCtx, maxWindow)

	return gate, cancel, nil
}

// providePipeline builds the full question-to-answer pipeline and the
// workspace read stores shared with the HTTP layer.
func providePipeline(g *genkit.Genkit, embedder ai.Embedder, pool *pgxpool.Pool, cfg *config.Config, logger *slog.Logger) (*chat.Pipeline, *evidence.GraphStore, *evidence.Catalog, error) {
	vectors, err := evidence.NewVectorIndex(pool, logger.With("component", "vector"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating vector index: %w", err)
	}
	graph, err := evidence.NewGraphStore(pool, logger.With("component", "graph"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating graph store: %w", err)
	}
	catalog, err := evidence.NewCatalog(pool, logger.With("component", "catalog"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating catalog: %w", err)
	}

	engine, err := retrieval.NewEngine(retrieval.Config{
		Embedder: embedder,
		Vectors:  vectors,
		Graph:    graph,
		Catalog:  catalog,
		Logger:   logger.With("component", "retrieval"),
		ChunkK:   cfg.ChunkTopK,
		MinScore: cfg.ChunkMinScore,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating fusion engine: %w", err)
	}

	rewriter, err := rewrite.New(g, cfg.RewriteModelName, logger.With("component", "rewrite"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating query rewriter: %w", err)
	}

	synth, err := answer.New(g, cfg.ModelName, cfg.GenerationTimeout, logger.With("component", "answer"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating synthesizer: %w", err)
	}

	pipeline, err := chat.New(chat.Config{
		Rewriter: rewriter,
		Fuser:    engine,
		Modes:    catalog,
		Persona:  persona.Resolve,
		Synth:    synth,
		Logger:   logger.With("component", "chat"),
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating chat pipeline: %w", err)
	}

	// Expose the pipeline in the Genkit developer UI as well.
	chat.DefineFlow(g, pipeline)

	return pipeline, graph, catalog, nil
}
