// Package retrieval fuses the heterogeneous evidence sources into one
// bounded bundle per query: vector-indexed chunks, the entity graph,
// workspace-level top entities, and the document catalog.
//
// Interfaces here are defined by the consumer; the evidence package
// provides the PostgreSQL implementations and tests provide mocks.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"google.golang.org/genai"

	"github.com/docsage/docsage/internal/evidence"
)

// Tunables for the four evidence lookups. The similarity threshold is
// deliberately low: pgvector cosine scores on short queries rarely
// exceed 0.6 and recall matters more than precision here because the
// generation model re-ranks in context.
const (
	DefaultChunkK        = 8
	DefaultMinScore      = 0.05
	DefaultRelatedK      = 10
	DefaultTopEntities   = 8
	DefaultPreviewLength = 150
)

// VectorSearcher finds user-scoped chunks similar to a query vector.
type VectorSearcher interface {
	Search(ctx context.Context, queryVec []float32, userID string, k int, minScore float64) ([]evidence.Chunk, error)
}

// GraphSearcher reads the user's entity graph.
type GraphSearcher interface {
	FindRelated(ctx context.Context, term, userID string, k int) ([]evidence.Fact, error)
	TopEntities(ctx context.Context, userID string, k int) ([]evidence.EntitySummary, error)
}

// CatalogLister reads the user's document catalog.
type CatalogLister interface {
	List(ctx context.Context, userID string) ([]evidence.DocumentRef, error)
}

// Engine issues the evidence lookups concurrently and assembles the
// bundle. Every source is independently fault tolerant: a failing
// store degrades its section to empty with a warning instead of
// aborting the request.
//
// Engine is safe for concurrent use by multiple goroutines.
type Engine struct {
	embedder ai.Embedder
	vectors  VectorSearcher
	graph    GraphSearcher
	catalog  CatalogLister
	logger   *slog.Logger

	chunkK      int
	minScore    float64
	relatedK    int
	topEntities int
}

// Config assembles an Engine. Zero-value tunables use the defaults.
type Config struct {
	Embedder ai.Embedder
	Vectors  VectorSearcher
	Graph    GraphSearcher
	Catalog  CatalogLister
	Logger   *slog.Logger

	ChunkK      int
	MinScore    float64
	RelatedK    int
	TopEntities int
}

// NewEngine creates a fusion engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if cfg.Vectors == nil {
		return nil, errors.New("vector searcher is required")
	}
	if cfg.Graph == nil {
		return nil, errors.New("graph searcher is required")
	}
	if cfg.Catalog == nil {
		return nil, errors.New("catalog lister is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		embedder:    cfg.Embedder,
		vectors:     cfg.Vectors,
		graph:       cfg.Graph,
		catalog:     cfg.Catalog,
		logger:      logger,
		chunkK:      cfg.ChunkK,
		minScore:    cfg.MinScore,
		relatedK:    cfg.RelatedK,
		topEntities: cfg.TopEntities,
	}
	if e.chunkK <= 0 {
		e.chunkK = DefaultChunkK
	}
	if e.minScore <= 0 {
		e.minScore = DefaultMinScore
	}
	if e.relatedK <= 0 {
		e.relatedK = DefaultRelatedK
	}
	if e.topEntities <= 0 {
		e.topEntities = DefaultTopEntities
	}
	return e, nil
}

// Fuse builds the evidence bundle for one query. The four lookups run
// concurrently; the wait is governed by the slowest source. Fuse
// returns a bundle even when every source is empty; callers decide
// what an empty bundle means.
func (e *Engine) Fuse(ctx context.Context, query, userID string) (*evidence.Bundle, error) {
	bundle := &evidence.Bundle{Query: query}

	// Embedding failure only disables the vector section; the graph
	// and catalog lookups don't need a vector.
	queryVec, embedErr := e.embed(ctx, query)
	if embedErr != nil {
		e.logger.Warn("query embedding failed, skipping vector search",
			"user", userID, "error", embedErr)
	}

	type chunksResult struct {
		chunks []evidence.Chunk
		err    error
	}
	type factsResult struct {
		facts []evidence.Fact
		err   error
	}
	type entitiesResult struct {
		entities []evidence.EntitySummary
		err      error
	}
	type docsResult struct {
		docs []evidence.DocumentRef
		err  error
	}

	// Buffered channels so goroutines never block on send if the
	// caller's context dies while we are collecting.
	chunksCh := make(chan chunksResult, 1)
	factsCh := make(chan factsResult, 1)
	entitiesCh := make(chan entitiesResult, 1)
	docsCh := make(chan docsResult, 1)

	go func() {
		if embedErr != nil {
			chunksCh <- chunksResult{}
			return
		}
		chunks, err := e.vectors.Search(ctx, queryVec, userID, e.chunkK, e.minScore)
		chunksCh <- chunksResult{chunks, err}
	}()
	go func() {
		facts, err := e.graph.FindRelated(ctx, query, userID, e.relatedK)
		factsCh <- factsResult{facts, err}
	}()
	go func() {
		entities, err := e.graph.TopEntities(ctx, userID, e.topEntities)
		entitiesCh <- entitiesResult{entities, err}
	}()
	go func() {
		docs, err := e.catalog.List(ctx, userID)
		docsCh <- docsResult{docs, err}
	}()

	if cr := <-chunksCh; cr.err != nil {
		e.logger.Warn("vector search failed, degrading to empty", "user", userID, "error", cr.err)
	} else {
		bundle.Chunks = cr.chunks
	}
	if fr := <-factsCh; fr.err != nil {
		e.logger.Warn("graph lookup failed, degrading to empty", "user", userID, "error", fr.err)
	} else {
		bundle.Facts = fr.facts
	}
	if er := <-entitiesCh; er.err != nil {
		e.logger.Warn("entity ranking failed, degrading to empty", "user", userID, "error", er.err)
	} else {
		bundle.Entities = er.entities
	}
	if dr := <-docsCh; dr.err != nil {
		e.logger.Warn("catalog listing failed, degrading to empty", "user", userID, "error", dr.err)
	} else {
		bundle.Documents = dr.docs
	}

	bundle.Citations = BuildCitations(bundle.Chunks)

	e.logger.Debug("evidence fused",
		"user", userID,
		"chunks", len(bundle.Chunks),
		"facts", len(bundle.Facts),
		"entities", len(bundle.Entities),
		"documents", len(bundle.Documents),
		"citations", len(bundle.Citations),
	)
	return bundle, nil
}

// embed generates the query vector, pinned to the chunk table's
// dimensionality.
func (e *Engine) embed(ctx context.Context, query string) ([]float32, error) {
	dim := evidence.VectorDimension
	resp, err := e.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   []*ai.Document{ai.DocumentFromText(query, nil)},
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}
	return resp.Embeddings[0].Embedding, nil
}
