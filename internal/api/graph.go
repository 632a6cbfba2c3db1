package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/docsage/docsage/internal/evidence"
	"github.com/docsage/docsage/internal/ratelimit"
)

// GraphExporter reads the user's full workspace graph.
type GraphExporter interface {
	Export(ctx context.Context, userID string) (*evidence.Graph, error)
}

// DocumentLister reads the user's document catalog with status.
type DocumentLister interface {
	ListDetail(ctx context.Context, userID string) ([]evidence.DocumentDetail, error)
}

// graphHandler serves the workspace read endpoints, both charged
// against the graph-read budget.
type graphHandler struct {
	graph   GraphExporter
	catalog DocumentLister
	gate    Admitter
	logger  *slog.Logger
}

// serveGraph handles GET /api/graph.
func (h *graphHandler) serveGraph(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok || userID == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if !admit(w, r.Context(), h.gate, h.logger, userID, ratelimit.OpGraphRead) {
		return
	}

	graph, err := h.graph.Export(r.Context(), userID)
	if err != nil {
		h.logger.Error("graph export failed", "user", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load graph")
		return
	}
	writeJSON(w, http.StatusOK, graph)
}

// serveDocuments handles GET /api/documents.
func (h *graphHandler) serveDocuments(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok || userID == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if !admit(w, r.Context(), h.gate, h.logger, userID, ratelimit.OpGraphRead) {
		return
	}

	docs, err := h.catalog.ListDetail(r.Context(), userID)
	if err != nil {
		h.logger.Error("document listing failed", "user", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documents": docs,
		"total":     len(docs),
	})
}
