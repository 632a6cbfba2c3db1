package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ServerConfig contains everything needed to build the HTTP server.
type ServerConfig struct {
	Logger     *slog.Logger
	Auth       Authenticator  // Required
	Gate       Admitter       // Required
	Pipeline   Responder      // Required
	Graph      GraphExporter  // Optional: nil disables /api/graph
	Catalog    DocumentLister // Optional: nil disables /api/documents
	Pool       *pgxpool.Pool  // Optional: nil disables pool ping in /ready
	TrustProxy bool           // Trust X-Real-IP/X-Forwarded-For (behind reverse proxy)
	RateBurst  int            // Per-IP burst size (0 = default 60)
}

// Server is the JSON+stream HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates the server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Auth == nil {
		return nil, errors.New("authenticator is required")
	}
	if cfg.Gate == nil {
		return nil, errors.New("admission gate is required")
	}
	if cfg.Pipeline == nil {
		return nil, errors.New("chat pipeline is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ch := &chatHandler{pipeline: cfg.Pipeline, gate: cfg.Gate, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", ch.serve)

	if cfg.Graph != nil && cfg.Catalog != nil {
		gh := &graphHandler{graph: cfg.Graph, catalog: cfg.Catalog, gate: cfg.Gate, logger: logger}
		mux.HandleFunc("GET /api/graph", gh.serveGraph)
		mux.HandleFunc("GET /api/documents", gh.serveDocuments)
	}

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newIPRateLimiter(1.0, burst)

	// Build middleware stack (outermost first):
	//   Recovery → RequestID → Logging → IPRateLimit → Auth → Routes
	// RequestID must run before Logging so request_id is available in
	// log attributes; the IP limiter runs before Auth so anonymous
	// floods never reach HMAC verification.
	var handler http.Handler = mux
	handler = authMiddleware(cfg.Auth, logger)(handler)
	handler = ipRateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
