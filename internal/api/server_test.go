package api

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/docsage/docsage/internal/chat"
	"github.com/docsage/docsage/internal/evidence"
	"github.com/docsage/docsage/internal/log"
	"github.com/docsage/docsage/internal/ratelimit"
	"github.com/docsage/docsage/internal/rewrite"
	"github.com/docsage/docsage/wire"
)

// stubResponder returns a canned reply or error.
type stubResponder struct {
	reply *chat.Reply
	err   error
	calls int
}

func (s *stubResponder) Respond(context.Context, string, []rewrite.Message) (*chat.Reply, error) {
	s.calls++
	return s.reply, s.err
}

// stubGate scripts admission decisions.
type stubGate struct {
	decision ratelimit.Decision
	err      error
	calls    int
	lastOp   ratelimit.Operation
}

func (s *stubGate) Admit(_ context.Context, _ string, op ratelimit.Operation) (ratelimit.Decision, error) {
	s.calls++
	s.lastOp = op
	return s.decision, s.err
}

type stubGraphStore struct {
	graph *evidence.Graph
	err   error
}

func (s *stubGraphStore) Export(context.Context, string) (*evidence.Graph, error) {
	return s.graph, s.err
}

type stubDocLister struct {
	docs []evidence.DocumentDetail
	err  error
}

func (s *stubDocLister) ListDetail(context.Context, string) ([]evidence.DocumentDetail, error) {
	return s.docs, s.err
}

func streamOf(chunks ...string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, c := range chunks {
			if !yield(c, nil) {
				return
			}
		}
	}
}

type serverFixture struct {
	auth      *HMACAuthenticator
	gate      *stubGate
	responder *stubResponder
	graph     *stubGraphStore
	docs      *stubDocLister
	handler   http.Handler
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	auth, err := NewHMACAuthenticator([]byte(testSecret))
	if err != nil {
		t.Fatalf("NewHMACAuthenticator() unexpected error: %v", err)
	}

	f := &serverFixture{
		auth: auth,
		gate: &stubGate{decision: ratelimit.Decision{
			Allowed: true, Remaining: 10, Limit: 50, ResetAt: time.Now().Add(time.Minute),
		}},
		responder: &stubResponder{reply: &chat.Reply{Stream: streamOf("hello ", "world")}},
		graph:     &stubGraphStore{graph: &evidence.Graph{}},
		docs:      &stubDocLister{},
	}

	srv, err := NewServer(ServerConfig{
		Logger:   log.NewNop(),
		Auth:     auth,
		Gate:     f.gate,
		Pipeline: f.responder,
		Graph:    f.graph,
		Catalog:  f.docs,
	})
	if err != nil {
		t.Fatalf("NewServer() unexpected error: %v", err)
	}
	f.handler = srv.Handler()
	return f
}

func (f *serverFixture) chatRequest(t *testing.T, body string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Authorization", "Bearer "+f.auth.Token("user-1"))
	return r
}

const validChatBody = `{"messages":[{"role":"user","content":"what is in my documents?"}]}`

func TestServer_ChatStreamsAnswerAndCitations(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t)
	f.responder.reply = &chat.Reply{
		Stream: streamOf("The answer."),
		Citations: []wire.Citation{
			{Filename: "a.pdf", Similarity: "80", Preview: "snippet"},
		},
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, f.chatRequest(t, validChatBody))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q, want text/plain", ct)
	}

	d := wire.NewDemultiplexer()
	text := d.Feed(rec.Body.Bytes())
	tail, citations := d.Finish()
	if got := text + tail; got != "The answer." {
		t.Errorf("answer text = %q", got)
	}
	if len(citations) != 1 || citations[0].Filename != "a.pdf" {
		t.Errorf("citations = %+v, want the a.pdf entry", citations)
	}
}

func TestServer_ChatWithoutCitationsHasNoSentinel(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, f.chatRequest(t, validChatBody))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if strings.Contains(rec.Body.String(), wire.Sentinel) {
		t.Error("response contains sentinel despite zero citations")
	}
	if rec.Body.String() != "hello world" {
		t.Errorf("body = %q, want plain answer", rec.Body.String())
	}
}

func TestServer_ChatRequiresAuth(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t)
	r := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(validChatBody))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, r)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if f.responder.calls != 0 {
		t.Errorf("pipeline called %d times for unauthenticated request, want 0", f.responder.calls)
	}
	if f.gate.calls != 0 {
		t.Errorf("gate called %d times for unauthenticated request, want 0", f.gate.calls)
	}
}

func TestServer_ChatValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", "{not json"},
		{"no messages", `{"messages":[]}`},
		{"empty last message", `{"messages":[{"role":"user","content":""}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServerFixture(t)
			rec := httptest.NewRecorder()
			f.handler.ServeHTTP(rec, f.chatRequest(t, tt.body))

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if f.responder.calls != 0 {
				t.Errorf("pipeline called for invalid request")
			}
		})
	}
}

// Admission runs before the pipeline: a rejected request must cost no
// evidence lookups and no model calls.
func TestServer_ChatRateLimited(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t)
	f.gate.decision = ratelimit.Decision{
		Allowed: false, Limit: 50, ResetAt: time.Now().Add(90 * time.Second),
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, f.chatRequest(t, validChatBody))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header on 429")
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("429 body is not JSON: %v", err)
	}
	if !strings.Contains(body["error"], "rate limit") {
		t.Errorf("error message = %q, want rate limit explanation", body["error"])
	}
	if f.responder.calls != 0 {
		t.Errorf("pipeline called %d times for rejected request, want 0", f.responder.calls)
	}
}

// An unreachable counter store rejects: fail closed, 503.
func TestServer_ChatGateUnavailable(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t)
	f.gate.err = ratelimit.ErrStoreUnavailable

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, f.chatRequest(t, validChatBody))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if f.responder.calls != 0 {
		t.Errorf("pipeline called %d times with dead gate, want 0", f.responder.calls)
	}
}

func TestServer_ChatPipelineFailure(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t)
	f.responder.reply = nil
	f.responder.err = errors.New("provider exploded")

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, f.chatRequest(t, validChatBody))

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "exploded") {
		t.Error("provider error leaked to the client")
	}
}

// A stream that fails before any byte reaches the client still gets a
// clean JSON error, not a broken stream.
func TestServer_ChatStreamFailsBeforeFirstByte(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t)
	f.responder.reply = &chat.Reply{Stream: func(yield func(string, error) bool) {
		yield("", errors.New("generation failed"))
	}}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, f.chatRequest(t, validChatBody))

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestServer_ChatEmptyAnswer(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t)
	f.responder.reply = &chat.Reply{Stream: streamOf()}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, f.chatRequest(t, validChatBody))

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502 for empty answer", rec.Code)
	}
}

func TestServer_GraphEndpoint(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t)
	f.graph.graph = &evidence.Graph{
		Nodes: []evidence.EntitySummary{{Label: "Acme", Type: "org", Degree: 3}},
		Edges: []evidence.Fact{{Subject: "Acme", Relationship: "employs", Object: "Jo"}},
	}

	r := httptest.NewRequest(http.MethodGet, "/api/graph", nil)
	r.Header.Set("Authorization", "Bearer "+f.auth.Token("user-1"))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
	if f.gate.lastOp != ratelimit.OpGraphRead {
		t.Errorf("admitted operation = %q, want graph-read", f.gate.lastOp)
	}

	var graph evidence.Graph
	if err := json.Unmarshal(rec.Body.Bytes(), &graph); err != nil {
		t.Fatalf("graph body is not JSON: %v", err)
	}
	if len(graph.Nodes) != 1 || graph.Nodes[0].Label != "Acme" {
		t.Errorf("nodes = %+v", graph.Nodes)
	}
	if len(graph.Edges) != 1 || graph.Edges[0].Relationship != "employs" {
		t.Errorf("edges = %+v", graph.Edges)
	}
}

func TestServer_DocumentsEndpoint(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t)
	f.docs.docs = []evidence.DocumentDetail{
		{Filename: "a.pdf", Domain: "legal", Status: "completed"},
	}

	r := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	r.Header.Set("Authorization", "Bearer "+f.auth.Token("user-1"))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Documents []evidence.DocumentDetail `json:"documents"`
		Total     int                       `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("documents body is not JSON: %v", err)
	}
	if body.Total != 1 || len(body.Documents) != 1 || body.Documents[0].Filename != "a.pdf" {
		t.Errorf("body = %+v", body)
	}
}

func TestServer_HealthBypassesAuth(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t)
	for _, path := range []string{"/health", "/ready"} {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, r)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200 without auth", path, rec.Code)
		}
	}
}

func TestServer_RequestIDHeader(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, f.chatRequest(t, validChatBody))

	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestNewServer_RequiredDependencies(t *testing.T) {
	t.Parallel()

	auth, err := NewHMACAuthenticator([]byte(testSecret))
	if err != nil {
		t.Fatalf("NewHMACAuthenticator() unexpected error: %v", err)
	}
	gate := &stubGate{}
	pipeline := &stubResponder{}

	tests := []struct {
		name string
		cfg  ServerConfig
	}{
		{"missing auth", ServerConfig{Gate: gate, Pipeline: pipeline}},
		{"missing gate", ServerConfig{Auth: auth, Pipeline: pipeline}},
		{"missing pipeline", ServerConfig{Auth: auth, Gate: gate}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewServer(tt.cfg); err == nil {
				t.Error("NewServer() error = nil, want failure")
			}
		})
	}
}
