// Package client is a Go client for the docsage HTTP API.
//
// It speaks the service's streamed answer framing: plain answer text
// followed by an optional citation block, separated by a sentinel. The
// client splits the two on the fly so callers can render tokens as
// they arrive and read citations once the stream ends.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"time"

	"github.com/docsage/docsage/wire"
)

// Message is one turn of the conversation being sent to the service.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// APIError is a non-2xx response from the service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

// ErrRateLimited wraps 429 responses so callers can back off.
var ErrRateLimited = errors.New("rate limited")

// Client calls the docsage API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client for the service at baseURL authenticating with
// the given bearer token.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

// NewWithHTTPClient creates a client using a caller-supplied
// http.Client, for tests and custom transports.
func NewWithHTTPClient(baseURL, token string, hc *http.Client) *Client {
	return &Client{baseURL: baseURL, token: token, http: hc}
}

// Answer is a streamed chat response. Text yields displayable answer
// fragments; Citations is valid only after Text has been fully
// consumed. Close releases the underlying connection and is safe to
// call more than once.
type Answer struct {
	body      io.ReadCloser
	demux     *wire.Demultiplexer
	citations []wire.Citation
	done      bool
}

// Text returns an iterator over displayable answer fragments. A
// mid-stream transport failure surfaces as a non-nil error on the
// final pair; any partial text already yielded should be discarded by
// the caller, since a truncated answer must not pass for a complete
// one.
func (a *Answer) Text() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		buf := make([]byte, 4096)
		for {
			n, err := a.body.Read(buf)
			if n > 0 {
				if text := a.demux.Feed(buf[:n]); text != "" {
					if !yield(text, nil) {
						return
					}
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					tail, citations := a.demux.Finish()
					a.citations = citations
					a.done = true
					if tail != "" {
						yield(tail, nil)
					}
					return
				}
				yield("", fmt.Errorf("reading answer stream: %w", err))
				return
			}
		}
	}
}

// Citations returns the citation block, if the service sent one.
// Returns nil until Text has been consumed to completion.
func (a *Answer) Citations() []wire.Citation {
	if !a.done {
		return nil
	}
	return a.citations
}

// Close releases the response body.
func (a *Answer) Close() error {
	return a.body.Close()
}

// Chat sends the conversation and returns the streamed answer. The
// last message must be the user's current question.
func (c *Client) Chat(ctx context.Context, messages []Message) (*Answer, error) {
	if len(messages) == 0 {
		return nil, errors.New("messages is required")
	}

	payload, err := json.Marshal(map[string]any{"messages": messages})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		apiErr := readAPIError(resp)
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Message)
		}
		return nil, apiErr
	}

	return &Answer{body: resp.Body, demux: wire.NewDemultiplexer()}, nil
}

// Ask is the non-streaming convenience wrapper: it collects the full
// answer text and citations. On a mid-stream failure the partial text
// is dropped and only the error is returned.
func (c *Client) Ask(ctx context.Context, messages []Message) (string, []wire.Citation, error) {
	answer, err := c.Chat(ctx, messages)
	if err != nil {
		return "", nil, err
	}
	defer func() { _ = answer.Close() }()

	var sb bytes.Buffer
	for text, streamErr := range answer.Text() {
		if streamErr != nil {
			return "", nil, streamErr
		}
		sb.WriteString(text)
	}
	return sb.String(), answer.Citations(), nil
}

// Graph fetches the caller's workspace knowledge graph.
func (c *Client) Graph(ctx context.Context) (*GraphResponse, error) {
	var out GraphResponse
	if err := c.getJSON(ctx, "/api/graph", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Documents lists the caller's uploaded documents.
func (c *Client) Documents(ctx context.Context) (*DocumentsResponse, error) {
	var out DocumentsResponse
	if err := c.getJSON(ctx, "/api/documents", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GraphResponse mirrors GET /api/graph.
type GraphResponse struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// GraphNode is one entity in the workspace graph.
type GraphNode struct {
	Label  string `json:"label"`
	Type   string `json:"type"`
	Degree int    `json:"degree"`
}

// GraphEdge is one relationship in the workspace graph.
type GraphEdge struct {
	Subject      string `json:"subject"`
	SubjectType  string `json:"subject_type"`
	Relationship string `json:"relationship"`
	Object       string `json:"object"`
	ObjectType   string `json:"object_type"`
}

// DocumentsResponse mirrors GET /api/documents.
type DocumentsResponse struct {
	Documents []Document `json:"documents"`
	Total     int        `json:"total"`
}

// Document is one catalog entry.
type Document struct {
	Filename   string    `json:"filename"`
	Domain     string    `json:"domain"`
	Status     string    `json:"status"`
	UploadedAt time.Time `json:"uploadedAt"`
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		apiErr := readAPIError(resp)
		if resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Message)
		}
		return apiErr
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// readAPIError decodes the service's {"error": ...} body, falling back
// to the raw text when it is not JSON.
func readAPIError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var parsed struct {
		Error string `json:"error"`
	}
	msg := string(bytes.TrimSpace(body))
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		msg = parsed.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
