// Package rewrite turns a conversation tail into a standalone search
// query so follow-up questions ("what does it say about that?") still
// retrieve the right evidence.
//
// Rewriting is an optimization, not a correctness requirement: every
// failure path falls back to the user's original message and the
// pipeline proceeds.
package rewrite

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

const (
	// rewriteTimeout bounds the auxiliary model call. A slow rewrite
	// must never stall the pipeline beyond this.
	rewriteTimeout = 5 * time.Second

	// historyTail is how many trailing messages are shown to the
	// rewrite model. Older turns rarely matter for anaphora.
	historyTail = 6

	// maxQueryRunes caps the rewritten query; anything longer is a
	// model answering instead of rewriting.
	maxQueryRunes = 300
)

const rewriteInstructions = `Rewrite the user's last message as a single standalone search query.
Resolve references like "it", "that", "this file" using the conversation below.
Return ONLY the rewritten query text. Do not answer the question. No quotes, no explanations.`

// Message is one turn of conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Rewriter resolves conversational anaphora via a fast auxiliary
// generation call.
type Rewriter struct {
	g         *genkit.Genkit
	modelName string
	logger    *slog.Logger
}

// New creates a Rewriter. modelName may be empty to use the Genkit
// default model.
func New(g *genkit.Genkit, modelName string, logger *slog.Logger) (*Rewriter, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Rewriter{g: g, modelName: modelName, logger: logger}, nil
}

// Rewrite returns a standalone search query for lastMessage given the
// conversation history. A single-message history is returned unchanged
// with no model call; on any failure the original message is returned.
func (r *Rewriter) Rewrite(ctx context.Context, history []Message, lastMessage string) string {
	if len(history) <= 1 {
		return lastMessage
	}

	ctx, cancel := context.WithTimeout(ctx, rewriteTimeout)
	defer cancel()

	var sb strings.Builder
	sb.WriteString(rewriteInstructions)
	sb.WriteString("\n\nConversation:\n")
	tail := history
	if len(tail) > historyTail {
		tail = tail[len(tail)-historyTail:]
	}
	for _, m := range tail {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}
	fmt.Fprintf(&sb, "\nLast message: %s\n\nStandalone query:", lastMessage)

	opts := []ai.GenerateOption{ai.WithPrompt(sb.String())}
	if r.modelName != "" {
		opts = append(opts, ai.WithModelName(r.modelName))
	}

	resp, err := genkit.Generate(ctx, r.g, opts...)
	if err != nil {
		r.logger.Debug("query rewrite failed, using original", "error", err)
		return lastMessage
	}

	query := strings.TrimSpace(strings.Trim(strings.TrimSpace(resp.Text()), `"`))
	if query == "" || len([]rune(query)) > maxQueryRunes || strings.ContainsRune(query, '\n') {
		r.logger.Debug("query rewrite produced unusable output, using original",
			"length", len(query))
		return lastMessage
	}

	r.logger.Debug("query rewritten", "original", lastMessage, "rewritten", query)
	return query
}
