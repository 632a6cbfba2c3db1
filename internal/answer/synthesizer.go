// Package answer drives the generation model: it composes the final
// system prompt from the persona fragment and the evidence bundle and
// streams the model's answer back as a pull-based token sequence.
//
// This is the single slow, blocking step of the pipeline and the only
// one that supports external cancellation: abandoning the returned
// iterator or canceling the context stops generation promptly.
package answer

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/docsage/docsage/internal/evidence"
	"github.com/docsage/docsage/internal/rewrite"
)

const (
	// DefaultGenerationTimeout bounds one answer generation.
	DefaultGenerationTimeout = 30 * time.Second

	// maxHistoryMessages is the recent-history window passed to the
	// model. The full conversation lives with the caller; resending
	// all of it only burns tokens.
	maxHistoryMessages = 10
)

// errStreamStopped signals that the consumer abandoned the iterator.
var errStreamStopped = errors.New("stream consumer stopped")

// Synthesizer composes prompts and drives streaming generation.
//
// Synthesizer is safe for concurrent use by multiple goroutines.
type Synthesizer struct {
	g         *genkit.Genkit
	modelName string
	timeout   time.Duration
	logger    *slog.Logger
}

// New creates a Synthesizer. modelName may be empty to use the Genkit
// default model; timeout <= 0 uses DefaultGenerationTimeout.
func New(g *genkit.Genkit, modelName string, timeout time.Duration, logger *slog.Logger) (*Synthesizer, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if timeout <= 0 {
		timeout = DefaultGenerationTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{g: g, modelName: modelName, timeout: timeout, logger: logger}, nil
}

// Stream generates the answer for the last message in history, using
// personaFragment and bundle to build the system prompt. It returns a
// pull-based sequence of text increments; the terminal element carries
// a non-nil error if generation failed. Breaking out of the range
// aborts generation.
func (s *Synthesizer) Stream(ctx context.Context, personaFragment string, bundle *evidence.Bundle, history []rewrite.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		genCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		messages := s.buildMessages(personaFragment, bundle, history)

		stopped := false
		cb := func(_ context.Context, chunk *ai.ModelResponseChunk) error {
			if chunk == nil {
				return nil
			}
			for _, part := range chunk.Content {
				if part.Text == "" {
					continue
				}
				if !yield(part.Text, nil) {
					stopped = true
					return errStreamStopped
				}
			}
			return nil
		}

		opts := []ai.GenerateOption{
			ai.WithMessages(messages...),
			ai.WithStreaming(cb),
		}
		if s.modelName != "" {
			opts = append(opts, ai.WithModelName(s.modelName))
		}

		start := time.Now()
		_, err := genkit.Generate(genCtx, s.g, opts...)
		if stopped {
			// Consumer walked away; nothing left to deliver.
			return
		}
		if err != nil {
			s.logger.Error("answer generation failed",
				"error", err, "elapsed", time.Since(start))
			yield("", fmt.Errorf("generating answer: %w", err))
			return
		}
		s.logger.Debug("answer generation completed", "elapsed", time.Since(start))
	}
}

// buildMessages assembles system prompt plus the bounded recent
// history, ending with the user's last message.
func (s *Synthesizer) buildMessages(personaFragment string, bundle *evidence.Bundle, history []rewrite.Message) []*ai.Message {
	tail := history
	if len(tail) > maxHistoryMessages {
		tail = tail[len(tail)-maxHistoryMessages:]
	}

	messages := make([]*ai.Message, 0, len(tail)+1)
	messages = append(messages, &ai.Message{
		Role:    ai.RoleSystem,
		Content: []*ai.Part{ai.NewTextPart(BuildSystemPrompt(personaFragment, bundle))},
	})
	for _, m := range tail {
		role := ai.RoleUser
		if m.Role == "assistant" || m.Role == "model" {
			role = ai.RoleModel
		}
		messages = append(messages, &ai.Message{
			Role:    role,
			Content: []*ai.Part{ai.NewTextPart(m.Content)},
		})
	}
	return messages
}
