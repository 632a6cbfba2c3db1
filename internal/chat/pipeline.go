// Package chat orchestrates one conversation turn: rewrite the
// question, fuse evidence, resolve the persona, and stream the
// synthesized answer.
//
// Admission (authentication, rate limiting) happens in the API layer
// before the pipeline runs; by the time Respond is called the request
// has already been paid for.
package chat

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"strconv"

	"github.com/docsage/docsage/internal/evidence"
	"github.com/docsage/docsage/internal/rewrite"
	"github.com/docsage/docsage/wire"
)

// NoEvidenceResponse is the fixed reply used when every evidence
// source comes back empty. It short-circuits generation entirely: no
// model call is made for a workspace with nothing in it.
const NoEvidenceResponse = "I couldn't find any relevant information in your " +
	"uploaded documents. Upload some documents first, or try rephrasing your question."

// Rewriter turns a conversation tail into a standalone query.
type Rewriter interface {
	Rewrite(ctx context.Context, history []rewrite.Message, lastMessage string) string
}

// Fuser assembles the evidence bundle for a query.
type Fuser interface {
	Fuse(ctx context.Context, query, userID string) (*evidence.Bundle, error)
}

// ModeReader reads the user's selected workspace mode.
type ModeReader interface {
	Mode(ctx context.Context, userID string) (string, error)
}

// PersonaResolver maps a workspace mode to a system-prompt fragment.
type PersonaResolver func(mode string) string

// Synthesizer streams the generated answer.
type Synthesizer interface {
	Stream(ctx context.Context, personaFragment string, bundle *evidence.Bundle, history []rewrite.Message) iter.Seq2[string, error]
}

// Reply is the result of one pipeline run. Citations are known before
// the first token: they derive from the evidence bundle, not from the
// generated text.
type Reply struct {
	Stream    iter.Seq2[string, error]
	Citations []wire.Citation
}

// Pipeline wires the per-turn stages together.
//
// Pipeline is safe for concurrent use by multiple goroutines.
type Pipeline struct {
	rewriter Rewriter
	fuser    Fuser
	modes    ModeReader
	persona  PersonaResolver
	synth    Synthesizer
	logger   *slog.Logger
}

// Config assembles a Pipeline.
type Config struct {
	Rewriter Rewriter
	Fuser    Fuser
	Modes    ModeReader
	Persona  PersonaResolver
	Synth    Synthesizer
	Logger   *slog.Logger
}

// New creates a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	switch {
	case cfg.Rewriter == nil:
		return nil, errors.New("rewriter is required")
	case cfg.Fuser == nil:
		return nil, errors.New("fuser is required")
	case cfg.Modes == nil:
		return nil, errors.New("mode reader is required")
	case cfg.Persona == nil:
		return nil, errors.New("persona resolver is required")
	case cfg.Synth == nil:
		return nil, errors.New("synthesizer is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		rewriter: cfg.Rewriter,
		fuser:    cfg.Fuser,
		modes:    cfg.Modes,
		persona:  cfg.Persona,
		synth:    cfg.Synth,
		logger:   logger,
	}, nil
}

// Respond runs one conversation turn for the user. history must end
// with the user's current message.
func (p *Pipeline) Respond(ctx context.Context, userID string, history []rewrite.Message) (*Reply, error) {
	if len(history) == 0 {
		return nil, errors.New("empty conversation history")
	}
	lastMessage := history[len(history)-1].Content

	query := p.rewriter.Rewrite(ctx, history, lastMessage)

	bundle, err := p.fuser.Fuse(ctx, query, userID)
	if err != nil {
		// Fuse degrades per-source internally; an error here means the
		// engine itself failed, which we treat the same as no evidence
		// rather than surfacing a provider error to the user.
		p.logger.Error("evidence fusion failed", "user", userID, "error", err)
		bundle = &evidence.Bundle{Query: query}
	}

	if bundle.Empty() {
		p.logger.Info("no evidence found, skipping generation", "user", userID)
		return &Reply{Stream: fixedStream(NoEvidenceResponse)}, nil
	}

	mode, err := p.modes.Mode(ctx, userID)
	if err != nil {
		p.logger.Warn("reading workspace mode, using default", "user", userID, "error", err)
		mode = ""
	}
	fragment := p.persona(mode)

	return &Reply{
		Stream:    p.synth.Stream(ctx, fragment, bundle, history),
		Citations: wireCitations(bundle.Citations),
	}, nil
}

// fixedStream yields a single canned chunk.
func fixedStream(text string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		yield(text, nil)
	}
}

// wireCitations converts bundle citations to their wire form.
func wireCitations(citations []evidence.Citation) []wire.Citation {
	if len(citations) == 0 {
		return nil
	}
	out := make([]wire.Citation, len(citations))
	for i, c := range citations {
		out[i] = wire.Citation{
			Filename:   c.Filename,
			Similarity: strconv.Itoa(c.SimilarityPct),
			Preview:    c.Preview,
		}
	}
	return out
}
