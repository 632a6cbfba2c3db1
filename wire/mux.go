package wire

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Multiplexer relays answer tokens to a writer verbatim and appends
// the delimited citation block on Close. Tokens are forwarded as
// produced, never buffered, so backpressure is governed by the
// underlying transport.
//
// Multiplexer is not safe for concurrent use; one goroutine owns the
// response stream.
type Multiplexer struct {
	w       io.Writer
	flusher http.Flusher // nil when the writer cannot flush
	wrote   bool
	closed  bool
}

// NewMultiplexer wraps a writer. When w implements http.Flusher each
// token is flushed immediately so the client renders incrementally.
func NewMultiplexer(w io.Writer) *Multiplexer {
	m := &Multiplexer{w: w}
	if f, ok := w.(http.Flusher); ok {
		m.flusher = f
	}
	return m
}

// WriteText forwards one answer token unchanged.
func (m *Multiplexer) WriteText(text string) error {
	if m.closed {
		return fmt.Errorf("write after close")
	}
	if text == "" {
		return nil
	}
	if _, err := io.WriteString(m.w, text); err != nil {
		return fmt.Errorf("writing answer chunk: %w", err)
	}
	m.wrote = true
	if m.flusher != nil {
		m.flusher.Flush()
	}
	return nil
}

// Close terminates the stream, appending the sentinel and serialized
// citations. Zero citations close the stream with no citation block.
func (m *Multiplexer) Close(citations []Citation) error {
	if m.closed {
		return nil
	}
	m.closed = true

	if len(citations) == 0 {
		if m.flusher != nil {
			m.flusher.Flush()
		}
		return nil
	}

	payload, err := json.Marshal(citations)
	if err != nil {
		// The answer text already reached the client; dropping the
		// citation block is the only remaining safe move.
		return fmt.Errorf("marshaling citations: %w", err)
	}
	if _, err := io.WriteString(m.w, Sentinel); err != nil {
		return fmt.Errorf("writing sentinel: %w", err)
	}
	if _, err := m.w.Write(payload); err != nil {
		return fmt.Errorf("writing citations: %w", err)
	}
	if m.flusher != nil {
		m.flusher.Flush()
	}
	return nil
}
