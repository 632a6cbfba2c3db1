package wire

import (
	"bytes"
	"encoding/json"
)

// Demultiplexer incrementally decodes a multiplexed stream. Feed it
// bytes as they arrive; it returns answer text as soon as the text is
// known not to be part of a split sentinel, and collects the citation
// payload once the sentinel is seen.
//
// The sentinel may arrive split across any number of reads, down to
// one byte per read. To handle that, the demultiplexer holds back the
// longest stream suffix that could still grow into the sentinel and
// releases it as text the moment the match fails.
//
// Demultiplexer is not safe for concurrent use.
type Demultiplexer struct {
	held        []byte // candidate sentinel prefix, not yet released as text
	sources     []byte // bytes after the sentinel (JSON payload)
	sawSentinel bool
}

// NewDemultiplexer creates a decoder at the start of a stream.
func NewDemultiplexer() *Demultiplexer {
	return &Demultiplexer{}
}

// Feed consumes the next chunk of stream bytes and returns any answer
// text that became displayable. The returned string may be empty even
// for non-empty input when all bytes are held back as a potential
// sentinel prefix or belong to the citation payload.
func (d *Demultiplexer) Feed(p []byte) string {
	if len(p) == 0 {
		return ""
	}
	if d.sawSentinel {
		d.sources = append(d.sources, p...)
		return ""
	}

	d.held = append(d.held, p...)

	if i := bytes.Index(d.held, []byte(Sentinel)); i >= 0 {
		text := string(d.held[:i])
		d.sources = append(d.sources, d.held[i+len(Sentinel):]...)
		d.held = nil
		d.sawSentinel = true
		return text
	}

	// Release everything except the longest suffix that is still a
	// prefix of the sentinel.
	keep := sentinelOverlap(d.held)
	text := string(d.held[:len(d.held)-keep])
	d.held = d.held[len(d.held)-keep:]
	return text
}

// Finish ends the stream. It returns any held-back bytes that never
// completed a sentinel (they are real answer text) and the parsed
// citations. A malformed citation payload yields zero citations, not
// an error; the answer text is already safe.
func (d *Demultiplexer) Finish() (string, []Citation) {
	text := string(d.held)
	d.held = nil

	if !d.sawSentinel {
		return text, nil
	}

	var citations []Citation
	if err := json.Unmarshal(d.sources, &citations); err != nil {
		return text, nil
	}
	return text, citations
}

// sentinelOverlap returns the length of the longest suffix of b that
// is a proper prefix of the sentinel.
func sentinelOverlap(b []byte) int {
	maxLen := len(Sentinel) - 1
	if len(b) < maxLen {
		maxLen = len(b)
	}
	for n := maxLen; n > 0; n-- {
		if bytes.HasPrefix([]byte(Sentinel), b[len(b)-n:]) {
			return n
		}
	}
	return 0
}
