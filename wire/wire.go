// Package wire defines the byte-stream framing shared by the chat
// server and its clients.
//
// The answer travels as raw text, streamed chunk by chunk. After the
// final token the server appends a sentinel marker followed by a JSON
// array of source citations:
//
//	<answer text>\n\n__SOURCES__:[{"filename":...,"similarity":...,"preview":...}]
//
// No sentinel is written when there are zero citations. The sentinel
// rides in the same channel as generated text; if the model ever emits
// the exact marker the split misfires. That collision is a known,
// accepted property of the wire format, kept for compatibility with
// existing clients.
package wire

// Sentinel separates answer text from the citation payload.
const Sentinel = "\n\n__SOURCES__:"

// Citation is one source attribution as serialized on the wire.
// Similarity is a stringified percentage ("87"), matching what
// existing clients parse.
type Citation struct {
	Filename   string `json:"filename"`
	Similarity string `json:"similarity"`
	Preview    string `json:"preview"`
}
