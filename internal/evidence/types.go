// Package evidence defines the typed retrieval results produced by the
// store adapters and consumed by the fusion engine.
//
// Rows coming back from PostgreSQL are converted into these structs at
// the adapter boundary; nothing downstream handles raw row shapes.
package evidence

import "time"

// VectorDimension is the embedding dimension used by the chunks table.
// Must match the vector(768) column in db/migrations.
const VectorDimension int32 = 768

// Chunk is one vector-search hit: a slice of document text with its
// similarity to the query. Score is 1 - cosine distance, in [0, 1],
// higher is better. The same formula is used for every search so
// thresholds are comparable across requests.
type Chunk struct {
	Text           string
	SourceDocument string
	Score          float64
}

// Fact is one directed, labeled edge from the entity graph.
type Fact struct {
	Subject      string `json:"subject"`
	SubjectType  string `json:"subject_type"`
	Relationship string `json:"relationship"`
	Object       string `json:"object"`
	ObjectType   string `json:"object_type"`
}

// EntitySummary describes one graph entity ranked by degree.
// Degree counts edges touching the entity across the user's whole
// workspace, not just the current query.
type EntitySummary struct {
	Label  string `json:"label"`
	Type   string `json:"type"`
	Degree int    `json:"degree"`
}

// DocumentRef is one entry in the user's document catalog.
type DocumentRef struct {
	Filename   string
	UploadedAt time.Time
}

// Citation is one source attribution for the final answer.
// There is at most one Citation per distinct source filename.
type Citation struct {
	Filename      string `json:"filename"`
	SimilarityPct int    `json:"-"`
	Preview       string `json:"preview"`
}

// Bundle is the fused result of all retrieval sources for one query.
// It is built fresh per request and read-only once returned by the
// fusion engine.
type Bundle struct {
	Query     string
	Chunks    []Chunk
	Facts     []Fact
	Entities  []EntitySummary
	Documents []DocumentRef
	Citations []Citation
}

// Empty reports whether every retrieval source came back empty.
// Callers must short-circuit to the fixed no-evidence response when
// this is true instead of invoking the generation model.
func (b *Bundle) Empty() bool {
	return len(b.Chunks) == 0 && len(b.Facts) == 0 &&
		len(b.Entities) == 0 && len(b.Documents) == 0
}
