package retrieval

import (
	"strings"
	"testing"

	"github.com/docsage/docsage/internal/evidence"
)

func TestBuildCitations_OnePerFilename(t *testing.T) {
	t.Parallel()

	chunks := []evidence.Chunk{
		{Text: "alpha", SourceDocument: "a.pdf", Score: 0.40},
		{Text: "beta", SourceDocument: "b.pdf", Score: 0.90},
		{Text: "gamma", SourceDocument: "a.pdf", Score: 0.70},
		{Text: "delta", SourceDocument: "c.pdf", Score: 0.20},
		{Text: "epsilon", SourceDocument: "b.pdf", Score: 0.10},
	}

	citations := BuildCitations(chunks)
	if len(citations) != 3 {
		t.Fatalf("len(citations) = %d, want 3 distinct filenames", len(citations))
	}

	// Order follows first appearance in retrieval rank.
	wantOrder := []string{"a.pdf", "b.pdf", "c.pdf"}
	for i, want := range wantOrder {
		if citations[i].Filename != want {
			t.Errorf("citations[%d].Filename = %q, want %q", i, citations[i].Filename, want)
		}
	}

	// a.pdf keeps the higher-scoring chunk's preview and score.
	if citations[0].Preview != "gamma" {
		t.Errorf("a.pdf preview = %q, want the higher-scoring chunk text", citations[0].Preview)
	}
	if citations[0].SimilarityPct != 70 {
		t.Errorf("a.pdf similarity = %d, want 70", citations[0].SimilarityPct)
	}
	// b.pdf keeps its first (higher) chunk.
	if citations[1].Preview != "beta" || citations[1].SimilarityPct != 90 {
		t.Errorf("b.pdf = %+v, want beta at 90", citations[1])
	}
}

func TestBuildCitations_Empty(t *testing.T) {
	t.Parallel()

	if got := BuildCitations(nil); got != nil {
		t.Errorf("BuildCitations(nil) = %+v, want nil", got)
	}
}

func TestToPercent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		score float64
		want  int
	}{
		{0, 0},
		{0.054, 5},
		{0.055, 6},
		{0.874, 87},
		{1, 100},
		{1.2, 100},  // clamp: cosine drift above 1
		{-0.05, 0},  // clamp: negative similarity
	}
	for _, tt := range tests {
		if got := toPercent(tt.score); got != tt.want {
			t.Errorf("toPercent(%v) = %d, want %d", tt.score, got, tt.want)
		}
	}
}

func TestPreview_TruncatesOnRunes(t *testing.T) {
	t.Parallel()

	short := "short text"
	if got := preview(short); got != short {
		t.Errorf("preview(short) = %q, want unchanged", got)
	}

	long := strings.Repeat("字", DefaultPreviewLength+50)
	got := preview(long)
	if runes := []rune(got); len(runes) != DefaultPreviewLength {
		t.Errorf("preview length = %d runes, want %d", len(runes), DefaultPreviewLength)
	}
	// Truncation must not split a multi-byte rune.
	if !strings.HasPrefix(long, got) {
		t.Error("preview is not a clean prefix of the input")
	}
}
