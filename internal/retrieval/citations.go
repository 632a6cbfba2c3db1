package retrieval

import (
	"math"

	"github.com/docsage/docsage/internal/evidence"
)

// BuildCitations deduplicates chunks into one citation per distinct
// source filename, keeping the highest-scoring chunk's preview. Input
// order is preserved for first appearances so citation order follows
// retrieval rank.
func BuildCitations(chunks []evidence.Chunk) []evidence.Citation {
	if len(chunks) == 0 {
		return nil
	}

	index := make(map[string]int, len(chunks))
	best := make(map[string]float64, len(chunks))
	citations := make([]evidence.Citation, 0, len(chunks))

	for _, c := range chunks {
		if i, seen := index[c.SourceDocument]; seen {
			if c.Score > best[c.SourceDocument] {
				best[c.SourceDocument] = c.Score
				citations[i].SimilarityPct = toPercent(c.Score)
				citations[i].Preview = preview(c.Text)
			}
			continue
		}
		index[c.SourceDocument] = len(citations)
		best[c.SourceDocument] = c.Score
		citations = append(citations, evidence.Citation{
			Filename:      c.SourceDocument,
			SimilarityPct: toPercent(c.Score),
			Preview:       preview(c.Text),
		})
	}
	return citations
}

// toPercent converts a [0,1] similarity into a clamped integer percent.
func toPercent(score float64) int {
	pct := int(math.Round(score * 100))
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// preview truncates chunk text to the citation preview length without
// splitting a multi-byte rune.
func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= DefaultPreviewLength {
		return text
	}
	return string(runes[:DefaultPreviewLength])
}
