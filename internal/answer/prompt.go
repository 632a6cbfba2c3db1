package answer

import (
	"fmt"
	"strings"

	"github.com/docsage/docsage/internal/evidence"
)

// citationInstruction tells the model how to attribute sources so the
// streamed text lines up with the citation block the client receives.
const citationInstruction = "When you use information from the provided context, " +
	"cite the source filename in square brackets, e.g. [report.pdf]."

// emptyEvidenceInstruction keeps the model honest when a section is
// thin: invention is worse than admitting the gap.
const emptyEvidenceInstruction = "If the context does not contain the information " +
	"needed to answer, say that you cannot find the information in the uploaded " +
	"documents. Do not invent content that is not in the context."

// BuildSystemPrompt composes the complete system prompt: persona
// fragment, citation rules, and the rendered evidence sections.
func BuildSystemPrompt(personaFragment string, bundle *evidence.Bundle) string {
	var sb strings.Builder

	sb.WriteString(personaFragment)
	sb.WriteString("\n\n")
	sb.WriteString(citationInstruction)
	sb.WriteString("\n")
	sb.WriteString(emptyEvidenceInstruction)
	sb.WriteString("\n")

	if len(bundle.Documents) > 0 {
		sb.WriteString("\n## Documents in this workspace\n")
		for _, d := range bundle.Documents {
			fmt.Fprintf(&sb, "- %s (uploaded %s)\n", d.Filename, d.UploadedAt.Format("2006-01-02"))
		}
	}

	if len(bundle.Entities) > 0 {
		sb.WriteString("\n## Key entities across the workspace\n")
		for _, e := range bundle.Entities {
			fmt.Fprintf(&sb, "- %s (%s, %d connections)\n", e.Label, e.Type, e.Degree)
		}
	}

	if len(bundle.Facts) > 0 {
		sb.WriteString("\n## Relationships relevant to the question\n")
		for _, f := range bundle.Facts {
			fmt.Fprintf(&sb, "- %s (%s) %s %s (%s)\n",
				f.Subject, f.SubjectType, f.Relationship, f.Object, f.ObjectType)
		}
	}

	if len(bundle.Chunks) > 0 {
		sb.WriteString("\n## Document excerpts\n")
		for _, c := range bundle.Chunks {
			fmt.Fprintf(&sb, "\n[%s] (similarity %.0f%%)\n%s\n", c.SourceDocument, c.Score*100, c.Text)
		}
	}

	return sb.String()
}
