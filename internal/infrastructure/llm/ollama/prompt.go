package ollama

import (
	"strings"

	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

const maxSnippet = 4000

func buildClassificationPrompt(req ports.ClassifyRequest, labels []string) string {
	snippet := req.Text
	if len(snippet) > maxSnippet {
		snippet = strings.ToValidUTF8(snippet[:maxSnippet], "")
	}

	var entities strings.Builder
	for i, e := range req.Entities {
		if i == 20 {
			break
		}
		entities.WriteString("- " + e.Type + ": " + e.Normalized + "\n")
	}

	known := "any short snake_case label"
	if len(labels) > 0 {
		known = strings.Join(labels, ", ")
	}

	return `You are a business document classifier.
Return strict JSON object with keys:
document_type (one of: ` + known + `), category (string), subcategory (string), tags (array of strings), confidence (number from 0 to 1), summary (one sentence).
No markdown, no extra keys.

Filename: ` + req.Filename + `
Entities:
` + entities.String() + `
Document:
` + snippet
}
