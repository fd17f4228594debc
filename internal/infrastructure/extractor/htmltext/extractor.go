package htmltext

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

const blockSelector = "p, div, li, tr, h1, h2, h3, h4, h5, h6, section, article, header, footer, blockquote, pre, dt, dd"

var blankLines = regexp.MustCompile(`\n[ \t]*(\n[ \t]*)+`)

// Extractor renders HTML into readable text and recovers tables and
// definition lists.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Name() string { return "html" }

func (e *Extractor) Supports(mimeType string) bool {
	return domain.BaseMimeType(mimeType) == "text/html"
}

func (e *Extractor) Extract(_ context.Context, req ports.ExtractRequest) (ports.ExtractResult, error) {
	// Legacy pages declare their encoding in a meta tag; goquery wants UTF-8.
	body, err := charset.NewReader(bytes.NewReader(req.Content), req.MimeType)
	if err != nil {
		body = bytes.NewReader(req.Content)
	}
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return ports.ExtractResult{}, fmt.Errorf("parse html: %w", err)
	}
	result := FromDocument(doc)
	if req.Progress != nil {
		req.Progress(100)
	}
	return result, nil
}

// FromDocument extracts text, tables and key/value pairs from a parsed page.
func FromDocument(doc *goquery.Document) ports.ExtractResult {
	doc.Find("script, style, noscript, template, svg").Remove()

	result := ports.ExtractResult{
		PageCount:     1,
		Confidence:    0.9,
		KeyValuePairs: map[string]string{},
	}

	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		var rows domain.Table
		table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			var cells []string
			tr.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
				cells = append(cells, collapse(cell.Text()))
			})
			if len(cells) > 0 {
				rows = append(rows, cells)
			}
		})
		if len(rows) > 0 {
			result.Tables = append(result.Tables, rows)
		}
	})

	doc.Find("dl").Each(func(_ int, dl *goquery.Selection) {
		dl.Find("dt").Each(func(_ int, dt *goquery.Selection) {
			key := collapse(dt.Text())
			value := collapse(dt.NextFiltered("dd").Text())
			if key != "" && value != "" {
				result.KeyValuePairs[key] = value
			}
		})
	})

	if title := collapse(doc.Find("title").First().Text()); title != "" {
		result.KeyValuePairs["Title"] = title
	}
	doc.Find("meta[name]").Each(func(_ int, meta *goquery.Selection) {
		name, _ := meta.Attr("name")
		content, _ := meta.Attr("content")
		switch strings.ToLower(name) {
		case "author", "description", "keywords":
			if content = collapse(content); content != "" {
				result.KeyValuePairs[cases.Title(language.English).String(strings.ToLower(name))] = content
			}
		}
	})

	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("td, th").AppendHtml("\t")
	doc.Find(blockSelector).AppendHtml("\n")

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	result.Text = tidy(root.Text())
	return result
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func tidy(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(strings.Join(strings.FieldsFunc(line, func(r rune) bool { return r == ' ' || r == '\r' }), " "), " ")
	}
	return strings.TrimSpace(blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}
