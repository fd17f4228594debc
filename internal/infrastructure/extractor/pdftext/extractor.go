package pdftext

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

// Extractor reads the text layer of PDF files page by page. When the text
// layer cannot be parsed, pdfcpu still supplies the page count.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Name() string { return "pdf" }

func (e *Extractor) Supports(mimeType string) bool {
	return domain.BaseMimeType(mimeType) == "application/pdf"
}

func (e *Extractor) Extract(ctx context.Context, req ports.ExtractRequest) (result ports.ExtractResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result, err = e.pageCountOnly(req.Content, fmt.Errorf("pdf reader panic: %v", rec))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(req.Content), int64(len(req.Content)))
	if err != nil {
		return e.pageCountOnly(req.Content, err)
	}

	pages := reader.NumPage()
	fonts := make(map[string]*pdf.Font)
	var b strings.Builder
	var warnings []string
	readable := 0
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return ports.ExtractResult{}, fmt.Errorf("extract pdf page %d: %w", i, err)
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(fonts)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("Page %d text could not be read", i))
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			readable++
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(text)
		}
		if req.Progress != nil {
			req.Progress(i * 100 / pages)
		}
	}

	confidence := 0.85
	if pages > 0 {
		confidence = 0.4 + 0.45*float64(readable)/float64(pages)
	}
	if readable == 0 {
		warnings = append(warnings, "PDF has no text layer; OCR quality may vary")
	}
	return ports.ExtractResult{
		Text:       b.String(),
		PageCount:  pages,
		Confidence: confidence,
		Warnings:   warnings,
	}, nil
}

func (e *Extractor) pageCountOnly(content []byte, cause error) (ports.ExtractResult, error) {
	pages, err := api.PageCount(bytes.NewReader(content), nil)
	if err != nil {
		return ports.ExtractResult{}, fmt.Errorf("read pdf: %w", cause)
	}
	return ports.ExtractResult{
		PageCount:  pages,
		Confidence: 0.2,
		Warnings:   []string{fmt.Sprintf("PDF text layer could not be read: %v", cause)},
	}, nil
}
