package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/nlp"
)

// ExtractorResolver picks the extractor for a MIME type. The bool reports
// that the heuristic fallback was chosen.
type ExtractorResolver interface {
	For(mimeType string) (ports.ContentExtractor, bool)
}

type ExtractExecutor struct {
	extractors ExtractorResolver
}

func NewExtractExecutor(extractors ExtractorResolver) *ExtractExecutor {
	return &ExtractExecutor{extractors: extractors}
}

func (e *ExtractExecutor) Stage() domain.Stage { return domain.StageExtract }

func (e *ExtractExecutor) Execute(ctx context.Context, in ports.StageInput) (domain.StagePatch, error) {
	doc := in.Document
	extractor, fallback := e.extractors.For(doc.MimeType)
	if extractor == nil {
		return domain.StagePatch{}, fmt.Errorf("no extractor for %s", doc.MimeType)
	}

	res, err := extractor.Extract(ctx, ports.ExtractRequest{
		Filename: doc.Filename,
		MimeType: doc.MimeType,
		Content:  in.Content,
		Progress: func(percent int) { in.ReportProgress(percent * 9 / 10) },
	})
	if err != nil {
		return domain.StagePatch{}, fmt.Errorf("%s extractor: %w", extractor.Name(), err)
	}

	text := strings.TrimSpace(res.Text)
	pairs := nlp.KeyValueLines(text)
	for k, v := range res.KeyValuePairs {
		pairs[k] = v
	}
	pageCount := res.PageCount
	if pageCount == 0 && text != "" {
		pageCount = 1
	}

	patch := domain.StagePatch{
		Extraction: &domain.Extraction{
			Text:          text,
			PageCount:     pageCount,
			WordCount:     nlp.WordCount(text),
			Language:      nlp.Language(text),
			Tables:        res.Tables,
			KeyValuePairs: pairs,
			Confidence:    res.Confidence,
		},
		Warnings: append([]string{}, res.Warnings...),
	}
	if fallback {
		patch.Flags = append(patch.Flags, domain.FlagFallbackExtractor)
		patch.Warnings = append(patch.Warnings,
			fmt.Sprintf("No dedicated extractor for %s; text was recovered heuristically", doc.MimeType))
	}
	if text == "" {
		patch.Flags = append(patch.Flags, domain.FlagNoTextExtracted)
		if strings.HasPrefix(domain.BaseMimeType(doc.MimeType), "image/") {
			patch.Flags = append(patch.Flags, domain.FlagOCRRequired)
		}
	}
	in.ReportProgress(100)
	return patch, nil
}
