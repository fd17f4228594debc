package stages

import (
	"context"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/nlp"
)

// NormalizeExecutor cleans the extracted text and pulls entities, dates,
// amounts and contacts out of it.
type NormalizeExecutor struct{}

func NewNormalizeExecutor() *NormalizeExecutor { return &NormalizeExecutor{} }

func (e *NormalizeExecutor) Stage() domain.Stage { return domain.StageNormalize }

func (e *NormalizeExecutor) Execute(ctx context.Context, in ports.StageInput) (domain.StagePatch, error) {
	text := nlp.Normalize(in.Document.ExtractedText)
	in.ReportProgress(30)
	if err := ctx.Err(); err != nil {
		return domain.StagePatch{}, err
	}

	findings := nlp.Extract(text)
	in.ReportProgress(80)

	pairs := make(map[string]string, len(in.Document.KeyValuePairs))
	for k, v := range in.Document.KeyValuePairs {
		if cleaned := nlp.Normalize(v); cleaned != "" {
			pairs[k] = cleaned
		}
	}
	for k, v := range nlp.KeyValueLines(text) {
		if _, ok := pairs[k]; !ok {
			pairs[k] = v
		}
	}

	in.ReportProgress(100)
	return domain.StagePatch{
		Normalization: &domain.Normalization{
			Text:           text,
			WordCount:      nlp.WordCount(text),
			Entities:       findings.Entities,
			Dates:          findings.Dates,
			MonetaryValues: findings.MonetaryValues,
			Emails:         findings.Emails,
			Phones:         findings.Phones,
			URLs:           findings.URLs,
			KeyValuePairs:  pairs,
		},
	}, nil
}
