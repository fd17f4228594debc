package stages

import (
	"context"
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/nlp"
)

const (
	defaultLowWordCount    = 50
	defaultHighValueAmount = 10000
	maxKeywords            = 10
	maxTopics              = 5
	maxSummaryChars        = 400
)

// MetadataOptions tunes the METADATA flags. Zero values select defaults.
type MetadataOptions struct {
	LowWordCount    int
	HighValueAmount float64
}

type MetadataExecutor struct {
	classifier ports.DocumentClassifier
	opts       MetadataOptions
}

func NewMetadataExecutor(classifier ports.DocumentClassifier, opts MetadataOptions) *MetadataExecutor {
	if opts.LowWordCount <= 0 {
		opts.LowWordCount = defaultLowWordCount
	}
	if opts.HighValueAmount <= 0 {
		opts.HighValueAmount = defaultHighValueAmount
	}
	return &MetadataExecutor{classifier: classifier, opts: opts}
}

func (e *MetadataExecutor) Stage() domain.Stage { return domain.StageMetadata }

func (e *MetadataExecutor) Execute(ctx context.Context, in ports.StageInput) (domain.StagePatch, error) {
	doc := in.Document
	text := doc.NormalizedText
	if text == "" {
		text = doc.ExtractedText
	}

	in.ReportProgress(10)
	cls, err := e.classifier.Classify(ctx, ports.ClassifyRequest{
		Filename: doc.Filename,
		MimeType: doc.MimeType,
		Text:     text,
		Entities: doc.Entities,
	})
	if err != nil {
		return domain.StagePatch{}, fmt.Errorf("classify: %w", err)
	}
	in.ReportProgress(70)

	keywords := nlp.Keywords(text, maxKeywords)
	topics := append([]string{}, cls.Tags...)
	if len(topics) == 0 {
		topics = append(topics, keywords[:min(3, len(keywords))]...)
	}
	if len(topics) > maxTopics {
		topics = topics[:maxTopics]
	}
	if strings.TrimSpace(cls.Summary) == "" {
		cls.Summary = composeSummary(doc, cls, text)
	}

	var flags []string
	if doc.WordCount < e.opts.LowWordCount {
		flags = append(flags, domain.FlagLowWordCount)
	}
	if strings.TrimSpace(text) == "" {
		flags = append(flags, domain.FlagNoTextExtracted)
	}
	if len(doc.Emails) > 0 || len(doc.Phones) > 0 {
		flags = append(flags, domain.FlagContainsPII)
	}
	if m, ok := largestAmount(doc.MonetaryValues); ok && m.Amount >= e.opts.HighValueAmount {
		flags = append(flags, domain.FlagHighValue)
	}

	in.ReportProgress(100)
	return domain.StagePatch{
		Enrichment: &domain.Enrichment{
			Classification:    cls,
			Keywords:          keywords,
			Topics:            topics,
			OverallConfidence: overallConfidence(doc, cls),
		},
		Flags: flags,
	}, nil
}

// overallConfidence weighs extraction and classification equally and
// penalizes documents that yielded no text.
func overallConfidence(doc *domain.Document, cls domain.Classification) float64 {
	score := 0.5*doc.ExtractionConfidence + 0.5*cls.Confidence
	if doc.WordCount == 0 {
		score /= 2
	}
	return math.Round(score*100) / 100
}

func largestAmount(values []domain.MonetaryValue) (domain.MonetaryValue, bool) {
	var best domain.MonetaryValue
	found := false
	for _, v := range values {
		if !found || v.Amount > best.Amount {
			best, found = v, true
		}
	}
	return best, found
}

func composeSummary(doc *domain.Document, cls domain.Classification, text string) string {
	label := cases.Title(language.English).String(strings.ReplaceAll(cls.DocumentType, "_", " "))
	var b strings.Builder
	b.WriteString(label)
	b.WriteString(" document")
	if org := firstEntity(doc.Entities, nlp.EntityOrg); org != "" {
		b.WriteString(" from ")
		b.WriteString(org)
	}
	if len(doc.Dates) > 0 {
		b.WriteString(" dated ")
		b.WriteString(doc.Dates[0])
	}
	b.WriteString(".")
	if m, ok := largestAmount(doc.MonetaryValues); ok {
		b.WriteString(" Largest amount ")
		b.WriteString(m.Formatted)
		b.WriteString(".")
	}
	if person := firstEntity(doc.Entities, nlp.EntityPerson); person != "" {
		b.WriteString(" Key party: ")
		b.WriteString(person)
		b.WriteString(".")
	}
	if b.Len() < maxSummaryChars/2 {
		if lead := nlp.Summary(text, maxSummaryChars-b.Len()); lead != "" {
			b.WriteString(" ")
			b.WriteString(lead)
		}
	}
	return b.String()
}

func firstEntity(entities []domain.Entity, kind string) string {
	for _, e := range entities {
		if e.Type == kind {
			return e.Normalized
		}
	}
	return ""
}
