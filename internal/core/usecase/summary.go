package usecase

import (
	"fmt"
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

var summaryPrinter = message.NewPrinter(language.English)

// StageSummary renders the success log line for a completed stage.
func StageSummary(stage domain.Stage, doc *domain.Document) string {
	switch stage {
	case domain.StageIngest:
		fingerprint := doc.Fingerprint
		if len(fingerprint) > 12 {
			fingerprint = fingerprint[:12]
		}
		msg := fmt.Sprintf("File validated (%s) • SHA-256: %s…", FormatBytes(doc.Size), fingerprint)
		if doc.HasFlag(domain.FlagDuplicateContent) {
			msg += " • Duplicate content"
		}
		return msg
	case domain.StageExtract:
		tables := "No tables"
		if len(doc.Tables) > 0 {
			tables = summaryPrinter.Sprintf("%d table%s detected", len(doc.Tables), plural(len(doc.Tables)))
		}
		return summaryPrinter.Sprintf("Extracted %d words across %d page%s • %s",
			doc.WordCount, doc.PageCount, plural(doc.PageCount), tables)
	case domain.StageNormalize:
		return fmt.Sprintf("Cleaned text • Found %d entities, %d dates, %d monetary values",
			len(doc.Entities), len(doc.Dates), len(doc.MonetaryValues))
	case domain.StageMetadata:
		return fmt.Sprintf("Classified as '%s' (%d%% confidence) • %d keywords",
			doc.DocumentType, int(math.Round(doc.ClassificationConfidence*100)), len(doc.Keywords))
	case domain.StageStorage:
		return fmt.Sprintf("Indexed %d chunks → %s", doc.ChunkCount, doc.StorageBackend)
	case domain.StageTrigger:
		failed := 0
		for _, trigger := range doc.Triggers {
			if trigger.Status == domain.TriggerFailure {
				failed++
			}
		}
		msg := fmt.Sprintf("Fired %d downstream trigger%s", len(doc.Triggers), plural(len(doc.Triggers)))
		if failed > 0 {
			msg += fmt.Sprintf(" (%d failed)", failed)
		}
		return msg
	default:
		return "Stage complete"
	}
}

// FormatBytes renders a byte count the way the upload list shows it.
func FormatBytes(size int64) string {
	switch {
	case size < 1024:
		return fmt.Sprintf("%d B", size)
	case size < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%.2f MB", float64(size)/(1024*1024))
	}
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
