package stages

import (
	"context"
	"errors"
	"fmt"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
	"github.com/kirillkom/document-pipeline/internal/core/usecase"
)

// IngestExecutor validates the stored bytes against the accepted record and
// looks for earlier uploads of the same content.
type IngestExecutor struct {
	repo ports.DocumentRepository
}

func NewIngestExecutor(repo ports.DocumentRepository) *IngestExecutor {
	return &IngestExecutor{repo: repo}
}

func (e *IngestExecutor) Stage() domain.Stage { return domain.StageIngest }

func (e *IngestExecutor) Execute(ctx context.Context, in ports.StageInput) (domain.StagePatch, error) {
	doc := in.Document
	if len(in.Content) == 0 {
		return domain.StagePatch{}, fmt.Errorf("file %q is empty", doc.Filename)
	}
	in.ReportProgress(25)

	if fingerprint := usecase.Fingerprint(in.Content); fingerprint != doc.Fingerprint {
		return domain.StagePatch{}, fmt.Errorf("stored content does not match fingerprint %s", doc.Fingerprint)
	}
	in.ReportProgress(60)

	var patch domain.StagePatch
	if e.repo != nil {
		existing, err := e.repo.FindEarlierDuplicate(ctx, doc)
		switch {
		case err == nil && existing != nil:
			patch.Flags = append(patch.Flags, domain.FlagDuplicateContent)
			patch.Warnings = append(patch.Warnings,
				fmt.Sprintf("Duplicate of '%s' (%s)", existing.Filename, existing.ID))
		case err != nil && !errors.Is(err, domain.ErrDocumentNotFound):
			return domain.StagePatch{}, fmt.Errorf("duplicate lookup: %w", err)
		}
	}

	if int64(len(in.Content)) > domain.LargeFileBytes {
		patch.Flags = append(patch.Flags, domain.FlagLargeFile)
		patch.Warnings = append(patch.Warnings, domain.LargeFileWarning)
	}
	in.ReportProgress(100)
	return patch, nil
}
