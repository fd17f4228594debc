package classifier

import (
	"context"
	"log/slog"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

// Fallback asks the primary classifier first and answers from the secondary
// when the primary fails. Cancellation is never masked.
type Fallback struct {
	primary   ports.DocumentClassifier
	secondary ports.DocumentClassifier
	logger    *slog.Logger
}

func NewFallback(primary, secondary ports.DocumentClassifier, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{primary: primary, secondary: secondary, logger: logger}
}

func (f *Fallback) Classify(ctx context.Context, req ports.ClassifyRequest) (domain.Classification, error) {
	result, err := f.primary.Classify(ctx, req)
	if err == nil {
		return result, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return domain.Classification{}, err
	}
	f.logger.Warn("classifier_fallback", "filename", req.Filename, "error", err)
	return f.secondary.Classify(ctx, req)
}
