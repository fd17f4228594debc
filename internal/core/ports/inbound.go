package ports

import (
	"context"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

// DocumentIngestor is the inbound contract for document upload orchestration.
type DocumentIngestor interface {
	Accept(ctx context.Context, upload domain.Upload) (*domain.Document, error)
	Upload(ctx context.Context, upload domain.Upload) (*domain.Document, error)
}

// DocumentReader is the inbound read model for document state.
type DocumentReader interface {
	List(ctx context.Context, filter domain.DocumentFilter) ([]domain.DocumentSummary, error)
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	Stats(ctx context.Context) (domain.Stats, error)
	Chunks(ctx context.Context, id string) ([]domain.Chunk, error)
}

// LogReader is the inbound read model for the pipeline log.
type LogReader interface {
	ListLogs(filter domain.LogFilter) []domain.LogEntry
}

// LogStreamer exposes a live tail of appended entries. The returned cancel
// func releases the subscription.
type LogStreamer interface {
	Subscribe(buffer int) (<-chan domain.LogEntry, func())
}

// DocumentProcessor is the inbound contract for asynchronous document processing.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID string) error
}

// RunCanceller requests cancellation of an in-flight pipeline run.
type RunCanceller interface {
	Cancel(documentID string) error
}
