package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

// DocumentRepository persists and reads document records. Implementations
// must be safe for concurrent use by many pipeline runs.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	Save(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	List(ctx context.Context, filter domain.DocumentFilter) ([]domain.Document, error)
	// FindEarlierDuplicate returns the first record with doc's fingerprint
	// uploaded before doc, or ErrDocumentNotFound.
	FindEarlierDuplicate(ctx context.Context, doc *domain.Document) (*domain.Document, error)
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// PipelineDispatcher hands an accepted document to the pipeline.
type PipelineDispatcher interface {
	Dispatch(ctx context.Context, doc *domain.Document) error
}

// MessageQueue publishes/consumes ingestion events.
type MessageQueue interface {
	PublishDocumentIngested(ctx context.Context, documentID string) error
	SubscribeDocumentIngested(ctx context.Context, handler func(context.Context, string) error) error
}

// TriggerPublisher delivers downstream trigger events.
type TriggerPublisher interface {
	PublishTrigger(ctx context.Context, event domain.TriggerEvent) error
}

// StageInput is the read-only view an executor works from. Progress may be
// called with 0..100 and never blocks.
type StageInput struct {
	Document *domain.Document
	Content  []byte
	Progress func(percent int)
}

// ReportProgress calls Progress when set.
func (in StageInput) ReportProgress(percent int) {
	if in.Progress != nil {
		in.Progress(percent)
	}
}

// StageExecutor runs one pipeline stage. Execute must be safe to call twice
// with the same input.
type StageExecutor interface {
	Stage() domain.Stage
	Execute(ctx context.Context, in StageInput) (domain.StagePatch, error)
}

// ExtractRequest is the input of a content extractor.
type ExtractRequest struct {
	Filename string
	MimeType string
	Content  []byte
	Progress func(percent int)
}

// ExtractResult is what a content extractor recovered from raw bytes.
type ExtractResult struct {
	Text          string
	PageCount     int
	Tables        []domain.Table
	KeyValuePairs map[string]string
	Confidence    float64
	Warnings      []string
}

// ContentExtractor recovers text and structure from one family of formats.
type ContentExtractor interface {
	Name() string
	Supports(mimeType string) bool
	Extract(ctx context.Context, req ExtractRequest) (ExtractResult, error)
}

// ClassifyRequest carries what a classifier may look at.
type ClassifyRequest struct {
	Filename string
	MimeType string
	Text     string
	Entities []domain.Entity
}

// DocumentClassifier classifies normalized text.
type DocumentClassifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (domain.Classification, error)
}

// Chunker splits text into semantically usable chunks.
type Chunker interface {
	Split(text string) []string
}

// ChunkStore indexes document chunks. ReplaceChunks overwrites any chunks
// previously stored for the document.
type ChunkStore interface {
	ReplaceChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error
	ListChunks(ctx context.Context, documentID string) ([]domain.Chunk, error)
	Backend() string
}

// GraphIndexer records document/entity relations in an external graph.
type GraphIndexer interface {
	IndexEntities(ctx context.Context, doc *domain.Document) error
}

// LogAggregator collects the ordered pipeline narrative.
type LogAggregator interface {
	Append(entry domain.LogEntry) domain.LogEntry
	Snapshot() []domain.LogEntry
	Clear()
}

// LogSink durably mirrors appended log entries.
type LogSink interface {
	WriteLog(ctx context.Context, entry domain.LogEntry) error
}

// PipelineMetrics observes pipeline activity. Implementations must tolerate
// concurrent calls.
type PipelineMetrics interface {
	RunStarted()
	RunFinished(status domain.DocumentStatus, duration time.Duration)
	StageObserved(stage domain.Stage, outcome string, duration time.Duration)
	UploadRejected(reason domain.RejectionReason)
	ObserveQueueLag(lag time.Duration)
}

// NoopMetrics discards every observation.
type NoopMetrics struct{}

func (NoopMetrics) RunStarted() {}
func (NoopMetrics) RunFinished(domain.DocumentStatus, time.Duration) {}
func (NoopMetrics) StageObserved(domain.Stage, string, time.Duration) {}
func (NoopMetrics) UploadRejected(domain.RejectionReason) {}
func (NoopMetrics) ObserveQueueLag(time.Duration) {}
