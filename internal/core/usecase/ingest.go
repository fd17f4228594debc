package usecase

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

type IngestOptions struct {
	MaxUploadBytes int64
	Metrics        ports.PipelineMetrics
	Logger         *slog.Logger
	Now            func() time.Time
}

type IngestDocumentUseCase struct {
	repo       ports.DocumentRepository
	storage    ports.ObjectStorage
	dispatcher ports.PipelineDispatcher
	journal    ports.LogAggregator

	maxBytes int64
	metrics  ports.PipelineMetrics
	logger   *slog.Logger
	now      func() time.Time
}

func NewIngestDocumentUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	dispatcher ports.PipelineDispatcher,
	journal ports.LogAggregator,
	opts IngestOptions,
) *IngestDocumentUseCase {
	uc := &IngestDocumentUseCase{
		repo:       repo,
		storage:    storage,
		dispatcher: dispatcher,
		journal:    journal,
		maxBytes:   opts.MaxUploadBytes,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if uc.maxBytes <= 0 {
		uc.maxBytes = domain.DefaultMaxUploadBytes
	}
	if uc.metrics == nil {
		uc.metrics = ports.NoopMetrics{}
	}
	if uc.logger == nil {
		uc.logger = slog.Default()
	}
	if uc.now == nil {
		uc.now = func() time.Time { return time.Now().UTC() }
	}
	return uc
}

// MaxUploadBytes reports the configured size ceiling.
func (uc *IngestDocumentUseCase) MaxUploadBytes() int64 {
	return uc.maxBytes
}

// Accept validates the upload, fingerprints it and creates the initial
// record. Rejected uploads leave no trace in storage, the repository or the
// pipeline log.
func (uc *IngestDocumentUseCase) Accept(ctx context.Context, upload domain.Upload) (*domain.Document, error) {
	doc, err := uc.accept(ctx, upload)
	if reason, ok := domain.RejectionReasonOf(err); ok {
		uc.metrics.UploadRejected(reason)
		uc.logger.Info("upload_rejected", "filename", upload.Filename, "reason", string(reason))
	}
	return doc, err
}

func (uc *IngestDocumentUseCase) accept(ctx context.Context, upload domain.Upload) (*domain.Document, error) {
	if upload.Body == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "accept upload", errors.New("empty body"))
	}
	if strings.TrimSpace(upload.Filename) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "accept upload", errors.New("filename is required"))
	}
	if upload.Size > uc.maxBytes {
		return nil, tooLarge(upload.Filename, upload.Size, uc.maxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(upload.Body, uc.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload body: %w", err)
	}
	if int64(len(data)) > uc.maxBytes {
		return nil, tooLarge(upload.Filename, int64(len(data)), uc.maxBytes)
	}

	mimeType, err := domain.ResolveMimeType(upload.Filename, upload.MimeType, func() string {
		return http.DetectContentType(data)
	})
	if err != nil {
		return nil, err
	}

	fingerprint := Fingerprint(data)
	id := uuid.NewString()
	storageKey := fmt.Sprintf("%s_%s", id, sanitizeFilename(upload.Filename))

	if err := uc.storage.Save(ctx, storageKey, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	doc := domain.NewDocument(id, upload.Filename, mimeType, int64(len(data)), fingerprint, storageKey, uc.now())
	if err := uc.repo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document record: %w", err)
	}
	return doc, nil
}

// Upload accepts a single file and dispatches it to the pipeline.
func (uc *IngestDocumentUseCase) Upload(ctx context.Context, upload domain.Upload) (*domain.Document, error) {
	doc, err := uc.Accept(ctx, upload)
	if err != nil {
		return nil, err
	}
	if err := uc.DispatchBatch(ctx, []*domain.Document{doc}); err != nil {
		return doc, err
	}
	return doc, nil
}

// DispatchBatch announces the batch in the pipeline log and hands every
// accepted document to the dispatcher. A document whose dispatch fails is
// marked failed so it does not stay in processing forever.
func (uc *IngestDocumentUseCase) DispatchBatch(ctx context.Context, docs []*domain.Document) error {
	if len(docs) == 0 {
		return nil
	}
	noun := "documents"
	if len(docs) == 1 {
		noun = "document"
	}
	uc.journal.Append(domain.LogEntry{
		Stage:   domain.LogStagePipeline,
		Level:   domain.LevelInfo,
		Message: fmt.Sprintf("Starting pipeline for %d %s", len(docs), noun),
	})

	var errs []error
	for _, doc := range docs {
		if err := uc.dispatcher.Dispatch(ctx, doc); err != nil {
			dispatchErr := fmt.Errorf("dispatch document %s: %w", doc.ID, err)
			errs = append(errs, dispatchErr)
			uc.markDispatchFailed(ctx, doc, err)
		}
	}
	return errors.Join(errs...)
}

func (uc *IngestDocumentUseCase) markDispatchFailed(ctx context.Context, doc *domain.Document, cause error) {
	detail := fmt.Sprintf("%s: dispatch failed: %v", domain.StageIngest, cause)
	if err := doc.Fail(detail, uc.now()); err != nil {
		return
	}
	if err := uc.repo.Save(context.WithoutCancel(ctx), doc); err != nil {
		uc.logger.Error("dispatch_failure_not_persisted", "document_id", doc.ID, "error", err)
	}
	uc.journal.Append(domain.LogEntry{
		DocumentID: doc.ID,
		Stage:      domain.StageIngest.String(),
		Level:      domain.LevelError,
		Message:    detail,
	})
}

// Fingerprint returns the lowercase hex sha256 of data.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func tooLarge(filename string, size, limit int64) error {
	return domain.WrapError(domain.ErrTooLarge, "accept upload",
		fmt.Errorf("file %q is %d bytes, limit is %d", filename, size, limit))
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "document.bin"
	}
	return base
}
