package stages

import (
	"context"
	"fmt"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

// StorageExecutor chunks the normalized text into the chunk store and
// optionally mirrors entities into a graph. Graph failures only warn.
type StorageExecutor struct {
	chunker ports.Chunker
	store   ports.ChunkStore
	graph   ports.GraphIndexer
	now     func() time.Time
}

func NewStorageExecutor(chunker ports.Chunker, store ports.ChunkStore, graph ports.GraphIndexer) *StorageExecutor {
	return &StorageExecutor{
		chunker: chunker,
		store:   store,
		graph:   graph,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (e *StorageExecutor) Stage() domain.Stage { return domain.StageStorage }

func (e *StorageExecutor) Execute(ctx context.Context, in ports.StageInput) (domain.StagePatch, error) {
	doc := in.Document
	text := doc.NormalizedText
	if text == "" {
		text = doc.ExtractedText
	}

	parts := e.chunker.Split(text)
	now := e.now()
	chunks := make([]domain.Chunk, 0, len(parts))
	for i, part := range parts {
		chunks = append(chunks, domain.Chunk{
			DocumentID: doc.ID,
			Index:      i,
			Text:       part,
			CreatedAt:  now,
		})
	}
	in.ReportProgress(30)

	if err := e.store.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return domain.StagePatch{}, fmt.Errorf("store chunks: %w", err)
	}
	in.ReportProgress(80)

	patch := domain.StagePatch{
		Storage: &domain.StorageResult{ChunkCount: len(chunks), Backend: e.store.Backend()},
	}
	if e.graph != nil && len(doc.Entities) > 0 {
		if err := e.graph.IndexEntities(ctx, doc); err != nil {
			patch.Warnings = append(patch.Warnings, fmt.Sprintf("Entity graph update failed: %v", err))
		}
	}
	in.ReportProgress(100)
	return patch, nil
}
