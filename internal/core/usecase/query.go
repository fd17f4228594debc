package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

// QueryUseCase is the read side over document records and chunks.
type QueryUseCase struct {
	repo   ports.DocumentRepository
	chunks ports.ChunkStore
}

func NewQueryUseCase(repo ports.DocumentRepository, chunks ports.ChunkStore) *QueryUseCase {
	return &QueryUseCase{
		repo:   repo,
		chunks: chunks,
	}
}

func (uc *QueryUseCase) List(ctx context.Context, filter domain.DocumentFilter) ([]domain.DocumentSummary, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "list documents", fmt.Errorf("unknown status %q", filter.Status))
	}
	docs, err := uc.repo.List(ctx, filter.Normalized())
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	out := make([]domain.DocumentSummary, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].Summarize())
	}
	return out, nil
}

// GetByID returns the latest snapshot, including records still processing.
func (uc *QueryUseCase) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get document", errors.New("id is required"))
	}
	doc, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

func (uc *QueryUseCase) Stats(ctx context.Context) (domain.Stats, error) {
	stats := domain.Stats{Categories: map[string]int{}}
	filter := domain.DocumentFilter{Limit: domain.MaxListLimit}
	for {
		docs, err := uc.repo.List(ctx, filter)
		if err != nil {
			return domain.Stats{}, fmt.Errorf("collect stats: %w", err)
		}
		for i := range docs {
			stats.Add(&docs[i])
		}
		if len(docs) < filter.Limit {
			return stats, nil
		}
		filter.Offset += len(docs)
	}
}

func (uc *QueryUseCase) Chunks(ctx context.Context, id string) ([]domain.Chunk, error) {
	if _, err := uc.GetByID(ctx, id); err != nil {
		return nil, err
	}
	chunks, err := uc.chunks.ListChunks(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	return chunks, nil
}
