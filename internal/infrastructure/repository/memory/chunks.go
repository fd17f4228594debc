package memory

import (
	"context"
	"sync"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

const Backend = "memory"

type ChunkStore struct {
	mu     sync.RWMutex
	chunks map[string][]domain.Chunk
}

func NewChunkStore() *ChunkStore {
	return &ChunkStore{chunks: make(map[string][]domain.Chunk)}
}

func (s *ChunkStore) ReplaceChunks(_ context.Context, documentID string, chunks []domain.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[documentID] = append([]domain.Chunk{}, chunks...)
	return nil
}

func (s *ChunkStore) ListChunks(_ context.Context, documentID string) ([]domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Chunk{}, s.chunks[documentID]...), nil
}

func (s *ChunkStore) Backend() string { return Backend }
