package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

// ObjectStorage keeps uploaded bytes in memory. It backs the CLI and tests.
type ObjectStorage struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewObjectStorage() *ObjectStorage {
	return &ObjectStorage{objects: make(map[string][]byte)}
}

func (s *ObjectStorage) Save(_ context.Context, key string, data io.Reader) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("read object %s: %w", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = raw
	return nil
}

func (s *ObjectStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.objects[key]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "open object", fmt.Errorf("key %s", key))
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}
