// Package memory keeps document records and chunks in process memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

// DocumentRepository stores deep copies so callers never share a record.
type DocumentRepository struct {
	mu   sync.RWMutex
	docs map[string]*domain.Document
}

func NewDocumentRepository() *DocumentRepository {
	return &DocumentRepository{docs: make(map[string]*domain.Document)}
}

func (r *DocumentRepository) Create(_ context.Context, doc *domain.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.docs[doc.ID]; exists {
		return domain.WrapError(domain.ErrInvalidInput, "create document", fmt.Errorf("id %s already exists", doc.ID))
	}
	r.docs[doc.ID] = doc.Clone()
	return nil
}

func (r *DocumentRepository) Save(_ context.Context, doc *domain.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.docs[doc.ID]; !exists {
		return domain.WrapError(domain.ErrDocumentNotFound, "save document", fmt.Errorf("id %s", doc.ID))
	}
	r.docs[doc.ID] = doc.Clone()
	return nil
}

func (r *DocumentRepository) GetByID(_ context.Context, id string) (*domain.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id %s", id))
	}
	return doc.Clone(), nil
}

// List returns matching records newest first.
func (r *DocumentRepository) List(_ context.Context, filter domain.DocumentFilter) ([]domain.Document, error) {
	r.mu.RLock()
	matched := make([]*domain.Document, 0, len(r.docs))
	for _, doc := range r.docs {
		if filter.Matches(doc) {
			matched = append(matched, doc)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UploadedAt.Equal(matched[j].UploadedAt) {
			return matched[i].UploadedAt.After(matched[j].UploadedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[filter.Offset:]
		}
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	out := make([]domain.Document, 0, len(matched))
	for _, doc := range matched {
		out = append(out, *doc.Clone())
	}
	r.mu.RUnlock()
	return out, nil
}

// FindEarlierDuplicate returns the oldest record with the same content that
// was uploaded before target.
func (r *DocumentRepository) FindEarlierDuplicate(_ context.Context, target *domain.Document) (*domain.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found *domain.Document
	for _, doc := range r.docs {
		if doc.ID == target.ID || doc.Fingerprint != target.Fingerprint || !doc.UploadedBefore(target) {
			continue
		}
		if found == nil || doc.UploadedBefore(found) {
			found = doc
		}
	}
	if found == nil {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "find earlier duplicate", fmt.Errorf("fingerprint %s", target.Fingerprint))
	}
	return found.Clone(), nil
}
