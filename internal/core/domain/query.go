package domain

import (
	"strings"
	"time"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// DocumentFilter narrows a document listing. Zero values match everything.
type DocumentFilter struct {
	Status       DocumentStatus
	Category     string
	DocumentType string
	Search       string
	Limit        int
	Offset       int
}

// Normalized clamps paging values into their allowed ranges.
func (f DocumentFilter) Normalized() DocumentFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	f.Search = strings.TrimSpace(f.Search)
	return f
}

func (f DocumentFilter) Matches(doc *Document) bool {
	if f.Status != "" && doc.Status != f.Status {
		return false
	}
	if f.Category != "" && !strings.EqualFold(doc.Category, f.Category) {
		return false
	}
	if f.DocumentType != "" && !strings.EqualFold(doc.DocumentType, f.DocumentType) {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(doc.Filename), needle) &&
			!strings.Contains(strings.ToLower(doc.Summary), needle) &&
			!containsFold(doc.Keywords, needle) {
			return false
		}
	}
	return true
}

func containsFold(values []string, needle string) bool {
	for _, v := range values {
		if strings.Contains(strings.ToLower(v), needle) {
			return true
		}
	}
	return false
}

// Stats aggregates the whole document set.
type Stats struct {
	Total       int            `json:"total"`
	Complete    int            `json:"complete"`
	Processing  int            `json:"processing"`
	Failed      int            `json:"failed"`
	TotalWords  int            `json:"totalWords"`
	TotalChunks int            `json:"totalChunks"`
	Categories  map[string]int `json:"categories"`
}

// Add folds one record into the aggregate. Words, chunks and categories only
// count completed documents.
func (s *Stats) Add(doc *Document) {
	if s.Categories == nil {
		s.Categories = map[string]int{}
	}
	s.Total++
	switch doc.Status {
	case StatusComplete:
		s.Complete++
		s.TotalWords += doc.WordCount
		s.TotalChunks += doc.ChunkCount
		if doc.Category != "" {
			s.Categories[doc.Category]++
		}
	case StatusProcessing:
		s.Processing++
	case StatusError:
		s.Failed++
	}
}

// Chunk is one indexed slice of a document's normalized text.
type Chunk struct {
	DocumentID string    `json:"documentId"`
	Index      int       `json:"index"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TriggerEvent is the payload published for a downstream trigger.
type TriggerEvent struct {
	Trigger      string            `json:"trigger"`
	DocumentID   string            `json:"documentId"`
	Filename     string            `json:"filename"`
	DocumentType string            `json:"documentType"`
	Category     string            `json:"category"`
	Fingerprint  string            `json:"fingerprint"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	OccurredAt   time.Time         `json:"occurredAt"`
}

// IdempotencyKey identifies the event across retries of the same run.
func (e TriggerEvent) IdempotencyKey() string {
	return e.DocumentID + ":" + e.Trigger
}
