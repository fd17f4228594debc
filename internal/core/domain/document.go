package domain

import (
	"fmt"
	"time"
)

type DocumentStatus string

const (
	StatusProcessing DocumentStatus = "processing"
	StatusComplete   DocumentStatus = "complete"
	StatusError      DocumentStatus = "error"
)

func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusProcessing, StatusComplete, StatusError:
		return true
	default:
		return false
	}
}

type TriggerStatus string

const (
	TriggerSuccess TriggerStatus = "success"
	TriggerFailure TriggerStatus = "failure"
)

// Table is a sequence of rows, each a sequence of cell strings.
type Table [][]string

type Entity struct {
	Text       string `json:"text"`
	Type       string `json:"type"`
	Normalized string `json:"normalized"`
}

type MonetaryValue struct {
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Formatted string  `json:"formatted"`
}

type Trigger struct {
	Name   string        `json:"name"`
	Status TriggerStatus `json:"status"`
	Detail string        `json:"detail"`
}

type Classification struct {
	DocumentType string   `json:"documentType"`
	Category     string   `json:"category"`
	Subcategory  string   `json:"subcategory"`
	Tags         []string `json:"tags"`
	Confidence   float64  `json:"confidence"`
	Summary      string   `json:"summary"`
}

// Document is the full processing record of one accepted upload.
type Document struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	Size        int64     `json:"size"`
	MimeType    string    `json:"mimeType"`
	Fingerprint string    `json:"fingerprint"`
	UploadedAt  time.Time `json:"uploadedAt"`
	StorageKey  string    `json:"storageKey"`

	Status        DocumentStatus `json:"status"`
	CurrentStage  Stage          `json:"currentStage"`
	StageProgress int            `json:"stageProgress"`
	StageTimings  StageTimings   `json:"stageTimings"`

	ExtractedText  string            `json:"extractedText"`
	NormalizedText string            `json:"normalizedText"`
	PageCount      int               `json:"pageCount"`
	WordCount      int               `json:"wordCount"`
	Language       string            `json:"language"`
	Tables         []Table           `json:"tables"`
	Entities       []Entity          `json:"entities"`
	Dates          []string          `json:"dates"`
	MonetaryValues []MonetaryValue   `json:"monetaryValues"`
	Emails         []string          `json:"emails"`
	Phones         []string          `json:"phones"`
	URLs           []string          `json:"urls"`
	KeyValuePairs  map[string]string `json:"keyValuePairs"`
	Keywords       []string          `json:"keywords"`
	Topics         []string          `json:"topics"`

	DocumentType             string  `json:"documentType"`
	Category                 string  `json:"category"`
	Subcategory              string  `json:"subcategory"`
	ClassificationConfidence float64 `json:"classificationConfidence"`
	Summary                  string  `json:"summary"`
	ChunkCount               int     `json:"chunkCount"`
	StorageBackend           string  `json:"storageBackend"`

	Triggers             []Trigger `json:"triggers"`
	ProcessingFlags      []string  `json:"processingFlags"`
	Warnings             []string  `json:"warnings"`
	Errors               []string  `json:"errors"`
	ExtractionConfidence float64   `json:"extractionConfidence"`
	OverallConfidence    float64   `json:"overallConfidence"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// NewDocument builds the initial record the ingest gateway hands to the pipeline.
func NewDocument(id, filename, mimeType string, size int64, fingerprint, storageKey string, now time.Time) *Document {
	doc := &Document{
		ID:           id,
		Filename:     filename,
		Size:         size,
		MimeType:     mimeType,
		Fingerprint:  fingerprint,
		UploadedAt:   now,
		StorageKey:   storageKey,
		Status:       StatusProcessing,
		CurrentStage: StageIngest,
		UpdatedAt:    now,
	}
	doc.EnsureCollections()
	return doc
}

// EnsureCollections replaces nil slices and maps with empty ones so the JSON
// shape never omits a field.
func (d *Document) EnsureCollections() {
	if d.StageTimings == nil {
		d.StageTimings = StageTimings{}
	}
	if d.Tables == nil {
		d.Tables = []Table{}
	}
	if d.Entities == nil {
		d.Entities = []Entity{}
	}
	if d.Dates == nil {
		d.Dates = []string{}
	}
	if d.MonetaryValues == nil {
		d.MonetaryValues = []MonetaryValue{}
	}
	if d.Emails == nil {
		d.Emails = []string{}
	}
	if d.Phones == nil {
		d.Phones = []string{}
	}
	if d.URLs == nil {
		d.URLs = []string{}
	}
	if d.KeyValuePairs == nil {
		d.KeyValuePairs = map[string]string{}
	}
	if d.Keywords == nil {
		d.Keywords = []string{}
	}
	if d.Topics == nil {
		d.Topics = []string{}
	}
	if d.Triggers == nil {
		d.Triggers = []Trigger{}
	}
	if d.ProcessingFlags == nil {
		d.ProcessingFlags = []string{}
	}
	if d.Warnings == nil {
		d.Warnings = []string{}
	}
	if d.Errors == nil {
		d.Errors = []string{}
	}
}

// Clone returns a deep copy safe to hand to readers and executors.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	out.StageTimings = append(StageTimings{}, d.StageTimings...)
	out.Tables = cloneTables(d.Tables)
	out.Entities = append([]Entity{}, d.Entities...)
	out.Dates = append([]string{}, d.Dates...)
	out.MonetaryValues = append([]MonetaryValue{}, d.MonetaryValues...)
	out.Emails = append([]string{}, d.Emails...)
	out.Phones = append([]string{}, d.Phones...)
	out.URLs = append([]string{}, d.URLs...)
	out.KeyValuePairs = make(map[string]string, len(d.KeyValuePairs))
	for k, v := range d.KeyValuePairs {
		out.KeyValuePairs[k] = v
	}
	out.Keywords = append([]string{}, d.Keywords...)
	out.Topics = append([]string{}, d.Topics...)
	out.Triggers = append([]Trigger{}, d.Triggers...)
	out.ProcessingFlags = append([]string{}, d.ProcessingFlags...)
	out.Warnings = append([]string{}, d.Warnings...)
	out.Errors = append([]string{}, d.Errors...)
	return &out
}

func (d *Document) Terminal() bool {
	return d.Status == StatusComplete || d.Status == StatusError
}

// Advance records the elapsed time of the current stage and moves to the next
// one with progress reset to 0.
func (d *Document) Advance(elapsed time.Duration, now time.Time) error {
	if d.Status != StatusProcessing {
		return WrapError(ErrInvalidTransition, "advance stage", fmt.Errorf("document %s is %s", d.ID, d.Status))
	}
	from := d.CurrentStage
	to := from.Next()
	if !CanTransition(from, to) {
		return WrapError(ErrInvalidTransition, "advance stage", fmt.Errorf("%s -> %s", from, to))
	}
	if err := d.StageTimings.Record(from, elapsed.Milliseconds()); err != nil {
		return err
	}
	d.CurrentStage = to
	d.StageProgress = 0
	d.UpdatedAt = now
	return nil
}

// SetProgress applies a progress tick; regressions are ignored and values
// are clamped to [0, 100]. It reports whether the stored value changed.
func (d *Document) SetProgress(percent int, now time.Time) bool {
	if d.Status != StatusProcessing {
		return false
	}
	percent = max(0, min(100, percent))
	if percent <= d.StageProgress {
		return false
	}
	d.StageProgress = percent
	d.UpdatedAt = now
	return true
}

// Fail moves the record to the ERROR state and appends the failure detail.
func (d *Document) Fail(detail string, now time.Time) error {
	if d.Terminal() {
		return WrapError(ErrInvalidTransition, "fail document", fmt.Errorf("document %s already %s", d.ID, d.Status))
	}
	if detail == "" {
		detail = "unknown failure"
	}
	d.Status = StatusError
	d.CurrentStage = StageError
	d.Errors = append(d.Errors, detail)
	d.UpdatedAt = now
	return nil
}

// Complete finalizes a record whose six stages all finished.
func (d *Document) Complete(now time.Time) error {
	if d.Status != StatusProcessing || d.CurrentStage != StageComplete {
		return WrapError(ErrInvalidTransition, "complete document",
			fmt.Errorf("document %s is %s at %s", d.ID, d.Status, d.CurrentStage))
	}
	if len(d.StageTimings) != len(PipelineStages) {
		return WrapError(ErrInvalidTransition, "complete document",
			fmt.Errorf("document %s has %d stage timings", d.ID, len(d.StageTimings)))
	}
	d.Status = StatusComplete
	d.StageProgress = 100
	d.UpdatedAt = now
	return nil
}

// AddWarning appends a non-fatal note once.
func (d *Document) AddWarning(warning string) {
	d.Warnings = appendUnique(d.Warnings, warning)
}

func (d *Document) AddFlag(flag string) {
	d.ProcessingFlags = appendUnique(d.ProcessingFlags, flag)
}

// UploadedBefore orders records by upload time, then id. Records accepted in
// the same batch can share a timestamp, and the id keeps the order total.
func (d *Document) UploadedBefore(other *Document) bool {
	if !d.UploadedAt.Equal(other.UploadedAt) {
		return d.UploadedAt.Before(other.UploadedAt)
	}
	return d.ID < other.ID
}

func (d *Document) HasFlag(flag string) bool {
	for _, existing := range d.ProcessingFlags {
		if existing == flag {
			return true
		}
	}
	return false
}

// Summarize projects the record into the list view.
func (d *Document) Summarize() DocumentSummary {
	return DocumentSummary{
		ID:                       d.ID,
		Filename:                 d.Filename,
		Status:                   d.Status,
		CurrentStage:             d.CurrentStage,
		StageProgress:            d.StageProgress,
		MimeType:                 d.MimeType,
		Size:                     d.Size,
		UploadedAt:               d.UploadedAt,
		DocumentType:             d.DocumentType,
		Category:                 d.Category,
		ClassificationConfidence: d.ClassificationConfidence,
	}
}

// DocumentSummary is a partial projection safe to show while processing.
type DocumentSummary struct {
	ID                       string         `json:"id"`
	Filename                 string         `json:"filename"`
	Status                   DocumentStatus `json:"status"`
	CurrentStage             Stage          `json:"currentStage"`
	StageProgress            int            `json:"stageProgress"`
	MimeType                 string         `json:"mimeType"`
	Size                     int64          `json:"size"`
	UploadedAt               time.Time      `json:"uploadedAt"`
	DocumentType             string         `json:"documentType"`
	Category                 string         `json:"category"`
	ClassificationConfidence float64        `json:"classificationConfidence"`
}

func appendUnique(list []string, value string) []string {
	if value == "" {
		return list
	}
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}
