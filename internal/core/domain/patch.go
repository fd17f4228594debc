package domain

// Extraction is the EXTRACT stage result.
type Extraction struct {
	Text          string
	PageCount     int
	WordCount     int
	Language      string
	Tables        []Table
	KeyValuePairs map[string]string
	Confidence    float64
}

// Normalization is the NORMALIZE stage result.
type Normalization struct {
	Text           string
	WordCount      int
	Entities       []Entity
	Dates          []string
	MonetaryValues []MonetaryValue
	Emails         []string
	Phones         []string
	URLs           []string
	KeyValuePairs  map[string]string
}

// Enrichment is the METADATA stage result.
type Enrichment struct {
	Classification    Classification
	Keywords          []string
	Topics            []string
	OverallConfidence float64
}

// StorageResult is the STORAGE stage result.
type StorageResult struct {
	ChunkCount int
	Backend    string
}

// StagePatch is a partial update produced by one stage executor. Applying
// the same patch twice yields the same record.
type StagePatch struct {
	Extraction    *Extraction
	Normalization *Normalization
	Enrichment    *Enrichment
	Storage       *StorageResult
	// Triggers replaces the trigger list when non-nil.
	Triggers []Trigger
	Flags    []string
	Warnings []string
}

func (p StagePatch) Apply(doc *Document) {
	doc.EnsureCollections()

	if e := p.Extraction; e != nil {
		doc.ExtractedText = e.Text
		doc.PageCount = e.PageCount
		doc.WordCount = e.WordCount
		doc.Language = e.Language
		doc.Tables = cloneTables(e.Tables)
		doc.ExtractionConfidence = e.Confidence
		mergePairs(doc.KeyValuePairs, e.KeyValuePairs)
	}

	if n := p.Normalization; n != nil {
		doc.NormalizedText = n.Text
		if n.WordCount > 0 {
			doc.WordCount = n.WordCount
		}
		doc.Entities = append([]Entity{}, n.Entities...)
		doc.Dates = append([]string{}, n.Dates...)
		doc.MonetaryValues = append([]MonetaryValue{}, n.MonetaryValues...)
		doc.Emails = append([]string{}, n.Emails...)
		doc.Phones = append([]string{}, n.Phones...)
		doc.URLs = append([]string{}, n.URLs...)
		mergePairs(doc.KeyValuePairs, n.KeyValuePairs)
	}

	if m := p.Enrichment; m != nil {
		doc.DocumentType = m.Classification.DocumentType
		doc.Category = m.Classification.Category
		doc.Subcategory = m.Classification.Subcategory
		doc.ClassificationConfidence = clampUnit(m.Classification.Confidence)
		doc.Summary = m.Classification.Summary
		doc.Keywords = append([]string{}, m.Keywords...)
		doc.Topics = append([]string{}, m.Topics...)
		doc.OverallConfidence = clampUnit(m.OverallConfidence)
	}

	if s := p.Storage; s != nil {
		doc.ChunkCount = s.ChunkCount
		doc.StorageBackend = s.Backend
	}

	if p.Triggers != nil {
		doc.Triggers = append([]Trigger{}, p.Triggers...)
	}

	for _, flag := range p.Flags {
		doc.AddFlag(flag)
	}
	for _, warning := range p.Warnings {
		doc.AddWarning(warning)
	}
}

func mergePairs(dst, src map[string]string) {
	for k, v := range src {
		if k == "" {
			continue
		}
		dst[k] = v
	}
}

func cloneTables(in []Table) []Table {
	out := make([]Table, 0, len(in))
	for _, table := range in {
		rows := make(Table, 0, len(table))
		for _, row := range table {
			rows = append(rows, append([]string{}, row...))
		}
		out = append(out, rows)
	}
	return out
}

func clampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
