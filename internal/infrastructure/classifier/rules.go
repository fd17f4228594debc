package classifier

import (
	"context"
	_ "embed"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

//go:embed taxonomy.yaml
var defaultTaxonomy []byte

const (
	filenameBonus  = 4
	maxHitsPerTerm = 3
	fallbackScore  = 0.35
	defaultScore   = 0.2
)

type Label struct {
	DocumentType string `yaml:"document_type"`
	Category     string `yaml:"category"`
	Subcategory  string `yaml:"subcategory"`
}

type Rule struct {
	Label    `yaml:",inline"`
	Topics   []string       `yaml:"topics"`
	Filename []string       `yaml:"filename"`
	Terms    map[string]int `yaml:"terms"`
}

// Taxonomy is the rule set the classifier scores text against.
type Taxonomy struct {
	Default    Label            `yaml:"default"`
	MinScore   int              `yaml:"min_score"`
	Types      []Rule           `yaml:"types"`
	Extensions map[string]Label `yaml:"extensions"`
}

// ParseTaxonomy decodes and validates a YAML taxonomy.
func ParseTaxonomy(raw []byte) (Taxonomy, error) {
	var t Taxonomy
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return Taxonomy{}, fmt.Errorf("parse taxonomy: %w", err)
	}
	if t.Default.DocumentType == "" {
		t.Default = Label{DocumentType: "general", Category: "general", Subcategory: "miscellaneous"}
	}
	if t.MinScore <= 0 {
		t.MinScore = 1
	}
	seen := map[string]struct{}{}
	for i, rule := range t.Types {
		if rule.DocumentType == "" || rule.Category == "" {
			return Taxonomy{}, fmt.Errorf("taxonomy rule %d: document_type and category are required", i)
		}
		if _, dup := seen[rule.DocumentType]; dup {
			return Taxonomy{}, fmt.Errorf("taxonomy rule %q is defined twice", rule.DocumentType)
		}
		seen[rule.DocumentType] = struct{}{}
		if len(rule.Terms) == 0 && len(rule.Filename) == 0 {
			return Taxonomy{}, fmt.Errorf("taxonomy rule %q has neither terms nor filename hints", rule.DocumentType)
		}
		lowered := make(map[string]int, len(rule.Terms))
		for term, weight := range rule.Terms {
			lowered[strings.ToLower(term)] = weight
		}
		t.Types[i].Terms = lowered
	}
	return t, nil
}

// LoadTaxonomy reads a taxonomy file, or returns the built-in one when path
// is empty.
func LoadTaxonomy(path string) (Taxonomy, error) {
	if path == "" {
		return DefaultTaxonomy(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Taxonomy{}, fmt.Errorf("read taxonomy: %w", err)
	}
	return ParseTaxonomy(raw)
}

// DocumentTypes lists the labels in declaration order.
func (t Taxonomy) DocumentTypes() []string {
	out := make([]string, 0, len(t.Types))
	for _, rule := range t.Types {
		out = append(out, rule.DocumentType)
	}
	return out
}

// DefaultTaxonomy returns the built-in taxonomy.
func DefaultTaxonomy() Taxonomy {
	t, err := ParseTaxonomy(defaultTaxonomy)
	if err != nil {
		panic(err)
	}
	return t
}

// Rules classifies by weighted term matches. Filenames break ties and the
// extension table covers texts with too little signal.
type Rules struct {
	taxonomy Taxonomy
}

func NewRules(taxonomy Taxonomy) *Rules {
	return &Rules{taxonomy: taxonomy}
}

type scored struct {
	rule  *Rule
	score int
}

func (r *Rules) Classify(_ context.Context, req ports.ClassifyRequest) (domain.Classification, error) {
	text := strings.ToLower(req.Text)
	filename := strings.ToLower(req.Filename)

	results := make([]scored, 0, len(r.taxonomy.Types))
	for i := range r.taxonomy.Types {
		rule := &r.taxonomy.Types[i]
		s := scored{rule: rule}
		for term, weight := range rule.Terms {
			if hits := strings.Count(text, term); hits > 0 {
				s.score += weight * min(hits, maxHitsPerTerm)
			}
		}
		for _, hint := range rule.Filename {
			if strings.Contains(filename, hint) {
				s.score += filenameBonus
				break
			}
		}
		results = append(results, s)
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].score > results[j].score })

	if len(results) == 0 || results[0].score < r.taxonomy.MinScore {
		return r.fallback(req.Filename), nil
	}

	best := results[0]
	second := 0
	if len(results) > 1 {
		second = results[1].score
	}
	strength := math.Min(float64(best.score)/20, 1)
	margin := float64(best.score-second) / float64(best.score)
	confidence := 0.5 + 0.45*strength*(0.5+0.5*margin)

	return domain.Classification{
		DocumentType: best.rule.DocumentType,
		Category:     best.rule.Category,
		Subcategory:  best.rule.Subcategory,
		Tags:         append([]string{}, best.rule.Topics...),
		Confidence:   math.Round(confidence*100) / 100,
	}, nil
}

func (r *Rules) fallback(filename string) domain.Classification {
	if label, ok := r.taxonomy.Extensions[domain.FileExtension(filename)]; ok {
		return domain.Classification{
			DocumentType: label.DocumentType,
			Category:     label.Category,
			Subcategory:  label.Subcategory,
			Tags:         []string{},
			Confidence:   fallbackScore,
		}
	}
	return domain.Classification{
		DocumentType: r.taxonomy.Default.DocumentType,
		Category:     r.taxonomy.Default.Category,
		Subcategory:  r.taxonomy.Default.Subcategory,
		Tags:         []string{},
		Confidence:   defaultScore,
	}
}
