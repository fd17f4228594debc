package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, model string, timeout time.Duration, executor *resilience.Executor) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		executor:   executor,
	}
}

// Classifier asks the model to label a document with one of the known
// document types.
type Classifier struct {
	client *Client
	labels []string
}

func NewClassifier(client *Client, labels []string) *Classifier {
	return &Classifier{client: client, labels: labels}
}

type classificationResponse struct {
	DocumentType string   `json:"document_type"`
	Category     string   `json:"category"`
	Subcategory  string   `json:"subcategory"`
	Tags         []string `json:"tags"`
	Confidence   float64  `json:"confidence"`
	Summary      string   `json:"summary"`
}

func (c *Classifier) Classify(ctx context.Context, req ports.ClassifyRequest) (domain.Classification, error) {
	respText, err := c.client.generateJSON(ctx, buildClassificationPrompt(req, c.labels))
	if err != nil {
		return domain.Classification{}, err
	}

	var parsed classificationResponse
	if err := json.Unmarshal([]byte(extractJSONObject(respText)), &parsed); err != nil {
		return domain.Classification{}, fmt.Errorf("parse classification json: %w", err)
	}
	if strings.TrimSpace(parsed.DocumentType) == "" || strings.TrimSpace(parsed.Category) == "" {
		return domain.Classification{}, fmt.Errorf("classification response misses document_type or category")
	}
	if parsed.Tags == nil {
		parsed.Tags = []string{}
	}
	return domain.Classification{
		DocumentType: normalizeLabel(parsed.DocumentType),
		Category:     normalizeLabel(parsed.Category),
		Subcategory:  normalizeLabel(parsed.Subcategory),
		Tags:         parsed.Tags,
		Confidence:   math.Max(0, math.Min(1, parsed.Confidence)),
		Summary:      strings.TrimSpace(parsed.Summary),
	}, nil
}

func (c *Client) generateJSON(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":  c.model,
		"prompt": prompt,
		"stream": false,
		"format": "json",
	}
	var response struct {
		Response string `json:"response"`
	}
	call := func(ctx context.Context) error {
		return c.postJSON(ctx, "/api/generate", reqBody, &response, "generate")
	}
	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "ollama.generate", call, classifyGenerateError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", resilience.WrapTemporary("ollama generate", err, classifyGenerateError)
	}
	return strings.TrimSpace(response.Response), nil
}

func normalizeLabel(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	return strings.Join(strings.FieldsFunc(label, func(r rune) bool { return r == ' ' || r == '-' }), "_")
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
