package httpadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kirillkom/document-pipeline/internal/config"
)

func TestOpenAPIDocumentCoversRoutes(t *testing.T) {
	doc, err := LoadOpenAPI(context.Background())
	if err != nil {
		t.Fatalf("LoadOpenAPI() error = %v", err)
	}
	for _, path := range []string{
		"/healthz",
		"/v1/documents",
		"/v1/documents/{id}",
		"/v1/documents/{id}/chunks",
		"/v1/documents/{id}/cancel",
		"/v1/stats",
		"/v1/logs",
		"/v1/logs/stream",
	} {
		if doc.Paths.Value(path) == nil {
			t.Fatalf("openapi document misses %s", path)
		}
	}
}

func TestOpenAPIEndpointServesJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/openapi.json", nil)
	res := httptest.NewRecorder()
	newTestHandler(config.Config{}).ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode openapi: %v", err)
	}
	if body["openapi"] != "3.0.3" {
		t.Fatalf("unexpected openapi version %v", body["openapi"])
	}
}
