package httpadapter

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/oapi-codegen/runtime"
)

//go:embed openapi.yaml
var openAPISpec []byte

// LoadOpenAPI parses and validates the embedded API description.
func LoadOpenAPI(ctx context.Context) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openAPISpec)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("validate openapi document: %w", err)
	}
	return doc, nil
}

func renderOpenAPI(ctx context.Context) ([]byte, error) {
	doc, err := LoadOpenAPI(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

type queryParam struct {
	name string
	dest any
}

// bindQuery decodes optional form-style query parameters into their
// destinations, matching the parameter styles declared in openapi.yaml.
func bindQuery(values url.Values, params ...queryParam) error {
	for _, p := range params {
		if err := runtime.BindQueryParameter("form", true, false, p.name, values, p.dest); err != nil {
			return fmt.Errorf("query parameter %s: %w", p.name, err)
		}
	}
	return nil
}
