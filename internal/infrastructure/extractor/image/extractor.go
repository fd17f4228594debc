package image

import (
	"bytes"
	"context"
	"fmt"
	stdimage "image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strconv"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

// NoTextWarning is reported for every image since no OCR engine is wired.
const NoTextWarning = "Image has no text layer; OCR is not configured"

// Extractor records image dimensions and format. It yields no text.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Name() string { return "image" }

func (e *Extractor) Supports(mimeType string) bool {
	switch domain.BaseMimeType(mimeType) {
	case "image/png", "image/jpeg", "image/gif", "image/webp", "image/tiff", "image/bmp":
		return true
	default:
		return false
	}
}

func (e *Extractor) Extract(_ context.Context, req ports.ExtractRequest) (ports.ExtractResult, error) {
	cfg, format, err := stdimage.DecodeConfig(bytes.NewReader(req.Content))
	if err != nil {
		return ports.ExtractResult{}, fmt.Errorf("decode image header: %w", err)
	}
	if req.Progress != nil {
		req.Progress(100)
	}
	return ports.ExtractResult{
		PageCount:  1,
		Confidence: 0.1,
		KeyValuePairs: map[string]string{
			"Format": format,
			"Width":  strconv.Itoa(cfg.Width),
			"Height": strconv.Itoa(cfg.Height),
		},
		Warnings: []string{NoTextWarning},
	}, nil
}
