package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

const (
	zipMimeType = "application/zip"

	DefaultMaxMembers     = 200
	DefaultMaxMemberBytes = 25 << 20
)

// Resolver finds the extractor for a member's MIME type.
type Resolver interface {
	Resolve(mimeType string) (ports.ContentExtractor, bool)
}

// Extractor opens zip archives and extracts every supported member through
// the resolver. Nested archives are read one level deep.
type Extractor struct {
	resolver       Resolver
	maxMembers     int
	maxMemberBytes int64
}

func NewExtractor(resolver Resolver, maxMembers int, maxMemberBytes int64) *Extractor {
	if maxMembers <= 0 {
		maxMembers = DefaultMaxMembers
	}
	if maxMemberBytes <= 0 {
		maxMemberBytes = DefaultMaxMemberBytes
	}
	return &Extractor{
		resolver:       resolver,
		maxMembers:     maxMembers,
		maxMemberBytes: maxMemberBytes,
	}
}

func (e *Extractor) Name() string { return "archive" }

func (e *Extractor) Supports(mimeType string) bool {
	return domain.BaseMimeType(mimeType) == zipMimeType
}

type nestedKey struct{}

func (e *Extractor) Extract(ctx context.Context, req ports.ExtractRequest) (ports.ExtractResult, error) {
	reader, err := zip.NewReader(bytes.NewReader(req.Content), int64(len(req.Content)))
	if err != nil {
		return ports.ExtractResult{}, fmt.Errorf("open zip archive: %w", err)
	}
	nested, _ := ctx.Value(nestedKey{}).(bool)

	result := ports.ExtractResult{KeyValuePairs: map[string]string{}}
	var (
		b          strings.Builder
		extracted  int
		skipped    int
		confidence float64
	)
	files := make([]*zip.File, 0, len(reader.File))
	for _, f := range reader.File {
		if f.FileInfo().IsDir() || hiddenMember(f.Name) {
			continue
		}
		files = append(files, f)
	}
	if len(files) > e.maxMembers {
		result.Warnings = append(result.Warnings, fmt.Sprintf("Archive has %d files; only the first %d were read", len(files), e.maxMembers))
		files = files[:e.maxMembers]
	}

	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return ports.ExtractResult{}, fmt.Errorf("extract %s: %w", f.Name, err)
		}
		if req.Progress != nil {
			req.Progress(i * 100 / len(files))
		}
		if f.UncompressedSize64 > uint64(e.maxMemberBytes) {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Skipped %s: larger than %d bytes", f.Name, e.maxMemberBytes))
			skipped++
			continue
		}
		content, err := readMember(f, e.maxMemberBytes)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Skipped %s: %v", f.Name, err))
			skipped++
			continue
		}
		mimeType, err := domain.ResolveMimeType(f.Name, "", func() string { return http.DetectContentType(content) })
		if err != nil {
			skipped++
			continue
		}
		if mimeType == zipMimeType && nested {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Skipped nested archive %s", f.Name))
			skipped++
			continue
		}
		extractor, ok := e.resolver.Resolve(mimeType)
		if !ok {
			skipped++
			continue
		}
		memberCtx := context.WithValue(ctx, nestedKey{}, true)
		member, err := extractor.Extract(memberCtx, ports.ExtractRequest{
			Filename: f.Name,
			MimeType: mimeType,
			Content:  content,
		})
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Could not extract %s: %v", f.Name, err))
			skipped++
			continue
		}

		extracted++
		confidence += member.Confidence
		result.PageCount += max(member.PageCount, 1)
		result.Tables = append(result.Tables, member.Tables...)
		for k, v := range member.KeyValuePairs {
			result.KeyValuePairs[f.Name+": "+k] = v
		}
		for _, w := range member.Warnings {
			result.Warnings = append(result.Warnings, f.Name+": "+w)
		}
		if text := strings.TrimSpace(member.Text); text != "" {
			fmt.Fprintf(&b, "=== %s ===\n%s\n\n", f.Name, text)
		}
	}

	result.Text = strings.TrimSpace(b.String())
	if extracted > 0 {
		result.Confidence = confidence / float64(extracted)
	}
	if skipped > 0 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%d archive member(s) skipped", skipped))
	}
	if req.Progress != nil {
		req.Progress(100)
	}
	return result, nil
}

func readMember(f *zip.File, limit int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	content, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(content)) > limit {
		return nil, fmt.Errorf("larger than %d bytes", limit)
	}
	return content, nil
}

func hiddenMember(name string) bool {
	if strings.HasPrefix(name, "__MACOSX/") {
		return true
	}
	return strings.HasPrefix(path.Base(name), ".")
}
