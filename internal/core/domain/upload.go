package domain

import (
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
)

// DefaultMaxUploadBytes is the hard ceiling applied when none is configured.
const DefaultMaxUploadBytes int64 = 100 << 20

// LargeFileBytes marks files whose extraction quality may degrade.
const LargeFileBytes int64 = 50 << 20

// Upload is one file handed to the ingest gateway. Size is the declared
// length; a negative value means unknown.
type Upload struct {
	Filename string
	MimeType string
	Size     int64
	Body     io.Reader
}

// Rejection describes a refused upload.
type Rejection struct {
	Filename string          `json:"filename"`
	Reason   RejectionReason `json:"reason"`
	Detail   string          `json:"detail"`
}

// acceptedTypes is the MIME allow-list.
var acceptedTypes = map[string]struct{}{
	"application/pdf":    {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   {},
	"application/vnd.ms-excel":                                                  {},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         {},
	"application/vnd.ms-powerpoint":                                             {},
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": {},
	"application/vnd.oasis.opendocument.text":                                   {},
	"application/vnd.oasis.opendocument.spreadsheet":                            {},
	"application/vnd.oasis.opendocument.presentation":                           {},
	"application/rtf":            {},
	"text/plain":                 {},
	"text/markdown":              {},
	"text/csv":                   {},
	"application/json":           {},
	"text/html":                  {},
	"application/xml":            {},
	"text/xml":                   {},
	"image/png":                  {},
	"image/jpeg":                 {},
	"image/gif":                  {},
	"image/webp":                 {},
	"image/tiff":                 {},
	"image/bmp":                  {},
	"application/zip":            {},
	"message/rfc822":             {},
	"application/vnd.ms-outlook": {},
}

// extensionTypes maps a lowercase extension to its canonical MIME type.
var extensionTypes = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".odt":  "application/vnd.oasis.opendocument.text",
	".ods":  "application/vnd.oasis.opendocument.spreadsheet",
	".odp":  "application/vnd.oasis.opendocument.presentation",
	".rtf":  "application/rtf",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".csv":  "text/csv",
	".json": "application/json",
	".html": "text/html",
	".htm":  "text/html",
	".xml":  "application/xml",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".bmp":  "image/bmp",
	".zip":  "application/zip",
	".eml":  "message/rfc822",
	".msg":  "application/vnd.ms-outlook",
}

var genericTypes = map[string]struct{}{
	"":                         {},
	"application/octet-stream": {},
	"binary/octet-stream":      {},
	"application/x-download":   {},
}

// BaseMimeType strips parameters and normalizes case.
func BaseMimeType(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if mediaType, _, err := mime.ParseMediaType(raw); err == nil {
		return mediaType
	}
	if idx := strings.IndexByte(raw, ';'); idx >= 0 {
		raw = raw[:idx]
	}
	return strings.ToLower(strings.TrimSpace(raw))
}

func IsAcceptedMimeType(mimeType string) bool {
	_, ok := acceptedTypes[BaseMimeType(mimeType)]
	return ok
}

func IsGenericMimeType(mimeType string) bool {
	_, ok := genericTypes[BaseMimeType(mimeType)]
	return ok
}

// MimeTypeForExtension resolves a filename extension against the allow-list.
func MimeTypeForExtension(filename string) (string, bool) {
	mimeType, ok := extensionTypes[strings.ToLower(filepath.Ext(filename))]
	return mimeType, ok
}

// ResolveMimeType picks the accepted MIME type for an upload. The declared
// type wins when allowed; otherwise the filename extension is consulted.
// sniff is only called when the declared type is generic or missing.
func ResolveMimeType(filename, declared string, sniff func() string) (string, error) {
	base := BaseMimeType(declared)
	if IsAcceptedMimeType(base) {
		return base, nil
	}
	if byExt, ok := MimeTypeForExtension(filename); ok {
		return byExt, nil
	}
	if IsGenericMimeType(base) && sniff != nil {
		if sniffed := BaseMimeType(sniff()); IsAcceptedMimeType(sniffed) {
			return sniffed, nil
		}
	}
	return "", WrapError(ErrUnsupportedType, "resolve mime type",
		fmt.Errorf("file %q with type %q is not accepted", filename, declared))
}

// FileExtension returns the lowercase extension without the leading dot.
func FileExtension(filename string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
}
