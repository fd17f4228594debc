package httpadapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

const uploadField = "file"

type uploadResponse struct {
	Documents  []*domain.Document `json:"documents"`
	Rejections []domain.Rejection `json:"rejections"`
}

// uploadDocuments streams every "file" part through the ingest gateway.
// Accepted files are dispatched together once the body is consumed.
func (rt *Router) uploadDocuments(w http.ResponseWriter, r *http.Request) {
	reader, err := r.MultipartReader()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart/form-data body with 'file' parts is required"})
		return
	}

	resp := uploadResponse{
		Documents:  []*domain.Document{},
		Rejections: []domain.Rejection{},
	}
	var failure error
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			failure = domain.WrapError(domain.ErrInvalidInput, "read multipart body", err)
			break
		}
		if part.FormName() != uploadField || part.FileName() == "" {
			_ = part.Close()
			continue
		}

		doc, err := rt.services.Ingest.Accept(r.Context(), domain.Upload{
			Filename: part.FileName(),
			MimeType: part.Header.Get("Content-Type"),
			Size:     -1,
			Body:     part,
		})
		_ = part.Close()
		if err != nil {
			if reason, ok := domain.RejectionReasonOf(err); ok {
				resp.Rejections = append(resp.Rejections, domain.Rejection{
					Filename: part.FileName(),
					Reason:   reason,
					Detail:   err.Error(),
				})
				continue
			}
			failure = err
			break
		}
		resp.Documents = append(resp.Documents, doc)
	}

	if rt.services.Metrics != nil {
		rt.services.Metrics.RecordUploads(rt.cfg.ServiceName, len(resp.Documents), len(resp.Rejections))
	}

	// Accepted records must reach the pipeline even if a later part failed.
	if len(resp.Documents) > 0 {
		if err := rt.services.Ingest.DispatchBatch(context.WithoutCancel(r.Context()), resp.Documents); err != nil {
			rt.logger.Warn("dispatch_batch_failed", "request_id", requestIDFromContext(r.Context()), "error", err)
		}
	}

	if failure != nil {
		rt.writeError(w, r, failure)
		return
	}
	if len(resp.Documents) == 0 && len(resp.Rejections) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("multipart field '%s' is required", uploadField)})
		return
	}
	writeJSON(w, uploadStatus(resp), resp)
}

// uploadStatus is 202 when anything was accepted. Otherwise 413 when every
// file was too large and 415 for any other mix of rejections.
func uploadStatus(resp uploadResponse) int {
	if len(resp.Documents) > 0 {
		return http.StatusAccepted
	}
	for _, rejection := range resp.Rejections {
		if rejection.Reason != domain.RejectTooLarge {
			return http.StatusUnsupportedMediaType
		}
	}
	return http.StatusRequestEntityTooLarge
}

func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request) {
	var (
		status string
		filter domain.DocumentFilter
	)
	err := bindQuery(r.URL.Query(),
		queryParam{"status", &status},
		queryParam{"category", &filter.Category},
		queryParam{"document_type", &filter.DocumentType},
		queryParam{"search", &filter.Search},
		queryParam{"limit", &filter.Limit},
		queryParam{"offset", &filter.Offset},
	)
	if err != nil {
		rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "list documents", err))
		return
	}
	filter.Status = domain.DocumentStatus(status)

	docs, err := rt.services.Documents.List(r.Context(), filter)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	normalized := filter.Normalized()
	writeJSON(w, http.StatusOK, map[string]any{
		"documents": docs,
		"limit":     normalized.Limit,
		"offset":    normalized.Offset,
	})
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := rt.services.Documents.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) listChunks(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	chunks, err := rt.services.Documents.Chunks(r.Context(), id)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documentId": id,
		"chunks":     chunks,
	})
}

func (rt *Router) cancelRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if rt.services.Runs == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "runs are not cancellable on this node"})
		return
	}
	if err := rt.services.Runs.Cancel(id); err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
}

func (rt *Router) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := rt.services.Documents.Stats(r.Context())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
