package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/document-pipeline/internal/config"
	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
	"github.com/kirillkom/document-pipeline/internal/observability/metrics"
)

// Ingestor accepts uploads one file at a time and dispatches the accepted
// batch once the request body is consumed.
type Ingestor interface {
	Accept(ctx context.Context, upload domain.Upload) (*domain.Document, error)
	DispatchBatch(ctx context.Context, docs []*domain.Document) error
}

type LogService interface {
	ports.LogReader
	ports.LogStreamer
}

type Services struct {
	Ingest    Ingestor
	Documents ports.DocumentReader
	Logs      LogService
	Runs      ports.RunCanceller

	// Metrics is optional. Gatherers are served next to it on /metrics.
	Metrics   *metrics.HTTPServerMetrics
	Gatherers []prometheus.Gatherer
	Logger    *slog.Logger
}

type Router struct {
	cfg      config.Config
	services Services
	logger   *slog.Logger
}

func NewRouter(cfg config.Config, services Services) *Router {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:      cfg,
		services: services,
		logger:   logger,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("GET /openapi.json", rt.openAPI)
	if rt.services.Metrics != nil {
		mux.Handle("GET /metrics", rt.services.Metrics.Handler(rt.services.Gatherers...))
	}

	mux.HandleFunc("POST /v1/documents", rt.uploadDocuments)
	mux.HandleFunc("GET /v1/documents", rt.listDocuments)
	mux.HandleFunc("GET /v1/documents/{id}", rt.getDocument)
	mux.HandleFunc("GET /v1/documents/{id}/chunks", rt.listChunks)
	mux.HandleFunc("POST /v1/documents/{id}/cancel", rt.cancelRun)
	mux.HandleFunc("GET /v1/stats", rt.stats)
	mux.HandleFunc("GET /v1/logs", rt.listLogs)
	mux.HandleFunc("GET /v1/logs/stream", rt.streamLogs)

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, time.Duration(rt.cfg.APIBackpressureWaitMS)*time.Millisecond)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	if rt.services.Metrics != nil {
		handler = rt.services.Metrics.Middleware(rt.cfg.ServiceName, handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) openAPI(w http.ResponseWriter, r *http.Request) {
	payload, err := renderOpenAPI(r.Context())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps err to a status code. Internal failures are logged and
// answered with a generic message.
func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		rt.logger.Error("http_handler_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
		message = "internal server error"
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	writeJSON(w, status, map[string]string{"error": message})
}
