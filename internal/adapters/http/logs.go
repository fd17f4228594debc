package httpadapter

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

const (
	streamBuffer       = 256
	streamKeepAlive    = 15 * time.Second
	lastEventIDHeader  = "Last-Event-ID"
	defaultLogsPerPage = 200
)

func (rt *Router) logFilter(r *http.Request) (domain.LogFilter, error) {
	var (
		filter domain.LogFilter
		level  string
		after  int64
	)
	err := bindQuery(r.URL.Query(),
		queryParam{"document_id", &filter.DocumentID},
		queryParam{"stage", &filter.Stage},
		queryParam{"level", &level},
		queryParam{"after", &after},
		queryParam{"limit", &filter.Limit},
	)
	if err != nil {
		return domain.LogFilter{}, domain.WrapError(domain.ErrInvalidInput, "log filter", err)
	}
	if level != "" {
		parsed, ok := domain.ParseLogLevel(level)
		if !ok {
			return domain.LogFilter{}, domain.WrapError(domain.ErrInvalidInput, "log filter", fmt.Errorf("unknown level %q", level))
		}
		filter.Level = parsed
	}
	if after < 0 || filter.Limit < 0 {
		return domain.LogFilter{}, domain.WrapError(domain.ErrInvalidInput, "log filter", fmt.Errorf("after and limit must not be negative"))
	}
	filter.AfterSeq = uint64(after)
	filter.Stage = strings.ToUpper(strings.TrimSpace(filter.Stage))
	return filter, nil
}

func (rt *Router) listLogs(w http.ResponseWriter, r *http.Request) {
	filter, err := rt.logFilter(r)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if filter.Limit == 0 {
		filter.Limit = defaultLogsPerPage
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": rt.services.Logs.ListLogs(filter),
	})
}

// streamLogs tails the journal as server-sent events. Entries after the
// "after" query parameter (or Last-Event-ID on reconnect) are replayed first.
func (rt *Router) streamLogs(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming is not supported"})
		return
	}
	filter, err := rt.logFilter(r)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if raw := strings.TrimSpace(r.Header.Get(lastEventIDHeader)); raw != "" {
		if seq, err := strconv.ParseUint(raw, 10, 64); err == nil && seq > filter.AfterSeq {
			filter.AfterSeq = seq
		}
	}

	// Subscribe before replaying so nothing appended in between is lost.
	entries, cancel := rt.services.Logs.Subscribe(streamBuffer)
	defer cancel()
	if m := rt.services.Metrics; m != nil {
		m.StreamOpened()
		defer m.StreamClosed()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	lastSeq := filter.AfterSeq
	if filter.AfterSeq > 0 {
		backlog := filter
		backlog.Limit = 0
		for _, entry := range rt.services.Logs.ListLogs(backlog) {
			if err := writeEvent(w, entry); err != nil {
				return
			}
			lastSeq = entry.Seq
		}
	}
	flusher.Flush()

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()
	// The subscription carries every entry in seq order, so a hole in seq
	// means the journal dropped entries for this slow subscriber.
	var lastSeen uint64
	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case entry, open := <-entries:
			if !open {
				return
			}
			if lastSeen > 0 && entry.Seq > lastSeen+1 {
				seq, err := rt.catchUp(w, filter, lastSeq, lastSeen, entry.Seq)
				if err != nil {
					return
				}
				lastSeq = seq
			}
			lastSeen = entry.Seq
			filter.AfterSeq = lastSeq
			if !filter.Matches(entry) {
				continue
			}
			if err := writeEvent(w, entry); err != nil {
				return
			}
			lastSeq = entry.Seq
			flusher.Flush()
		}
	}
}

// catchUp replays matching entries the subscription dropped between
// lastSeen and next. Entries the journal no longer keeps are reported as a
// gap event so the client knows its view is incomplete.
func (rt *Router) catchUp(w http.ResponseWriter, filter domain.LogFilter, lastSeq, lastSeen, next uint64) (uint64, error) {
	oldest := rt.services.Logs.ListLogs(domain.LogFilter{AfterSeq: lastSeen, Limit: 1})
	if len(oldest) == 0 || oldest[0].Seq > lastSeen+1 {
		to := next - 1
		if len(oldest) > 0 && oldest[0].Seq < next {
			to = oldest[0].Seq - 1
		}
		if _, err := fmt.Fprintf(w, "event: gap\ndata: {\"from\":%d,\"to\":%d}\n\n", lastSeen+1, to); err != nil {
			return lastSeq, err
		}
	}

	missed := filter
	missed.AfterSeq = max(lastSeq, lastSeen)
	missed.Limit = 0
	for _, entry := range rt.services.Logs.ListLogs(missed) {
		if entry.Seq >= next {
			break
		}
		if err := writeEvent(w, entry); err != nil {
			return lastSeq, err
		}
		lastSeq = entry.Seq
	}
	return lastSeq, nil
}

func writeEvent(w http.ResponseWriter, entry domain.LogEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: log\ndata: %s\n\n", entry.Seq, payload)
	return err
}
