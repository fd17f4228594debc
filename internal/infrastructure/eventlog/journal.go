// Package eventlog is the in-process pipeline narrative: an ordered,
// bounded journal with live subscribers and durable sinks.
package eventlog

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

const (
	DefaultRetention = 10000
	sinkTimeout      = 2 * time.Second
)

type Options struct {
	// Retention bounds the kept entries; the oldest are dropped first.
	Retention int
	Logger    *slog.Logger
	Sinks     []ports.LogSink
	Now       func() time.Time
}

// Journal serializes appends under one mutex so seq order equals append
// order across concurrent runs. Readers never take that mutex: they load the
// published view, a slice of the backing array that appends never write into.
type Journal struct {
	retention int
	logger    *slog.Logger
	sinks     []ports.LogSink
	now       func() time.Time

	view atomic.Pointer[[]domain.LogEntry]

	mu          sync.Mutex
	seq         uint64
	backing     []domain.LogEntry
	subscribers map[int]chan domain.LogEntry
	nextSubID   int
}

func NewJournal(opts Options) *Journal {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	j := &Journal{
		retention:   opts.Retention,
		logger:      opts.Logger,
		sinks:       opts.Sinks,
		now:         opts.Now,
		subscribers: make(map[int]chan domain.LogEntry),
	}
	j.resetLocked()
	return j
}

// Append stamps the entry with the next seq and the current time.
func (j *Journal) Append(entry domain.LogEntry) domain.LogEntry {
	j.mu.Lock()
	j.seq++
	entry.Seq = j.seq
	entry.Timestamp = j.now()
	j.appendLocked(entry)
	for _, ch := range j.subscribers {
		select {
		case ch <- entry:
		default:
		}
	}
	j.mu.Unlock()

	j.mirror(entry)
	j.persist(entry)
	return entry
}

// appendLocked writes past the end of every published view, so readers of
// older views never observe the write. The backing array holds twice the
// retention; when full, the kept tail moves to a fresh array, which keeps
// trimming amortized O(1) per append.
func (j *Journal) appendLocked(entry domain.LogEntry) {
	if len(j.backing) == cap(j.backing) {
		kept := j.backing[max(len(j.backing)-j.retention+1, 0):]
		fresh := make([]domain.LogEntry, len(kept), 2*j.retention)
		copy(fresh, kept)
		j.backing = fresh
	}
	j.backing = append(j.backing, entry)
	lo := max(len(j.backing)-j.retention, 0)
	view := j.backing[lo:len(j.backing):len(j.backing)]
	j.view.Store(&view)
}

func (j *Journal) resetLocked() {
	j.backing = make([]domain.LogEntry, 0, 2*j.retention)
	empty := []domain.LogEntry{}
	j.view.Store(&empty)
}

func (j *Journal) entries() []domain.LogEntry {
	return *j.view.Load()
}

// Snapshot copies the kept entries without blocking appends.
func (j *Journal) Snapshot() []domain.LogEntry {
	return append([]domain.LogEntry{}, j.entries()...)
}

// Clear drops kept entries. Seq keeps increasing so subscribers and
// AfterSeq cursors stay valid.
func (j *Journal) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.resetLocked()
}

// ListLogs returns matching entries in seq order. With AfterSeq set the
// first Limit entries after the cursor are returned; otherwise the most
// recent Limit.
func (j *Journal) ListLogs(filter domain.LogFilter) []domain.LogEntry {
	entries := j.entries()
	if filter.AfterSeq > 0 {
		start := sort.Search(len(entries), func(i int) bool { return entries[i].Seq > filter.AfterSeq })
		entries = entries[start:]
	}
	out := make([]domain.LogEntry, 0)
	for _, entry := range entries {
		if filter.Matches(entry) {
			out = append(out, entry)
		}
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		if filter.AfterSeq > 0 {
			out = out[:filter.Limit]
		} else {
			out = out[len(out)-filter.Limit:]
		}
	}
	return out
}

// Subscribe returns a channel receiving entries appended from now on. Slow
// subscribers miss entries instead of blocking appends.
func (j *Journal) Subscribe(buffer int) (<-chan domain.LogEntry, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan domain.LogEntry, buffer)
	j.mu.Lock()
	id := j.nextSubID
	j.nextSubID++
	j.subscribers[id] = ch
	j.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			j.mu.Lock()
			delete(j.subscribers, id)
			j.mu.Unlock()
			close(ch)
		})
	}
}

func (j *Journal) mirror(entry domain.LogEntry) {
	if j.logger == nil {
		return
	}
	level := slog.LevelInfo
	switch entry.Level {
	case domain.LevelWarn:
		level = slog.LevelWarn
	case domain.LevelError:
		level = slog.LevelError
	}
	j.logger.Log(context.Background(), level, "pipeline_log",
		"seq", entry.Seq,
		"document_id", entry.DocumentID,
		"stage", entry.Stage,
		"level", string(entry.Level),
		"message", entry.Message,
	)
}

func (j *Journal) persist(entry domain.LogEntry) {
	for _, sink := range j.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		err := sink.WriteLog(ctx, entry)
		cancel()
		if err != nil && j.logger != nil {
			j.logger.Warn("pipeline_log_sink_failed", "seq", entry.Seq, "error", err)
		}
	}
}
