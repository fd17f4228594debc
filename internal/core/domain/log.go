package domain

import (
	"strings"
	"time"
)

type LogLevel string

const (
	LevelInfo    LogLevel = "info"
	LevelWarn    LogLevel = "warn"
	LevelError   LogLevel = "error"
	LevelSuccess LogLevel = "success"
)

func ParseLogLevel(raw string) (LogLevel, bool) {
	switch level := LogLevel(strings.ToLower(strings.TrimSpace(raw))); level {
	case LevelInfo, LevelWarn, LevelError, LevelSuccess:
		return level, true
	default:
		return "", false
	}
}

// LogEntry is one immutable line of the pipeline narrative. Stage holds a
// stage name or one of the PIPELINE/COMPLETE pseudo-stages.
type LogEntry struct {
	Seq        uint64    `json:"seq"`
	Timestamp  time.Time `json:"timestamp"`
	DocumentID string    `json:"documentId"`
	Stage      string    `json:"stage"`
	Level      LogLevel  `json:"level"`
	Message    string    `json:"message"`
}

// LogFilter narrows a log listing. Zero values match everything.
type LogFilter struct {
	DocumentID string
	Stage      string
	Level      LogLevel
	AfterSeq   uint64
	Limit      int
}

func (f LogFilter) Matches(entry LogEntry) bool {
	if f.DocumentID != "" && entry.DocumentID != f.DocumentID {
		return false
	}
	if f.Stage != "" && !strings.EqualFold(entry.Stage, f.Stage) {
		return false
	}
	if f.Level != "" && entry.Level != f.Level {
		return false
	}
	return entry.Seq > f.AfterSeq
}
