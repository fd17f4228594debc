package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

// LogSink keeps a durable copy of the pipeline log.
type LogSink struct {
	db *sql.DB
}

func NewLogSink(db *sql.DB) *LogSink {
	return &LogSink{db: db}
}

func (s *LogSink) WriteLog(ctx context.Context, entry domain.LogEntry) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO pipeline_logs (seq, logged_at, document_id, stage, level, message)
VALUES ($1,$2,$3,$4,$5,$6)
`, int64(entry.Seq), entry.Timestamp, entry.DocumentID, entry.Stage, string(entry.Level), entry.Message)
	if err != nil {
		return fmt.Errorf("insert pipeline log: %w", err)
	}
	return nil
}
