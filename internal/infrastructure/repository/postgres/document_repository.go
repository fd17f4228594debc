package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

// DocumentRepository stores each record as a JSONB payload next to the
// columns used for filtering.
type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO documents (
	id, filename, mime_type, fingerprint, status, current_stage, document_type, category, payload, uploaded_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`,
		doc.ID, doc.Filename, doc.MimeType, doc.Fingerprint, string(doc.Status), doc.CurrentStage.String(),
		doc.DocumentType, doc.Category, payload, doc.UploadedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) Save(ctx context.Context, doc *domain.Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, current_stage = $3, document_type = $4, category = $5, payload = $6, updated_at = $7
WHERE id = $1
`, doc.ID, string(doc.Status), doc.CurrentStage.String(), doc.DocumentType, doc.Category, payload, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update document rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, "save document", fmt.Errorf("id %s", doc.ID))
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT payload
FROM documents
WHERE id = $1
`, id)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id %s", id))
		}
		return nil, err
	}
	return doc, nil
}

// List returns matching records newest first.
func (r *DocumentRepository) List(ctx context.Context, filter domain.DocumentFilter) ([]domain.Document, error) {
	query, args := buildListQuery(filter)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

// FindEarlierDuplicate compares against the stored uploaded_at of target so
// both sides share the column's precision.
func (r *DocumentRepository) FindEarlierDuplicate(ctx context.Context, target *domain.Document) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT d.payload
FROM documents d
JOIN documents self ON self.id = $2
WHERE d.fingerprint = $1
  AND d.id <> $2
  AND (d.uploaded_at < self.uploaded_at OR (d.uploaded_at = self.uploaded_at AND d.id < $2))
ORDER BY d.uploaded_at ASC, d.id ASC
LIMIT 1
`, target.Fingerprint, target.ID)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "find earlier duplicate", fmt.Errorf("fingerprint %s", target.Fingerprint))
		}
		return nil, err
	}
	return doc, nil
}

func buildListQuery(filter domain.DocumentFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.Status != "" {
		where = append(where, "status = "+arg(string(filter.Status)))
	}
	if filter.Category != "" {
		where = append(where, "LOWER(category) = LOWER("+arg(filter.Category)+")")
	}
	if filter.DocumentType != "" {
		where = append(where, "LOWER(document_type) = LOWER("+arg(filter.DocumentType)+")")
	}
	if filter.Search != "" {
		p := arg("%" + escapeLike(filter.Search) + "%")
		where = append(where, fmt.Sprintf(
			"(filename ILIKE %[1]s OR payload->>'summary' ILIKE %[1]s OR payload->>'keywords' ILIKE %[1]s)", p))
	}

	var b strings.Builder
	b.WriteString("SELECT payload\nFROM documents\n")
	if len(where) > 0 {
		b.WriteString("WHERE " + strings.Join(where, " AND ") + "\n")
	}
	b.WriteString("ORDER BY uploaded_at DESC, id ASC")
	if filter.Limit > 0 {
		b.WriteString(" LIMIT " + arg(filter.Limit))
	}
	if filter.Offset > 0 {
		b.WriteString(" OFFSET " + arg(filter.Offset))
	}
	return b.String(), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	var doc domain.Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	doc.EnsureCollections()
	return &doc, nil
}
