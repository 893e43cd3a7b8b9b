package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/ports"
)

const documentColumns = `id, org_id, COALESCE(folder_id, ''), title, COALESCE(content, ''), COALESCE(doc_type, ''),
	COALESCE(sender, ''), COALESCE(receiver, ''), COALESCE(category, ''), doc_date, tags, created_at`

// Undated documents are filtered and ordered by their creation day.
const effectiveDate = "COALESCE(doc_date, created_at::date)"

// DocumentRepository reads the documents table:
// id, org_id, folder_id, title, content, doc_type, sender, receiver,
// category, doc_date (DATE), tags (JSONB), created_at, version_of (the id
// of the document a version supersedes, or NULL).
type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Search applies filter as hard constraints. Text fields match as
// case-insensitive substrings; the date range is inclusive by day.
func (r *DocumentRepository) Search(ctx context.Context, orgID string, filter ports.MetadataFilter, limit int) ([]domain.Document, error) {
	query, args := buildSearchQuery(orgID, filter, limit)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

func buildSearchQuery(orgID string, filter ports.MetadataFilter, limit int) (string, []any) {
	var b strings.Builder
	args := []any{orgID}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	b.WriteString("SELECT " + documentColumns + "\nFROM documents\nWHERE org_id = $1")
	if v := strings.TrimSpace(filter.FolderID); v != "" {
		b.WriteString("\n  AND folder_id = " + arg(v))
	}
	if v := strings.TrimSpace(filter.Sender); v != "" {
		b.WriteString("\n  AND sender ILIKE " + arg(containsPattern(v)))
	}
	if v := strings.TrimSpace(filter.Receiver); v != "" {
		b.WriteString("\n  AND receiver ILIKE " + arg(containsPattern(v)))
	}
	if v := strings.TrimSpace(filter.Category); v != "" {
		b.WriteString("\n  AND category ILIKE " + arg(containsPattern(v)))
	}
	if v := strings.TrimSpace(filter.Type); v != "" {
		b.WriteString("\n  AND doc_type ILIKE " + arg(containsPattern(v)))
	}
	if filter.DateStart != nil {
		b.WriteString("\n  AND " + effectiveDate + " >= " + arg(dayOf(*filter.DateStart)))
	}
	if filter.DateEnd != nil {
		b.WriteString("\n  AND " + effectiveDate + " < " + arg(dayOf(*filter.DateEnd).AddDate(0, 0, 1)))
	}
	if len(filter.AllowedIDs) > 0 {
		ids := arg(filter.AllowedIDs)
		if filter.IncludeVersions {
			b.WriteString("\n  AND (id = ANY(" + ids + ") OR version_of = ANY(" + ids + ")")
			b.WriteString(" OR id IN (SELECT version_of FROM documents WHERE org_id = $1 AND id = ANY(" + ids + ")))")
		} else {
			b.WriteString("\n  AND id = ANY(" + ids + ")")
		}
	}
	b.WriteString("\nORDER BY " + effectiveDate + " DESC, id ASC")
	if limit > 0 {
		b.WriteString("\nLIMIT " + arg(limit))
	}
	return b.String(), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (domain.Document, error) {
	var (
		doc     domain.Document
		docDate sql.NullTime
		tagsRaw []byte
	)
	err := row.Scan(
		&doc.ID, &doc.OrgID, &doc.FolderID, &doc.Title, &doc.Content, &doc.Type,
		&doc.Metadata.Sender, &doc.Metadata.Receiver, &doc.Metadata.Category,
		&docDate, &tagsRaw, &doc.CreatedAt,
	)
	if err != nil {
		return domain.Document{}, fmt.Errorf("scan document: %w", err)
	}
	if docDate.Valid {
		d := docDate.Time
		doc.Metadata.Date = &d
	}
	if len(tagsRaw) > 0 {
		if err := json.Unmarshal(tagsRaw, &doc.Metadata.Tags); err != nil {
			return domain.Document{}, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	return doc, nil
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
