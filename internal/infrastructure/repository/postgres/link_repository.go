package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kirillkom/docqa/internal/core/domain"
)

type LinkRepository struct {
	db *sql.DB
}

func NewLinkRepository(db *sql.DB) *LinkRepository {
	return &LinkRepository{db: db}
}

func (r *LinkRepository) LinksInvolving(ctx context.Context, orgID string, docIDs []string) ([]domain.DocumentLink, error) {
	if len(docIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT doc_id, linked_doc_id
FROM document_links
WHERE org_id = $1 AND (doc_id = ANY($2) OR linked_doc_id = ANY($2))
ORDER BY created_at ASC, doc_id ASC, linked_doc_id ASC
`, orgID, docIDs)
	if err != nil {
		return nil, fmt.Errorf("query document links: %w", err)
	}
	defer rows.Close()

	var out []domain.DocumentLink
	for rows.Next() {
		var link domain.DocumentLink
		if err := rows.Scan(&link.DocID, &link.LinkedDocID); err != nil {
			return nil, fmt.Errorf("scan document link: %w", err)
		}
		out = append(out, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document links: %w", err)
	}
	return out, nil
}
