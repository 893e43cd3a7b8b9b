package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/kirillkom/docqa/internal/core/domain"
)

// ChunkRepository reads document_chunks:
// org_id, doc_id, chunk_index, content, page, embedding (vector).
type ChunkRepository struct {
	db *sql.DB
}

func NewChunkRepository(db *sql.DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// MatchChunks returns chunks by cosine similarity, most similar first.
func (r *ChunkRepository) MatchChunks(ctx context.Context, orgID string, embedding []float32, matchCount int, threshold float64) ([]domain.Chunk, error) {
	if len(embedding) == 0 || matchCount <= 0 {
		return nil, nil
	}
	query := pgvector.NewVector(embedding)
	rows, err := r.db.QueryContext(ctx, `
SELECT doc_id, chunk_index, content, page, 1 - (embedding <=> $2) AS similarity
FROM document_chunks
WHERE org_id = $1 AND 1 - (embedding <=> $2) >= $3
ORDER BY similarity DESC, doc_id ASC, chunk_index ASC
LIMIT $4
`, orgID, query, threshold, matchCount)
	if err != nil {
		return nil, fmt.Errorf("match chunks: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows, true)
}

// SearchChunks is a loose OR over keywords within docIDs, chunks matching
// more keywords first.
func (r *ChunkRepository) SearchChunks(ctx context.Context, orgID string, docIDs []string, keywords []string, limit int) ([]domain.Chunk, error) {
	if len(docIDs) == 0 || len(keywords) == 0 {
		return nil, nil
	}
	patterns := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		patterns = append(patterns, containsPattern(kw))
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT doc_id, chunk_index, content, page
FROM document_chunks
WHERE org_id = $1 AND doc_id = ANY($2) AND content ILIKE ANY($3)
ORDER BY (SELECT count(*) FROM unnest($3::text[]) AS p WHERE content ILIKE p) DESC, doc_id ASC, chunk_index ASC
LIMIT $4
`, orgID, docIDs, patterns, limit)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows, false)
}

func scanChunks(rows *sql.Rows, withSimilarity bool) ([]domain.Chunk, error) {
	out := make([]domain.Chunk, 0)
	for rows.Next() {
		var (
			c    domain.Chunk
			page sql.NullInt32
			err  error
		)
		if withSimilarity {
			err = rows.Scan(&c.DocID, &c.Index, &c.Content, &page, &c.Similarity)
		} else {
			err = rows.Scan(&c.DocID, &c.Index, &c.Content, &page)
		}
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if page.Valid {
			p := int(page.Int32)
			c.Page = &p
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return out, nil
}
