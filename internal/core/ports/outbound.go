package ports

import (
	"context"
	"time"

	"github.com/kirillkom/docqa/internal/core/domain"
)

// MetadataFilter holds hard constraints for the metadata query.
type MetadataFilter struct {
	Sender     string
	Receiver   string
	Category   string
	Type       string
	FolderID   string
	DateStart  *time.Time
	DateEnd    *time.Time
	AllowedIDs []string
	// IncludeVersions widens AllowedIDs to the other versions of those documents.
	IncludeVersions bool
}

// MetadataQuery filters documents by metadata.
type MetadataQuery interface {
	Search(ctx context.Context, orgID string, filter MetadataFilter, limit int) ([]domain.Document, error)
}

// VectorSearch returns nearest-neighbor chunks for a query embedding.
type VectorSearch interface {
	MatchChunks(ctx context.Context, orgID string, embedding []float32, matchCount int, threshold float64) ([]domain.Chunk, error)
}

// ChunkKeywordSearch is a loose OR keyword sweep over chunks of the given documents.
type ChunkKeywordSearch interface {
	SearchChunks(ctx context.Context, orgID string, docIDs []string, keywords []string, limit int) ([]domain.Chunk, error)
}

// Embedder builds query vectors. An error or empty vector means lexical fallback.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// LinkStore reads explicit links between documents.
type LinkStore interface {
	LinksInvolving(ctx context.Context, orgID string, docIDs []string) ([]domain.DocumentLink, error)
}

// FocusStore remembers which documents a conversation listed or discussed last.
type FocusStore interface {
	Focus(ctx context.Context, conversationID string) (domain.FocusState, error)
	SaveFocus(ctx context.Context, conversationID string, state domain.FocusState) error
}

// QueryObserver receives per-request telemetry.
type QueryObserver interface {
	ObserveRoute(decision domain.RoutingDecision)
	ObserveQuery(intent domain.Intent, outcome domain.Outcome, documents int, duration time.Duration)
}
