package ports

import (
	"context"

	"github.com/kirillkom/docqa/internal/core/domain"
)

// QueryService is the inbound contract for grounded question answering.
type QueryService interface {
	Answer(ctx context.Context, req domain.QueryRequest) (*domain.QueryResponse, error)
}
