package service

import (
	"context"
	"strings"

	"github.com/opalhq/opal/internal/domain"
	"github.com/opalhq/opal/internal/index"
	"github.com/opalhq/opal/internal/telemetry"
)

// RetrieverInterface is the raw vector search boundary
type RetrieverInterface interface {
	Search(ctx context.Context, scrapeID, query string, topK int) ([]domain.RawHit, error)
}

const searchTopK = 20

// SearchService serves direct retrieval queries outside the agent loop.
type SearchService struct {
	retriever RetrieverInterface
	minScore  float32
}

func NewSearchService(retriever RetrieverInterface, minScore float32) *SearchService {
	return &SearchService{retriever: retriever, minScore: minScore}
}

// Search runs one tenant-scoped query through retrieval and reranking.
func (s *SearchService) Search(ctx context.Context, scrapeID, query string) ([]domain.SearchResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "SearchService.Search", telemetry.SpanAttributes{
		ScrapeID: scrapeID,
	})
	defer span.End()

	if strings.TrimSpace(scrapeID) == "" {
		return nil, domain.ErrMissingScrapeID
	}
	if strings.TrimSpace(query) == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "query cannot be empty")
	}

	hits, err := s.retriever.Search(ctx, scrapeID, query, searchTopK)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	return index.Process(query, hits, s.minScore), nil
}
