// Package index turns content items into searchable vectors and raw vector
// hits into ranked, deduplicated results.
package index

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/opalhq/opal/internal/domain"
)

// EmbeddingClient defines the interface for generating embeddings
type EmbeddingClient interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// ChunkStore is the vector-store boundary. Implementations scope every
// operation to the given scrape id.
type ChunkStore interface {
	ReplaceForLocator(ctx context.Context, scrapeID, locator string, chunks []domain.IndexedChunk) error
	Search(ctx context.Context, scrapeID string, embedding []float32, topK int) ([]domain.RawHit, error)
}

// Engine embeds text, upserts chunks, and searches one tenant's collection.
type Engine struct {
	client   EmbeddingClient
	store    ChunkStore
	chunkCfg ChunkConfig
}

func NewEngine(client EmbeddingClient, store ChunkStore) *Engine {
	return &Engine{
		client:   client,
		store:    store,
		chunkCfg: DefaultChunkConfig(),
	}
}

// Index chunks and embeds one content item, replacing the locator's prior
// chunks. An embedding failure is terminal for this item only; the caller
// keeps the run going.
func (e *Engine) Index(ctx context.Context, scrapeID string, item domain.ContentItem) error {
	pieces := chunkText(item.Text, e.chunkCfg)
	if len(pieces) == 0 {
		return nil
	}

	chunks := make([]domain.IndexedChunk, 0, len(pieces))
	for i, piece := range pieces {
		embedding, err := e.client.GenerateEmbedding(ctx, piece)
		if err != nil {
			return fmt.Errorf("failed to embed chunk %d of %s: %w", i, item.Locator, err)
		}
		chunks = append(chunks, domain.IndexedChunk{
			ID:         uuid.NewString(),
			ScrapeID:   scrapeID,
			Locator:    item.Locator,
			Title:      item.Title,
			ChunkIndex: i,
			Content:    piece,
			Embedding:  embedding,
		})
	}

	if err := e.store.ReplaceForLocator(ctx, scrapeID, item.Locator, chunks); err != nil {
		return fmt.Errorf("failed to store chunks for %s: %w", item.Locator, err)
	}
	return nil
}

// Search embeds the query and returns the raw tenant-scoped candidates.
// Callers rerank via Process.
func (e *Engine) Search(ctx context.Context, scrapeID, query string, topK int) ([]domain.RawHit, error) {
	embedding, err := e.client.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return e.store.Search(ctx, scrapeID, embedding, topK)
}
