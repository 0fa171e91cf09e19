package index

import (
	"context"
	"errors"
	"testing"

	"github.com/opalhq/opal/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockEmbeddingClient is a mock implementation of EmbeddingClient
type MockEmbeddingClient struct {
	mock.Mock
}

func (m *MockEmbeddingClient) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

// MockChunkStore is a mock implementation of ChunkStore
type MockChunkStore struct {
	mock.Mock
}

func (m *MockChunkStore) ReplaceForLocator(ctx context.Context, scrapeID, locator string, chunks []domain.IndexedChunk) error {
	args := m.Called(ctx, scrapeID, locator, chunks)
	return args.Error(0)
}

func (m *MockChunkStore) Search(ctx context.Context, scrapeID string, embedding []float32, topK int) ([]domain.RawHit, error) {
	args := m.Called(ctx, scrapeID, embedding, topK)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RawHit), args.Error(1)
}

func TestEngine_Index(t *testing.T) {
	client := new(MockEmbeddingClient)
	store := new(MockChunkStore)
	engine := NewEngine(client, store)

	ctx := context.Background()
	embedding := make([]float32, 4)
	client.On("GenerateEmbedding", ctx, mock.AnythingOfType("string")).Return(embedding, nil)
	store.On("ReplaceForLocator", ctx, "tenant-1", "https://example.com/a", mock.MatchedBy(func(chunks []domain.IndexedChunk) bool {
		if len(chunks) != 1 {
			return false
		}
		c := chunks[0]
		return c.ScrapeID == "tenant-1" &&
			c.Locator == "https://example.com/a" &&
			c.ChunkIndex == 0 &&
			c.ID != ""
	})).Return(nil)

	item := domain.ContentItem{
		Locator: "https://example.com/a",
		Title:   "A",
		Text:    "short page body",
	}
	err := engine.Index(ctx, "tenant-1", item)

	require.NoError(t, err)
	client.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestEngine_Index_EmptyText(t *testing.T) {
	client := new(MockEmbeddingClient)
	store := new(MockChunkStore)
	engine := NewEngine(client, store)

	err := engine.Index(context.Background(), "tenant-1", domain.ContentItem{Locator: "x", Text: "   "})

	require.NoError(t, err)
	client.AssertNotCalled(t, "GenerateEmbedding")
	store.AssertNotCalled(t, "ReplaceForLocator")
}

func TestEngine_Index_EmbeddingFailure(t *testing.T) {
	client := new(MockEmbeddingClient)
	store := new(MockChunkStore)
	engine := NewEngine(client, store)

	ctx := context.Background()
	client.On("GenerateEmbedding", ctx, mock.AnythingOfType("string")).Return(nil, errors.New("rate limited"))

	err := engine.Index(ctx, "tenant-1", domain.ContentItem{Locator: "x", Text: "body"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to embed chunk")
	store.AssertNotCalled(t, "ReplaceForLocator")
}

func TestEngine_Search(t *testing.T) {
	client := new(MockEmbeddingClient)
	store := new(MockChunkStore)
	engine := NewEngine(client, store)

	ctx := context.Background()
	embedding := []float32{0.1, 0.2}
	hits := []domain.RawHit{{ChunkID: "c1", Locator: "l1", Content: "text", Score: 0.9}}

	client.On("GenerateEmbedding", ctx, "how do deploys work").Return(embedding, nil)
	store.On("Search", ctx, "tenant-1", embedding, 20).Return(hits, nil)

	got, err := engine.Search(ctx, "tenant-1", "how do deploys work", 20)

	require.NoError(t, err)
	assert.Equal(t, hits, got)
}

func TestChunkText_LongInput(t *testing.T) {
	cfg := ChunkConfig{MaxChars: 100, MinChars: 30, Overlap: 20, MaxChunks: 10}

	var b []byte
	for i := 0; i < 60; i++ {
		b = append(b, []byte("lorem ipsum ")...)
	}
	chunks := chunkText(string(b), cfg)

	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), cfg.MaxChars)
		assert.NotEmpty(t, c)
	}
}
