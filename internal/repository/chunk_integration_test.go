//go:build integration

package repository

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opalhq/opal/internal/domain"
	"github.com/opalhq/opal/internal/testutil"
)

// testEmbedding builds a deterministic 1536-dim unit-ish vector seeded per
// document so nearest-neighbour ordering is stable across runs.
func testEmbedding(seed int64) []float32 {
	rng := rand.New(rand.NewSource(seed))
	vec := make([]float32, 1536)
	for i := range vec {
		vec[i] = rng.Float32()
	}
	return vec
}

func testChunk(scrapeID, locator string, idx int, content string, seed int64) domain.IndexedChunk {
	return domain.IndexedChunk{
		ID:         uuid.NewString(),
		ScrapeID:   scrapeID,
		Locator:    locator,
		Title:      "Doc " + locator,
		ChunkIndex: idx,
		Content:    content,
		Embedding:  testEmbedding(seed),
	}
}

func TestChunkRepository_SearchScopedToScrape(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewChunkRepository(pool)

	// Many tenants sharing one table; a query for any one of them must
	// never surface another tenant's chunks.
	tenants := make([]string, 8)
	for i := range tenants {
		tenants[i] = fmt.Sprintf("tenant-%s", uuid.NewString())
		chunks := []domain.IndexedChunk{
			testChunk(tenants[i], "doc-1", 0, "content for "+tenants[i], int64(i*100+1)),
			testChunk(tenants[i], "doc-2", 0, "more content for "+tenants[i], int64(i*100+2)),
		}
		require.NoError(t, repo.ReplaceForLocator(ctx, tenants[i], "doc-1", chunks[:1]))
		require.NoError(t, repo.ReplaceForLocator(ctx, tenants[i], "doc-2", chunks[1:]))
	}

	query := testEmbedding(999)
	for i, tenant := range tenants {
		hits, err := repo.Search(ctx, tenant, query, 20)
		require.NoError(t, err)
		require.Len(t, hits, 2, "tenant %d", i)
		for _, h := range hits {
			assert.Contains(t, h.Content, tenant)
		}
	}

	hits, err := repo.Search(ctx, "tenant-"+uuid.NewString(), query, 20)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestChunkRepository_SearchScoreRange(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewChunkRepository(pool)

	chunk := testChunk("tenant-a", "doc-1", 0, "alpha", 42)
	require.NoError(t, repo.ReplaceForLocator(ctx, "tenant-a", "doc-1", []domain.IndexedChunk{chunk}))

	// Searching with the exact stored vector: cosine distance 0, score 1.
	hits, err := repo.Search(ctx, "tenant-a", chunk.Embedding, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, hits[0].Score, 0.001)

	// Any other vector scores in (0, 1].
	hits, err = repo.Search(ctx, "tenant-a", testEmbedding(43), 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Greater(t, hits[0].Score, float32(0))
	assert.LessOrEqual(t, hits[0].Score, float32(1))
}

func TestChunkRepository_ReplaceForLocator_DropsStaleChunks(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewChunkRepository(pool)

	old := []domain.IndexedChunk{
		testChunk("tenant-a", "doc-1", 0, "old content part one", 1),
		testChunk("tenant-a", "doc-1", 1, "old content part two", 2),
		testChunk("tenant-a", "doc-1", 2, "old content part three", 3),
	}
	require.NoError(t, repo.ReplaceForLocator(ctx, "tenant-a", "doc-1", old))

	fresh := []domain.IndexedChunk{
		testChunk("tenant-a", "doc-1", 0, "new content", 4),
	}
	require.NoError(t, repo.ReplaceForLocator(ctx, "tenant-a", "doc-1", fresh))

	hits, err := repo.Search(ctx, "tenant-a", testEmbedding(5), 20)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "new content", hits[0].Content)
}

func TestChunkRepository_DeleteByScrape(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewChunkRepository(pool)

	require.NoError(t, repo.ReplaceForLocator(ctx, "tenant-a", "doc-1",
		[]domain.IndexedChunk{testChunk("tenant-a", "doc-1", 0, "a", 1)}))
	require.NoError(t, repo.ReplaceForLocator(ctx, "tenant-b", "doc-1",
		[]domain.IndexedChunk{testChunk("tenant-b", "doc-1", 0, "b", 2)}))

	require.NoError(t, repo.DeleteByScrape(ctx, "tenant-a"))

	hits, err := repo.Search(ctx, "tenant-a", testEmbedding(3), 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = repo.Search(ctx, "tenant-b", testEmbedding(3), 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}
