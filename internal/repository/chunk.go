package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/opalhq/opal/internal/domain"
	"github.com/pgvector/pgvector-go"
)

// ChunkRepository handles persistence of embedded chunks. Every read and
// write is scoped to one scrape id; tenant isolation is enforced in the SQL
// filter, never post-hoc.
type ChunkRepository struct {
	pool *pgxpool.Pool
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{pool: pool}
}

// ReplaceForLocator deletes a locator's chunks and inserts the new set in
// one transaction, so a re-ingested page never serves stale chunks.
func (r *ChunkRepository) ReplaceForLocator(ctx context.Context, scrapeID, locator string, chunks []domain.IndexedChunk) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`DELETE FROM chunks WHERE scrape_id = $1 AND locator = $2`,
		scrapeID, locator,
	)
	if err != nil {
		return err
	}

	for _, c := range chunks {
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO chunks (id, scrape_id, locator, title, chunk_index, content, embedding, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			c.ID, scrapeID, c.Locator, c.Title, c.ChunkIndex, c.Content,
			pgvector.NewVector(c.Embedding), createdAt,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// Search returns the topK nearest chunks for one tenant, scored by cosine
// distance mapped into (0, 1].
func (r *ChunkRepository) Search(ctx context.Context, scrapeID string, embedding []float32, topK int) ([]domain.RawHit, error) {
	if topK <= 0 {
		topK = 20
	}

	vec := pgvector.NewVector(embedding)

	rows, err := r.pool.Query(ctx,
		`SELECT id, locator, title, content,
		        1.0 / (1.0 + (embedding <=> $1)) AS score
		 FROM chunks
		 WHERE scrape_id = $2
		 ORDER BY embedding <=> $1
		 LIMIT $3`,
		vec, scrapeID, topK,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []domain.RawHit
	for rows.Next() {
		var h domain.RawHit
		if err := rows.Scan(&h.ChunkID, &h.Locator, &h.Title, &h.Content, &h.Score); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// DeleteByScrape removes every chunk of one tenant.
func (r *ChunkRepository) DeleteByScrape(ctx context.Context, scrapeID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM chunks WHERE scrape_id = $1`, scrapeID)
	return err
}
