package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/opalhq/opal/internal/domain"
)

// DocumentRepository is the persistence collaborator that keeps durable
// rows for ingested content items.
type DocumentRepository struct {
	pool *pgxpool.Pool
}

func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{pool: pool}
}

// Upsert stores one content item, replacing any prior version of the same
// locator within the tenant.
func (r *DocumentRepository) Upsert(ctx context.Context, scrapeID string, item domain.ContentItem) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO documents (scrape_id, locator, title, content, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (scrape_id, locator)
		 DO UPDATE SET title = EXCLUDED.title, content = EXCLUDED.content, updated_at = NOW()`,
		scrapeID, item.Locator, item.Title, item.Text,
	)
	return err
}

// CountByScrape returns how many documents one tenant holds.
func (r *DocumentRepository) CountByScrape(ctx context.Context, scrapeID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM documents WHERE scrape_id = $1`,
		scrapeID,
	).Scan(&count)
	return count, err
}
