package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/opalhq/opal/internal/domain"
)

// AuditRepository stores tool side-effects: action calls and reported data
// gaps.
type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

func (r *AuditRepository) CreateActionCall(ctx context.Context, call *domain.ActionCall) error {
	input, err := json.Marshal(call.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal action input: %w", err)
	}
	createdAt := call.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO action_calls (id, action_id, session_id, input, response, status_code, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		call.ID, call.ActionID, call.SessionID, input, call.Response, call.StatusCode, createdAt,
	)
	return err
}

func (r *AuditRepository) CreateDataGap(ctx context.Context, gap *domain.DataGap) error {
	createdAt := gap.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO data_gaps (id, session_id, title, description, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		gap.ID, gap.SessionID, gap.Title, gap.Description, createdAt,
	)
	return err
}

// ListDataGaps returns reported gaps newest first for operator review.
func (r *AuditRepository) ListDataGaps(ctx context.Context, limit int) ([]*domain.DataGap, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, title, description, created_at
		 FROM data_gaps ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var gaps []*domain.DataGap
	for rows.Next() {
		var g domain.DataGap
		if err := rows.Scan(&g.ID, &g.SessionID, &g.Title, &g.Description, &g.CreatedAt); err != nil {
			return nil, err
		}
		gaps = append(gaps, &g)
	}
	return gaps, rows.Err()
}
