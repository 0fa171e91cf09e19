package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/opalhq/opal/internal/domain"
	"github.com/opalhq/opal/internal/pagination"
)

// GroupRepository handles persistence of knowledge groups and their run
// lifecycle.
type GroupRepository struct {
	db dbtx
}

func NewGroupRepository(pool *pgxpool.Pool) *GroupRepository {
	return &GroupRepository{db: pool}
}

func NewGroupRepositoryWithTx(tx pgx.Tx) *GroupRepository {
	return &GroupRepository{db: tx}
}

func (r *GroupRepository) Create(ctx context.Context, g *domain.KnowledgeGroup) error {
	cfg, err := json.Marshal(g.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal source config: %w", err)
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO knowledge_groups (id, scrape_id, source, config, status, error, completed, remaining, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		g.ID, g.ScrapeID, g.Source, cfg, g.Status, nullableString(g.Error), g.Completed, g.Remaining, g.CreatedAt, g.UpdatedAt,
	)
	return err
}

func (r *GroupRepository) GetByID(ctx context.Context, id string) (*domain.KnowledgeGroup, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, scrape_id, source, config, status, error, completed, remaining, created_at, updated_at
		 FROM knowledge_groups WHERE id = $1`,
		id,
	)
	g, err := scanGroup(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrGroupNotFound
		}
		return nil, err
	}
	return g, nil
}

// ListWithCursor returns groups ordered newest first, paginated by an opaque
// cursor.
func (r *GroupRepository) ListWithCursor(ctx context.Context, cursor *pagination.Cursor, limit int) (*pagination.PageResult[*domain.KnowledgeGroup], error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var rows pgx.Rows
	var err error
	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT id, scrape_id, source, config, status, error, completed, remaining, created_at, updated_at
			 FROM knowledge_groups
			 WHERE (created_at, id) < ($1, $2)
			 ORDER BY created_at DESC, id DESC
			 LIMIT $3`,
			cursor.Timestamp, cursor.LastID, limit,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT id, scrape_id, source, config, status, error, completed, remaining, created_at, updated_at
			 FROM knowledge_groups
			 ORDER BY created_at DESC, id DESC
			 LIMIT $1`,
			limit,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []*domain.KnowledgeGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	next := pagination.CreateNextCursor(groups, limit,
		func(g *domain.KnowledgeGroup) string { return g.ID },
		func(g *domain.KnowledgeGroup) time.Time { return g.CreatedAt },
	)

	return &pagination.PageResult[*domain.KnowledgeGroup]{
		Items:   groups,
		Cursor:  next,
		HasMore: next != "",
	}, nil
}

// ClaimIdle atomically claims up to limit idle groups for processing.
// Concurrent workers never claim the same group.
func (r *GroupRepository) ClaimIdle(ctx context.Context, limit int) ([]*domain.KnowledgeGroup, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := r.db.Query(ctx,
		`WITH cte AS (
			 SELECT id
			 FROM knowledge_groups
			 WHERE status = $1
			 ORDER BY created_at ASC
			 FOR UPDATE SKIP LOCKED
			 LIMIT $2
		 )
		 UPDATE knowledge_groups
		 SET status = $3, updated_at = NOW()
		 WHERE id IN (SELECT id FROM cte)
		 RETURNING id, scrape_id, source, config, status, error, completed, remaining, created_at, updated_at`,
		domain.GroupStatusIdle, limit, domain.GroupStatusProcessing,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []*domain.KnowledgeGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (r *GroupRepository) UpdateStatus(ctx context.Context, id string, status domain.GroupStatus, errMsg string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE knowledge_groups SET status = $1, error = $2, updated_at = NOW() WHERE id = $3`,
		status, nullableString(errMsg), id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrGroupNotFound
	}
	return nil
}

func (r *GroupRepository) UpdateProgress(ctx context.Context, id string, ev domain.ProgressEvent) error {
	_, err := r.db.Exec(ctx,
		`UPDATE knowledge_groups SET completed = $1, remaining = $2, updated_at = NOW() WHERE id = $3`,
		ev.Completed, ev.Remaining, id,
	)
	return err
}

func scanGroup(row pgx.Row) (*domain.KnowledgeGroup, error) {
	var g domain.KnowledgeGroup
	var cfg []byte
	var errMsg pgtype.Text
	if err := row.Scan(&g.ID, &g.ScrapeID, &g.Source, &cfg, &g.Status, &errMsg, &g.Completed, &g.Remaining, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &g.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal source config: %w", err)
		}
	}
	if errMsg.Valid {
		g.Error = errMsg.String
	}
	return &g, nil
}
