// Package service holds the business logic between the HTTP/worker layers
// and the repositories.
package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/opalhq/opal/internal/domain"
	"github.com/opalhq/opal/internal/pagination"
	"github.com/opalhq/opal/internal/telemetry"
)

// GroupRepositoryInterface defines the repository interface for knowledge group persistence
type GroupRepositoryInterface interface {
	Create(ctx context.Context, g *domain.KnowledgeGroup) error
	GetByID(ctx context.Context, id string) (*domain.KnowledgeGroup, error)
	ListWithCursor(ctx context.Context, cursor *pagination.Cursor, limit int) (*pagination.PageResult[*domain.KnowledgeGroup], error)
	UpdateStatus(ctx context.Context, id string, status domain.GroupStatus, errMsg string) error
	UpdateProgress(ctx context.Context, id string, ev domain.ProgressEvent) error
}

// GroupService handles knowledge group lifecycle
type GroupService struct {
	repo GroupRepositoryInterface
}

func NewGroupService(repo GroupRepositoryInterface) *GroupService {
	return &GroupService{repo: repo}
}

// CreateGroupInput represents the input for creating a knowledge group
type CreateGroupInput struct {
	ScrapeID string
	Source   domain.SourceType
	Config   domain.SourceConfig
}

// Create validates and stores a new group in the idle state; the ingest
// worker picks it up from there.
func (s *GroupService) Create(ctx context.Context, input CreateGroupInput) (*domain.KnowledgeGroup, error) {
	ctx, span := telemetry.StartSpan(ctx, "GroupService.Create", telemetry.SpanAttributes{
		ScrapeID: input.ScrapeID,
	})
	defer span.End()

	group := &domain.KnowledgeGroup{
		ID:       uuid.NewString(),
		ScrapeID: input.ScrapeID,
		Source:   input.Source,
		Config:   input.Config,
		Status:   domain.GroupStatusIdle,
	}
	if err := group.Validate(); err != nil {
		span.SetError(err)
		return nil, err
	}
	if err := s.repo.Create(ctx, group); err != nil {
		span.SetError(err)
		return nil, err
	}
	return group, nil
}

// Get returns one group by id.
func (s *GroupService) Get(ctx context.Context, id string) (*domain.KnowledgeGroup, error) {
	ctx, span := telemetry.StartSpan(ctx, "GroupService.Get", telemetry.SpanAttributes{
		GroupID: id,
	})
	defer span.End()
	return s.repo.GetByID(ctx, id)
}

// ListGroupsInput controls cursor pagination for List.
type ListGroupsInput struct {
	Cursor string
	Limit  int
}

// ListGroupsOutput is one page of groups.
type ListGroupsOutput struct {
	Items   []*domain.KnowledgeGroup
	Cursor  string
	HasMore bool
}

const defaultListLimit = 50

// List returns groups newest-first with cursor pagination.
func (s *GroupService) List(ctx context.Context, input ListGroupsInput) (*ListGroupsOutput, error) {
	ctx, span := telemetry.StartSpan(ctx, "GroupService.List", telemetry.SpanAttributes{})
	defer span.End()

	limit := input.Limit
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}

	var cursor *pagination.Cursor
	if input.Cursor != "" {
		c, err := pagination.DecodeCursor(input.Cursor)
		if err != nil {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid cursor", err)
		}
		cursor = c
	}

	page, err := s.repo.ListWithCursor(ctx, cursor, limit)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	return &ListGroupsOutput{
		Items:   page.Items,
		Cursor:  page.Cursor,
		HasMore: page.HasMore,
	}, nil
}
