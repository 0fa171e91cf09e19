package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opalhq/opal/internal/api"
	"github.com/opalhq/opal/internal/domain"
	"github.com/opalhq/opal/internal/service"
)

type GroupService interface {
	Create(ctx context.Context, input service.CreateGroupInput) (*domain.KnowledgeGroup, error)
	Get(ctx context.Context, id string) (*domain.KnowledgeGroup, error)
	List(ctx context.Context, input service.ListGroupsInput) (*service.ListGroupsOutput, error)
}

type GroupHandler struct {
	svc GroupService
}

func NewGroupHandler(svc GroupService) *GroupHandler {
	return &GroupHandler{svc: svc}
}

type CreateGroupRequest struct {
	ScrapeID string              `json:"scrape_id"`
	Source   string              `json:"source"`
	Config   domain.SourceConfig `json:"config"`
}

type GroupResponse struct {
	ID        string              `json:"id"`
	ScrapeID  string              `json:"scrape_id"`
	Source    string              `json:"source"`
	Config    domain.SourceConfig `json:"config"`
	Status    string              `json:"status"`
	Error     string              `json:"error,omitempty"`
	Completed int                 `json:"completed"`
	Remaining int                 `json:"remaining"`
	CreatedAt string              `json:"created_at"`
	UpdatedAt string              `json:"updated_at"`
}

type ListGroupsResponse struct {
	Items   []*GroupResponse `json:"items"`
	Cursor  string           `json:"cursor,omitempty"`
	HasMore bool             `json:"has_more"`
}

func groupToResponse(g *domain.KnowledgeGroup) *GroupResponse {
	return &GroupResponse{
		ID:        g.ID,
		ScrapeID:  g.ScrapeID,
		Source:    string(g.Source),
		Config:    g.Config,
		Status:    string(g.Status),
		Error:     g.Error,
		Completed: g.Completed,
		Remaining: g.Remaining,
		CreatedAt: g.CreatedAt.Format("2006-01-02T15:04:05Z"),
		UpdatedAt: g.UpdatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

func (h *GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	group, err := h.svc.Create(r.Context(), service.CreateGroupInput{
		ScrapeID: req.ScrapeID,
		Source:   domain.SourceType(req.Source),
		Config:   req.Config,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, groupToResponse(group))
}

func (h *GroupHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	group, err := h.svc.Get(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, groupToResponse(group))
}

func (h *GroupHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			api.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	out, err := h.svc.List(r.Context(), service.ListGroupsInput{
		Cursor: r.URL.Query().Get("cursor"),
		Limit:  limit,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := &ListGroupsResponse{
		Items:   make([]*GroupResponse, 0, len(out.Items)),
		Cursor:  out.Cursor,
		HasMore: out.HasMore,
	}
	for _, g := range out.Items {
		resp.Items = append(resp.Items, groupToResponse(g))
	}

	api.Success(w, http.StatusOK, resp)
}
