package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/opalhq/opal/internal/api"
	"github.com/opalhq/opal/internal/domain"
)

type SearchService interface {
	Search(ctx context.Context, scrapeID, query string) ([]domain.SearchResult, error)
}

// SearchHandler serves direct retrieval queries without the agent loop.
type SearchHandler struct {
	svc SearchService
}

func NewSearchHandler(svc SearchService) *SearchHandler {
	return &SearchHandler{svc: svc}
}

type SearchRequest struct {
	ScrapeID string `json:"scrape_id"`
	Query    string `json:"query"`
}

type SearchResponse struct {
	Results []domain.SearchResult `json:"results"`
}

func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	results, err := h.svc.Search(r.Context(), req.ScrapeID, req.Query)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, SearchResponse{Results: results})
}
