// Package server wires the HTTP surface: group management, direct search,
// and the websocket chat endpoint.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opalhq/opal/internal/api"
	"github.com/opalhq/opal/internal/api/handlers"
	"github.com/opalhq/opal/internal/api/middleware"
)

type RouterConfig struct {
	GroupHandler  *handlers.GroupHandler
	SearchHandler *handlers.SearchHandler
	ChatHandler   *handlers.ChatHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 5 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/groups", func(r chi.Router) {
		r.Post("/", cfg.GroupHandler.Create)
		r.Get("/", cfg.GroupHandler.List)
		r.Get("/{id}", cfg.GroupHandler.Get)
	})

	r.Post("/search", cfg.SearchHandler.Search)

	r.Get("/chat", cfg.ChatHandler.Serve)

	return r
}
