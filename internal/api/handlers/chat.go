package handlers

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/opalhq/opal/internal/agent"
	"github.com/opalhq/opal/internal/api"
	"github.com/opalhq/opal/internal/chat"
	"github.com/opalhq/opal/internal/domain"
	"github.com/opalhq/opal/internal/tools"
)

// DefaultSystemPrompt instructs the agent on tool usage and grounding.
const DefaultSystemPrompt = "You are a support assistant answering strictly from the connected knowledge base. " +
	"Search before answering; cite nothing you did not retrieve. If search finds nothing relevant, say the " +
	"information is not available instead of guessing."

// ChatHandlerConfig wires the collaborators one chat connection needs.
type ChatHandlerConfig struct {
	Client       agent.ChatClient
	Engine       tools.Searcher
	Registry     *chat.Registry
	Audit        chat.AuditLog
	Secrets      tools.SecretResolver
	Identity     tools.IdentityProvider
	Actions      []domain.ActionDefinition
	MinScore     float32
	SystemPrompt string
}

// ChatHandler upgrades GET /chat to a websocket and binds one session to
// the connection's lifetime.
type ChatHandler struct {
	cfg      ChatHandlerConfig
	upgrader websocket.Upgrader
}

func NewChatHandler(cfg ChatHandlerConfig) *ChatHandler {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	return &ChatHandler{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

func (h *ChatHandler) Serve(w http.ResponseWriter, r *http.Request) {
	scrapeID := r.URL.Query().Get("scrape_id")
	if scrapeID == "" {
		api.Error(w, http.StatusBadRequest, "scrape_id is required")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		log.Printf("chat: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sessionID := uuid.NewString()

	// gorilla/websocket allows one concurrent writer; envelope sends come
	// from both the read loop and the turn goroutine.
	var writeMu sync.Mutex
	send := func(env chat.Envelope) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(env)
	}

	session := chat.NewSession(sessionID, h.runner(scrapeID, sessionID), h.cfg.Audit, send)
	h.cfg.Registry.Add(session)
	defer h.cfg.Registry.Remove(sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		var env chat.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("chat: session %s read failed: %v", sessionID, err)
			}
			return
		}
		// Turns run off the read loop so an in-flight ask can be rejected
		// instead of queued.
		go func(env chat.Envelope) {
			if err := session.HandleEnvelope(ctx, env); err != nil {
				log.Printf("chat: session %s: %v", sessionID, err)
			}
		}(env)
	}
}

// runner assembles the per-turn toolset: a fresh query budget, the tenant's
// search tool, one action tool per configured action, and the data-gap tool.
func (h *ChatHandler) runner(scrapeID, sessionID string) chat.Runner {
	return chat.RunnerFunc(func(ctx context.Context, history []domain.ChatMessage, query string, sink agent.Sink) (string, error) {
		toolset := []tools.Tool{
			tools.NewSearchTool(h.cfg.Engine, scrapeID, tools.NewQueryBudget(), h.cfg.MinScore),
		}
		for _, def := range h.cfg.Actions {
			toolset = append(toolset, tools.NewActionTool(def, sessionID, h.cfg.Secrets, h.cfg.Identity))
		}
		toolset = append(toolset, tools.NewDataGapTool(sessionID))

		loop := agent.New(h.cfg.Client, toolset, h.cfg.SystemPrompt)
		return loop.Run(ctx, history, query, sink)
	})
}
