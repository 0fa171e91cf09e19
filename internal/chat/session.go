package chat

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opalhq/opal/internal/agent"
	"github.com/opalhq/opal/internal/domain"
)

// Runner drives one agent turn. *agent.Loop satisfies it.
type Runner interface {
	Run(ctx context.Context, history []domain.ChatMessage, query string, sink agent.Sink) (string, error)
}

// RunnerFunc adapts a function to Runner. The transport layer uses it to
// assemble a fresh toolset, and with it a fresh query budget, per turn.
type RunnerFunc func(ctx context.Context, history []domain.ChatMessage, query string, sink agent.Sink) (string, error)

func (f RunnerFunc) Run(ctx context.Context, history []domain.ChatMessage, query string, sink agent.Sink) (string, error) {
	return f(ctx, history, query, sink)
}

// AuditLog persists tool side effects.
type AuditLog interface {
	CreateActionCall(ctx context.Context, call *domain.ActionCall) error
	CreateDataGap(ctx context.Context, gap *domain.DataGap) error
}

// Session is the per-connection chat state machine. All state is scoped to
// the connection and discarded when it closes; exactly one query may be in
// flight at a time.
type Session struct {
	id     string
	runner Runner
	audit  AuditLog
	send   func(Envelope) error

	mu       sync.Mutex
	state    domain.TurnState
	messages []domain.ChatMessage
	buffer   strings.Builder
	pending  string // provisional user message id awaiting reconciliation
	turnCtx  context.Context
}

// NewSession creates an idle session. send writes one envelope to the
// transport and must be safe for use from the turn goroutine.
func NewSession(id string, runner Runner, audit AuditLog, send func(Envelope) error) *Session {
	return &Session{
		id:     id,
		runner: runner,
		audit:  audit,
		send:   send,
		state:  domain.TurnStateIdle,
	}
}

// ID returns the session's registry key.
func (s *Session) ID() string { return s.id }

// State returns the current state machine position.
func (s *Session) State() domain.TurnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns a copy of the committed conversation.
func (s *Session) Messages() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// HandleEnvelope dispatches one client frame. Unknown or malformed frames
// are protocol errors: the turn is abandoned and the client told.
func (s *Session) HandleEnvelope(ctx context.Context, env Envelope) error {
	switch env.Type {
	case EnvelopeAsk:
		var ask AskData
		if err := json.Unmarshal(env.Data, &ask); err != nil {
			return s.protocolError("malformed ask payload")
		}
		return s.HandleAsk(ctx, ask.Content)
	default:
		return s.protocolError("unexpected message type " + env.Type)
	}
}

// HandleAsk runs one full turn: guard, provisional message, agent loop,
// commit. It blocks until the turn finishes; callers that must keep reading
// the transport run it on its own goroutine.
func (s *Session) HandleAsk(ctx context.Context, content string) error {
	s.mu.Lock()
	if s.state != domain.TurnStateIdle {
		s.mu.Unlock()
		s.sendError("a query is already in flight, wait for the answer")
		return domain.ErrTurnInFlight
	}
	s.state = domain.TurnStateAsked
	s.turnCtx = ctx
	s.buffer.Reset()

	placeholder := uuid.NewString()
	s.pending = placeholder
	history := make([]domain.ChatMessage, len(s.messages))
	copy(history, s.messages)
	s.messages = append(s.messages, domain.ChatMessage{
		ID:        placeholder,
		Role:      domain.MessageRoleUser,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})
	s.mu.Unlock()

	// The accepted message gets its durable id immediately; the client
	// reconciles its provisional copy whenever the frame arrives.
	s.Reconcile(uuid.NewString())

	answer, err := s.runner.Run(ctx, history, content, s)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnCtx = nil
	if err != nil {
		s.buffer.Reset()
		s.state = domain.TurnStateIdle
		s.sendLocked(EnvelopeError, ErrorData{Message: "the assistant could not finish this answer, try again"})
		return err
	}

	final := s.buffer.String()
	if final == "" {
		final = answer
	}
	s.messages = append(s.messages, domain.ChatMessage{
		ID:        uuid.NewString(),
		Role:      domain.MessageRoleAssistant,
		Content:   final,
		CreatedAt: time.Now().UTC(),
	})
	s.buffer.Reset()
	s.state = domain.TurnStateIdle
	s.sendLocked(EnvelopeLLMChunk, ChunkData{End: true, Message: final})
	return nil
}

// Reconcile replaces the provisional user message's placeholder id with the
// server-assigned one. Applying the same frame again, or after the
// placeholder is gone, is a no-op.
func (s *Session) Reconcile(serverID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == "" {
		return
	}
	for i := range s.messages {
		if s.messages[i].ID == s.pending {
			s.messages[i].ID = serverID
			break
		}
	}
	s.pending = ""
	s.sendLocked(EnvelopeQueryMessage, QueryMessageData{ID: serverID})
}

// OnChunk implements agent.Sink: every answer token moves the session to
// answering and streams out immediately.
func (s *Session) OnChunk(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = domain.TurnStateAnswering
	s.buffer.WriteString(content)
	s.sendLocked(EnvelopeLLMChunk, ChunkData{Content: content})
}

// OnStage implements agent.Sink.
func (s *Session) OnStage(stage agent.Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data := StageData{Stage: StageToolCall, Query: stage.Query, Action: stage.Action}
	if stage.Query != "" {
		s.state = domain.TurnStateSearching
	} else {
		s.state = domain.TurnStateActionCall
	}
	s.sendLocked(EnvelopeStage, data)
}

// OnSideEffect implements agent.Sink: audit records are persisted as they
// happen so a failed turn still leaves its trail.
func (s *Session) OnSideEffect(effect any) {
	if s.audit == nil {
		return
	}
	s.mu.Lock()
	ctx := s.turnCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	var err error
	switch e := effect.(type) {
	case *domain.ActionCall:
		err = s.audit.CreateActionCall(ctx, e)
	case *domain.DataGap:
		err = s.audit.CreateDataGap(ctx, e)
	}
	if err != nil {
		log.Printf("session %s: failed to persist side effect: %v", s.id, err)
	}
}

func (s *Session) protocolError(message string) error {
	s.mu.Lock()
	s.buffer.Reset()
	s.state = domain.TurnStateIdle
	s.sendLocked(EnvelopeError, ErrorData{Message: message})
	s.mu.Unlock()
	return domain.NewDomainError(domain.ErrCodeStreamProtocol, message)
}

func (s *Session) sendError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendLocked(EnvelopeError, ErrorData{Message: message})
}

func (s *Session) sendLocked(envType string, data any) {
	env, err := NewEnvelope(envType, data)
	if err != nil {
		log.Printf("session %s: %v", s.id, err)
		return
	}
	if err := s.send(env); err != nil {
		log.Printf("session %s: failed to send %s envelope: %v", s.id, envType, err)
	}
}
