package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opalhq/opal/internal/agent"
	"github.com/opalhq/opal/internal/domain"
)

const (
	testWait = 2 * time.Second
	testTick = 5 * time.Millisecond
)

// scriptedRunner replays a fixed sequence of sink events, then returns.
type scriptedRunner struct {
	chunks  []string
	stages  []agent.Stage
	effects []any
	answer  string
	err     error
	block   chan struct{} // when set, Run waits on it before returning
	calls   int
}

func (r *scriptedRunner) Run(ctx context.Context, history []domain.ChatMessage, query string, sink agent.Sink) (string, error) {
	r.calls++
	for _, st := range r.stages {
		sink.OnStage(st)
	}
	for _, e := range r.effects {
		sink.OnSideEffect(e)
	}
	for _, c := range r.chunks {
		sink.OnChunk(c)
	}
	if r.block != nil {
		<-r.block
	}
	return r.answer, r.err
}

type envelopeLog struct {
	mu        sync.Mutex
	envelopes []Envelope
}

func (l *envelopeLog) send(env Envelope) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.envelopes = append(l.envelopes, env)
	return nil
}

func (l *envelopeLog) ofType(t *testing.T, envType string) []json.RawMessage {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []json.RawMessage
	for _, env := range l.envelopes {
		if env.Type == envType {
			out = append(out, env.Data)
		}
	}
	return out
}

type memoryAudit struct {
	mu      sync.Mutex
	actions []*domain.ActionCall
	gaps    []*domain.DataGap
}

func (a *memoryAudit) CreateActionCall(ctx context.Context, call *domain.ActionCall) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, call)
	return nil
}

func (a *memoryAudit) CreateDataGap(ctx context.Context, gap *domain.DataGap) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gaps = append(a.gaps, gap)
	return nil
}

func TestSession_ChunksAccumulateAndCommit(t *testing.T) {
	log := &envelopeLog{}
	runner := &scriptedRunner{chunks: []string{"Hel", "lo"}, answer: "Hello"}
	s := NewSession("sess-1", runner, nil, log.send)

	err := s.HandleAsk(context.Background(), "say hello to me please")

	require.NoError(t, err)
	assert.Equal(t, domain.TurnStateIdle, s.State())

	messages := s.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, domain.MessageRoleUser, messages[0].Role)
	assert.Equal(t, domain.MessageRoleAssistant, messages[1].Role)
	assert.Equal(t, "Hello", messages[1].Content)

	chunks := log.ofType(t, EnvelopeLLMChunk)
	require.Len(t, chunks, 3)
	var last ChunkData
	require.NoError(t, json.Unmarshal(chunks[2], &last))
	assert.True(t, last.End)
	assert.Equal(t, "Hello", last.Message)
}

func TestSession_RejectsAskWhileTurnInFlight(t *testing.T) {
	log := &envelopeLog{}
	block := make(chan struct{})
	runner := &scriptedRunner{answer: "done", block: block}
	s := NewSession("sess-1", runner, nil, log.send)

	firstDone := make(chan error, 1)
	go func() { firstDone <- s.HandleAsk(context.Background(), "first question goes here") }()

	// Wait for the first turn to take the guard.
	require.Eventually(t, func() bool { return s.State() != domain.TurnStateIdle }, testWait, testTick)

	err := s.HandleAsk(context.Background(), "second question goes here")
	assert.ErrorIs(t, err, domain.ErrTurnInFlight)
	require.NotEmpty(t, log.ofType(t, EnvelopeError))

	close(block)
	require.NoError(t, <-firstDone)
	assert.Equal(t, domain.TurnStateIdle, s.State())
	assert.Equal(t, 1, runner.calls)
}

func TestSession_ReconciliationIsIdempotent(t *testing.T) {
	log := &envelopeLog{}
	block := make(chan struct{})
	runner := &scriptedRunner{answer: "x", block: block}
	s := NewSession("sess-1", runner, nil, log.send)

	done := make(chan error, 1)
	go func() { done <- s.HandleAsk(context.Background(), "a question to reconcile") }()
	require.Eventually(t, func() bool {
		return len(log.ofType(t, EnvelopeQueryMessage)) == 1
	}, testWait, testTick)

	frames := log.ofType(t, EnvelopeQueryMessage)
	var data QueryMessageData
	require.NoError(t, json.Unmarshal(frames[0], &data))
	require.NotEmpty(t, data.ID)

	before := s.Messages()
	require.Len(t, before, 1)
	assert.Equal(t, data.ID, before[0].ID)

	// A replayed frame must change nothing.
	s.Reconcile(data.ID)
	s.Reconcile("some-other-id")

	after := s.Messages()
	require.Len(t, after, len(before))
	assert.Equal(t, before[0].ID, after[0].ID)
	assert.Equal(t, before[0].Content, after[0].Content)
	assert.Len(t, log.ofType(t, EnvelopeQueryMessage), 1)

	close(block)
	require.NoError(t, <-done)
}

func TestSession_StageEvents(t *testing.T) {
	log := &envelopeLog{}
	runner := &scriptedRunner{
		stages: []agent.Stage{{Query: "how do deploys work"}, {Action: "Cancel order"}},
		chunks: []string{"done"},
		answer: "done",
	}
	s := NewSession("sess-1", runner, nil, log.send)

	require.NoError(t, s.HandleAsk(context.Background(), "cancel my order for me"))

	frames := log.ofType(t, EnvelopeStage)
	require.Len(t, frames, 2)

	var first, second StageData
	require.NoError(t, json.Unmarshal(frames[0], &first))
	require.NoError(t, json.Unmarshal(frames[1], &second))
	assert.Equal(t, StageToolCall, first.Stage)
	assert.Equal(t, "how do deploys work", first.Query)
	assert.Equal(t, "Cancel order", second.Action)
}

func TestSession_RunnerFailureResetsToIdle(t *testing.T) {
	log := &envelopeLog{}
	runner := &scriptedRunner{chunks: []string{"partial"}, err: errors.New("stream broke")}
	s := NewSession("sess-1", runner, nil, log.send)

	err := s.HandleAsk(context.Background(), "a question that will fail")

	require.Error(t, err)
	assert.Equal(t, domain.TurnStateIdle, s.State())
	require.NotEmpty(t, log.ofType(t, EnvelopeError))

	// The partial buffer is discarded, never committed.
	messages := s.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, domain.MessageRoleUser, messages[0].Role)
}

func TestSession_SideEffectsPersisted(t *testing.T) {
	audit := &memoryAudit{}
	runner := &scriptedRunner{
		effects: []any{
			&domain.ActionCall{ActionID: "cancel-order"},
			&domain.DataGap{Title: "missing pricing"},
		},
		answer: "ok",
	}
	s := NewSession("sess-1", runner, audit, (&envelopeLog{}).send)

	require.NoError(t, s.HandleAsk(context.Background(), "cancel my order for me"))

	require.Len(t, audit.actions, 1)
	assert.Equal(t, "cancel-order", audit.actions[0].ActionID)
	require.Len(t, audit.gaps, 1)
	assert.Equal(t, "missing pricing", audit.gaps[0].Title)
}

func TestSession_HandleEnvelope(t *testing.T) {
	log := &envelopeLog{}
	runner := &scriptedRunner{answer: "hi"}
	s := NewSession("sess-1", runner, nil, log.send)

	ask, err := NewEnvelope(EnvelopeAsk, AskData{Content: "a perfectly normal question"})
	require.NoError(t, err)
	require.NoError(t, s.HandleEnvelope(context.Background(), ask))
	assert.Equal(t, 1, runner.calls)

	err = s.HandleEnvelope(context.Background(), Envelope{Type: "bogus"})
	require.Error(t, err)
	var derr *domain.DomainError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.ErrCodeStreamProtocol, derr.Code)
	assert.Equal(t, domain.TurnStateIdle, s.State())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	s := NewSession("sess-1", &scriptedRunner{}, nil, (&envelopeLog{}).send)

	_, err := r.Get("sess-1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	r.Add(s)
	got, err := r.Get("sess-1")
	require.NoError(t, err)
	assert.Same(t, s, got)
	assert.Equal(t, 1, r.Len())

	r.Remove("sess-1")
	assert.Equal(t, 0, r.Len())
	r.Remove("sess-1")
}
