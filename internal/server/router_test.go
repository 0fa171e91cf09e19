package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/opalhq/opal/internal/agent"
	"github.com/opalhq/opal/internal/api/handlers"
	"github.com/opalhq/opal/internal/chat"
	"github.com/opalhq/opal/internal/domain"
	"github.com/opalhq/opal/internal/service"
)

type MockGroupService struct {
	mock.Mock
}

func (m *MockGroupService) Create(ctx context.Context, input service.CreateGroupInput) (*domain.KnowledgeGroup, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.KnowledgeGroup), args.Error(1)
}

func (m *MockGroupService) Get(ctx context.Context, id string) (*domain.KnowledgeGroup, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.KnowledgeGroup), args.Error(1)
}

func (m *MockGroupService) List(ctx context.Context, input service.ListGroupsInput) (*service.ListGroupsOutput, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ListGroupsOutput), args.Error(1)
}

type MockSearchService struct {
	mock.Mock
}

func (m *MockSearchService) Search(ctx context.Context, scrapeID, query string) ([]domain.SearchResult, error) {
	args := m.Called(ctx, scrapeID, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.SearchResult), args.Error(1)
}

// scriptedChatClient streams a fixed text answer for every completion.
type scriptedChatClient struct {
	parts []string
}

type scriptedChatStream struct {
	parts []string
	pos   int
}

func (s *scriptedChatStream) Recv() (openai.ChatCompletionStreamResponse, error) {
	if s.pos >= len(s.parts) {
		return openai.ChatCompletionStreamResponse{}, io.EOF
	}
	part := s.parts[s.pos]
	s.pos++
	return openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{{
			Delta: openai.ChatCompletionStreamChoiceDelta{Content: part},
		}},
	}, nil
}

func (s *scriptedChatStream) Close() error { return nil }

func (c *scriptedChatClient) StreamChatCompletion(ctx context.Context, messages []openai.ChatCompletionMessage, defs []openai.Tool) (agent.ChatStream, error) {
	return &scriptedChatStream{parts: c.parts}, nil
}

type noHitsEngine struct{}

func (noHitsEngine) Search(ctx context.Context, scrapeID, query string, topK int) ([]domain.RawHit, error) {
	return nil, nil
}

func newTestRouter(t *testing.T, groups *MockGroupService, search *MockSearchService, client agent.ChatClient) http.Handler {
	t.Helper()
	if client == nil {
		client = &scriptedChatClient{parts: []string{"ok"}}
	}
	return NewRouter(RouterConfig{
		GroupHandler:  handlers.NewGroupHandler(groups),
		SearchHandler: handlers.NewSearchHandler(search),
		ChatHandler: handlers.NewChatHandler(handlers.ChatHandlerConfig{
			Client:   client,
			Engine:   noHitsEngine{},
			Registry: chat.NewRegistry(),
		}),
	})
}

func TestRouter_Health(t *testing.T) {
	router := newTestRouter(t, new(MockGroupService), new(MockSearchService), nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestRouter_CreateGroup(t *testing.T) {
	groups := new(MockGroupService)
	groups.On("Create", mock.Anything, mock.MatchedBy(func(input service.CreateGroupInput) bool {
		return input.ScrapeID == "tenant-1" && input.Source == domain.SourceTypeWeb
	})).Return(&domain.KnowledgeGroup{
		ID:       "group-1",
		ScrapeID: "tenant-1",
		Source:   domain.SourceTypeWeb,
		Status:   domain.GroupStatusIdle,
	}, nil)

	router := newTestRouter(t, groups, new(MockSearchService), nil)

	body := `{"scrape_id":"tenant-1","source":"web","config":{"identifiers":["https://example.com"]}}`
	req := httptest.NewRequest(http.MethodPost, "/groups", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "group-1")
	groups.AssertExpectations(t)
}

func TestRouter_CreateGroup_ValidationError(t *testing.T) {
	groups := new(MockGroupService)
	groups.On("Create", mock.Anything, mock.Anything).Return(nil, domain.ErrMissingIdentifiers)

	router := newTestRouter(t, groups, new(MockSearchService), nil)

	req := httptest.NewRequest(http.MethodPost, "/groups", strings.NewReader(`{"scrape_id":"t","source":"web"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_GetGroup_NotFound(t *testing.T) {
	groups := new(MockGroupService)
	groups.On("Get", mock.Anything, "missing").Return(nil, domain.ErrGroupNotFound)

	router := newTestRouter(t, groups, new(MockSearchService), nil)

	req := httptest.NewRequest(http.MethodGet, "/groups/missing", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_ListGroups(t *testing.T) {
	groups := new(MockGroupService)
	groups.On("List", mock.Anything, service.ListGroupsInput{Cursor: "abc", Limit: 10}).Return(&service.ListGroupsOutput{
		Items:   []*domain.KnowledgeGroup{{ID: "group-1"}},
		HasMore: false,
	}, nil)

	router := newTestRouter(t, groups, new(MockSearchService), nil)

	req := httptest.NewRequest(http.MethodGet, "/groups?cursor=abc&limit=10", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "group-1")
}

func TestRouter_Search(t *testing.T) {
	search := new(MockSearchService)
	search.On("Search", mock.Anything, "tenant-1", "how do deploys work").Return([]domain.SearchResult{
		{Locator: "https://example.com/a", Content: "deploy docs", Score: 0.8, FetchID: "f1"},
	}, nil)

	router := newTestRouter(t, new(MockGroupService), search, nil)

	body := `{"scrape_id":"tenant-1","query":"how do deploys work"}`
	req := httptest.NewRequest(http.MethodPost, "/search", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "https://example.com/a")
}

func TestRouter_ChatRequiresScrapeID(t *testing.T) {
	router := newTestRouter(t, new(MockGroupService), new(MockSearchService), nil)

	req := httptest.NewRequest(http.MethodGet, "/chat", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_ChatRoundTrip(t *testing.T) {
	client := &scriptedChatClient{parts: []string{"Hel", "lo"}}
	router := newTestRouter(t, new(MockGroupService), new(MockSearchService), client)

	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat?scrape_id=tenant-1"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	ask, err := chat.NewEnvelope(chat.EnvelopeAsk, chat.AskData{Content: "say hello to me please"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(ask))

	var chunks []chat.ChunkData
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var env chat.Envelope
		require.NoError(t, conn.ReadJSON(&env))
		if env.Type != chat.EnvelopeLLMChunk {
			continue
		}
		var data chat.ChunkData
		require.NoError(t, json.Unmarshal(env.Data, &data))
		chunks = append(chunks, data)
		if data.End {
			break
		}
	}

	require.Len(t, chunks, 3)
	assert.Equal(t, "Hel", chunks[0].Content)
	assert.Equal(t, "lo", chunks[1].Content)
	assert.True(t, chunks[2].End)
	assert.Equal(t, "Hello", chunks[2].Message)
}
