package connector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/opalhq/opal/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<!doctype html>
<html>
<head><title>Install Guide</title></head>
<body>
<nav>Home | Docs</nav>
<main>
<h1>Installing the agent</h1>
<p>Download the binary and place it on your PATH.</p>
<script>console.log("noise")</script>
<p>Run opal --version to verify.</p>
</main>
<footer>Copyright</footer>
</body>
</html>`

func TestWebConnector_Process(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/docs/install":
			w.Write([]byte(samplePage))
		case "/docs/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	group := &domain.KnowledgeGroup{
		ScrapeID: "tenant-1",
		Source:   domain.SourceTypeWeb,
		Config: domain.SourceConfig{
			Identifiers: []string{
				srv.URL + "/docs/install",
				srv.URL + "/docs/broken",
			},
		},
	}

	sink := &recordingSink{}
	c := NewWebConnector(allowAllGate{})

	err := c.Process(context.Background(), group, sink)
	require.NoError(t, err)

	require.Len(t, sink.items, 1)
	item := sink.items[0]
	assert.Equal(t, srv.URL+"/docs/install", item.Locator)
	assert.Equal(t, "Install Guide", item.Title)
	assert.Contains(t, item.Text, "# Install Guide")
	assert.Contains(t, item.Text, "Download the binary")
	assert.NotContains(t, item.Text, "console.log")
	assert.NotContains(t, item.Text, "Home | Docs")

	require.Len(t, sink.failed, 1)
	assert.Equal(t, srv.URL+"/docs/broken", sink.failed[0])

	expected := []domain.ProgressEvent{
		{Completed: 0, Remaining: 2},
		{Completed: 1, Remaining: 1},
	}
	assert.Equal(t, expected, sink.progress)
}

func TestWebConnector_BudgetExhausted(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	group := &domain.KnowledgeGroup{
		ScrapeID: "tenant-1",
		Source:   domain.SourceTypeWeb,
		Config:   domain.SourceConfig{Identifiers: []string{srv.URL + "/docs/install"}},
	}

	sink := &recordingSink{}
	c := NewWebConnector(deniedGate{})

	err := c.Process(context.Background(), group, sink)
	assert.ErrorIs(t, err, domain.ErrBudgetExhausted)
	assert.Empty(t, sink.items, "no partial emission when the budget is already exhausted")
	assert.Empty(t, sink.progress)
	assert.False(t, called, "no fetch may happen before the budget check")
}

func TestWebConnector_ExcludePattern(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	group := &domain.KnowledgeGroup{
		ScrapeID: "tenant-1",
		Source:   domain.SourceTypeWeb,
		Config: domain.SourceConfig{
			Identifiers:     []string{srv.URL + "/docs/install", srv.URL + "/internal/secret"},
			ExcludePatterns: []string{`/internal/`},
		},
	}

	sink := &recordingSink{}
	c := NewWebConnector(allowAllGate{})

	require.NoError(t, c.Process(context.Background(), group, sink))

	require.Len(t, sink.items, 1)
	assert.Equal(t, srv.URL+"/docs/install", sink.items[0].Locator)
	for _, ev := range sink.progress {
		assert.Equal(t, 1, ev.Completed+ev.Remaining)
	}
}
