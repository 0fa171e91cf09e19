package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/opalhq/opal/internal/domain"
	"github.com/opalhq/opal/internal/index"
)

// SearchToolName identifies the search tool in model tool calls.
const SearchToolName = "search_knowledge_base"

const (
	// searchFanOut is the fixed number of raw candidates pulled per query
	// before reranking.
	searchFanOut = 20

	minQueryChars = 5
	minQueryWords = 4
)

// Searcher is the retrieval boundary the search tool calls. Rejected
// queries never reach it.
type Searcher interface {
	Search(ctx context.Context, scrapeID, query string, topK int) ([]domain.RawHit, error)
}

// SearchTool lets the agent query one tenant's knowledge base under the
// turn's query budget.
type SearchTool struct {
	searcher Searcher
	scrapeID string
	budget   *QueryBudget
	minScore float32
}

func NewSearchTool(searcher Searcher, scrapeID string, budget *QueryBudget, minScore float32) *SearchTool {
	return &SearchTool{
		searcher: searcher,
		scrapeID: scrapeID,
		budget:   budget,
		minScore: minScore,
	}
}

func (t *SearchTool) Name() string { return SearchToolName }

func (t *SearchTool) Definition() openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name: t.Name(),
			Description: "Search the knowledge base for information relevant to the user's question. " +
				"Use a full, specific question as the query. Each distinct query may only be issued once per turn.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "A complete, specific search query of at least four words.",
					},
				},
				"required": []string{"query"},
			},
		},
	}
}

func (t *SearchTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var input struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return Result{}, domain.NewDomainErrorWithCause(domain.ErrCodeToolRejected, "malformed search arguments", err)
	}
	query := strings.TrimSpace(input.Query)

	if t.budget.Seen(query) {
		return Result{Content: "You already searched for that exact query this turn. Use the results you already received instead of repeating the search."}, nil
	}
	if t.budget.Exhausted() {
		return Result{Content: "You have reached the search limit for this turn. Stop searching and answer now using the information you already have."}, nil
	}
	if len([]rune(query)) < minQueryChars || len(strings.Fields(query)) < minQueryWords {
		return Result{Content: "The search query is too short. Retry with a longer, more specific query of at least four words."}, nil
	}

	hits, err := t.searcher.Search(ctx, t.scrapeID, query, searchFanOut)
	if err != nil {
		return Result{}, fmt.Errorf("search failed: %w", err)
	}
	t.budget.Record(query)

	results := index.Process(query, hits, t.minScore)
	if len(results) == 0 {
		return Result{Content: "No relevant information was found in the knowledge base for this query. Do not answer from your own knowledge; tell the user the information is not available."}, nil
	}

	return Result{Content: serializeResults(results)}, nil
}

// serializeResults renders results for model consumption: a numbered list
// with the locator, a stable per-result id, and the chunk content.
func serializeResults(results []domain.SearchResult) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s (result id: %s)\n%s", i+1, r.Locator, r.FetchID, r.Content)
	}
	return b.String()
}
