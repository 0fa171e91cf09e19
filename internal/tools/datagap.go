package tools

import (
	"context"
	"encoding/json"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/opalhq/opal/internal/domain"
)

// DataGapTool records a knowledge gap the agent noticed. It never fails and
// makes no external call; the usage constraint lives in the description.
type DataGapTool struct {
	sessionID string
}

func NewDataGapTool(sessionID string) *DataGapTool {
	return &DataGapTool{sessionID: sessionID}
}

func (t *DataGapTool) Name() string { return "report_data_gap" }

func (t *DataGapTool) Definition() openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name: t.Name(),
			Description: "Report a gap in the knowledge base: a question the user asked that the indexed " +
				"content answers incompletely or inconsistently. Do not call this when a search simply " +
				"returned no results; only report gaps in content that exists.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title": map[string]any{
						"type":        "string",
						"description": "A short title for the gap.",
					},
					"description": map[string]any{
						"type":        "string",
						"description": "What is missing or contradictory, and what the user needed.",
					},
				},
				"required": []string{"title", "description"},
			},
		},
	}
}

func (t *DataGapTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var input struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	// Accept whatever arrives; the constraint above is advisory to the
	// model, not a precondition.
	_ = json.Unmarshal(args, &input)

	gap := &domain.DataGap{
		SessionID:   t.sessionID,
		Title:       input.Title,
		Description: input.Description,
		CreatedAt:   time.Now().UTC(),
	}
	return Result{
		Content:    "The data gap has been recorded. Continue answering the user as best you can with the available information.",
		SideEffect: gap,
	}, nil
}
