// Package agent drives one chat turn: a streamed tool-calling loop over the
// OpenAI chat completion API that dispatches to the configured tools and
// forwards answer tokens as they arrive.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/opalhq/opal/internal/domain"
	"github.com/opalhq/opal/internal/tools"
)

// maxToolRounds bounds the completions one turn may make. The loop normally
// ends when a completion finishes without tool calls.
const maxToolRounds = 8

// ChatStream yields streamed completion deltas. *openai.ChatCompletionStream
// satisfies it.
type ChatStream interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// ChatClient opens streamed chat completions.
type ChatClient interface {
	StreamChatCompletion(ctx context.Context, messages []openai.ChatCompletionMessage, tools []openai.Tool) (ChatStream, error)
}

// Stage describes a tool call about to run, for UI-facing stage events.
// Query is set for retrieval calls, Action for configured HTTP actions.
type Stage struct {
	Query  string
	Action string
}

// Sink receives turn events as they happen. Calls arrive from a single
// goroutine in stream order.
type Sink interface {
	OnChunk(content string)
	OnStage(stage Stage)
	OnSideEffect(effect any)
}

// Loop runs agent turns against a fixed toolset.
type Loop struct {
	client ChatClient
	tools  []tools.Tool
	byName map[string]tools.Tool
	system string
}

func New(client ChatClient, toolset []tools.Tool, systemPrompt string) *Loop {
	byName := make(map[string]tools.Tool, len(toolset))
	for _, t := range toolset {
		byName[t.Name()] = t
	}
	return &Loop{
		client: client,
		tools:  toolset,
		byName: byName,
		system: systemPrompt,
	}
}

// Run executes one turn and returns the full assistant answer. Every answer
// token is also forwarded to the sink as it arrives.
func (l *Loop) Run(ctx context.Context, history []domain.ChatMessage, query string, sink Sink) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	if l.system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: l.system,
		})
	}
	for _, m := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: query,
	})

	defs := make([]openai.Tool, 0, len(l.tools))
	for _, t := range l.tools {
		defs = append(defs, t.Definition())
	}

	var answer strings.Builder
	for round := 0; round < maxToolRounds; round++ {
		stream, err := l.client.StreamChatCompletion(ctx, messages, defs)
		if err != nil {
			return "", fmt.Errorf("failed to open completion stream: %w", err)
		}
		text, calls, err := drain(stream, sink, &answer)
		stream.Close()
		if err != nil {
			return "", err
		}
		if len(calls) == 0 {
			return answer.String(), nil
		}

		messages = append(messages, openai.ChatCompletionMessage{
			Role:      openai.ChatMessageRoleAssistant,
			Content:   text,
			ToolCalls: calls,
		})
		for _, call := range calls {
			messages = append(messages, l.dispatch(ctx, call, sink))
		}
	}
	return "", domain.NewDomainError(domain.ErrCodeInternalError, "agent turn exceeded the tool round limit")
}

// drain consumes one completion stream, forwarding text deltas and
// assembling tool calls from their fragments.
func drain(stream ChatStream, sink Sink, answer *strings.Builder) (string, []openai.ToolCall, error) {
	var text strings.Builder
	var calls []openai.ToolCall

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", nil, fmt.Errorf("completion stream failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta

		if delta.Content != "" {
			text.WriteString(delta.Content)
			answer.WriteString(delta.Content)
			sink.OnChunk(delta.Content)
		}
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			for len(calls) <= idx {
				calls = append(calls, openai.ToolCall{Type: openai.ToolTypeFunction})
			}
			if tc.ID != "" {
				calls[idx].ID = tc.ID
			}
			if tc.Function.Name != "" {
				calls[idx].Function.Name += tc.Function.Name
			}
			calls[idx].Function.Arguments += tc.Function.Arguments
		}
	}
	return text.String(), calls, nil
}

// dispatch runs one tool call and converts any failure into content the
// model can react to.
func (l *Loop) dispatch(ctx context.Context, call openai.ToolCall, sink Sink) openai.ChatCompletionMessage {
	args := json.RawMessage(call.Function.Arguments)
	// Only searches and titled actions surface as stage events; other tools
	// run without a visible stage.
	if stage := l.stageFor(call.Function.Name, args); stage != (Stage{}) {
		sink.OnStage(stage)
	}

	content := ""
	tool, ok := l.byName[call.Function.Name]
	if !ok {
		content = fmt.Sprintf("There is no tool named %q. Use only the tools you were given.", call.Function.Name)
	} else {
		result, err := tool.Execute(ctx, args)
		if err != nil {
			content = fmt.Sprintf("The tool call failed: %v. Recover by rephrasing, or answer with the information you already have.", err)
		} else {
			content = result.Content
			if result.SideEffect != nil {
				sink.OnSideEffect(result.SideEffect)
			}
		}
	}

	return openai.ChatCompletionMessage{
		Role:       openai.ChatMessageRoleTool,
		Content:    content,
		ToolCallID: call.ID,
	}
}

func (l *Loop) stageFor(name string, args json.RawMessage) Stage {
	if name == tools.SearchToolName {
		var input struct {
			Query string `json:"query"`
		}
		_ = json.Unmarshal(args, &input)
		return Stage{Query: input.Query}
	}
	if t, ok := l.byName[name]; ok {
		if titled, ok := t.(interface{ Title() string }); ok {
			return Stage{Action: titled.Title()}
		}
	}
	return Stage{}
}
