// Package tools exposes the callable capabilities of the agent loop: search,
// configured HTTP actions, and data-gap reporting. Every tool validates its
// own input and answers rejections as plain content the model can react to.
package tools

import (
	"context"
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"
)

// Result is what a tool hands back to the agent loop. Content is fed to the
// model verbatim; SideEffect, when set, is a structured record (action call,
// data gap) the caller persists for audit.
type Result struct {
	Content    string
	SideEffect any
}

// Tool is one callable capability.
type Tool interface {
	Name() string
	Definition() openai.Tool
	Execute(ctx context.Context, args json.RawMessage) (Result, error)
}
