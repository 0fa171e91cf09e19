// Package chat holds the per-connection session state machine and the wire
// envelopes it speaks over a persistent, ordered transport.
package chat

import (
	"encoding/json"
	"fmt"
)

// Envelope is the transport frame: a type tag plus a type-specific payload.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Envelope types.
const (
	EnvelopeAsk          = "ask"           // client -> server user query
	EnvelopeLLMChunk     = "llm-chunk"     // server -> client answer token / terminal chunk
	EnvelopeStage        = "stage"         // server -> client tool-call progress
	EnvelopeQueryMessage = "query-message" // server -> client provisional message id reconciliation
	EnvelopeError        = "error"         // server -> client turn failure
)

// AskData is the client's query payload.
type AskData struct {
	Content string `json:"content"`
}

// ChunkData streams answer tokens. The terminal chunk sets End and carries
// the full committed message.
type ChunkData struct {
	Content string `json:"content"`
	End     bool   `json:"end,omitempty"`
	Message string `json:"message,omitempty"`
}

// StageData announces a tool call. Query is set for searches, Action for
// configured HTTP actions.
type StageData struct {
	Stage  string `json:"stage"`
	Query  string `json:"query,omitempty"`
	Action string `json:"action,omitempty"`
}

// QueryMessageData carries the server-assigned id for the turn's
// provisional user message.
type QueryMessageData struct {
	ID string `json:"id"`
}

// ErrorData surfaces a turn failure to the client.
type ErrorData struct {
	Message string `json:"message"`
}

// StageToolCall is the only stage currently emitted.
const StageToolCall = "tool-call"

// NewEnvelope marshals a payload into an envelope.
func NewEnvelope(envType string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s envelope: %w", envType, err)
	}
	return Envelope{Type: envType, Data: raw}, nil
}
