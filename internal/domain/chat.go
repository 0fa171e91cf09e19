package domain

import "time"

// MessageRole is the author of a chat message.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// ChatMessage is one committed message in a conversation. A user message is
// created with a placeholder id at ask time and reconciled to its
// server-issued id out of band.
type ChatMessage struct {
	ID        string
	Role      MessageRole
	Content   string
	CreatedAt time.Time
}

// TurnState is the chat session state machine position.
type TurnState string

const (
	TurnStateIdle       TurnState = "idle"
	TurnStateAsked      TurnState = "asked"
	TurnStateSearching  TurnState = "searching"
	TurnStateActionCall TurnState = "action-call"
	TurnStateAnswering  TurnState = "answering"
)
