package domain

import (
	"encoding/json"
	"time"
)

// ConversationStatus represents the status of a conversation.
type ConversationStatus string

const (
	ConversationActive    ConversationStatus = "active"
	ConversationCompleted ConversationStatus = "completed"
	ConversationAbandoned ConversationStatus = "abandoned"
)

// MessageType is a rendering hint attached to a conversation message.
type MessageType string

const (
	MessageTypeInstruction MessageType = "instruction"
	MessageTypeFeedback    MessageType = "feedback"
	MessageTypeQuestion    MessageType = "question"
	MessageTypeAnswer      MessageType = "answer"
	MessageTypeResult      MessageType = "result"
	MessageTypeError       MessageType = "error"
)

// Message is a single entry in a conversation thread. Messages are
// append-only; their order is the sole source of truth for history.
type Message struct {
	Role        string      `json:"role"` // "user" or "assistant"
	Content     string      `json:"content"`
	MessageType MessageType `json:"message_type,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// Conversation is a persisted message log that accumulates multi-turn
// context for one owning entity.
type Conversation struct {
	ID         string             `json:"id"`
	OwnerID    string             `json:"owner_id"`
	Title      string             `json:"title"`
	Status     ConversationStatus `json:"status"`
	Messages   []Message          `json:"messages"`
	LastResult json.RawMessage    `json:"last_result,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// Owner is the entity a conversation and its design results belong to
// (a persona agent in the host application).
type Owner struct {
	OwnerID       string          `json:"owner_id"`
	Name          string          `json:"name"`
	DesignContext string          `json:"design_context,omitempty"`
	LastResult    json.RawMessage `json:"last_result,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}
