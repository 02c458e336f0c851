package store

import (
	"context"
	"time"
)

// Role distinguishes who authored a message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single conversational turn, user or assistant.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Conversation groups messages; LastMessageAt orders the conversation list.
type Conversation struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// Store persists conversations and their messages.
type Store interface {
	CreateMessage(ctx context.Context, msg Message) (string, error)
	UpdateConversation(ctx context.Context, conv Conversation) error
	GetConversation(ctx context.Context, id string) (Conversation, error)
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)
	Close() error
}
