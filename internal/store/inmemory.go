package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrConversationNotFound = errors.New("conversation not found")

// InMemoryStore is a simple in-process store for local/dev use.
type InMemoryStore struct {
	mu            sync.RWMutex
	messages      map[string][]Message
	conversations map[string]Conversation
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		messages:      make(map[string][]Message),
		conversations: make(map[string]Conversation),
	}
}

func (s *InMemoryStore) CreateMessage(_ context.Context, msg Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)

	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		conv = Conversation{
			ID:        msg.ConversationID,
			CreatedAt: msg.CreatedAt,
		}
	}
	conv.LastMessageAt = msg.CreatedAt
	s.conversations[msg.ConversationID] = conv

	return msg.ID, nil
}

func (s *InMemoryStore) UpdateConversation(_ context.Context, conv Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.conversations[conv.ID]
	if !ok {
		if conv.CreatedAt.IsZero() {
			conv.CreatedAt = time.Now().UTC()
		}
		s.conversations[conv.ID] = conv
		return nil
	}
	if conv.Title != "" {
		existing.Title = conv.Title
	}
	if !conv.LastMessageAt.IsZero() {
		existing.LastMessageAt = conv.LastMessageAt
	}
	s.conversations[conv.ID] = existing
	return nil
}

func (s *InMemoryStore) GetConversation(_ context.Context, id string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return Conversation{}, ErrConversationNotFound
	}
	return conv, nil
}

func (s *InMemoryStore) RecentMessages(_ context.Context, conversationID string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.messages[conversationID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]Message, 0, limit)
	for i := len(arr) - limit; i < len(arr); i++ {
		out = append(out, arr[i])
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
