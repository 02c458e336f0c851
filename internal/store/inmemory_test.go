package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInMemoryStoreCreateMessageAssignsIDAndTouchesConversation(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	id, err := s.CreateMessage(ctx, Message{
		ConversationID: "conv-1",
		Role:           RoleUser,
		Content:        "hello there",
	})
	if err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}
	if id == "" {
		t.Fatalf("CreateMessage() returned empty id")
	}

	conv, err := s.GetConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if conv.LastMessageAt.IsZero() {
		t.Fatalf("LastMessageAt is zero, want touched")
	}
}

func TestInMemoryStoreRecentMessagesChronological(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	base := time.Now().UTC()

	for i, content := range []string{"one", "two", "three"} {
		if _, err := s.CreateMessage(ctx, Message{
			ConversationID: "conv-1",
			Role:           RoleUser,
			Content:        content,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("CreateMessage(%q) error = %v", content, err)
		}
	}

	msgs, err := s.RecentMessages(ctx, "conv-1", 2)
	if err != nil {
		t.Fatalf("RecentMessages() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2", len(msgs))
	}
	if msgs[0].Content != "two" || msgs[1].Content != "three" {
		t.Fatalf("msgs = [%q, %q], want [two, three]", msgs[0].Content, msgs[1].Content)
	}
}

func TestInMemoryStoreUpdateConversationKeepsTitle(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if err := s.UpdateConversation(ctx, Conversation{ID: "conv-1", Title: "Kitchen lights"}); err != nil {
		t.Fatalf("UpdateConversation() error = %v", err)
	}
	touch := time.Now().UTC()
	if err := s.UpdateConversation(ctx, Conversation{ID: "conv-1", LastMessageAt: touch}); err != nil {
		t.Fatalf("UpdateConversation() error = %v", err)
	}

	conv, err := s.GetConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if conv.Title != "Kitchen lights" {
		t.Fatalf("Title = %q, want preserved title", conv.Title)
	}
	if !conv.LastMessageAt.Equal(touch) {
		t.Fatalf("LastMessageAt = %v, want %v", conv.LastMessageAt, touch)
	}
}

func TestInMemoryStoreGetConversationNotFound(t *testing.T) {
	s := NewInMemoryStore()

	_, err := s.GetConversation(context.Background(), "missing")
	if !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("GetConversation() error = %v, want ErrConversationNotFound", err)
	}
}
