package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TypingStore flags who is typing in a conversation. Entries live in Redis
// under a short TTL, so "stopped typing and never said so" expires on its own
// instead of needing sweep logic.
type TypingStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewTypingStore(client *redis.Client, ttl time.Duration) *TypingStore {
	return &TypingStore{client: client, ttl: ttl}
}

func typingKey(conversationID, role string) string {
	return "typing:" + conversationID + ":" + role
}

// Set refreshes the typing flag for a role in a conversation; isTyping=false
// clears it immediately.
func (t *TypingStore) Set(ctx context.Context, conversationID, role string, isTyping bool) error {
	key := typingKey(conversationID, role)
	if !isTyping {
		if err := t.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("clear typing flag: %w", err)
		}
		return nil
	}
	if err := t.client.Set(ctx, key, "1", t.ttl).Err(); err != nil {
		return fmt.Errorf("set typing flag: %w", err)
	}
	return nil
}

// OtherTyping reports whether the opposite role is currently typing in the
// conversation.
func (t *TypingStore) OtherTyping(ctx context.Context, conversationID, viewerRole string) (bool, error) {
	other := "admin"
	if viewerRole == "admin" {
		other = "user"
	}
	exists, err := t.client.Exists(ctx, typingKey(conversationID, other)).Result()
	if err != nil {
		return false, fmt.Errorf("check typing flag: %w", err)
	}
	return exists > 0, nil
}
