// Package presence keeps the site's ephemeral chat state in Redis: per-user
// online/last-seen heartbeats and per-conversation typing signals. Redis is
// the only system of record for this state, so it stays correct when more
// than one API instance is running.
package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Status is the raw tracked presence of one user. Staleness is already
// applied: Online is false when the last heartbeat is too old, whatever the
// client last reported.
type Status struct {
	Online   bool
	LastSeen *time.Time
}

// Tracker records heartbeats and derives online state from their recency.
type Tracker struct {
	client     *redis.Client
	staleAfter time.Duration
}

func NewTracker(client *redis.Client, staleAfter time.Duration) *Tracker {
	return &Tracker{client: client, staleAfter: staleAfter}
}

func presenceKey(userID string) string {
	return "presence:" + userID
}

// Heartbeat upserts the user's presence. No TTL: last-seen must survive the
// user going away so it can be shown later.
func (t *Tracker) Heartbeat(ctx context.Context, userID string, online bool) error {
	fields := map[string]any{
		"online":    strconv.FormatBool(online),
		"last_seen": strconv.FormatInt(time.Now().UnixMilli(), 10),
	}
	if err := t.client.HSet(ctx, presenceKey(userID), fields).Err(); err != nil {
		return fmt.Errorf("record heartbeat: %w", err)
	}
	return nil
}

// Read returns the user's presence. A user with no heartbeat on record is
// simply offline.
func (t *Tracker) Read(ctx context.Context, userID string) (Status, error) {
	fields, err := t.client.HGetAll(ctx, presenceKey(userID)).Result()
	if err != nil {
		return Status{}, fmt.Errorf("read presence: %w", err)
	}
	if len(fields) == 0 {
		return Status{}, nil
	}

	millis, err := strconv.ParseInt(fields["last_seen"], 10, 64)
	if err != nil {
		return Status{}, fmt.Errorf("parse last_seen: %w", err)
	}
	lastSeen := time.UnixMilli(millis)

	online := fields["online"] == "true"
	if time.Since(lastSeen) > t.staleAfter {
		online = false
	}
	return Status{Online: online, LastSeen: &lastSeen}, nil
}

func (t *Tracker) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}
