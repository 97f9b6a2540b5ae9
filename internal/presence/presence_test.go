package presence

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTracker(t *testing.T) (*Tracker, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewTracker(client, 30*time.Second), s, client
}

func TestHeartbeatThenRead(t *testing.T) {
	tracker, _, _ := setupTracker(t)
	ctx := context.Background()

	if err := tracker.Heartbeat(ctx, "user-1", true); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	status, err := tracker.Read(ctx, "user-1")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !status.Online {
		t.Fatalf("expected online after fresh heartbeat")
	}
	if status.LastSeen == nil {
		t.Fatalf("expected lastSeen to be set")
	}
	if time.Since(*status.LastSeen) > time.Minute {
		t.Fatalf("lastSeen too old: %v", status.LastSeen)
	}
}

func TestReadUnknownUserIsOffline(t *testing.T) {
	tracker, _, _ := setupTracker(t)

	status, err := tracker.Read(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if status.Online {
		t.Fatalf("expected offline for unknown user")
	}
	if status.LastSeen != nil {
		t.Fatalf("expected nil lastSeen for unknown user")
	}
}

func TestStaleHeartbeatReportsOffline(t *testing.T) {
	tracker, _, client := setupTracker(t)
	ctx := context.Background()

	// A heartbeat recorded 31 seconds ago with online=true on record.
	old := time.Now().Add(-31 * time.Second).UnixMilli()
	if err := client.HSet(ctx, "presence:user-1", map[string]any{
		"online":    "true",
		"last_seen": strconv.FormatInt(old, 10),
	}).Err(); err != nil {
		t.Fatalf("seed presence: %v", err)
	}

	status, err := tracker.Read(ctx, "user-1")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if status.Online {
		t.Fatalf("expected stale presence to report offline despite stored online=true")
	}
	if status.LastSeen == nil {
		t.Fatalf("expected lastSeen to survive staleness")
	}
}

func TestExplicitOfflineHeartbeat(t *testing.T) {
	tracker, _, _ := setupTracker(t)
	ctx := context.Background()

	if err := tracker.Heartbeat(ctx, "user-1", true); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if err := tracker.Heartbeat(ctx, "user-1", false); err != nil {
		t.Fatalf("Heartbeat offline: %v", err)
	}

	status, err := tracker.Read(ctx, "user-1")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if status.Online {
		t.Fatalf("expected offline after unload heartbeat")
	}
	if status.LastSeen == nil {
		t.Fatalf("expected lastSeen retained after going offline")
	}
}
