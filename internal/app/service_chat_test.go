package app

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/IsHereZahin/isherezahin.me-sub002/internal/store"
)

func TestSendMessageBannedUser(t *testing.T) {
	svc := newTestService(&fakeStore{})
	session := Session{UserID: "usr_1", Role: "user", IsBanned: true}

	_, err := svc.SendMessage(context.Background(), session, "", "hello")
	wantDomainError(t, err, 403, "FORBIDDEN")
}

func TestSendMessageValidation(t *testing.T) {
	svc := newTestService(&fakeStore{})
	session := Session{UserID: "usr_1", Role: "user"}

	_, err := svc.SendMessage(context.Background(), session, "", "   ")
	wantDomainError(t, err, 422, "VALIDATION_ERROR")

	_, err = svc.SendMessage(context.Background(), session, "", strings.Repeat("x", 2001))
	wantDomainError(t, err, 422, "VALIDATION_ERROR")
}

func TestSendMessageCreatesConversationForUser(t *testing.T) {
	var ensured store.User
	var appended store.Message
	fs := &fakeStore{
		ensureConversationFn: func(ctx context.Context, id string, participant store.User) (store.Conversation, error) {
			ensured = participant
			return store.Conversation{ID: "conv_1", ParticipantID: participant.ID, IsActive: true}, nil
		},
		appendMessageFn: func(ctx context.Context, message store.Message) error {
			appended = message
			return nil
		},
	}
	svc := newTestService(fs)
	session := Session{UserID: "usr_1", UserName: "Visitor", Email: "v@example.com", Role: "user"}

	payload, err := svc.SendMessage(context.Background(), session, "", "hi there")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if ensured.ID != "usr_1" {
		t.Fatalf("ensured participant %q", ensured.ID)
	}
	if appended.ConversationID != "conv_1" || appended.SenderType != "user" {
		t.Fatalf("appended %+v", appended)
	}
	if payload["content"] != "hi there" {
		t.Fatalf("payload content %v", payload["content"])
	}
}

func TestSendMessageRejectsForeignConversation(t *testing.T) {
	ensured := false
	fs := &fakeStore{
		getConvByParticipantFn: func(ctx context.Context, participantID string) (store.Conversation, error) {
			return store.Conversation{ID: "conv_mine", ParticipantID: participantID, IsActive: true}, nil
		},
		ensureConversationFn: func(ctx context.Context, id string, participant store.User) (store.Conversation, error) {
			ensured = true
			return store.Conversation{ID: "conv_mine", ParticipantID: participant.ID, IsActive: true}, nil
		},
	}
	svc := newTestService(fs)
	session := Session{UserID: "usr_1", Role: "user"}

	_, err := svc.SendMessage(context.Background(), session, "conv_other", "hi")
	wantDomainError(t, err, 403, "FORBIDDEN")
	if ensured {
		t.Fatal("rejected send still touched conversation state")
	}

	// No conversation yet means no id can be addressed.
	fs.getConvByParticipantFn = func(ctx context.Context, participantID string) (store.Conversation, error) {
		return store.Conversation{}, sql.ErrNoRows
	}
	_, err = svc.SendMessage(context.Background(), session, "conv_other", "hi")
	wantDomainError(t, err, 403, "FORBIDDEN")
	if ensured {
		t.Fatal("rejected send still touched conversation state")
	}

	// The user's own id passes through.
	fs.getConvByParticipantFn = func(ctx context.Context, participantID string) (store.Conversation, error) {
		return store.Conversation{ID: "conv_mine", ParticipantID: participantID, IsActive: true}, nil
	}
	payload, err := svc.SendMessage(context.Background(), session, "conv_mine", "hi")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if payload["conversationId"] != "conv_mine" {
		t.Fatalf("conversationId %v", payload["conversationId"])
	}
}

func TestSendMessageAdminNeedsConversation(t *testing.T) {
	fs := &fakeStore{
		getConversationFn: func(ctx context.Context, conversationID string) (store.Conversation, error) {
			return store.Conversation{ID: conversationID, ParticipantID: "usr_1", IsActive: true}, nil
		},
		ensureConversationFn: func(ctx context.Context, id string, participant store.User) (store.Conversation, error) {
			t.Fatal("admin must never lazily create a conversation")
			return store.Conversation{}, nil
		},
	}
	svc := newTestService(fs)
	admin := Session{UserID: "usr_admin", Role: "admin"}

	_, err := svc.SendMessage(context.Background(), admin, "", "reply")
	wantDomainError(t, err, 422, "VALIDATION_ERROR")

	if _, err := svc.SendMessage(context.Background(), admin, "conv_1", "reply"); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestEditMessageWindow(t *testing.T) {
	message := store.Message{
		ID:             "msg_1",
		ConversationID: "conv_1",
		SenderID:       "usr_1",
		SenderType:     "user",
		Content:        "original",
	}
	fs := &fakeStore{
		getMessageFn: func(ctx context.Context, messageID string) (store.Message, error) {
			return message, nil
		},
	}
	svc := newTestService(fs)
	sender := Session{UserID: "usr_1", Role: "user"}

	// Just inside the window.
	message.CreatedAt = time.Now().Add(-(10*time.Minute - time.Second))
	if _, err := svc.EditMessage(context.Background(), sender, "msg_1", "edited"); err != nil {
		t.Fatalf("edit inside window: %v", err)
	}

	// Just past the window.
	message.CreatedAt = time.Now().Add(-(10*time.Minute + time.Second))
	_, err := svc.EditMessage(context.Background(), sender, "msg_1", "edited")
	wantDomainError(t, err, 403, "EDIT_WINDOW_EXPIRED")

	// The admin is exempt from both the window and ownership.
	admin := Session{UserID: "usr_admin", Role: "admin"}
	message.CreatedAt = time.Now().Add(-48 * time.Hour)
	if _, err := svc.EditMessage(context.Background(), admin, "msg_1", "moderated"); err != nil {
		t.Fatalf("admin edit: %v", err)
	}
}

func TestEditMessageOwnershipRequired(t *testing.T) {
	fs := &fakeStore{
		getMessageFn: func(ctx context.Context, messageID string) (store.Message, error) {
			return store.Message{ID: messageID, SenderID: "usr_other", CreatedAt: time.Now()}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.EditMessage(context.Background(), Session{UserID: "usr_1", Role: "user"}, "msg_1", "hijack")
	wantDomainError(t, err, 403, "FORBIDDEN")
}

func TestMarkReadUsesCallerRole(t *testing.T) {
	var readerType string
	fs := &fakeStore{
		getConversationFn: func(ctx context.Context, conversationID string) (store.Conversation, error) {
			return store.Conversation{ID: conversationID, ParticipantID: "usr_1"}, nil
		},
		markReadFn: func(ctx context.Context, conversationID, reader string) error {
			readerType = reader
			return nil
		},
	}
	svc := newTestService(fs)

	if err := svc.MarkRead(context.Background(), Session{UserID: "usr_1", Role: "user"}, "conv_1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if readerType != "user" {
		t.Fatalf("reader type %q, want user", readerType)
	}

	if err := svc.MarkRead(context.Background(), Session{UserID: "usr_admin", Role: "admin"}, "conv_1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if readerType != "admin" {
		t.Fatalf("reader type %q, want admin", readerType)
	}
}

func TestMarkReadForbiddenForOutsider(t *testing.T) {
	fs := &fakeStore{
		getConversationFn: func(ctx context.Context, conversationID string) (store.Conversation, error) {
			return store.Conversation{ID: conversationID, ParticipantID: "usr_owner"}, nil
		},
	}
	svc := newTestService(fs)

	err := svc.MarkRead(context.Background(), Session{UserID: "usr_intruder", Role: "user"}, "conv_1")
	wantDomainError(t, err, 403, "FORBIDDEN")
}

func TestListMessagesPagination(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var gotLimit int
	fs := &fakeStore{
		getConversationFn: func(ctx context.Context, conversationID string) (store.Conversation, error) {
			return store.Conversation{ID: conversationID, ParticipantID: "usr_1"}, nil
		},
		listMessagesFn: func(ctx context.Context, conversationID string, before *time.Time, limit int) ([]store.Message, error) {
			gotLimit = limit
			// Newest first, one more than the requested page.
			messages := make([]store.Message, 3)
			for i := range messages {
				messages[i] = store.Message{
					ID:        "msg_" + string(rune('a'+i)),
					CreatedAt: base.Add(-time.Duration(i) * time.Minute),
				}
			}
			return messages, nil
		},
	}
	svc := newTestService(fs)
	session := Session{UserID: "usr_1", Role: "user"}

	payload, err := svc.ListMessages(context.Background(), session, "conv_1", "", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if gotLimit != 3 {
		t.Fatalf("store asked for %d rows, want limit+1", gotLimit)
	}
	if payload["hasMore"] != true {
		t.Fatal("expected hasMore")
	}
	items := payload["messages"].([]map[string]any)
	if len(items) != 2 {
		t.Fatalf("got %d messages", len(items))
	}
	// Chronological: the older of the two first.
	first := items[0]["createdAt"].(time.Time)
	second := items[1]["createdAt"].(time.Time)
	if !first.Before(second) {
		t.Fatalf("messages not chronological: %v then %v", first, second)
	}
	if _, ok := payload["nextCursor"]; !ok {
		t.Fatal("expected nextCursor")
	}
}

func TestListMessagesBadCursor(t *testing.T) {
	fs := &fakeStore{
		getConversationFn: func(ctx context.Context, conversationID string) (store.Conversation, error) {
			return store.Conversation{ID: conversationID, ParticipantID: "usr_1"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.ListMessages(context.Background(), Session{UserID: "usr_1", Role: "user"}, "conv_1", "yesterday", 30)
	wantDomainError(t, err, 422, "VALIDATION_ERROR")
}

func TestConversationAdminOperations(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.ListConversations(context.Background(), Session{UserID: "usr_1", Role: "user"})
	wantDomainError(t, err, 403, "FORBIDDEN")

	err = svc.DeactivateConversation(context.Background(), Session{UserID: "usr_1", Role: "user"}, "conv_1")
	wantDomainError(t, err, 403, "FORBIDDEN")

	var deactivated string
	fs := &fakeStore{
		deactivateConvFn: func(ctx context.Context, conversationID string) error {
			deactivated = conversationID
			return nil
		},
	}
	svc = newTestService(fs)
	if err := svc.DeactivateConversation(context.Background(), Session{UserID: "usr_admin", Role: "admin"}, "conv_1"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if deactivated != "conv_1" {
		t.Fatalf("deactivated %q", deactivated)
	}
}

func TestTypingChecksConversationAccess(t *testing.T) {
	fs := &fakeStore{
		getConversationFn: func(ctx context.Context, conversationID string) (store.Conversation, error) {
			return store.Conversation{ID: conversationID, ParticipantID: "usr_owner"}, nil
		},
	}
	svc := newTestService(fs)

	err := svc.SetTyping(context.Background(), Session{UserID: "usr_intruder", Role: "user"}, "conv_1", true)
	wantDomainError(t, err, 403, "FORBIDDEN")

	var set [2]string
	svc.typing = &fakeTyping{
		setFn: func(ctx context.Context, conversationID, role string, isTyping bool) error {
			set = [2]string{conversationID, role}
			return nil
		},
	}
	if err := svc.SetTyping(context.Background(), Session{UserID: "usr_owner", Role: "user"}, "conv_1", true); err != nil {
		t.Fatalf("set typing: %v", err)
	}
	if set != [2]string{"conv_1", "user"} {
		t.Fatalf("set %v", set)
	}
}
