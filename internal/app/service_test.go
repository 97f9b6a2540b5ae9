package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/IsHereZahin/isherezahin.me-sub002/internal/config"
	"github.com/IsHereZahin/isherezahin.me-sub002/internal/presence"
	"github.com/IsHereZahin/isherezahin.me-sub002/internal/search"
	"github.com/IsHereZahin/isherezahin.me-sub002/internal/store"
)

type fakeStore struct {
	getUserByIDFn          func(context.Context, string) (store.User, error)
	upsertProviderUserFn   func(context.Context, store.User) (store.User, error)
	setHideLastSeenFn      func(context.Context, string, bool) error
	setUserBannedFn        func(context.Context, string, bool) error
	createSessionFn        func(context.Context, store.Session) error
	lookupSessionFn        func(context.Context, string) (store.Session, store.User, error)
	touchSessionFn         func(context.Context, string) error
	getSessionFn           func(context.Context, string) (store.Session, error)
	listSessionsFn         func(context.Context, string) ([]store.Session, error)
	revokeSessionFn        func(context.Context, string) error
	revokeSessionByHashFn  func(context.Context, string) error
	getConversationFn      func(context.Context, string) (store.Conversation, error)
	getConvByParticipantFn func(context.Context, string) (store.Conversation, error)
	ensureConversationFn   func(context.Context, string, store.User) (store.Conversation, error)
	listConversationsFn    func(context.Context) ([]store.Conversation, error)
	deactivateConvFn       func(context.Context, string) error
	appendMessageFn        func(context.Context, store.Message) error
	getMessageFn           func(context.Context, string) (store.Message, error)
	listMessagesFn         func(context.Context, string, *time.Time, int) ([]store.Message, error)
	editMessageFn          func(context.Context, string, string) error
	softDeleteMessageFn    func(context.Context, string) error
	markReadFn             func(context.Context, string, string) error
	getContentFn           func(context.Context, string) (store.Content, error)
	getContentBySlugFn     func(context.Context, string, string) (store.Content, error)
	listContentsFn         func(context.Context, string, bool) ([]store.Content, error)
	insertContentFn        func(context.Context, store.Content) error
	updateContentFn        func(context.Context, store.Content) error
	deleteContentFn        func(context.Context, string) error
	incrementViewsFn       func(context.Context, string) error
	addLikeFn              func(context.Context, string, string, store.Identity) (int, error)
	getLikeFn              func(context.Context, string, store.Identity) (store.Like, error)
	getReactionFn          func(context.Context, string, store.Identity) (store.Reaction, error)
	toggleReactionFn       func(context.Context, string, string, store.Identity, string) (string, error)
	listReactionCountsFn   func(context.Context, string) ([]store.ReactionCount, error)
	recordShareFn          func(context.Context, string, string, store.Identity) (bool, error)
	mergeDeviceFn          func(context.Context, string, string) error
	upsertSubscriberFn     func(context.Context, string, string) (store.Subscriber, error)
	deactivateSubFn        func(context.Context, string) error
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{ID: userID}, nil
}
func (f *fakeStore) UpsertProviderUser(ctx context.Context, user store.User) (store.User, error) {
	if f.upsertProviderUserFn != nil {
		return f.upsertProviderUserFn(ctx, user)
	}
	return user, nil
}
func (f *fakeStore) SetHideLastSeen(ctx context.Context, userID string, hide bool) error {
	if f.setHideLastSeenFn != nil {
		return f.setHideLastSeenFn(ctx, userID, hide)
	}
	return nil
}
func (f *fakeStore) SetUserBanned(ctx context.Context, userID string, banned bool) error {
	if f.setUserBannedFn != nil {
		return f.setUserBannedFn(ctx, userID, banned)
	}
	return nil
}
func (f *fakeStore) CreateSession(ctx context.Context, session store.Session) error {
	if f.createSessionFn != nil {
		return f.createSessionFn(ctx, session)
	}
	return nil
}
func (f *fakeStore) LookupSession(ctx context.Context, tokenHash string) (store.Session, store.User, error) {
	if f.lookupSessionFn != nil {
		return f.lookupSessionFn(ctx, tokenHash)
	}
	return store.Session{}, store.User{}, sql.ErrNoRows
}
func (f *fakeStore) TouchSession(ctx context.Context, sessionID string) error {
	if f.touchSessionFn != nil {
		return f.touchSessionFn(ctx, sessionID)
	}
	return nil
}
func (f *fakeStore) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	if f.getSessionFn != nil {
		return f.getSessionFn(ctx, sessionID)
	}
	return store.Session{}, sql.ErrNoRows
}
func (f *fakeStore) ListSessions(ctx context.Context, userID string) ([]store.Session, error) {
	if f.listSessionsFn != nil {
		return f.listSessionsFn(ctx, userID)
	}
	return nil, nil
}
func (f *fakeStore) RevokeSession(ctx context.Context, sessionID string) error {
	if f.revokeSessionFn != nil {
		return f.revokeSessionFn(ctx, sessionID)
	}
	return nil
}
func (f *fakeStore) RevokeSessionByHash(ctx context.Context, tokenHash string) error {
	if f.revokeSessionByHashFn != nil {
		return f.revokeSessionByHashFn(ctx, tokenHash)
	}
	return nil
}
func (f *fakeStore) GetConversation(ctx context.Context, conversationID string) (store.Conversation, error) {
	if f.getConversationFn != nil {
		return f.getConversationFn(ctx, conversationID)
	}
	return store.Conversation{}, sql.ErrNoRows
}
func (f *fakeStore) GetConversationByParticipant(ctx context.Context, participantID string) (store.Conversation, error) {
	if f.getConvByParticipantFn != nil {
		return f.getConvByParticipantFn(ctx, participantID)
	}
	return store.Conversation{}, sql.ErrNoRows
}
func (f *fakeStore) EnsureConversation(ctx context.Context, id string, participant store.User) (store.Conversation, error) {
	if f.ensureConversationFn != nil {
		return f.ensureConversationFn(ctx, id, participant)
	}
	return store.Conversation{ID: id, ParticipantID: participant.ID, IsActive: true}, nil
}
func (f *fakeStore) ListConversations(ctx context.Context) ([]store.Conversation, error) {
	if f.listConversationsFn != nil {
		return f.listConversationsFn(ctx)
	}
	return nil, nil
}
func (f *fakeStore) DeactivateConversation(ctx context.Context, conversationID string) error {
	if f.deactivateConvFn != nil {
		return f.deactivateConvFn(ctx, conversationID)
	}
	return nil
}
func (f *fakeStore) AppendMessage(ctx context.Context, message store.Message) error {
	if f.appendMessageFn != nil {
		return f.appendMessageFn(ctx, message)
	}
	return nil
}
func (f *fakeStore) GetMessage(ctx context.Context, messageID string) (store.Message, error) {
	if f.getMessageFn != nil {
		return f.getMessageFn(ctx, messageID)
	}
	return store.Message{}, sql.ErrNoRows
}
func (f *fakeStore) ListMessages(ctx context.Context, conversationID string, before *time.Time, limit int) ([]store.Message, error) {
	if f.listMessagesFn != nil {
		return f.listMessagesFn(ctx, conversationID, before, limit)
	}
	return nil, nil
}
func (f *fakeStore) EditMessage(ctx context.Context, messageID, newContent string) error {
	if f.editMessageFn != nil {
		return f.editMessageFn(ctx, messageID, newContent)
	}
	return nil
}
func (f *fakeStore) SoftDeleteMessage(ctx context.Context, messageID string) error {
	if f.softDeleteMessageFn != nil {
		return f.softDeleteMessageFn(ctx, messageID)
	}
	return nil
}
func (f *fakeStore) MarkConversationRead(ctx context.Context, conversationID, readerType string) error {
	if f.markReadFn != nil {
		return f.markReadFn(ctx, conversationID, readerType)
	}
	return nil
}
func (f *fakeStore) GetContent(ctx context.Context, contentID string) (store.Content, error) {
	if f.getContentFn != nil {
		return f.getContentFn(ctx, contentID)
	}
	return store.Content{}, sql.ErrNoRows
}
func (f *fakeStore) GetContentBySlug(ctx context.Context, kind, slug string) (store.Content, error) {
	if f.getContentBySlugFn != nil {
		return f.getContentBySlugFn(ctx, kind, slug)
	}
	return store.Content{}, sql.ErrNoRows
}
func (f *fakeStore) ListContents(ctx context.Context, kind string, publishedOnly bool) ([]store.Content, error) {
	if f.listContentsFn != nil {
		return f.listContentsFn(ctx, kind, publishedOnly)
	}
	return nil, nil
}
func (f *fakeStore) InsertContent(ctx context.Context, item store.Content) error {
	if f.insertContentFn != nil {
		return f.insertContentFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) UpdateContent(ctx context.Context, item store.Content) error {
	if f.updateContentFn != nil {
		return f.updateContentFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) DeleteContent(ctx context.Context, contentID string) error {
	if f.deleteContentFn != nil {
		return f.deleteContentFn(ctx, contentID)
	}
	return nil
}
func (f *fakeStore) IncrementContentViews(ctx context.Context, contentID string) error {
	if f.incrementViewsFn != nil {
		return f.incrementViewsFn(ctx, contentID)
	}
	return nil
}
func (f *fakeStore) AddLike(ctx context.Context, likeID, contentID string, identity store.Identity) (int, error) {
	if f.addLikeFn != nil {
		return f.addLikeFn(ctx, likeID, contentID, identity)
	}
	return 1, nil
}
func (f *fakeStore) GetLike(ctx context.Context, contentID string, identity store.Identity) (store.Like, error) {
	if f.getLikeFn != nil {
		return f.getLikeFn(ctx, contentID, identity)
	}
	return store.Like{}, sql.ErrNoRows
}
func (f *fakeStore) GetReaction(ctx context.Context, contentID string, identity store.Identity) (store.Reaction, error) {
	if f.getReactionFn != nil {
		return f.getReactionFn(ctx, contentID, identity)
	}
	return store.Reaction{}, sql.ErrNoRows
}
func (f *fakeStore) ToggleReaction(ctx context.Context, reactionID, contentID string, identity store.Identity, reactionType string) (string, error) {
	if f.toggleReactionFn != nil {
		return f.toggleReactionFn(ctx, reactionID, contentID, identity, reactionType)
	}
	return reactionType, nil
}
func (f *fakeStore) ListReactionCounts(ctx context.Context, contentID string) ([]store.ReactionCount, error) {
	if f.listReactionCountsFn != nil {
		return f.listReactionCountsFn(ctx, contentID)
	}
	return nil, nil
}
func (f *fakeStore) RecordShare(ctx context.Context, shareID, contentID string, identity store.Identity) (bool, error) {
	if f.recordShareFn != nil {
		return f.recordShareFn(ctx, shareID, contentID, identity)
	}
	return true, nil
}
func (f *fakeStore) MergeDeviceEngagement(ctx context.Context, userID, deviceID string) error {
	if f.mergeDeviceFn != nil {
		return f.mergeDeviceFn(ctx, userID, deviceID)
	}
	return nil
}
func (f *fakeStore) UpsertSubscriber(ctx context.Context, id, email string) (store.Subscriber, error) {
	if f.upsertSubscriberFn != nil {
		return f.upsertSubscriberFn(ctx, id, email)
	}
	return store.Subscriber{ID: id, Email: email, IsActive: true}, nil
}
func (f *fakeStore) DeactivateSubscriber(ctx context.Context, email string) error {
	if f.deactivateSubFn != nil {
		return f.deactivateSubFn(ctx, email)
	}
	return nil
}

type fakeTracker struct {
	heartbeatFn func(context.Context, string, bool) error
	readFn      func(context.Context, string) (presence.Status, error)
}

func (f *fakeTracker) Heartbeat(ctx context.Context, userID string, online bool) error {
	if f.heartbeatFn != nil {
		return f.heartbeatFn(ctx, userID, online)
	}
	return nil
}
func (f *fakeTracker) Read(ctx context.Context, userID string) (presence.Status, error) {
	if f.readFn != nil {
		return f.readFn(ctx, userID)
	}
	return presence.Status{}, nil
}
func (f *fakeTracker) Ping(context.Context) error { return nil }

type fakeTyping struct {
	setFn   func(context.Context, string, string, bool) error
	otherFn func(context.Context, string, string) (bool, error)
}

func (f *fakeTyping) Set(ctx context.Context, conversationID, role string, isTyping bool) error {
	if f.setFn != nil {
		return f.setFn(ctx, conversationID, role, isTyping)
	}
	return nil
}
func (f *fakeTyping) OtherTyping(ctx context.Context, conversationID, viewerRole string) (bool, error) {
	if f.otherFn != nil {
		return f.otherFn(ctx, conversationID, viewerRole)
	}
	return false, nil
}

type fakeSearch struct {
	searchFn func(search.Query) search.Response
	indexed  []search.ContentRecord
	deleted  []string
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	if f.searchFn != nil {
		return f.searchFn(q)
	}
	return search.Response{Results: []search.Result{}, Query: q.Text}
}
func (f *fakeSearch) IndexContent(rec search.ContentRecord) { f.indexed = append(f.indexed, rec) }
func (f *fakeSearch) DeleteContent(id string)               { f.deleted = append(f.deleted, id) }

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg:      config.Load(),
		store:    fs,
		presence: &fakeTracker{},
		typing:   &fakeTyping{},
		search:   &fakeSearch{},
	}
}

func wantDomainError(t *testing.T, err error, status int, code string) {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("got %v, want *DomainError %s", err, code)
	}
	if domainErr.Status != status || domainErr.Code != code {
		t.Fatalf("got %d/%s, want %d/%s", domainErr.Status, domainErr.Code, status, code)
	}
}

func TestCreateSessionMergesDeviceEngagement(t *testing.T) {
	var merged [2]string
	var created store.Session
	fs := &fakeStore{
		createSessionFn: func(ctx context.Context, session store.Session) error {
			created = session
			return nil
		},
		mergeDeviceFn: func(ctx context.Context, userID, deviceID string) error {
			merged = [2]string{userID, deviceID}
			return nil
		},
	}
	svc := newTestService(fs)

	session, err := svc.CreateSession(context.Background(), store.User{ID: "usr_1", Name: "Visitor", Role: "user"}, "mobile", "203.0.113.9", "dev_abc")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.Token == "" {
		t.Fatal("expected a token")
	}
	if created.TokenHash == session.Token {
		t.Fatal("token must be stored hashed, not raw")
	}
	if created.DeviceType != "mobile" {
		t.Fatalf("got device type %q", created.DeviceType)
	}
	if merged != [2]string{"usr_1", "dev_abc"} {
		t.Fatalf("expected device engagement merge, got %v", merged)
	}
}

func TestCreateSessionSkipsMergeWithoutDeviceID(t *testing.T) {
	fs := &fakeStore{
		mergeDeviceFn: func(ctx context.Context, userID, deviceID string) error {
			t.Fatal("merge should not run without a device id")
			return nil
		},
	}
	svc := newTestService(fs)

	if _, err := svc.CreateSession(context.Background(), store.User{ID: "usr_1"}, "desktop", "", ""); err != nil {
		t.Fatalf("create session: %v", err)
	}
}

func TestSessionFromTokenFailsClosed(t *testing.T) {
	fs := &fakeStore{
		lookupSessionFn: func(ctx context.Context, tokenHash string) (store.Session, store.User, error) {
			return store.Session{}, store.User{}, errors.New("connection refused")
		},
	}
	svc := newTestService(fs)

	if _, err := svc.SessionFromToken(context.Background(), "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"); err == nil {
		t.Fatal("expected failure on store error")
	}
	if _, err := svc.SessionFromToken(context.Background(), "not a token"); err == nil {
		t.Fatal("expected failure on malformed token")
	}
}

func TestRevokeSessionOwnership(t *testing.T) {
	fs := &fakeStore{
		getSessionFn: func(ctx context.Context, sessionID string) (store.Session, error) {
			return store.Session{ID: sessionID, UserID: "usr_other"}, nil
		},
	}
	svc := newTestService(fs)
	session := Session{SessionID: "ses_current", UserID: "usr_1"}

	err := svc.RevokeSession(context.Background(), session, "ses_2")
	wantDomainError(t, err, 403, "FORBIDDEN")
}

func TestRevokeCurrentSessionRejected(t *testing.T) {
	fs := &fakeStore{
		getSessionFn: func(ctx context.Context, sessionID string) (store.Session, error) {
			return store.Session{ID: sessionID, UserID: "usr_1"}, nil
		},
	}
	svc := newTestService(fs)
	session := Session{SessionID: "ses_current", UserID: "usr_1"}

	err := svc.RevokeSession(context.Background(), session, "ses_current")
	wantDomainError(t, err, 409, "INVALID_OPERATION")

	// Another of the same user's sessions revokes fine.
	var revoked string
	fs.revokeSessionFn = func(ctx context.Context, sessionID string) error {
		revoked = sessionID
		return nil
	}
	if err := svc.RevokeSession(context.Background(), session, "ses_other"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if revoked != "ses_other" {
		t.Fatalf("revoked %q", revoked)
	}
}

func TestReadPresenceHidesLastSeen(t *testing.T) {
	lastSeen := time.Now().Add(-10 * time.Second)
	fs := &fakeStore{
		getUserByIDFn: func(ctx context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, HideLastSeen: true}, nil
		},
	}
	svc := newTestService(fs)
	svc.presence = &fakeTracker{
		readFn: func(ctx context.Context, userID string) (presence.Status, error) {
			return presence.Status{Online: true, LastSeen: &lastSeen}, nil
		},
	}

	viewer := Session{UserID: "usr_viewer", Role: "user"}
	payload, err := svc.ReadPresence(context.Background(), viewer, "usr_hidden")
	if err != nil {
		t.Fatalf("read presence: %v", err)
	}
	if payload["isOnline"] != false {
		t.Fatal("hidden presence must report offline")
	}
	if payload["lastSeen"] != nil {
		t.Fatal("hidden presence must report null lastSeen")
	}

	// Admin and the user themselves still see the tracked state.
	for _, privileged := range []Session{{UserID: "usr_admin", Role: "admin"}, {UserID: "usr_hidden", Role: "user"}} {
		payload, err := svc.ReadPresence(context.Background(), privileged, "usr_hidden")
		if err != nil {
			t.Fatalf("read presence: %v", err)
		}
		if payload["isOnline"] != true {
			t.Fatalf("privileged viewer %s should see online", privileged.UserID)
		}
	}
}

func TestBanUserAdminOnly(t *testing.T) {
	svc := newTestService(&fakeStore{})

	err := svc.BanUser(context.Background(), Session{UserID: "usr_1", Role: "user"}, "usr_2", true)
	wantDomainError(t, err, 403, "FORBIDDEN")

	err = svc.BanUser(context.Background(), Session{UserID: "usr_admin", Role: "admin"}, "usr_admin", true)
	wantDomainError(t, err, 409, "INVALID_OPERATION")

	if err := svc.BanUser(context.Background(), Session{UserID: "usr_admin", Role: "admin"}, "usr_2", true); err != nil {
		t.Fatalf("ban: %v", err)
	}
}
