package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/IsHereZahin/isherezahin.me-sub002/internal/auth"
	"github.com/IsHereZahin/isherezahin.me-sub002/internal/authpw"
	"github.com/IsHereZahin/isherezahin.me-sub002/internal/config"
	"github.com/IsHereZahin/isherezahin.me-sub002/internal/oauth"
	"github.com/IsHereZahin/isherezahin.me-sub002/internal/presence"
	"github.com/IsHereZahin/isherezahin.me-sub002/internal/search"
	"github.com/IsHereZahin/isherezahin.me-sub002/internal/store"
	"github.com/IsHereZahin/isherezahin.me-sub002/internal/util"
)

// Session is the request-scoped view of an authenticated visitor.
type Session struct {
	Token        string
	SessionID    string
	UserID       string
	UserName     string
	Email        string
	Image        string
	Role         string
	DeviceType   string
	IsBanned     bool
	HideLastSeen bool
	ExpiresAt    time.Time
}

func (s Session) IsAdmin() bool {
	return s.Role == "admin"
}

var allowedDeviceTypes = map[string]struct{}{
	"mobile":  {},
	"tablet":  {},
	"desktop": {},
}

var allowedReactionTypes = map[string]struct{}{
	"love":     {},
	"fire":     {},
	"clap":     {},
	"thinking": {},
}

type dataStore interface {
	Ping(ctx context.Context) error

	GetUserByID(ctx context.Context, userID string) (store.User, error)
	UpsertProviderUser(ctx context.Context, user store.User) (store.User, error)
	SetHideLastSeen(ctx context.Context, userID string, hide bool) error
	SetUserBanned(ctx context.Context, userID string, banned bool) error

	CreateSession(ctx context.Context, session store.Session) error
	LookupSession(ctx context.Context, tokenHash string) (store.Session, store.User, error)
	TouchSession(ctx context.Context, sessionID string) error
	GetSession(ctx context.Context, sessionID string) (store.Session, error)
	ListSessions(ctx context.Context, userID string) ([]store.Session, error)
	RevokeSession(ctx context.Context, sessionID string) error
	RevokeSessionByHash(ctx context.Context, tokenHash string) error

	GetConversation(ctx context.Context, conversationID string) (store.Conversation, error)
	GetConversationByParticipant(ctx context.Context, participantID string) (store.Conversation, error)
	EnsureConversation(ctx context.Context, id string, participant store.User) (store.Conversation, error)
	ListConversations(ctx context.Context) ([]store.Conversation, error)
	DeactivateConversation(ctx context.Context, conversationID string) error
	AppendMessage(ctx context.Context, message store.Message) error
	GetMessage(ctx context.Context, messageID string) (store.Message, error)
	ListMessages(ctx context.Context, conversationID string, before *time.Time, limit int) ([]store.Message, error)
	EditMessage(ctx context.Context, messageID, newContent string) error
	SoftDeleteMessage(ctx context.Context, messageID string) error
	MarkConversationRead(ctx context.Context, conversationID, readerType string) error

	GetContent(ctx context.Context, contentID string) (store.Content, error)
	GetContentBySlug(ctx context.Context, kind, slug string) (store.Content, error)
	ListContents(ctx context.Context, kind string, publishedOnly bool) ([]store.Content, error)
	InsertContent(ctx context.Context, item store.Content) error
	UpdateContent(ctx context.Context, item store.Content) error
	DeleteContent(ctx context.Context, contentID string) error
	IncrementContentViews(ctx context.Context, contentID string) error

	AddLike(ctx context.Context, likeID, contentID string, identity store.Identity) (int, error)
	GetLike(ctx context.Context, contentID string, identity store.Identity) (store.Like, error)
	GetReaction(ctx context.Context, contentID string, identity store.Identity) (store.Reaction, error)
	ToggleReaction(ctx context.Context, reactionID, contentID string, identity store.Identity, reactionType string) (string, error)
	ListReactionCounts(ctx context.Context, contentID string) ([]store.ReactionCount, error)
	RecordShare(ctx context.Context, shareID, contentID string, identity store.Identity) (bool, error)
	MergeDeviceEngagement(ctx context.Context, userID, deviceID string) error

	UpsertSubscriber(ctx context.Context, id, email string) (store.Subscriber, error)
	DeactivateSubscriber(ctx context.Context, email string) error
}

type presenceTracker interface {
	Heartbeat(ctx context.Context, userID string, online bool) error
	Read(ctx context.Context, userID string) (presence.Status, error)
	Ping(ctx context.Context) error
}

type typingStore interface {
	Set(ctx context.Context, conversationID, role string, isTyping bool) error
	OtherTyping(ctx context.Context, conversationID, viewerRole string) (bool, error)
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexContent(rec search.ContentRecord)
	DeleteContent(id string)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	presence presenceTracker
	typing   typingStore
	search   searchService
	authpw   *authpw.Service
	oauth    *oauth.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, tracker *presence.Tracker, typing *presence.TypingStore, searchSvc *search.Service, authpwSvc *authpw.Service, oauthSvc *oauth.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		presence: tracker,
		typing:   typing,
		search:   searchSvc,
		authpw:   authpwSvc,
		oauth:    oauthSvc,
	}
}

// Bootstrap seeds the admin account.
func (s *Service) Bootstrap(ctx context.Context) error {
	return s.authpw.SeedAdmin(ctx, s.cfg.AdminEmail, s.cfg.AdminPassword, s.cfg.AdminName)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingPresence(ctx context.Context) error {
	return s.presence.Ping(ctx)
}

// CreateSession issues a fresh session for the user, displacing any live
// session on the same device type, and folds anonymous engagement into the
// account when the client sent a device id.
func (s *Service) CreateSession(ctx context.Context, user store.User, deviceType, ipAddress, deviceID string) (Session, error) {
	if _, ok := allowedDeviceTypes[deviceType]; !ok {
		deviceType = "desktop"
	}

	token, err := auth.NewToken()
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}

	now := time.Now()
	record := store.Session{
		ID:           util.NewID("ses"),
		UserID:       user.ID,
		TokenHash:    auth.HashToken(token),
		DeviceType:   deviceType,
		IPAddress:    ipAddress,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(s.cfg.SessionTTL),
	}
	if err := s.store.CreateSession(ctx, record); err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}

	if deviceID != "" {
		if err := s.store.MergeDeviceEngagement(ctx, user.ID, deviceID); err != nil {
			log.Printf("app: merge device engagement for %s: %v", user.ID, err)
		}
	}

	return Session{
		Token:        token,
		SessionID:    record.ID,
		UserID:       user.ID,
		UserName:     user.Name,
		Email:        user.Email,
		Image:        user.Image,
		Role:         user.Role,
		DeviceType:   deviceType,
		IsBanned:     user.IsBanned,
		HideLastSeen: user.HideLastSeen,
		ExpiresAt:    record.ExpiresAt,
	}, nil
}

// SessionFromToken resolves a bearer token. Unknown, revoked and expired
// sessions all fail the same way.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	if err := auth.ValidateShape(token); err != nil {
		return Session{}, auth.ErrInvalidToken
	}

	// Fail closed: any lookup failure invalidates the session.
	record, user, err := s.store.LookupSession(ctx, auth.HashToken(token))
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}

	if err := s.store.TouchSession(ctx, record.ID); err != nil {
		log.Printf("app: touch session %s: %v", record.ID, err)
	}

	return Session{
		Token:        token,
		SessionID:    record.ID,
		UserID:       user.ID,
		UserName:     user.Name,
		Email:        user.Email,
		Image:        user.Image,
		Role:         user.Role,
		DeviceType:   record.DeviceType,
		IsBanned:     user.IsBanned,
		HideLastSeen: user.HideLastSeen,
		ExpiresAt:    record.ExpiresAt,
	}, nil
}

func (s *Service) ListSessions(ctx context.Context, session Session) ([]map[string]any, error) {
	sessions, err := s.store.ListSessions(ctx, session.UserID)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(sessions))
	for _, record := range sessions {
		items = append(items, map[string]any{
			"id":           record.ID,
			"deviceType":   record.DeviceType,
			"ipAddress":    record.IPAddress,
			"createdAt":    record.CreatedAt,
			"lastActiveAt": record.LastActiveAt,
			"expiresAt":    record.ExpiresAt,
			"current":      record.ID == session.SessionID,
		})
	}
	return items, nil
}

// RevokeSession revokes one of the requester's other sessions. The current
// session cannot be revoked here; that path is Logout.
func (s *Service) RevokeSession(ctx context.Context, session Session, sessionID string) error {
	target, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if target.UserID != session.UserID {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Session belongs to another user", nil)
	}
	if target.ID == session.SessionID {
		return domainError(http.StatusConflict, "INVALID_OPERATION", "Cannot revoke the current session, use logout", nil)
	}
	return s.store.RevokeSession(ctx, sessionID)
}

func (s *Service) Logout(ctx context.Context, token string) error {
	if err := auth.ValidateShape(token); err != nil {
		return nil
	}
	return s.store.RevokeSessionByHash(ctx, auth.HashToken(token))
}

// PasswordSignIn authenticates the admin with email and password.
func (s *Service) PasswordSignIn(ctx context.Context, email, password, deviceType, ipAddress, deviceID string) (Session, error) {
	user, err := s.authpw.SignIn(ctx, email, password)
	if err != nil {
		if errors.Is(err, authpw.ErrInvalidCredentials) {
			return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Invalid email or password", nil)
		}
		return Session{}, err
	}
	return s.CreateSession(ctx, user, deviceType, ipAddress, deviceID)
}

func (s *Service) OAuthURL(provider, state string) (string, error) {
	url, err := s.oauth.AuthURL(provider, state)
	if err != nil {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Unknown provider", nil)
	}
	return url, nil
}

// OAuthSignIn completes the authorization-code flow for GitHub or Google and
// issues a session for the upserted account.
func (s *Service) OAuthSignIn(ctx context.Context, provider, code, deviceType, ipAddress, deviceID string) (Session, error) {
	if strings.TrimSpace(code) == "" {
		return Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "code is required", nil)
	}

	profile, err := s.oauth.Exchange(ctx, provider, code)
	if err != nil {
		if errors.Is(err, oauth.ErrUnknownProvider) {
			return Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Unknown provider", nil)
		}
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Sign-in failed", nil)
	}

	user, err := s.store.UpsertProviderUser(ctx, store.User{
		ID:         util.NewID("usr"),
		Name:       profile.Name,
		Email:      profile.Email,
		Image:      profile.Image,
		Role:       "user",
		Provider:   profile.Provider,
		ProviderID: profile.ProviderID,
	})
	if err != nil {
		return Session{}, fmt.Errorf("upsert provider user: %w", err)
	}

	return s.CreateSession(ctx, user, deviceType, ipAddress, deviceID)
}

// Heartbeat records the caller's liveness signal.
func (s *Service) Heartbeat(ctx context.Context, session Session, online bool) error {
	return s.presence.Heartbeat(ctx, session.UserID, online)
}

// ReadPresence derives a user's displayed presence. When the user hides
// their last-seen time, non-privileged viewers get null and offline while
// the tracked state stays intact.
func (s *Service) ReadPresence(ctx context.Context, viewer Session, userID string) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	status, err := s.presence.Read(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read presence: %w", err)
	}

	privileged := viewer.IsAdmin() || viewer.UserID == userID
	if user.HideLastSeen && !privileged {
		return map[string]any{
			"userId":   userID,
			"isOnline": false,
			"lastSeen": nil,
		}, nil
	}

	payload := map[string]any{
		"userId":   userID,
		"isOnline": status.Online,
	}
	if status.LastSeen != nil {
		payload["lastSeen"] = status.LastSeen
	} else {
		payload["lastSeen"] = nil
	}
	return payload, nil
}

func (s *Service) SetHideLastSeen(ctx context.Context, session Session, hide bool) error {
	return s.store.SetHideLastSeen(ctx, session.UserID, hide)
}

// SetTyping flags the caller's role as typing in a conversation.
func (s *Service) SetTyping(ctx context.Context, session Session, conversationID string, isTyping bool) error {
	if _, err := s.conversationForViewer(ctx, session, conversationID); err != nil {
		return err
	}
	return s.typing.Set(ctx, conversationID, roleOf(session), isTyping)
}

// GetTyping reports whether the other side of the conversation is typing.
func (s *Service) GetTyping(ctx context.Context, session Session, conversationID string) (map[string]any, error) {
	if _, err := s.conversationForViewer(ctx, session, conversationID); err != nil {
		return nil, err
	}
	typing, err := s.typing.OtherTyping(ctx, conversationID, roleOf(session))
	if err != nil {
		return nil, fmt.Errorf("read typing: %w", err)
	}
	return map[string]any{"isTyping": typing}, nil
}

// BanUser lets the admin ban or unban a visitor.
func (s *Service) BanUser(ctx context.Context, session Session, userID string, banned bool) error {
	if !session.IsAdmin() {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if userID == session.UserID {
		return domainError(http.StatusConflict, "INVALID_OPERATION", "Cannot ban yourself", nil)
	}
	return s.store.SetUserBanned(ctx, userID, banned)
}

func roleOf(session Session) string {
	if session.IsAdmin() {
		return "admin"
	}
	return "user"
}
