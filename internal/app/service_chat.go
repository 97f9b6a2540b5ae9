package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/IsHereZahin/isherezahin.me-sub002/internal/store"
	"github.com/IsHereZahin/isherezahin.me-sub002/internal/util"
)

const (
	maxMessageLength    = 2000
	defaultMessageLimit = 30
	maxMessageLimit     = 100
)

// conversationForViewer loads a conversation and checks the caller may see
// it: the admin sees all, a user only their own.
func (s *Service) conversationForViewer(ctx context.Context, session Session, conversationID string) (store.Conversation, error) {
	conversation, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return store.Conversation{}, err
	}
	if !session.IsAdmin() && conversation.ParticipantID != session.UserID {
		return store.Conversation{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return conversation, nil
}

// SendMessage appends a message. A user's message lazily creates (or
// reactivates) their single conversation; the admin must address an
// existing one.
func (s *Service) SendMessage(ctx context.Context, session Session, conversationID, content string) (map[string]any, error) {
	if session.IsBanned {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Account is banned", nil)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required", nil)
	}
	if len(content) > maxMessageLength {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content exceeds 2000 characters", nil)
	}

	var conversation store.Conversation
	var err error
	if session.IsAdmin() {
		if conversationID == "" {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "conversationId is required", nil)
		}
		conversation, err = s.store.GetConversation(ctx, conversationID)
		if err != nil {
			return nil, err
		}
	} else {
		// Reject a foreign conversation id before touching any state.
		if conversationID != "" {
			existing, err := s.store.GetConversationByParticipant(ctx, session.UserID)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return nil, err
			}
			if err != nil || conversationID != existing.ID {
				return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			}
		}
		participant := store.User{
			ID:    session.UserID,
			Name:  session.UserName,
			Email: session.Email,
			Image: session.Image,
		}
		conversation, err = s.store.EnsureConversation(ctx, util.NewID("conv"), participant)
		if err != nil {
			return nil, err
		}
	}

	message := store.Message{
		ID:             util.NewID("msg"),
		ConversationID: conversation.ID,
		SenderID:       session.UserID,
		SenderType:     roleOf(session),
		Content:        content,
		CreatedAt:      time.Now(),
	}
	if err := s.store.AppendMessage(ctx, message); err != nil {
		return nil, err
	}

	return messagePayload(message), nil
}

// EditMessage rewrites a message's content, preserving the prior content in
// its edit history. Non-admin editors must own the message and act within
// the edit window.
func (s *Service) EditMessage(ctx context.Context, session Session, messageID, newContent string) (map[string]any, error) {
	newContent = strings.TrimSpace(newContent)
	if newContent == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required", nil)
	}
	if len(newContent) > maxMessageLength {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content exceeds 2000 characters", nil)
	}

	message, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if !session.IsAdmin() {
		if message.SenderID != session.UserID {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only the sender can edit a message", nil)
		}
		if time.Since(message.CreatedAt) > s.cfg.MessageEditWindow {
			return nil, domainError(http.StatusForbidden, "EDIT_WINDOW_EXPIRED", "Messages can only be edited within 10 minutes", nil)
		}
	}

	if err := s.store.EditMessage(ctx, messageID, newContent); err != nil {
		return nil, err
	}

	updated, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	return messagePayload(updated), nil
}

// DeleteMessage soft-deletes a message; sender or admin only.
func (s *Service) DeleteMessage(ctx context.Context, session Session, messageID string) error {
	message, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if !session.IsAdmin() && message.SenderID != session.UserID {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only the sender can delete a message", nil)
	}
	return s.store.SoftDeleteMessage(ctx, messageID)
}

// MarkRead zeroes the caller's unread counter and stamps read receipts on
// the other side's messages.
func (s *Service) MarkRead(ctx context.Context, session Session, conversationID string) error {
	if _, err := s.conversationForViewer(ctx, session, conversationID); err != nil {
		return err
	}
	return s.store.MarkConversationRead(ctx, conversationID, roleOf(session))
}

// ListMessages pages through a conversation backwards from the cursor and
// returns the page in chronological order.
func (s *Service) ListMessages(ctx context.Context, session Session, conversationID, cursor string, limit int) (map[string]any, error) {
	if _, err := s.conversationForViewer(ctx, session, conversationID); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = defaultMessageLimit
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}

	var before *time.Time
	if cursor != "" {
		parsed, err := time.Parse(time.RFC3339Nano, cursor)
		if err != nil {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "cursor must be an RFC 3339 timestamp", nil)
		}
		before = &parsed
	}

	// Over-fetch one row to learn whether an older page exists.
	messages, err := s.store.ListMessages(ctx, conversationID, before, limit+1)
	if err != nil {
		return nil, err
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}

	var nextCursor string
	if hasMore && len(messages) > 0 {
		nextCursor = messages[len(messages)-1].CreatedAt.Format(time.RFC3339Nano)
	}

	// Rows come back newest first; flip to chronological.
	items := make([]map[string]any, 0, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		items = append(items, messagePayload(messages[i]))
	}

	payload := map[string]any{
		"messages": items,
		"hasMore":  hasMore,
	}
	if nextCursor != "" {
		payload["nextCursor"] = nextCursor
	}
	return payload, nil
}

// GetMyConversation returns the caller's conversation with the site owner.
func (s *Service) GetMyConversation(ctx context.Context, session Session) (map[string]any, error) {
	conversation, err := s.store.GetConversationByParticipant(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	return conversationPayload(conversation, roleOf(session)), nil
}

// ListConversations returns every active conversation, most recent activity
// first. Admin only.
func (s *Service) ListConversations(ctx context.Context, session Session) ([]map[string]any, error) {
	if !session.IsAdmin() {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	conversations, err := s.store.ListConversations(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(conversations))
	for _, conversation := range conversations {
		items = append(items, conversationPayload(conversation, "admin"))
	}
	return items, nil
}

// DeactivateConversation soft-deletes a conversation and its messages.
// Admin only.
func (s *Service) DeactivateConversation(ctx context.Context, session Session, conversationID string) error {
	if !session.IsAdmin() {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return s.store.DeactivateConversation(ctx, conversationID)
}

func messagePayload(message store.Message) map[string]any {
	payload := map[string]any{
		"id":             message.ID,
		"conversationId": message.ConversationID,
		"senderId":       message.SenderID,
		"senderType":     message.SenderType,
		"content":        message.Content,
		"isRead":         message.IsRead,
		"isEdited":       message.IsEdited,
		"createdAt":      message.CreatedAt,
	}
	if message.ReadAt != nil {
		payload["readAt"] = message.ReadAt
	}
	if len(message.EditHistory) > 0 {
		payload["editHistory"] = message.EditHistory
	}
	return payload
}

func conversationPayload(conversation store.Conversation, viewerRole string) map[string]any {
	unread := conversation.UnreadCountUser
	if viewerRole == "admin" {
		unread = conversation.UnreadCountAdmin
	}
	payload := map[string]any{
		"id":               conversation.ID,
		"participantId":    conversation.ParticipantID,
		"participantName":  conversation.ParticipantName,
		"participantEmail": conversation.ParticipantEmail,
		"participantImage": conversation.ParticipantImage,
		"lastMessage":      conversation.LastMessage,
		"lastMessageBy":    conversation.LastMessageBy,
		"unreadCount":      unread,
		"createdAt":        conversation.CreatedAt,
	}
	if conversation.LastMessageAt != nil {
		payload["lastMessageAt"] = conversation.LastMessageAt
	}
	return payload
}
