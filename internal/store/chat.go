package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const conversationColumns = `id, participant_id, participant_name, participant_email, participant_image,
	last_message, last_message_at, last_message_by, unread_count_user, unread_count_admin,
	is_active, created_at, updated_at`

func scanConversation(row interface{ Scan(dest ...any) error }) (Conversation, error) {
	var c Conversation
	err := row.Scan(
		&c.ID, &c.ParticipantID, &c.ParticipantName, &c.ParticipantEmail, &c.ParticipantImage,
		&c.LastMessage, &c.LastMessageAt, &c.LastMessageBy, &c.UnreadCountUser, &c.UnreadCountAdmin,
		&c.IsActive, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

func (s *PostgresStore) GetConversation(ctx context.Context, conversationID string) (Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, conversationID)
	return scanConversation(row)
}

func (s *PostgresStore) GetConversationByParticipant(ctx context.Context, participantID string) (Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE participant_id=$1`, participantID)
	return scanConversation(row)
}

// EnsureConversation returns the participant's sole conversation, creating it
// on first contact and reactivating it if the admin had soft-deleted it.
func (s *PostgresStore) EnsureConversation(ctx context.Context, id string, participant User) (Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO conversations (id, participant_id, participant_name, participant_email, participant_image)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (participant_id) DO UPDATE SET
			is_active=TRUE,
			participant_name=EXCLUDED.participant_name,
			participant_email=EXCLUDED.participant_email,
			participant_image=EXCLUDED.participant_image,
			updated_at=NOW()
		RETURNING `+conversationColumns+`
	`, id, participant.ID, participant.Name, participant.Email, participant.Image)
	return scanConversation(row)
}

func (s *PostgresStore) ListConversations(ctx context.Context) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE is_active=TRUE
		ORDER BY last_message_at DESC NULLS LAST, updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	conversations := make([]Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conversations = append(conversations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return conversations, nil
}

// DeactivateConversation soft-deletes a conversation and cascades the soft
// delete to its messages.
func (s *PostgresStore) DeactivateConversation(ctx context.Context, conversationID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin deactivate conversation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE conversations SET is_active=FALSE, updated_at=NOW() WHERE id=$1
	`, conversationID)
	if err != nil {
		return fmt.Errorf("deactivate conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate conversation rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE messages SET is_deleted=TRUE WHERE conversation_id=$1
	`, conversationID); err != nil {
		return fmt.Errorf("soft delete messages: %w", err)
	}

	return tx.Commit()
}

// AppendMessage inserts a message and maintains the conversation's
// denormalized last-message fields plus the other side's unread counter,
// atomically.
func (s *PostgresStore) AppendMessage(ctx context.Context, message Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append message: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, sender_type, content)
		VALUES ($1, $2, $3, $4, $5)
	`, message.ID, message.ConversationID, message.SenderID, message.SenderType, message.Content); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	unreadColumn := "unread_count_admin"
	if message.SenderType == "admin" {
		unreadColumn = "unread_count_user"
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations
		SET last_message=$2, last_message_at=NOW(), last_message_by=$3,
			`+unreadColumn+` = `+unreadColumn+` + 1,
			updated_at=NOW()
		WHERE id=$1
	`, message.ConversationID, message.Content, message.SenderType); err != nil {
		return fmt.Errorf("update conversation tail: %w", err)
	}

	return tx.Commit()
}

const messageColumns = `id, conversation_id, sender_id, sender_type, content, is_read, read_at, is_edited, edit_history, is_deleted, created_at`

func scanMessage(row interface{ Scan(dest ...any) error }) (Message, error) {
	var m Message
	var history []byte
	err := row.Scan(
		&m.ID, &m.ConversationID, &m.SenderID, &m.SenderType, &m.Content,
		&m.IsRead, &m.ReadAt, &m.IsEdited, &history, &m.IsDeleted, &m.CreatedAt,
	)
	if err != nil {
		return Message{}, err
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &m.EditHistory); err != nil {
			return Message{}, fmt.Errorf("decode edit history: %w", err)
		}
	}
	return m, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, messageID string) (Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id=$1 AND is_deleted=FALSE`, messageID)
	return scanMessage(row)
}

// ListMessages pages backwards from the cursor; callers get newest-first and
// reverse to chronological. One extra row signals more pages.
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string, before *time.Time, limit int) ([]Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id=$1 AND is_deleted=FALSE`
	args := []any{conversationID}
	if before != nil {
		query += ` AND created_at < $2`
		args = append(args, *before)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// EditMessage pushes the pre-edit content onto edit_history and replaces the
// content in one statement.
func (s *PostgresStore) EditMessage(ctx context.Context, messageID, newContent string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET edit_history = edit_history || jsonb_build_array(jsonb_build_object('content', content, 'editedAt', NOW())),
			content=$2, is_edited=TRUE
		WHERE id=$1 AND is_deleted=FALSE
	`, messageID, newContent)
	if err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("edit message rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) SoftDeleteMessage(ctx context.Context, messageID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET is_deleted=TRUE WHERE id=$1 AND is_deleted=FALSE`, messageID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete message rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkConversationRead zeroes the reader's unread counter and stamps unread
// messages sent by the opposite side.
func (s *PostgresStore) MarkConversationRead(ctx context.Context, conversationID, readerType string) error {
	if readerType != "user" && readerType != "admin" {
		return errors.New("invalid reader type")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark read: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	unreadColumn := "unread_count_user"
	otherType := "admin"
	if readerType == "admin" {
		unreadColumn = "unread_count_admin"
		otherType = "user"
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET `+unreadColumn+`=0, updated_at=NOW() WHERE id=$1
	`, conversationID); err != nil {
		return fmt.Errorf("zero unread counter: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE messages SET is_read=TRUE, read_at=NOW()
		WHERE conversation_id=$1 AND sender_type=$2 AND is_read=FALSE AND is_deleted=FALSE
	`, conversationID, otherType); err != nil {
		return fmt.Errorf("mark messages read: %w", err)
	}

	return tx.Commit()
}
