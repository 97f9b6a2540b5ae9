package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const userColumns = `id, name, email, image, role, password_hash, provider, provider_id, is_banned, hide_last_seen, created_at, updated_at`

func scanUser(row interface{ Scan(dest ...any) error }) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Image, &u.Role, &u.PasswordHash, &u.Provider, &u.ProviderID, &u.IsBanned, &u.HideLastSeen, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID)
	return scanUser(row)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, email)
	return scanUser(row)
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, image, role, password_hash, provider, provider_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, user.ID, user.Name, user.Email, user.Image, user.Role, user.PasswordHash, user.Provider, user.ProviderID)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// UpsertProviderUser finds-or-creates the account behind an OAuth identity.
// Profile fields refresh on every sign-in so the snapshot stays current.
func (s *PostgresStore) UpsertProviderUser(ctx context.Context, user User) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE provider=$1 AND provider_id=$2
	`, user.Provider, user.ProviderID)
	existing, err := scanUser(row)
	if err == nil {
		updated := s.db.QueryRowContext(ctx, `
			UPDATE users SET name=$2, image=$3, updated_at=NOW()
			WHERE id=$1
			RETURNING `+userColumns+`
		`, existing.ID, user.Name, user.Image)
		return scanUser(updated)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup provider user: %w", err)
	}

	inserted := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, name, email, image, role, provider, provider_id)
		VALUES ($1, $2, $3, $4, 'user', $5, $6)
		ON CONFLICT (email) DO UPDATE SET
			name=EXCLUDED.name, image=EXCLUDED.image,
			provider=EXCLUDED.provider, provider_id=EXCLUDED.provider_id,
			updated_at=NOW()
		RETURNING `+userColumns+`
	`, user.ID, user.Name, user.Email, user.Image, user.Provider, user.ProviderID)
	created, err := scanUser(inserted)
	if err != nil {
		return User{}, fmt.Errorf("insert provider user: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) SetHideLastSeen(ctx context.Context, userID string, hide bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET hide_last_seen=$2, updated_at=NOW() WHERE id=$1`, userID, hide)
	if err != nil {
		return fmt.Errorf("set hide_last_seen: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetUserBanned(ctx context.Context, userID string, banned bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET is_banned=$2, updated_at=NOW() WHERE id=$1`, userID, banned)
	if err != nil {
		return fmt.Errorf("set banned: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set banned rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CreateSession inserts a fresh session after revoking any live session for
// the same (user, device type) pair, in one transaction.
func (s *PostgresStore) CreateSession(ctx context.Context, session Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create session: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET is_revoked=TRUE
		WHERE user_id=$1 AND device_type=$2 AND is_revoked=FALSE
	`, session.UserID, session.DeviceType); err != nil {
		return fmt.Errorf("revoke prior sessions: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, token_hash, device_type, ip_address, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, session.ID, session.UserID, session.TokenHash, session.DeviceType, session.IPAddress, session.ExpiresAt); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	return tx.Commit()
}

// LookupSession resolves a token hash to its session and owner. Revoked and
// expired sessions are invisible here, which is what makes revocation
// effective on the displaced device's next request.
func (s *PostgresStore) LookupSession(ctx context.Context, tokenHash string) (Session, User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.user_id, s.device_type, s.ip_address, s.created_at, s.last_active_at, s.expires_at,
			u.id, u.name, u.email, u.image, u.role, u.password_hash, u.provider, u.provider_id, u.is_banned, u.hide_last_seen, u.created_at, u.updated_at
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token_hash=$1 AND s.is_revoked=FALSE AND s.expires_at > NOW()
	`, tokenHash)

	var session Session
	var user User
	err := row.Scan(
		&session.ID, &session.UserID, &session.DeviceType, &session.IPAddress, &session.CreatedAt, &session.LastActiveAt, &session.ExpiresAt,
		&user.ID, &user.Name, &user.Email, &user.Image, &user.Role, &user.PasswordHash, &user.Provider, &user.ProviderID, &user.IsBanned, &user.HideLastSeen, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return Session{}, User{}, err
	}
	session.TokenHash = tokenHash
	return session, user, nil
}

func (s *PostgresStore) TouchSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_active_at=NOW() WHERE id=$1`, sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (Session, error) {
	var session Session
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, token_hash, device_type, ip_address, is_revoked, created_at, last_active_at, expires_at
		FROM sessions WHERE id=$1
	`, sessionID).Scan(
		&session.ID, &session.UserID, &session.TokenHash, &session.DeviceType, &session.IPAddress,
		&session.IsRevoked, &session.CreatedAt, &session.LastActiveAt, &session.ExpiresAt,
	)
	if err != nil {
		return Session{}, err
	}
	return session, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, userID string) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, token_hash, device_type, ip_address, is_revoked, created_at, last_active_at, expires_at
		FROM sessions
		WHERE user_id=$1 AND is_revoked=FALSE AND expires_at > NOW()
		ORDER BY last_active_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]Session, 0)
	for rows.Next() {
		var session Session
		if err := rows.Scan(
			&session.ID, &session.UserID, &session.TokenHash, &session.DeviceType, &session.IPAddress,
			&session.IsRevoked, &session.CreatedAt, &session.LastActiveAt, &session.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

func (s *PostgresStore) RevokeSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET is_revoked=TRUE WHERE id=$1`, sessionID)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeSessionByHash(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET is_revoked=TRUE WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke session by hash: %w", err)
	}
	return nil
}
