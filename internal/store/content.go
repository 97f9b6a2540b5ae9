package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

const contentColumns = `id, kind, slug, title, description, body, tags, repo_url, demo_url,
	published, like_count, share_count, view_count, created_at, updated_at`

func scanContent(row interface{ Scan(dest ...any) error }) (Content, error) {
	var c Content
	var tags []byte
	err := row.Scan(
		&c.ID, &c.Kind, &c.Slug, &c.Title, &c.Description, &c.Body, &tags, &c.RepoURL, &c.DemoURL,
		&c.Published, &c.LikeCount, &c.ShareCount, &c.ViewCount, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return Content{}, err
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &c.Tags); err != nil {
			return Content{}, fmt.Errorf("decode tags: %w", err)
		}
	}
	return c, nil
}

func encodeTags(tags []string) []byte {
	if tags == nil {
		tags = []string{}
	}
	encoded, _ := json.Marshal(tags)
	return encoded
}

func (s *PostgresStore) GetContent(ctx context.Context, contentID string) (Content, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+contentColumns+` FROM contents WHERE id=$1`, contentID)
	return scanContent(row)
}

func (s *PostgresStore) GetContentBySlug(ctx context.Context, kind, slug string) (Content, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+contentColumns+` FROM contents WHERE kind=$1 AND slug=$2`, kind, slug)
	return scanContent(row)
}

func (s *PostgresStore) ListContents(ctx context.Context, kind string, publishedOnly bool) ([]Content, error) {
	query := `SELECT ` + contentColumns + ` FROM contents WHERE kind=$1`
	if publishedOnly {
		query += ` AND published=TRUE`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, kind)
	if err != nil {
		return nil, fmt.Errorf("list contents: %w", err)
	}
	defer rows.Close()

	items := make([]Content, 0)
	for rows.Next() {
		item, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertContent(ctx context.Context, item Content) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contents (id, kind, slug, title, description, body, tags, repo_url, demo_url, published)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, item.ID, item.Kind, item.Slug, item.Title, item.Description, item.Body,
		encodeTags(item.Tags), item.RepoURL, item.DemoURL, item.Published)
	if err != nil {
		return fmt.Errorf("insert content: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateContent(ctx context.Context, item Content) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE contents
		SET slug=$2, title=$3, description=$4, body=$5, tags=$6, repo_url=$7, demo_url=$8, published=$9, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Slug, item.Title, item.Description, item.Body,
		encodeTags(item.Tags), item.RepoURL, item.DemoURL, item.Published)
	if err != nil {
		return fmt.Errorf("update content: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update content rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteContent(ctx context.Context, contentID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM contents WHERE id=$1`, contentID)
	if err != nil {
		return fmt.Errorf("delete content: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete content rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) IncrementContentViews(ctx context.Context, contentID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE contents SET view_count = view_count + 1 WHERE id=$1`, contentID)
	if err != nil {
		return fmt.Errorf("increment views: %w", err)
	}
	return nil
}

// UpsertSubscriber subscribes an address, reactivating a previously
// unsubscribed one.
func (s *PostgresStore) UpsertSubscriber(ctx context.Context, id, email string) (Subscriber, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO subscribers (id, email)
		VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE SET is_active=TRUE, updated_at=NOW()
		RETURNING id, email, is_active, created_at, updated_at
	`, id, email)
	var sub Subscriber
	if err := row.Scan(&sub.ID, &sub.Email, &sub.IsActive, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return Subscriber{}, fmt.Errorf("upsert subscriber: %w", err)
	}
	return sub, nil
}

func (s *PostgresStore) DeactivateSubscriber(ctx context.Context, email string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE subscribers SET is_active=FALSE, updated_at=NOW() WHERE email=$1 AND is_active=TRUE
	`, email)
	if err != nil {
		return fmt.Errorf("deactivate subscriber: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate subscriber rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
