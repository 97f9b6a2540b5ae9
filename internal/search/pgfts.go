package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search queries the contents table using plainto_tsquery and ts_rank, with
// ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	where := "c.fts @@ " + tsQuery
	if !q.IncludeUnpublished {
		where += " AND c.published = TRUE"
	}
	if q.FilterKind != "" {
		where += fmt.Sprintf(" AND c.kind = $%d", argN)
		args = append(args, q.FilterKind)
		argN++
	}
	if q.FilterTag != "" {
		where += fmt.Sprintf(" AND c.tags ? $%d", argN)
		args = append(args, q.FilterTag)
		argN++
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM contents c WHERE %s", where)

	dataSQL := fmt.Sprintf(`
		SELECT c.id, c.kind, c.slug, c.title,
			ts_headline('english', coalesce(c.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
			c.tags,
			ts_rank(c.fts, %s) AS rank
		FROM contents c
		WHERE %s
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, tsQuery, tsQuery, where, limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var tags []byte
		var rank float64
		if err := rows.Scan(&r.ID, &r.Kind, &r.Slug, &r.Title, &r.Snippet, &tags, &rank); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		if len(tags) > 0 {
			if err := json.Unmarshal(tags, &r.Tags); err != nil {
				return nil, 0, fmt.Errorf("pgfts tags: %w", err)
			}
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all content records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ContentRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, kind, slug, title, description, body, tags, published
		FROM contents
	`)
	if err != nil {
		return nil, fmt.Errorf("load contents: %w", err)
	}
	defer rows.Close()

	records := make([]ContentRecord, 0)
	for rows.Next() {
		var rec ContentRecord
		var tags []byte
		if err := rows.Scan(&rec.ID, &rec.Kind, &rec.Slug, &rec.Title, &rec.Description, &rec.Body, &tags, &rec.Published); err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		if len(tags) > 0 {
			if err := json.Unmarshal(tags, &rec.Tags); err != nil {
				return nil, fmt.Errorf("decode tags: %w", err)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contents: %w", err)
	}
	return records, nil
}
