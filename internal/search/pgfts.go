package search

import (
	"context"
	"database/sql"
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

// Healthy always returns true: if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search matches the generated samples.fts column with plainto_tsquery and
// ranks with ts_rank; ts_headline builds the snippet.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	q = normalizeQuery(q)

	where := "s.fts @@ plainto_tsquery('english', $1)"
	args := []any{q.Text}
	if q.PrincipleID != "" {
		where += " AND s.principle_id = $2"
		args = append(args, q.PrincipleID)
	}
	args = append(args, q.Limit, q.Offset)
	limitArg := len(args) - 1
	offsetArg := len(args)

	query := fmt.Sprintf(`
		SELECT s.id, COALESCE(s.principle_id, ''), s.target,
			ts_headline('english', s.target, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>') AS snippet,
			COUNT(*) OVER () AS total
		FROM samples s
		WHERE %s
		ORDER BY ts_rank(s.fts, plainto_tsquery('english', $1)) DESC, s.id ASC
		LIMIT $%d OFFSET $%d`, where, limitArg, offsetArg)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts search: %w", err)
	}
	defer rows.Close()

	var (
		results []Result
		total   int
	)
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.PrincipleID, &r.Target, &r.Snippet, &total); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("pgfts iterate: %w", err)
	}
	return results, total, nil
}
