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

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across orgs, tours and events using
// plainto_tsquery and ts_rank, with ts_headline for snippets. Visibility is
// not filtered here: the caller re-fetches hits through the guarded store.
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

	tsQuery := "plainto_tsquery('simple', $1)"
	args := []any{q.Text}

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultOrg {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'org'::text AS type, o.id::text, o.name AS title,
				ts_headline('simple', coalesce(o.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				ts_rank(o.fts, %s) AS rank
			FROM orgs o
			WHERE o.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if q.FilterType == "" || q.FilterType == ResultTour {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'tour'::text AS type, t.id::text, t.title,
				ts_headline('simple', coalesce(t.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				ts_rank(t.fts, %s) AS rank
			FROM tours t
			WHERE t.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if q.FilterType == "" || q.FilterType == ResultEvent {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'event'::text AS type, e.id::text, e.title,
				''::text AS snippet,
				ts_rank(e.fts, %s) AS rank
			FROM events e
			WHERE e.fts @@ %s`, tsQuery, tsQuery))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	var total int
	if err := p.db.QueryRow(countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, union, limit, offset)

	rows, err := p.db.Query(dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var rtyp string
		if err := rows.Scan(&rtyp, &r.ID, &r.Title, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(rtyp)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords reads every searchable entity for bulk reindexing into
// Meilisearch.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]OrgRecord, []TourRecord, []EventRecord, error) {
	var orgs []OrgRecord
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, name, description FROM orgs`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load orgs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rec OrgRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Description); err != nil {
			return nil, nil, nil, fmt.Errorf("scan org record: %w", err)
		}
		orgs = append(orgs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, nil, err
	}

	var tours []TourRecord
	tourRows, err := p.db.QueryContext(ctx, `SELECT id::text, title, description FROM tours`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load tours: %w", err)
	}
	defer tourRows.Close()
	for tourRows.Next() {
		var rec TourRecord
		if err := tourRows.Scan(&rec.ID, &rec.Title, &rec.Description); err != nil {
			return nil, nil, nil, fmt.Errorf("scan tour record: %w", err)
		}
		tours = append(tours, rec)
	}
	if err := tourRows.Err(); err != nil {
		return nil, nil, nil, err
	}

	var events []EventRecord
	eventRows, err := p.db.QueryContext(ctx, `SELECT id::text, title, tour_id::text FROM events`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load events: %w", err)
	}
	defer eventRows.Close()
	for eventRows.Next() {
		var rec EventRecord
		if err := eventRows.Scan(&rec.ID, &rec.Title, &rec.TourID); err != nil {
			return nil, nil, nil, fmt.Errorf("scan event record: %w", err)
		}
		events = append(events, rec)
	}
	return orgs, tours, events, eventRows.Err()
}
