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

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across projects and tasks using
// plainto_tsquery and ts_rank, with ts_headline for snippets. Task text is
// aggregated from the task's text property values.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	if len(q.ProjectIDs) == 0 {
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

	scope := q.ProjectIDs

	const tsQuery = "plainto_tsquery('english', $1)"
	args := []any{q.Text, scope}

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultProject {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'project'::text AS type, p.id,
				p.name AS title,
				ts_headline('english', coalesce(p.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				p.id AS project_id,
				ts_rank(to_tsvector('english', p.name || ' ' || coalesce(p.description, '')), %s) AS rank
			FROM projects p
			WHERE p.deleted_at IS NULL
				AND p.id = ANY($2)
				AND to_tsvector('english', p.name || ' ' || coalesce(p.description, '')) @@ %s`,
			tsQuery, tsQuery, tsQuery))
	}

	if q.FilterType == "" || q.FilterType == ResultTask {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'task'::text AS type, t.id,
				coalesce(max(tp.value) FILTER (WHERE pp.key = 'title'), '') AS title,
				ts_headline('english', coalesce(string_agg(tp.value, ' '), ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				t.project_id,
				ts_rank(to_tsvector('english', coalesce(string_agg(tp.value, ' '), '')), %s) AS rank
			FROM tasks t
			JOIN task_properties tp ON tp.task_id = t.id
			JOIN project_properties pp ON pp.id = tp.property_id AND pp.type = 'text'
			WHERE t.deleted_at IS NULL
				AND t.project_id = ANY($2)
			GROUP BY t.id, t.project_id
			HAVING to_tsvector('english', coalesce(string_agg(tp.value, ' '), '')) @@ %s`,
			tsQuery, tsQuery, tsQuery))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, project_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

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
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ProjectID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ProjectRecord, []TaskRecord, error) {
	projectRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, coalesce(description, ''), status
		FROM projects
		WHERE deleted_at IS NULL
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load projects: %w", err)
	}
	defer projectRows.Close()

	projects := make([]ProjectRecord, 0)
	for projectRows.Next() {
		var record ProjectRecord
		if err := projectRows.Scan(&record.ID, &record.Name, &record.Description, &record.Status); err != nil {
			return nil, nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, record)
	}
	if err := projectRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate projects: %w", err)
	}

	taskRows, err := p.db.QueryContext(ctx, `
		SELECT t.id, t.project_id,
			coalesce(max(tp.value) FILTER (WHERE pp.key = 'title'), ''),
			coalesce(max(tp.value) FILTER (WHERE pp.key = 'description'), '')
		FROM tasks t
		LEFT JOIN task_properties tp ON tp.task_id = t.id
		LEFT JOIN project_properties pp ON pp.id = tp.property_id
		WHERE t.deleted_at IS NULL
		GROUP BY t.id, t.project_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load tasks: %w", err)
	}
	defer taskRows.Close()

	tasks := make([]TaskRecord, 0)
	for taskRows.Next() {
		var record TaskRecord
		if err := taskRows.Scan(&record.ID, &record.ProjectID, &record.Title, &record.Description); err != nil {
			return nil, nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, record)
	}
	if err := taskRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate tasks: %w", err)
	}

	return projects, tasks, nil
}
