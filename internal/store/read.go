package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Filter narrows ListFetches. Zero values match everything.
type Filter struct {
	URL    string
	Result string
	// Limit keeps only the most recent Limit rows.
	Limit int
}

// ListFetches returns journalled fetches in the order they were recorded.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ListFetches(ctx context.Context, f Filter) ([]Fetch, error) {
	query := `
		SELECT request_id, seq, url, method, result, status, content_type, bytes, attempts, error, duration_ms, recorded_at
		FROM fetches
		WHERE (? = '' OR url = ?) AND (? = '' OR result = ?)
		ORDER BY rowid DESC`
	args := []any{f.URL, f.URL, f.Result, f.Result}
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query fetches: %w", err)
	}
	defer rows.Close()

	fetches := []Fetch{}
	for rows.Next() {
		rec, err := scanFetch(rows)
		if err != nil {
			return nil, err
		}
		fetches = append(fetches, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fetches: %w", err)
	}

	// Newest-first for LIMIT; hand back oldest-first.
	for i, j := 0, len(fetches)-1; i < j; i, j = i+1, j-1 {
		fetches[i], fetches[j] = fetches[j], fetches[i]
	}
	return fetches, nil
}

// ReadRequest returns every cycle journalled for one request ID, by seq.
func (s *Store) ReadRequest(ctx context.Context, requestID string) ([]Fetch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT request_id, seq, url, method, result, status, content_type, bytes, attempts, error, duration_ms, recorded_at
		FROM fetches
		WHERE request_id = ?
		ORDER BY seq ASC
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("query request: %w", err)
	}
	defer rows.Close()

	fetches := []Fetch{}
	for rows.Next() {
		rec, err := scanFetch(rows)
		if err != nil {
			return nil, err
		}
		fetches = append(fetches, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate request: %w", err)
	}
	return fetches, nil
}

// CountByResult returns the number of journalled cycles per result.
func (s *Store) CountByResult(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT result, COUNT(*) FROM fetches GROUP BY result ORDER BY result`)
	if err != nil {
		return nil, fmt.Errorf("count results: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var result string
		var n int
		if err := rows.Scan(&result, &n); err != nil {
			return nil, fmt.Errorf("scan result count: %w", err)
		}
		counts[result] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate result counts: %w", err)
	}
	return counts, nil
}

func scanFetch(rows *sql.Rows) (Fetch, error) {
	var f Fetch
	var durationMS int64
	var recordedAt string
	if err := rows.Scan(
		&f.RequestID,
		&f.Seq,
		&f.URL,
		&f.Method,
		&f.Result,
		&f.Status,
		&f.ContentType,
		&f.Bytes,
		&f.Attempts,
		&f.Error,
		&durationMS,
		&recordedAt,
	); err != nil {
		return Fetch{}, fmt.Errorf("scan fetch: %w", err)
	}
	f.Duration = time.Duration(durationMS) * time.Millisecond

	t, err := time.Parse(time.RFC3339Nano, recordedAt)
	if err != nil {
		return Fetch{}, fmt.Errorf("parse recorded_at %q: %w", recordedAt, err)
	}
	f.RecordedAt = t
	return f, nil
}
