package store

import (
	"context"
	"fmt"
	"time"
)

// Fetch is one journalled admission cycle.
type Fetch struct {
	RequestID   string
	Seq         int64
	URL         string
	Method      string
	Result      string
	Status      int
	ContentType string
	Bytes       int64
	Attempts    int
	Error       string
	Duration    time.Duration
	RecordedAt  time.Time
}

// WriteFetch appends a fetch record.
// Uses ON CONFLICT DO NOTHING for idempotency - writing the same
// (request_id, seq) twice is silently ignored.
func (s *Store) WriteFetch(ctx context.Context, f Fetch) error {
	if f.RequestID == "" {
		return fmt.Errorf("write fetch: request ID is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fetches
		(request_id, seq, url, method, result, status, content_type, bytes, attempts, error, duration_ms, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id, seq) DO NOTHING
	`,
		f.RequestID,
		f.Seq,
		f.URL,
		f.Method,
		f.Result,
		f.Status,
		f.ContentType,
		f.Bytes,
		f.Attempts,
		f.Error,
		f.Duration.Milliseconds(),
		f.RecordedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("write fetch: %w", err)
	}
	return nil
}
