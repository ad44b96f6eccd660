package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/pantry/internal/model"
)

// PutResponse stores an upstream response under its URL, replacing any
// previous one.
func (s *Store) PutResponse(ctx context.Context, r model.CachedResponse) error {
	if r.URL == "" {
		return errors.New("put response: url is required")
	}
	headers, err := marshalHeaders(r.Header)
	if err != nil {
		return fmt.Errorf("put response %s: %w", r.URL, err)
	}

	var cachedAt any
	if !r.CachedAt.IsZero() {
		cachedAt = toMillis(r.CachedAt)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO responses (url, status, headers, body, cached_at, max_age_ms)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			status = excluded.status,
			headers = excluded.headers,
			body = excluded.body,
			cached_at = excluded.cached_at,
			max_age_ms = excluded.max_age_ms
	`, model.NormalizeKey(r.URL), r.Status, headers, r.Body, cachedAt, r.MaxAge.Milliseconds())
	if err != nil {
		return fmt.Errorf("put response %s: %w", r.URL, err)
	}
	return nil
}

// GetResponse returns the cached response for url regardless of its age;
// freshness is the caller's decision. Returns ErrNotFound on a miss.
func (s *Store) GetResponse(ctx context.Context, url string) (*model.CachedResponse, error) {
	url = model.NormalizeKey(url)

	var (
		r        model.CachedResponse
		headers  string
		cachedAt sql.NullInt64
		maxAgeMs int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT url, status, headers, body, cached_at, max_age_ms
		FROM responses
		WHERE url = ?
	`, url).Scan(&r.URL, &r.Status, &headers, &r.Body, &cachedAt, &maxAgeMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get response %s: %w", url, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get response %s: %w", url, err)
	}

	if r.Header, err = unmarshalHeaders(headers); err != nil {
		return nil, fmt.Errorf("get response %s: %w", url, err)
	}
	if cachedAt.Valid {
		r.CachedAt = fromMillis(cachedAt.Int64)
	}
	r.MaxAge = time.Duration(maxAgeMs) * time.Millisecond
	return &r, nil
}

// DeleteResponse removes the cached response for url.
func (s *Store) DeleteResponse(ctx context.Context, url string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM responses WHERE url = ?`, model.NormalizeKey(url)); err != nil {
		return fmt.Errorf("delete response %s: %w", url, err)
	}
	return nil
}

// ClearResponses removes every cached response.
func (s *Store) ClearResponses(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM responses`); err != nil {
		return fmt.Errorf("clear responses: %w", err)
	}
	return nil
}

// CountResponses returns the number of cached responses.
func (s *Store) CountResponses(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM responses`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count responses: %w", err)
	}
	return n, nil
}
