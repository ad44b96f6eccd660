package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/pantry/internal/model"
)

// Get returns the TTL cache entry for key.
// An entry past its expiry is deleted and reported as ErrNotFound; it is
// never returned as fresh.
func (s *Store) Get(ctx context.Context, key string) (model.CacheEntry, error) {
	key = model.NormalizeKey(key)

	var (
		entry    model.CacheEntry
		storedAt int64
		expiryAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT key, data, stored_at, expiry_at
		FROM kv_cache
		WHERE key = ?
	`, key).Scan(&entry.Key, &entry.Payload, &storedAt, &expiryAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CacheEntry{}, fmt.Errorf("kv get %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return model.CacheEntry{}, fmt.Errorf("kv get %q: %w", key, err)
	}

	entry.StoredAt = fromMillis(storedAt)
	if expiryAt.Valid {
		entry.ExpiryAt = fromMillis(expiryAt.Int64)
	}

	if entry.Expired(s.now()) {
		// Only delete the row we read; a concurrent Set may have replaced it.
		if _, err := s.db.ExecContext(ctx, `
			DELETE FROM kv_cache WHERE key = ? AND stored_at = ?
		`, key, storedAt); err != nil {
			s.logger.Warn("kv evict failed", "key", key, "error", err)
		}
		return model.CacheEntry{}, fmt.Errorf("kv get %q: %w", key, ErrNotFound)
	}

	return entry, nil
}

// Set stores data under key, replacing any previous value.
// A ttl of zero or less stores the entry without expiry.
func (s *Store) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	key = model.NormalizeKey(key)
	now := s.now()

	var expiry any
	if ttl > 0 {
		expiry = toMillis(now.Add(ttl))
	}
	if data == nil {
		data = []byte{}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_cache (key, data, stored_at, expiry_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			data = excluded.data,
			stored_at = excluded.stored_at,
			expiry_at = excluded.expiry_at
	`, key, data, toMillis(now), expiry)
	if err != nil {
		return fmt.Errorf("kv set %q: %w", key, err)
	}
	return nil
}

// SetHours stores data under key with an expiry expressed in hours.
// Zero hours means no expiry.
func (s *Store) SetHours(ctx context.Context, key string, data []byte, hours float64) error {
	return s.Set(ctx, key, data, time.Duration(hours*float64(time.Hour)))
}

// Clear removes the given keys from the TTL cache, or every key when none
// are given.
func (s *Store) Clear(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_cache`); err != nil {
			return fmt.Errorf("kv clear: %w", err)
		}
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("kv clear: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, `DELETE FROM kv_cache WHERE key = ?`, model.NormalizeKey(key)); err != nil {
			return fmt.Errorf("kv clear %q: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("kv clear: commit: %w", err)
	}
	return nil
}

// Sweep deletes every expired TTL cache entry and returns how many were removed.
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM kv_cache
		WHERE expiry_at IS NOT NULL AND expiry_at < ?
	`, toMillis(s.now()))
	if err != nil {
		return 0, fmt.Errorf("kv sweep: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("kv sweep: rows affected: %w", err)
	}
	return n, nil
}

// Len returns the number of TTL cache entries, expired ones included.
func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv_cache`).Scan(&n); err != nil {
		return 0, fmt.Errorf("kv len: %w", err)
	}
	return n, nil
}
