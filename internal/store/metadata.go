package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/pantry/internal/model"
)

// Metadata returns the freshness metadata of a collection.
// Returns ErrNotFound if the collection has never been bulk-written.
func (s *Store) Metadata(ctx context.Context, name model.Collection) (model.StoreMetadata, error) {
	var (
		md   model.StoreMetadata
		last int64
		key  string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT collection_key, last_bulk_write, record_count
		FROM cache_metadata
		WHERE collection_key = ?
	`, string(name)).Scan(&key, &last, &md.RecordCount)
	if errors.Is(err, sql.ErrNoRows) {
		return model.StoreMetadata{}, fmt.Errorf("metadata %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return model.StoreMetadata{}, fmt.Errorf("metadata %q: %w", name, err)
	}
	md.CollectionKey = model.Collection(key)
	md.LastBulkWrite = fromMillis(last)
	return md, nil
}

// AllMetadata returns the metadata of every bulk-written collection.
func (s *Store) AllMetadata(ctx context.Context) ([]model.StoreMetadata, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT collection_key, last_bulk_write, record_count
		FROM cache_metadata
		ORDER BY collection_key ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("all metadata: %w", err)
	}
	defer rows.Close()

	out := []model.StoreMetadata{}
	for rows.Next() {
		var (
			md   model.StoreMetadata
			key  string
			last int64
		)
		if err := rows.Scan(&key, &last, &md.RecordCount); err != nil {
			return nil, fmt.Errorf("all metadata: scan: %w", err)
		}
		md.CollectionKey = model.Collection(key)
		md.LastBulkWrite = fromMillis(last)
		out = append(out, md)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("all metadata: iterate: %w", err)
	}
	return out, nil
}

// IsFresh reports whether the collection was bulk-written within maxAge.
// A collection that was never bulk-written is not fresh.
func (s *Store) IsFresh(ctx context.Context, name model.Collection, maxAge time.Duration) (bool, error) {
	md, err := s.Metadata(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if md.LastBulkWrite.IsZero() {
		return false, nil
	}
	return s.now().Sub(md.LastBulkWrite) <= maxAge, nil
}
