package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/pantry/internal/model"
)

// Collection is a handle on one structured collection of the database.
// Obtain one with Store.Collection.
type Collection struct {
	s    *Store
	name model.Collection
}

// Collection returns a handle on the named record collection.
// The offline queue and cache metadata have their own APIs and are rejected
// with ErrUnknownCollection.
func (s *Store) Collection(name model.Collection) (*Collection, error) {
	if !model.IsRecordCollection(name) {
		return nil, fmt.Errorf("collection %q: %w", name, ErrUnknownCollection)
	}
	return &Collection{s: s, name: name}, nil
}

// Name returns the collection name.
func (c *Collection) Name() model.Collection {
	return c.name
}

// Get returns the record stored under key.
// Returns ErrNotFound if the key does not exist.
func (c *Collection) Get(ctx context.Context, key string) (model.Record, error) {
	key = model.NormalizeKey(key)
	row := c.s.db.QueryRowContext(ctx, `
		SELECT key, status, timestamp, data
		FROM records
		WHERE collection = ? AND key = ?
	`, string(c.name), key)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Record{}, fmt.Errorf("%s get %q: %w", c.name, key, ErrNotFound)
	}
	if err != nil {
		return model.Record{}, fmt.Errorf("%s get %q: %w", c.name, key, err)
	}
	return rec, nil
}

// GetAll returns every record of the collection ordered by key.
// Returns an empty slice (not nil) for an empty collection.
func (c *Collection) GetAll(ctx context.Context) ([]model.Record, error) {
	return c.query(ctx, "get all", `
		SELECT key, status, timestamp, data
		FROM records
		WHERE collection = ?
		ORDER BY key COLLATE BINARY ASC
	`, string(c.name))
}

// Put inserts or replaces the record under rec.Key.
func (c *Collection) Put(ctx context.Context, rec model.Record) error {
	if err := c.exec(ctx, c.s.db, rec, upsertRecordSQL); err != nil {
		return fmt.Errorf("%s put: %w", c.name, err)
	}
	return nil
}

// Add inserts rec and fails with ErrExists when the key is already present.
func (c *Collection) Add(ctx context.Context, rec model.Record) error {
	err := c.exec(ctx, c.s.db, rec, insertRecordSQL)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%s add %q: %w", c.name, rec.Key, ErrExists)
	}
	if err != nil {
		return fmt.Errorf("%s add: %w", c.name, err)
	}
	return nil
}

// Delete removes the record under key. Deleting a missing key is not an error.
func (c *Collection) Delete(ctx context.Context, key string) error {
	_, err := c.s.db.ExecContext(ctx, `
		DELETE FROM records WHERE collection = ? AND key = ?
	`, string(c.name), model.NormalizeKey(key))
	if err != nil {
		return fmt.Errorf("%s delete: %w", c.name, err)
	}
	return nil
}

// Clear removes every record of the collection and its freshness metadata.
func (c *Collection) Clear(ctx context.Context) error {
	tx, err := c.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s clear: begin tx: %w", c.name, err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE collection = ?`, string(c.name)); err != nil {
		return fmt.Errorf("%s clear: %w", c.name, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_metadata WHERE collection_key = ?`, string(c.name)); err != nil {
		return fmt.Errorf("%s clear metadata: %w", c.name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s clear: commit: %w", c.name, err)
	}
	return nil
}

// Count returns the number of records in the collection.
func (c *Collection) Count(ctx context.Context) (int, error) {
	var n int
	err := c.s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM records WHERE collection = ?
	`, string(c.name)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%s count: %w", c.name, err)
	}
	return n, nil
}

// BulkPut upserts all records in one transaction and stamps the collection's
// freshness metadata with the current time and resulting record count.
func (c *Collection) BulkPut(ctx context.Context, recs []model.Record) error {
	tx, err := c.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s bulk put: begin tx: %w", c.name, err)
	}
	defer tx.Rollback() // No-op if committed

	for _, rec := range recs {
		if err := c.exec(ctx, tx, rec, upsertRecordSQL); err != nil {
			return fmt.Errorf("%s bulk put %q: %w", c.name, rec.Key, err)
		}
	}

	var count int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM records WHERE collection = ?
	`, string(c.name)).Scan(&count); err != nil {
		return fmt.Errorf("%s bulk put: count: %w", c.name, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cache_metadata (collection_key, last_bulk_write, record_count)
		VALUES (?, ?, ?)
		ON CONFLICT(collection_key) DO UPDATE SET
			last_bulk_write = excluded.last_bulk_write,
			record_count = excluded.record_count
	`, string(c.name), toMillis(c.s.now()), count); err != nil {
		return fmt.Errorf("%s bulk put: metadata: %w", c.name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s bulk put: commit: %w", c.name, err)
	}
	return nil
}

// FindByStatus returns records whose indexed status equals status, ordered by
// timestamp then key.
func (c *Collection) FindByStatus(ctx context.Context, status string) ([]model.Record, error) {
	return c.query(ctx, "find by status", `
		SELECT key, status, timestamp, data
		FROM records
		WHERE collection = ? AND status = ?
		ORDER BY timestamp ASC, key COLLATE BINARY ASC
	`, string(c.name), status)
}

// FindBetween returns records whose timestamp lies in [from, to), ordered by
// timestamp then key. A zero to means no upper bound.
func (c *Collection) FindBetween(ctx context.Context, from, to time.Time) ([]model.Record, error) {
	upper := int64(1<<63 - 1)
	if !to.IsZero() {
		upper = toMillis(to)
	}
	return c.query(ctx, "find between", `
		SELECT key, status, timestamp, data
		FROM records
		WHERE collection = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC, key COLLATE BINARY ASC
	`, string(c.name), toMillis(from), upper)
}

// FindByKeyPrefix returns records whose key starts with prefix, ordered by key.
// SQLite substr counts characters, so the prefix length is given in runes.
func (c *Collection) FindByKeyPrefix(ctx context.Context, prefix string) ([]model.Record, error) {
	prefix = model.NormalizeKey(prefix)
	return c.query(ctx, "find by key prefix", `
		SELECT key, status, timestamp, data
		FROM records
		WHERE collection = ? AND substr(key, 1, ?) = ?
		ORDER BY key COLLATE BINARY ASC
	`, string(c.name), utf8.RuneCountInString(prefix), prefix)
}

const upsertRecordSQL = `
	INSERT INTO records (collection, key, status, timestamp, data)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(collection, key) DO UPDATE SET
		status = excluded.status,
		timestamp = excluded.timestamp,
		data = excluded.data
`

const insertRecordSQL = `
	INSERT INTO records (collection, key, status, timestamp, data)
	VALUES (?, ?, ?, ?, ?)
`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (c *Collection) exec(ctx context.Context, db execer, rec model.Record, query string) error {
	if rec.Key == "" {
		return errors.New("record key is required")
	}
	data := rec.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	if !json.Valid(data) {
		return fmt.Errorf("record %q: data is not valid JSON", rec.Key)
	}
	_, err := db.ExecContext(ctx, query,
		string(c.name),
		model.NormalizeKey(rec.Key),
		rec.Status,
		toMillis(rec.Timestamp),
		string(data),
	)
	return err
}

func (c *Collection) query(ctx context.Context, op, query string, args ...any) ([]model.Record, error) {
	rows, err := c.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", c.name, op, err)
	}
	defer rows.Close()

	records := []model.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", c.name, op, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s %s: iterate: %w", c.name, op, err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (model.Record, error) {
	var (
		rec  model.Record
		ts   int64
		data string
	)
	if err := row.Scan(&rec.Key, &rec.Status, &ts, &data); err != nil {
		return model.Record{}, err
	}
	rec.Timestamp = fromMillis(ts)
	rec.Data = json.RawMessage(data)
	return rec, nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE/PRIMARY KEY
// constraint failure.
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
		se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
