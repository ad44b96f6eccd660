package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/roach88/pantry/internal/model"
)

const actionColumns = `seq, id, entity_name, operation, endpoint, method, headers, payload, timestamp, status, attempts, last_error`

// InsertAction appends a queued action to the offline queue.
// The store assigns Seq; the returned action carries it.
// Returns ErrExists if an action with the same ID is already queued.
func (s *Store) InsertAction(ctx context.Context, a model.QueuedAction) (model.QueuedAction, error) {
	if err := a.Validate(); err != nil {
		return model.QueuedAction{}, fmt.Errorf("insert action: %w", err)
	}

	headers, err := marshalHeaders(a.Headers)
	if err != nil {
		return model.QueuedAction{}, fmt.Errorf("insert action %s: %w", a.ID, err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO offline_queue
		(id, entity_name, operation, endpoint, method, headers, payload, timestamp, status, attempts, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID,
		a.EntityName,
		string(a.Operation),
		a.Endpoint,
		strings.ToUpper(a.Method),
		headers,
		a.Payload,
		toMillis(a.Timestamp),
		string(a.Status),
		a.Attempts,
		a.LastError,
	)
	if isUniqueViolation(err) {
		return model.QueuedAction{}, fmt.Errorf("insert action %s: %w", a.ID, ErrExists)
	}
	if err != nil {
		return model.QueuedAction{}, fmt.Errorf("insert action %s: %w", a.ID, err)
	}

	a.Seq, err = res.LastInsertId()
	if err != nil {
		return model.QueuedAction{}, fmt.Errorf("insert action %s: last insert id: %w", a.ID, err)
	}
	a.Method = strings.ToUpper(a.Method)
	return a, nil
}

// ReadAction retrieves a single queued action by ID.
// Returns ErrNotFound if it does not exist.
func (s *Store) ReadAction(ctx context.Context, id string) (model.QueuedAction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+actionColumns+`
		FROM offline_queue
		WHERE id = ?
	`, id)
	a, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.QueuedAction{}, fmt.Errorf("read action %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.QueuedAction{}, fmt.Errorf("read action %s: %w", id, err)
	}
	return a, nil
}

// ListActions returns queued actions in FIFO insertion order.
// With no statuses every action is returned; otherwise only those in one of
// the given statuses.
func (s *Store) ListActions(ctx context.Context, statuses ...model.ActionStatus) ([]model.QueuedAction, error) {
	where, args := statusFilter(statuses)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+actionColumns+`
		FROM offline_queue`+where+`
		ORDER BY seq ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	actions := []model.QueuedAction{}
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("list actions: %w", err)
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list actions: iterate: %w", err)
	}
	return actions, nil
}

// CountActions returns the number of queued actions in the given statuses,
// or of all actions when none are given.
func (s *Store) CountActions(ctx context.Context, statuses ...model.ActionStatus) (int, error) {
	where, args := statusFilter(statuses)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM offline_queue`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count actions: %w", err)
	}
	return n, nil
}

// TransitionAction moves a queued action to a new status.
//
// The move is checked against model.CanTransition inside a transaction, so a
// synced action can never change again. Moving to synced or failed counts a
// replay attempt; lastErr is recorded on failure and cleared otherwise.
func (s *Store) TransitionAction(ctx context.Context, id string, to model.ActionStatus, lastErr string) (model.QueuedAction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.QueuedAction{}, fmt.Errorf("transition action %s: begin tx: %w", id, err)
	}
	defer tx.Rollback() // No-op if committed

	var from string
	err = tx.QueryRowContext(ctx, `SELECT status FROM offline_queue WHERE id = ?`, id).Scan(&from)
	if errors.Is(err, sql.ErrNoRows) {
		return model.QueuedAction{}, fmt.Errorf("transition action %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.QueuedAction{}, fmt.Errorf("transition action %s: %w", id, err)
	}

	if !model.CanTransition(model.ActionStatus(from), to) {
		return model.QueuedAction{}, fmt.Errorf("transition action %s %s -> %s: %w", id, from, to, ErrIllegalTransition)
	}

	attempt := 0
	if to == model.StatusSynced || to == model.StatusFailed {
		attempt = 1
	}
	if to != model.StatusFailed {
		lastErr = ""
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE offline_queue
		SET status = ?, attempts = attempts + ?, last_error = ?
		WHERE id = ? AND status = ?
	`, string(to), attempt, lastErr, id, from); err != nil {
		return model.QueuedAction{}, fmt.Errorf("transition action %s: %w", id, err)
	}

	a, err := scanAction(tx.QueryRowContext(ctx, `
		SELECT `+actionColumns+`
		FROM offline_queue
		WHERE id = ?
	`, id))
	if err != nil {
		return model.QueuedAction{}, fmt.Errorf("transition action %s: reread: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return model.QueuedAction{}, fmt.Errorf("transition action %s: commit: %w", id, err)
	}
	return a, nil
}

// DeleteAction removes a queued action that has not been synced.
// Synced actions are only removed by PruneSynced.
func (s *Store) DeleteAction(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM offline_queue WHERE id = ? AND status != ?
	`, id, string(model.StatusSynced))
	if err != nil {
		return fmt.Errorf("delete action %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete action %s: rows affected: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete action %s: %w", id, ErrNotFound)
	}
	return nil
}

// PruneSynced deletes every synced action and returns how many were removed.
func (s *Store) PruneSynced(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM offline_queue WHERE status = ?`, string(model.StatusSynced))
	if err != nil {
		return 0, fmt.Errorf("prune synced: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune synced: rows affected: %w", err)
	}
	return n, nil
}

// ClearActions removes every queued action regardless of status.
func (s *Store) ClearActions(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM offline_queue`); err != nil {
		return fmt.Errorf("clear actions: %w", err)
	}
	return nil
}

func statusFilter(statuses []model.ActionStatus) (string, []any) {
	if len(statuses) == 0 {
		return "", nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		placeholders[i] = "?"
		args[i] = string(st)
	}
	return " WHERE status IN (" + strings.Join(placeholders, ", ") + ")", args
}

func scanAction(row rowScanner) (model.QueuedAction, error) {
	var (
		a         model.QueuedAction
		operation string
		headers   string
		ts        int64
		status    string
	)
	if err := row.Scan(
		&a.Seq, &a.ID, &a.EntityName, &operation, &a.Endpoint, &a.Method,
		&headers, &a.Payload, &ts, &status, &a.Attempts, &a.LastError,
	); err != nil {
		return model.QueuedAction{}, err
	}
	a.Operation = model.Operation(operation)
	a.Status = model.ActionStatus(status)
	a.Timestamp = fromMillis(ts)

	h, err := unmarshalHeaders(headers)
	if err != nil {
		return model.QueuedAction{}, fmt.Errorf("action %s: %w", a.ID, err)
	}
	a.Headers = h
	return a, nil
}

func marshalHeaders(h http.Header) (string, error) {
	if len(h) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("marshal headers: %w", err)
	}
	return string(data), nil
}

func unmarshalHeaders(data string) (http.Header, error) {
	if data == "" || data == "{}" {
		return http.Header{}, nil
	}
	var h http.Header
	if err := json.Unmarshal([]byte(data), &h); err != nil {
		return nil, fmt.Errorf("unmarshal headers: %w", err)
	}
	return h, nil
}
