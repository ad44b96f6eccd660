// Package queue is the durable log of writes deferred while offline.
//
// Actions are appended with status pending, replayed in insertion order by
// the sync coordinator, and end as synced (then pruned) or failed (kept for
// the next pass or a manual retry). Status only moves along
// pending -> synced, pending -> failed and failed -> pending; the store
// enforces this with store.ErrIllegalTransition.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/roach88/pantry/internal/clock"
	"github.com/roach88/pantry/internal/model"
	"github.com/roach88/pantry/internal/store"
)

// ActionStore is the persistence the queue needs. *store.Store implements it.
type ActionStore interface {
	InsertAction(ctx context.Context, a model.QueuedAction) (model.QueuedAction, error)
	ReadAction(ctx context.Context, id string) (model.QueuedAction, error)
	ListActions(ctx context.Context, statuses ...model.ActionStatus) ([]model.QueuedAction, error)
	CountActions(ctx context.Context, statuses ...model.ActionStatus) (int, error)
	TransitionAction(ctx context.Context, id string, to model.ActionStatus, lastErr string) (model.QueuedAction, error)
	DeleteAction(ctx context.Context, id string) error
	PruneSynced(ctx context.Context) (int64, error)
}

// Queue wraps an ActionStore with id assignment and lifecycle rules.
type Queue struct {
	store  ActionStore
	ids    IDGenerator
	clock  clock.Clock
	logger *slog.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithIDGenerator replaces the UUIDv7 generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(q *Queue) { q.ids = g }
}

// WithClock sets the clock used to timestamp actions.
func WithClock(c clock.Clock) Option {
	return func(q *Queue) { q.clock = c }
}

// WithLogger sets the queue logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// New creates a queue over s.
func New(s ActionStore, opts ...Option) *Queue {
	q := &Queue{
		store:  s,
		ids:    UUIDv7Generator{},
		clock:  clock.System{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.clock = clock.Or(q.clock)
	return q
}

// FromRequest captures a mutation as an unsaved action. The endpoint is the
// client-relative path including any query string.
func FromRequest(method, endpoint string, header http.Header, body []byte) (model.QueuedAction, error) {
	op, ok := model.OperationForMethod(method)
	if !ok {
		return model.QueuedAction{}, fmt.Errorf("queue %s %s: not a mutation", method, endpoint)
	}
	return model.QueuedAction{
		EntityName: model.EntityFromEndpoint(endpoint),
		Operation:  op,
		Endpoint:   endpoint,
		Method:     method,
		Headers:    header.Clone(),
		Payload:    body,
	}, nil
}

// Enqueue appends a as pending and returns the stored action. An empty id is
// filled from the generator; entity name, operation and timestamp are
// derived when unset.
func (q *Queue) Enqueue(ctx context.Context, a model.QueuedAction) (model.QueuedAction, error) {
	if a.ID == "" {
		a.ID = q.ids.Generate()
	}
	if a.Operation == "" {
		a.Operation, _ = model.OperationForMethod(a.Method)
	}
	if a.EntityName == "" {
		a.EntityName = model.EntityFromEndpoint(a.Endpoint)
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = q.clock.Now()
	}
	if a.Headers == nil {
		a.Headers = http.Header{}
	}
	a.Status = model.StatusPending
	a.Attempts = 0
	a.LastError = ""

	stored, err := q.store.InsertAction(ctx, a)
	if err != nil {
		return model.QueuedAction{}, fmt.Errorf("enqueue: %w", err)
	}
	q.logger.Info("action queued",
		"action_id", stored.ID,
		"method", stored.Method,
		"endpoint", stored.Endpoint,
		"entity", stored.EntityName,
		"seq", stored.Seq,
	)
	return stored, nil
}

// Replayable returns every pending or failed action in insertion order.
// The slice is a snapshot: later enqueues are not reflected in it.
func (q *Queue) Replayable(ctx context.Context) ([]model.QueuedAction, error) {
	actions, err := q.store.ListActions(ctx, model.StatusPending, model.StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("replayable actions: %w", err)
	}
	return actions, nil
}

// MarkSynced records a successful replay.
func (q *Queue) MarkSynced(ctx context.Context, id string) (model.QueuedAction, error) {
	a, err := q.store.TransitionAction(ctx, id, model.StatusSynced, "")
	if err != nil {
		return model.QueuedAction{}, fmt.Errorf("mark synced: %w", err)
	}
	return a, nil
}

// MarkFailed records a failed replay and its cause.
func (q *Queue) MarkFailed(ctx context.Context, id string, cause error) (model.QueuedAction, error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	a, err := q.store.TransitionAction(ctx, id, model.StatusFailed, msg)
	if err != nil {
		return model.QueuedAction{}, fmt.Errorf("mark failed: %w", err)
	}
	return a, nil
}

// Retry moves a failed action back to pending.
func (q *Queue) Retry(ctx context.Context, id string) (model.QueuedAction, error) {
	a, err := q.store.TransitionAction(ctx, id, model.StatusPending, "")
	if err != nil {
		return model.QueuedAction{}, fmt.Errorf("retry: %w", err)
	}
	return a, nil
}

// Discard drops a failed action. Pending actions cannot be discarded.
func (q *Queue) Discard(ctx context.Context, id string) error {
	a, err := q.store.ReadAction(ctx, id)
	if err != nil {
		return fmt.Errorf("discard: %w", err)
	}
	if a.Status != model.StatusFailed {
		return fmt.Errorf("discard %s: status %s: %w", id, a.Status, store.ErrIllegalTransition)
	}
	if err := q.store.DeleteAction(ctx, id); err != nil {
		return fmt.Errorf("discard: %w", err)
	}
	q.logger.Info("action discarded", "action_id", id, "endpoint", a.Endpoint)
	return nil
}

// Get returns one action.
func (q *Queue) Get(ctx context.Context, id string) (model.QueuedAction, error) {
	return q.store.ReadAction(ctx, id)
}

// List returns actions with the given statuses, or all when none are given.
func (q *Queue) List(ctx context.Context, statuses ...model.ActionStatus) ([]model.QueuedAction, error) {
	return q.store.ListActions(ctx, statuses...)
}

// Len returns the number of actions still awaiting a successful replay.
func (q *Queue) Len(ctx context.Context) (int, error) {
	return q.store.CountActions(ctx, model.StatusPending, model.StatusFailed)
}

// Prune removes synced actions.
func (q *Queue) Prune(ctx context.Context) (int64, error) {
	n, err := q.store.PruneSynced(ctx)
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	return n, nil
}

// IsNotFound reports whether err means the action id is unknown.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
