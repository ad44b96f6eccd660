package queue

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pantry/internal/model"
	"github.com/roach88/pantry/internal/store"
	"github.com/roach88/pantry/internal/testutil"
)

func newTestQueue(t *testing.T, opts ...Option) *Queue {
	t.Helper()
	clk := testutil.NewFakeClock()
	s, err := store.Open(filepath.Join(t.TempDir(), "queue.db"), store.WithClock(clk))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	opts = append([]Option{WithClock(clk), WithIDGenerator(testutil.NewSequentialIDs("action"))}, opts...)
	return New(s, opts...)
}

func enqueue(t *testing.T, q *Queue, method, endpoint, body string) model.QueuedAction {
	t.Helper()
	a, err := FromRequest(method, endpoint, http.Header{"Content-Type": {"application/json"}}, []byte(body))
	require.NoError(t, err)
	stored, err := q.Enqueue(context.Background(), a)
	require.NoError(t, err)
	return stored
}

func TestUUIDv7Generator(t *testing.T) {
	id := UUIDv7Generator{}.Generate()
	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.NotEqual(t, id, UUIDv7Generator{}.Generate())
}

func TestFromRequest(t *testing.T) {
	a, err := FromRequest(http.MethodPost, "/api/suppliers", nil, []byte(`{"name":"Acme"}`))
	require.NoError(t, err)
	assert.Equal(t, model.OperationCreate, a.Operation)
	assert.Equal(t, "suppliers", a.EntityName)

	a, err = FromRequest(http.MethodPatch, "/api/menu/4?lang=en", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, model.OperationUpdate, a.Operation)
	assert.Equal(t, "menu", a.EntityName)

	_, err = FromRequest(http.MethodGet, "/api/menu", nil, nil)
	assert.Error(t, err)
}

func TestEnqueue_AssignsDefaults(t *testing.T) {
	q := newTestQueue(t)

	a := enqueue(t, q, http.MethodPost, "/api/suppliers", `{"name":"Acme"}`)
	assert.Equal(t, "action-1", a.ID)
	assert.Equal(t, model.StatusPending, a.Status)
	assert.Equal(t, testutil.Epoch, a.Timestamp)
	assert.Equal(t, "suppliers", a.EntityName)
	assert.Equal(t, model.OperationCreate, a.Operation)
	assert.Positive(t, a.Seq)

	n, err := q.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEnqueue_KeepsClientID(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	a, err := q.Enqueue(ctx, model.QueuedAction{ID: "client-7", Method: http.MethodDelete, Endpoint: "/api/menu/7"})
	require.NoError(t, err)
	assert.Equal(t, "client-7", a.ID)
	assert.Equal(t, model.OperationDelete, a.Operation)

	_, err = q.Enqueue(ctx, model.QueuedAction{ID: "client-7", Method: http.MethodDelete, Endpoint: "/api/menu/7"})
	assert.ErrorIs(t, err, store.ErrExists)
}

func TestEnqueue_Concurrent(t *testing.T) {
	q := newTestQueue(t, WithIDGenerator(UUIDv7Generator{}))
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := q.Enqueue(ctx, model.QueuedAction{
				Method:   http.MethodPost,
				Endpoint: "/api/inventory",
				Payload:  []byte(fmt.Sprintf(`{"n":%d}`, i)),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	actions, err := q.Replayable(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 20)
	for i := 1; i < len(actions); i++ {
		assert.Greater(t, actions[i].Seq, actions[i-1].Seq, "strictly increasing sequence")
	}
}

func TestLifecycle(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	a := enqueue(t, q, http.MethodPost, "/api/suppliers", `{}`)
	b := enqueue(t, q, http.MethodPut, "/api/menu/1", `{}`)

	_, err := q.MarkSynced(ctx, a.ID)
	require.NoError(t, err)
	failed, err := q.MarkFailed(ctx, b.ID, errors.New("upstream returned 500"))
	require.NoError(t, err)
	assert.Equal(t, 1, failed.Attempts)
	assert.Equal(t, "upstream returned 500", failed.LastError)

	// Nothing leaves synced.
	_, err = q.Retry(ctx, a.ID)
	assert.ErrorIs(t, err, store.ErrIllegalTransition)
	_, err = q.MarkFailed(ctx, a.ID, nil)
	assert.ErrorIs(t, err, store.ErrIllegalTransition)

	// Replayable excludes synced.
	actions, err := q.Replayable(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, b.ID, actions[0].ID)

	retried, err := q.Retry(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, retried.Status)
	assert.Equal(t, 1, retried.Attempts)

	pruned, err := q.Prune(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pruned)

	_, err = q.Get(ctx, a.ID)
	assert.True(t, IsNotFound(err))
}

func TestRetry_PendingIsIllegal(t *testing.T) {
	q := newTestQueue(t)
	a := enqueue(t, q, http.MethodPost, "/api/suppliers", `{}`)

	_, err := q.Retry(context.Background(), a.ID)
	assert.ErrorIs(t, err, store.ErrIllegalTransition)
}

func TestDiscard(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	a := enqueue(t, q, http.MethodPost, "/api/suppliers", `{}`)
	assert.ErrorIs(t, q.Discard(ctx, a.ID), store.ErrIllegalTransition, "pending actions stay queued")

	_, err := q.MarkFailed(ctx, a.ID, errors.New("rejected"))
	require.NoError(t, err)
	require.NoError(t, q.Discard(ctx, a.ID))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.True(t, IsNotFound(q.Discard(ctx, "missing")))
}

func TestList_FiltersByStatus(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	a := enqueue(t, q, http.MethodPost, "/api/suppliers", `{}`)
	enqueue(t, q, http.MethodPost, "/api/suppliers", `{}`)
	_, err := q.MarkFailed(ctx, a.ID, errors.New("x"))
	require.NoError(t, err)

	failed, err := q.List(ctx, model.StatusFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, a.ID, failed[0].ID)

	all, err := q.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
