package store

import (
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pantry/internal/model"
)

func TestInsertAction_AssignsSeqInOrder(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := t.Context()

	a1, err := s.InsertAction(ctx, createTestAction("a-1", http.MethodPost, "/api/suppliers"))
	require.NoError(t, err)
	a2, err := s.InsertAction(ctx, createTestAction("a-2", http.MethodPut, "/api/suppliers/1"))
	require.NoError(t, err)

	assert.Less(t, a1.Seq, a2.Seq)

	got, err := s.ReadAction(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, model.OperationCreate, got.Operation)
	assert.Equal(t, "suppliers", got.EntityName)
	assert.Equal(t, "application/json", got.Headers.Get("Content-Type"))
	assert.Equal(t, []byte(`{"name":"Acme"}`), got.Payload)
	assert.Equal(t, model.StatusPending, got.Status)
}

func TestInsertAction_DuplicateID(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := t.Context()

	_, err := s.InsertAction(ctx, createTestAction("a-1", http.MethodPost, "/api/menu"))
	require.NoError(t, err)
	_, err = s.InsertAction(ctx, createTestAction("a-1", http.MethodPost, "/api/menu"))
	assert.ErrorIs(t, err, ErrExists)
}

func TestInsertAction_RejectsInvalid(t *testing.T) {
	s, _ := createTestStore(t)

	a := createTestAction("a-1", http.MethodPost, "/api/menu")
	a.Method = http.MethodGet
	_, err := s.InsertAction(t.Context(), a)
	assert.Error(t, err)
}

func TestInsertAction_ConcurrentEnqueues(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := t.Context()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.InsertAction(ctx, createTestAction(fmt.Sprintf("a-%02d", i), http.MethodPost, "/api/sales"))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	actions, err := s.ListActions(ctx)
	require.NoError(t, err)
	require.Len(t, actions, n)
	for i := 1; i < n; i++ {
		assert.Less(t, actions[i-1].Seq, actions[i].Seq, "list must be in insertion order")
	}
}

func TestTransitionAction_StateMachine(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := t.Context()

	_, err := s.InsertAction(ctx, createTestAction("a-1", http.MethodPost, "/api/menu"))
	require.NoError(t, err)

	failed, err := s.TransitionAction(ctx, "a-1", model.StatusFailed, "HTTP 500")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, failed.Status)
	assert.Equal(t, 1, failed.Attempts)
	assert.Equal(t, "HTTP 500", failed.LastError)

	// failed cannot jump straight to synced
	_, err = s.TransitionAction(ctx, "a-1", model.StatusSynced, "")
	assert.ErrorIs(t, err, ErrIllegalTransition)

	pending, err := s.TransitionAction(ctx, "a-1", model.StatusPending, "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, pending.Status)
	assert.Equal(t, 1, pending.Attempts, "re-entering pending is not an attempt")
	assert.Empty(t, pending.LastError)

	synced, err := s.TransitionAction(ctx, "a-1", model.StatusSynced, "")
	require.NoError(t, err)
	assert.Equal(t, 2, synced.Attempts)

	for _, to := range []model.ActionStatus{model.StatusPending, model.StatusFailed, model.StatusSynced} {
		_, err = s.TransitionAction(ctx, "a-1", to, "")
		assert.ErrorIs(t, err, ErrIllegalTransition, "nothing leaves synced (to=%s)", to)
	}

	got, err := s.ReadAction(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSynced, got.Status)
}

func TestTransitionAction_Missing(t *testing.T) {
	s, _ := createTestStore(t)

	_, err := s.TransitionAction(t.Context(), "ghost", model.StatusSynced, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAndCountActions_ByStatus(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := t.Context()

	for _, id := range []string{"a-1", "a-2", "a-3"} {
		_, err := s.InsertAction(ctx, createTestAction(id, http.MethodPost, "/api/menu"))
		require.NoError(t, err)
	}
	_, err := s.TransitionAction(ctx, "a-1", model.StatusSynced, "")
	require.NoError(t, err)
	_, err = s.TransitionAction(ctx, "a-3", model.StatusFailed, "boom")
	require.NoError(t, err)

	open, err := s.ListActions(ctx, model.StatusPending, model.StatusFailed)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "a-2", open[0].ID)
	assert.Equal(t, "a-3", open[1].ID)

	n, err := s.CountActions(ctx, model.StatusSynced)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.CountActions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestPruneSyncedAndDelete(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := t.Context()

	for _, id := range []string{"a-1", "a-2"} {
		_, err := s.InsertAction(ctx, createTestAction(id, http.MethodDelete, "/api/users/"+id))
		require.NoError(t, err)
	}
	_, err := s.TransitionAction(ctx, "a-1", model.StatusSynced, "")
	require.NoError(t, err)

	err = s.DeleteAction(ctx, "a-1")
	assert.ErrorIs(t, err, ErrNotFound, "synced actions are only removed by PruneSynced")

	removed, err := s.PruneSynced(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	require.NoError(t, s.DeleteAction(ctx, "a-2"))
	n, err := s.CountActions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
