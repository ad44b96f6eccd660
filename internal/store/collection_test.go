package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pantry/internal/model"
)

func rec(key, status string, ts time.Time, data string) model.Record {
	return model.Record{Key: key, Status: status, Timestamp: ts, Data: json.RawMessage(data)}
}

func TestCollection_UnknownName(t *testing.T) {
	s, _ := createTestStore(t)

	_, err := s.Collection("widgets")
	assert.ErrorIs(t, err, ErrUnknownCollection)

	_, err = s.Collection(model.CollectionOfflineQueue)
	assert.ErrorIs(t, err, ErrUnknownCollection, "offline queue has its own API")
}

func TestCollection_PutGet(t *testing.T) {
	s, clk := createTestStore(t)
	ctx := t.Context()

	inv, err := s.Collection(model.CollectionInventory)
	require.NoError(t, err)

	require.NoError(t, inv.Put(ctx, rec("flour", "low", clk.Now(), `{"qty":2}`)))
	got, err := inv.Get(ctx, "flour")
	require.NoError(t, err)
	assert.Equal(t, "low", got.Status)
	assert.True(t, got.Timestamp.Equal(clk.Now()))
	assert.JSONEq(t, `{"qty":2}`, string(got.Data))

	// Put is an upsert
	require.NoError(t, inv.Put(ctx, rec("flour", "ok", clk.Now(), `{"qty":20}`)))
	got, err = inv.Get(ctx, "flour")
	require.NoError(t, err)
	assert.Equal(t, "ok", got.Status)
	assert.JSONEq(t, `{"qty":20}`, string(got.Data))

	_, err = inv.Get(ctx, "sugar")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCollection_AddFailsIfExists(t *testing.T) {
	s, clk := createTestStore(t)
	ctx := t.Context()

	sup, err := s.Collection(model.CollectionSuppliers)
	require.NoError(t, err)

	require.NoError(t, sup.Add(ctx, rec("acme", "", clk.Now(), `{}`)))
	err = sup.Add(ctx, rec("acme", "", clk.Now(), `{"dup":true}`))
	assert.ErrorIs(t, err, ErrExists)

	got, err := sup.Get(ctx, "acme")
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(got.Data), "failed add must not overwrite")
}

func TestCollection_CollectionsAreIsolated(t *testing.T) {
	s, clk := createTestStore(t)
	ctx := t.Context()

	menu, _ := s.Collection(model.CollectionMenu)
	users, _ := s.Collection(model.CollectionUsers)

	require.NoError(t, menu.Put(ctx, rec("1", "", clk.Now(), `"burger"`)))
	require.NoError(t, users.Put(ctx, rec("1", "", clk.Now(), `"alice"`)))

	m, err := menu.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, `"burger"`, string(m.Data))

	n, err := users.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCollection_DeleteClearCount(t *testing.T) {
	s, clk := createTestStore(t)
	ctx := t.Context()

	reports, _ := s.Collection(model.CollectionReports)
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, reports.Put(ctx, rec(k, "", clk.Now(), `{}`)))
	}

	require.NoError(t, reports.Delete(ctx, "b"))
	require.NoError(t, reports.Delete(ctx, "missing"))
	n, err := reports.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := reports.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Key)
	assert.Equal(t, "c", all[1].Key)

	require.NoError(t, reports.Clear(ctx))
	all, err = reports.GetAll(ctx)
	require.NoError(t, err)
	assert.NotNil(t, all)
	assert.Empty(t, all)
}

func TestCollection_RejectsInvalidJSON(t *testing.T) {
	s, clk := createTestStore(t)

	settings, _ := s.Collection(model.CollectionSettings)
	err := settings.Put(t.Context(), rec("theme", "", clk.Now(), `{not json`))
	assert.Error(t, err)
}

func TestCollection_BulkPutUpdatesMetadata(t *testing.T) {
	s, clk := createTestStore(t)
	ctx := t.Context()

	inv, _ := s.Collection(model.CollectionInventory)

	fresh, err := s.IsFresh(ctx, model.CollectionInventory, time.Hour)
	require.NoError(t, err)
	assert.False(t, fresh, "never bulk-written collection is not fresh")

	require.NoError(t, inv.BulkPut(ctx, []model.Record{
		rec("flour", "ok", clk.Now(), `{"qty":20}`),
		rec("sugar", "low", clk.Now(), `{"qty":1}`),
	}))

	md, err := s.Metadata(ctx, model.CollectionInventory)
	require.NoError(t, err)
	assert.Equal(t, 2, md.RecordCount)
	assert.True(t, md.LastBulkWrite.Equal(clk.Now()))

	clk.Advance(30 * time.Minute)
	fresh, err = s.IsFresh(ctx, model.CollectionInventory, time.Hour)
	require.NoError(t, err)
	assert.True(t, fresh)

	clk.Advance(31 * time.Minute)
	fresh, err = s.IsFresh(ctx, model.CollectionInventory, time.Hour)
	require.NoError(t, err)
	assert.False(t, fresh)

	// A second bulk write refreshes and recounts.
	require.NoError(t, inv.BulkPut(ctx, []model.Record{rec("salt", "ok", clk.Now(), `{}`)}))
	md, err = s.Metadata(ctx, model.CollectionInventory)
	require.NoError(t, err)
	assert.Equal(t, 3, md.RecordCount)

	all, err := s.AllMetadata(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, model.CollectionInventory, all[0].CollectionKey)
}

func TestCollection_IndexLookups(t *testing.T) {
	s, clk := createTestStore(t)
	ctx := t.Context()

	inv, _ := s.Collection(model.CollectionInventory)
	t0 := clk.Now()
	require.NoError(t, inv.BulkPut(ctx, []model.Record{
		rec("item:flour", "low", t0.Add(2*time.Minute), `{}`),
		rec("item:sugar", "ok", t0.Add(1*time.Minute), `{}`),
		rec("item:salt", "low", t0, `{}`),
		rec("batch:7", "ok", t0.Add(3*time.Minute), `{}`),
	}))

	low, err := inv.FindByStatus(ctx, "low")
	require.NoError(t, err)
	require.Len(t, low, 2)
	assert.Equal(t, "item:salt", low[0].Key, "ordered by timestamp")
	assert.Equal(t, "item:flour", low[1].Key)

	window, err := inv.FindBetween(ctx, t0.Add(time.Minute), t0.Add(3*time.Minute))
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, "item:sugar", window[0].Key)
	assert.Equal(t, "item:flour", window[1].Key)

	since, err := inv.FindBetween(ctx, t0.Add(2*time.Minute), time.Time{})
	require.NoError(t, err)
	assert.Len(t, since, 2)

	items, err := inv.FindByKeyPrefix(ctx, "item:")
	require.NoError(t, err)
	assert.Len(t, items, 3)

	menu, _ := s.Collection(model.CollectionMenu)
	require.NoError(t, menu.BulkPut(ctx, []model.Record{
		rec("café-latte", "ok", t0, `{}`),
		rec("tea", "ok", t0, `{}`),
	}))
	cafe, err := menu.FindByKeyPrefix(ctx, "café")
	require.NoError(t, err)
	require.Len(t, cafe, 1)
	assert.Equal(t, "café-latte", cafe[0].Key)
}

func TestCollection_ClearRemovesMetadata(t *testing.T) {
	s, clk := createTestStore(t)
	ctx := t.Context()

	menu, _ := s.Collection(model.CollectionMenu)
	require.NoError(t, menu.BulkPut(ctx, []model.Record{rec("1", "", clk.Now(), `{}`)}))
	require.NoError(t, menu.Clear(ctx))

	_, err := s.Metadata(ctx, model.CollectionMenu)
	assert.ErrorIs(t, err, ErrNotFound)
}
