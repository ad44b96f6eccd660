package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKV_SetGet(t *testing.T) {
	s, clk := createTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.Set(ctx, "dashboard", []byte(`{"sales":3}`), time.Hour))

	entry, err := s.Get(ctx, "dashboard")
	require.NoError(t, err)
	assert.Equal(t, "dashboard", entry.Key)
	assert.Equal(t, []byte(`{"sales":3}`), entry.Payload)
	assert.True(t, entry.StoredAt.Equal(clk.Now()))
	assert.True(t, entry.ExpiryAt.Equal(clk.Now().Add(time.Hour)))
}

func TestKV_Get_Missing(t *testing.T) {
	s, _ := createTestStore(t)

	_, err := s.Get(t.Context(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestKV_ExpiredEntryIsEvictedOnRead(t *testing.T) {
	s, clk := createTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.SetHours(ctx, "stats", []byte("x"), 1))

	clk.Advance(time.Hour)
	_, err := s.Get(ctx, "stats")
	require.NoError(t, err, "entry is still fresh at its expiry instant")

	clk.Advance(time.Millisecond)
	_, err = s.Get(ctx, "stats")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "expired entry should be deleted lazily")
}

func TestKV_NoExpiry(t *testing.T) {
	s, clk := createTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.Set(ctx, "settings", []byte("x"), 0))
	clk.Advance(365 * 24 * time.Hour)

	entry, err := s.Get(ctx, "settings")
	require.NoError(t, err)
	assert.True(t, entry.ExpiryAt.IsZero())
}

func TestKV_SetOverwrites(t *testing.T) {
	s, clk := createTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.Set(ctx, "k", []byte("old"), time.Minute))
	clk.Advance(2 * time.Minute)
	require.NoError(t, s.Set(ctx, "k", []byte("new"), 0))

	entry, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), entry.Payload)
}

func TestKV_Clear(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := t.Context()

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, s.Set(ctx, k, []byte(k), 0))
	}

	require.NoError(t, s.Clear(ctx, "a"))
	_, err := s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, "b")
	assert.NoError(t, err)

	require.NoError(t, s.Clear(ctx))
	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestKV_Sweep(t *testing.T) {
	s, clk := createTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.Set(ctx, "short", []byte("1"), time.Minute))
	require.NoError(t, s.Set(ctx, "long", []byte("2"), time.Hour))
	require.NoError(t, s.Set(ctx, "forever", []byte("3"), 0))

	clk.Advance(10 * time.Minute)
	removed, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestKV_KeysAreNFCNormalized(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.Set(ctx, "caf\u00e9", []byte("composed"), 0))

	entry, err := s.Get(ctx, "cafe\u0301")
	require.NoError(t, err)
	assert.Equal(t, []byte("composed"), entry.Payload)
}
