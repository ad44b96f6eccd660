package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCacheEntry_Expired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	noExpiry := CacheEntry{Key: "k", StoredAt: now.Add(-24 * time.Hour)}
	assert.False(t, noExpiry.Expired(now))

	exact := CacheEntry{Key: "k", ExpiryAt: now}
	assert.False(t, exact.Expired(now), "entry is fresh at its expiry instant")

	past := CacheEntry{Key: "k", ExpiryAt: now.Add(-time.Millisecond)}
	assert.True(t, past.Expired(now))
}

func TestCachedResponse_FreshFor(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	resp := &CachedResponse{CachedAt: now.Add(-time.Hour)}
	assert.True(t, resp.FreshFor(2*time.Hour, now))
	assert.True(t, resp.FreshFor(time.Hour, now))
	assert.False(t, resp.FreshFor(59*time.Minute, now))

	missing := &CachedResponse{}
	_, ok := missing.Age(now)
	assert.False(t, ok)
	assert.False(t, missing.FreshFor(24*time.Hour, now), "missing timestamp is treated as expired")
}

func TestNormalizeKey(t *testing.T) {
	composed := "caf\u00e9"
	decomposed := "cafe\u0301"
	assert.NotEqual(t, composed, decomposed)
	assert.Equal(t, NormalizeKey(composed), NormalizeKey(decomposed))
}

func TestIsRecordCollection(t *testing.T) {
	assert.True(t, IsRecordCollection(CollectionInventory))
	assert.True(t, IsRecordCollection(CollectionSettings))
	assert.False(t, IsRecordCollection(CollectionOfflineQueue))
	assert.False(t, IsRecordCollection("widgets"))
}
