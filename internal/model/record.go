package model

import (
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Collection names a structured collection in the local database.
type Collection string

const (
	CollectionInventory     Collection = "inventory"
	CollectionMenu          Collection = "menu"
	CollectionSuppliers     Collection = "suppliers"
	CollectionUsers         Collection = "users"
	CollectionReports       Collection = "reports"
	CollectionSettings      Collection = "settings"
	CollectionOfflineQueue  Collection = "offline_queue"
	CollectionCacheMetadata Collection = "cache_metadata"
)

// RecordCollections are the collections backed by the generic record table.
// The offline queue and cache metadata have dedicated tables.
var RecordCollections = []Collection{
	CollectionInventory,
	CollectionMenu,
	CollectionSuppliers,
	CollectionUsers,
	CollectionReports,
	CollectionSettings,
}

// IsRecordCollection reports whether c is stored in the generic record table.
func IsRecordCollection(c Collection) bool {
	for _, rc := range RecordCollections {
		if rc == c {
			return true
		}
	}
	return false
}

// Record is one row of a structured collection.
// Status and Timestamp are indexed for lookups; Data is opaque JSON.
type Record struct {
	Key       string          `json:"key"`
	Status    string          `json:"status,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// CacheEntry is a value in the ephemeral TTL cache.
// A zero ExpiryAt means the entry never expires.
type CacheEntry struct {
	Key      string    `json:"key"`
	Payload  []byte    `json:"payload"`
	StoredAt time.Time `json:"stored_at"`
	ExpiryAt time.Time `json:"expiry_at,omitempty"`
}

// Expired reports whether the entry is stale at now.
// An entry is still fresh at exactly its expiry instant.
func (e CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiryAt.IsZero() && now.After(e.ExpiryAt)
}

// StoreMetadata answers freshness queries for a whole collection.
type StoreMetadata struct {
	CollectionKey Collection `json:"collection_key"`
	LastBulkWrite time.Time  `json:"last_bulk_write"`
	RecordCount   int        `json:"record_count"`
}

// CachedResponse is an upstream response persisted by the caching strategies,
// keyed by the full request URL.
type CachedResponse struct {
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	CachedAt time.Time
	MaxAge   time.Duration
}

// Age returns how old the response is at now.
// A response without a timestamp reports ok=false and must be treated as expired.
func (r *CachedResponse) Age(now time.Time) (age time.Duration, ok bool) {
	if r.CachedAt.IsZero() {
		return 0, false
	}
	return now.Sub(r.CachedAt), true
}

// FreshFor reports whether the response may be served under maxAge at now.
func (r *CachedResponse) FreshFor(maxAge time.Duration, now time.Time) bool {
	age, ok := r.Age(now)
	return ok && age <= maxAge
}

// NormalizeKey returns the NFC form of a storage key so that visually
// identical keys address the same row.
func NormalizeKey(key string) string {
	return norm.NFC.String(key)
}
