// Package store provides SQLite-backed durable storage for the offline sync engine.
//
// The store holds four kinds of data in one database file:
//   - kv_cache: Ephemeral TTL key-value cache (lazy eviction on read)
//   - records: Structured collections (inventory, menu, suppliers, users, reports, settings)
//   - offline_queue: Durable FIFO log of deferred writes
//   - responses: Upstream responses persisted by the caching strategies
//
// cache_metadata tracks the last bulk write of every record collection and
// answers IsFresh queries.
//
// # Ordering
//
// The offline queue is ordered by its seq INTEGER PRIMARY KEY AUTOINCREMENT
// column, never by timestamp, so replay order is insertion order even when
// the wall clock moves backwards.
//
// # Schema
//
// Schema changes are additive and tracked with PRAGMA user_version. Opening an
// older database runs the missing migrations; existing tables and rows are
// never dropped.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - Single open connection: every write is atomic per record
//
// All keys are NFC-normalized at the store boundary (model.NormalizeKey).
package store
