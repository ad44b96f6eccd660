// Package model provides the shared record types of the offline sync engine.
//
// This package contains type definitions and their invariants only. All other
// internal packages import model; model imports nothing internal.
//
// Key design constraints:
//   - QueuedAction status transitions are monotonic; nothing leaves Synced
//   - Timestamps are persisted as Unix milliseconds
//   - Every key crossing the store boundary is NFC-normalized (see NormalizeKey)
package model
