package queue

import "github.com/google/uuid"

// IDGenerator produces action ids.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 action ids.
//
// UUIDv7 embeds a millisecond timestamp in its most significant bits, so ids
// sort roughly by enqueue time, which keeps queue dumps readable. Stateless
// and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7. Panics only if the system random
// source fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
