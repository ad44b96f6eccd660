package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates "action-1", "action-2", ... for deterministic
// queued action IDs.
//
// Thread-safety: SequentialIDs is safe for concurrent use via internal mutex.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator using prefix. An empty prefix
// defaults to "action".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "action"
	}
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next ID.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
