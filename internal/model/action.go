package model

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Operation is the kind of write a queued action performs on an entity.
type Operation string

const (
	OperationCreate Operation = "CREATE"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

// Valid reports whether op is one of the known operations.
func (op Operation) Valid() bool {
	switch op {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// OperationForMethod maps an HTTP mutation method onto an Operation.
// Returns false for methods that are not mutations.
func OperationForMethod(method string) (Operation, bool) {
	switch strings.ToUpper(method) {
	case http.MethodPost:
		return OperationCreate, true
	case http.MethodPut, http.MethodPatch:
		return OperationUpdate, true
	case http.MethodDelete:
		return OperationDelete, true
	}
	return "", false
}

// ActionStatus is the replay state of a queued action.
type ActionStatus string

const (
	StatusPending ActionStatus = "pending"
	StatusSynced  ActionStatus = "synced"
	StatusFailed  ActionStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s ActionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSynced, StatusFailed:
		return true
	}
	return false
}

// transitions lists the legal status moves.
// Synced is terminal; Failed re-enters Pending before the next replay.
var transitions = map[ActionStatus][]ActionStatus{
	StatusPending: {StatusSynced, StatusFailed},
	StatusFailed:  {StatusPending},
}

// CanTransition reports whether an action may move from one status to another.
func CanTransition(from, to ActionStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// QueuedAction is a write captured while the upstream was unreachable.
//
// ID is generated by the client at enqueue time and never changes. Seq is the
// store-assigned insertion order used for FIFO replay.
type QueuedAction struct {
	ID         string       `json:"id"`
	Seq        int64        `json:"seq"`
	EntityName string       `json:"entity_name"`
	Operation  Operation    `json:"operation"`
	Endpoint   string       `json:"endpoint"`
	Method     string       `json:"method"`
	Headers    http.Header  `json:"headers,omitempty"`
	Payload    []byte       `json:"payload,omitempty"`
	Timestamp  time.Time    `json:"timestamp"`
	Status     ActionStatus `json:"status"`
	Attempts   int          `json:"attempts"`
	LastError  string       `json:"last_error,omitempty"`
}

// Validate checks the fields every persisted action must carry.
func (a *QueuedAction) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("queued action: id is required")
	}
	if a.Endpoint == "" {
		return fmt.Errorf("queued action %s: endpoint is required", a.ID)
	}
	if _, ok := OperationForMethod(a.Method); !ok {
		return fmt.Errorf("queued action %s: method %q is not a mutation", a.ID, a.Method)
	}
	if !a.Operation.Valid() {
		return fmt.Errorf("queued action %s: invalid operation %q", a.ID, a.Operation)
	}
	if !a.Status.Valid() {
		return fmt.Errorf("queued action %s: invalid status %q", a.ID, a.Status)
	}
	return nil
}

// EntityFromEndpoint extracts the entity name from an API path such as
// "/api/suppliers/42". Returns "" when the path is not under /api/.
func EntityFromEndpoint(endpoint string) string {
	path := endpoint
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	rest, ok := strings.CutPrefix(path, "/api/")
	if !ok {
		return ""
	}
	entity, _, _ := strings.Cut(rest, "/")
	return entity
}
