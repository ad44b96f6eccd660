package schedule

import (
	"context"
	"sync"
	"time"
)

// Manual is a Scheduler that only queues tasks. Tests call RunPending to run
// them at a chosen point, which makes background refreshes deterministic.
//
// Thread-safety: Manual is safe for concurrent use via internal mutex.
type Manual struct {
	mu       sync.Mutex
	pending  []namedTask
	periodic []namedTask
	names    []string
}

type namedTask struct {
	name string
	task Task
}

// NewManual creates an empty Manual scheduler.
func NewManual() *Manual {
	return &Manual{}
}

// Go queues task until the next RunPending.
func (m *Manual) Go(name string, task Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, namedTask{name: name, task: task})
	m.names = append(m.names, name)
}

// Every registers task; it runs on each Tick.
func (m *Manual) Every(name string, _ time.Duration, task Task) (stop func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.periodic = append(m.periodic, namedTask{name: name, task: task})
	idx := len(m.periodic) - 1
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.periodic[idx].task = nil
	}
}

// RunPending runs every queued task in submission order, including tasks
// queued while running, and returns how many ran.
func (m *Manual) RunPending(ctx context.Context) int {
	ran := 0
	for {
		m.mu.Lock()
		if len(m.pending) == 0 {
			m.mu.Unlock()
			return ran
		}
		next := m.pending[0]
		m.pending = m.pending[1:]
		m.mu.Unlock()

		next.task(ctx)
		ran++
	}
}

// Tick runs every registered periodic task once.
func (m *Manual) Tick(ctx context.Context) {
	m.mu.Lock()
	tasks := make([]namedTask, len(m.periodic))
	copy(tasks, m.periodic)
	m.mu.Unlock()

	for _, t := range tasks {
		if t.task != nil {
			t.task(ctx)
		}
	}
}

// Len returns the number of queued one-shot tasks.
func (m *Manual) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Submitted returns the names of every one-shot task ever submitted.
func (m *Manual) Submitted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}
