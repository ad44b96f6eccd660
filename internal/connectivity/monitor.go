// Package connectivity tracks whether the upstream is reachable.
//
// Platform events (or the Prober) call SetOnline. An offline to online
// transition schedules a sync pass when the queue holds actions, and every
// transition is announced as CONNECTIVITY_CHANGED. A write that failed while
// the monitor believed it was online asks for the same pass on the next
// online report.
package connectivity

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/pantry/internal/clock"
	"github.com/roach88/pantry/internal/message"
	"github.com/roach88/pantry/internal/schedule"
	"github.com/roach88/pantry/internal/syncer"
)

// Syncer runs sync passes.
type Syncer interface {
	Sync(ctx context.Context) (syncer.Summary, error)
	LastSyncTime() time.Time
}

// Counter reports how many items a store holds.
type Counter func(ctx context.Context) (int, error)

// Publisher receives connectivity announcements.
type Publisher interface {
	Publish(m message.Message)
}

// Status is the snapshot exposed to observers.
type Status struct {
	IsOnline          bool
	HasCachedData     bool
	HasPendingActions bool
	PendingActions    int
	LastSyncTime      time.Time
	LastOnline        time.Time
}

// MarshalJSON encodes timestamps as Unix milliseconds, 0 meaning never.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		IsOnline          bool  `json:"isOnline"`
		HasCachedData     bool  `json:"hasCachedData"`
		HasPendingActions bool  `json:"hasPendingActions"`
		PendingActions    int   `json:"pendingActions"`
		LastSyncTime      int64 `json:"lastSyncTime"`
		LastOnline        int64 `json:"lastOnline"`
	}{
		IsOnline:          s.IsOnline,
		HasCachedData:     s.HasCachedData,
		HasPendingActions: s.HasPendingActions,
		PendingActions:    s.PendingActions,
		LastSyncTime:      unixMilli(s.LastSyncTime),
		LastOnline:        unixMilli(s.LastOnline),
	})
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// Monitor holds the current connectivity state.
type Monitor struct {
	sched   schedule.Scheduler
	syncer  Syncer
	pending Counter
	cached  Counter
	pub     Publisher
	clock   clock.Clock
	logger  *slog.Logger

	mu         sync.Mutex
	online     bool
	lastOnline time.Time
	replayOwed bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithSyncer sets the coordinator run on reconnect.
func WithSyncer(s Syncer) Option {
	return func(m *Monitor) { m.syncer = s }
}

// WithPending sets the pending action counter.
func WithPending(c Counter) Option {
	return func(m *Monitor) { m.pending = c }
}

// WithCached sets the cached response counter.
func WithCached(c Counter) Option {
	return func(m *Monitor) { m.cached = c }
}

// WithPublisher sets where transitions are announced.
func WithPublisher(p Publisher) Option {
	return func(m *Monitor) { m.pub = p }
}

// WithClock sets the monitor clock.
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithLogger sets the monitor logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// Offline starts the monitor in the offline state.
func Offline() Option {
	return func(m *Monitor) { m.online = false }
}

// NewMonitor creates a monitor that starts online. Reconnect syncs are
// submitted to sched.
func NewMonitor(sched schedule.Scheduler, opts ...Option) *Monitor {
	m := &Monitor{
		sched:  sched,
		clock:  clock.System{},
		logger: slog.Default(),
		online: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.clock = clock.Or(m.clock)
	if m.online {
		m.lastOnline = m.clock.Now()
	}
	return m
}

// IsOnline reports the current state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// LastOnline returns when the upstream was last known reachable.
func (m *Monitor) LastOnline() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastOnline
}

// SetOnline records a platform connectivity event and reports whether the
// state changed.
func (m *Monitor) SetOnline(online bool) bool {
	now := m.clock.Now()

	m.mu.Lock()
	prev := m.online
	m.online = online
	owed := false
	if online {
		m.lastOnline = now
		owed = m.replayOwed
		m.replayOwed = false
	}
	m.mu.Unlock()

	if prev == online {
		if owed {
			m.syncOnReconnect()
		}
		return false
	}

	m.logger.Info("connectivity changed", "online", online)
	if m.pub != nil {
		m.pub.Publish(message.ConnectivityChanged{Online: online, Timestamp: now.UnixMilli()})
	}
	if online {
		m.syncOnReconnect()
	}
	return true
}

// RequestReplay schedules a sync for the next time the upstream is reported
// reachable, even when no offline state was observed in between.
func (m *Monitor) RequestReplay() {
	m.mu.Lock()
	m.replayOwed = true
	m.mu.Unlock()
}

func (m *Monitor) syncOnReconnect() {
	if m.syncer == nil {
		return
	}
	m.sched.Go("sync on reconnect", func(ctx context.Context) {
		if m.pending != nil {
			n, err := m.pending(ctx)
			if err != nil {
				m.logger.Warn("count pending actions", "error", err)
				return
			}
			if n == 0 {
				return
			}
		}
		if _, err := m.syncer.Sync(ctx); err != nil {
			m.logger.Warn("sync on reconnect failed", "error", err)
		}
	})
}

// Status returns the observer snapshot. Counter failures are logged and
// reported as empty.
func (m *Monitor) Status(ctx context.Context) Status {
	m.mu.Lock()
	st := Status{IsOnline: m.online, LastOnline: m.lastOnline}
	m.mu.Unlock()

	if m.pending != nil {
		n, err := m.pending(ctx)
		if err != nil {
			m.logger.Warn("count pending actions", "error", err)
		}
		st.PendingActions = n
		st.HasPendingActions = n > 0
	}
	if m.cached != nil {
		n, err := m.cached(ctx)
		if err != nil {
			m.logger.Warn("count cached responses", "error", err)
		}
		st.HasCachedData = n > 0
	}
	if m.syncer != nil {
		st.LastSyncTime = m.syncer.LastSyncTime()
	}
	return st
}
