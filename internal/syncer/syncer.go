// Package syncer replays the offline queue against the upstream API.
//
// A pass snapshots every pending and failed action, replays them one at a
// time in insertion order, records each outcome, prunes synced actions and
// announces SYNC_COMPLETE. Passes never overlap: a trigger that arrives while
// one is running is skipped. Replay is at-least-once; an action whose
// response is lost after the upstream applied it is sent again next pass.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/pantry/internal/clock"
	"github.com/roach88/pantry/internal/message"
	"github.com/roach88/pantry/internal/model"
	"github.com/roach88/pantry/internal/queue"
	"github.com/roach88/pantry/internal/upstream"
)

// Upstream sends replayed requests.
type Upstream interface {
	upstream.Fetcher
	Resolve(ref string) (*url.URL, error)
}

// Publisher receives sync announcements. *message.Broker implements it.
type Publisher interface {
	Publish(m message.Message)
}

// Summary is the outcome of one pass.
type Summary struct {
	Synced     int
	Failed     int
	Results    []message.SyncResult
	Skipped    bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// Message converts the summary to its wire form.
func (s Summary) Message() message.SyncComplete {
	results := s.Results
	if results == nil {
		results = []message.SyncResult{}
	}
	return message.SyncComplete{Synced: s.Synced, Failed: s.Failed, Results: results}
}

// Coordinator runs sync passes.
type Coordinator struct {
	queue  *queue.Queue
	up     Upstream
	pub    Publisher
	clock  clock.Clock
	logger *slog.Logger

	running atomic.Bool

	mu       sync.Mutex
	lastSync time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the clock used for pass timestamps.
func WithClock(clk clock.Clock) Option {
	return func(c *Coordinator) { c.clock = clk }
}

// WithLogger sets the coordinator logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithPublisher sets where SYNC_COMPLETE is announced.
func WithPublisher(p Publisher) Option {
	return func(c *Coordinator) { c.pub = p }
}

// New creates a coordinator replaying q against up.
func New(q *queue.Queue, up Upstream, opts ...Option) *Coordinator {
	c := &Coordinator{
		queue:  q,
		up:     up,
		clock:  clock.System{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.clock = clock.Or(c.clock)
	return c
}

// Running reports whether a pass is in progress.
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

// LastSyncTime returns when the last pass finished, or the zero time.
func (c *Coordinator) LastSyncTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSync
}

// Sync runs one pass. If another pass is running it returns immediately with
// Skipped set. Per-action failures are recorded in the summary, not returned;
// the error covers only queue access and cancellation.
func (c *Coordinator) Sync(ctx context.Context) (Summary, error) {
	if !c.running.CompareAndSwap(false, true) {
		c.logger.Debug("sync already in progress, trigger skipped")
		return Summary{Skipped: true}, nil
	}
	defer c.running.Store(false)

	sum := Summary{StartedAt: c.clock.Now()}

	snapshot, err := c.queue.Replayable(ctx)
	if err != nil {
		return sum, fmt.Errorf("sync: %w", err)
	}
	if len(snapshot) > 0 {
		c.logger.Info("sync started", "actions", len(snapshot))
	}

	for _, a := range snapshot {
		if err := ctx.Err(); err != nil {
			return sum, fmt.Errorf("sync: %w", err)
		}
		res, ok := c.replay(ctx, a)
		if !ok {
			continue
		}
		sum.Results = append(sum.Results, res)
		if res.Status == string(model.StatusSynced) {
			sum.Synced++
		} else {
			sum.Failed++
		}
	}

	if _, err := c.queue.Prune(ctx); err != nil {
		c.logger.Warn("prune synced actions failed", "error", err)
	}

	sum.FinishedAt = c.clock.Now()
	c.mu.Lock()
	c.lastSync = sum.FinishedAt
	c.mu.Unlock()

	if len(snapshot) > 0 {
		c.logger.Info("sync finished", "synced", sum.Synced, "failed", sum.Failed)
	}
	if c.pub != nil {
		c.pub.Publish(sum.Message())
	}
	return sum, nil
}

// replay sends one action and records the outcome. ok is false when the
// action vanished or changed state outside this pass.
func (c *Coordinator) replay(ctx context.Context, a model.QueuedAction) (message.SyncResult, bool) {
	log := c.logger.With("action_id", a.ID, "method", a.Method, "endpoint", a.Endpoint)

	if a.Status == model.StatusFailed {
		if _, err := c.queue.Retry(ctx, a.ID); err != nil {
			log.Warn("requeue failed action", "error", err)
			return message.SyncResult{}, false
		}
	}

	res := message.SyncResult{ID: a.ID, Method: a.Method, Endpoint: a.Endpoint}

	sendErr := c.send(ctx, a, &res)
	if sendErr == nil {
		if _, err := c.queue.MarkSynced(ctx, a.ID); err != nil {
			log.Warn("record synced action", "error", err)
			return message.SyncResult{}, false
		}
		res.Status = string(model.StatusSynced)
		log.Debug("action synced", "http_status", res.HTTPStatus)
		return res, true
	}

	if _, err := c.queue.MarkFailed(ctx, a.ID, sendErr); err != nil {
		log.Warn("record failed action", "error", err)
		return message.SyncResult{}, false
	}
	res.Status = string(model.StatusFailed)
	res.Error = sendErr.Error()
	log.Warn("action replay failed", "error", sendErr, "attempts", a.Attempts+1)
	return res, true
}

func (c *Coordinator) send(ctx context.Context, a model.QueuedAction, res *message.SyncResult) error {
	u, err := c.up.Resolve(a.Endpoint)
	if err != nil {
		return err
	}
	resp, err := c.up.Do(ctx, &upstream.Request{
		Method: a.Method,
		URL:    u,
		Header: a.Headers,
		Body:   a.Payload,
	})
	if err != nil {
		return err
	}
	res.HTTPStatus = resp.Status
	return upstream.CheckStatus(resp)
}
