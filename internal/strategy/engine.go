package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/pantry/internal/clock"
	"github.com/roach88/pantry/internal/model"
	"github.com/roach88/pantry/internal/schedule"
	"github.com/roach88/pantry/internal/store"
	"github.com/roach88/pantry/internal/upstream"
)

// ErrCacheMiss means no usable cached response exists for a key: either
// nothing is stored or the stored copy is older than the allowed max age.
var ErrCacheMiss = errors.New("cache miss")

// revalidateFraction of max age after which a cache-first hit triggers a
// background refresh.
const revalidateFraction = 0.75

// ResponseCache persists upstream responses by URL.
type ResponseCache interface {
	GetResponse(ctx context.Context, url string) (*model.CachedResponse, error)
	PutResponse(ctx context.Context, r model.CachedResponse) error
	DeleteResponse(ctx context.Context, url string) error
}

// Engine executes caching strategies.
type Engine struct {
	cache   ResponseCache
	fetcher upstream.Fetcher
	sched   schedule.Scheduler
	clock   clock.Clock
	logger  *slog.Logger

	flight       singleflight.Group
	revalidating sync.Map // url -> struct{}
	pinned       sync.Map // url -> struct{}, never evicted on read
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source used for freshness checks.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine. Background refreshes are submitted to sched.
func NewEngine(cache ResponseCache, fetcher upstream.Fetcher, sched schedule.Scheduler, opts ...Option) *Engine {
	e := &Engine{
		cache:   cache,
		fetcher: fetcher,
		sched:   sched,
		clock:   clock.System{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.clock = clock.Or(e.clock)
	return e
}

// Pin exempts key from eviction on read. The app shell is pinned because it
// is served at any age.
func (e *Engine) Pin(key string) {
	e.pinned.Store(key, struct{}{})
}

// Execute runs rule's strategy for req.
func (e *Engine) Execute(ctx context.Context, req *upstream.Request, rule Rule) *Response {
	switch rule.Strategy {
	case CacheFirst:
		return e.CacheFirst(ctx, req, rule.MaxAge)
	default:
		return e.NetworkFirst(ctx, req, rule.MaxAge)
	}
}

// NetworkFirst answers from the network and caches 2xx responses. On a
// transport failure it serves a cached copy no older than maxAge, else
// Unavailable.
func (e *Engine) NetworkFirst(ctx context.Context, req *upstream.Request, maxAge time.Duration) *Response {
	return e.Resolve(ctx, req, NetworkFirst, Chain{
		e.Network(maxAge),
		e.Cached(maxAge),
	})
}

// CacheFirst answers from a cached copy no older than maxAge. Once the copy
// is past three quarters of maxAge a background refresh is scheduled; at most
// one refresh per URL is in flight. Without a fresh copy it falls through to
// the network.
func (e *Engine) CacheFirst(ctx context.Context, req *upstream.Request, maxAge time.Duration) *Response {
	return e.Resolve(ctx, req, CacheFirst, Chain{
		e.CachedRevalidating(maxAge),
		e.Network(maxAge),
	})
}

// Resolve evaluates chain for req and logs which provider answered.
func (e *Engine) Resolve(ctx context.Context, req *upstream.Request, kind Kind, chain Chain) *Response {
	resp, by := chain.Resolve(ctx, req)
	e.logger.Debug("strategy resolved",
		"strategy", kind,
		"method", req.Method,
		"url", req.Key(),
		"provider", by,
		"status", resp.Status,
	)
	return resp
}

// Network fetches req upstream. 2xx responses are cached under the request
// URL and every alias key. Non-2xx responses are returned live and not
// cached. Transport failures decline.
func (e *Engine) Network(maxAge time.Duration, aliases ...string) Provider {
	return ProviderFunc("network", func(ctx context.Context, req *upstream.Request) (*Response, bool) {
		resp, err := e.fetch(ctx, req)
		if err != nil {
			e.logger.Debug("network fetch failed", "url", req.Key(), "error", err)
			return nil, false
		}
		if resp.OK() && req.Method == http.MethodGet {
			e.save(ctx, req.Key(), resp, maxAge)
			for _, key := range aliases {
				e.save(ctx, key, resp, maxAge)
			}
		}
		return fromUpstream(resp), true
	})
}

// Cached serves the copy stored under the request URL if it is no older than
// maxAge.
func (e *Engine) Cached(maxAge time.Duration) Provider {
	return ProviderFunc("cache", func(ctx context.Context, req *upstream.Request) (*Response, bool) {
		c, err := e.Lookup(ctx, req.Key(), maxAge)
		if err != nil {
			return nil, false
		}
		return fromCache(c, SourceCache), true
	})
}

// CachedRevalidating is Cached plus stale-while-revalidate.
func (e *Engine) CachedRevalidating(maxAge time.Duration) Provider {
	return ProviderFunc("cache", func(ctx context.Context, req *upstream.Request) (*Response, bool) {
		c, err := e.Lookup(ctx, req.Key(), maxAge)
		if err != nil {
			return nil, false
		}
		if age, _ := c.Age(e.clock.Now()); float64(age) > revalidateFraction*float64(maxAge) {
			e.revalidate(req, maxAge)
		}
		return fromCache(c, SourceCache), true
	})
}

// CachedAt serves whatever is stored under key, regardless of the request
// URL. A non-positive maxAge accepts a copy of any age.
func (e *Engine) CachedAt(key string, maxAge time.Duration) Provider {
	return ProviderFunc("cache:"+key, func(ctx context.Context, _ *upstream.Request) (*Response, bool) {
		c, err := e.cache.GetResponse(ctx, key)
		if err != nil {
			return nil, false
		}
		if maxAge > 0 && !c.FreshFor(maxAge, e.clock.Now()) {
			return nil, false
		}
		return fromCache(c, SourceFallback), true
	})
}

// Lookup returns the response cached under key when it is no older than
// maxAge. Entries without a timestamp count as expired. Misses and stale
// entries return ErrCacheMiss; stale entries are deleted unless pinned.
func (e *Engine) Lookup(ctx context.Context, key string, maxAge time.Duration) (*model.CachedResponse, error) {
	c, err := e.cache.GetResponse(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("lookup %s: %w", key, ErrCacheMiss)
	}
	if err != nil {
		e.logger.Warn("response cache read failed", "url", key, "error", err)
		return nil, fmt.Errorf("lookup %s: %w: %v", key, ErrCacheMiss, err)
	}
	if !c.FreshFor(maxAge, e.clock.Now()) {
		e.evict(ctx, key)
		return nil, fmt.Errorf("lookup %s: stale: %w", key, ErrCacheMiss)
	}
	return c, nil
}

func (e *Engine) evict(ctx context.Context, key string) {
	if _, ok := e.pinned.Load(key); ok {
		return
	}
	if err := e.cache.DeleteResponse(ctx, key); err != nil {
		e.logger.Warn("stale response eviction failed", "url", key, "error", err)
	}
}

// Warm fetches req and caches it under maxAge. It is used to precache
// critical assets.
func (e *Engine) Warm(ctx context.Context, req *upstream.Request, maxAge time.Duration) error {
	resp, err := e.fetch(ctx, req)
	if err != nil {
		return fmt.Errorf("warm %s: %w", req.Key(), err)
	}
	if err := upstream.CheckStatus(resp); err != nil {
		return fmt.Errorf("warm %s: %w", req.Key(), err)
	}
	if err := e.put(ctx, req.Key(), resp, maxAge); err != nil {
		return fmt.Errorf("warm %s: %w", req.Key(), err)
	}
	return nil
}

// Revalidating reports whether a background refresh for url is in flight.
func (e *Engine) Revalidating(url string) bool {
	_, ok := e.revalidating.Load(url)
	return ok
}

func (e *Engine) revalidate(req *upstream.Request, maxAge time.Duration) {
	key := req.Key()
	if _, busy := e.revalidating.LoadOrStore(key, struct{}{}); busy {
		return
	}
	bg := req.Clone()
	e.sched.Go("revalidate "+key, func(ctx context.Context) {
		defer e.revalidating.Delete(key)
		resp, err := e.fetch(ctx, bg)
		if err != nil {
			e.logger.Debug("revalidate failed", "url", key, "error", err)
			return
		}
		if !resp.OK() {
			e.logger.Debug("revalidate skipped", "url", key, "status", resp.Status)
			return
		}
		e.save(ctx, key, resp, maxAge)
	})
}

// fetch coalesces concurrent GETs for the same URL into one round trip. The
// shared call is detached from the caller that started it, so a cancelled
// caller only abandons its own wait; the fetcher timeout still bounds it.
func (e *Engine) fetch(ctx context.Context, req *upstream.Request) (*upstream.Response, error) {
	if req.Method != http.MethodGet {
		return e.fetcher.Do(ctx, req)
	}
	shared := context.WithoutCancel(ctx)
	ch := e.flight.DoChan(req.Key(), func() (any, error) {
		return e.fetcher.Do(shared, req)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s %s: %w: %v", req.Method, req.URL.Path, upstream.ErrNetworkUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*upstream.Response), nil
	}
}

func (e *Engine) save(ctx context.Context, key string, resp *upstream.Response, maxAge time.Duration) {
	if err := e.put(ctx, key, resp, maxAge); err != nil {
		e.logger.Warn("response cache write failed", "url", key, "error", err)
	}
}

func (e *Engine) put(ctx context.Context, key string, resp *upstream.Response, maxAge time.Duration) error {
	return e.cache.PutResponse(ctx, model.CachedResponse{
		URL:      key,
		Status:   resp.Status,
		Header:   resp.Header,
		Body:     resp.Body,
		CachedAt: e.clock.Now(),
		MaxAge:   maxAge,
	})
}
