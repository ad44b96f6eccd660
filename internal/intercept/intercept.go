// Package intercept is the sidecar's request path.
//
// Every client request is classified and dispatched: navigations go network
// first with the cached app shell as fallback, static assets and API reads
// run their strategy from the table, API writes go upstream or into the
// offline queue, and everything else is proxied untouched.
package intercept

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/roach88/pantry/internal/clock"
	"github.com/roach88/pantry/internal/model"
	"github.com/roach88/pantry/internal/queue"
	"github.com/roach88/pantry/internal/strategy"
	"github.com/roach88/pantry/internal/upstream"
)

const (
	maxRequestBody = 16 << 20
	shellMaxAge    = 24 * time.Hour
	queuedMessage  = "Request queued. It will be sent when the connection is restored."
)

// Upstream is the remote API as seen by the interceptor.
type Upstream interface {
	upstream.Fetcher
	Resolve(ref string) (*url.URL, error)
	Base() *url.URL
}

// Connectivity reports whether the upstream is believed reachable.
// RequestReplay asks for a sync pass the next time the upstream is confirmed
// reachable; it is called after a write the upstream failed to take is
// queued.
type Connectivity interface {
	IsOnline() bool
	RequestReplay()
}

// QueuedResponse is the synthetic body returned for a deferred write.
type QueuedResponse struct {
	Success   bool   `json:"success"`
	Offline   bool   `json:"offline"`
	Queued    bool   `json:"queued"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	ID        string `json:"id"`
}

// Handler is the interceptor. It implements http.Handler.
type Handler struct {
	engine *strategy.Engine
	table  *strategy.Table
	queue  *queue.Queue
	up     Upstream
	conn   Connectivity
	proxy  *httputil.ReverseProxy
	clock  clock.Clock
	logger *slog.Logger

	shellKey string
}

// Option configures a Handler.
type Option func(*Handler)

// WithClock sets the clock used for queued response timestamps.
func WithClock(c clock.Clock) Option {
	return func(h *Handler) { h.clock = c }
}

// WithLogger sets the handler logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// New creates the interceptor.
func New(engine *strategy.Engine, table *strategy.Table, q *queue.Queue, up Upstream, conn Connectivity, opts ...Option) (*Handler, error) {
	h := &Handler{
		engine: engine,
		table:  table,
		queue:  q,
		up:     up,
		conn:   conn,
		clock:  clock.System{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.clock = clock.Or(h.clock)

	shell, err := up.Resolve("/")
	if err != nil {
		return nil, fmt.Errorf("resolve app shell: %w", err)
	}
	h.shellKey = shell.String()
	engine.Pin(h.shellKey)

	base := up.Base()
	h.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(base)
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			h.logger.Debug("passthrough failed", "method", r.Method, "path", r.URL.Path, "error", err)
			strategy.JSON(http.StatusBadGateway, map[string]string{"error": "upstream unreachable"}, strategy.SourceUnavailable).Write(w)
		},
	}
	return h, nil
}

// ShellKey returns the cache key of the app shell document.
func (h *Handler) ShellKey() string {
	return h.shellKey
}

// ServeHTTP classifies r and dispatches it.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	kind := Classify(r)
	if kind == Passthrough {
		h.proxy.ServeHTTP(w, r)
		return
	}

	req, err := h.buffer(r)
	if err != nil {
		strategy.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()}, strategy.SourceUnavailable).Write(w)
		return
	}

	ctx := r.Context()
	var resp *strategy.Response
	switch kind {
	case Navigation:
		resp = h.navigate(ctx, req)
	case StaticAsset:
		resp = h.engine.Execute(ctx, req, h.table.Static())
	case APIRead:
		resp = h.engine.Execute(ctx, req, h.table.Match(r.URL.Path))
	case APIMutation:
		resp = h.mutate(ctx, req, r.URL.RequestURI())
	}
	h.logger.Debug("request intercepted",
		"kind", kind,
		"method", r.Method,
		"path", r.URL.Path,
		"status", resp.Status,
		"source", resp.Source,
	)
	resp.Write(w)
}

func (h *Handler) buffer(r *http.Request) (*upstream.Request, error) {
	var body []byte
	if r.Body != nil {
		data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		if len(data) > maxRequestBody {
			return nil, fmt.Errorf("request body exceeds %d bytes", maxRequestBody)
		}
		body = data
	}
	u, err := h.up.Resolve(r.URL.RequestURI())
	if err != nil {
		return nil, err
	}
	return &upstream.Request{
		Method: r.Method,
		URL:    u,
		Header: upstream.CleanHeader(r.Header),
		Body:   body,
	}, nil
}

// navigate fetches the document and stores it as the app shell. Offline, any
// route gets the shell so client-side routing can take over.
func (h *Handler) navigate(ctx context.Context, req *upstream.Request) *strategy.Response {
	return h.engine.Resolve(ctx, req, strategy.NetworkFirst, strategy.Chain{
		h.engine.Network(shellMaxAge, h.shellKey),
		h.engine.CachedAt(h.shellKey, 0),
		strategy.Static("placeholder", placeholder),
	})
}

// mutate sends a write upstream, or queues it when offline or rejected. A
// successful reply is passed back unmodified.
func (h *Handler) mutate(ctx context.Context, req *upstream.Request, endpoint string) *strategy.Response {
	attempted := h.conn.IsOnline()
	if attempted {
		resp, err := h.up.Do(ctx, req)
		if err == nil {
			err = upstream.CheckStatus(resp)
		}
		if err == nil {
			return &strategy.Response{Status: resp.Status, Header: resp.Header, Body: resp.Body, Source: strategy.SourceNetwork, Unmodified: true}
		}
		h.logger.Info("write failed, queueing", "method", req.Method, "endpoint", endpoint, "error", err)
	}

	a, err := queue.FromRequest(req.Method, endpoint, req.Header, req.Body)
	if err != nil {
		return strategy.Unavailable(err.Error())
	}
	stored, err := h.queue.Enqueue(ctx, a)
	if err != nil {
		h.logger.Error("queue write", "method", req.Method, "endpoint", endpoint, "error", err)
		return strategy.Unavailable("request could not be queued")
	}
	if attempted {
		// The monitor still believes the upstream is up, so no reconnect
		// transition would replay this action.
		h.conn.RequestReplay()
	}
	return QueuedReply(stored, h.clock.Now())
}

// QueuedReply builds the 202 answer for a queued action.
func QueuedReply(a model.QueuedAction, now time.Time) *strategy.Response {
	return strategy.JSON(http.StatusAccepted, QueuedResponse{
		Success:   true,
		Offline:   true,
		Queued:    true,
		Message:   queuedMessage,
		Timestamp: now.UnixMilli(),
		ID:        a.ID,
	}, strategy.SourceQueued)
}
