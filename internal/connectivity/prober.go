package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/roach88/pantry/internal/schedule"
	"github.com/roach88/pantry/internal/upstream"
)

// Upstream is the probe target.
type Upstream interface {
	upstream.Fetcher
	Resolve(ref string) (*url.URL, error)
}

// Prober turns periodic HEAD requests into connectivity events.
// Any answer below 500 counts as reachable.
type Prober struct {
	up      Upstream
	path    string
	monitor *Monitor
	logger  *slog.Logger
}

// NewProber creates a prober for path on up.
func NewProber(up Upstream, path string, m *Monitor, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		path = "/"
	}
	return &Prober{up: up, path: path, monitor: m, logger: logger}
}

// Probe checks the upstream once and updates the monitor.
func (p *Prober) Probe(ctx context.Context) bool {
	online := p.reachable(ctx)
	p.monitor.SetOnline(online)
	return online
}

func (p *Prober) reachable(ctx context.Context) bool {
	u, err := p.up.Resolve(p.path)
	if err != nil {
		p.logger.Warn("probe path", "path", p.path, "error", err)
		return false
	}
	resp, err := p.up.Do(ctx, &upstream.Request{Method: http.MethodHead, URL: u, Header: http.Header{}})
	if err != nil {
		p.logger.Debug("probe failed", "path", p.path, "error", err)
		return false
	}
	return resp.Status < http.StatusInternalServerError
}

// Start probes every interval on sched until stop is called.
func (p *Prober) Start(sched schedule.Scheduler, interval time.Duration) (stop func()) {
	return sched.Every("connectivity probe", interval, func(ctx context.Context) {
		p.Probe(ctx)
	})
}
