package intercept

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/pantry/internal/upstream"
)

const precacheConcurrency = 4

// Precache fetches and stores refs (client-relative URLs) ahead of going
// offline. API paths use their table rule; everything else the static rule.
// Failures are logged and skipped. Returns how many were cached.
func (h *Handler) Precache(ctx context.Context, refs []string) int {
	var cached atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(precacheConcurrency)

	for _, ref := range refs {
		g.Go(func() error {
			u, err := h.up.Resolve(ref)
			if err != nil {
				h.logger.Warn("precache", "url", ref, "error", err)
				return nil
			}
			rule := h.table.Static()
			if strings.HasPrefix(u.Path, h.up.Base().Path+"/api/") {
				rule = h.table.Match(strings.TrimPrefix(u.Path, h.up.Base().Path))
			}
			req := &upstream.Request{Method: http.MethodGet, URL: u, Header: http.Header{}}
			if err := h.engine.Warm(ctx, req, rule.MaxAge); err != nil {
				h.logger.Warn("precache", "url", ref, "error", err)
				return nil
			}
			cached.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	h.logger.Info("critical assets cached", "cached", cached.Load(), "requested", len(refs))
	return int(cached.Load())
}
