package strategy

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/roach88/pantry/internal/model"
	"github.com/roach88/pantry/internal/upstream"
)

// Response headers added by the engine.
const (
	CacheHeader  = "X-Pantry-Cache"
	SourceHeader = "X-Pantry-Source"
)

// Source records which provider produced a response.
type Source string

const (
	SourceNetwork     Source = "network"
	SourceCache       Source = "cache"
	SourceFallback    Source = "fallback"
	SourceUnavailable Source = "unavailable"
	SourceQueued      Source = "queued"
)

// Response is what a strategy hands back to the client.
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	Source   Source
	CachedAt time.Time

	// Unmodified responses are written without the diagnostic headers.
	Unmodified bool
}

// FromCache reports whether the body came from local storage.
func (r *Response) FromCache() bool {
	return r.Source == SourceCache || r.Source == SourceFallback
}

// Write sends r to w with the cache diagnostic headers unless r is
// Unmodified.
func (r *Response) Write(w http.ResponseWriter) {
	h := w.Header()
	for k, vs := range r.Header {
		h[k] = append([]string(nil), vs...)
	}
	if !r.Unmodified {
		if r.FromCache() {
			h.Set(CacheHeader, "hit")
		} else {
			h.Set(CacheHeader, "miss")
		}
		h.Set(SourceHeader, string(r.Source))
	}
	h.Set("Content-Length", strconv.Itoa(len(r.Body)))
	w.WriteHeader(r.Status)
	_, _ = w.Write(r.Body)
}

// JSON builds a JSON response from v.
func JSON(status int, v any, source Source) *Response {
	body, err := json.Marshal(v)
	if err != nil {
		body = []byte(`{"error":"internal encoding error"}`)
		status = http.StatusInternalServerError
	}
	return &Response{
		Status: status,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   body,
		Source: source,
	}
}

// Unavailable is the structured failure returned when neither the network
// nor the cache can answer.
func Unavailable(msg string) *Response {
	r := JSON(http.StatusServiceUnavailable, map[string]string{"error": msg}, SourceUnavailable)
	r.Header.Set("Cache-Control", "no-store")
	return r
}

func fromUpstream(resp *upstream.Response) *Response {
	return &Response{
		Status: resp.Status,
		Header: resp.Header.Clone(),
		Body:   resp.Body,
		Source: SourceNetwork,
	}
}

func fromCache(c *model.CachedResponse, source Source) *Response {
	return &Response{
		Status:   c.Status,
		Header:   c.Header.Clone(),
		Body:     c.Body,
		Source:   source,
		CachedAt: c.CachedAt,
	}
}
