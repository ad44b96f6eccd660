package testutil

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// RecordedRequest is a request observed by an Upstream.
type RecordedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

// Upstream is a scriptable fake of the remote API.
//
// Routes are keyed by "METHOD /path". Unrouted requests answer 404. Calling
// SetDown(true) makes every request fail at the transport level, which is how
// tests simulate losing connectivity.
type Upstream struct {
	Server *httptest.Server

	mu       sync.Mutex
	routes   map[string]http.HandlerFunc
	requests []RecordedRequest
	down     bool
}

// NewUpstream starts a fake upstream and registers its shutdown with t.
func NewUpstream(t testing.TB) *Upstream {
	t.Helper()
	u := &Upstream{routes: make(map[string]http.HandlerFunc)}
	u.Server = httptest.NewServer(http.HandlerFunc(u.serve))
	t.Cleanup(u.Server.Close)
	return u
}

// URL returns the base URL of the fake.
func (u *Upstream) URL() string {
	return u.Server.URL
}

// Handle registers a handler for "METHOD /path".
func (u *Upstream) Handle(method, path string, h http.HandlerFunc) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.routes[method+" "+path] = h
}

// Respond registers a fixed response for "METHOD /path".
func (u *Upstream) Respond(method, path string, status int, contentType, body string) {
	u.Handle(method, path, func(w http.ResponseWriter, r *http.Request) {
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	})
}

// SetDown toggles transport-level failure for every request.
func (u *Upstream) SetDown(down bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.down = down
}

// Requests returns a copy of the requests observed so far.
func (u *Upstream) Requests() []RecordedRequest {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]RecordedRequest, len(u.requests))
	copy(out, u.requests)
	return out
}

// Count returns how many requests hit "METHOD /path".
func (u *Upstream) Count(method, path string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for _, r := range u.requests {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

func (u *Upstream) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(body))

	u.mu.Lock()
	down := u.down
	if !down {
		u.requests = append(u.requests, RecordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Header: r.Header.Clone(),
			Body:   body,
		})
	}
	h, ok := u.routes[r.Method+" "+r.URL.Path]
	u.mu.Unlock()

	if down {
		// Drop the connection without a response.
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				_ = conn.Close()
				return
			}
		}
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}
