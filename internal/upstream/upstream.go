// Package upstream is the engine's only path to the remote API.
//
// Every call is bounded by a timeout so callers can fall back to the cache
// instead of hanging. Transport failures are reported as
// ErrNetworkUnavailable; HTTP responses of any status are returned as-is and
// classified by the caller (see CheckStatus).
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds a single upstream round trip.
const DefaultTimeout = 5 * time.Second

// maxBodyBytes caps how much of an upstream body is buffered.
const maxBodyBytes = 32 << 20

// ErrNetworkUnavailable wraps every transport-level failure: refused
// connections, resets, DNS errors and timeouts.
var ErrNetworkUnavailable = errors.New("network unavailable")

// ErrBodyTooLarge reports an upstream body over the buffering cap. Such a
// response is never cached or served.
var ErrBodyTooLarge = errors.New("upstream body too large")

// hopHeaders are connection-scoped and never forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Request is a buffered outgoing request. URL is absolute.
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
}

// Key returns the cache key of the request: its full URL.
func (r *Request) Key() string {
	return r.URL.String()
}

// Clone returns a deep copy of r.
func (r *Request) Clone() *Request {
	u := *r.URL
	var body []byte
	if r.Body != nil {
		body = append([]byte(nil), r.Body...)
	}
	return &Request{Method: r.Method, URL: &u, Header: r.Header.Clone(), Body: body}
}

// Response is a fully buffered upstream response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Fetcher performs upstream round trips.
type Fetcher interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// HTTPStatusError reports a non-2xx upstream answer where the caller
// requires success.
type HTTPStatusError struct {
	Status int
	Body   []byte
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("upstream returned %d %s", e.Status, http.StatusText(e.Status))
}

// CheckStatus returns *HTTPStatusError for non-2xx responses.
func CheckStatus(resp *Response) error {
	if resp.OK() {
		return nil
	}
	return &HTTPStatusError{Status: resp.Status, Body: resp.Body}
}

// StatusOf extracts the HTTP status from an error returned by CheckStatus.
// Returns 0 for other errors.
func StatusOf(err error) int {
	var se *HTTPStatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

// Client talks to one upstream base URL.
type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	maxBody int64
}

// NewClient creates a client for base. A nil httpClient uses a dedicated
// client with default transport; a non-positive timeout uses DefaultTimeout.
func NewClient(base string, httpClient *http.Client, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url %q: %w", base, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("upstream url %q: scheme must be http or https", base)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("upstream url %q: missing host", base)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{base: u, http: httpClient, timeout: timeout, maxBody: maxBodyBytes}, nil
}

// Base returns the upstream base URL.
func (c *Client) Base() *url.URL {
	u := *c.base
	return &u
}

// Resolve turns a client-relative reference such as "/api/menu?x=1" into an
// absolute upstream URL.
func (c *Client) Resolve(ref string) (*url.URL, error) {
	rel, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", ref, err)
	}
	u := *c.base
	u.Path = c.base.Path + "/" + strings.TrimPrefix(rel.Path, "/")
	u.RawPath = ""
	u.RawQuery = rel.RawQuery
	u.Fragment = ""
	return &u, nil
}

// Timeout returns the per-request bound.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Do performs req within the client timeout and buffers the response.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request %s %s: %w", req.Method, req.URL, err)
	}
	httpReq.Header = CleanHeader(req.Header)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %v", req.Method, req.URL.Path, ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w: %v", req.Method, req.URL.Path, ErrNetworkUnavailable, err)
	}
	if int64(len(data)) > c.maxBody {
		return nil, fmt.Errorf("%s %s: %w: over %d bytes", req.Method, req.URL.Path, ErrBodyTooLarge, c.maxBody)
	}

	return &Response{
		Status: resp.StatusCode,
		Header: CleanHeader(resp.Header),
		Body:   data,
	}, nil
}

// CleanHeader returns a copy of h without hop-by-hop headers.
func CleanHeader(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		out = http.Header{}
	}
	for _, k := range hopHeaders {
		out.Del(k)
	}
	out.Del("Content-Length")
	return out
}
