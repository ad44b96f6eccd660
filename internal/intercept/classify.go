package intercept

import (
	"net/http"
	"path"
	"strings"
)

// Kind is how a request is handled.
type Kind int

const (
	Passthrough Kind = iota
	Navigation
	StaticAsset
	APIRead
	APIMutation
)

func (k Kind) String() string {
	switch k {
	case Navigation:
		return "navigation"
	case StaticAsset:
		return "static"
	case APIRead:
		return "api_read"
	case APIMutation:
		return "api_mutation"
	default:
		return "passthrough"
	}
}

var staticExtensions = map[string]bool{
	".js": true, ".mjs": true, ".css": true, ".map": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".avif": true,
	".svg": true, ".ico": true,
	".woff": true, ".woff2": true, ".ttf": true, ".otf": true, ".eot": true,
	".json": true, ".webmanifest": true,
}

// Build tool and hot reload endpoints are never cached.
var devPrefixes = []string{
	"/@vite/",
	"/@fs/",
	"/@id/",
	"/@react-refresh",
	"/node_modules/.vite/",
	"/__webpack_hmr",
	"/sockjs-node",
}

// Classify decides how r is handled.
func Classify(r *http.Request) Kind {
	p := r.URL.Path
	if isDevPath(p) {
		return Passthrough
	}
	if strings.HasPrefix(p, "/api/") {
		switch r.Method {
		case http.MethodGet:
			return APIRead
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			return APIMutation
		}
		return Passthrough
	}
	if r.Method != http.MethodGet {
		return Passthrough
	}
	if isNavigation(r) {
		return Navigation
	}
	if isStatic(p) {
		return StaticAsset
	}
	return Passthrough
}

func isDevPath(p string) bool {
	for _, prefix := range devPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return strings.Contains(path.Base(p), ".hot-update.")
}

func isNavigation(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return prefersHTML(r.Header.Get("Accept"))
}

// prefersHTML reports whether text/html is the first media type in accept.
func prefersHTML(accept string) bool {
	first, _, _ := strings.Cut(accept, ",")
	mt, _, _ := strings.Cut(first, ";")
	return strings.TrimSpace(strings.ToLower(mt)) == "text/html"
}

func isStatic(p string) bool {
	if strings.HasPrefix(p, "/assets/") {
		return true
	}
	return staticExtensions[strings.ToLower(path.Ext(p))]
}
