package intercept

import (
	"net/http"

	"github.com/roach88/pantry/internal/strategy"
)

// placeholder is served for a navigation when neither the network nor a
// cached app shell is available. It reloads itself until one is.
var placeholder = &strategy.Response{
	Status: http.StatusServiceUnavailable,
	Header: http.Header{
		"Content-Type":  {"text/html; charset=utf-8"},
		"Cache-Control": {"no-store"},
	},
	Body: []byte(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width,initial-scale=1">
<meta http-equiv="refresh" content="5">
<title>Reconnecting</title>
</head>
<body>
<p>Waiting for the connection. This page reloads automatically.</p>
</body>
</html>
`),
	Source: strategy.SourceFallback,
}
