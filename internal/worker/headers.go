package worker

import (
	"net/http"
	"net/textproto"

	"github.com/offlinecache/offline-cache/internal/version"
)

// hopByHopHeaders lists the RFC 7230 connection-scoped headers.
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Proxy-Connection":    {},
}

// IsHopByHopHeader reports whether key is scoped to a single connection and
// must not cross the proxy in either direction.
func IsHopByHopHeader(key string) bool {
	_, ok := hopByHopHeaders[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}

// CopyHeaders appends every end-to-end header of src to dst.
func CopyHeaders(dst, src http.Header) {
	for key, values := range src {
		if IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// prepareNetworkHeaders removes Accept-Encoding so stored bodies are the
// decoded representation, and sets a User-Agent when none was sent.
func prepareNetworkHeaders(header http.Header) {
	header.Del("Accept-Encoding")
	if header.Get("User-Agent") == "" {
		header.Set("User-Agent", version.UserAgent())
	}
}
