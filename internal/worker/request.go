package worker

import (
	"net/http"
	"net/url"

	"github.com/offlinecache/offline-cache/internal/cache"
)

// Request carries one intercepted request through every stage of Fetch.
type Request struct {
	ID     string
	Method string
	URL    *url.URL
	Header http.Header
	Key    cache.Key
}

// NewRequest builds a Request and derives its cache key.
func NewRequest(id, method string, target *url.URL, header http.Header) *Request {
	if method == "" {
		method = http.MethodGet
	}
	if header == nil {
		header = http.Header{}
	}
	return &Request{
		ID:     id,
		Method: method,
		URL:    target,
		Header: header,
		Key:    cache.NewKey(method, target),
	}
}

// Outcome records how Fetch answered a request.
type Outcome string

const (
	// OutcomePassThrough means the request was not intercepted.
	OutcomePassThrough Outcome = "passthrough"
	// OutcomeCacheHit means the reply came from a cache.
	OutcomeCacheHit Outcome = "hit"
	// OutcomeNetwork means the cache missed and the network answered.
	OutcomeNetwork Outcome = "miss"
	// OutcomeFallback means neither cache nor network could answer.
	OutcomeFallback Outcome = "fallback"
)

// Reply is the result of Fetch. Response is nil for pass-through.
type Reply struct {
	Response *cache.Response
	Outcome  Outcome
	// Err holds the network error behind a fallback reply.
	Err error
}

// Intercepted reports whether the host should answer with Response.
func (r Reply) Intercepted() bool {
	return r.Outcome != OutcomePassThrough
}

const fallbackBody = "<h1>Service Unavailable</h1>"

// FallbackResponse returns the page served when neither the cache nor the
// network can answer.
func FallbackResponse() *cache.Response {
	return &cache.Response{
		Status:     http.StatusServiceUnavailable,
		StatusText: "Service Unavailable",
		Header:     http.Header{"Content-Type": []string{"text/html"}},
		Body:       []byte(fallbackBody),
	}
}
