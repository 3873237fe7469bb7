package worker

import (
	"context"
	"fmt"
	"net/http"

	"github.com/offlinecache/offline-cache/internal/cache"
)

// fetchNetwork issues the request against the origin. Any HTTP status counts
// as a resolved fetch; only transport or body read failures are errors.
func (w *Worker) fetchNetwork(ctx context.Context, req *Request) (*cache.Response, error) {
	outbound, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build network request: %w", err)
	}
	CopyHeaders(outbound.Header, req.Header)
	prepareNetworkHeaders(outbound.Header)

	resp, err := w.client.Do(outbound)
	if err != nil {
		return nil, fmt.Errorf("network request: %w", err)
	}
	return cache.ReadResponse(resp)
}
