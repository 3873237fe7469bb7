package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/offlinecache/offline-cache/internal/cache"
	"github.com/offlinecache/offline-cache/internal/logging"
)

// originStub serves fixed bodies per path and records what it received.
type originStub struct {
	server *httptest.Server

	mu       sync.Mutex
	bodies   map[string]string
	statuses map[string]int
	hits     map[string]int
	headers  []http.Header
}

func newOriginStub(t *testing.T, bodies map[string]string) *originStub {
	t.Helper()
	stub := &originStub{
		bodies:   bodies,
		statuses: map[string]int{},
		hits:     map[string]int{},
	}
	stub.server = httptest.NewServer(http.HandlerFunc(stub.serve))
	t.Cleanup(stub.server.Close)
	return stub
}

func (s *originStub) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits[r.URL.Path]++
	s.headers = append(s.headers, r.Header.Clone())
	body, ok := s.bodies[r.URL.Path]
	status := s.statuses[r.URL.Path]
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func (s *originStub) setBody(path, body string) {
	s.mu.Lock()
	s.bodies[path] = body
	s.mu.Unlock()
}

func (s *originStub) setStatus(path string, status int) {
	s.mu.Lock()
	s.statuses[path] = status
	s.mu.Unlock()
}

func (s *originStub) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *originStub) lastHeader() http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.headers) == 0 {
		return nil
	}
	return s.headers[len(s.headers)-1]
}

func (s *originStub) url(t *testing.T) *url.URL {
	t.Helper()
	u, err := url.Parse(s.server.URL)
	if err != nil {
		t.Fatalf("parse origin url: %v", err)
	}
	return u
}

// clientFunc adapts a function to Fetcher.
type clientFunc func(*http.Request) (*http.Response, error)

func (f clientFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

var errOffline = errors.New("network unreachable")

func offlineClient() Fetcher {
	return clientFunc(func(*http.Request) (*http.Response, error) {
		return nil, errOffline
	})
}

func textResponse(req *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     http.Header{"Content-Type": []string{"text/plain"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}
}

func newTestStorage(t *testing.T) cache.Storage {
	t.Helper()
	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestWorker(t *testing.T, origin *url.URL, client Fetcher, storage cache.Storage, manifest ...string) *Worker {
	t.Helper()
	w, err := New(Options{
		Version:  "v5",
		Origin:   origin,
		Manifest: manifest,
		Storage:  storage,
		Client:   client,
		Logger:   logging.NewDiscardLogger(),
	})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	return w
}

func getRequest(t *testing.T, origin *url.URL, path string) *Request {
	t.Helper()
	target := origin.ResolveReference(&url.URL{Path: path})
	return NewRequest("req-"+strings.Trim(path, "/"), http.MethodGet, target, http.Header{})
}

func settle(t *testing.T, w *Worker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Settle(ctx); err != nil {
		t.Fatalf("settle: %v", err)
	}
}

func seed(t *testing.T, storage cache.Storage, name string, key cache.Key, body string) {
	t.Helper()
	c, err := storage.Open(context.Background(), name)
	if err != nil {
		t.Fatalf("open %s: %v", name, err)
	}
	resp := &cache.Response{
		Status:     http.StatusOK,
		StatusText: "OK",
		Header:     http.Header{"Content-Type": []string{"text/plain"}},
		Body:       []byte(body),
	}
	if err := c.Put(context.Background(), key, resp); err != nil {
		t.Fatalf("seed %s: %v", name, err)
	}
}

func storedBody(t *testing.T, storage cache.Storage, key cache.Key) string {
	t.Helper()
	resp, err := storage.Match(context.Background(), key)
	if err != nil {
		t.Fatalf("match %s: %v", key, err)
	}
	return string(resp.Body)
}
