package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/offlinecache/offline-cache/internal/cache"
	"github.com/offlinecache/offline-cache/internal/logging"
)

// State is the lifecycle position of a Worker.
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
)

// ErrInvalidState is returned when a lifecycle step is requested out of order.
var ErrInvalidState = errors.New("invalid lifecycle state")

// Fetcher performs network requests; *http.Client satisfies it.
type Fetcher interface {
	Do(*http.Request) (*http.Response, error)
}

// Options configures a Worker.
type Options struct {
	// Version names the current cache. Caches whose name does not start with
	// it are removed on activation.
	Version string
	// Origin is the base URL manifest entries are resolved against.
	Origin *url.URL
	// Manifest lists the URLs pre-cached on install, in order.
	Manifest []string
	Storage  cache.Storage
	Client   Fetcher
	Logger   *logrus.Logger
}

// Worker owns the lifecycle handlers for one cache version.
type Worker struct {
	version  string
	origin   *url.URL
	manifest []*url.URL
	storage  cache.Storage
	client   Fetcher
	logger   *logrus.Logger

	mu    sync.Mutex
	state State

	pending sync.WaitGroup
}

// New validates opts and returns a Worker in the parsed state.
func New(opts Options) (*Worker, error) {
	if strings.TrimSpace(opts.Version) == "" {
		return nil, errors.New("cache version is required")
	}
	if err := cache.ValidateName(opts.Version); err != nil {
		return nil, fmt.Errorf("cache version %q: %w", opts.Version, err)
	}
	if opts.Origin == nil || opts.Origin.Host == "" {
		return nil, errors.New("origin is required")
	}
	if opts.Storage == nil {
		return nil, errors.New("cache storage is required")
	}
	if opts.Client == nil {
		return nil, errors.New("network client is required")
	}

	manifest, err := ResolveManifest(opts.Origin, opts.Manifest)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}

	return &Worker{
		version:  opts.Version,
		origin:   opts.Origin,
		manifest: manifest,
		storage:  opts.Storage,
		client:   opts.Client,
		logger:   logger,
		state:    StateParsed,
	}, nil
}

// ResolveManifest resolves every entry against origin, keeping order.
func ResolveManifest(origin *url.URL, entries []string) ([]*url.URL, error) {
	result := make([]*url.URL, 0, len(entries))
	for i, entry := range entries {
		ref, err := url.Parse(strings.TrimSpace(entry))
		if err != nil {
			return nil, fmt.Errorf("manifest entry %d: %w", i, err)
		}
		result = append(result, origin.ResolveReference(ref))
	}
	return result, nil
}

// Version returns the current cache version.
func (w *Worker) Version() string {
	return w.version
}

// Origin returns a copy of the origin URL.
func (w *Worker) Origin() *url.URL {
	u := *w.origin
	return &u
}

// Manifest returns the resolved manifest URLs as strings.
func (w *Worker) Manifest() []string {
	result := make([]string, len(w.manifest))
	for i, u := range w.manifest {
		result[i] = u.String()
	}
	return result
}

// Storage exposes the underlying cache storage for diagnostics.
func (w *Worker) Storage() cache.Storage {
	return w.storage
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// IsCurrent reports whether a cache name survives activation. The check is a
// prefix match, so "v5-assets" is kept alongside "v5".
func (w *Worker) IsCurrent(name string) bool {
	return strings.HasPrefix(name, w.version)
}

// Settle blocks until every background cache write started by Fetch has
// finished, or ctx is done.
func (w *Worker) Settle(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) transition(from []State, to State) (State, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, allowed := range from {
		if w.state == allowed {
			prev := w.state
			w.state = to
			return prev, nil
		}
	}
	return w.state, fmt.Errorf("%w: cannot enter %s from %s", ErrInvalidState, to, w.state)
}

func (w *Worker) setState(state State) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
}

// track runs fn in the background and lets Settle wait for it.
func (w *Worker) track(fn func()) {
	w.pending.Add(1)
	go func() {
		defer w.pending.Done()
		fn()
	}()
}
