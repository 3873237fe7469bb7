package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/offlinecache/offline-cache/internal/cache"
	"github.com/offlinecache/offline-cache/internal/logging"
)

// ErrManifestFetch is returned when a manifest asset cannot be fetched or
// answers with a non-2xx status.
var ErrManifestFetch = errors.New("manifest fetch failed")

// Install opens the cache named by the current version and adds every
// manifest entry to it. Either all entries are written or none are; a failed
// install leaves the worker in its previous state.
func (w *Worker) Install(ctx context.Context) error {
	prev, err := w.transition([]State{StateParsed, StateInstalled}, StateInstalling)
	if err != nil {
		return err
	}

	started := time.Now()
	fields := logging.LifecycleFields("install", w.version, string(StateInstalling))
	w.logger.WithFields(fields).WithField("assets", len(w.manifest)).Info("install in progress")

	if err := w.populate(ctx); err != nil {
		w.setState(prev)
		w.logger.WithFields(fields).WithError(err).Error("install failed")
		return fmt.Errorf("install %s: %w", w.version, err)
	}

	w.setState(StateInstalled)
	w.logger.WithFields(logging.LifecycleFields("install", w.version, string(StateInstalled))).
		WithField("elapsed_ms", time.Since(started).Milliseconds()).
		Info("install completed")
	return nil
}

func (w *Worker) populate(ctx context.Context) error {
	target, err := w.storage.Open(ctx, w.version)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}

	responses := make([]*cache.Response, len(w.manifest))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, assetURL := range w.manifest {
		group.Go(func() error {
			resp, err := w.fetchAsset(groupCtx, assetURL.String())
			if err != nil {
				return err
			}
			responses[i] = resp
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	entries := make([]cache.Entry, len(w.manifest))
	for i, assetURL := range w.manifest {
		entries[i] = cache.Entry{
			Key:      cache.NewKey(http.MethodGet, assetURL),
			Response: responses[i],
		}
	}
	if err := target.PutAll(ctx, entries); err != nil {
		return fmt.Errorf("store manifest: %w", err)
	}
	return nil
}

func (w *Worker) fetchAsset(ctx context.Context, rawURL string) (*cache.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrManifestFetch, rawURL, err)
	}
	prepareNetworkHeaders(req.Header)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrManifestFetch, rawURL, err)
	}
	stored, err := cache.ReadResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrManifestFetch, rawURL, err)
	}
	if !stored.OK() {
		return nil, fmt.Errorf("%w: %s: status %d", ErrManifestFetch, rawURL, stored.Status)
	}
	return stored, nil
}
