package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/offlinecache/offline-cache/internal/cache"
	"github.com/offlinecache/offline-cache/internal/logging"
)

// Restore marks the worker installed without touching the network when the
// cache named by the current version already holds every manifest entry. It
// reports false, leaving the worker parsed, when the cache is missing or
// incomplete and Install has to run.
func (w *Worker) Restore(ctx context.Context) (bool, error) {
	prev, err := w.transition([]State{StateParsed}, StateInstalling)
	if err != nil {
		return false, err
	}

	complete, err := w.cacheComplete(ctx)
	if err != nil {
		w.setState(prev)
		return false, fmt.Errorf("restore %s: %w", w.version, err)
	}
	if !complete {
		w.setState(prev)
		w.logger.WithFields(logging.LifecycleFields("restore", w.version, string(prev))).
			Info("current cache incomplete, install required")
		return false, nil
	}

	w.setState(StateInstalled)
	w.logger.WithFields(logging.LifecycleFields("restore", w.version, string(StateInstalled))).
		WithField("assets", len(w.manifest)).
		Info("current cache restored")
	return true, nil
}

func (w *Worker) cacheComplete(ctx context.Context) (bool, error) {
	exists, err := w.storage.Has(ctx, w.version)
	if err != nil || !exists {
		return false, err
	}
	current, err := w.storage.Open(ctx, w.version)
	if err != nil {
		return false, err
	}
	for _, assetURL := range w.manifest {
		_, err := current.Match(ctx, cache.NewKey(http.MethodGet, assetURL))
		if errors.Is(err, cache.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
	}
	return true, nil
}
