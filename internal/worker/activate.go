package worker

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/offlinecache/offline-cache/internal/logging"
)

// Activate deletes every cache whose name does not start with the current
// version and returns once all deletions have settled. The first deletion
// error fails activation; caches already removed stay removed.
func (w *Worker) Activate(ctx context.Context) error {
	prev, err := w.transition([]State{StateInstalled}, StateActivating)
	if err != nil {
		return err
	}

	started := time.Now()
	fields := logging.LifecycleFields("activate", w.version, string(StateActivating))
	w.logger.WithFields(fields).Info("activate in progress")

	deleted, err := w.deleteStale(ctx)
	if err != nil {
		w.setState(prev)
		w.logger.WithFields(fields).WithError(err).Error("activate failed")
		return fmt.Errorf("activate %s: %w", w.version, err)
	}

	w.setState(StateActivated)
	w.logger.WithFields(logging.LifecycleFields("activate", w.version, string(StateActivated))).
		WithField("deleted", deleted).
		WithField("elapsed_ms", time.Since(started).Milliseconds()).
		Info("activate completed")
	return nil
}

// StaleCaches filters names down to the caches activation would delete.
func (w *Worker) StaleCaches(names []string) []string {
	var stale []string
	for _, name := range names {
		if !w.IsCurrent(name) {
			stale = append(stale, name)
		}
	}
	return stale
}

func (w *Worker) deleteStale(ctx context.Context) ([]string, error) {
	names, err := w.storage.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	stale := w.StaleCaches(names)

	var group errgroup.Group
	for _, name := range stale {
		group.Go(func() error {
			if _, err := w.storage.Delete(ctx, name); err != nil {
				return fmt.Errorf("delete cache %s: %w", name, err)
			}
			w.logger.WithFields(logging.LifecycleFields("activate", w.version, string(StateActivating))).
				WithField("cache", name).
				Debug("stale cache deleted")
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return stale, nil
}
