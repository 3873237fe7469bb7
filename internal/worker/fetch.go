package worker

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/offlinecache/offline-cache/internal/cache"
	"github.com/offlinecache/offline-cache/internal/logging"
)

type networkResult struct {
	resp *cache.Response
	err  error
}

// Fetch answers a GET request cache-first. The network request is started
// alongside the cache lookup; its response refreshes the current cache and
// becomes the reply only when the lookup misses. Non-GET requests are left to
// the host.
func (w *Worker) Fetch(ctx context.Context, req *Request) Reply {
	logger := w.requestLogger(req)
	if req.Method != http.MethodGet {
		logger.WithField("outcome", string(OutcomePassThrough)).Debug("fetch event ignored")
		return Reply{Outcome: OutcomePassThrough}
	}

	started := time.Now()
	background := context.WithoutCancel(ctx)
	network := make(chan networkResult, 1)
	go func() {
		resp, err := w.fetchNetwork(background, req)
		network <- networkResult{resp: resp, err: err}
	}()

	cached, err := w.storage.Match(ctx, req.Key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			logger.WithError(err).Warn("cache lookup failed")
		}
		cached = nil
	}

	if cached != nil {
		w.track(func() {
			result := <-network
			if result.err != nil {
				logger.WithError(result.err).Warn("network refresh failed")
				return
			}
			w.writeThrough(background, req, result.resp, logger)
		})
		logger.WithFields(logrus.Fields{
			"outcome":    string(OutcomeCacheHit),
			"elapsed_ms": time.Since(started).Milliseconds(),
		}).Info("fetch served from cache")
		return Reply{Response: cached, Outcome: OutcomeCacheHit}
	}

	result := <-network
	if result.err != nil {
		logger.WithError(result.err).WithFields(logrus.Fields{
			"outcome":    string(OutcomeFallback),
			"elapsed_ms": time.Since(started).Milliseconds(),
		}).Warn("fetch request failed in both cache and network")
		return Reply{Response: FallbackResponse(), Outcome: OutcomeFallback, Err: result.err}
	}

	reply := result.resp.Clone()
	stored := result.resp
	w.track(func() {
		w.writeThrough(background, req, stored, logger)
	})
	logger.WithFields(logrus.Fields{
		"outcome":    string(OutcomeNetwork),
		"status":     reply.Status,
		"elapsed_ms": time.Since(started).Milliseconds(),
	}).Info("fetch served from network")
	return Reply{Response: reply, Outcome: OutcomeNetwork}
}

// writeThrough stores a network response in the current cache.
func (w *Worker) writeThrough(ctx context.Context, req *Request, resp *cache.Response, logger *logrus.Entry) {
	if resp.Status == http.StatusPartialContent {
		logger.WithField("status", resp.Status).Debug("partial response not cached")
		return
	}

	current, err := w.storage.Open(ctx, w.version)
	if err != nil {
		logger.WithError(err).Warn("open cache failed")
		return
	}
	if err := current.Put(ctx, req.Key, resp); err != nil {
		logger.WithError(err).Warn("cache write failed")
		return
	}
	logger.WithField("status", resp.Status).Debug("fetch response stored in cache")
}

func (w *Worker) requestLogger(req *Request) *logrus.Entry {
	target := ""
	if req.URL != nil {
		target = req.URL.String()
	}
	return w.logger.WithFields(logging.RequestFields(w.version, req.Method, target, req.ID, ""))
}
