package routes

import (
	"context"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/offlinecache/offline-cache/internal/cache"
	"github.com/offlinecache/offline-cache/internal/worker"
)

// RegisterDiagnosticsRoutes 暴露 /-/status 与 /-/caches 只读诊断接口，
// 便于确认当前版本、生命周期状态以及各缓存中的条目。
func RegisterDiagnosticsRoutes(app *fiber.App, w *worker.Worker) {
	if app == nil || w == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		caches, err := listCaches(c.Context(), w)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_list_failed"})
		}
		return c.JSON(statusPayload{
			Version:  w.Version(),
			State:    string(w.State()),
			Origin:   w.Origin().String(),
			Manifest: w.Manifest(),
			Caches:   caches,
		})
	})

	app.Get("/-/caches", func(c fiber.Ctx) error {
		caches, err := listCaches(c.Context(), w)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_list_failed"})
		}
		return c.JSON(fiber.Map{"caches": caches})
	})

	app.Get("/-/caches/:name", func(c fiber.Ctx) error {
		name, err := url.PathUnescape(strings.TrimSpace(c.Params("name")))
		if err != nil || name == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "cache_name_required"})
		}
		ctx := c.Context()
		storage := w.Storage()
		exists, err := storage.Has(ctx, name)
		if err != nil || !exists {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "cache_not_found"})
		}
		named, err := storage.Open(ctx, name)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_open_failed"})
		}
		keys, err := named.Keys(ctx)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_keys_failed"})
		}
		return c.JSON(cacheDetailPayload{
			cachePayload: encodeCache(name, w.Version(), w.IsCurrent),
			Entries:      encodeKeys(keys),
		})
	})
}

type statusPayload struct {
	Version  string         `json:"version"`
	State    string         `json:"state"`
	Origin   string         `json:"origin"`
	Manifest []string       `json:"manifest"`
	Caches   []cachePayload `json:"caches"`
}

type cachePayload struct {
	Name    string `json:"name"`
	Current bool   `json:"current"`
	Kept    bool   `json:"kept"`
}

type cacheDetailPayload struct {
	cachePayload
	Entries []entryPayload `json:"entries"`
}

type entryPayload struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

func listCaches(ctx context.Context, w *worker.Worker) ([]cachePayload, error) {
	names, err := w.Storage().Keys(ctx)
	if err != nil {
		return nil, err
	}
	return encodeCaches(names, w.Version(), w.IsCurrent), nil
}

// encodeCaches 中 current 表示名称与版本完全相同（install 写入的缓存），
// kept 表示 activate 会保留的缓存（名称以版本为前缀），其余会被清理。
func encodeCaches(names []string, version string, kept func(string) bool) []cachePayload {
	result := make([]cachePayload, 0, len(names))
	for _, name := range names {
		result = append(result, encodeCache(name, version, kept))
	}
	return result
}

func encodeCache(name, version string, kept func(string) bool) cachePayload {
	return cachePayload{Name: name, Current: name == version, Kept: kept(name)}
}

func encodeKeys(keys []cache.Key) []entryPayload {
	result := make([]entryPayload, 0, len(keys))
	for _, key := range keys {
		result = append(result, entryPayload{Method: key.Method, URL: key.URL})
	}
	return result
}
