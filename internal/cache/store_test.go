package cache

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"
)

func TestStorePutAndMatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	c, err := store.Open(ctx, "v5")
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	key := mustKey(t, "https://site.local/a/index.html")
	payload := testResponse(http.StatusOK, "<h1>index</h1>")
	if err := c.Put(ctx, key, payload); err != nil {
		t.Fatalf("put error: %v", err)
	}

	got, err := c.Match(ctx, key)
	if err != nil {
		t.Fatalf("match error: %v", err)
	}
	if string(got.Body) != "<h1>index</h1>" {
		t.Fatalf("cached payload mismatch: %s", string(got.Body))
	}
	if got.Status != http.StatusOK || got.StatusText != "OK" {
		t.Fatalf("status mismatch: %d %s", got.Status, got.StatusText)
	}
	if got.Header.Get("Content-Type") != "text/html" {
		t.Fatalf("header mismatch: %v", got.Header)
	}
	if got.StoredAt.IsZero() {
		t.Fatalf("stored_at should be set")
	}

	global, err := store.Match(ctx, key)
	if err != nil {
		t.Fatalf("global match error: %v", err)
	}
	if string(global.Body) != string(got.Body) {
		t.Fatalf("global match returned different body: %s", string(global.Body))
	}
}

func TestStoreMatchMissing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if _, err := store.Open(ctx, "v1"); err != nil {
		t.Fatalf("open error: %v", err)
	}
	_, err := store.Match(ctx, mustKey(t, "https://site.local/missing"))
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStorePutDoesNotShareBody(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	c, _ := store.Open(ctx, "v1")
	key := mustKey(t, "https://site.local/app.js")

	resp := testResponse(http.StatusOK, "original")
	if err := c.Put(ctx, key, resp); err != nil {
		t.Fatalf("put error: %v", err)
	}
	resp.Body[0] = 'X'

	got, err := c.Match(ctx, key)
	if err != nil {
		t.Fatalf("match error: %v", err)
	}
	if string(got.Body) != "original" {
		t.Fatalf("stored body should be independent, got %s", string(got.Body))
	}
}

func TestStoreKeysFollowCreationOrder(t *testing.T) {
	store := newTestStore(t)
	fs := store.(*fileStore)
	clock := time.Unix(1700000000, 0)
	fs.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	ctx := context.Background()
	for _, name := range []string{"v2", "v10", "assets/v1"} {
		if _, err := store.Open(ctx, name); err != nil {
			t.Fatalf("open %s error: %v", name, err)
		}
	}
	// 重复 Open 不应改变顺序
	if _, err := store.Open(ctx, "v2"); err != nil {
		t.Fatalf("reopen error: %v", err)
	}

	names, err := store.Keys(ctx)
	if err != nil {
		t.Fatalf("keys error: %v", err)
	}
	want := []string{"v2", "v10", "assets/v1"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, names)
		}
	}
}

func TestStoreMatchPrefersOlderCache(t *testing.T) {
	store := newTestStore(t)
	fs := store.(*fileStore)
	clock := time.Unix(1700000000, 0)
	fs.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	ctx := context.Background()
	key := mustKey(t, "https://site.local/style.css")
	older, _ := store.Open(ctx, "v4")
	newer, _ := store.Open(ctx, "v5")
	if err := newer.Put(ctx, key, testResponse(http.StatusOK, "new")); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if err := older.Put(ctx, key, testResponse(http.StatusOK, "old")); err != nil {
		t.Fatalf("put error: %v", err)
	}

	got, err := store.Match(ctx, key)
	if err != nil {
		t.Fatalf("match error: %v", err)
	}
	if string(got.Body) != "old" {
		t.Fatalf("expected first created cache to win, got %s", string(got.Body))
	}
}

func TestStoreDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	c, _ := store.Open(ctx, "v1")
	key := mustKey(t, "https://site.local/")
	if err := c.Put(ctx, key, testResponse(http.StatusOK, "root")); err != nil {
		t.Fatalf("put error: %v", err)
	}

	deleted, err := store.Delete(ctx, "v1")
	if err != nil || !deleted {
		t.Fatalf("expected delete to succeed, got %v %v", deleted, err)
	}
	if ok, _ := store.Has(ctx, "v1"); ok {
		t.Fatalf("cache should be gone after delete")
	}
	if _, err := store.Match(ctx, key); err != ErrNotFound {
		t.Fatalf("expected not found after delete, got %v", err)
	}

	deleted, err = store.Delete(ctx, "v1")
	if err != nil || deleted {
		t.Fatalf("second delete should report false, got %v %v", deleted, err)
	}
}

func TestStorePutAllAndKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	c, _ := store.Open(ctx, "v1")

	entries := []Entry{
		{Key: mustKey(t, "https://site.local/a/"), Response: testResponse(http.StatusOK, "dir")},
		{Key: mustKey(t, "https://site.local/a/index.html"), Response: testResponse(http.StatusOK, "index")},
	}
	if err := c.PutAll(ctx, entries); err != nil {
		t.Fatalf("put all error: %v", err)
	}
	if err := c.PutAll(ctx, entries); err != nil {
		t.Fatalf("second put all error: %v", err)
	}

	keys, err := c.Keys(ctx)
	if err != nil {
		t.Fatalf("keys error: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %v", keys)
	}
	if keys[0].URL != "https://site.local/a/" || keys[1].URL != "https://site.local/a/index.html" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestStorePutAllRejectsPartialContent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	c, _ := store.Open(ctx, "v1")

	entries := []Entry{
		{Key: mustKey(t, "https://site.local/ok"), Response: testResponse(http.StatusOK, "ok")},
		{Key: mustKey(t, "https://site.local/range"), Response: testResponse(http.StatusPartialContent, "part")},
	}
	if err := c.PutAll(ctx, entries); err == nil {
		t.Fatalf("expected partial content to be rejected")
	}
	keys, err := c.Keys(ctx)
	if err != nil {
		t.Fatalf("keys error: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("rejected batch must not leave entries, got %v", keys)
	}
}

func TestStoreConcurrentPutLastWriteWins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	c, _ := store.Open(ctx, "v1")
	key := mustKey(t, "https://site.local/app.js")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := c.Put(ctx, key, testResponse(http.StatusOK, "body")); err != nil {
				t.Errorf("put %d error: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	got, err := c.Match(ctx, key)
	if err != nil {
		t.Fatalf("match error: %v", err)
	}
	if string(got.Body) != "body" {
		t.Fatalf("unexpected body %s", string(got.Body))
	}
	keys, _ := c.Keys(ctx)
	if len(keys) != 1 {
		t.Fatalf("expected single key, got %v", keys)
	}
}

func TestStoreIgnoresStrayFiles(t *testing.T) {
	store := newTestStore(t)
	fs := store.(*fileStore)
	if err := os.WriteFile(fs.basePath+"/README", []byte("x"), 0o644); err != nil {
		t.Fatalf("write error: %v", err)
	}
	names, err := store.Keys(context.Background())
	if err != nil {
		t.Fatalf("keys error: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("stray files should not be listed as caches: %v", names)
	}
}

func TestStoreRejectsInvalidNames(t *testing.T) {
	store := newTestStore(t)
	for _, name := range []string{"", ".", ".."} {
		if _, err := store.Open(context.Background(), name); err != ErrInvalidName {
			t.Fatalf("expected ErrInvalidName for %q, got %v", name, err)
		}
	}
}

// newTestStore returns a Storage backed by a temporary directory.
func newTestStore(t *testing.T) Storage {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mustKey(t *testing.T, raw string) Key {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	return NewKey(http.MethodGet, u)
}

func testResponse(status int, body string) *Response {
	return &Response{
		Status:     status,
		StatusText: http.StatusText(status),
		Header:     http.Header{"Content-Type": []string{"text/html"}},
		Body:       []byte(body),
	}
}
