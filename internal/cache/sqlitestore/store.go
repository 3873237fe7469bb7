package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/offlinecache/offline-cache/internal/cache"
)

const schema = `
CREATE TABLE IF NOT EXISTS caches (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    name       TEXT    NOT NULL UNIQUE,
    created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
    cache_id    INTEGER NOT NULL REFERENCES caches(id) ON DELETE CASCADE,
    request_key TEXT    NOT NULL,
    method      TEXT    NOT NULL,
    url         TEXT    NOT NULL,
    status      INTEGER NOT NULL,
    status_text TEXT    NOT NULL,
    header_json TEXT    NOT NULL,
    response_url TEXT   NOT NULL,
    body        BLOB    NOT NULL,
    stored_at   INTEGER NOT NULL,
    PRIMARY KEY (cache_id, request_key)
);
CREATE INDEX IF NOT EXISTS entries_request_key ON entries(request_key);
`

// Store implements cache.Storage on a single SQLite database file.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

type sqliteCache struct {
	store *Store
	name  string
}

var _ cache.Storage = (*Store)(nil)

// Open opens and migrates a cache database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	dsn := cleanPath + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// 单连接串行化写入，配合 upsert 实现 last-write-wins。
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close releases the underlying SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Open returns the named cache, creating it when absent.
func (s *Store) Open(ctx context.Context, name string) (cache.Cache, error) {
	if err := cache.ValidateName(name); err != nil {
		return nil, err
	}
	if _, err := s.ensureCache(ctx, s.sqlDB, name); err != nil {
		return nil, err
	}
	return &sqliteCache{store: s, name: name}, nil
}

// Has reports whether the named cache exists.
func (s *Store) Has(ctx context.Context, name string) (bool, error) {
	if err := cache.ValidateName(name); err != nil {
		return false, err
	}
	var id int64
	err := s.sqlDB.QueryRowContext(ctx, `SELECT id FROM caches WHERE name = ?`, name).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("lookup cache: %w", err)
	}
	return true, nil
}

// Match searches every cache in creation order and returns the first hit.
func (s *Store) Match(ctx context.Context, key cache.Key) (*cache.Response, error) {
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT e.status, e.status_text, e.header_json, e.response_url, e.body, e.stored_at
		 FROM entries e
		 JOIN caches c ON c.id = e.cache_id
		 WHERE e.request_key = ?
		 ORDER BY c.id
		 LIMIT 1`,
		key.String(),
	)
	return scanResponse(row)
}

// Keys lists cache names in creation order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT name FROM caches ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan cache name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate caches: %w", err)
	}
	return names, nil
}

// Delete removes a cache and all of its entries.
func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	if err := cache.ValidateName(name); err != nil {
		return false, err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete cache: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(
		ctx,
		`DELETE FROM entries WHERE cache_id IN (SELECT id FROM caches WHERE name = ?)`,
		name,
	); err != nil {
		return false, fmt.Errorf("delete cache entries: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM caches WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete cache: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete cache: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete cache: %w", err)
	}
	return affected > 0, nil
}

func (c *sqliteCache) Name() string {
	return c.name
}

func (c *sqliteCache) Match(ctx context.Context, key cache.Key) (*cache.Response, error) {
	row := c.store.sqlDB.QueryRowContext(
		ctx,
		`SELECT e.status, e.status_text, e.header_json, e.response_url, e.body, e.stored_at
		 FROM entries e
		 JOIN caches c ON c.id = e.cache_id
		 WHERE c.name = ? AND e.request_key = ?`,
		c.name,
		key.String(),
	)
	return scanResponse(row)
}

func (c *sqliteCache) Put(ctx context.Context, key cache.Key, resp *cache.Response) error {
	return c.PutAll(ctx, []cache.Entry{{Key: key, Response: resp}})
}

// PutAll writes every entry inside one transaction.
func (c *sqliteCache) PutAll(ctx context.Context, entries []cache.Entry) error {
	for _, entry := range entries {
		if err := cache.CheckStorable(entry.Response); err != nil {
			return fmt.Errorf("%s: %w", entry.Key, err)
		}
	}
	if len(entries) == 0 {
		return nil
	}

	tx, err := c.store.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put entries: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// 句柄在缓存被删除后继续写入时，按 Open 语义重新创建。
	cacheID, err := c.store.ensureCache(ctx, tx, c.name)
	if err != nil {
		return err
	}

	storedAt := c.store.now().UTC().UnixMilli()
	for _, entry := range entries {
		header := entry.Response.Header
		if header == nil {
			header = http.Header{}
		}
		headerJSON, err := json.Marshal(header)
		if err != nil {
			return fmt.Errorf("encode header: %w", err)
		}
		body := entry.Response.Body
		if body == nil {
			body = []byte{}
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO entries (
			    cache_id, request_key, method, url, status, status_text, header_json, response_url, body, stored_at
			 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(cache_id, request_key) DO UPDATE SET
			    status = excluded.status,
			    status_text = excluded.status_text,
			    header_json = excluded.header_json,
			    response_url = excluded.response_url,
			    body = excluded.body,
			    stored_at = excluded.stored_at`,
			cacheID,
			entry.Key.String(),
			entry.Key.Method,
			entry.Key.URL,
			entry.Response.Status,
			entry.Response.StatusText,
			string(headerJSON),
			entry.Response.URL,
			body,
			storedAt,
		); err != nil {
			return fmt.Errorf("put cache entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put entries: %w", err)
	}
	return nil
}

func (c *sqliteCache) Keys(ctx context.Context) ([]cache.Key, error) {
	rows, err := c.store.sqlDB.QueryContext(
		ctx,
		`SELECT e.method, e.url
		 FROM entries e
		 JOIN caches c ON c.id = e.cache_id
		 WHERE c.name = ?
		 ORDER BY e.request_key`,
		c.name,
	)
	if err != nil {
		return nil, fmt.Errorf("list cache keys: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var keys []cache.Key
	for rows.Next() {
		var key cache.Key
		if err := rows.Scan(&key.Method, &key.URL); err != nil {
			return nil, fmt.Errorf("scan cache key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cache keys: %w", err)
	}
	return keys, nil
}

type execQueryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) ensureCache(ctx context.Context, db execQueryer, name string) (int64, error) {
	if _, err := db.ExecContext(
		ctx,
		`INSERT INTO caches (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		name,
		s.now().UTC().UnixMilli(),
	); err != nil {
		return 0, fmt.Errorf("create cache: %w", err)
	}
	var id int64
	if err := db.QueryRowContext(ctx, `SELECT id FROM caches WHERE name = ?`, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("lookup cache: %w", err)
	}
	return id, nil
}

func scanResponse(row *sql.Row) (*cache.Response, error) {
	var (
		resp       cache.Response
		headerJSON string
		storedAt   int64
	)
	if err := row.Scan(&resp.Status, &resp.StatusText, &headerJSON, &resp.URL, &resp.Body, &storedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, cache.ErrNotFound
		}
		return nil, fmt.Errorf("get cache entry: %w", err)
	}
	if err := json.Unmarshal([]byte(headerJSON), &resp.Header); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	resp.StoredAt = time.UnixMilli(storedAt).UTC()
	return &resp, nil
}
