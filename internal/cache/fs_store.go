package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	entrySuffix    = ".entry"
	createdMarker  = ".created"
	tempFilePrefix = ".cache-"
)

// NewStore 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。
func NewStore(basePath string) (Storage, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
		now:      time.Now,
	}, nil
}

// fileStore 通过 entryLock 避免同一条目并发写入，dirMu 保护缓存目录的创建与删除。
type fileStore struct {
	basePath string
	now      func() time.Time

	dirMu sync.RWMutex

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// fileCache 是 fileStore 中单个命名缓存的句柄。
type fileCache struct {
	store *fileStore
	name  string
}

// entryRecord 是落盘的条目格式。
type entryRecord struct {
	Method   string    `json:"method"`
	URL      string    `json:"url"`
	Response *Response `json:"response"`
}

type cacheDir struct {
	name    string
	path    string
	created int64
}

func (s *fileStore) Open(ctx context.Context, name string) (Cache, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	s.dirMu.Lock()
	defer s.dirMu.Unlock()

	if err := s.ensureCacheDir(name); err != nil {
		return nil, err
	}
	return &fileCache{store: s, name: name}, nil
}

func (s *fileStore) Has(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := ValidateName(name); err != nil {
		return false, err
	}

	s.dirMu.RLock()
	defer s.dirMu.RUnlock()

	info, err := os.Stat(s.cachePath(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (s *fileStore) Match(ctx context.Context, key Key) (*Response, error) {
	dirs, err := s.listCaches(ctx)
	if err != nil {
		return nil, err
	}
	for _, dir := range dirs {
		resp, err := s.readEntry(ctx, dir.name, key)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

func (s *fileStore) Keys(ctx context.Context) ([]string, error) {
	dirs, err := s.listCaches(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(dirs))
	for i, dir := range dirs {
		names[i] = dir.name
	}
	return names, nil
}

func (s *fileStore) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := ValidateName(name); err != nil {
		return false, err
	}

	s.dirMu.Lock()
	defer s.dirMu.Unlock()

	dirPath := s.cachePath(name)
	if _, err := os.Stat(dirPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := os.RemoveAll(dirPath); err != nil {
		return false, fmt.Errorf("delete cache %s: %w", name, err)
	}
	return true, nil
}

func (s *fileStore) Close() error {
	return nil
}

func (c *fileCache) Name() string {
	return c.name
}

func (c *fileCache) Match(ctx context.Context, key Key) (*Response, error) {
	return c.store.readEntry(ctx, c.name, key)
}

func (c *fileCache) Put(ctx context.Context, key Key, resp *Response) error {
	return c.PutAll(ctx, []Entry{{Key: key, Response: resp}})
}

// PutAll 先把全部条目写入临时文件，全部成功后再逐个 rename，任何一步失败都会清理临时文件。
func (c *fileCache) PutAll(ctx context.Context, entries []Entry) error {
	for _, entry := range entries {
		if err := CheckStorable(entry.Response); err != nil {
			return fmt.Errorf("%s: %w", entry.Key, err)
		}
	}
	if len(entries) == 0 {
		return nil
	}

	unlock := c.store.lockEntries(c.name, entries)
	defer unlock()

	c.store.dirMu.RLock()
	defer c.store.dirMu.RUnlock()

	dirPath := c.store.cachePath(c.name)
	if _, err := os.Stat(dirPath); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		// 句柄在缓存被删除后继续写入时，按 Open 语义重新创建。
		if err := c.store.createCacheDir(dirPath); err != nil {
			return err
		}
	}

	storedAt := c.store.now().UTC()
	// staged: 目标文件 -> 临时文件；同一批次中重复的 Key 以最后一次为准。
	staged := make(map[string]string, len(entries))
	cleanup := func() {
		for _, temp := range staged {
			os.Remove(temp)
		}
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			cleanup()
			return err
		}
		stored := entry.Response.Clone()
		stored.StoredAt = storedAt
		payload, err := json.Marshal(entryRecord{
			Method:   entry.Key.Method,
			URL:      entry.Key.URL,
			Response: stored,
		})
		if err != nil {
			cleanup()
			return fmt.Errorf("encode cache entry: %w", err)
		}

		temp, err := writeTemp(dirPath, payload)
		if err != nil {
			cleanup()
			return err
		}
		target := c.store.entryPath(c.name, entry.Key)
		if prev, ok := staged[target]; ok {
			os.Remove(prev)
		}
		staged[target] = temp
	}

	for target, temp := range staged {
		if err := os.Rename(temp, target); err != nil {
			cleanup()
			return err
		}
		delete(staged, target)
	}
	return nil
}

func (c *fileCache) Keys(ctx context.Context) ([]Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.store.dirMu.RLock()
	defer c.store.dirMu.RUnlock()

	items, err := os.ReadDir(c.store.cachePath(c.name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var keys []Key
	for _, item := range items {
		if item.IsDir() || !strings.HasSuffix(item.Name(), entrySuffix) {
			continue
		}
		record, err := readRecord(filepath.Join(c.store.cachePath(c.name), item.Name()))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		keys = append(keys, Key{Method: record.Method, URL: record.URL})
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys, nil
}

func (s *fileStore) readEntry(ctx context.Context, name string, key Key) (*Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.dirMu.RLock()
	defer s.dirMu.RUnlock()

	record, err := readRecord(s.entryPath(name, key))
	if err != nil {
		return nil, err
	}
	if record.Method != key.Method || record.URL != key.URL || record.Response == nil {
		return nil, ErrNotFound
	}
	return record.Response, nil
}

func (s *fileStore) listCaches(ctx context.Context) ([]cacheDir, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.dirMu.RLock()
	defer s.dirMu.RUnlock()

	items, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}

	dirs := make([]cacheDir, 0, len(items))
	for _, item := range items {
		if !item.IsDir() {
			continue
		}
		name, err := url.PathUnescape(item.Name())
		if err != nil {
			continue
		}
		dirPath := filepath.Join(s.basePath, item.Name())
		dirs = append(dirs, cacheDir{
			name:    name,
			path:    dirPath,
			created: readCreated(dirPath),
		})
	}

	sort.SliceStable(dirs, func(i, j int) bool {
		if dirs[i].created != dirs[j].created {
			return dirs[i].created < dirs[j].created
		}
		return dirs[i].name < dirs[j].name
	})
	return dirs, nil
}

// ensureCacheDir 调用方需持有 dirMu 写锁。
func (s *fileStore) ensureCacheDir(name string) error {
	dirPath := s.cachePath(name)
	info, err := os.Stat(dirPath)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("cache path is not a directory: %s", dirPath)
		}
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return s.createCacheDir(dirPath)
}

func (s *fileStore) createCacheDir(dirPath string) error {
	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	marker := filepath.Join(dirPath, createdMarker)
	f, err := os.OpenFile(marker, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return err
	}
	_, writeErr := f.WriteString(strconv.FormatInt(s.now().UnixNano(), 10))
	closeErr := f.Close()
	if writeErr != nil {
		return writeErr
	}
	return closeErr
}

func (s *fileStore) lockEntries(name string, entries []Entry) func() {
	keys := make([]string, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		key := name + "::" + entry.Key.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	// 固定加锁顺序，避免两批交叉写入互相等待。
	sort.Strings(keys)

	unlocks := make([]func(), 0, len(keys))
	for _, key := range keys {
		unlocks = append(unlocks, s.lockEntry(key))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

func (s *fileStore) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func (s *fileStore) cachePath(name string) string {
	return filepath.Join(s.basePath, url.PathEscape(name))
}

func (s *fileStore) entryPath(name string, key Key) string {
	return filepath.Join(s.cachePath(name), key.Digest()+entrySuffix)
}

func readRecord(filePath string) (*entryRecord, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var record entryRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode cache entry %s: %w", filepath.Base(filePath), err)
	}
	return &record, nil
}

func readCreated(dirPath string) int64 {
	data, err := os.ReadFile(filepath.Join(dirPath, createdMarker))
	if err == nil {
		if created, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64); err == nil {
			return created
		}
	}
	if info, err := os.Stat(dirPath); err == nil {
		return info.ModTime().UnixNano()
	}
	return 0
}

func writeTemp(dir string, payload []byte) (string, error) {
	tempFile, err := os.CreateTemp(dir, tempFilePrefix+"*")
	if err != nil {
		return "", err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(payload)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return "", err
	}
	return tempName, nil
}
