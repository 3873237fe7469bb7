package server

import (
	"fmt"

	"github.com/offlinecache/offline-cache/internal/cache"
	"github.com/offlinecache/offline-cache/internal/cache/sqlitestore"
	"github.com/offlinecache/offline-cache/internal/config"
)

// OpenStorage 根据 StorageDriver 打开缓存存储：fs 为目录存储，sqlite 为单文件数据库。
func OpenStorage(cfg *config.Config) (cache.Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	switch cfg.Global.StorageDriver {
	case config.StorageDriverSQLite:
		store, err := sqlitestore.Open(cfg.Global.StorageLocation())
		if err != nil {
			return nil, fmt.Errorf("open sqlite storage: %w", err)
		}
		return store, nil
	case config.StorageDriverFS, "":
		store, err := cache.NewStore(cfg.Global.StorageLocation())
		if err != nil {
			return nil, fmt.Errorf("open fs storage: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Global.StorageDriver)
	}
}
