package cache

import (
	"context"
	"errors"
	"net/http"
)

// Storage 管理全部命名缓存，对应浏览器中的全局 caches 对象。
type Storage interface {
	// Open 返回指定名称的缓存句柄，不存在时自动创建。
	Open(ctx context.Context, name string) (Cache, error)

	// Has 判断指定名称的缓存是否存在。
	Has(ctx context.Context, name string) (bool, error)

	// Match 按缓存创建顺序依次查找，返回第一个命中的响应；全部未命中时返回 ErrNotFound。
	Match(ctx context.Context, key Key) (*Response, error)

	// Keys 按创建顺序返回全部缓存名称。
	Keys(ctx context.Context) ([]string, error)

	// Delete 整体删除一个缓存及其全部条目，返回该缓存删除前是否存在。
	Delete(ctx context.Context, name string) (bool, error)

	// Close 释放底层资源。
	Close() error
}

// Cache 是单个命名缓存的句柄。
type Cache interface {
	Name() string

	// Match 查找当前缓存中的条目，未命中返回 ErrNotFound。
	Match(ctx context.Context, key Key) (*Response, error)

	// Put 写入或覆盖一个条目，同一 Key 的并发写入以最后一次为准。
	Put(ctx context.Context, key Key, resp *Response) error

	// PutAll 原子地写入一组条目：要么全部可见，要么全部不可见。
	PutAll(ctx context.Context, entries []Entry) error

	// Keys 返回当前缓存中的全部请求 Key。
	Keys(ctx context.Context) ([]Key, error)
}

// Entry 组合请求 Key 与待写入的响应，供 PutAll 使用。
type Entry struct {
	Key      Key
	Response *Response
}

var (
	// ErrNotFound 表示缓存条目不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrInvalidName 表示缓存名称不合法。
	ErrInvalidName = errors.New("invalid cache name")
	// ErrPartialContent 表示 206 响应不允许写入缓存。
	ErrPartialContent = errors.New("partial responses are not cacheable")
	// ErrNilResponse 表示写入时缺少响应。
	ErrNilResponse = errors.New("response required")
)

// ValidateName 校验缓存名称，名称会作为目录或主键使用。
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return ErrInvalidName
	}
	return nil
}

// CheckStorable 在写入前统一校验响应，所有后端共享同一规则。
func CheckStorable(resp *Response) error {
	if resp == nil {
		return ErrNilResponse
	}
	if resp.Status == http.StatusPartialContent {
		return ErrPartialContent
	}
	return nil
}
