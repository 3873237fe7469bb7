package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// Key 唯一标识一个缓存条目：请求方法 + 规范化后的 URL。
type Key struct {
	Method string
	URL    string
}

// NewKey 规范化 method 与 URL：scheme/host 小写、去掉默认端口与 fragment、
// 空路径补为 "/"，query 原样保留，末尾斜杠保持语义（/a/ 与 /a 为不同条目）。
func NewKey(method string, u *url.URL) Key {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	if u == nil {
		return Key{Method: method}
	}

	normalized := *u
	normalized.Scheme = strings.ToLower(normalized.Scheme)
	normalized.Host = normalizeHost(normalized.Scheme, normalized.Host)
	normalized.Fragment = ""
	normalized.RawFragment = ""
	normalized.User = nil
	if normalized.Path == "" && normalized.Opaque == "" {
		normalized.Path = "/"
		normalized.RawPath = ""
	}

	return Key{Method: method, URL: normalized.String()}
}

// ParseKey 解析 URL 字符串后构建 Key。
func ParseKey(method, rawURL string) (Key, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Key{}, fmt.Errorf("parse cache key url: %w", err)
	}
	return NewKey(method, u), nil
}

// String 输出 "GET https://host/path" 形式，便于日志与持久化。
func (k Key) String() string {
	return k.Method + " " + k.URL
}

// Digest 返回 Key 的 sha1 摘要，用作文件名等定长标识。
func (k Key) Digest() string {
	sum := sha1.Sum([]byte(k.String()))
	return hex.EncodeToString(sum[:])
}

func normalizeHost(scheme, host string) string {
	host = strings.ToLower(host)
	h, port, err := net.SplitHostPort(host)
	if err != nil {
		return host
	}
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		if strings.Contains(h, ":") {
			return "[" + h + "]"
		}
		return h
	}
	return host
}
