package server

import (
	"net"
	"net/http"
	"time"

	"github.com/offlinecache/offline-cache/internal/config"
)

// 所有回源请求都指向同一个源站，空闲连接上限即单主机上限。
const originIdleConns = 32

// NewUpstreamClient 返回访问源站的 http.Client。
// UpstreamTimeout 为 0 时不设置整体超时，与浏览器 fetch 一致；只限制建连与 TLS 握手。
// 重定向由 Client 自动跟随，透传转发时由 proxy.Forwarder 关闭。
func NewUpstreamClient(cfg *config.Config) *http.Client {
	var timeout time.Duration
	if cfg != nil {
		timeout = cfg.Global.UpstreamTimeout.DurationValue()
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: newOriginTransport(),
	}
}

func newOriginTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          originIdleConns,
		MaxIdleConnsPerHost:   originIdleConns,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
}
