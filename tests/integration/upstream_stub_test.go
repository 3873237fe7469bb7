package integration

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

// siteStub 模拟静态站点源站，可随时下线以模拟离线状态。
type siteStub struct {
	server   *http.Server
	listener net.Listener
	URL      string

	mu       sync.Mutex
	assets   map[string]string
	requests []RecordedRequest
}

// RecordedRequest 捕获每次请求的方法/路径/Headers/Body，便于断言代理行为。
type RecordedRequest struct {
	Method  string
	Path    string
	Headers http.Header
	Body    []byte
}

func newSiteStub(t *testing.T, assets map[string]string) *siteStub {
	t.Helper()

	stub := &siteStub{assets: assets}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.recordRequest(r)
		stub.serve(w, r)
	})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("unable to start site stub listener: %v", err)
	}
	stub.server = &http.Server{Handler: handler}
	stub.listener = listener
	stub.URL = "http://" + listener.Addr().String()

	go func() {
		_ = stub.server.Serve(listener)
	}()
	t.Cleanup(stub.Close)
	return stub
}

func (s *siteStub) serve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Stub-Method", r.Method)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write(body)
		return
	}

	s.mu.Lock()
	body, ok := s.assets[r.URL.Path]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", contentTypeFor(r.URL.Path))
	_, _ = io.WriteString(w, body)
}

// SetAsset 替换或新增一个资源，模拟站点发布新内容。
func (s *siteStub) SetAsset(path, body string) {
	s.mu.Lock()
	s.assets[path] = body
	s.mu.Unlock()
}

// Close 关闭监听，之后的请求都会以连接失败告终。
func (s *siteStub) Close() {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if s.server != nil {
		_ = s.server.Shutdown(ctx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

func (s *siteStub) recordRequest(r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	_ = r.Body.Close()
	s.mu.Lock()
	s.requests = append(s.requests, RecordedRequest{
		Method:  r.Method,
		Path:    r.URL.Path,
		Headers: r.Header.Clone(),
		Body:    body,
	})
	s.mu.Unlock()
	r.Body = io.NopCloser(bytes.NewReader(body))
}

func (s *siteStub) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]RecordedRequest, len(s.requests))
	copy(result, s.requests)
	return result
}

func (s *siteStub) CountPath(path string) int {
	count := 0
	for _, req := range s.Requests() {
		if req.Path == path {
			count++
		}
	}
	return count
}

func contentTypeFor(path string) string {
	switch {
	case strings.HasSuffix(path, ".css"):
		return "text/css"
	case strings.HasSuffix(path, ".js"):
		return "text/javascript"
	case strings.HasSuffix(path, ".jpg"):
		return "image/jpeg"
	default:
		return "text/html"
	}
}

// swTestAssets 对应参考部署的清单：站点根、入口页、样式、两个脚本与一张图片。
func swTestAssets() map[string]string {
	return map[string]string{
		"/sw-test/":                   "<html>root</html>",
		"/sw-test/index.html":         "<html>index</html>",
		"/sw-test/style.css":          "body { color: #333; }",
		"/sw-test/app.js":             "console.log('app')",
		"/sw-test/image-list.js":      "var images = [];",
		"/sw-test/star-wars-logo.jpg": "\xff\xd8\xff\xe0jpeg",
	}
}

var swTestManifest = []string{
	"/sw-test/",
	"/sw-test/index.html",
	"/sw-test/style.css",
	"/sw-test/app.js",
	"/sw-test/image-list.js",
	"/sw-test/star-wars-logo.jpg",
}
