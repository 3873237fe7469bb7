package proxy

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/offlinecache/offline-cache/internal/server"
	"github.com/offlinecache/offline-cache/internal/worker"
)

// Interceptor answers intercepted requests; *worker.Worker satisfies it.
type Interceptor interface {
	Fetch(ctx context.Context, req *worker.Request) worker.Reply
	Origin() *url.URL
	Version() string
}

// Handler 把每个请求交给 Interceptor：被拦截的 GET 由缓存/网络/兜底页应答，
// 其余请求通过 Forwarder 原样转发到源站。
type Handler struct {
	interceptor Interceptor
	forwarder   *Forwarder
}

// NewHandler constructs a proxy handler around the interceptor. client is only
// used for pass-through forwarding.
func NewHandler(client *http.Client, logger *logrus.Logger, interceptor Interceptor) *Handler {
	return &Handler{
		interceptor: interceptor,
		forwarder:   NewForwarder(client, logger, interceptor.Version()),
	}
}

// Handle implements server.ProxyHandler.
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)
	target := resolveOriginURL(h.interceptor.Origin(), c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	req := worker.NewRequest(requestID, c.Method(), target, fiberHeadersAsHTTP(c))
	reply := h.interceptor.Fetch(ctx, req)
	if !reply.Intercepted() {
		return h.forwarder.Forward(c, target, started)
	}
	return writeReply(c, reply, requestID)
}

// writeReply 将缓存或网络响应写回客户端，并附带命中情况。
func writeReply(c fiber.Ctx, reply worker.Reply, requestID string) error {
	resp := reply.Response
	if resp == nil {
		resp = worker.FallbackResponse()
	}

	c.Status(resp.Status)
	if resp.StatusText != "" {
		c.Response().Header.SetStatusMessage([]byte(resp.StatusText))
	}
	copyResponseHeaders(c, resp.Header)
	c.Set("X-Offline-Cache", string(reply.Outcome))
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	return c.Send(resp.Body)
}

// resolveOriginURL 将请求路径映射到源站。末尾斜杠会被保留，
// 因为 "/a/" 与 "/a" 在缓存中是不同的键。
func resolveOriginURL(base *url.URL, c fiber.Ctx) *url.URL {
	uri := c.Request().URI()
	clean := string(uri.Path())
	if clean == "" {
		clean = "/"
	}
	relative := &url.URL{Path: clean}
	if query := uri.QueryString(); len(query) > 0 {
		relative.RawQuery = string(query)
	}
	return base.ResolveReference(relative)
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if worker.IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
}
