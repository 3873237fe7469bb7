package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/offlinecache/offline-cache/internal/logging"
	"github.com/offlinecache/offline-cache/internal/server"
	"github.com/offlinecache/offline-cache/internal/worker"
)

// Forwarder 将未被拦截的请求原样转发到源站，不读取也不写入缓存。
type Forwarder struct {
	client  *http.Client
	logger  *logrus.Logger
	version string
}

// NewForwarder 创建 Forwarder。转发时不跟随重定向，3xx 会原样返回给客户端。
func NewForwarder(client *http.Client, logger *logrus.Logger, version string) *Forwarder {
	if client == nil {
		client = http.DefaultClient
	}
	passthrough := *client
	passthrough.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Forwarder{
		client:  &passthrough,
		logger:  logger,
		version: version,
	}
}

// Forward sends the current request to target and mirrors the origin reply.
func (f *Forwarder) Forward(c fiber.Ctx, target *url.URL, started time.Time) error {
	requestID := server.RequestID(c)

	req, err := f.buildUpstreamRequest(c, target)
	if err != nil {
		f.logResult(c, target, requestID, 0, started, err)
		return f.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.logResult(c, target, requestID, 0, started, err)
		return f.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	defer resp.Body.Close()

	return f.consumeUpstream(c, target, resp, requestID, started)
}

func (f *Forwarder) buildUpstreamRequest(c fiber.Ctx, target *url.URL) (*http.Request, error) {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var body io.Reader = http.NoBody
	if raw := c.Body(); len(raw) > 0 {
		body = bytes.NewReader(append([]byte(nil), raw...))
	}

	req, err := http.NewRequestWithContext(ctx, c.Method(), target.String(), body)
	if err != nil {
		return nil, err
	}
	worker.CopyHeaders(req.Header, fiberHeadersAsHTTP(c))
	req.Header.Del("Host")
	req.Host = target.Host
	return req, nil
}

func (f *Forwarder) consumeUpstream(
	c fiber.Ctx,
	target *url.URL,
	resp *http.Response,
	requestID string,
	started time.Time,
) error {
	c.Status(resp.StatusCode)
	if text := statusMessage(resp); text != "" {
		c.Response().Header.SetStatusMessage([]byte(text))
	}
	copyResponseHeaders(c, resp.Header)

	if c.Method() == http.MethodHead {
		f.logResult(c, target, requestID, resp.StatusCode, started, nil)
		return nil
	}

	_, err := io.Copy(c.Response().BodyWriter(), resp.Body)
	f.logResult(c, target, requestID, resp.StatusCode, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

func (f *Forwarder) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (f *Forwarder) logResult(
	c fiber.Ctx,
	target *url.URL,
	requestID string,
	status int,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(
		f.version,
		c.Method(),
		target.String(),
		requestID,
		string(worker.OutcomePassThrough),
	)
	fields["action"] = "proxy"
	fields["upstream_status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		f.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	f.logger.WithFields(fields).Info("proxy_complete")
}

// statusMessage 从 "201 Created" 形式的 Status 中取出原因短语。
func statusMessage(resp *http.Response) string {
	code := strconv.Itoa(resp.StatusCode)
	return strings.TrimSpace(strings.TrimPrefix(resp.Status, code))
}
