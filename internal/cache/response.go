package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Response 是已完整读入内存的响应。网络响应的 Body 只能读取一次，
// 因此先通过 ReadResponse 读入，再为“回复调用方”和“写入缓存”各自 Clone 一份。
type Response struct {
	Status     int         `json:"status"`
	StatusText string      `json:"status_text"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
	URL        string      `json:"url"`
	StoredAt   time.Time   `json:"stored_at"`
}

// ReadResponse 读取并关闭上游响应的 Body，返回独立的 Response。
func ReadResponse(resp *http.Response) (*Response, error) {
	if resp == nil {
		return nil, ErrNilResponse
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	result := &Response{
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
		Header:     resp.Header.Clone(),
		Body:       body,
	}
	if resp.Request != nil && resp.Request.URL != nil {
		result.URL = resp.Request.URL.String()
	}
	if result.Header == nil {
		result.Header = http.Header{}
	}
	return result, nil
}

// Clone 深拷贝响应，保证两个消费方之间不共享 Header 与 Body。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	cloned := *r
	cloned.Header = r.Header.Clone()
	if cloned.Header == nil {
		cloned.Header = http.Header{}
	}
	cloned.Body = append([]byte(nil), r.Body...)
	return &cloned
}

// BodyReader 返回只读 Body 的新 Reader，不影响 Response 本身。
func (r *Response) BodyReader() io.Reader {
	return bytes.NewReader(r.Body)
}

// OK 对应 Fetch API 的 response.ok：状态码位于 200-299。
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status <= 299
}

// statusText 从 "200 OK" 形式的 Status 中提取原因短语，缺失时退回标准文本。
func statusText(resp *http.Response) string {
	code := strconv.Itoa(resp.StatusCode)
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, code))
	if text == "" {
		return http.StatusText(resp.StatusCode)
	}
	return text
}
