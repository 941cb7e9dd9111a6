package agentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Option 客户端选项
type Option func(*transport)

// WithHTTPClient 指定底层 HTTP 客户端
func WithHTTPClient(hc *http.Client) Option {
	return func(t *transport) {
		t.httpClient = hc
	}
}

// WithRetryInterval 指定首次重试间隔
func WithRetryInterval(d time.Duration) Option {
	return func(t *transport) {
		t.retryInterval = d
	}
}

// transport Agent 与评分服务共用的请求层
//
// 只对"建立请求"阶段重试（传输错误与 5xx）；开始读取事件流后不再重试，
// 保证每条语料最多产生一个结果。
type transport struct {
	httpClient    *http.Client
	timeout       time.Duration
	maxRetries    int
	retryInterval time.Duration
}

func newTransport(timeout time.Duration, maxRetries int, opts []Option) *transport {
	t := &transport{
		httpClient:    &http.Client{},
		timeout:       timeout,
		maxRetries:    maxRetries,
		retryInterval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.timeout <= 0 {
		t.timeout = 120 * time.Second
	}
	if t.maxRetries < 0 {
		t.maxRetries = 0
	}
	return t
}

// open 发送请求并返回 2xx 响应，调用方负责关闭 Body
func (t *transport) open(ctx context.Context, op, method, url, credential string, payload any) (*http.Response, error) {
	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, &RemoteServiceError{Op: op, URL: url, Err: fmt.Errorf("encode payload: %w", err)}
		}
		body = b
	}

	attempt := func() (*http.Response, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, backoff.Permanent(&RemoteServiceError{Op: op, URL: url, Err: err})
		}
		if credential != "" {
			req.Header.Set("Authorization", "Bearer "+credential)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := t.httpClient.Do(req)
		if err != nil {
			rse := &RemoteServiceError{Op: op, URL: url, Err: err}
			if ctx.Err() != nil {
				return nil, backoff.Permanent(rse)
			}
			return nil, rse
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			rse := &RemoteServiceError{
				Op: op, URL: url, StatusCode: resp.StatusCode,
				Err: fmt.Errorf("unexpected response: %s", bytes.TrimSpace(snippet)),
			}
			if resp.StatusCode >= 500 {
				return nil, rse
			}
			return nil, backoff.Permanent(rse)
		}
		return resp, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.retryInterval
	b.MaxInterval = 10 * t.retryInterval

	resp, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(t.maxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Printf("[agentapi.%s.retry] next_in=%s error=%v", op, next, err)
		}),
	)
	if err != nil {
		if IsRemoteServiceError(err) {
			return nil, err
		}
		return nil, &RemoteServiceError{Op: op, URL: url, Err: err}
	}
	return resp, nil
}
