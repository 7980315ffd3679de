// Package integration 调用外联平台的邮件列表接口，供拉取对账使用。
package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"replyhub/backend/internal/domain"
)

// maxResponseBytes 列表响应体上限
const maxResponseBytes = 8 << 20

// APIError 平台返回的非 2xx 响应
type APIError struct {
	Platform   domain.Platform
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error: status=%d body=%s", e.Platform.Tag(), e.StatusCode, e.Body)
}

// Options 客户端参数
type Options struct {
	BaseURL           string
	HTTPClient        *http.Client
	Timeout           time.Duration // 单次请求超时
	RequestsPerSecond float64       // <=0 表示不限速
	MaxTries          uint
	BaseDelay         time.Duration
	MaxDelay          time.Duration
}

// Lister 列出某个平台连接最近的邮件
type Lister interface {
	ListEmails(ctx context.Context, apiKey, workspaceID string, limit int) ([]json.RawMessage, error)
}

// client 两个平台共用的请求执行器：出站限速，网络错误、429 和 5xx 按指数退避重试
type client struct {
	platform   domain.Platform
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxTries   uint
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func newClient(platform domain.Platform, defaultBase string, opts Options) *client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBase
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	if opts.MaxTries == 0 {
		opts.MaxTries = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 5 * time.Second
	}
	return &client{
		platform:   platform,
		baseURL:    baseURL,
		httpClient: httpClient,
		limiter:    limiter,
		maxTries:   opts.MaxTries,
		baseDelay:  opts.BaseDelay,
		maxDelay:   opts.MaxDelay,
	}
}

// getJSON 发送 GET 请求并返回响应体
func (c *client) getJSON(ctx context.Context, path string, header http.Header) ([]byte, error) {
	url := c.baseURL + path

	operation := func() ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		for k, v := range header {
			req.Header[k] = v
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return body, nil
		}

		apiErr := &APIError{Platform: c.platform, StatusCode: resp.StatusCode, Body: truncate(string(body), 256)}
		if resp.StatusCode == http.StatusTooManyRequests {
			if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && seconds > 0 {
				return nil, backoff.RetryAfter(seconds)
			}
			return nil, apiErr
		}
		if resp.StatusCode >= 500 {
			return nil, apiErr
		}
		return nil, backoff.Permanent(apiErr)
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.baseDelay,
		RandomizationFactor: 0.2,
		Multiplier:          2,
		MaxInterval:         c.maxDelay,
	}
	b.Reset()

	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.maxTries),
	)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return nil, apiErr
		}
		return nil, fmt.Errorf("%s request %s: %w", c.platform.Tag(), path, err)
	}
	return body, nil
}

// decodeList 兼容裸数组以及 {data: [...]} / {results: [...]} 两种包装
func decodeList(body []byte) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err == nil {
		return items, nil
	}

	var wrapped struct {
		Data    []json.RawMessage `json:"data"`
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("decode email list: %w", err)
	}
	if wrapped.Data != nil {
		return wrapped.Data, nil
	}
	if wrapped.Results != nil {
		return wrapped.Results, nil
	}
	return []json.RawMessage{}, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
