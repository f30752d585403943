// Package httpclient posts JSON to provider APIs with bounded retries.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultTimeout = 30 * time.Second
	baseDelay      = 200 * time.Millisecond
	maxDelay       = 5 * time.Second
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}

// Client sends JSON requests and decodes JSON responses.
type Client struct {
	http       *http.Client
	headers    http.Header
	maxRetries int
	sleep      func(ctx context.Context, d time.Duration) error
}

// New builds a client. maxRetries counts extra attempts after the first one.
func New(timeout time.Duration, maxRetries int, headers map[string]string) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	h := http.Header{}
	for k, v := range headers {
		if v != "" {
			h.Set(k, v)
		}
	}
	return &Client{
		http:       &http.Client{Timeout: timeout},
		headers:    h,
		maxRetries: maxRetries,
		sleep:      sleepCtx,
	}
}

// PostJSON marshals payload, posts it to url, and decodes the response into v (if non-nil).
// 429 and 5xx responses and transport errors are retried with exponential backoff,
// honouring Retry-After when the server sends one.
func (c *Client) PostJSON(ctx context.Context, url string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		wait, err := c.do(ctx, url, body, v)
		if err == nil {
			return nil
		}
		lastErr = err
		if wait < 0 || attempt == c.maxRetries {
			break
		}
		if wait == 0 {
			wait = retryDelay(attempt)
		}
		if err := c.sleep(ctx, wait); err != nil {
			return fmt.Errorf("%w (after %v)", err, lastErr)
		}
	}
	return lastErr
}

// do performs one attempt. wait < 0 means the error is final.
func (c *Client) do(ctx context.Context, url string, body []byte, v any) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return -1, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vals := range c.headers {
		for _, val := range vals {
			req.Header.Add(k, val)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return -1, fmt.Errorf("do request: %w", err)
		}
		return 0, fmt.Errorf("do request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		_ = resp.Body.Close()
		statusErr := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
		if !statusErr.Retryable() {
			return -1, statusErr
		}
		return retryAfter(resp.Header.Get("Retry-After")), statusErr
	}

	if v == nil {
		if err := resp.Body.Close(); err != nil {
			return -1, fmt.Errorf("close response body: %w", err)
		}
		return 0, nil
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		_ = resp.Body.Close()
		return -1, fmt.Errorf("decode response: %w", err)
	}

	if err := resp.Body.Close(); err != nil {
		return -1, fmt.Errorf("close response body: %w", err)
	}
	return 0, nil
}

func retryAfter(value string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > maxDelay {
		d = maxDelay
	}
	return d
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := baseDelay << attempt
	if d > maxDelay || d <= 0 {
		d = maxDelay
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
