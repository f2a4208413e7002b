// Package httpclient provides the bounded-timeout, retry-capable HTTP
// client used by the HttpRequest/Email/OpenObserve/Anthropic node kinds
// (§4.4.4, §4.10).
package httpclient

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/swisspipe/engine/internal/domain"
)

// Response is the normalized result of one call (§4.10).
type Response struct {
	Status    int
	Headers   map[string]string
	Body      []byte
	ElapsedMS int64
}

// Client performs bounded, optionally-retried HTTP calls. It shares one
// *http.Client (and so one connection pool) across every node kind;
// per-call timeouts are applied via context, never by mutating the
// shared client's Timeout field.
type Client struct {
	inner *http.Client
}

// New returns a Client whose outbound calls never follow an unbounded
// redirect chain.
func New(maxRedirects int) *Client {
	return &Client{
		inner: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// Do performs one HTTP call with the given timeout, retrying transport
// errors and 5xx responses per retry according to cfg (§4.4.4:
// "delay_ms = min(max_delay, initial_delay * multiplier^attempt)").
// A nil cfg performs exactly one attempt.
func (c *Client) Do(ctx context.Context, method, url string, headers map[string]string, body any, timeout time.Duration, cfg *domain.RetryConfig) (*Response, error) {
	maxAttempts := 1
	if cfg != nil && cfg.MaxAttempts > 0 {
		maxAttempts = cfg.MaxAttempts
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("httpclient: marshal body: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := cfg.NextDelay(attempt - 1)
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		resp, err := c.once(ctx, method, url, headers, payload, timeout)
		if err == nil && resp.Status < 500 {
			return resp, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("httpclient: server error status %d", resp.Status)
		}
		if !retryable(err, resp) {
			if resp != nil {
				return resp, nil
			}
			return nil, lastErr
		}
	}
	return nil, fmt.Errorf("httpclient: exhausted %d attempts: %w", maxAttempts, lastErr)
}

func retryable(err error, resp *Response) bool {
	if err != nil {
		return true // transport error
	}
	return resp != nil && resp.Status >= 500
}

func (c *Client) once(ctx context.Context, method, url string, headers map[string]string, payload []byte, timeout time.Duration) (*Response, error) {
	callCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(callCtx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("httpclient: build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if payload != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.inner.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("httpclient: do: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpclient: read body: %w", err)
	}

	hdrs := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		hdrs[k] = resp.Header.Get(k)
	}

	return &Response{
		Status:    resp.StatusCode,
		Headers:   hdrs,
		Body:      respBody,
		ElapsedMS: elapsed.Milliseconds(),
	}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FullJitter returns a duration in [0, max) sampled with crypto/rand,
// the same full-jitter backoff idiom the worker package's retry policy
// uses, generalized here for any caller that needs a jittered sleep.
func FullJitter(maxDelay time.Duration) (time.Duration, error) {
	if maxDelay <= 0 {
		return 0, nil
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(maxDelay)))
	if err != nil {
		return 0, fmt.Errorf("httpclient: jitter: %w", err)
	}
	return time.Duration(n.Int64()), nil
}
