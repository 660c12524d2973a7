// Package httpretry posts JSON to rate-limited HTTP APIs. Transport failures,
// 429 and 5xx replies are retried with exponential backoff; a Retry-After
// header in seconds overrides the computed delay.
package httpretry

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	initialDelay = 200 * time.Millisecond
	maxDelay     = 5 * time.Second
)

// Client sends requests with a bounded number of retries.
type Client struct {
	http       *http.Client
	maxRetries int
}

// Response is a reply whose body has been read in full.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

// New returns a client whose every attempt is bounded by timeout.
func New(timeout time.Duration, maxRetries int) *Client {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{http: &http.Client{Timeout: timeout}, maxRetries: maxRetries}
}

// JoinURL appends path to base, tolerating a trailing slash on base.
func JoinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// PostJSON posts body to url, with token as a bearer credential when set.
// Once retries run out, the last retryable reply is returned as is so the
// caller reports its status.
func (c *Client) PostJSON(ctx context.Context, url, token string, body []byte) (*Response, error) {
	b := newBackoff()
	for attempt := 0; ; attempt++ {
		resp, err := c.send(ctx, url, token, body)
		if err == nil && !retryable(resp.StatusCode) {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt >= c.maxRetries {
			if err != nil {
				return nil, err
			}
			return resp, nil
		}
		wait := b.NextBackOff()
		if resp != nil {
			if d, ok := retryAfter(resp.Header); ok {
				wait = d
			}
		}
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func (c *Client) send(ctx context.Context, url, token string, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode, Status: resp.Status, Header: resp.Header, Body: payload}, nil
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// newBackoff doubles from initialDelay up to maxDelay without jitter and
// never gives up on its own; the retry count bounds the loop.
func newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialDelay
	b.MaxInterval = maxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func retryAfter(h http.Header) (time.Duration, bool) {
	ra := h.Get("Retry-After")
	if ra == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(strings.TrimSpace(ra))
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
