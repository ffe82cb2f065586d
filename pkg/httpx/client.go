package httpx

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"
)

// MaxResponseBytes caps how much of a response body is read.
const MaxResponseBytes = 1 << 20

var ErrResponseTooLarge = errors.New("response body exceeds limit")

// Retry controls how transient failures are retried. Retries apply to transport errors
// and 5xx responses only.
type Retry struct {
	Attempts int
	Delay    time.Duration
}

// Get issues a GET to base with the given query and returns status and body.
func Get(ctx context.Context, client *http.Client, base string, query url.Values, headers map[string]string, retry Retry) (int, []byte, error) {
	u, err := url.Parse(base)
	if err != nil {
		return 0, nil, err
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return Do(ctx, client, http.MethodGet, u.String(), headers, retry)
}

// Do performs a bodiless request with retry. The retry delay is cut short when ctx ends.
func Do(ctx context.Context, client *http.Client, method, rawURL string, headers map[string]string, retry Retry) (int, []byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	retries := retry.Attempts
	if retries < 0 {
		retries = 0
	}
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, retry.Delay); err != nil {
				return 0, nil, err
			}
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes+1))
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}
		if len(body) > MaxResponseBytes {
			return resp.StatusCode, nil, ErrResponseTooLarge
		}
		if resp.StatusCode >= 500 && attempt < retries {
			lastErr = errors.New(resp.Status)
			continue
		}
		return resp.StatusCode, body, nil
	}
	return 0, nil, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
