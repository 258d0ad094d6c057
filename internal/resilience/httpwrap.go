package resilience

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"
)

// HTTPClient sends admin API calls with a per-attempt timeout, retries with
// backoff and an optional circuit breaker.
type HTTPClient struct {
	Client      *http.Client
	Breaker     *Breaker
	BaseBackoff time.Duration
	MaxAttempts int
	Jitter      float64
	Timeout     time.Duration
	// RetryUnsafe also retries POST and PATCH. Off by default since the admin
	// API does not accept idempotency keys.
	RetryUnsafe bool
	Fallback    func(context.Context, *http.Request, error) (*http.Response, error)
}

// Do sends req, retrying transport errors, 5xx and 429. The body is buffered
// so every attempt sends it in full. An open breaker short-circuits with
// ErrOpenCircuit, or the Fallback result when one is set. A retryable
// response on the last attempt is returned as is so the caller can decode
// the error body.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	if err := rewindable(req); err != nil {
		return nil, err
	}
	attempts := max(cl.MaxAttempts, 1)
	if !cl.RetryUnsafe && !idempotent(req.Method) {
		attempts = 1
	}
	base := cl.BaseBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	var lastErr error
	for n := 1; ; n++ {
		if !cl.Breaker.Allow(ctx) {
			lastErr = ErrOpenCircuit
			break
		}
		resp, err := cl.send(ctx, req)
		switch {
		case err == nil && !retryableStatus(resp.StatusCode):
			cl.Breaker.Report(ctx, true)
			return resp, nil
		case err == nil:
			// 429 is back-pressure, not a dependency failure
			cl.Breaker.Report(ctx, resp.StatusCode == http.StatusTooManyRequests)
			if n == attempts {
				return resp, nil
			}
			lastErr = errors.New(resp.Status)
		default:
			cl.Breaker.Report(ctx, false)
			lastErr = err
		}
		if n == attempts {
			break
		}

		wait := Backoff(base, n, cl.Jitter)
		if resp != nil {
			wait = max(wait, retryAfter(resp.Header.Get("Retry-After")))
			discard(resp)
		}
		Retries.WithLabelValues(cl.Breaker.Target()).Inc()
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	if cl.Fallback != nil {
		return cl.Fallback(ctx, req, lastErr)
	}
	return nil, lastErr
}

// send performs one attempt on a fresh copy of req.
func (cl HTTPClient) send(ctx context.Context, req *http.Request) (*http.Response, error) {
	timeout := cl.Timeout
	if timeout <= 0 {
		timeout = cl.Client.Timeout
	}
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}
	attempt := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			cancel()
			return nil, err
		}
		attempt.Body = body
	}
	resp, err := cl.Client.Do(attempt)
	if err != nil {
		cancel()
		return nil, err
	}
	// the deadline must outlive Do so the caller can still read the body
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}

// rewindable makes sure req.GetBody can reproduce the body for each attempt.
func rewindable(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}
	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return err
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	req.Body, _ = req.GetBody()
	return nil
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// retryAfter parses a Retry-After header in seconds or HTTP date form.
func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(max(secs, 0)) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		return time.Until(at)
	}
	return 0
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
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
