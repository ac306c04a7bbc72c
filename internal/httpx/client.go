package httpx

import (
    "context"
    "errors"
    "fmt"
    "io"
    "math/rand"
    "net/http"
    "net/url"
    "strings"
    "sync"
    "time"

    "golang.org/x/time/rate"
)

// ErrRateLimited is returned when a request cannot acquire a token from its
// host bucket before the context deadline.
var ErrRateLimited = errors.New("rate limited")

// Client is an HTTP client with a token bucket per host and bounded retry
// for transient failures. The buckets are process-wide: every caller that
// shares a Client instance shares its quota accounting.
type Client struct {
    HTTPClient *http.Client
    UserAgent  string
    // MaxAttempts includes the initial attempt. Minimum 1; default 4
    // (one attempt plus three retries).
    MaxAttempts int
    // BackoffBase is the first retry delay. Default 500ms; doubles per
    // retry with +-25% jitter.
    BackoffBase time.Duration

    mu       sync.Mutex
    limiters map[string]*rate.Limiter
}

// SetHostLimit installs a daily quota and burst for one host. Hosts without
// a configured limit are not throttled client-side.
func (c *Client) SetHostLimit(host string, perDay int, burst int) {
    if perDay <= 0 {
        return
    }
    if burst <= 0 {
        burst = 1
    }
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.limiters == nil {
        c.limiters = map[string]*rate.Limiter{}
    }
    c.limiters[strings.ToLower(host)] = rate.NewLimiter(rate.Limit(float64(perDay)/86400.0), burst)
}

func (c *Client) limiterFor(host string) *rate.Limiter {
    c.mu.Lock()
    defer c.mu.Unlock()
    return c.limiters[strings.ToLower(host)]
}

func (c *Client) httpClient() *http.Client {
    if c.HTTPClient != nil {
        return c.HTTPClient
    }
    return http.DefaultClient
}

// Get issues a GET with query params and returns the body and status code.
// Transport errors, 5xx and 429 are retried with exponential backoff; other
// 4xx are returned to the caller without retry.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values) ([]byte, int, error) {
    rc, status, err := c.GetStream(ctx, rawURL, params)
    if err != nil {
        return nil, status, err
    }
    defer rc.Close()
    body, err := io.ReadAll(rc)
    if err != nil {
        return nil, status, fmt.Errorf("read body: %w", err)
    }
    return body, status, nil
}

// GetStream is Get without buffering; the caller owns the returned reader.
func (c *Client) GetStream(ctx context.Context, rawURL string, params url.Values) (io.ReadCloser, int, error) {
    u, err := url.Parse(rawURL)
    if err != nil {
        return nil, 0, fmt.Errorf("parse url: %w", err)
    }
    if len(params) > 0 {
        q := u.Query()
        for k, vs := range params {
            for _, v := range vs {
                q.Set(k, v)
            }
        }
        u.RawQuery = q.Encode()
    }

    attempts := c.MaxAttempts
    if attempts <= 0 {
        attempts = 4
    }
    var lastErr error
    var lastStatus int
    for i := 0; i < attempts; i++ {
        if i > 0 {
            if err := sleepBackoff(ctx, c.backoff(i-1)); err != nil {
                return nil, lastStatus, err
            }
        }
        if lim := c.limiterFor(u.Hostname()); lim != nil {
            if err := lim.Wait(ctx); err != nil {
                if errors.Is(ctx.Err(), context.Canceled) {
                    return nil, 0, ctx.Err()
                }
                // Deadline exceeded while blocked on the bucket, or the
                // deadline cannot possibly be met at the current refill rate.
                return nil, 0, fmt.Errorf("%w: %s", ErrRateLimited, u.Hostname())
            }
        }
        rc, status, err := c.tryOnce(ctx, u)
        if err == nil {
            return rc, status, nil
        }
        lastErr = err
        lastStatus = status
        if !retryable(status, err) || ctx.Err() != nil {
            break
        }
    }
    return nil, lastStatus, lastErr
}

func (c *Client) tryOnce(ctx context.Context, u *url.URL) (io.ReadCloser, int, error) {
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
    if err != nil {
        return nil, 0, fmt.Errorf("new request: %w", err)
    }
    if c.UserAgent != "" {
        req.Header.Set("User-Agent", c.UserAgent)
    }
    resp, err := c.httpClient().Do(req)
    if err != nil {
        return nil, 0, err
    }
    if resp.StatusCode < 200 || resp.StatusCode > 299 {
        resp.Body.Close()
        return nil, resp.StatusCode, fmt.Errorf("unexpected status: %d", resp.StatusCode)
    }
    return resp.Body, resp.StatusCode, nil
}

func (c *Client) backoff(retry int) time.Duration {
    base := c.BackoffBase
    if base <= 0 {
        base = 500 * time.Millisecond
    }
    d := base << retry
    // +-25% jitter
    jitter := time.Duration(rand.Int63n(int64(d)/2+1)) - d/4
    return d + jitter
}

func sleepBackoff(ctx context.Context, d time.Duration) error {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return ctx.Err()
    case <-t.C:
        return nil
    }
}

func retryable(status int, err error) bool {
    if status == 0 {
        // transport error with no response
        return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
    }
    return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}
