package httpx

import (
    "context"
    "errors"
    "net/http"
    "net/http/httptest"
    "net/url"
    "sync"
    "sync/atomic"
    "testing"
    "time"
)

func TestGet_RetriesTransientThenSucceeds(t *testing.T) {
    var calls atomic.Int32
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if calls.Add(1) < 3 {
            w.WriteHeader(http.StatusInternalServerError)
            return
        }
        _, _ = w.Write([]byte("ok"))
    }))
    defer srv.Close()

    c := &Client{HTTPClient: srv.Client(), MaxAttempts: 4, BackoffBase: time.Millisecond}
    body, status, err := c.Get(context.Background(), srv.URL, nil)
    if err != nil {
        t.Fatalf("get error: %v", err)
    }
    if status != 200 || string(body) != "ok" {
        t.Fatalf("unexpected result: %d %q", status, body)
    }
    if calls.Load() != 3 {
        t.Fatalf("expected 3 calls, got %d", calls.Load())
    }
}

func TestGet_NoRetryOnClientError(t *testing.T) {
    var calls atomic.Int32
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        calls.Add(1)
        w.WriteHeader(http.StatusNotFound)
    }))
    defer srv.Close()

    c := &Client{HTTPClient: srv.Client(), MaxAttempts: 4, BackoffBase: time.Millisecond}
    _, status, err := c.Get(context.Background(), srv.URL, nil)
    if err == nil {
        t.Fatal("expected error")
    }
    if status != http.StatusNotFound {
        t.Fatalf("expected 404, got %d", status)
    }
    if calls.Load() != 1 {
        t.Fatalf("4xx must not retry; got %d calls", calls.Load())
    }
}

func TestGet_RetriesOn429(t *testing.T) {
    var calls atomic.Int32
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if calls.Add(1) == 1 {
            w.WriteHeader(http.StatusTooManyRequests)
            return
        }
        _, _ = w.Write([]byte("ok"))
    }))
    defer srv.Close()

    c := &Client{HTTPClient: srv.Client(), MaxAttempts: 2, BackoffBase: time.Millisecond}
    _, _, err := c.Get(context.Background(), srv.URL, nil)
    if err != nil {
        t.Fatalf("get error: %v", err)
    }
    if calls.Load() != 2 {
        t.Fatalf("expected 2 calls, got %d", calls.Load())
    }
}

func TestGet_QueryParamsAppended(t *testing.T) {
    var got string
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        got = r.URL.Query().Get("crtfc_key")
        _, _ = w.Write([]byte("{}"))
    }))
    defer srv.Close()

    c := &Client{HTTPClient: srv.Client()}
    params := url.Values{}
    params.Set("crtfc_key", "secret")
    if _, _, err := c.Get(context.Background(), srv.URL, params); err != nil {
        t.Fatalf("get error: %v", err)
    }
    if got != "secret" {
        t.Fatalf("expected query param to reach server, got %q", got)
    }
}

func TestHostLimit_BoundsBurst(t *testing.T) {
    var calls atomic.Int32
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        calls.Add(1)
        _, _ = w.Write([]byte("ok"))
    }))
    defer srv.Close()

    u, _ := url.Parse(srv.URL)
    c := &Client{HTTPClient: srv.Client()}
    // Daily refill is negligible within the test window, so only the burst
    // tokens are spendable.
    c.SetHostLimit(u.Hostname(), 1000, 2)

    ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
    defer cancel()

    var wg sync.WaitGroup
    var limited atomic.Int32
    for i := 0; i < 5; i++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            if _, _, err := c.Get(ctx, srv.URL, nil); errors.Is(err, ErrRateLimited) {
                limited.Add(1)
            }
        }()
    }
    wg.Wait()

    if calls.Load() > 2 {
        t.Fatalf("expected at most 2 requests through the bucket, got %d", calls.Load())
    }
    if limited.Load() != 5-calls.Load() {
        t.Fatalf("expected %d rate-limited calls, got %d", 5-calls.Load(), limited.Load())
    }
}

func TestGet_CancellationPropagates(t *testing.T) {
    release := make(chan struct{})
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        <-release
    }))
    defer srv.Close()
    defer close(release)

    c := &Client{HTTPClient: srv.Client()}
    ctx, cancel := context.WithCancel(context.Background())
    done := make(chan error, 1)
    go func() {
        _, _, err := c.Get(ctx, srv.URL, nil)
        done <- err
    }()
    time.Sleep(20 * time.Millisecond)
    cancel()
    select {
    case err := <-done:
        if err == nil {
            t.Fatal("expected cancellation error")
        }
    case <-time.After(time.Second):
        t.Fatal("cancellation not propagated within 1s")
    }
}
