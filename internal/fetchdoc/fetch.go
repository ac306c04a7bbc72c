package fetchdoc

import (
    "context"
    "encoding/json"
    "errors"
    "os"
    "path/filepath"
    "sort"
    "time"

    "github.com/rs/zerolog/log"
    "golang.org/x/sync/errgroup"

    "github.com/hyperifyio/dartsearch/internal/cache"
    "github.com/hyperifyio/dartsearch/internal/dart"
)

const (
    // DefaultParallel bounds concurrent document fetches.
    DefaultParallel = 3
    // DefaultTimeout bounds one document fetch end to end.
    DefaultTimeout = 30 * time.Second
)

// Source is the slice of the transport adapter the fetcher needs.
type Source interface {
    Structured(ctx context.Context, ref dart.FilingRef) (map[string]string, error)
    Document(ctx context.Context, rceptNo string) ([][]byte, error)
    ViewerPage(ctx context.Context, rceptNo string) ([]byte, error)
}

// Fetcher retrieves filing bodies through the best available source:
// structured detail API, then the document archive, then the web viewer.
// Failures are isolated per filing; a failed filing is kept in the output
// with its fetch error populated.
type Fetcher struct {
    Source   Source
    Cache    *cache.Cache
    Parallel int
    Timeout  time.Duration
    // DownloadDir, when set, receives a plain-text copy of each fetched
    // body for operator inspection. Best effort, never fatal.
    DownloadDir string
    // Now is replaceable in tests.
    Now func() time.Time
}

// cachedBody is the cache payload for one fetched filing. Timestamps are
// excluded so a hit differs from a fresh fetch only by fetched_at.
type cachedBody struct {
    Source     dart.Source       `json:"source"`
    Content    string            `json:"content"`
    Structured map[string]string `json:"structured,omitempty"`
}

func (f *Fetcher) now() time.Time {
    if f.Now != nil {
        return f.Now()
    }
    return time.Now()
}

// Fetch retrieves bodies for every ref. Output order matches input order
// regardless of completion order, and every element satisfies the
// body-or-error contract.
func (f *Fetcher) Fetch(ctx context.Context, refs []dart.FilingRef) []dart.Filing {
    parallel := f.Parallel
    if parallel <= 0 {
        parallel = DefaultParallel
    }
    timeout := f.Timeout
    if timeout <= 0 {
        timeout = DefaultTimeout
    }

    out := make([]dart.Filing, len(refs))
    g, gctx := errgroup.WithContext(ctx)
    g.SetLimit(parallel)
    for i, ref := range refs {
        g.Go(func() error {
            fctx, cancel := context.WithTimeout(gctx, timeout)
            defer cancel()
            out[i] = f.fetchOne(fctx, ref)
            return nil
        })
    }
    _ = g.Wait()
    return out
}

func (f *Fetcher) fetchOne(ctx context.Context, ref dart.FilingRef) dart.Filing {
    filing := dart.Filing{FilingRef: ref, Source: dart.SourceNone, FetchedAt: f.now()}

    key := cache.Fingerprint(cache.NSBody, ref.RceptNo)
    if f.Cache != nil {
        if data, ok := f.Cache.Get(key); ok {
            var cb cachedBody
            if err := json.Unmarshal(data, &cb); err == nil {
                f.apply(&filing, cb)
                return filing
            }
        }
    }

    cb, err := f.retrieve(ctx, ref)
    if err != nil {
        log.Warn().Err(err).Str("rcept_no", ref.RceptNo).Msg("fetch failed")
        filing.FetchError = &dart.FetchError{Kind: "FetchFailed", Message: err.Error()}
        return filing
    }
    if f.Cache != nil {
        if data, err := json.Marshal(cb); err == nil {
            f.Cache.Put(key, data, cache.TTLBody)
        }
    }
    f.spill(ref.RceptNo, cb.Content)
    f.apply(&filing, cb)
    return filing
}

func (f *Fetcher) apply(filing *dart.Filing, cb cachedBody) {
    filing.Source = cb.Source
    filing.StructuredData = cb.Structured
    filing.Content = Truncate(cb.Content, MaxContentChars)
    if filing.Content == "" && len(filing.StructuredData) == 0 {
        // A cached or fresh body with nothing usable still honors the
        // body-or-error contract.
        filing.Source = dart.SourceNone
        filing.FetchError = &dart.FetchError{Kind: "FetchFailed", Message: "empty document body"}
    }
}

// retrieve walks the source chain in priority order. The structured API is
// only attempted for doc types with a dedicated endpoint.
func (f *Fetcher) retrieve(ctx context.Context, ref dart.FilingRef) (cachedBody, error) {
    var firstErr error
    if _, ok := dart.StructuredEndpoint(ref.DetailType); ok {
        data, err := f.Source.Structured(ctx, ref)
        if err == nil && len(data) > 0 {
            return cachedBody{Source: dart.SourceStructuredAPI, Structured: data, Content: structuredText(data)}, nil
        }
        firstErr = err
        if ctx.Err() != nil {
            return cachedBody{}, ctx.Err()
        }
    }

    bodies, err := f.Source.Document(ctx, ref.RceptNo)
    if err == nil {
        for _, raw := range bodies {
            if text := XMLToText(raw); text != "" {
                return cachedBody{Source: dart.SourceDocumentArchive, Content: text}, nil
            }
        }
        err = errors.New("document archive yielded no text")
    }
    if firstErr == nil {
        firstErr = err
    }
    if ctx.Err() != nil {
        return cachedBody{}, ctx.Err()
    }

    page, err := f.Source.ViewerPage(ctx, ref.RceptNo)
    if err == nil {
        if text := HTMLToText(page); text != "" {
            return cachedBody{Source: dart.SourceWebViewer, Content: text}, nil
        }
        err = errors.New("viewer page yielded no text")
    }
    if firstErr == nil {
        firstErr = err
    }
    return cachedBody{}, firstErr
}

// structuredText renders structured fields as key: value lines so that the
// synthesizer's prompt path is uniform across sources.
func structuredText(data map[string]string) string {
    keys := make([]string, 0, len(data))
    for k := range data {
        keys = append(keys, k)
    }
    sort.Strings(keys)
    var b []byte
    for _, k := range keys {
        b = append(b, k...)
        b = append(b, ':', ' ')
        b = append(b, data[k]...)
        b = append(b, '\n')
    }
    return string(b)
}

func (f *Fetcher) spill(rceptNo, content string) {
    if f.DownloadDir == "" || content == "" {
        return
    }
    if err := os.MkdirAll(f.DownloadDir, 0o755); err != nil {
        return
    }
    _ = os.WriteFile(filepath.Join(f.DownloadDir, rceptNo+".txt"), []byte(content), 0o644)
}
