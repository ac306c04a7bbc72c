package search

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "sort"
    "sync"
    "time"

    "github.com/rs/zerolog/log"
    "golang.org/x/sync/errgroup"

    "github.com/hyperifyio/dartsearch/internal/cache"
    "github.com/hyperifyio/dartsearch/internal/dart"
)

// ErrSearchUnavailable is returned when every sub-query fails. Partial
// failures are absorbed into the run's failure list instead.
var ErrSearchUnavailable = errors.New("catalogue search unavailable")

const (
    // DefaultMaxResultsPerSearch caps each sub-query's collected rows.
    DefaultMaxResultsPerSearch = 30
    // MaxResultsPerSearchCeiling is the configuration upper bound.
    MaxResultsPerSearchCeiling = 100
    // MaxCandidates caps the merged, deduplicated candidate list handed to
    // the filter phase.
    MaxCandidates = 100
    // DefaultParallel bounds concurrent sub-queries.
    DefaultParallel = 5
    // pageCount is the catalogue's page size cap.
    pageCount = 100
)

// Catalogue is the slice of the transport adapter the executor needs.
type Catalogue interface {
    List(ctx context.Context, p dart.ListParams) (dart.ListPage, error)
}

// Executor fans a structured query out into catalogue sub-queries, paginates
// each, and merges the results.
type Executor struct {
    Catalogue           Catalogue
    Cache               *cache.Cache
    MaxResultsPerSearch int
    Parallel            int
    // Now is replaceable in tests; it drives the includes-today cache rule.
    Now func() time.Time
}

type subQuery struct {
    corpCode string
    detailTy string
}

func (e *Executor) maxPerSearch() int {
    n := e.MaxResultsPerSearch
    if n <= 0 {
        return DefaultMaxResultsPerSearch
    }
    if n > MaxResultsPerSearchCeiling {
        return MaxResultsPerSearchCeiling
    }
    return n
}

func (e *Executor) now() time.Time {
    if e.Now != nil {
        return e.Now()
    }
    return time.Now()
}

// Search runs the sub-query matrix for q. It returns the merged candidate
// list, per-sub-query failures, and ErrSearchUnavailable only when no
// sub-query succeeded.
func (e *Executor) Search(ctx context.Context, q dart.ExpandedQuery) ([]dart.FilingRef, []dart.PartialFailure, error) {
    subs := buildSubQueries(q)
    parallel := e.Parallel
    if parallel <= 0 {
        parallel = DefaultParallel
    }

    var mu sync.Mutex
    groups := make([][]dart.FilingRef, len(subs))
    var failures []dart.PartialFailure

    g, gctx := errgroup.WithContext(ctx)
    g.SetLimit(parallel)
    for i, sub := range subs {
        g.Go(func() error {
            refs, err := e.runSubQuery(gctx, q, sub)
            mu.Lock()
            defer mu.Unlock()
            if err != nil {
                log.Warn().Err(err).
                    Str("corp_code", sub.corpCode).
                    Str("detail_ty", sub.detailTy).
                    Msg("sub-query failed")
                failures = append(failures, dart.PartialFailure{
                    Phase:   "search",
                    Kind:    "SubQueryFailed",
                    Message: err.Error(),
                })
                return nil
            }
            groups[i] = refs
            return nil
        })
    }
    if err := g.Wait(); err != nil {
        return nil, failures, err
    }
    if err := ctx.Err(); err != nil {
        return nil, failures, err
    }
    if len(failures) == len(subs) {
        return nil, failures, ErrSearchUnavailable
    }

    merged := merge(groups, q.DateRange)
    return merged, failures, nil
}

// buildSubQueries forms the (company x doc-type) matrix. An empty dimension
// contributes a single wildcard row, so an empty companies list still issues
// one search per doc type without corp_code.
func buildSubQueries(q dart.ExpandedQuery) []subQuery {
    codes := make([]string, 0, len(q.CorpCodes))
    for _, c := range q.CorpCodes {
        if c != "" {
            codes = append(codes, c)
        }
    }
    if len(codes) == 0 {
        codes = []string{""}
    }
    types := q.DocTypes
    if len(types) == 0 {
        types = []string{""}
    }
    subs := make([]subQuery, 0, len(codes)*len(types))
    for _, c := range codes {
        for _, t := range types {
            subs = append(subs, subQuery{corpCode: c, detailTy: t})
        }
    }
    return subs
}

// runSubQuery pages one sub-query forward until the catalogue is exhausted
// or the per-sub-query cap is reached. Pages are cached individually; when
// the window includes today, a cached final page is refetched so fresh
// filings appear while the older pages stay warm.
func (e *Executor) runSubQuery(ctx context.Context, q dart.ExpandedQuery, sub subQuery) ([]dart.FilingRef, error) {
    includesToday := q.DateRange.End >= e.now().Format("20060102")
    maxRows := e.maxPerSearch()
    var out []dart.FilingRef
    for pageNo := 1; ; pageNo++ {
        params := dart.ListParams{
            BgnDe:     q.DateRange.Begin,
            EndDe:     q.DateRange.End,
            DetailTy:  sub.detailTy,
            CorpCode:  sub.corpCode,
            PageNo:    pageNo,
            PageCount: pageCount,
        }
        page, fromCache, err := e.listPage(ctx, params)
        if err != nil {
            return nil, err
        }
        if includesToday && fromCache && page.TotalPage > 0 && pageNo >= page.TotalPage {
            // Refetch the live tail of a window that is still growing.
            page, err = e.refetchPage(ctx, params)
            if err != nil {
                return nil, err
            }
        }
        for _, ref := range page.List {
            if !q.DateRange.Contains(ref.RceptDt) {
                // Defensive guard: the catalogue occasionally leaks rows
                // outside the requested window.
                continue
            }
            out = append(out, ref)
            if len(out) >= maxRows {
                return out, nil
            }
        }
        if page.TotalPage <= pageNo {
            return out, nil
        }
    }
}

func (e *Executor) listPage(ctx context.Context, params dart.ListParams) (dart.ListPage, bool, error) {
    if e.Cache == nil {
        page, err := e.Catalogue.List(ctx, params)
        return page, false, err
    }
    key := cache.Fingerprint(cache.NSSearch, params.Canonical())
    data, hit, err := e.Cache.GetOrFill(ctx, key, cache.TTLSearch, func(ctx context.Context) ([]byte, error) {
        page, err := e.Catalogue.List(ctx, params)
        if err != nil {
            return nil, err
        }
        return json.Marshal(page)
    })
    if err != nil {
        return dart.ListPage{}, false, err
    }
    var page dart.ListPage
    if err := json.Unmarshal(data, &page); err != nil {
        return dart.ListPage{}, false, fmt.Errorf("decode cached page: %w", err)
    }
    return page, hit, nil
}

func (e *Executor) refetchPage(ctx context.Context, params dart.ListParams) (dart.ListPage, error) {
    page, err := e.Catalogue.List(ctx, params)
    if err != nil {
        return dart.ListPage{}, err
    }
    if e.Cache != nil {
        if data, err := json.Marshal(page); err == nil {
            e.Cache.Put(cache.Fingerprint(cache.NSSearch, params.Canonical()), data, cache.TTLSearch)
        }
    }
    return page, nil
}

// merge combines sub-query results newest first, deduplicates by receipt
// number keeping the first occurrence's metadata, and caps the candidate
// list preferring newer filings.
func merge(groups [][]dart.FilingRef, window dart.DateRange) []dart.FilingRef {
    seen := map[string]struct{}{}
    var out []dart.FilingRef
    for _, g := range groups {
        for _, ref := range g {
            if ref.RceptNo == "" || !window.Contains(ref.RceptDt) {
                continue
            }
            if _, ok := seen[ref.RceptNo]; ok {
                continue
            }
            seen[ref.RceptNo] = struct{}{}
            out = append(out, ref)
        }
    }
    sort.SliceStable(out, func(i, j int) bool {
        if out[i].RceptDt != out[j].RceptDt {
            return out[i].RceptDt > out[j].RceptDt
        }
        return out[i].RceptNo > out[j].RceptNo
    })
    if len(out) > MaxCandidates {
        out = out[:MaxCandidates]
    }
    return out
}
