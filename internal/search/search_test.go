package search

import (
    "context"
    "errors"
    "fmt"
    "sync"
    "sync/atomic"
    "testing"
    "time"

    "github.com/hyperifyio/dartsearch/internal/cache"
    "github.com/hyperifyio/dartsearch/internal/dart"
)

var testNow = func() time.Time { return time.Date(2024, 10, 15, 9, 0, 0, 0, time.UTC) }

// fakeCatalogue keys canned pages by (corp_code, detail_ty, page_no).
type fakeCatalogue struct {
    mu    sync.Mutex
    pages map[string]dart.ListPage
    errs  map[string]error
    calls atomic.Int32
}

func key(corpCode, detailTy string, pageNo int) string {
    return fmt.Sprintf("%s|%s|%d", corpCode, detailTy, pageNo)
}

func (f *fakeCatalogue) List(_ context.Context, p dart.ListParams) (dart.ListPage, error) {
    f.calls.Add(1)
    f.mu.Lock()
    defer f.mu.Unlock()
    k := key(p.CorpCode, p.DetailTy, p.PageNo)
    if err, ok := f.errs[k]; ok {
        return dart.ListPage{}, err
    }
    if page, ok := f.pages[k]; ok {
        return page, nil
    }
    return dart.ListPage{PageNo: p.PageNo, TotalPage: 0}, nil
}

func ref(no, dt string) dart.FilingRef {
    return dart.FilingRef{RceptNo: no, RceptDt: dt, CorpName: "샘플전자", ReportNm: "주요사항보고서", DetailType: "B001"}
}

func window() dart.DateRange { return dart.DateRange{Begin: "20240101", End: "20240930"} }

func TestSearch_MergesAndDedupsByRceptNo(t *testing.T) {
    cat := &fakeCatalogue{pages: map[string]dart.ListPage{
        key("", "B001", 1): {PageNo: 1, TotalPage: 1, List: []dart.FilingRef{ref("001", "20240901"), ref("002", "20240801")}},
        key("", "E003", 1): {PageNo: 1, TotalPage: 1, List: []dart.FilingRef{ref("002", "20240801"), ref("003", "20240701")}},
    }}
    e := &Executor{Catalogue: cat, Now: testNow}
    q := dart.ExpandedQuery{DocTypes: []string{"B001", "E003"}, DateRange: window()}
    refs, failures, err := e.Search(context.Background(), q)
    if err != nil {
        t.Fatalf("search error: %v", err)
    }
    if len(failures) != 0 {
        t.Fatalf("unexpected failures: %v", failures)
    }
    if len(refs) != 3 {
        t.Fatalf("expected 3 deduplicated refs, got %d", len(refs))
    }
    for i := 1; i < len(refs); i++ {
        if refs[i-1].RceptDt < refs[i].RceptDt {
            t.Fatal("merged results must be newest first")
        }
    }
}

func TestSearch_DropsOutOfWindowRefs(t *testing.T) {
    cat := &fakeCatalogue{pages: map[string]dart.ListPage{
        key("", "", 1): {PageNo: 1, TotalPage: 1, List: []dart.FilingRef{
            ref("001", "20230101"), // leaked by the API, outside the window
            ref("002", "20240501"),
        }},
    }}
    e := &Executor{Catalogue: cat, Now: testNow}
    q := dart.ExpandedQuery{DateRange: dart.DateRange{Begin: "20240101", End: "20241231"}}
    refs, _, err := e.Search(context.Background(), q)
    if err != nil {
        t.Fatalf("search error: %v", err)
    }
    for _, r := range refs {
        if r.RceptNo == "001" {
            t.Fatal("out-of-window filing must be dropped before filtering")
        }
    }
    if len(refs) != 1 {
        t.Fatalf("expected 1 ref, got %d", len(refs))
    }
}

func TestSearch_WildcardWhenNoCompanies(t *testing.T) {
    cat := &fakeCatalogue{pages: map[string]dart.ListPage{
        key("", "B001", 1): {PageNo: 1, TotalPage: 1, List: []dart.FilingRef{ref("001", "20240901")}},
    }}
    e := &Executor{Catalogue: cat, Now: testNow}
    q := dart.ExpandedQuery{DocTypes: []string{"B001"}, DateRange: window()}
    refs, _, err := e.Search(context.Background(), q)
    if err != nil || len(refs) != 1 {
        t.Fatalf("no-company search must issue a wildcard sub-query: %v %d", err, len(refs))
    }
}

func TestSearch_Paginates(t *testing.T) {
    cat := &fakeCatalogue{pages: map[string]dart.ListPage{
        key("", "", 1): {PageNo: 1, TotalPage: 2, List: []dart.FilingRef{ref("001", "20240901")}},
        key("", "", 2): {PageNo: 2, TotalPage: 2, List: []dart.FilingRef{ref("002", "20240801")}},
    }}
    e := &Executor{Catalogue: cat, Now: testNow}
    refs, _, err := e.Search(context.Background(), dart.ExpandedQuery{DateRange: window()})
    if err != nil || len(refs) != 2 {
        t.Fatalf("expected both pages collected: %v %d", err, len(refs))
    }
}

func TestSearch_PerSubQueryCap(t *testing.T) {
    var list []dart.FilingRef
    for i := 0; i < 50; i++ {
        list = append(list, ref(fmt.Sprintf("%03d", i), "20240901"))
    }
    cat := &fakeCatalogue{pages: map[string]dart.ListPage{
        key("", "", 1): {PageNo: 1, TotalPage: 3, List: list},
    }}
    e := &Executor{Catalogue: cat, MaxResultsPerSearch: 30, Now: testNow}
    refs, _, err := e.Search(context.Background(), dart.ExpandedQuery{DateRange: window()})
    if err != nil {
        t.Fatalf("search error: %v", err)
    }
    if len(refs) != 30 {
        t.Fatalf("per-sub-query cap must hold, got %d", len(refs))
    }
    if cat.calls.Load() != 1 {
        t.Fatalf("pagination must stop at the cap, calls=%d", cat.calls.Load())
    }
}

func TestSearch_PartialFailureContinues(t *testing.T) {
    cat := &fakeCatalogue{
        pages: map[string]dart.ListPage{
            key("", "B001", 1): {PageNo: 1, TotalPage: 1, List: []dart.FilingRef{ref("001", "20240901")}},
        },
        errs: map[string]error{
            key("", "E003", 1): errors.New("quota exceeded"),
        },
    }
    e := &Executor{Catalogue: cat, Now: testNow}
    q := dart.ExpandedQuery{DocTypes: []string{"B001", "E003"}, DateRange: window()}
    refs, failures, err := e.Search(context.Background(), q)
    if err != nil {
        t.Fatalf("partial failure must not fail the phase: %v", err)
    }
    if len(refs) != 1 || len(failures) != 1 {
        t.Fatalf("expected 1 ref and 1 recorded failure, got %d/%d", len(refs), len(failures))
    }
    if failures[0].Phase != "search" {
        t.Fatalf("failure must be attributed to the search phase: %+v", failures[0])
    }
}

func TestSearch_AllSubQueriesFailing(t *testing.T) {
    cat := &fakeCatalogue{errs: map[string]error{
        key("", "B001", 1): errors.New("down"),
        key("", "E003", 1): errors.New("down"),
    }}
    e := &Executor{Catalogue: cat, Now: testNow}
    q := dart.ExpandedQuery{DocTypes: []string{"B001", "E003"}, DateRange: window()}
    _, _, err := e.Search(context.Background(), q)
    if !errors.Is(err, ErrSearchUnavailable) {
        t.Fatalf("expected ErrSearchUnavailable, got %v", err)
    }
}

func TestSearch_CachedSecondRun(t *testing.T) {
    cat := &fakeCatalogue{pages: map[string]dart.ListPage{
        key("", "", 1): {PageNo: 1, TotalPage: 1, List: []dart.FilingRef{ref("001", "20240901")}},
    }}
    store := cache.New(1 << 20)
    e := &Executor{Catalogue: cat, Cache: store, Now: testNow}
    q := dart.ExpandedQuery{DateRange: window()} // closed window, no refetch

    first, _, err := e.Search(context.Background(), q)
    if err != nil {
        t.Fatal(err)
    }
    calls := cat.calls.Load()
    second, _, err := e.Search(context.Background(), q)
    if err != nil {
        t.Fatal(err)
    }
    if cat.calls.Load() != calls {
        t.Fatalf("second run must be served from cache, calls %d -> %d", calls, cat.calls.Load())
    }
    if len(first) != len(second) || first[0] != second[0] {
        t.Fatal("cache hit must be indistinguishable from a fresh call")
    }
}

func TestSearch_OpenWindowRefetchesLastPage(t *testing.T) {
    cat := &fakeCatalogue{pages: map[string]dart.ListPage{
        key("", "", 1): {PageNo: 1, TotalPage: 1, List: []dart.FilingRef{ref("001", "20241015")}},
    }}
    store := cache.New(1 << 20)
    e := &Executor{Catalogue: cat, Cache: store, Now: testNow}
    q := dart.ExpandedQuery{DateRange: dart.DateRange{Begin: "20240901", End: "20241015"}} // includes today

    if _, _, err := e.Search(context.Background(), q); err != nil {
        t.Fatal(err)
    }
    calls := cat.calls.Load()
    if _, _, err := e.Search(context.Background(), q); err != nil {
        t.Fatal(err)
    }
    if cat.calls.Load() != calls+1 {
        t.Fatalf("open window must refetch the live last page exactly once, calls %d -> %d", calls, cat.calls.Load())
    }
}

func TestBuildSubQueries_Matrix(t *testing.T) {
    q := dart.ExpandedQuery{
        Companies: []string{"a", "b"},
        CorpCodes: []string{"00000001", ""},
        DocTypes:  []string{"B001", "E004"},
    }
    subs := buildSubQueries(q)
    // One resolvable company x two doc types.
    if len(subs) != 2 {
        t.Fatalf("expected 2 sub-queries, got %d", len(subs))
    }
    for _, s := range subs {
        if s.corpCode != "00000001" {
            t.Fatalf("unresolved companies must not produce sub-queries: %+v", s)
        }
    }
}
