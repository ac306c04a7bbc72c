package corp

import (
    "context"
    "errors"
    "sync/atomic"
    "testing"

    "github.com/hyperifyio/dartsearch/internal/dart"
)

func staticDirectory(recs []dart.CorpRecord) func(ctx context.Context) ([]dart.CorpRecord, error) {
    return func(ctx context.Context) ([]dart.CorpRecord, error) { return recs, nil }
}

var sampleDirectory = []dart.CorpRecord{
    {CorpCode: "00111222", CorpName: "메리츠금융지주", StockCode: "138040"},
    {CorpCode: "00111333", CorpName: "메리츠증권", StockCode: "008560"},
    {CorpCode: "00222111", CorpName: "삼성전자", StockCode: "005930"},
    {CorpCode: "00222333", CorpName: "삼성전기", StockCode: "009150"},
    {CorpCode: "00999999", CorpName: "한화생명보험 주식회사", StockCode: "088350"},
}

func TestNormalize_StripsSuffixesAndWidth(t *testing.T) {
    cases := map[string]string{
        "삼성전자 주식회사": "삼성전자",
        "(주)삼성전자":    "삼성전자",
        "㈜삼성전자":      "삼성전자",
        " Samsung Electronics ": "samsungelectronics",
    }
    for in, want := range cases {
        if got := Normalize(in); got != want {
            t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
        }
    }
}

func TestResolve_FuzzyPrefixMatch(t *testing.T) {
    r := &Resolver{Load: staticDirectory(sampleDirectory)}
    matches, err := r.Resolve(context.Background(), "메리츠금융")
    if err != nil {
        t.Fatalf("resolve error: %v", err)
    }
    if len(matches) == 0 {
        t.Fatal("expected candidates")
    }
    if matches[0].CorpName != "메리츠금융지주" {
        t.Fatalf("expected 메리츠금융지주 first, got %q", matches[0].CorpName)
    }
    if matches[0].Score < 60 || matches[0].Score > 100 {
        t.Fatalf("score out of range: %d", matches[0].Score)
    }
    if len(matches) > 5 {
        t.Fatalf("at most 5 candidates, got %d", len(matches))
    }
}

func TestResolve_ExactNormalizedIs100(t *testing.T) {
    r := &Resolver{Load: staticDirectory(sampleDirectory)}
    matches, err := r.Resolve(context.Background(), "한화생명보험(주)")
    if err != nil {
        t.Fatalf("resolve error: %v", err)
    }
    if len(matches) == 0 || matches[0].Score != 100 {
        t.Fatalf("expected exact match at 100, got %+v", matches)
    }
}

func TestBest_RequiresHighScore(t *testing.T) {
    r := &Resolver{Load: staticDirectory(sampleDirectory)}
    m, ok, err := r.Best(context.Background(), "삼성전자")
    if err != nil || !ok {
        t.Fatalf("expected confident match: ok=%v err=%v", ok, err)
    }
    if m.CorpCode != "00222111" {
        t.Fatalf("wrong code: %s", m.CorpCode)
    }

    if _, ok, _ := r.Best(context.Background(), "전혀무관한회사이름"); ok {
        t.Fatal("unrelated name must not produce a best match")
    }
}

func TestResolve_EmptyNameYieldsNothing(t *testing.T) {
    r := &Resolver{Load: staticDirectory(sampleDirectory)}
    matches, err := r.Resolve(context.Background(), "  ")
    if err != nil || len(matches) != 0 {
        t.Fatalf("expected no candidates: %v %v", matches, err)
    }
}

func TestEnsure_LoadsOnceAcrossCalls(t *testing.T) {
    var loads atomic.Int32
    r := &Resolver{Load: func(ctx context.Context) ([]dart.CorpRecord, error) {
        loads.Add(1)
        return sampleDirectory, nil
    }}
    for i := 0; i < 3; i++ {
        if _, err := r.Resolve(context.Background(), "삼성전자"); err != nil {
            t.Fatalf("resolve error: %v", err)
        }
    }
    if loads.Load() != 1 {
        t.Fatalf("directory must load once, got %d", loads.Load())
    }
}

func TestEnsure_LoadErrorIsNotSticky(t *testing.T) {
    fail := true
    r := &Resolver{Load: func(ctx context.Context) ([]dart.CorpRecord, error) {
        if fail {
            return nil, errors.New("network down")
        }
        return sampleDirectory, nil
    }}
    if _, err := r.Resolve(context.Background(), "삼성전자"); err == nil {
        t.Fatal("expected load error")
    }
    fail = false
    if _, err := r.Resolve(context.Background(), "삼성전자"); err != nil {
        t.Fatalf("recovery expected after failed load: %v", err)
    }
}

func TestRebuild_SwapsSnapshot(t *testing.T) {
    r := &Resolver{Load: staticDirectory(sampleDirectory)}
    if _, err := r.Resolve(context.Background(), "삼성전자"); err != nil {
        t.Fatal(err)
    }
    r.Load = staticDirectory([]dart.CorpRecord{{CorpCode: "00000001", CorpName: "새회사"}})
    if err := r.Rebuild(context.Background()); err != nil {
        t.Fatalf("rebuild error: %v", err)
    }
    if _, ok, _ := r.Best(context.Background(), "삼성전자"); ok {
        t.Fatal("old snapshot must be gone after rebuild")
    }
    if _, ok, _ := r.Best(context.Background(), "새회사"); !ok {
        t.Fatal("new snapshot must be visible")
    }
}
