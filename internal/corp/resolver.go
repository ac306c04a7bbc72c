package corp

import (
    "context"
    "sort"
    "strings"
    "sync/atomic"

    "golang.org/x/sync/singleflight"
    "golang.org/x/text/unicode/norm"
    "golang.org/x/text/width"

    "github.com/hyperifyio/dartsearch/internal/dart"
)

// Match is one fuzzy-resolution candidate. Score is in [0,100].
type Match struct {
    CorpName string
    CorpCode string
    Score    int
}

const (
    resolveFloor = 60
    bestFloor    = 80
    maxMatches   = 5
)

type record struct {
    name     string
    code     string
    norm     string
    tokens   []string
    tokenSet map[string]struct{}
}

type snapshot struct {
    records []record
}

// Resolver maps free-form company names to directory entries. The directory
// snapshot is immutable; rebuilds swap the pointer atomically so readers
// never observe a half-built directory.
type Resolver struct {
    // Load downloads the full company directory.
    Load func(ctx context.Context) ([]dart.CorpRecord, error)

    snap  atomic.Pointer[snapshot]
    group singleflight.Group
}

func (r *Resolver) ensure(ctx context.Context) (*snapshot, error) {
    if s := r.snap.Load(); s != nil {
        return s, nil
    }
    v, err, _ := r.group.Do("load", func() (any, error) {
        if s := r.snap.Load(); s != nil {
            return s, nil
        }
        recs, err := r.Load(ctx)
        if err != nil {
            return nil, err
        }
        s := buildSnapshot(recs)
        r.snap.Store(s)
        return s, nil
    })
    if err != nil {
        return nil, err
    }
    return v.(*snapshot), nil
}

// Rebuild refreshes the directory and atomically publishes the new snapshot.
func (r *Resolver) Rebuild(ctx context.Context) error {
    recs, err := r.Load(ctx)
    if err != nil {
        return err
    }
    r.snap.Store(buildSnapshot(recs))
    return nil
}

func buildSnapshot(recs []dart.CorpRecord) *snapshot {
    s := &snapshot{records: make([]record, 0, len(recs))}
    for _, cr := range recs {
        n := Normalize(cr.CorpName)
        if n == "" {
            continue
        }
        toks := tokenize(n)
        set := make(map[string]struct{}, len(toks))
        for _, t := range toks {
            set[t] = struct{}{}
        }
        s.records = append(s.records, record{
            name:     cr.CorpName,
            code:     cr.CorpCode,
            norm:     n,
            tokens:   toks,
            tokenSet: set,
        })
    }
    return s
}

// Resolve returns up to five candidates scoring at least 60, best first.
// Ties break toward the shorter canonical name, then lexicographically.
func (r *Resolver) Resolve(ctx context.Context, name string) ([]Match, error) {
    s, err := r.ensure(ctx)
    if err != nil {
        return nil, err
    }
    qn := Normalize(name)
    if qn == "" {
        return nil, nil
    }
    qTokens := tokenize(qn)
    var out []Match
    for i := range s.records {
        rec := &s.records[i]
        sc := score(qn, qTokens, rec)
        if sc < resolveFloor {
            continue
        }
        out = append(out, Match{CorpName: rec.name, CorpCode: rec.code, Score: sc})
    }
    sort.SliceStable(out, func(i, j int) bool {
        if out[i].Score != out[j].Score {
            return out[i].Score > out[j].Score
        }
        if len(out[i].CorpName) != len(out[j].CorpName) {
            return len(out[i].CorpName) < len(out[j].CorpName)
        }
        return out[i].CorpName < out[j].CorpName
    })
    if len(out) > maxMatches {
        out = out[:maxMatches]
    }
    return out, nil
}

// Best returns the single top candidate when it scores at least 80.
func (r *Resolver) Best(ctx context.Context, name string) (Match, bool, error) {
    matches, err := r.Resolve(ctx, name)
    if err != nil {
        return Match{}, false, err
    }
    if len(matches) == 0 || matches[0].Score < bestFloor {
        return Match{}, false, nil
    }
    return matches[0], true, nil
}

// score blends token-set Jaccard on normalized names with an edit-distance
// ratio on the full normalized strings. Exact normalized equality and
// containment short-circuit high.
func score(qn string, qTokens []string, rec *record) int {
    if qn == rec.norm {
        return 100
    }
    if strings.Contains(rec.norm, qn) || strings.Contains(qn, rec.norm) {
        shorter, longer := len(qn), len(rec.norm)
        if shorter > longer {
            shorter, longer = longer, shorter
        }
        // containment scales with the covered share of the longer name
        sc := 70 + 30*shorter/longer
        if sc > 95 {
            sc = 95
        }
        return sc
    }
    inter := 0
    for _, t := range qTokens {
        if _, ok := rec.tokenSet[t]; ok {
            inter++
        }
    }
    union := len(qTokens) + len(rec.tokens) - inter
    jaccard := 0.0
    if union > 0 {
        jaccard = float64(inter) / float64(union)
    }
    lev := levenshtein(qn, rec.norm)
    maxLen := len([]rune(qn))
    if l := len([]rune(rec.norm)); l > maxLen {
        maxLen = l
    }
    ratio := 0.0
    if maxLen > 0 {
        ratio = 1 - float64(lev)/float64(maxLen)
    }
    return int(100*(0.6*jaccard+0.4*ratio) + 0.5)
}

var corpSuffixes = []string{"주식회사", "(주)", "㈜", "유한회사", "(유)"}

// Normalize folds width variants, applies NFKC, lowercases, strips corporate
// suffixes and removes whitespace and punctuation.
func Normalize(name string) string {
    s := width.Fold.String(norm.NFKC.String(name))
    s = strings.ToLower(strings.TrimSpace(s))
    for _, suf := range corpSuffixes {
        s = strings.ReplaceAll(s, suf, "")
    }
    var b strings.Builder
    for _, r := range s {
        switch {
        case r == ' ' || r == '\t':
        case r == '.' || r == ',' || r == '·' || r == '-' || r == '_':
        default:
            b.WriteRune(r)
        }
    }
    return b.String()
}

// tokenize splits a normalized name into overlapping bigrams so that Korean
// names, which carry no whitespace after normalization, still produce a
// meaningful token set.
func tokenize(s string) []string {
    runes := []rune(s)
    if len(runes) <= 2 {
        return []string{s}
    }
    out := make([]string, 0, len(runes)-1)
    for i := 0; i+2 <= len(runes); i++ {
        out = append(out, string(runes[i:i+2]))
    }
    return out
}

func levenshtein(a, b string) int {
    ra, rb := []rune(a), []rune(b)
    if len(ra) == 0 {
        return len(rb)
    }
    if len(rb) == 0 {
        return len(ra)
    }
    prev := make([]int, len(rb)+1)
    cur := make([]int, len(rb)+1)
    for j := range prev {
        prev[j] = j
    }
    for i := 1; i <= len(ra); i++ {
        cur[0] = i
        for j := 1; j <= len(rb); j++ {
            cost := 1
            if ra[i-1] == rb[j-1] {
                cost = 0
            }
            cur[j] = min3(cur[j-1]+1, prev[j]+1, prev[j-1]+cost)
        }
        prev, cur = cur, prev
    }
    return prev[len(rb)]
}

func min3(a, b, c int) int {
    if b < a {
        a = b
    }
    if c < a {
        a = c
    }
    return a
}
