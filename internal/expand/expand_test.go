package expand

import (
    "context"
    "errors"
    "strings"
    "testing"
    "time"

    openai "github.com/sashabaranov/go-openai"

    "github.com/hyperifyio/dartsearch/internal/corp"
    "github.com/hyperifyio/dartsearch/internal/dart"
)

var testNow = func() time.Time { return time.Date(2024, 10, 15, 9, 0, 0, 0, time.UTC) }

type fakeChat struct {
    content string
    err     error
    calls   int
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, _ openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
    f.calls++
    if f.err != nil {
        return openai.ChatCompletionResponse{}, f.err
    }
    return openai.ChatCompletionResponse{
        Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: f.content}}},
    }, nil
}

func testResolver() *corp.Resolver {
    return &corp.Resolver{Load: func(ctx context.Context) ([]dart.CorpRecord, error) {
        return []dart.CorpRecord{
            {CorpCode: "00138040", CorpName: "메리츠금융지주"},
            {CorpCode: "00126380", CorpName: "삼성전자"},
        }, nil
    }}
}

func TestRuleExpander_BroadMergerQuery(t *testing.T) {
    e := &RuleExpander{Resolver: testResolver(), Now: testNow}
    q, _, err := e.Expand(context.Background(), "최근 1개월 상장회사의 인수 합병 공시에서 합병 비율")
    if err != nil {
        t.Fatalf("expand error: %v", err)
    }
    if len(q.Companies) != 0 {
        t.Fatalf("broad market query must have no companies, got %v", q.Companies)
    }
    if q.DateRange.Begin != "20240915" || q.DateRange.End != "20241015" {
        t.Fatalf("unexpected window: %+v", q.DateRange)
    }
    if !containsStr(q.DocTypes, "B001") || !containsStr(q.DocTypes, "E003") {
        t.Fatalf("merger query must include B001 and E003, got %v", q.DocTypes)
    }
    if !containsStr(q.Keywords, "합병") {
        t.Fatalf("expected 합병 keyword, got %v", q.Keywords)
    }
    if q.OriginalQuery == "" {
        t.Fatal("original query must be preserved")
    }
}

func TestRuleExpander_ResolvesCompanyToken(t *testing.T) {
    e := &RuleExpander{Resolver: testResolver(), Now: testNow}
    q, _, err := e.Expand(context.Background(), "메리츠금융의 지난 3개월 스톡옵션 취소결의")
    if err != nil {
        t.Fatalf("expand error: %v", err)
    }
    if len(q.Companies) != 1 || q.Companies[0] != "메리츠금융지주" {
        t.Fatalf("expected resolved canonical name, got %v", q.Companies)
    }
    if len(q.CorpCodes) != 1 || q.CorpCodes[0] != "00138040" {
        t.Fatalf("expected aligned corp code, got %v", q.CorpCodes)
    }
    if !containsStr(q.DocTypes, "E004") {
        t.Fatalf("stock option query must include E004, got %v", q.DocTypes)
    }
}

func TestRuleExpander_UnknownDateAttachesWarning(t *testing.T) {
    e := &RuleExpander{Resolver: testResolver(), Now: testNow}
    q, warns, err := e.Expand(context.Background(), "합병 공시 정리")
    if err != nil {
        t.Fatalf("expand error: %v", err)
    }
    if q.DateRange.Begin != "20240717" || q.DateRange.End != "20241015" {
        t.Fatalf("expected default window, got %+v", q.DateRange)
    }
    if len(warns) == 0 {
        t.Fatal("expected a parser warning")
    }
}

func TestLLMExpander_ParsesAndPostProcesses(t *testing.T) {
    chat := &fakeChat{content: `{"companies":["메리츠금융"],"doc_types":["B001","E004","ZZZZ"],"date_range":{"begin":"20240715","end":"20241015"},"keywords":["스톡옵션","스톡옵션",""]}`}
    e := &LLMExpander{Client: chat, Model: "test-model", Resolver: testResolver(), Now: testNow}
    q, _, err := e.Expand(context.Background(), "메리츠금융의 지난 3개월 스톡옵션 취소결의")
    if err != nil {
        t.Fatalf("expand error: %v", err)
    }
    if q.Companies[0] != "메리츠금융지주" || q.CorpCodes[0] != "00138040" {
        t.Fatalf("post-processing must resolve companies, got %v %v", q.Companies, q.CorpCodes)
    }
    if containsStr(q.DocTypes, "ZZZZ") {
        t.Fatal("unknown taxonomy codes must be dropped")
    }
    if len(q.Keywords) != 1 {
        t.Fatalf("keywords must be deduplicated and non-empty, got %v", q.Keywords)
    }
}

func TestLLMExpander_NarrationWrappedJSON(t *testing.T) {
    chat := &fakeChat{content: "Sure, here you go:\n```json\n{\"companies\":[],\"doc_types\":[\"B001\"],\"date_range\":{\"begin\":\"20240901\",\"end\":\"20241015\"},\"keywords\":[\"합병\"]}\n```"}
    e := &LLMExpander{Client: chat, Model: "test-model", Resolver: testResolver(), Now: testNow}
    q, _, err := e.Expand(context.Background(), "합병 공시")
    if err != nil {
        t.Fatalf("expand error: %v", err)
    }
    if q.DateRange.Begin != "20240901" {
        t.Fatalf("unexpected begin: %s", q.DateRange.Begin)
    }
}

func TestFacade_FallsBackOnLLMFailure(t *testing.T) {
    chat := &fakeChat{err: errors.New("model offline")}
    f := &Facade{
        LLM:  &LLMExpander{Client: chat, Model: "test-model", Resolver: testResolver(), Now: testNow},
        Rule: &RuleExpander{Resolver: testResolver(), Now: testNow},
    }
    q, _, err := f.Expand(context.Background(), "최근 1개월 합병 공시")
    if err != nil {
        t.Fatalf("facade must fall back: %v", err)
    }
    if chat.calls != 1 {
        t.Fatalf("llm must be tried first, calls=%d", chat.calls)
    }
    if !containsStr(q.DocTypes, "B001") {
        t.Fatalf("rule strategy output expected, got %v", q.DocTypes)
    }
}

func TestValidate_Contract(t *testing.T) {
    now := testNow()
    base := dart.ExpandedQuery{
        DateRange: dart.DateRange{Begin: "20240101", End: "20240201"},
    }
    if err := Validate(base, now); err != nil {
        t.Fatalf("valid query rejected: %v", err)
    }

    bad := base
    bad.DateRange = dart.DateRange{Begin: "20240301", End: "20240201"}
    if err := Validate(bad, now); !errors.Is(err, ErrExpansionFailed) {
        t.Fatalf("reversed range must fail: %v", err)
    }

    bad = base
    bad.DateRange.End = "20991231"
    if err := Validate(bad, now); !errors.Is(err, ErrExpansionFailed) {
        t.Fatalf("future end must fail: %v", err)
    }

    bad = base
    bad.Companies = []string{"a"}
    bad.CorpCodes = []string{"12345"}
    if err := Validate(bad, now); !errors.Is(err, ErrExpansionFailed) {
        t.Fatalf("short corp code must fail: %v", err)
    }

    bad = base
    bad.DocTypes = []string{"K001"}
    if err := Validate(bad, now); !errors.Is(err, ErrExpansionFailed) {
        t.Fatalf("off-taxonomy doc type must fail: %v", err)
    }

    ok := base
    ok.Companies = []string{"a", "b"}
    ok.CorpCodes = []string{"12345678", ""}
    if err := Validate(ok, now); err != nil {
        t.Fatalf("empty corp code entries are allowed: %v", err)
    }
}

func TestValidate_MessageDoesNotLoseKind(t *testing.T) {
    err := Validate(dart.ExpandedQuery{DateRange: dart.DateRange{Begin: "x", End: "y"}}, testNow())
    if err == nil || !strings.Contains(err.Error(), "query expansion failed") {
        t.Fatalf("unexpected error text: %v", err)
    }
}

func containsStr(ss []string, s string) bool {
    for _, v := range ss {
        if v == s {
            return true
        }
    }
    return false
}
