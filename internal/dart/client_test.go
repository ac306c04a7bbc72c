package dart

import (
    "archive/zip"
    "bytes"
    "context"
    "encoding/json"
    "net/http"
    "net/http/httptest"
    "testing"

    "github.com/hyperifyio/dartsearch/internal/httpx"
)

func newTestClient(srv *httptest.Server) *Client {
    return &Client{
        HTTP:      &httpx.Client{HTTPClient: srv.Client()},
        BaseURL:   srv.URL,
        ViewerURL: srv.URL,
        APIKey:    "test-key",
    }
}

func TestList_ParsesCatalogueResponse(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if r.URL.Path != "/api/list.json" {
            t.Errorf("unexpected path %s", r.URL.Path)
        }
        if r.URL.Query().Get("crtfc_key") != "test-key" {
            t.Error("api key missing from request")
        }
        w.Header().Set("Content-Type", "application/json")
        _ = json.NewEncoder(w).Encode(map[string]any{
            "status": "000", "message": "정상",
            "page_no": 1, "total_page": 2, "total_count": 120,
            "list": []map[string]any{
                {"corp_name": "샘플전자", "corp_code": "00111222", "report_nm": "주요사항보고서",
                    "rcept_no": "20240101000001", "flr_nm": "샘플전자", "rcept_dt": "20240102", "pblntf_detail_ty": "B001"},
            },
        })
    }))
    defer srv.Close()

    page, err := newTestClient(srv).List(context.Background(), ListParams{BgnDe: "20240101", EndDe: "20240131", PageNo: 1, PageCount: 100})
    if err != nil {
        t.Fatalf("list error: %v", err)
    }
    if page.TotalPage != 2 || page.TotalCount != 120 || len(page.List) != 1 {
        t.Fatalf("unexpected page: %+v", page)
    }
    ref := page.List[0]
    if ref.RceptNo != "20240101000001" || ref.DetailType != "B001" {
        t.Fatalf("unexpected ref: %+v", ref)
    }
}

func TestList_NoDataStatusIsEmptyNotError(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        _ = json.NewEncoder(w).Encode(map[string]any{"status": "013", "message": "조회된 데이타가 없습니다."})
    }))
    defer srv.Close()

    page, err := newTestClient(srv).List(context.Background(), ListParams{BgnDe: "20240101", EndDe: "20240131"})
    if err != nil {
        t.Fatalf("013 must not be an error: %v", err)
    }
    if len(page.List) != 0 || page.TotalCount != 0 {
        t.Fatalf("expected empty page, got %+v", page)
    }
}

func TestList_ErrorStatusSurfaces(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        _ = json.NewEncoder(w).Encode(map[string]any{"status": "020", "message": "사용한도 초과"})
    }))
    defer srv.Close()

    if _, err := newTestClient(srv).List(context.Background(), ListParams{}); err == nil {
        t.Fatal("expected error for quota status")
    }
}

func zipOf(t *testing.T, name string, body string) []byte {
    t.Helper()
    var buf bytes.Buffer
    zw := zip.NewWriter(&buf)
    f, err := zw.Create(name)
    if err != nil {
        t.Fatal(err)
    }
    if _, err := f.Write([]byte(body)); err != nil {
        t.Fatal(err)
    }
    if err := zw.Close(); err != nil {
        t.Fatal(err)
    }
    return buf.Bytes()
}

func TestParseCompanyDirectory(t *testing.T) {
    payload := zipOf(t, "CORPCODE.xml", `<?xml version="1.0" encoding="UTF-8"?>
<result>
  <list><corp_code>00111222</corp_code><corp_name> 샘플전자 </corp_name><stock_code>001122</stock_code></list>
  <list><corp_code></corp_code><corp_name>무코드</corp_name><stock_code></stock_code></list>
  <list><corp_code>00333444</corp_code><corp_name>샘플금융지주</corp_name><stock_code> </stock_code></list>
</result>`)
    recs, err := ParseCompanyDirectory(payload)
    if err != nil {
        t.Fatalf("parse error: %v", err)
    }
    if len(recs) != 2 {
        t.Fatalf("expected 2 usable records, got %d", len(recs))
    }
    if recs[0].CorpName != "샘플전자" {
        t.Fatalf("expected trimmed name, got %q", recs[0].CorpName)
    }
}

func TestDocument_ReturnsArchiveEntriesLargestFirst(t *testing.T) {
    var buf bytes.Buffer
    zw := zip.NewWriter(&buf)
    small, _ := zw.Create("meta.xml")
    _, _ = small.Write([]byte("<x/>"))
    big, _ := zw.Create("body.xml")
    _, _ = big.Write([]byte("<BODY><P>본문입니다 본문입니다</P></BODY>"))
    _ = zw.Close()

    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if r.URL.Query().Get("rcept_no") != "20240101000001" {
            t.Error("rcept_no missing")
        }
        _, _ = w.Write(buf.Bytes())
    }))
    defer srv.Close()

    bodies, err := newTestClient(srv).Document(context.Background(), "20240101000001")
    if err != nil {
        t.Fatalf("document error: %v", err)
    }
    if len(bodies) != 2 || len(bodies[0]) < len(bodies[1]) {
        t.Fatalf("expected largest-first entries, got %d", len(bodies))
    }
}

func TestStructured_FlattensMatchingRow(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        _ = json.NewEncoder(w).Encode(map[string]any{
            "status": "000",
            "list": []map[string]any{
                {"rcept_no": "20240101000009", "mg_rt": "1:9"},
                {"rcept_no": "20240101000001", "mg_rt": "1 : 0.5", "empty": "-", "cnt": 3},
            },
        })
    }))
    defer srv.Close()

    data, err := newTestClient(srv).Structured(context.Background(), FilingRef{
        RceptNo: "20240101000001", CorpCode: "00111222", DetailType: "E003",
    })
    if err != nil {
        t.Fatalf("structured error: %v", err)
    }
    if data["mg_rt"] != "1 : 0.5" {
        t.Fatalf("expected matching row, got %+v", data)
    }
    if _, ok := data["empty"]; ok {
        t.Fatal("placeholder dash values must be dropped")
    }
    if data["cnt"] != "3" {
        t.Fatalf("numeric fields must be stringified, got %+v", data)
    }
}

func TestStructured_UnknownDetailType(t *testing.T) {
    c := &Client{HTTP: &httpx.Client{}}
    if _, err := c.Structured(context.Background(), FilingRef{DetailType: "J001"}); err == nil {
        t.Fatal("expected error for type without structured endpoint")
    }
}

func TestTaxonomy_GuessDetailTypes(t *testing.T) {
    got := GuessDetailTypes("최근 1개월 상장회사의 인수 합병 공시에서 합병 비율")
    if !containsStr(got, "B001") || !containsStr(got, "E003") {
        t.Fatalf("merger question must hint B001 and E003, got %v", got)
    }
    got = GuessDetailTypes("메리츠금융의 지난 3개월 스톡옵션 취소결의")
    if !containsStr(got, "B001") || !containsStr(got, "E004") {
        t.Fatalf("stock option question must hint B001 and E004, got %v", got)
    }
}

func TestTaxonomy_ValidDetailType(t *testing.T) {
    for _, ok := range []string{"A001", "J999", "B001"} {
        if !ValidDetailType(ok) {
            t.Errorf("%s should be valid", ok)
        }
    }
    for _, bad := range []string{"K001", "B01", "b001", "B0011", ""} {
        if ValidDetailType(bad) {
            t.Errorf("%s should be invalid", bad)
        }
    }
}

func TestDateRange_Contains(t *testing.T) {
    r := DateRange{Begin: "20240101", End: "20241231"}
    if !r.Contains("20240615") || r.Contains("20230101") || r.Contains("20250101") || r.Contains("") {
        t.Fatal("window containment broken")
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
