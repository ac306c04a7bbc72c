package dart

import (
    "archive/zip"
    "bytes"
    "context"
    "encoding/json"
    "encoding/xml"
    "errors"
    "fmt"
    "io"
    "net/url"
    "sort"
    "strconv"
    "strings"

    "github.com/hyperifyio/dartsearch/internal/httpx"
)

// DefaultBaseURL is the production OpenDART API root.
const DefaultBaseURL = "https://opendart.fss.or.kr"

// DefaultViewerURL is the public web viewer root, the fetcher's last-resort
// document source.
const DefaultViewerURL = "https://dart.fss.or.kr"

// Catalogue status codes. "013" is the documented no-data response and is
// not an error.
const (
    statusOK     = "000"
    statusNoData = "013"
)

// ListParams are the catalogue search parameters.
type ListParams struct {
    BgnDe     string
    EndDe     string
    DetailTy  string
    CorpCode  string
    PageNo    int
    PageCount int
}

// Canonical renders the params as a stable fingerprint component.
func (p ListParams) Canonical() string {
    return strings.Join([]string{
        p.BgnDe, p.EndDe, p.DetailTy, p.CorpCode,
        strconv.Itoa(p.PageNo), strconv.Itoa(p.PageCount),
    }, "|")
}

// ListPage is one page of catalogue results.
type ListPage struct {
    PageNo     int
    TotalPage  int
    TotalCount int
    List       []FilingRef
}

// Client is the thin adapter over the DART JSON/XML wire formats. All
// network traffic goes through the shared rate-limited HTTP client.
type Client struct {
    HTTP      *httpx.Client
    BaseURL   string
    ViewerURL string
    APIKey    string
}

func (c *Client) baseURL() string {
    if c.BaseURL != "" {
        return strings.TrimRight(c.BaseURL, "/")
    }
    return DefaultBaseURL
}

func (c *Client) viewerURL() string {
    if c.ViewerURL != "" {
        return strings.TrimRight(c.ViewerURL, "/")
    }
    return DefaultViewerURL
}

type listResponse struct {
    Status     string `json:"status"`
    Message    string `json:"message"`
    PageNo     int    `json:"page_no"`
    TotalPage  int    `json:"total_page"`
    TotalCount int    `json:"total_count"`
    List       []struct {
        CorpName   string `json:"corp_name"`
        CorpCode   string `json:"corp_code"`
        ReportNm   string `json:"report_nm"`
        RceptNo    string `json:"rcept_no"`
        FlrNm      string `json:"flr_nm"`
        RceptDt    string `json:"rcept_dt"`
        DetailType string `json:"pblntf_detail_ty"`
    } `json:"list"`
}

// List queries the disclosure catalogue.
func (c *Client) List(ctx context.Context, p ListParams) (ListPage, error) {
    params := url.Values{}
    params.Set("crtfc_key", c.APIKey)
    params.Set("bgn_de", p.BgnDe)
    params.Set("end_de", p.EndDe)
    params.Set("sort", "date")
    params.Set("sort_mth", "desc")
    if p.DetailTy != "" {
        params.Set("pblntf_detail_ty", p.DetailTy)
    }
    if p.CorpCode != "" {
        params.Set("corp_code", p.CorpCode)
    }
    if p.PageNo > 0 {
        params.Set("page_no", strconv.Itoa(p.PageNo))
    }
    if p.PageCount > 0 {
        params.Set("page_count", strconv.Itoa(p.PageCount))
    }
    body, _, err := c.HTTP.Get(ctx, c.baseURL()+"/api/list.json", params)
    if err != nil {
        return ListPage{}, fmt.Errorf("catalogue search: %w", err)
    }
    var lr listResponse
    if err := json.Unmarshal(body, &lr); err != nil {
        return ListPage{}, fmt.Errorf("decode catalogue response: %w", err)
    }
    switch lr.Status {
    case statusOK:
    case statusNoData:
        return ListPage{PageNo: p.PageNo, TotalPage: 0, TotalCount: 0}, nil
    default:
        return ListPage{}, fmt.Errorf("catalogue status %s: %s", lr.Status, lr.Message)
    }
    page := ListPage{PageNo: lr.PageNo, TotalPage: lr.TotalPage, TotalCount: lr.TotalCount}
    for _, r := range lr.List {
        page.List = append(page.List, FilingRef{
            RceptNo:    r.RceptNo,
            CorpName:   r.CorpName,
            CorpCode:   r.CorpCode,
            ReportNm:   r.ReportNm,
            RceptDt:    r.RceptDt,
            FlrNm:      r.FlrNm,
            DetailType: r.DetailType,
        })
    }
    return page, nil
}

// CorpRecord is one row of the company directory.
type CorpRecord struct {
    CorpCode  string `xml:"corp_code"`
    CorpName  string `xml:"corp_name"`
    StockCode string `xml:"stock_code"`
}

type corpCodeFile struct {
    List []CorpRecord `xml:"list"`
}

// DirectoryURL is the company catalogue endpoint, exposed so callers can
// route the download through the content cache.
func (c *Client) DirectoryURL() string {
    return c.baseURL() + "/api/corpCode.xml"
}

// CompanyDirectory downloads and parses the full company catalogue, a ZIP
// wrapping a single CORPCODE.xml.
func (c *Client) CompanyDirectory(ctx context.Context) ([]CorpRecord, error) {
    params := url.Values{}
    params.Set("crtfc_key", c.APIKey)
    body, _, err := c.HTTP.Get(ctx, c.baseURL()+"/api/corpCode.xml", params)
    if err != nil {
        return nil, fmt.Errorf("download company directory: %w", err)
    }
    return ParseCompanyDirectory(body)
}

// ParseCompanyDirectory decodes the corpCode ZIP payload.
func ParseCompanyDirectory(zipped []byte) ([]CorpRecord, error) {
    xmlBody, err := firstZipEntry(zipped, ".xml")
    if err != nil {
        return nil, fmt.Errorf("company directory archive: %w", err)
    }
    var f corpCodeFile
    if err := xml.Unmarshal(xmlBody, &f); err != nil {
        return nil, fmt.Errorf("decode company directory: %w", err)
    }
    out := make([]CorpRecord, 0, len(f.List))
    for _, r := range f.List {
        r.CorpCode = strings.TrimSpace(r.CorpCode)
        r.CorpName = strings.TrimSpace(r.CorpName)
        r.StockCode = strings.TrimSpace(r.StockCode)
        if r.CorpCode == "" || r.CorpName == "" {
            continue
        }
        out = append(out, r)
    }
    sort.Slice(out, func(i, j int) bool { return out[i].CorpCode < out[j].CorpCode })
    return out, nil
}

// Document downloads the disclosure archive for a receipt number and returns
// the raw XML bodies of its entries, largest first.
func (c *Client) Document(ctx context.Context, rceptNo string) ([][]byte, error) {
    params := url.Values{}
    params.Set("crtfc_key", c.APIKey)
    params.Set("rcept_no", rceptNo)
    body, _, err := c.HTTP.Get(ctx, c.baseURL()+"/api/document.xml", params)
    if err != nil {
        return nil, fmt.Errorf("download document archive: %w", err)
    }
    zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
    if err != nil {
        return nil, fmt.Errorf("open document archive: %w", err)
    }
    var out [][]byte
    for _, f := range zr.File {
        rc, err := f.Open()
        if err != nil {
            continue
        }
        b, err := io.ReadAll(rc)
        rc.Close()
        if err != nil || len(b) == 0 {
            continue
        }
        out = append(out, b)
    }
    if len(out) == 0 {
        return nil, errors.New("empty document archive")
    }
    sort.SliceStable(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
    return out, nil
}

// structuredEndpoints maps detail types with a dedicated detail API to their
// endpoint path.
var structuredEndpoints = map[string]string{
    "B001": "/api/majorReports.json",
    "E001": "/api/tsstkAqDecsn.json",
    "E002": "/api/tsstkTrustDecsn.json",
    "E003": "/api/mgEnd.json",
    "E004": "/api/stkoptDecsn.json",
    "A001": "/api/fnlttSinglAcnt.json",
    "A002": "/api/fnlttSinglAcnt.json",
    "A003": "/api/fnlttSinglAcnt.json",
}

// StructuredEndpoint reports whether a detail type has a dedicated
// structured endpoint.
func StructuredEndpoint(detailTy string) (string, bool) {
    p, ok := structuredEndpoints[detailTy]
    return p, ok
}

// Structured fetches the structured detail record for one filing. The
// response is flattened into string key/value pairs; list responses keep the
// row matching rcept_no, or the first row.
func (c *Client) Structured(ctx context.Context, ref FilingRef) (map[string]string, error) {
    endpoint, ok := StructuredEndpoint(ref.DetailType)
    if !ok {
        return nil, fmt.Errorf("no structured endpoint for %s", ref.DetailType)
    }
    params := url.Values{}
    params.Set("crtfc_key", c.APIKey)
    params.Set("rcept_no", ref.RceptNo)
    if ref.CorpCode != "" {
        params.Set("corp_code", ref.CorpCode)
    }
    body, _, err := c.HTTP.Get(ctx, c.baseURL()+endpoint, params)
    if err != nil {
        return nil, fmt.Errorf("structured detail: %w", err)
    }
    var raw struct {
        Status  string           `json:"status"`
        Message string           `json:"message"`
        List    []map[string]any `json:"list"`
    }
    if err := json.Unmarshal(body, &raw); err != nil {
        return nil, fmt.Errorf("decode structured detail: %w", err)
    }
    if raw.Status != statusOK {
        return nil, fmt.Errorf("structured detail status %s: %s", raw.Status, raw.Message)
    }
    if len(raw.List) == 0 {
        return nil, errors.New("structured detail: empty list")
    }
    row := raw.List[0]
    for _, r := range raw.List {
        if v, ok := r["rcept_no"].(string); ok && v == ref.RceptNo {
            row = r
            break
        }
    }
    out := make(map[string]string, len(row))
    for k, v := range row {
        switch t := v.(type) {
        case string:
            if s := strings.TrimSpace(t); s != "" && s != "-" {
                out[k] = s
            }
        case float64:
            out[k] = strconv.FormatFloat(t, 'f', -1, 64)
        }
    }
    if len(out) == 0 {
        return nil, errors.New("structured detail: no usable fields")
    }
    return out, nil
}

// ViewerPage fetches the public web viewer HTML for a receipt number.
func (c *Client) ViewerPage(ctx context.Context, rceptNo string) ([]byte, error) {
    params := url.Values{}
    params.Set("rcpNo", rceptNo)
    body, _, err := c.HTTP.Get(ctx, c.viewerURL()+"/dsaf001/main.do", params)
    if err != nil {
        return nil, fmt.Errorf("viewer page: %w", err)
    }
    return body, nil
}

// ViewerLink returns the public URL of a filing, used in answer citations.
func (c *Client) ViewerLink(rceptNo string) string {
    return c.viewerURL() + "/dsaf001/main.do?rcpNo=" + url.QueryEscape(rceptNo)
}

func firstZipEntry(zipped []byte, suffix string) ([]byte, error) {
    zr, err := zip.NewReader(bytes.NewReader(zipped), int64(len(zipped)))
    if err != nil {
        return nil, err
    }
    for _, f := range zr.File {
        if suffix != "" && !strings.HasSuffix(strings.ToLower(f.Name), suffix) {
            continue
        }
        rc, err := f.Open()
        if err != nil {
            return nil, err
        }
        defer rc.Close()
        return io.ReadAll(rc)
    }
    return nil, errors.New("no matching archive entry")
}
