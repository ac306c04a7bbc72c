package dart

import "time"

// DateRange is an inclusive filing-date window in YYYYMMDD form.
type DateRange struct {
    Begin string `json:"begin"`
    End   string `json:"end"`
}

// Contains reports whether the YYYYMMDD date falls inside the window.
// String comparison is sufficient for the fixed-width date format.
func (r DateRange) Contains(yyyymmdd string) bool {
    return len(yyyymmdd) == 8 && r.Begin <= yyyymmdd && yyyymmdd <= r.End
}

// ExpandedQuery is the structured form of a natural-language question,
// produced by the expander and consumed by every downstream phase.
type ExpandedQuery struct {
    // Companies holds canonical company names. CorpCodes is aligned 1:1;
    // an empty string marks a name the resolver could not map.
    Companies []string  `json:"companies"`
    CorpCodes []string  `json:"corp_codes"`
    DocTypes  []string  `json:"doc_types"`
    DateRange DateRange `json:"date_range"`
    Keywords  []string  `json:"keywords"`
    // OriginalQuery is the verbatim user input, kept for provenance.
    OriginalQuery string `json:"original_query"`
}

// Equal reports whether two expanded queries describe the same search.
// The sufficiency loop uses it to reject refinements that would repeat the
// previous attempt verbatim.
func (q ExpandedQuery) Equal(o ExpandedQuery) bool {
    if q.DateRange != o.DateRange {
        return false
    }
    if !equalStrings(q.Companies, o.Companies) || !equalStrings(q.CorpCodes, o.CorpCodes) {
        return false
    }
    return equalStrings(q.DocTypes, o.DocTypes) && equalStrings(q.Keywords, o.Keywords)
}

func equalStrings(a, b []string) bool {
    if len(a) != len(b) {
        return false
    }
    for i := range a {
        if a[i] != b[i] {
            return false
        }
    }
    return true
}

// FilingRef identifies one disclosure in the catalogue. Field names follow
// the DART wire format.
type FilingRef struct {
    RceptNo    string `json:"rcept_no"`
    CorpName   string `json:"corp_name"`
    CorpCode   string `json:"corp_code"`
    ReportNm   string `json:"report_nm"`
    RceptDt    string `json:"rcept_dt"`
    FlrNm      string `json:"flr_nm"`
    DetailType string `json:"pblntf_detail_ty"`
}

// Source names the channel a filing body was retrieved through.
type Source string

const (
    SourceStructuredAPI   Source = "structured_api"
    SourceDocumentArchive Source = "document_archive"
    SourceWebViewer       Source = "web_viewer"
    SourceNone            Source = "none"
)

// FetchError records why a filing body could not be retrieved.
type FetchError struct {
    Kind    string `json:"kind"`
    Message string `json:"message"`
}

// Filing is a FilingRef enriched with body data after the fetch phase.
// Exactly one of (Content/StructuredData non-empty) or (FetchError set)
// holds for every filing the fetcher returns.
type Filing struct {
    FilingRef
    Content        string            `json:"content,omitempty"`
    StructuredData map[string]string `json:"structured_data,omitempty"`
    Source         Source            `json:"source"`
    FetchedAt      time.Time         `json:"fetched_at"`
    FetchError     *FetchError       `json:"fetch_error,omitempty"`
}

// PartialFailure is one absorbed per-item error, surfaced in run telemetry.
type PartialFailure struct {
    Phase   string `json:"phase"`
    Kind    string `json:"kind"`
    Message string `json:"message"`
}
