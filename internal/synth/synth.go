package synth

import (
    "context"
    "fmt"
    "sort"
    "strings"

    "github.com/rs/zerolog/log"
    openai "github.com/sashabaranov/go-openai"

    "github.com/hyperifyio/dartsearch/internal/dart"
    "github.com/hyperifyio/dartsearch/internal/llm"
)

const (
    maxKeyFindings   = 5
    snippetChars     = 280
    timelineDates    = 10
    eventsPerDate    = 3
    narrativeFilings = 5
)

// Summary is the envelope's aggregate block.
type Summary struct {
    TotalDocuments int            `json:"total_documents"`
    DateRange      dart.DateRange `json:"date_range"`
    Companies      []string       `json:"companies"`
    Confidence     string         `json:"confidence"`
}

// KeyFinding is one highlighted filing in the answer.
type KeyFinding struct {
    CorpName  string `json:"corp_name"`
    RceptDt   string `json:"rcept_dt"`
    ReportNm  string `json:"report_nm"`
    Snippet   string `json:"snippet"`
    SourceURL string `json:"source_url"`
    RceptNo   string `json:"rcept_no"`
}

// TimelineEntry groups filings published on one date.
type TimelineEntry struct {
    Date   string   `json:"date"`
    Events []string `json:"events"`
}

// Telemetry is the envelope's run accounting block.
type Telemetry struct {
    Attempts        int                   `json:"attempts"`
    PartialFailures []dart.PartialFailure `json:"partial_failures"`
    CacheHitRate    float64               `json:"cache_hit_rate"`
    LLMCalls        int                   `json:"llm_calls"`
    DurationMs      int64                 `json:"duration_ms"`
    PhaseMs         map[string]int64      `json:"phase_ms,omitempty"`
}

// Envelope is the stable response schema returned over the tool boundary.
type Envelope struct {
    Query       string          `json:"query"`
    Answer      string          `json:"answer"`
    Kind        string          `json:"kind,omitempty"`
    Summary     Summary         `json:"summary"`
    KeyFindings []KeyFinding    `json:"key_findings,omitempty"`
    Timeline    []TimelineEntry `json:"timeline,omitempty"`
    Documents   []dart.Filing   `json:"documents"`
    Telemetry   Telemetry       `json:"telemetry"`
}

// Synthesizer turns the final filing list into an analytic answer. The
// narrative comes from the model when available and from a deterministic
// template otherwise; synthesis never fails the run.
type Synthesizer struct {
    Client   llm.Client
    Model    string
    Language string
    // Link renders a public viewer URL for a receipt number.
    Link func(rceptNo string) string
}

// Synthesize builds the full response envelope.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, q dart.ExpandedQuery, filings []dart.Filing, tel Telemetry) Envelope {
    stats := analyze(q, filings)
    findings := s.keyFindings(filings)
    timeline := buildTimeline(filings)

    answer := ""
    if stats.fetched == 0 {
        answer = unavailableAnswer(query, q, len(filings))
    } else if narrative, err := s.narrative(ctx, query, stats, findings, filings); err == nil {
        answer = narrative
    } else {
        if ctx.Err() == nil {
            log.Warn().Err(err).Msg("narrative synthesis failed, using template answer")
        }
        answer = templateAnswer(query, q, stats, findings)
    }

    return Envelope{
        Query:  query,
        Answer: answer,
        Summary: Summary{
            TotalDocuments: len(filings),
            DateRange:      q.DateRange,
            Companies:      stats.companies,
            Confidence:     confidence(stats, tel),
        },
        KeyFindings: findings,
        Timeline:    timeline,
        Documents:   filings,
        Telemetry:   tel,
    }
}

type analysis struct {
    fetched     int
    companies   []string
    reportTypes map[string]int
    keywords    []string
}

func analyze(q dart.ExpandedQuery, filings []dart.Filing) analysis {
    a := analysis{reportTypes: map[string]int{}}
    companySet := map[string]struct{}{}
    for _, f := range filings {
        if f.Content != "" || len(f.StructuredData) > 0 {
            a.fetched++
        }
        if f.CorpName != "" {
            if _, ok := companySet[f.CorpName]; !ok {
                companySet[f.CorpName] = struct{}{}
                a.companies = append(a.companies, f.CorpName)
            }
        }
        a.reportTypes[f.DetailType]++
    }
    sort.Strings(a.companies)
    for _, kw := range q.Keywords {
        for _, f := range filings {
            if strings.Contains(f.ReportNm, kw) || strings.Contains(f.Content, kw) {
                a.keywords = append(a.keywords, kw)
                break
            }
        }
    }
    return a
}

func (s *Synthesizer) keyFindings(filings []dart.Filing) []KeyFinding {
    var out []KeyFinding
    for _, f := range filings {
        if len(out) >= maxKeyFindings {
            break
        }
        snippet := f.Content
        if snippet == "" && len(f.StructuredData) > 0 {
            snippet = structuredSnippet(f.StructuredData)
        }
        url := ""
        if s.Link != nil {
            url = s.Link(f.RceptNo)
        }
        out = append(out, KeyFinding{
            CorpName:  f.CorpName,
            RceptDt:   f.RceptDt,
            ReportNm:  f.ReportNm,
            Snippet:   truncateRunes(snippet, snippetChars),
            SourceURL: url,
            RceptNo:   f.RceptNo,
        })
    }
    return out
}

func buildTimeline(filings []dart.Filing) []TimelineEntry {
    byDate := map[string][]string{}
    var dates []string
    for _, f := range filings {
        if f.RceptDt == "" {
            continue
        }
        if _, ok := byDate[f.RceptDt]; !ok {
            dates = append(dates, f.RceptDt)
        }
        if len(byDate[f.RceptDt]) < eventsPerDate {
            byDate[f.RceptDt] = append(byDate[f.RceptDt], f.CorpName+" — "+f.ReportNm)
        }
    }
    sort.Sort(sort.Reverse(sort.StringSlice(dates)))
    if len(dates) > timelineDates {
        dates = dates[:timelineDates]
    }
    out := make([]TimelineEntry, 0, len(dates))
    for _, d := range dates {
        out = append(out, TimelineEntry{Date: d, Events: byDate[d]})
    }
    return out
}

func (s *Synthesizer) narrative(ctx context.Context, query string, stats analysis, findings []KeyFinding, filings []dart.Filing) (string, error) {
    if s.Client == nil || strings.TrimSpace(s.Model) == "" {
        return "", fmt.Errorf("synthesizer not configured")
    }
    resp, err := s.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
        Model: s.Model,
        Messages: []openai.ChatCompletionMessage{
            {Role: openai.ChatMessageRoleSystem, Content: s.systemMessage()},
            {Role: openai.ChatMessageRoleUser, Content: buildNarrativePrompt(query, stats, findings, filings)},
        },
        Temperature: 0.1,
        N:           1,
    })
    if err != nil {
        return "", fmt.Errorf("narrative call: %w", err)
    }
    if len(resp.Choices) == 0 {
        return "", fmt.Errorf("no choices")
    }
    out := strings.TrimSpace(resp.Choices[0].Message.Content)
    if out == "" {
        return "", fmt.Errorf("empty narrative")
    }
    return out, nil
}

func (s *Synthesizer) systemMessage() string {
    lang := s.Language
    if lang == "" {
        lang = "ko"
    }
    return "You are a corporate disclosure analyst. Answer the question using ONLY the provided filings; never invent filings, figures or dates. Reference filings by company name and receipt date. State explicitly when the evidence is partial. Answer in language: " + lang + "."
}

func buildNarrativePrompt(query string, stats analysis, findings []KeyFinding, filings []dart.Filing) string {
    var sb strings.Builder
    sb.WriteString("Question: ")
    sb.WriteString(query)
    sb.WriteString(fmt.Sprintf("\n\nRetrieved %d filings, %d with content.", len(filings), stats.fetched))
    if len(stats.companies) > 0 {
        sb.WriteString("\nCompanies: ")
        sb.WriteString(strings.Join(stats.companies, ", "))
    }
    if len(findings) > 0 {
        sb.WriteString("\n\nKey filings:\n")
        for _, kf := range findings {
            sb.WriteString(fmt.Sprintf("- %s %s %s: %s\n", kf.RceptDt, kf.CorpName, kf.ReportNm, kf.Snippet))
        }
    }
    sb.WriteString("\nFiling contents:\n")
    used := 0
    for _, f := range filings {
        if used >= narrativeFilings {
            break
        }
        if f.Content == "" && len(f.StructuredData) == 0 {
            continue
        }
        used++
        sb.WriteString(fmt.Sprintf("\n[%s %s — %s (%s)]\n", f.RceptDt, f.CorpName, f.ReportNm, f.RceptNo))
        if f.Content != "" {
            sb.WriteString(f.Content)
        } else {
            sb.WriteString(structuredSnippet(f.StructuredData))
        }
        sb.WriteString("\n")
    }
    return sb.String()
}

// templateAnswer is the deterministic fallback used when the narrative
// model is unavailable.
func templateAnswer(query string, q dart.ExpandedQuery, stats analysis, findings []KeyFinding) string {
    var sb strings.Builder
    sb.WriteString(fmt.Sprintf("'%s' 관련 공시 검색 결과입니다. 조회 기간 %s~%s, 총 %d건의 공시가 확인되었습니다.",
        query, q.DateRange.Begin, q.DateRange.End, stats.fetched))
    if len(stats.companies) > 0 {
        sb.WriteString(" 관련 회사: ")
        sb.WriteString(strings.Join(stats.companies, ", "))
        sb.WriteString(".")
    }
    if len(findings) > 0 {
        sb.WriteString("\n\n주요 공시:\n")
        for _, kf := range findings {
            sb.WriteString(fmt.Sprintf("- %s %s %s\n", kf.RceptDt, kf.CorpName, kf.ReportNm))
        }
    }
    return sb.String()
}

func unavailableAnswer(query string, q dart.ExpandedQuery, refCount int) string {
    if refCount == 0 {
        return fmt.Sprintf("'%s' 관련 공시를 %s~%s 기간에서 찾지 못했습니다. 기간을 넓히거나 회사명을 바꾸어 다시 시도해 주세요.",
            query, q.DateRange.Begin, q.DateRange.End)
    }
    return fmt.Sprintf("'%s' 관련 공시 %d건을 찾았으나 본문을 가져오지 못해 내용 근거를 제시할 수 없습니다. 문서 목록만 제공합니다.",
        query, refCount)
}

// confidence grades the evidence: high needs several fetched bodies and a
// clean single-attempt run, low means no bodies at all.
func confidence(stats analysis, tel Telemetry) string {
    switch {
    case stats.fetched == 0:
        return "low"
    case stats.fetched >= 3 && tel.Attempts == 1 && len(tel.PartialFailures) == 0:
        return "high"
    default:
        return "medium"
    }
}

func structuredSnippet(data map[string]string) string {
    keys := make([]string, 0, len(data))
    for k := range data {
        keys = append(keys, k)
    }
    sort.Strings(keys)
    var parts []string
    for _, k := range keys {
        parts = append(parts, k+": "+data[k])
        if len(parts) >= 8 {
            break
        }
    }
    return strings.Join(parts, ", ")
}

func truncateRunes(s string, n int) string {
    runes := []rune(s)
    if len(runes) <= n {
        return s
    }
    return string(runes[:n])
}

// CancelledEnvelope is the envelope returned for a cancelled run; no answer
// is synthesized.
func CancelledEnvelope(query string, tel Telemetry) Envelope {
    return Envelope{
        Query:     query,
        Kind:      "Cancelled",
        Summary:   Summary{Confidence: "low"},
        Documents: []dart.Filing{},
        Telemetry: tel,
    }
}
