package expand

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "regexp"
    "strings"
    "time"

    "github.com/rs/zerolog/log"
    openai "github.com/sashabaranov/go-openai"

    "github.com/hyperifyio/dartsearch/internal/corp"
    "github.com/hyperifyio/dartsearch/internal/dart"
    "github.com/hyperifyio/dartsearch/internal/dateparse"
    "github.com/hyperifyio/dartsearch/internal/llm"
)

// ErrExpansionFailed is returned when neither strategy can produce a valid
// ExpandedQuery. It aborts the pipeline on the first attempt.
var ErrExpansionFailed = errors.New("query expansion failed")

var corpCodeRe = regexp.MustCompile(`^\d{8}$`)

// Expander turns a natural-language question into an ExpandedQuery. The
// second return value carries non-fatal parser warnings for run telemetry.
type Expander interface {
    Expand(ctx context.Context, query string) (dart.ExpandedQuery, []string, error)
}

// Facade tries the LLM strategy and falls back to the rule strategy on any
// failure, mirroring the planner facade pattern.
type Facade struct {
    LLM  Expander
    Rule Expander
}

func (f *Facade) Expand(ctx context.Context, query string) (dart.ExpandedQuery, []string, error) {
    if f.LLM != nil {
        q, warns, err := f.LLM.Expand(ctx, query)
        if err == nil {
            return q, warns, nil
        }
        if ctx.Err() != nil {
            return dart.ExpandedQuery{}, nil, ctx.Err()
        }
        log.Warn().Err(err).Msg("llm expansion failed, using rule strategy")
    }
    if f.Rule == nil {
        return dart.ExpandedQuery{}, nil, ErrExpansionFailed
    }
    return f.Rule.Expand(ctx, query)
}

// LLMExpander asks the model for a structured extraction and post-processes
// the result against the taxonomy and the company directory.
type LLMExpander struct {
    Client   llm.Client
    Model    string
    Resolver *corp.Resolver
    Now      func() time.Time
}

type llmExtraction struct {
    Companies []string `json:"companies"`
    DocTypes  []string `json:"doc_types"`
    DateRange struct {
        Begin string `json:"begin"`
        End   string `json:"end"`
    } `json:"date_range"`
    Keywords []string `json:"keywords"`
}

func (e *LLMExpander) now() time.Time {
    if e.Now != nil {
        return e.Now()
    }
    return time.Now()
}

func (e *LLMExpander) Expand(ctx context.Context, query string) (dart.ExpandedQuery, []string, error) {
    if e.Client == nil || strings.TrimSpace(e.Model) == "" {
        return dart.ExpandedQuery{}, nil, errors.New("llm expander not configured")
    }
    now := e.now()
    var warns []string

    // Resolve date phrases before prompting so the model only confirms the
    // window instead of doing calendar arithmetic.
    hint, hintOK := dateparse.Parse(query, now)
    if !hintOK {
        hint = dateparse.Default(now)
    }

    resp, err := e.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
        Model: e.Model,
        Messages: []openai.ChatCompletionMessage{
            {Role: openai.ChatMessageRoleSystem, Content: buildSystemMessage()},
            {Role: openai.ChatMessageRoleUser, Content: buildUserMessage(query, hint, now)},
        },
        Temperature: 0.0,
        N:           1,
    })
    if err != nil {
        return dart.ExpandedQuery{}, nil, fmt.Errorf("expansion call: %w", err)
    }
    if len(resp.Choices) == 0 {
        return dart.ExpandedQuery{}, nil, errors.New("no choices")
    }
    raw, ok := llm.FirstJSONObject(resp.Choices[0].Message.Content)
    if !ok {
        return dart.ExpandedQuery{}, nil, errors.New("no JSON object in expansion response")
    }
    var ext llmExtraction
    if err := json.Unmarshal([]byte(raw), &ext); err != nil {
        return dart.ExpandedQuery{}, nil, fmt.Errorf("parse expansion json: %w", err)
    }

    q := dart.ExpandedQuery{OriginalQuery: query}
    q.DateRange = dart.DateRange{Begin: ext.DateRange.Begin, End: ext.DateRange.End}
    if q.DateRange.Begin == "" || q.DateRange.End == "" {
        q.DateRange = hint
        if !hintOK {
            warns = append(warns, "no date phrase recognized; defaulting to last 90 days")
        }
    }

    // Unknown taxonomy codes are dropped silently.
    for _, dt := range dedupe(ext.DocTypes) {
        if dart.ValidDetailType(dt) {
            q.DocTypes = append(q.DocTypes, dt)
        }
    }
    q.Keywords = dedupe(ext.Keywords)
    q.Companies, q.CorpCodes, warns = resolveCompanies(ctx, e.Resolver, dedupe(ext.Companies), warns)

    if err := Validate(q, now); err != nil {
        return dart.ExpandedQuery{}, nil, err
    }
    return q, warns, nil
}

func buildSystemMessage() string {
    return "You are a query analyst for Korean corporate disclosure (DART) search. Respond with strict JSON only, no narration. Schema: {\"companies\": string[], \"doc_types\": string[], \"date_range\": {\"begin\": \"YYYYMMDD\", \"end\": \"YYYYMMDD\"}, \"keywords\": string[]}. companies holds company names mentioned in the question, empty when the question targets the whole market. doc_types holds publication detail-type codes matching ^[A-J][0-9]{3}$, for example B001 for major-issue reports, E001 treasury stock, E003 merger completion, E004 stock options, A001-A003 periodic reports. keywords holds the content terms the answer must touch."
}

func buildUserMessage(query string, hint dart.DateRange, now time.Time) string {
    var sb strings.Builder
    sb.WriteString("Question: ")
    sb.WriteString(query)
    sb.WriteString("\nToday: ")
    sb.WriteString(now.Format("20060102"))
    sb.WriteString("\nDate window from the question (use unless the question clearly says otherwise): ")
    sb.WriteString(hint.Begin)
    sb.WriteString("-")
    sb.WriteString(hint.End)
    sb.WriteString("\nKnown doc-type codes: ")
    sb.WriteString(strings.Join(dart.KnownDetailTypes(), ", "))
    return sb.String()
}

// RuleExpander is the deterministic fallback: quoted or suffixed company
// tokens, the date-phrase parser on the raw text, taxonomy keyword hints,
// and tokenized keywords.
type RuleExpander struct {
    Resolver *corp.Resolver
    Now      func() time.Time
}

var (
    quotedRe = regexp.MustCompile(`["'\x{201C}\x{201D}]([^"'\x{201C}\x{201D}]{2,30})["'\x{201C}\x{201D}]`)
    // words directly attached to a corporate marker, e.g. 삼성전자(주), 삼성전자㈜
    companyishRe = regexp.MustCompile(`([가-힣A-Za-z0-9&]{2,20})(?:\(주\)|㈜|주식회사)`)
    tokenRe      = regexp.MustCompile(`[가-힣]{2,}|[A-Za-z]{3,}|\d{4,}`)
)

var stopwords = map[string]struct{}{
    "공시": {}, "관련": {}, "내용": {}, "알려줘": {}, "정리": {}, "최근": {}, "지난": {},
    "대한": {}, "대해": {}, "있는": {}, "무엇": {}, "어떤": {}, "상장회사": {}, "상장사": {},
}

func (e *RuleExpander) now() time.Time {
    if e.Now != nil {
        return e.Now()
    }
    return time.Now()
}

func (e *RuleExpander) Expand(ctx context.Context, query string) (dart.ExpandedQuery, []string, error) {
    now := e.now()
    var warns []string

    q := dart.ExpandedQuery{OriginalQuery: query}
    r, ok := dateparse.Parse(query, now)
    if !ok {
        r = dateparse.Default(now)
        warns = append(warns, "no date phrase recognized; defaulting to last 90 days")
    }
    q.DateRange = r
    q.DocTypes = dart.GuessDetailTypes(query)

    var names []string
    for _, m := range quotedRe.FindAllStringSubmatch(query, -1) {
        names = append(names, strings.TrimSpace(m[1]))
    }
    for _, m := range companyishRe.FindAllStringSubmatch(query, -1) {
        names = append(names, strings.TrimSpace(m[1]))
    }
    // Resolver-confirmed tokens: a token the directory maps with high
    // confidence is treated as a company mention even without quoting.
    if e.Resolver != nil {
        for _, tok := range tokenRe.FindAllString(query, -1) {
            if _, stop := stopwords[tok]; stop {
                continue
            }
            if len(names) >= 3 {
                break
            }
            for _, cand := range []string{tok, stripParticle(tok)} {
                if cand == "" || containsString(names, cand) {
                    continue
                }
                if _, ok, err := e.Resolver.Best(ctx, cand); err == nil && ok {
                    names = append(names, cand)
                    break
                }
            }
        }
    }
    q.Companies, q.CorpCodes, warns = resolveCompanies(ctx, e.Resolver, dedupe(names), warns)

    companySet := map[string]struct{}{}
    for _, c := range q.Companies {
        companySet[c] = struct{}{}
    }
    for _, tok := range tokenRe.FindAllString(query, -1) {
        if _, stop := stopwords[tok]; stop {
            continue
        }
        if _, isCompany := companySet[tok]; isCompany {
            continue
        }
        q.Keywords = append(q.Keywords, tok)
    }
    q.Keywords = dedupe(q.Keywords)

    if err := Validate(q, now); err != nil {
        return dart.ExpandedQuery{}, nil, err
    }
    return q, warns, nil
}

// resolveCompanies maps names through the directory, aligning corp_codes 1:1
// with companies and leaving empty codes for unresolvable names.
func resolveCompanies(ctx context.Context, r *corp.Resolver, names []string, warns []string) ([]string, []string, []string) {
    if len(names) == 0 {
        return nil, nil, warns
    }
    companies := make([]string, 0, len(names))
    codes := make([]string, 0, len(names))
    for _, name := range names {
        if r == nil {
            companies = append(companies, name)
            codes = append(codes, "")
            continue
        }
        m, ok, err := r.Best(ctx, name)
        if err != nil {
            warns = append(warns, fmt.Sprintf("company directory unavailable for %q: %v", name, err))
            companies = append(companies, name)
            codes = append(codes, "")
            continue
        }
        if !ok {
            warns = append(warns, fmt.Sprintf("company %q not resolved", name))
            companies = append(companies, name)
            codes = append(codes, "")
            continue
        }
        companies = append(companies, m.CorpName)
        codes = append(codes, m.CorpCode)
    }
    return companies, codes, warns
}

// Validate enforces the ExpandedQuery contract. A validation failure maps to
// ErrExpansionFailed at the pipeline boundary.
func Validate(q dart.ExpandedQuery, now time.Time) error {
    today := now.Format("20060102")
    if len(q.DateRange.Begin) != 8 || len(q.DateRange.End) != 8 {
        return fmt.Errorf("%w: malformed date range %q-%q", ErrExpansionFailed, q.DateRange.Begin, q.DateRange.End)
    }
    if q.DateRange.Begin > q.DateRange.End {
        return fmt.Errorf("%w: begin %s after end %s", ErrExpansionFailed, q.DateRange.Begin, q.DateRange.End)
    }
    if q.DateRange.End > today {
        return fmt.Errorf("%w: end %s in the future", ErrExpansionFailed, q.DateRange.End)
    }
    if len(q.CorpCodes) != len(q.Companies) {
        return fmt.Errorf("%w: corp_codes misaligned with companies", ErrExpansionFailed)
    }
    for _, c := range q.CorpCodes {
        if c != "" && !corpCodeRe.MatchString(c) {
            return fmt.Errorf("%w: bad corp_code %q", ErrExpansionFailed, c)
        }
    }
    for _, dt := range q.DocTypes {
        if !dart.ValidDetailType(dt) {
            return fmt.Errorf("%w: bad doc type %q", ErrExpansionFailed, dt)
        }
    }
    return nil
}

func dedupe(in []string) []string {
    seen := map[string]struct{}{}
    var out []string
    for _, s := range in {
        s = strings.TrimSpace(s)
        if s == "" {
            continue
        }
        if _, ok := seen[s]; ok {
            continue
        }
        seen[s] = struct{}{}
        out = append(out, s)
    }
    return out
}

// stripParticle removes a trailing Korean particle (의/은/는/이/가/도/와/과)
// so "메리츠금융의" resolves like "메리츠금융".
func stripParticle(tok string) string {
    runes := []rune(tok)
    if len(runes) < 3 {
        return ""
    }
    switch runes[len(runes)-1] {
    case '의', '은', '는', '이', '가', '도', '와', '과':
        return string(runes[:len(runes)-1])
    }
    return ""
}

func containsString(ss []string, s string) bool {
    for _, v := range ss {
        if v == s {
            return true
        }
    }
    return false
}
