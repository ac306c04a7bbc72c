package sufficiency

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "strings"
    "time"

    "github.com/rs/zerolog/log"
    openai "github.com/sashabaranov/go-openai"

    "github.com/hyperifyio/dartsearch/internal/dart"
    "github.com/hyperifyio/dartsearch/internal/dateparse"
    "github.com/hyperifyio/dartsearch/internal/llm"
)

// minBodies is the evidence floor below which a degraded search round
// triggers the deterministic broadening refinement.
const minBodies = 3

// Decision is the checker's verdict on the evidence collected so far.
type Decision struct {
    Sufficient     bool
    Reasons        []string
    MissingAspects []string
    Refinement     *Refinement
}

// Refinement describes how the next attempt should differ.
type Refinement struct {
    // BroadenDateRangePct widens the window backward by this share of its
    // current span.
    BroadenDateRangePct int
    // DropLastDocType removes the last entry of the doc-type list; entries
    // are not ranked by specificity.
    DropLastDocType bool
    // AddKeywords extends the keyword set (LLM-proposed).
    AddKeywords []string
    // AddDocTypes extends the doc-type set (LLM-proposed, taxonomy-checked).
    AddDocTypes []string
}

// Apply produces the refined query for the next attempt. The caller rejects
// the refinement when the result equals the previous query.
func (r *Refinement) Apply(q dart.ExpandedQuery, now time.Time) dart.ExpandedQuery {
    out := q
    out.DocTypes = append([]string(nil), q.DocTypes...)
    out.Keywords = append([]string(nil), q.Keywords...)
    if r.BroadenDateRangePct > 0 {
        out.DateRange = dateparse.Broaden(q.DateRange, r.BroadenDateRangePct, now)
    }
    if r.DropLastDocType && len(out.DocTypes) > 0 {
        out.DocTypes = out.DocTypes[:len(out.DocTypes)-1]
    }
    for _, dt := range r.AddDocTypes {
        if dart.ValidDetailType(dt) && !contains(out.DocTypes, dt) {
            out.DocTypes = append(out.DocTypes, dt)
        }
    }
    for _, kw := range r.AddKeywords {
        kw = strings.TrimSpace(kw)
        if kw != "" && !contains(out.Keywords, kw) {
            out.Keywords = append(out.Keywords, kw)
        }
    }
    return out
}

// Checker decides whether the collected filings answer the question.
// Deterministic rules run first; the model is consulted only for the
// judgment call, and its unavailability defaults to sufficient so the loop
// can never hang on a dead LLM.
type Checker struct {
    Client      llm.Client
    Model       string
    MaxAttempts int
}

// Check evaluates the current evidence. attemptsUsed counts completed
// search rounds including the current one.
func (c *Checker) Check(ctx context.Context, query string, q dart.ExpandedQuery, filings []dart.Filing, attemptsUsed int, searchDegraded bool) Decision {
    maxAttempts := c.MaxAttempts
    if maxAttempts <= 0 {
        maxAttempts = 3
    }
    if attemptsUsed >= maxAttempts {
        return Decision{Sufficient: true, Reasons: []string{"attempt budget exhausted"}}
    }

    bodies := 0
    for _, f := range filings {
        if f.Content != "" || len(f.StructuredData) > 0 {
            bodies++
        }
    }
    if bodies < minBodies && searchDegraded {
        return Decision{
            Sufficient: false,
            Reasons:    []string{fmt.Sprintf("only %d filings with content and at least one sub-query failed", bodies)},
            Refinement: &Refinement{BroadenDateRangePct: 50, DropLastDocType: true},
        }
    }

    d, err := c.llmCheck(ctx, query, q, filings)
    if err != nil {
        if ctx.Err() == nil {
            log.Warn().Err(err).Msg("sufficiency check failed, treating evidence as sufficient")
        }
        return Decision{Sufficient: true, Reasons: []string{"sufficiency check unavailable"}}
    }
    return d
}

type llmVerdict struct {
    Sufficient     bool     `json:"sufficient"`
    Reasons        []string `json:"reasons"`
    MissingAspects []string `json:"missing_aspects"`
    Refinement     struct {
        BroadenDateRangePct int      `json:"broaden_date_range_pct"`
        DropLastDocType     bool     `json:"drop_last_doc_type"`
        AddKeywords         []string `json:"add_keywords"`
        AddDocTypes         []string `json:"add_doc_types"`
    } `json:"refinement"`
}

func (c *Checker) llmCheck(ctx context.Context, query string, q dart.ExpandedQuery, filings []dart.Filing) (Decision, error) {
    if c.Client == nil || strings.TrimSpace(c.Model) == "" {
        return Decision{}, errors.New("sufficiency checker not configured")
    }
    resp, err := c.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
        Model: c.Model,
        Messages: []openai.ChatCompletionMessage{
            {Role: openai.ChatMessageRoleSystem, Content: sufficiencySystemMessage},
            {Role: openai.ChatMessageRoleUser, Content: buildSufficiencyPrompt(query, q, filings)},
        },
        Temperature: 0.0,
        N:           1,
    })
    if err != nil {
        return Decision{}, fmt.Errorf("sufficiency call: %w", err)
    }
    if len(resp.Choices) == 0 {
        return Decision{}, errors.New("no choices")
    }
    raw, ok := llm.FirstJSONObject(resp.Choices[0].Message.Content)
    if !ok {
        return Decision{}, errors.New("no JSON object in sufficiency response")
    }
    var v llmVerdict
    if err := json.Unmarshal([]byte(raw), &v); err != nil {
        return Decision{}, fmt.Errorf("parse sufficiency json: %w", err)
    }
    d := Decision{Sufficient: v.Sufficient, Reasons: v.Reasons, MissingAspects: v.MissingAspects}
    if !v.Sufficient {
        d.Refinement = &Refinement{
            BroadenDateRangePct: v.Refinement.BroadenDateRangePct,
            DropLastDocType:     v.Refinement.DropLastDocType,
            AddKeywords:         v.Refinement.AddKeywords,
            AddDocTypes:         v.Refinement.AddDocTypes,
        }
    }
    return d, nil
}

const sufficiencySystemMessage = "You judge whether retrieved Korean corporate disclosures are enough to answer a question. Respond with strict JSON only: {\"sufficient\": bool, \"reasons\": string[], \"missing_aspects\": string[], \"refinement\": {\"broaden_date_range_pct\": int, \"drop_last_doc_type\": bool, \"add_keywords\": string[], \"add_doc_types\": string[]}}. Propose a refinement only when sufficient is false, and keep it minimal."

func buildSufficiencyPrompt(query string, q dart.ExpandedQuery, filings []dart.Filing) string {
    var sb strings.Builder
    sb.WriteString("Question: ")
    sb.WriteString(query)
    sb.WriteString("\nSearch window: ")
    sb.WriteString(q.DateRange.Begin)
    sb.WriteString("-")
    sb.WriteString(q.DateRange.End)
    if len(q.DocTypes) > 0 {
        sb.WriteString("\nDoc types: ")
        sb.WriteString(strings.Join(q.DocTypes, ", "))
    }
    sb.WriteString("\n\nRetrieved filings:\n")
    for _, f := range filings {
        sb.WriteString(f.RceptDt)
        sb.WriteString(" | ")
        sb.WriteString(f.CorpName)
        sb.WriteString(" | ")
        sb.WriteString(f.ReportNm)
        if f.FetchError != nil {
            sb.WriteString(" | body unavailable")
        } else {
            sb.WriteString(" | ")
            sb.WriteString(truncateForPrompt(f.Content, 200))
        }
        sb.WriteString("\n")
    }
    return sb.String()
}

func truncateForPrompt(s string, n int) string {
    runes := []rune(strings.ReplaceAll(s, "\n", " "))
    if len(runes) <= n {
        return string(runes)
    }
    return string(runes[:n])
}

func contains(ss []string, s string) bool {
    for _, v := range ss {
        if v == s {
            return true
        }
    }
    return false
}
