package filter

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "sort"
    "strings"

    "github.com/rs/zerolog/log"
    openai "github.com/sashabaranov/go-openai"

    "github.com/hyperifyio/dartsearch/internal/dart"
    "github.com/hyperifyio/dartsearch/internal/llm"
)

// MaxDocsToReturn caps the surviving candidate list after filtering.
const MaxDocsToReturn = 30

// minKeep is the rule strategy's floor: when fewer than minKeep candidates
// score above zero, it returns the minKeep most recent candidates instead of
// the scored ones.
const minKeep = 5

// Filter selects the relevant candidates, at most MaxDocsToReturn, in the
// order it prefers. Ordering is the only relevance signal that crosses this
// boundary; no score is attached to the output.
type Filter interface {
    Filter(ctx context.Context, query string, q dart.ExpandedQuery, candidates []dart.FilingRef) ([]dart.FilingRef, error)
}

// LLMFilter asks the model which receipt numbers are plausibly relevant and
// falls back to the rule strategy on any failure.
type LLMFilter struct {
    Client   llm.Client
    Model    string
    Fallback *RuleFilter
}

type llmSelection struct {
    Relevant []struct {
        RceptNo string `json:"rcept_no"`
        Reason  string `json:"reason"`
    } `json:"relevant"`
}

func (f *LLMFilter) Filter(ctx context.Context, query string, q dart.ExpandedQuery, candidates []dart.FilingRef) ([]dart.FilingRef, error) {
    out, err := f.llmFilter(ctx, query, candidates)
    if err == nil {
        return out, nil
    }
    if ctx.Err() != nil {
        return nil, ctx.Err()
    }
    log.Warn().Err(err).Msg("llm filter failed, using rule strategy")
    fb := f.Fallback
    if fb == nil {
        fb = &RuleFilter{}
    }
    return fb.Filter(ctx, query, q, candidates)
}

func (f *LLMFilter) llmFilter(ctx context.Context, query string, candidates []dart.FilingRef) ([]dart.FilingRef, error) {
    if f.Client == nil || strings.TrimSpace(f.Model) == "" {
        return nil, errors.New("llm filter not configured")
    }
    if len(candidates) == 0 {
        return nil, nil
    }
    resp, err := f.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
        Model: f.Model,
        Messages: []openai.ChatCompletionMessage{
            {Role: openai.ChatMessageRoleSystem, Content: filterSystemMessage},
            {Role: openai.ChatMessageRoleUser, Content: buildFilterPrompt(query, candidates)},
        },
        Temperature: 0.0,
        N:           1,
    })
    if err != nil {
        return nil, fmt.Errorf("filter call: %w", err)
    }
    if len(resp.Choices) == 0 {
        return nil, errors.New("no choices")
    }
    raw, ok := llm.FirstJSONObject(resp.Choices[0].Message.Content)
    if !ok {
        return nil, errors.New("no JSON object in filter response")
    }
    var sel llmSelection
    if err := json.Unmarshal([]byte(raw), &sel); err != nil {
        return nil, fmt.Errorf("parse filter json: %w", err)
    }

    byNo := make(map[string]dart.FilingRef, len(candidates))
    for _, c := range candidates {
        byNo[c.RceptNo] = c
    }
    seen := map[string]struct{}{}
    var out []dart.FilingRef
    for _, r := range sel.Relevant {
        ref, known := byNo[r.RceptNo]
        if !known {
            // Identifiers outside the input set are discarded, not trusted.
            continue
        }
        if _, dup := seen[r.RceptNo]; dup {
            continue
        }
        seen[r.RceptNo] = struct{}{}
        out = append(out, ref)
        if len(out) >= MaxDocsToReturn {
            break
        }
    }
    if len(out) == 0 {
        return nil, errors.New("filter selected nothing usable")
    }
    return out, nil
}

const filterSystemMessage = "You are screening Korean corporate disclosures for relevance to a question. Respond with strict JSON only: {\"relevant\": [{\"rcept_no\": string, \"reason\": string}]}. Include only receipt numbers from the provided list that plausibly help answer the question, most relevant first, at most 30. Reasons stay under 15 words."

func buildFilterPrompt(query string, candidates []dart.FilingRef) string {
    var sb strings.Builder
    sb.WriteString("Question: ")
    sb.WriteString(query)
    sb.WriteString("\n\nCandidates:\n")
    for _, c := range candidates {
        sb.WriteString(c.RceptNo)
        sb.WriteString(" | ")
        sb.WriteString(c.RceptDt)
        sb.WriteString(" | ")
        sb.WriteString(c.CorpName)
        sb.WriteString(" | ")
        sb.WriteString(c.ReportNm)
        if c.DetailType != "" {
            sb.WriteString(" | ")
            sb.WriteString(c.DetailType)
        }
        sb.WriteString("\n")
    }
    return sb.String()
}

// RuleFilter scores candidates from the expanded query: keyword mentions in
// the report title, exact company match, doc-type membership, and a
// freshness tiebreak.
type RuleFilter struct{}

func (f *RuleFilter) Filter(_ context.Context, _ string, q dart.ExpandedQuery, candidates []dart.FilingRef) ([]dart.FilingRef, error) {
    type scored struct {
        ref   dart.FilingRef
        score int
    }
    companySet := map[string]struct{}{}
    for _, c := range q.Companies {
        companySet[c] = struct{}{}
    }
    typeSet := map[string]struct{}{}
    for _, t := range q.DocTypes {
        typeSet[t] = struct{}{}
    }

    all := make([]scored, 0, len(candidates))
    for _, c := range candidates {
        s := 0
        for _, kw := range q.Keywords {
            if strings.Contains(c.ReportNm, kw) {
                s += 2
            }
        }
        if _, ok := companySet[c.CorpName]; ok {
            s += 3
        }
        if _, ok := typeSet[c.DetailType]; ok {
            s++
        }
        all = append(all, scored{ref: c, score: s})
    }
    sort.SliceStable(all, func(i, j int) bool {
        if all[i].score != all[j].score {
            return all[i].score > all[j].score
        }
        return all[i].ref.RceptDt > all[j].ref.RceptDt
    })

    var out []dart.FilingRef
    for _, s := range all {
        if s.score <= 0 {
            break
        }
        out = append(out, s.ref)
        if len(out) >= MaxDocsToReturn {
            break
        }
    }
    if len(out) < minKeep {
        // Too little signal in titles alone; the scored selection is
        // discarded and the most recent filings are kept regardless of
        // score, so the fetch phase still has something to scan.
        recent := make([]dart.FilingRef, len(candidates))
        copy(recent, candidates)
        sort.SliceStable(recent, func(i, j int) bool { return recent[i].RceptDt > recent[j].RceptDt })
        if len(recent) > minKeep {
            recent = recent[:minKeep]
        }
        return recent, nil
    }
    return out, nil
}
