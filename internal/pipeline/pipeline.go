package pipeline

import (
    "context"
    "errors"
    "fmt"
    "time"

    "github.com/rs/zerolog/log"

    "github.com/hyperifyio/dartsearch/internal/dart"
    "github.com/hyperifyio/dartsearch/internal/expand"
    "github.com/hyperifyio/dartsearch/internal/filter"
    "github.com/hyperifyio/dartsearch/internal/httpx"
    "github.com/hyperifyio/dartsearch/internal/search"
    "github.com/hyperifyio/dartsearch/internal/sufficiency"
    "github.com/hyperifyio/dartsearch/internal/synth"
)

// Options are per-run knobs supplied by the caller.
type Options struct {
    // MaxAttempts bounds the sufficiency loop. Default 3.
    MaxAttempts int
    // MaxResultsPerSearch caps each catalogue sub-query. Zero keeps the cap
    // the searcher was built with.
    MaxResultsPerSearch int
    // Concurrency bounds parallel document fetches for this run.
    Concurrency int
    // Language of the final answer. Default "ko".
    Language string
}

func (o Options) maxAttempts() int {
    if o.MaxAttempts <= 0 {
        return 3
    }
    return o.MaxAttempts
}

// CacheStats exposes the shared cache's counters to the run, so the
// orchestrator can report a per-run hit rate.
type CacheStats interface {
    Counters() (hits, misses int64)
}

// LLMCalls reports cumulative model invocations; implemented by
// llm.Counting.
type LLMCalls interface {
    Calls() int64
}

// Searcher abstracts the search executor for tests.
type Searcher interface {
    Search(ctx context.Context, q dart.ExpandedQuery) ([]dart.FilingRef, []dart.PartialFailure, error)
}

// Fetcher abstracts the document fetcher for tests.
type Fetcher interface {
    Fetch(ctx context.Context, refs []dart.FilingRef) []dart.Filing
}

// Checker abstracts the sufficiency checker for tests.
type Checker interface {
    Check(ctx context.Context, query string, q dart.ExpandedQuery, filings []dart.Filing, attemptsUsed int, searchDegraded bool) sufficiency.Decision
}

// Synthesizer abstracts the answer stage for tests.
type Synthesizer interface {
    Synthesize(ctx context.Context, query string, q dart.ExpandedQuery, filings []dart.Filing, tel synth.Telemetry) synth.Envelope
}

// Pipeline drives one deep-search run through its phases:
//
//	EXPAND -> SEARCH -> FILTER -> FETCH -> SUFFICIENCY -> {SYNTHESIZE | EXPAND}
//
// Phases are strictly sequential within a run; fan-out happens inside the
// search and fetch phases only. A run's context cancels every outbound call.
type Pipeline struct {
    Expander expand.Expander
    Searcher Searcher
    Filter   filter.Filter
    Fetcher  Fetcher
    Checker  Checker
    Synth    Synthesizer

    Cache CacheStats
    LLM   LLMCalls
    Now   func() time.Time
}

type runState struct {
    query    string
    attempts int
    q        dart.ExpandedQuery
    filings  []dart.Filing
    failures []dart.PartialFailure
    phaseMs  map[string]int64

    startHits, startMisses int64
    startLLM               int64
    started                time.Time
}

func (p *Pipeline) now() time.Time {
    if p.Now != nil {
        return p.Now()
    }
    return time.Now()
}

// Run executes the pipeline for one query. Only two shapes ever cross this
// boundary: a populated envelope (possibly degraded, confidence low) or a
// Cancelled envelope. Hard failures on the first attempt return an error
// alongside a minimal envelope.
func (p *Pipeline) Run(ctx context.Context, query string, opts Options) (synth.Envelope, error) {
    st := &runState{
        query:   query,
        phaseMs: map[string]int64{},
        started: p.now(),
    }
    if p.Cache != nil {
        st.startHits, st.startMisses = p.Cache.Counters()
    }
    if p.LLM != nil {
        st.startLLM = p.LLM.Calls()
    }
    log.Info().Str("query", query).Int("max_attempts", opts.maxAttempts()).Msg("deep search started")

    env, err := p.run(ctx, st, opts)
    if err == nil {
        log.Info().
            Int("attempts", env.Telemetry.Attempts).
            Int("documents", len(env.Documents)).
            Str("confidence", env.Summary.Confidence).
            Msg("deep search finished")
    }
    return env, err
}

func (p *Pipeline) run(ctx context.Context, st *runState, opts Options) (synth.Envelope, error) {
    // EXPAND (first attempt only; later attempts arrive via refinement)
    if cancelled(ctx) {
        return synth.CancelledEnvelope(st.query, p.telemetry(st)), nil
    }
    q, warns, err := p.phaseExpand(ctx, st)
    if err != nil {
        if cancelled(ctx) {
            return synth.CancelledEnvelope(st.query, p.telemetry(st)), nil
        }
        if !errors.Is(err, expand.ErrExpansionFailed) {
            err = fmt.Errorf("%w: %v", expand.ErrExpansionFailed, err)
        }
        return p.abort(st, "expand", err), err
    }
    st.q = q
    for _, w := range warns {
        st.failures = append(st.failures, dart.PartialFailure{Phase: "expand", Kind: "Warning", Message: w})
    }

    for {
        st.attempts++

        // SEARCH
        if cancelled(ctx) {
            return synth.CancelledEnvelope(st.query, p.telemetry(st)), nil
        }
        refs, searchFailures, err := p.phaseSearch(ctx, st)
        st.failures = append(st.failures, searchFailures...)
        searchDegraded := len(searchFailures) > 0
        if err != nil {
            if cancelled(ctx) {
                return synth.CancelledEnvelope(st.query, p.telemetry(st)), nil
            }
            if st.attempts == 1 {
                return p.abort(st, "search", err), err
            }
            // Later attempts synthesize from whatever earlier rounds found.
            log.Warn().Err(err).Int("attempt", st.attempts).Msg("search failed on retry attempt, synthesizing partial data")
            st.failures = append(st.failures, dart.PartialFailure{Phase: "search", Kind: "SearchUnavailable", Message: err.Error()})
            break
        }

        // FILTER
        if cancelled(ctx) {
            return synth.CancelledEnvelope(st.query, p.telemetry(st)), nil
        }
        kept, err := p.phaseFilter(ctx, st, refs)
        if err != nil {
            if cancelled(ctx) {
                return synth.CancelledEnvelope(st.query, p.telemetry(st)), nil
            }
            st.failures = append(st.failures, dart.PartialFailure{Phase: "filter", Kind: "FilterFailed", Message: err.Error()})
            kept = refs
            if len(kept) > filter.MaxDocsToReturn {
                kept = kept[:filter.MaxDocsToReturn]
            }
        }

        // FETCH
        if cancelled(ctx) {
            return synth.CancelledEnvelope(st.query, p.telemetry(st)), nil
        }
        st.filings = p.phaseFetch(ctx, st, kept)
        if cancelled(ctx) {
            return synth.CancelledEnvelope(st.query, p.telemetry(st)), nil
        }
        for _, f := range st.filings {
            if f.FetchError != nil {
                st.failures = append(st.failures, dart.PartialFailure{Phase: "fetch", Kind: f.FetchError.Kind, Message: f.RceptNo + ": " + f.FetchError.Message})
            }
        }

        // SUFFICIENCY
        decision := p.phaseSufficiency(ctx, st, searchDegraded, opts)
        if cancelled(ctx) {
            return synth.CancelledEnvelope(st.query, p.telemetry(st)), nil
        }
        if decision.Sufficient || st.attempts >= opts.maxAttempts() {
            break
        }
        if decision.Refinement == nil {
            break
        }
        refined := decision.Refinement.Apply(st.q, p.now())
        if refined.Equal(st.q) {
            // A refinement that changes nothing would loop forever.
            break
        }
        if err := expand.Validate(refined, p.now()); err != nil {
            st.failures = append(st.failures, dart.PartialFailure{Phase: "sufficiency", Kind: "InvalidRefinement", Message: err.Error()})
            break
        }
        log.Info().
            Int("attempt", st.attempts).
            Str("begin", refined.DateRange.Begin).
            Str("end", refined.DateRange.End).
            Msg("insufficient evidence, retrying with refined query")
        st.q = refined
    }

    // SYNTHESIZE
    env := p.phaseSynthesize(ctx, st)
    return env, nil
}

func (p *Pipeline) phaseExpand(ctx context.Context, st *runState) (dart.ExpandedQuery, []string, error) {
    defer p.timed(st, "expand")()
    return p.Expander.Expand(ctx, st.query)
}

func (p *Pipeline) phaseSearch(ctx context.Context, st *runState) ([]dart.FilingRef, []dart.PartialFailure, error) {
    defer p.timed(st, "search")()
    return p.Searcher.Search(ctx, st.q)
}

func (p *Pipeline) phaseFilter(ctx context.Context, st *runState, refs []dart.FilingRef) ([]dart.FilingRef, error) {
    defer p.timed(st, "filter")()
    return p.Filter.Filter(ctx, st.query, st.q, refs)
}

func (p *Pipeline) phaseFetch(ctx context.Context, st *runState, refs []dart.FilingRef) []dart.Filing {
    defer p.timed(st, "fetch")()
    return p.Fetcher.Fetch(ctx, refs)
}

func (p *Pipeline) phaseSufficiency(ctx context.Context, st *runState, searchDegraded bool, opts Options) sufficiency.Decision {
    defer p.timed(st, "sufficiency")()
    return p.Checker.Check(ctx, st.query, st.q, st.filings, st.attempts, searchDegraded)
}

func (p *Pipeline) phaseSynthesize(ctx context.Context, st *runState) synth.Envelope {
    defer p.timed(st, "synthesize")()
    return p.Synth.Synthesize(ctx, st.query, st.q, st.filings, p.telemetry(st))
}

// abort maps a hard first-attempt failure to a degraded envelope; internal
// detail stays in the log, the caller sees confidence low.
func (p *Pipeline) abort(st *runState, phase string, err error) synth.Envelope {
    log.Error().Err(err).Str("phase", phase).Msg("pipeline aborted")
    kind := kindOf(err)
    st.failures = append(st.failures, dart.PartialFailure{Phase: phase, Kind: kind, Message: err.Error()})
    return synth.Envelope{
        Query:     st.query,
        Answer:    "",
        Kind:      kind,
        Summary:   synth.Summary{Confidence: "low"},
        Documents: []dart.Filing{},
        Telemetry: p.telemetry(st),
    }
}

func (p *Pipeline) telemetry(st *runState) synth.Telemetry {
    tel := synth.Telemetry{
        Attempts:        st.attempts,
        PartialFailures: st.failures,
        DurationMs:      p.now().Sub(st.started).Milliseconds(),
        PhaseMs:         st.phaseMs,
    }
    if tel.PartialFailures == nil {
        tel.PartialFailures = []dart.PartialFailure{}
    }
    if p.Cache != nil {
        hits, misses := p.Cache.Counters()
        dh, dm := hits-st.startHits, misses-st.startMisses
        if dh+dm > 0 {
            tel.CacheHitRate = float64(dh) / float64(dh+dm)
        }
    }
    if p.LLM != nil {
        tel.LLMCalls = int(p.LLM.Calls() - st.startLLM)
    }
    return tel
}

func (p *Pipeline) timed(st *runState, phase string) func() {
    start := p.now()
    return func() {
        st.phaseMs[phase] += p.now().Sub(start).Milliseconds()
    }
}

func kindOf(err error) string {
    switch {
    case errors.Is(err, expand.ErrExpansionFailed):
        return "ExpansionFailed"
    case errors.Is(err, search.ErrSearchUnavailable):
        return "SearchUnavailable"
    case errors.Is(err, httpx.ErrRateLimited):
        return "RateLimited"
    case errors.Is(err, context.Canceled):
        return "Cancelled"
    default:
        return "Internal"
    }
}

func cancelled(ctx context.Context) bool {
    return ctx.Err() != nil
}
