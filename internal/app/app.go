package app

import (
    "context"
    "net/http"
    "net/url"
    "time"

    "github.com/rs/zerolog/log"
    openai "github.com/sashabaranov/go-openai"

    "github.com/hyperifyio/dartsearch/internal/cache"
    "github.com/hyperifyio/dartsearch/internal/corp"
    "github.com/hyperifyio/dartsearch/internal/dart"
    "github.com/hyperifyio/dartsearch/internal/expand"
    "github.com/hyperifyio/dartsearch/internal/fetchdoc"
    "github.com/hyperifyio/dartsearch/internal/filter"
    "github.com/hyperifyio/dartsearch/internal/httpx"
    "github.com/hyperifyio/dartsearch/internal/llm"
    "github.com/hyperifyio/dartsearch/internal/pipeline"
    "github.com/hyperifyio/dartsearch/internal/search"
    "github.com/hyperifyio/dartsearch/internal/sufficiency"
    "github.com/hyperifyio/dartsearch/internal/synth"
)

// App owns the process-wide components: the rate-limited HTTP client, the
// content cache, the company directory, and the LLM call counter. Pipelines
// are assembled per run on top of this shared state.
type App struct {
    cfg      Config
    store    *cache.Cache
    ai       *llm.Counting
    client   *dart.Client
    resolver *corp.Resolver
}

func New(cfg Config) *App {
    cfg = cfg.withDefaults()

    ai := &llm.Counting{}
    if cfg.LLMModel != "" {
        transportCfg := openai.DefaultConfig(cfg.LLMAPIKey)
        if cfg.LLMBaseURL != "" {
            transportCfg.BaseURL = cfg.LLMBaseURL
        }
        transportCfg.HTTPClient = newHighThroughputHTTPClient()
        ai.Inner = &llm.OpenAIProvider{Inner: openai.NewClientWithConfig(transportCfg)}
    }

    hc := &httpx.Client{
        HTTPClient: newHighThroughputHTTPClient(),
        UserAgent:  "dartsearch/1.0 (+https://github.com/hyperifyio/dartsearch)",
    }
    base := cfg.DARTBaseURL
    if base == "" {
        base = dart.DefaultBaseURL
    }
    if u, err := url.Parse(base); err == nil && u.Hostname() != "" {
        hc.SetHostLimit(u.Hostname(), cfg.APIRateLimit, cfg.APIBurst)
    }

    store := cache.New(cfg.CacheMaxBytes)
    client := &dart.Client{
        HTTP:      hc,
        BaseURL:   cfg.DARTBaseURL,
        ViewerURL: cfg.DARTViewerURL,
        APIKey:    cfg.DARTAPIKey,
    }
    resolver := &corp.Resolver{Load: directoryLoader(client, store)}

    return &App{cfg: cfg, store: store, ai: ai, client: client, resolver: resolver}
}

// DeepSearch runs the full pipeline for one question.
func (a *App) DeepSearch(ctx context.Context, query string, opts pipeline.Options) (synth.Envelope, error) {
    if opts.MaxAttempts == 0 {
        opts.MaxAttempts = a.cfg.MaxAttempts
    }
    if opts.Language == "" {
        opts.Language = a.cfg.LanguageHint
    }
    return a.buildPipeline(opts).Run(ctx, query, opts)
}

// buildPipeline assembles the per-run stage instances over the shared
// process-wide state, picking LLM-backed strategies when a model is
// configured and rule-backed strategies otherwise.
func (a *App) buildPipeline(opts pipeline.Options) *pipeline.Pipeline {
    var stageLLM llm.Client
    if a.ai.Inner != nil {
        stageLLM = a.ai
    }

    expander := &expand.Facade{
        Rule: &expand.RuleExpander{Resolver: a.resolver},
    }
    if stageLLM != nil {
        expander.LLM = &expand.LLMExpander{Client: stageLLM, Model: a.cfg.LLMModel, Resolver: a.resolver}
    }

    maxPerSearch := opts.MaxResultsPerSearch
    if maxPerSearch <= 0 {
        maxPerSearch = a.cfg.MaxSearchResults
    }
    searcher := &search.Executor{
        Catalogue:           a.client,
        Cache:               a.store,
        MaxResultsPerSearch: maxPerSearch,
        Parallel:            a.cfg.ParallelSearches,
    }

    docFilter := filter.Filter(&filter.RuleFilter{})
    if stageLLM != nil {
        docFilter = &filter.LLMFilter{Client: stageLLM, Model: a.cfg.LLMModel, Fallback: &filter.RuleFilter{}}
    }

    parallel := opts.Concurrency
    if parallel <= 0 {
        parallel = a.cfg.ParallelDownloads
    }
    fetcher := &fetchdoc.Fetcher{
        Source:      a.client,
        Cache:       a.store,
        Parallel:    parallel,
        Timeout:     a.cfg.ParseTimeout,
        DownloadDir: a.cfg.DownloadPath,
    }

    checker := &sufficiency.Checker{Client: stageLLM, Model: a.cfg.LLMModel, MaxAttempts: opts.MaxAttempts}

    synthesizer := &synth.Synthesizer{
        Client:   stageLLM,
        Model:    a.cfg.LLMModel,
        Language: opts.Language,
        Link:     a.client.ViewerLink,
    }

    return &pipeline.Pipeline{
        Expander: expander,
        Searcher: searcher,
        Filter:   docFilter,
        Fetcher:  fetcher,
        Checker:  checker,
        Synth:    synthesizer,
        Cache:    a.store,
        LLM:      a.ai,
    }
}

// directoryLoader downloads the corpCode catalogue through the content
// cache, so repeated resolver loads inside the TTL window skip the
// multi-megabyte download.
func directoryLoader(client *dart.Client, store *cache.Cache) func(ctx context.Context) ([]dart.CorpRecord, error) {
    return func(ctx context.Context) ([]dart.CorpRecord, error) {
        key := cache.Fingerprint(cache.NSDirectory, "corpCode")
        data, hit, err := store.GetOrFill(ctx, key, cache.TTLDirectory, func(ctx context.Context) ([]byte, error) {
            params := url.Values{}
            params.Set("crtfc_key", client.APIKey)
            body, _, err := client.HTTP.Get(ctx, client.DirectoryURL(), params)
            return body, err
        })
        if err != nil {
            return nil, err
        }
        if !hit {
            log.Info().Int("bytes", len(data)).Msg("company directory downloaded")
        }
        return dart.ParseCompanyDirectory(data)
    }
}

func newHighThroughputHTTPClient() *http.Client {
    transport := http.DefaultTransport.(*http.Transport).Clone()
    transport.MaxIdleConns = 100
    transport.MaxIdleConnsPerHost = 100
    transport.IdleConnTimeout = 90 * time.Second
    return &http.Client{Transport: transport}
}
