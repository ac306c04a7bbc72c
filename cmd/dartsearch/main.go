package main

import (
    "context"
    "encoding/json"
    "flag"
    "fmt"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/rs/zerolog"
    "github.com/rs/zerolog/log"

    "github.com/hyperifyio/dartsearch/internal/app"
    "github.com/hyperifyio/dartsearch/internal/pipeline"
    "github.com/hyperifyio/dartsearch/internal/report"
)

func main() {
    zerolog.TimeFieldFormat = time.RFC3339
    log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

    var (
        query        string
        configPath   string
        dartKey      string
        dartBase     string
        llmBaseURL   string
        llmModel     string
        llmKey       string
        maxAttempts  int
        maxResults   int
        parallelDL   int
        language     string
        downloadPath string
        reportMD     string
        reportPDF    string
        reportFont   string
        verbose      bool
    )

    flag.StringVar(&query, "q", "", "Natural-language question about Korean corporate disclosures")
    flag.StringVar(&configPath, "config", "", "Optional YAML/JSON config file")
    flag.StringVar(&dartKey, "dart.key", "", "DART OpenAPI key")
    flag.StringVar(&dartBase, "dart.base", "", "DART API base URL override")
    flag.StringVar(&llmBaseURL, "llm.base", "", "OpenAI-compatible base URL")
    flag.StringVar(&llmModel, "llm.model", "", "Model name")
    flag.StringVar(&llmKey, "llm.key", "", "API key for OpenAI-compatible server")
    flag.IntVar(&maxAttempts, "max.attempts", 0, "Maximum search attempts (sufficiency loop bound)")
    flag.IntVar(&maxResults, "max.results", 0, "Maximum results per catalogue sub-query (up to 100)")
    flag.IntVar(&parallelDL, "max.downloads", 0, "Maximum parallel document downloads")
    flag.StringVar(&language, "lang", "", "Answer language hint, e.g. 'ko' or 'en'")
    flag.StringVar(&downloadPath, "downloads", "", "Directory for fetched document copies")
    flag.StringVar(&reportMD, "report.md", "", "Write a Markdown report to this path")
    flag.StringVar(&reportPDF, "report.pdf", "", "Write a PDF report to this path")
    flag.StringVar(&reportFont, "report.font", "", "TTF with Hangul coverage for the PDF report (e.g. NotoSansKR)")
    flag.BoolVar(&verbose, "v", false, "Verbose logging")
    flag.Parse()

    if verbose {
        zerolog.SetGlobalLevel(zerolog.DebugLevel)
    } else {
        zerolog.SetGlobalLevel(zerolog.InfoLevel)
    }

    if query == "" && flag.NArg() > 0 {
        query = flag.Arg(0)
    }
    if query == "" {
        fmt.Fprintln(os.Stderr, "usage: dartsearch -q \"질문\" [flags]")
        os.Exit(2)
    }

    cfg := app.Config{
        DARTAPIKey:        dartKey,
        DARTBaseURL:       dartBase,
        LLMBaseURL:        llmBaseURL,
        LLMModel:          llmModel,
        LLMAPIKey:         llmKey,
        MaxAttempts:       maxAttempts,
        ParallelDownloads: parallelDL,
        LanguageHint:      language,
        DownloadPath:      downloadPath,
        Verbose:           verbose,
    }
    app.ApplyEnvToConfig(&cfg)
    if configPath != "" {
        fc, err := app.LoadConfigFile(configPath)
        if err != nil {
            log.Fatal().Err(err).Str("path", configPath).Msg("load config file")
        }
        app.ApplyFileConfig(&cfg, fc)
    }
    if err := app.ValidateConfig(cfg); err != nil {
        log.Fatal().Err(err).Msg("invalid configuration")
    }

    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()

    a := app.New(cfg)
    env, err := a.DeepSearch(ctx, query, pipeline.Options{
        MaxAttempts:         maxAttempts,
        MaxResultsPerSearch: maxResults,
        Language:            language,
    })
    if err != nil {
        log.Error().Err(err).Msg("deep search failed")
    }

    out, jerr := json.MarshalIndent(env, "", "  ")
    if jerr != nil {
        log.Fatal().Err(jerr).Msg("encode envelope")
    }
    fmt.Println(string(out))

    if reportMD != "" {
        if werr := os.WriteFile(reportMD, []byte(report.Markdown(env)), 0o644); werr != nil {
            log.Error().Err(werr).Str("path", reportMD).Msg("write markdown report")
        }
    }
    if reportPDF != "" {
        if werr := report.WritePDF(env, reportPDF, report.PDFOptions{FontPath: reportFont}); werr != nil {
            log.Error().Err(werr).Str("path", reportPDF).Msg("write pdf report")
        }
    }

    if err != nil {
        os.Exit(1)
    }
}
