package app

import "time"

// Config holds runtime configuration for the application.
type Config struct {
    // DART API
    DARTAPIKey    string
    DARTBaseURL   string
    DARTViewerURL string
    // APIRateLimit is the daily request quota for the DART host.
    APIRateLimit int
    // APIBurst is the short-term burst allowance on top of the daily rate.
    APIBurst int

    // LLM
    LLMBaseURL string
    LLMModel   string
    LLMAPIKey  string

    // Search / fetch limits
    MaxSearchResults  int
    ParallelSearches  int
    ParallelDownloads int
    ParseTimeout      time.Duration
    MaxAttempts       int

    // Answer
    LanguageHint string

    // Cache / artifacts
    CacheMaxBytes int64
    CachePath     string
    DownloadPath  string

    Verbose bool
}

// Defaults mirror the documented environment defaults.
const (
    DefaultAPIRateLimit      = 1000
    DefaultAPIBurst          = 5
    DefaultMaxSearchResults  = 100
    DefaultParallelSearches  = 5
    DefaultParallelDownloads = 3
    DefaultParseTimeout      = 30 * time.Second
    DefaultMaxAttempts       = 3
)

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
    if c.APIRateLimit <= 0 {
        c.APIRateLimit = DefaultAPIRateLimit
    }
    if c.APIBurst <= 0 {
        c.APIBurst = DefaultAPIBurst
    }
    if c.MaxSearchResults <= 0 {
        c.MaxSearchResults = DefaultMaxSearchResults
    }
    if c.ParallelSearches <= 0 {
        c.ParallelSearches = DefaultParallelSearches
    }
    if c.ParallelDownloads <= 0 {
        c.ParallelDownloads = DefaultParallelDownloads
    }
    if c.ParseTimeout <= 0 {
        c.ParseTimeout = DefaultParseTimeout
    }
    if c.MaxAttempts <= 0 {
        c.MaxAttempts = DefaultMaxAttempts
    }
    return c
}
