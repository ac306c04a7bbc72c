package app

import (
    "os"
    "strconv"
    "strings"
    "time"
)

// ApplyEnvToConfig populates unset fields of cfg from environment variables.
// Explicit cfg values take precedence over env.
func ApplyEnvToConfig(cfg *Config) {
    if cfg == nil {
        return
    }

    setString(&cfg.DARTAPIKey, "DART_API_KEY")
    setString(&cfg.DARTBaseURL, "DART_BASE_URL")
    setString(&cfg.DARTViewerURL, "DART_VIEWER_URL")
    setString(&cfg.CachePath, "DART_CACHE_PATH")
    setString(&cfg.DownloadPath, "DART_DOWNLOAD_PATH")

    setString(&cfg.LLMBaseURL, "LLM_BASE_URL")
    setString(&cfg.LLMModel, "LLM_MODEL")
    setString(&cfg.LLMAPIKey, "LLM_API_KEY")
    setString(&cfg.LanguageHint, "LANGUAGE")

    setInt(&cfg.APIRateLimit, "DART_API_RATE_LIMIT")
    setInt(&cfg.MaxSearchResults, "DART_MAX_SEARCH_RESULTS")
    setInt(&cfg.ParallelDownloads, "DART_PARALLEL_DOWNLOADS")
    setInt(&cfg.MaxAttempts, "DART_MAX_ATTEMPTS")

    if cfg.ParseTimeout == 0 {
        if ms, ok := envInt("DART_PARSE_TIMEOUT_MS"); ok && ms > 0 {
            cfg.ParseTimeout = time.Duration(ms) * time.Millisecond
        }
    }
    if cfg.CacheMaxBytes == 0 {
        if n, ok := envInt("DART_CACHE_MAX_MB"); ok && n > 0 {
            cfg.CacheMaxBytes = int64(n) << 20
        }
    }
    if !cfg.Verbose {
        if s := strings.ToLower(strings.TrimSpace(os.Getenv("VERBOSE"))); s == "1" || s == "true" || s == "yes" || s == "on" {
            cfg.Verbose = true
        }
    }
}

func setString(dst *string, key string) {
    if *dst == "" {
        *dst = os.Getenv(key)
    }
}

func setInt(dst *int, key string) {
    if *dst != 0 {
        return
    }
    if n, ok := envInt(key); ok {
        *dst = n
    }
}

func envInt(key string) (int, bool) {
    s := strings.TrimSpace(os.Getenv(key))
    if s == "" {
        return 0, false
    }
    n, err := strconv.Atoi(s)
    if err != nil {
        return 0, false
    }
    return n, true
}
