package app

import (
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "time"

    yaml "gopkg.in/yaml.v3"
)

// FileConfig represents the single-file configuration schema. Nested
// sections map naturally to flags and env.
type FileConfig struct {
    DART struct {
        APIKey    string `yaml:"key" json:"key"`
        BaseURL   string `yaml:"base" json:"base"`
        ViewerURL string `yaml:"viewer" json:"viewer"`
        RateLimit int    `yaml:"rateLimit" json:"rateLimit"`
        Burst     int    `yaml:"burst" json:"burst"`
    } `yaml:"dart" json:"dart"`

    LLM struct {
        BaseURL string `yaml:"base" json:"base"`
        Model   string `yaml:"model" json:"model"`
        APIKey  string `yaml:"key" json:"key"`
    } `yaml:"llm" json:"llm"`

    Search struct {
        MaxResults int `yaml:"maxResults" json:"maxResults"`
        Parallel   int `yaml:"parallel" json:"parallel"`
    } `yaml:"search" json:"search"`

    Fetch struct {
        Parallel  int           `yaml:"parallel" json:"parallel"`
        Timeout   time.Duration `yaml:"timeout" json:"timeout"`
        Downloads string        `yaml:"downloads" json:"downloads"`
    } `yaml:"fetch" json:"fetch"`

    MaxAttempts int    `yaml:"maxAttempts" json:"maxAttempts"`
    Language    string `yaml:"language" json:"language"`
    Verbose     bool   `yaml:"verbose" json:"verbose"`

    Cache struct {
        Path  string `yaml:"path" json:"path"`
        MaxMB int    `yaml:"maxMB" json:"maxMB"`
    } `yaml:"cache" json:"cache"`
}

// LoadConfigFile reads YAML or JSON into FileConfig.
func LoadConfigFile(path string) (FileConfig, error) {
    var fc FileConfig
    b, err := os.ReadFile(path)
    if err != nil {
        return fc, err
    }
    switch ext := filepath.Ext(path); ext {
    case ".yaml", ".yml":
        if err := yaml.Unmarshal(b, &fc); err != nil {
            return fc, fmt.Errorf("parse yaml: %w", err)
        }
    case ".json":
        if err := json.Unmarshal(b, &fc); err != nil {
            return fc, fmt.Errorf("parse json: %w", err)
        }
    default:
        if err := yaml.Unmarshal(b, &fc); err != nil {
            if jerr := json.Unmarshal(b, &fc); jerr != nil {
                return fc, fmt.Errorf("parse config: %v (yaml) / %v (json)", err, jerr)
            }
        }
    }
    return fc, nil
}

// ApplyFileConfig overlays values from FileConfig into cfg for any fields
// that are currently unset. Flags and env should already have been applied;
// the file supplies defaults only.
func ApplyFileConfig(cfg *Config, fc FileConfig) {
    if cfg == nil {
        return
    }
    if cfg.DARTAPIKey == "" {
        cfg.DARTAPIKey = fc.DART.APIKey
    }
    if cfg.DARTBaseURL == "" {
        cfg.DARTBaseURL = fc.DART.BaseURL
    }
    if cfg.DARTViewerURL == "" {
        cfg.DARTViewerURL = fc.DART.ViewerURL
    }
    if cfg.APIRateLimit == 0 && fc.DART.RateLimit > 0 {
        cfg.APIRateLimit = fc.DART.RateLimit
    }
    if cfg.APIBurst == 0 && fc.DART.Burst > 0 {
        cfg.APIBurst = fc.DART.Burst
    }
    if cfg.LLMBaseURL == "" {
        cfg.LLMBaseURL = fc.LLM.BaseURL
    }
    if cfg.LLMModel == "" {
        cfg.LLMModel = fc.LLM.Model
    }
    if cfg.LLMAPIKey == "" {
        cfg.LLMAPIKey = fc.LLM.APIKey
    }
    if cfg.MaxSearchResults == 0 && fc.Search.MaxResults > 0 {
        cfg.MaxSearchResults = fc.Search.MaxResults
    }
    if cfg.ParallelSearches == 0 && fc.Search.Parallel > 0 {
        cfg.ParallelSearches = fc.Search.Parallel
    }
    if cfg.ParallelDownloads == 0 && fc.Fetch.Parallel > 0 {
        cfg.ParallelDownloads = fc.Fetch.Parallel
    }
    if cfg.ParseTimeout == 0 && fc.Fetch.Timeout > 0 {
        cfg.ParseTimeout = fc.Fetch.Timeout
    }
    if cfg.DownloadPath == "" {
        cfg.DownloadPath = fc.Fetch.Downloads
    }
    if cfg.MaxAttempts == 0 && fc.MaxAttempts > 0 {
        cfg.MaxAttempts = fc.MaxAttempts
    }
    if cfg.LanguageHint == "" {
        cfg.LanguageHint = fc.Language
    }
    if cfg.CachePath == "" {
        cfg.CachePath = fc.Cache.Path
    }
    if cfg.CacheMaxBytes == 0 && fc.Cache.MaxMB > 0 {
        cfg.CacheMaxBytes = int64(fc.Cache.MaxMB) << 20
    }
    if !cfg.Verbose && fc.Verbose {
        cfg.Verbose = true
    }
}

// ValidateConfig performs minimal schema validation for required settings.
func ValidateConfig(cfg Config) error {
    if cfg.DARTAPIKey == "" {
        return errors.New("config: DART API key is required (set DART_API_KEY)")
    }
    if cfg.MaxSearchResults < 0 || cfg.ParallelDownloads < 0 || cfg.MaxAttempts < 0 {
        return errors.New("config: negative limits are not allowed")
    }
    return nil
}
