package llm

import (
    "context"
    "strings"
    "sync/atomic"

    openai "github.com/sashabaranov/go-openai"
)

// Client is the minimal interface needed by pipeline stages to call a chat
// model. It intentionally mirrors the CreateChatCompletion method used
// throughout the codebase so that any OpenAI-compatible or local backend can
// be adapted.
type Client interface {
    CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIProvider adapts *openai.Client to the Client interface.
type OpenAIProvider struct {
    Inner *openai.Client
}

func (p *OpenAIProvider) CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
    return p.Inner.CreateChatCompletion(ctx, request)
}

// Counting wraps a Client and counts issued calls, failed ones included. The orchestrator reads
// the counter into run telemetry; stages stay unaware of it.
type Counting struct {
    Inner Client
    n     atomic.Int64
}

func (c *Counting) CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
    c.n.Add(1)
    return c.Inner.CreateChatCompletion(ctx, request)
}

// Calls returns the number of chat completion calls issued so far.
func (c *Counting) Calls() int64 { return c.n.Load() }

// FirstJSONObject extracts the first balanced top-level JSON object from a
// model response. Models occasionally wrap JSON in code fences or narration;
// callers validate the extracted payload against their schema and fall back
// to their rule strategy on mismatch.
func FirstJSONObject(s string) (string, bool) {
    start := strings.IndexByte(s, '{')
    if start < 0 {
        return "", false
    }
    depth := 0
    inString := false
    escaped := false
    for i := start; i < len(s); i++ {
        ch := s[i]
        if inString {
            switch {
            case escaped:
                escaped = false
            case ch == '\\':
                escaped = true
            case ch == '"':
                inString = false
            }
            continue
        }
        switch ch {
        case '"':
            inString = true
        case '{':
            depth++
        case '}':
            depth--
            if depth == 0 {
                return s[start : i+1], true
            }
        }
    }
    return "", false
}
