// Package provider builds the language-model backends the cog calls.
package provider

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	APIGoogleAI = "googleai"
	APIOpenAI   = "openai"
)

// Config selects and configures a backend. APIKey is supplied per call by
// the host, the other fields come from the cog's config file.
type Config struct {
	API          string
	BaseURL      string
	APIKey       string
	DefaultModel string
}

// New creates a model for cfg. The api field determines the wire format:
//   - "googleai" -> Google Gemini (default)
//   - "openai"   -> OpenAI-compatible endpoints
//
// Construction performs no network I/O; the first request does.
func New(ctx context.Context, cfg Config) (llms.Model, error) {
	switch cfg.API {
	case APIGoogleAI, "":
		opts := []googleai.Option{googleai.WithAPIKey(cfg.APIKey)}
		if cfg.DefaultModel != "" {
			opts = append(opts, googleai.WithDefaultModel(cfg.DefaultModel))
		}
		m, err := googleai.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("googleai: %w", err)
		}
		return m, nil
	case APIOpenAI:
		opts := []openai.Option{openai.WithToken(cfg.APIKey)}
		if cfg.DefaultModel != "" {
			opts = append(opts, openai.WithModel(cfg.DefaultModel))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		m, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("openai: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown api type %q (supported: %s, %s)", cfg.API, APIGoogleAI, APIOpenAI)
	}
}

// Usage is the token accounting reported for one completion.
type Usage struct {
	InputTokens  int `json:"input"`
	OutputTokens int `json:"output"`
	TotalTokens  int `json:"total"`
}

// usage keys as reported in ContentChoice.GenerationInfo by each backend.
var (
	inputKeys  = []string{"input_tokens", "PromptTokens"}
	outputKeys = []string{"output_tokens", "CompletionTokens"}
	totalKeys  = []string{"total_tokens", "TotalTokens"}
)

// UsageFromGenerationInfo extracts token usage from a choice's generation
// info. Missing counters are left at zero; the total is derived when the
// backend does not report one.
func UsageFromGenerationInfo(info map[string]any) Usage {
	u := Usage{
		InputTokens:  firstInt(info, inputKeys),
		OutputTokens: firstInt(info, outputKeys),
		TotalTokens:  firstInt(info, totalKeys),
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
	return u
}

func firstInt(info map[string]any, keys []string) int {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}
