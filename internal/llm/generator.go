// Package llm adapts text-generation backends to the Generator interface used
// by the pipeline.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Generator turns a prompt into raw model output. Output is untrusted: it may
// be fenced, truncated or not JSON at all.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

const (
	DefaultTemperature = 0.1
	DefaultMaxTokens   = 4096
	defaultHTTPTimeout = 5 * time.Minute
)

type Options struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	// Temperature is sent as given, including 0 for greedy decoding.
	// Nil or negative selects DefaultTemperature.
	Temperature *float64
	MaxTokens   int
	// Timeout bounds a single Generate call. Zero means no extra bound.
	Timeout time.Duration
	// Concurrency caps in-flight Generate calls. Values below 1 mean 1.
	Concurrency int
}

func (o Options) temperature() float64 {
	if o.Temperature == nil || *o.Temperature < 0 {
		return DefaultTemperature
	}
	return *o.Temperature
}

func (o Options) maxTokens() int {
	if o.MaxTokens <= 0 {
		return DefaultMaxTokens
	}
	return o.MaxTokens
}

// NewGenerator builds the backend named by opts.Provider (gemini when empty)
// and wraps it with the configured timeout and concurrency limit.
func NewGenerator(ctx context.Context, opts Options) (Generator, error) {
	provider := strings.ToLower(strings.TrimSpace(opts.Provider))
	if provider == "" {
		provider = "gemini"
	}

	var gen Generator
	switch provider {
	case "gemini":
		g, err := NewGeminiGenerator(ctx, opts)
		if err != nil {
			return nil, err
		}
		gen = g
	case "openai":
		gen = NewOpenAIGenerator(opts)
	case "ollama":
		gen = NewOllamaGenerator(opts)
	default:
		return nil, fmt.Errorf("unsupported generator provider: %s", opts.Provider)
	}

	return Limit(WithTimeout(gen, opts.Timeout), opts.Concurrency), nil
}
