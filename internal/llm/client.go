// Package llm wraps the generative oracle behind a small client interface.
// The oracle is untrusted by contract: it may return malformed JSON, leaked
// reasoning or hallucinated identifiers. Callers own all output parsing.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Client is the generative oracle: prompt in, text out.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
	Name() string
}

// Embedder turns text into a vector for semantic retrieval.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Request carries one completion call. Schema, when set, is a JSON schema the
// backend should constrain its output to; backends without structured output
// fold it into the instructions instead.
type Request struct {
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	Schema      map[string]any
}

// Message is one chat turn. Images are base64 JPEG payloads without the
// data-URL header; backends that cannot see drop them.
type Message struct {
	Role    string
	Content string
	Images  []string
}

type Response struct {
	Text string
}

// Options selects and configures a backend.
type Options struct {
	Provider   string // "openai" (any OpenAI-compatible endpoint) or "anthropic"
	BaseURL    string
	APIKey     string
	Model      string
	EmbedModel string
	Timeout    time.Duration
}

// NewClient builds the oracle client for the configured provider.
func NewClient(opts Options, logger zerolog.Logger) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case "", "openai":
		return newOpenAI(opts, logger)
	case "anthropic":
		return newAnthropic(opts, logger)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (use 'openai' or 'anthropic')", opts.Provider)
	}
}

// NewEmbedder builds the embedding client. Only OpenAI-compatible endpoints
// expose embeddings; memory retrieval degrades to empty results without one.
func NewEmbedder(opts Options, logger zerolog.Logger) (Embedder, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case "", "openai":
		return newOpenAI(opts, logger)
	default:
		return nil, fmt.Errorf("provider %s has no embeddings endpoint", opts.Provider)
	}
}
