// Package embedding turns tab text into dense vectors. Providers are Ollama over HTTP,
// ONNX Runtime (cgo) and a deterministic mock; any of them can be wrapped in an LRU cache.
package embedding

import (
	"context"
	"fmt"
	"time"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// Provider names accepted by New.
const (
	ProviderOllama = "ollama"
	ProviderONNX   = "onnx"
	ProviderMock   = "mock"
)

// Options configures New.
type Options struct {
	Provider    string
	Dimensions  int
	ModelPath   string
	MaxTokens   int
	CacheSize   int
	OllamaHost  string
	OllamaModel string
	Timeout     time.Duration
}

// New builds the embedder named by opts.Provider and wraps it in an LRU cache when
// opts.CacheSize > 0.
func New(opts Options) (Embedder, error) {
	var (
		inner Embedder
		err   error
	)
	switch opts.Provider {
	case ProviderOllama:
		inner = NewOllamaEmbedder(opts.OllamaHost, opts.OllamaModel, opts.Dimensions, opts.Timeout)
	case ProviderONNX:
		inner, err = NewONNXEmbedder(opts.ModelPath, opts.Dimensions, opts.MaxTokens)
	case ProviderMock, "":
		inner = NewMockEmbedder(opts.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: ollama, onnx, mock)", opts.Provider)
	}
	if err != nil {
		return nil, err
	}
	if opts.CacheSize <= 0 {
		return inner, nil
	}
	return NewCachedEmbedder(inner, opts.CacheSize)
}

// embedEach calls embed for each text in order.
func embedEach(ctx context.Context, texts []string, embed func(context.Context, string) ([]float32, error)) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}
