// Package embedder turns text into vectors for the vector store.
package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

var (
	ErrUnknownProvider = errors.New("unknown embedding provider")
	ErrEmptyResponse   = errors.New("embedding provider returned no vectors")
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

type Provider string

const (
	ProviderLocal  Provider = "local"
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
	ProviderONNX   Provider = "onnx"
)

type Config struct {
	Provider       Provider
	Model          string
	Dimension      int
	CacheSize      int
	ModelDir       string
	OrtLibraryPath string
	Logger         *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		Provider:  ProviderLocal,
		Dimension: DefaultDimension,
		CacheSize: 4096,
	}
}

// New builds the embedder for cfg.Provider and wraps it in an LRU cache when
// CacheSize is positive. A failed ONNX load falls back to the local embedder.
func New(ctx context.Context, cfg Config) (Embedder, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}

	var (
		base Embedder
		err  error
	)
	switch cfg.Provider {
	case ProviderLocal, "":
		base = NewLocalEmbedder(cfg.Dimension)
	case ProviderOpenAI:
		base = NewOpenAIEmbedder(cfg.Model, cfg.Dimension)
	case ProviderGemini:
		base, err = NewGeminiEmbedder(ctx, cfg.Model, cfg.Dimension)
	case ProviderONNX:
		onnx := NewONNXEmbedder(ONNXConfig{
			Model:          cfg.Model,
			Dimension:      cfg.Dimension,
			CacheDir:       cfg.ModelDir,
			OrtLibraryPath: cfg.OrtLibraryPath,
		})
		if loadErr := onnx.EnsureModel(ctx); loadErr != nil {
			logger.Warn("onnx model unavailable, using local embedder", "model", cfg.Model, "error", loadErr)
		}
		base = onnx
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("%s embedder: %w", cfg.Provider, err)
	}

	if cfg.CacheSize > 0 {
		return NewCached(base, cfg.CacheSize)
	}
	return base, nil
}
