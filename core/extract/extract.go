// Package extract pulls entities and name-keyed relationship intents out of
// record text.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/adalundhe/recall/core/memory"
)

var (
	ErrUnknownProvider = errors.New("unknown extractor provider")
	ErrNoJSON          = errors.New("no JSON object in model response")
)

// ExtractedEntity is an entity candidate before it is resolved against the
// graph.
type ExtractedEntity struct {
	Name       string            `json:"name"`
	Type       memory.EntityType `json:"type"`
	Confidence float64           `json:"confidence"`
}

// RelationshipIntent refers to its endpoints by name. Names are resolved to
// entity ids at ingestion time; unresolvable intents are dropped.
type RelationshipIntent struct {
	FromName   string              `json:"from"`
	ToName     string              `json:"to"`
	Type       memory.RelationType `json:"type"`
	Strength   float64             `json:"strength"`
	Confidence float64             `json:"confidence"`
}

type Extraction struct {
	Entities      []ExtractedEntity    `json:"entities"`
	Relationships []RelationshipIntent `json:"relationships"`
}

// IsEmpty reports whether nothing was extracted.
func (e Extraction) IsEmpty() bool {
	return len(e.Entities) == 0 && len(e.Relationships) == 0
}

type Extractor interface {
	Extract(ctx context.Context, text string) (Extraction, error)
}

type Provider string

const (
	ProviderPattern   Provider = "pattern"
	ProviderAnthropic Provider = "anthropic"
)

type Config struct {
	Provider       Provider
	Model          string
	MaxTokens      int64
	VocabularyFile string
	Logger         *slog.Logger
}

// New builds the configured extractor. The anthropic extractor falls back to
// the pattern extractor when a call fails.
func New(cfg Config) (Extractor, error) {
	vocab := DefaultVocabulary()
	if cfg.VocabularyFile != "" {
		extra, err := LoadVocabulary(cfg.VocabularyFile)
		if err != nil {
			return nil, err
		}
		vocab = vocab.Merge(extra)
	}
	pattern, err := NewPatternExtractor(vocab)
	if err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case ProviderPattern, "":
		return pattern, nil
	case ProviderAnthropic:
		return NewLLMExtractor(LLMConfig{
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Fallback:  pattern,
			Logger:    cfg.Logger,
		}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}
