package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/adalundhe/recall/core/memory"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	DefaultModel     = "claude-haiku-4-5"
	DefaultMaxTokens = 1024

	// maxInputRunes bounds the record text sent to the model.
	maxInputRunes = 12000
)

const extractionPrompt = `You extract a knowledge graph from a personal note.
Respond with a single JSON object and nothing else:
{"entities":[{"name":string,"type":string,"confidence":number}],
 "relationships":[{"from":string,"to":string,"type":string,"strength":number,"confidence":number}]}
Entity types: person, project, technology, concept, organization, tool, other.
Relationship types: uses, works_on, depends_on, related_to, part_of, mentions.
Relationship endpoints must be names from the entities list.
Numbers are between 0 and 1. Return empty lists when nothing applies.`

// MessagesClient is the subset of the Anthropic client the extractor calls.
type MessagesClient interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type LLMConfig struct {
	Model     string
	MaxTokens int64
	APIKey    string
	// Fallback runs when the model call or response parsing fails.
	Fallback Extractor
	Logger   *slog.Logger
}

// LLMExtractor asks a Claude model for a JSON extraction.
type LLMExtractor struct {
	client    MessagesClient
	model     string
	maxTokens int64
	fallback  Extractor
	logger    *slog.Logger
}

func NewLLMExtractor(cfg LLMConfig) *LLMExtractor {
	opts := []option.RequestOption{}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	client := anthropic.NewClient(opts...)
	return NewLLMExtractorWithClient(&client.Messages, cfg)
}

// NewLLMExtractorWithClient is used by tests to inject a fake client.
func NewLLMExtractorWithClient(client MessagesClient, cfg LLMConfig) *LLMExtractor {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &LLMExtractor{
		client:    client,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		fallback:  cfg.Fallback,
		logger:    cfg.Logger,
	}
}

func (e *LLMExtractor) Extract(ctx context.Context, text string) (Extraction, error) {
	if strings.TrimSpace(text) == "" {
		return Extraction{}, nil
	}

	out, err := e.extract(ctx, text)
	if err == nil {
		return out, nil
	}
	if e.fallback == nil || ctx.Err() != nil {
		return Extraction{}, err
	}
	e.logger.Warn("llm extraction failed, using pattern extractor", "model", e.model, "error", err)
	return e.fallback.Extract(ctx, text)
}

func (e *LLMExtractor) extract(ctx context.Context, text string) (Extraction, error) {
	if runes := []rune(text); len(runes) > maxInputRunes {
		text = string(runes[:maxInputRunes])
	}

	resp, err := e.client.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		MaxTokens: e.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: extractionPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	})
	if err != nil {
		return Extraction{}, fmt.Errorf("extraction request failed: %w", err)
	}
	return parseResponse(responseText(resp))
}

func responseText(resp *anthropic.Message) string {
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// parseResponse decodes the first JSON object in text and normalizes enum
// values and scores.
func parseResponse(text string) (Extraction, error) {
	start, end := jsonBounds(text)
	if start < 0 {
		return Extraction{}, ErrNoJSON
	}

	var raw Extraction
	if err := json.Unmarshal([]byte(text[start:end]), &raw); err != nil {
		return Extraction{}, fmt.Errorf("decode extraction: %w", err)
	}

	out := Extraction{}
	names := make(map[string]string, len(raw.Entities))
	for _, ent := range raw.Entities {
		name := strings.TrimSpace(ent.Name)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, dup := names[key]; dup {
			continue
		}
		names[key] = name
		out.Entities = append(out.Entities, ExtractedEntity{
			Name:       name,
			Type:       memory.ParseEntityType(string(ent.Type)),
			Confidence: memory.Clamp01(ent.Confidence),
		})
	}
	for _, rel := range raw.Relationships {
		from, okFrom := names[strings.ToLower(strings.TrimSpace(rel.FromName))]
		to, okTo := names[strings.ToLower(strings.TrimSpace(rel.ToName))]
		if !okFrom || !okTo {
			continue
		}
		out.Relationships = append(out.Relationships, RelationshipIntent{
			FromName:   from,
			ToName:     to,
			Type:       memory.ParseRelationType(string(rel.Type)),
			Strength:   memory.Clamp01(rel.Strength),
			Confidence: memory.Clamp01(rel.Confidence),
		})
	}
	return out, nil
}

// jsonBounds locates the first balanced {...} span, ignoring braces inside
// strings.
func jsonBounds(text string) (int, int) {
	start, depth := -1, 0
	inString, escaped := false, false
	for i, r := range text {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			if start >= 0 {
				inString = true
			}
		case '{':
			if start < 0 {
				start = i
			}
			depth++
		case '}':
			if start < 0 {
				continue
			}
			depth--
			if depth == 0 {
				return start, i + 1
			}
		}
	}
	return -1, -1
}
