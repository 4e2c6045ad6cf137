// Package config loads recall's layered YAML configuration.
package config

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Search    SearchConfig    `yaml:"search"`
	Vector    VectorConfig    `yaml:"vector"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Import    ImportConfig    `yaml:"import"`
	Log       LogConfig       `yaml:"log"`
}

type StorageConfig struct {
	// DataDir overrides the platform data directory when set.
	DataDir     string        `yaml:"data_dir"`
	Driver      string        `yaml:"driver"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

type SearchConfig struct {
	VectorShare      float64        `yaml:"vector_share"`
	TextShare        float64        `yaml:"text_share"`
	GraphShare       float64        `yaml:"graph_share"`
	AutoVectorLength int            `yaml:"auto_vector_length"`
	DefaultLimit     int            `yaml:"default_limit"`
	DefaultThreshold float64        `yaml:"default_threshold"`
	Timeouts         TimeoutsConfig `yaml:"timeouts"`
	CacheMaxCost     int64          `yaml:"cache_max_cost"`
	CacheTTL         time.Duration  `yaml:"cache_ttl"`
}

type TimeoutsConfig struct {
	Text   time.Duration `yaml:"text"`
	Vector time.Duration `yaml:"vector"`
	Graph  time.Duration `yaml:"graph"`
}

type VectorConfig struct {
	// Backend is "modern" (sqlite-persisted) or "legacy" (in-memory).
	Backend       string        `yaml:"backend"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Breaker       BreakerConfig `yaml:"breaker"`
}

type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	MinRequests      uint32        `yaml:"min_requests"`
	FailureThreshold float64       `yaml:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
}

type EmbedderConfig struct {
	// Provider is one of local, openai, gemini, onnx.
	Provider       string `yaml:"provider"`
	Model          string `yaml:"model"`
	Dimension      int    `yaml:"dimension"`
	CacheSize      int    `yaml:"cache_size"`
	OrtLibraryPath string `yaml:"ort_library_path"`
}

type ExtractorConfig struct {
	// Provider is pattern or anthropic.
	Provider       string `yaml:"provider"`
	Model          string `yaml:"model"`
	MaxTokens      int64  `yaml:"max_tokens"`
	VocabularyFile string `yaml:"vocabulary_file"`
}

// IngestConfig bounds the best-effort side effects of a write.
type IngestConfig struct {
	Timeouts IngestTimeouts `yaml:"timeouts"`
}

type IngestTimeouts struct {
	Vector time.Duration `yaml:"vector"`
	Graph  time.Duration `yaml:"graph"`
}

type ImportConfig struct {
	Include  []string      `yaml:"include"`
	Exclude  []string      `yaml:"exclude"`
	Debounce time.Duration `yaml:"debounce"`
	MaxBytes int64         `yaml:"max_bytes"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

var (
	vectorBackends     = []string{"legacy", "modern"}
	embedderProviders  = []string{"local", "openai", "gemini", "onnx"}
	extractorProviders = []string{"pattern", "anthropic"}
	logLevels          = []string{"debug", "info", "warn", "error"}
)

func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Driver:      "sqlite3",
			BusyTimeout: 5 * time.Second,
		},
		Search: SearchConfig{
			VectorShare:      0.6,
			TextShare:        0.3,
			GraphShare:       0.1,
			AutoVectorLength: 50,
			DefaultLimit:     20,
			DefaultThreshold: 0.5,
			Timeouts: TimeoutsConfig{
				Text:   2 * time.Second,
				Vector: 3 * time.Second,
				Graph:  2 * time.Second,
			},
			CacheMaxCost: 10_000,
			CacheTTL:     5 * time.Minute,
		},
		Vector: VectorConfig{
			Backend:       "modern",
			BatchSize:     1,
			FlushInterval: 500 * time.Millisecond,
			Breaker: BreakerConfig{
				Enabled:          true,
				MinRequests:      5,
				FailureThreshold: 0.6,
				OpenTimeout:      30 * time.Second,
			},
		},
		Embedder: EmbedderConfig{
			Provider:  "local",
			Dimension: 384,
			CacheSize: 4096,
		},
		Extractor: ExtractorConfig{
			Provider:  "pattern",
			Model:     "claude-haiku-4-5",
			MaxTokens: 1024,
		},
		Ingest: IngestConfig{
			Timeouts: IngestTimeouts{
				Vector: 10 * time.Second,
				Graph:  30 * time.Second,
			},
		},
		Import: ImportConfig{
			Include:  []string{"**.md", "**.txt"},
			Exclude:  []string{"**/.git/**", "**/node_modules/**"},
			Debounce: 100 * time.Millisecond,
			MaxBytes: 1 << 20,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	s := c.Search
	for name, share := range map[string]float64{
		"search.vector_share": s.VectorShare,
		"search.text_share":   s.TextShare,
		"search.graph_share":  s.GraphShare,
	} {
		if share <= 0 || share > 1 {
			errs = append(errs, fmt.Errorf("%s must be in (0,1], got %v", name, share))
		}
	}
	if s.AutoVectorLength < 0 {
		errs = append(errs, fmt.Errorf("search.auto_vector_length must be >= 0"))
	}
	if s.DefaultLimit <= 0 {
		errs = append(errs, fmt.Errorf("search.default_limit must be > 0"))
	}
	if s.DefaultThreshold < 0 || s.DefaultThreshold > 1 {
		errs = append(errs, fmt.Errorf("search.default_threshold must be in [0,1]"))
	}
	if s.Timeouts.Text <= 0 || s.Timeouts.Vector <= 0 || s.Timeouts.Graph <= 0 {
		errs = append(errs, fmt.Errorf("search.timeouts must be positive"))
	}

	if c.Ingest.Timeouts.Vector <= 0 || c.Ingest.Timeouts.Graph <= 0 {
		errs = append(errs, fmt.Errorf("ingest.timeouts must be positive"))
	}

	if !slices.Contains(vectorBackends, c.Vector.Backend) {
		errs = append(errs, fmt.Errorf("vector.backend %q not one of %v", c.Vector.Backend, vectorBackends))
	}
	if c.Vector.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("vector.batch_size must be >= 1"))
	}
	if !slices.Contains(embedderProviders, c.Embedder.Provider) {
		errs = append(errs, fmt.Errorf("embedder.provider %q not one of %v", c.Embedder.Provider, embedderProviders))
	}
	if c.Embedder.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("embedder.dimension must be > 0"))
	}
	if !slices.Contains(extractorProviders, c.Extractor.Provider) {
		errs = append(errs, fmt.Errorf("extractor.provider %q not one of %v", c.Extractor.Provider, extractorProviders))
	}
	if !slices.Contains(logLevels, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level %q not one of %v", c.Log.Level, logLevels))
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
}
