package embedder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
	"github.com/knights-analytics/hugot/pipelines"
)

const defaultONNXModel = "sentence-transformers/all-MiniLM-L6-v2"

type ONNXConfig struct {
	// Model is a HuggingFace repository holding an ONNX export.
	Model          string
	Dimension      int
	CacheDir       string
	OrtLibraryPath string
}

// ONNXEmbedder runs a sentence-transformer locally through onnxruntime.
// Until EnsureModel succeeds it answers with the local hashing embedder.
type ONNXEmbedder struct {
	config    ONNXConfig
	modelPath string
	fallback  *LocalEmbedder
	session   *hugot.Session
	pipeline  *pipelines.FeatureExtractionPipeline
	mu        sync.RWMutex
	loaded    bool
}

func NewONNXEmbedder(cfg ONNXConfig) *ONNXEmbedder {
	if cfg.Model == "" {
		cfg.Model = defaultONNXModel
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	return &ONNXEmbedder{
		config:    cfg,
		modelPath: filepath.Join(cfg.CacheDir, strings.ReplaceAll(cfg.Model, "/", "_")),
		fallback:  NewLocalEmbedder(cfg.Dimension),
	}
}

func (o *ONNXEmbedder) Dimension() int {
	return o.config.Dimension
}

func (o *ONNXEmbedder) IsReady() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.loaded
}

func (o *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, ErrEmptyResponse
	}
	return vecs[0], nil
}

func (o *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if !o.IsReady() {
		return o.fallback.EmbedBatch(ctx, texts)
	}

	o.mu.RLock()
	defer o.mu.RUnlock()

	output, err := o.pipeline.RunPipeline(texts)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	return output.Embeddings, nil
}

// EnsureModel downloads the model when missing and loads it.
func (o *ONNXEmbedder) EnsureModel(_ context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.loaded {
		return nil
	}
	if o.config.CacheDir == "" {
		return fmt.Errorf("no model cache directory configured")
	}

	if _, err := os.Stat(o.modelPath); os.IsNotExist(err) {
		if err := os.MkdirAll(o.config.CacheDir, 0755); err != nil {
			return fmt.Errorf("create cache dir: %w", err)
		}
		path, err := hugot.DownloadModel(o.config.Model, o.config.CacheDir, hugot.NewDownloadOptions())
		if err != nil {
			return fmt.Errorf("download %s: %w", o.config.Model, err)
		}
		o.modelPath = path
	}

	sessionOpts := []options.WithOption{
		options.WithIntraOpNumThreads(runtime.NumCPU()),
	}
	if o.config.OrtLibraryPath != "" {
		sessionOpts = append(sessionOpts, options.WithOnnxLibraryPath(o.config.OrtLibraryPath))
	}

	session, err := hugot.NewORTSession(sessionOpts...)
	if err != nil {
		return fmt.Errorf("create ORT session: %w", err)
	}

	pipeline, err := hugot.NewPipeline(session, hugot.FeatureExtractionConfig{
		ModelPath: o.modelPath,
		Name:      "recall-embedder",
	})
	if err != nil {
		session.Destroy()
		return fmt.Errorf("create pipeline: %w", err)
	}

	o.session = session
	o.pipeline = pipeline
	o.loaded = true
	return nil
}

func (o *ONNXEmbedder) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.session != nil {
		o.session.Destroy()
		o.session = nil
	}
	o.pipeline = nil
	o.loaded = false
	return nil
}
