package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/adalundhe/recall/core/config"
	"github.com/adalundhe/recall/core/database"
	"github.com/adalundhe/recall/core/extract"
	"github.com/adalundhe/recall/core/graphstore"
	"github.com/adalundhe/recall/core/ingest"
	"github.com/adalundhe/recall/core/search"
	"github.com/adalundhe/recall/core/storage"
	"github.com/adalundhe/recall/core/textstore"
	"github.com/adalundhe/recall/core/vectorstore"
	"github.com/adalundhe/recall/core/vectorstore/embedder"
)

// app is the fully wired set of stores shared by every command.
type app struct {
	config  *config.Config
	dirs    *storage.Dirs
	dbs     *database.Manager
	text    *textstore.Store
	vectors vectorstore.VectorStore
	graph   *graphstore.Store
	cache   *search.ResultCache
	metrics *search.Metrics
	engine  *search.Engine
	ingest  *ingest.Coordinator
}

func openApp(ctx context.Context) (_ *app, err error) {
	dirs := storage.ResolveDirs()
	cfgManager := config.NewManager(dirs, config.WithProjectRoot(projectRoot), config.WithLogger(logger))
	if err := cfgManager.Load(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg := cfgManager.Get()
	if !verbose {
		applyLogLevel(cfg.Log.Level)
	}

	if cfg.Storage.DataDir != "" {
		withData := *dirs
		withData.Data = cfg.Storage.DataDir
		dirs = &withData
	}
	if err := dirs.EnsureAll(); err != nil {
		return nil, fmt.Errorf("create directories: %w", err)
	}

	a := &app{
		config:  cfg,
		dirs:    dirs,
		dbs:     database.NewManager(dirs),
		metrics: search.NewMetrics("recall"),
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, a.Close())
		}
	}()

	driver, err := database.ParseDriver(cfg.Storage.Driver)
	if err != nil {
		return nil, err
	}
	poolConfig := database.DefaultPoolConfig()
	poolConfig.Driver = driver
	poolConfig.BusyTimeout = cfg.Storage.BusyTimeout

	records, err := a.dbs.Open("records", poolConfig)
	if err != nil {
		return nil, fmt.Errorf("open records db: %w", err)
	}
	if a.text, err = textstore.Open(ctx, records, dirs.IndexDir(), textstore.WithLogger(logger)); err != nil {
		return nil, err
	}

	emb, err := embedder.New(ctx, embedder.Config{
		Provider:       embedder.Provider(cfg.Embedder.Provider),
		Model:          cfg.Embedder.Model,
		Dimension:      cfg.Embedder.Dimension,
		CacheSize:      cfg.Embedder.CacheSize,
		ModelDir:       dirs.ModelDir(),
		OrtLibraryPath: cfg.Embedder.OrtLibraryPath,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}

	var vectorPool *database.Pool
	if vectorstore.Backend(cfg.Vector.Backend) == vectorstore.BackendModern {
		if vectorPool, err = a.dbs.Open("vectors", poolConfig); err != nil {
			return nil, fmt.Errorf("open vectors db: %w", err)
		}
	}
	a.vectors, err = vectorstore.Open(ctx, vectorstore.Config{
		Backend:       vectorstore.Backend(cfg.Vector.Backend),
		BatchSize:     cfg.Vector.BatchSize,
		FlushInterval: cfg.Vector.FlushInterval,
		Breaker:       breakerConfig(cfg.Vector.Breaker),
		Logger:        logger,
	}, emb, vectorPool)
	if err != nil {
		return nil, err
	}

	graphPool, err := a.dbs.Open("graph", poolConfig)
	if err != nil {
		return nil, fmt.Errorf("open graph db: %w", err)
	}
	if a.graph, err = graphstore.Open(ctx, graphPool); err != nil {
		return nil, err
	}

	extractor, err := extract.New(extract.Config{
		Provider:       extract.Provider(cfg.Extractor.Provider),
		Model:          cfg.Extractor.Model,
		MaxTokens:      cfg.Extractor.MaxTokens,
		VocabularyFile: cfg.Extractor.VocabularyFile,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("extractor: %w", err)
	}

	if a.cache, err = search.NewResultCache(search.CacheConfig{
		MaxCost: cfg.Search.CacheMaxCost,
		TTL:     cfg.Search.CacheTTL,
	}); err != nil {
		return nil, err
	}

	a.engine = search.NewEngine(a.text, a.vectors, a.graph, searchConfig(cfg.Search),
		search.WithLogger(logger),
		search.WithCache(a.cache),
		search.WithMetrics(a.metrics),
	)
	a.ingest = ingest.NewCoordinator(a.text, a.vectors, extractor, a.graph,
		ingest.WithLogger(logger),
		ingest.WithRecorder(a.metrics),
		ingest.WithTimeouts(ingest.Timeouts{
			Vector: cfg.Ingest.Timeouts.Vector,
			Graph:  cfg.Ingest.Timeouts.Graph,
		}),
		ingest.WithOnChange(a.engine.Invalidate),
	)
	return a, nil
}

func searchConfig(c config.SearchConfig) search.Config {
	return search.Config{
		Router: search.RouterConfig{
			VectorShare:      c.VectorShare,
			TextShare:        c.TextShare,
			GraphShare:       c.GraphShare,
			AutoVectorLength: c.AutoVectorLength,
			DefaultLimit:     c.DefaultLimit,
			DefaultThreshold: c.DefaultThreshold,
		},
		TextTimeout:   c.Timeouts.Text,
		VectorTimeout: c.Timeouts.Vector,
		GraphTimeout:  c.Timeouts.Graph,
	}
}

func breakerConfig(c config.BreakerConfig) *vectorstore.BreakerConfig {
	if !c.Enabled {
		return nil
	}
	b := vectorstore.DefaultBreakerConfig()
	if c.MinRequests > 0 {
		b.MinRequests = c.MinRequests
	}
	if c.FailureThreshold > 0 {
		b.FailureThreshold = c.FailureThreshold
	}
	if c.OpenTimeout > 0 {
		b.OpenTimeout = c.OpenTimeout
	}
	return &b
}

func applyLogLevel(level string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err == nil {
		logLevel.Set(l)
	}
}

// Close flushes pending vector writes and releases every store.
func (a *app) Close() error {
	var errs []error
	if a.vectors != nil {
		errs = append(errs, vectorstore.Close(a.vectors))
	}
	if a.text != nil {
		errs = append(errs, a.text.Close())
	}
	if a.cache != nil {
		a.cache.Close()
	}
	errs = append(errs, a.dbs.CloseAll())
	return errors.Join(errs...)
}

// withApp opens the app for the duration of fn.
func withApp(ctx context.Context, fn func(a *app) error) (err error) {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.Close())
	}()
	return fn(a)
}
