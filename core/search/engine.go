// Package search routes a query to the text, vector and graph backends,
// runs them concurrently and merges their hits into one ranked list.
package search

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/adalundhe/recall/core/memory"
)

// Options are per-search parameters. A nil Threshold uses the router
// default.
type Options struct {
	Limit     int
	Method    Method
	Threshold *float64
	Filters   memory.Filters
}

// Threshold is a convenience for Options.Threshold.
func Threshold(v float64) *float64 {
	return &v
}

type Config struct {
	Router        RouterConfig
	TextTimeout   time.Duration
	VectorTimeout time.Duration
	GraphTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Router:        DefaultRouterConfig(),
		TextTimeout:   2 * time.Second,
		VectorTimeout: 3 * time.Second,
		GraphTimeout:  2 * time.Second,
	}
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithCache(cache *ResultCache) Option {
	return func(e *Engine) {
		e.cache = cache
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(e *Engine) {
		e.metrics = metrics
	}
}

// =============================================================================
// Engine
// =============================================================================

// Engine executes routed searches. Vector and graph may be nil; planned
// steps for a missing backend fail like any other backend error.
type Engine struct {
	router  *Router
	text    TextStore
	vector  VectorStore
	graph   GraphStore
	config  Config
	cache   *ResultCache
	metrics *Metrics
	logger  *slog.Logger
}

func NewEngine(text TextStore, vector VectorStore, graph GraphStore, config Config, opts ...Option) *Engine {
	e := &Engine{
		router: NewRouter(config.Router),
		text:   text,
		vector: vector,
		graph:  graph,
		config: config,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Router() *Router {
	return e.router
}

// Invalidate drops cached results. It is the ingestion change hook.
func (e *Engine) Invalidate() {
	if e.cache != nil {
		e.cache.Clear()
	}
}

// Search never fails: backend errors degrade the result, and a query where
// every backend failed yields an empty list.
func (e *Engine) Search(ctx context.Context, query string, opts Options) []memory.SearchHit {
	hits, _ := e.SearchWithMetrics(ctx, query, opts)
	return hits
}

// SearchWithMetrics is Search plus per-backend timing and status.
func (e *Engine) SearchWithMetrics(ctx context.Context, query string, opts Options) ([]memory.SearchHit, *QueryMetrics) {
	start := time.Now()
	metrics := &QueryMetrics{Method: opts.Method}

	query = strings.TrimSpace(query)
	if query == "" {
		return []memory.SearchHit{}, metrics
	}

	plan := e.router.Route(query, opts.Method, opts.Limit, opts.Threshold)
	metrics.Method = plan.Method

	var (
		key string
		gen uint64
	)
	if e.cache != nil {
		key = CacheKey(query, plan, opts.Filters)
		if hits, ok := e.cache.Get(key); ok {
			metrics.CacheHit = true
			metrics.Results = len(hits)
			metrics.TotalLatency = time.Since(start)
			e.metrics.ObserveQuery(metrics)
			return hits, metrics
		}
		gen = e.cache.Generation()
	}

	results := e.executePlan(ctx, query, plan, opts.Filters)

	in := mergeInput{}
	for _, r := range results {
		metrics.Backends = append(metrics.Backends, r.metrics())
		if r.err != nil {
			e.logger.Warn("search backend failed",
				"backend", r.backend.String(),
				"duration", r.duration,
				"error", r.err)
			continue
		}
		switch r.backend {
		case memory.BackendVector:
			in.vector = r.hits
		case memory.BackendText:
			in.text = r.hits
		case memory.BackendGraph:
			in.graph = r.hits
		}
	}

	if fb, ok := e.fallback(ctx, query, plan, opts.Filters, results); ok {
		metrics.FallbackUsed = true
		m := fb.metrics()
		metrics.Fallback = &m
		if fb.err != nil {
			e.logger.Warn("text fallback failed", "backend", fb.backend.String(), "error", fb.err)
		} else {
			in.fallback = fb.hits
		}
	}

	if ctx.Err() != nil {
		metrics.TotalLatency = time.Since(start)
		return []memory.SearchHit{}, metrics
	}

	hits := merge(in, plan.Limit)

	counts := contributions(hits)
	for i := range metrics.Backends {
		metrics.Backends[i].Contributed = counts[metrics.Backends[i].Backend]
	}
	metrics.Results = len(hits)
	metrics.TotalLatency = time.Since(start)

	if e.cache != nil && !metrics.Degraded() {
		e.cache.Put(key, gen, hits)
	}
	e.metrics.ObserveQuery(metrics)

	e.logger.Debug("search complete",
		"method", plan.Method.String(),
		"limit", plan.Limit,
		"results", len(hits),
		"fallback", metrics.FallbackUsed,
		"duration", metrics.TotalLatency)

	return hits, metrics
}

// =============================================================================
// Parallel Execution
// =============================================================================

// stepResult holds the result from a single backend call.
type stepResult struct {
	backend  memory.Backend
	k        int
	hits     []memory.SearchHit
	returned int
	duration time.Duration
	err      error
}

func (r stepResult) metrics() BackendMetrics {
	m := BackendMetrics{
		Backend: r.backend,
		K:       r.k,
		Latency: r.duration,
		Hits:    r.returned,
	}
	if r.err != nil {
		m.Error = r.err.Error()
	}
	return m
}

// executePlan runs every step concurrently and returns results in plan
// order.
func (e *Engine) executePlan(ctx context.Context, query string, plan Plan, filters memory.Filters) []stepResult {
	results := make([]stepResult, len(plan.Steps))

	var wg sync.WaitGroup
	for i, step := range plan.Steps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = e.runStep(ctx, query, step, filters)
		}()
	}
	wg.Wait()

	return results
}

// runStep calls the backend in its own goroutine so that a backend which
// ignores its context still fails at the step timeout. The abandoned call
// finishes into a buffered channel nobody reads.
func (e *Engine) runStep(ctx context.Context, query string, step PlanStep, filters memory.Filters) stepResult {
	start := time.Now()
	result := stepResult{backend: step.Backend, k: step.K}

	stepCtx, cancel := e.stepContext(ctx, step.Backend)
	defer cancel()

	done := make(chan stepResult, 1)
	go func() {
		done <- e.callBackend(stepCtx, query, step, filters)
	}()

	select {
	case r := <-done:
		result.hits, result.returned, result.err = r.hits, r.returned, r.err
	case <-stepCtx.Done():
		result.err = stepCtx.Err()
	}

	if result.err == nil && stepCtx.Err() != nil {
		result.err = stepCtx.Err()
	}
	if result.err != nil {
		result.hits = nil
	}
	result.duration = time.Since(start)
	return result
}

func (e *Engine) callBackend(ctx context.Context, query string, step PlanStep, filters memory.Filters) stepResult {
	var r stepResult
	switch step.Backend {
	case memory.BackendText:
		r.hits, r.returned, r.err = textHits(ctx, e.text, query, step.K, filters)
	case memory.BackendVector:
		if e.vector == nil {
			r.err = ErrBackendUnavailable
			break
		}
		r.hits, r.returned, r.err = vectorHits(ctx, e.vector, e.text, query, step, filters)
	case memory.BackendGraph:
		if e.graph == nil {
			r.err = ErrBackendUnavailable
			break
		}
		r.hits, r.returned, r.err = graphHits(ctx, e.graph, e.text, query, step.K, filters)
	}
	return r
}

func (e *Engine) stepContext(ctx context.Context, b memory.Backend) (context.Context, context.CancelFunc) {
	var timeout time.Duration
	switch b {
	case memory.BackendText:
		timeout = e.config.TextTimeout
	case memory.BackendVector:
		timeout = e.config.VectorTimeout
	case memory.BackendGraph:
		timeout = e.config.GraphTimeout
	}
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// fallback re-runs a failed vector budget against text. When text was also
// planned the re-run asks for both budgets so that it reaches past the
// original text hits, which merge then deduplicates.
func (e *Engine) fallback(ctx context.Context, query string, plan Plan, filters memory.Filters, results []stepResult) (stepResult, bool) {
	vectorFailed := false
	for _, r := range results {
		if r.backend == memory.BackendVector && r.err != nil {
			vectorFailed = true
		}
	}
	if !vectorFailed || ctx.Err() != nil {
		return stepResult{}, false
	}

	vectorStep, _ := plan.Step(memory.BackendVector)
	k := vectorStep.K
	if textStep, ok := plan.Step(memory.BackendText); ok {
		k += textStep.K
	}
	return e.runStep(ctx, query, PlanStep{Backend: memory.BackendText, K: k}, filters), true
}
