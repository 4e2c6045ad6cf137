// Package ingest writes records to the authoritative text store and fans
// each mutation out to the vector and graph backends.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/adalundhe/recall/core/extract"
	"github.com/adalundhe/recall/core/graphstore"
	"github.com/adalundhe/recall/core/memory"
	"github.com/adalundhe/recall/core/textstore"
	"github.com/adalundhe/recall/core/vectorstore"
	"github.com/google/uuid"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrRecordExists   = errors.New("record already exists")
	ErrInvalidRecord  = errors.New("invalid record")
	ErrEmptyID        = errors.New("record id cannot be empty")
)

const (
	opCreate = "create"
	opUpdate = "update"
	opDelete = "delete"
)

// TextStore is the system of record. Its failures fail the operation.
// Insert must fail with textstore.ErrExists when the id is taken.
type TextStore interface {
	Insert(ctx context.Context, r memory.Record) error
	Put(ctx context.Context, r memory.Record) error
	Get(ctx context.Context, id string) (memory.Record, bool, error)
	Delete(ctx context.Context, id string) (bool, error)
}

type VectorStore interface {
	Upsert(ctx context.Context, id, text string, meta vectorstore.Metadata) error
	Delete(ctx context.Context, id string) error
}

type GraphStore interface {
	UpsertEntity(ctx context.Context, e memory.Entity) (memory.Entity, error)
	FindEntityByName(ctx context.Context, name string) (memory.Entity, bool, error)
	UpsertRelationship(ctx context.Context, r memory.Relationship) (memory.Relationship, bool, error)
}

// Recorder counts mutations and failed side effects. *search.Metrics
// satisfies it.
type Recorder interface {
	IngestOperation(op string)
	IngestFailure(backend, op string)
}

type nopRecorder struct{}

func (nopRecorder) IngestOperation(string)       {}
func (nopRecorder) IngestFailure(string, string) {}

// Timeouts bound each best-effort side effect. Graph covers extraction and
// every entity and relationship write for one record.
type Timeouts struct {
	Vector time.Duration
	Graph  time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Vector: 10 * time.Second,
		Graph:  30 * time.Second,
	}
}

// =============================================================================
// Options
// =============================================================================

type Option func(*Coordinator)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithTimeouts overrides the side effect deadlines. A zero field keeps
// the default.
func WithTimeouts(t Timeouts) Option {
	return func(c *Coordinator) {
		if t.Vector > 0 {
			c.timeouts.Vector = t.Vector
		}
		if t.Graph > 0 {
			c.timeouts.Graph = t.Graph
		}
	}
}

// WithOnChange registers a hook run after every successful mutation.
func WithOnChange(fn func()) Option {
	return func(c *Coordinator) {
		c.OnChange(fn)
	}
}

// =============================================================================
// Coordinator
// =============================================================================

// Coordinator applies record mutations. The text store write is
// authoritative; vector and graph updates run in parallel afterwards, are
// best-effort, and are joined before the call returns or abandoned at
// their timeout. Vector, extractor and graph may be nil.
type Coordinator struct {
	text      TextStore
	vector    VectorStore
	extractor extract.Extractor
	graph     GraphStore

	validator *recordValidator
	recorder  Recorder
	timeouts  Timeouts
	logger    *slog.Logger
	now       func() time.Time

	hooksMu sync.RWMutex
	hooks   []func()
}

func NewCoordinator(text TextStore, vector VectorStore, extractor extract.Extractor, graph GraphStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		text:      text,
		vector:    vector,
		extractor: extractor,
		graph:     graph,
		validator: newRecordValidator(),
		recorder:  nopRecorder{},
		timeouts:  DefaultTimeouts(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnChange registers fn to run after every successful mutation.
func (c *Coordinator) OnChange(fn func()) {
	if fn == nil {
		return
	}
	c.hooksMu.Lock()
	c.hooks = append(c.hooks, fn)
	c.hooksMu.Unlock()
}

func (c *Coordinator) changed(op string) {
	c.recorder.IngestOperation(op)

	c.hooksMu.RLock()
	hooks := c.hooks
	c.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn()
	}
}

// Create stores a new record, assigning its id and timestamps. A caller
// supplied id must not already exist.
func (c *Coordinator) Create(ctx context.Context, r memory.Record) (memory.Record, error) {
	r = normalize(r.Clone())

	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	now := c.now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	if err := c.validator.Validate(r); err != nil {
		return memory.Record{}, err
	}
	if err := c.text.Insert(ctx, r); err != nil {
		if errors.Is(err, textstore.ErrExists) {
			return memory.Record{}, fmt.Errorf("%w: %s", ErrRecordExists, r.ID)
		}
		return memory.Record{}, fmt.Errorf("store record %s: %w", r.ID, err)
	}

	c.fanOut(ctx, r, opCreate)
	c.changed(opCreate)
	return r, nil
}

// Update applies patch to an existing record and bumps UpdatedAt. An empty
// patch returns the stored record untouched.
func (c *Coordinator) Update(ctx context.Context, id string, patch memory.Patch) (memory.Record, error) {
	existing, err := c.Get(ctx, id)
	if err != nil {
		return memory.Record{}, err
	}
	if patch.IsEmpty() {
		return existing, nil
	}

	r := normalize(patch.Apply(existing))
	r.ID = existing.ID
	r.CreatedAt = existing.CreatedAt
	r.Touch(c.now().UTC())

	if err := c.validator.Validate(r); err != nil {
		return memory.Record{}, err
	}
	if err := c.text.Put(ctx, r); err != nil {
		return memory.Record{}, fmt.Errorf("store record %s: %w", r.ID, err)
	}

	c.fanOut(ctx, r, opUpdate)
	c.changed(opUpdate)
	return r, nil
}

// Delete removes the record from the text and vector stores. Entities and
// relationships that mention it are left in place.
func (c *Coordinator) Delete(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, ErrEmptyID
	}

	deleted, err := c.text.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete record %s: %w", id, err)
	}

	if c.vector != nil {
		err := c.bounded(ctx, c.timeouts.Vector, func(ctx context.Context) error {
			return c.vector.Delete(ctx, id)
		})
		if err != nil {
			c.failed(id, "vector", "delete", err)
		}
	}

	if deleted {
		c.changed(opDelete)
	}
	return deleted, nil
}

// Get reads the record from the text store.
func (c *Coordinator) Get(ctx context.Context, id string) (memory.Record, error) {
	if id == "" {
		return memory.Record{}, ErrEmptyID
	}
	r, ok, err := c.text.Get(ctx, id)
	if err != nil {
		return memory.Record{}, fmt.Errorf("get record %s: %w", id, err)
	}
	if !ok {
		return memory.Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	return r, nil
}

func normalize(r memory.Record) memory.Record {
	r.Title = strings.TrimSpace(r.Title)
	r.Tags = memory.NormalizeTags(r.Tags)
	return r
}

// =============================================================================
// Fan-out
// =============================================================================

func (c *Coordinator) fanOut(ctx context.Context, r memory.Record, op string) {
	var wg sync.WaitGroup

	if c.vector != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.bounded(ctx, c.timeouts.Vector, func(ctx context.Context) error {
				return c.vector.Upsert(ctx, r.ID, r.Text(), vectorstore.MetadataOf(r))
			})
			if err != nil {
				c.failed(r.ID, "vector", "upsert", err)
			}
		}()
	}

	if c.extractor != nil && c.graph != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.bounded(ctx, c.timeouts.Graph, func(ctx context.Context) error {
				c.indexGraph(ctx, r)
				return nil
			})
			if err != nil {
				c.failed(r.ID, "graph", "index", err)
			}
		}()
	}

	wg.Wait()
	c.logger.Debug("record ingested", "record_id", r.ID, "operation", op)
}

// bounded runs fn under a deadline and stops waiting once it passes, even
// if fn ignores its context. The caller's cancellation is not inherited:
// side effects of a committed write still get their full budget.
func (c *Coordinator) bounded(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("abandoned after %s: %w", timeout, ctx.Err())
	}
}

func (c *Coordinator) failed(recordID, backend, op string, err error) {
	c.recorder.IngestFailure(backend, op)
	c.logger.Warn("ingestion side effect failed",
		"record_id", recordID,
		"backend", backend,
		"operation", op,
		"error", err)
}

// indexGraph extracts entities from the record, attaches the record to each
// one and then stores the relationships whose endpoints resolve.
func (c *Coordinator) indexGraph(ctx context.Context, r memory.Record) {
	extraction, err := c.extractor.Extract(ctx, r.Text())
	if err != nil {
		c.failed(r.ID, "extractor", "extract", err)
		return
	}

	resolved := make(map[string]memory.Entity, len(extraction.Entities))
	var errs []error
	for _, candidate := range extraction.Entities {
		entity, err := c.resolveOrCreateEntity(ctx, candidate, r.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		resolved[graphstore.NameKey(candidate.Name)] = entity
	}

	stored := 0
	for _, intent := range extraction.Relationships {
		from, ok, err := c.resolveName(ctx, resolved, intent.FromName)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}
		to, ok, err := c.resolveName(ctx, resolved, intent.ToName)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}

		_, ok, err = c.graph.UpsertRelationship(ctx, memory.Relationship{
			FromEntityID: from.ID,
			ToEntityID:   to.ID,
			Type:         intent.Type,
			Strength:     intent.Strength,
			Confidence:   intent.Confidence,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("relationship %s -> %s: %w", intent.FromName, intent.ToName, err))
			continue
		}
		if ok {
			stored++
		}
	}

	if len(errs) > 0 {
		c.failed(r.ID, "graph", "upsert", errors.Join(errs...))
	}
	c.logger.Debug("graph indexed",
		"record_id", r.ID,
		"entities", len(resolved),
		"relationships", stored)
}

// resolveOrCreateEntity upserts the entity by name, attaching recordID to
// its memory ids.
func (c *Coordinator) resolveOrCreateEntity(ctx context.Context, candidate extract.ExtractedEntity, recordID string) (memory.Entity, error) {
	entity, err := c.graph.UpsertEntity(ctx, memory.Entity{
		Name:       candidate.Name,
		Type:       candidate.Type,
		Confidence: candidate.Confidence,
		MemoryIDs:  []string{recordID},
	})
	if err != nil {
		return memory.Entity{}, fmt.Errorf("entity %q: %w", candidate.Name, err)
	}
	return entity, nil
}

// resolveName maps a relationship endpoint name to an entity, first among
// this record's entities and then in the graph. Unknown names resolve to
// false.
func (c *Coordinator) resolveName(ctx context.Context, resolved map[string]memory.Entity, name string) (memory.Entity, bool, error) {
	key := graphstore.NameKey(name)
	if key == "" {
		return memory.Entity{}, false, nil
	}
	if e, ok := resolved[key]; ok {
		return e, true, nil
	}
	e, ok, err := c.graph.FindEntityByName(ctx, name)
	if err != nil {
		return memory.Entity{}, false, fmt.Errorf("find entity %q: %w", name, err)
	}
	if ok {
		resolved[key] = e
	}
	return e, ok, nil
}
