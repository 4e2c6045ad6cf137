package textstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adalundhe/recall/core/memory"
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

var ErrIndexClosed = errors.New("full-text index is closed")

const (
	fieldTitle     = "title"
	fieldBody      = "body"
	fieldKind      = "kind"
	fieldTags      = "tags"
	fieldProject   = "project"
	fieldUpdatedAt = "updated_at"

	titleBoost = 2.0
)

// indexedRecord is the document shape stored in bleve.
type indexedRecord struct {
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Kind      string    `json:"kind"`
	Tags      []string  `json:"tags"`
	Project   string    `json:"project"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toIndexed(r memory.Record) indexedRecord {
	return indexedRecord{
		Title:     r.Title,
		Body:      r.Body,
		Kind:      string(r.Kind),
		Tags:      r.Tags,
		Project:   strings.ToLower(r.Attributes[memory.AttrProject]),
		UpdatedAt: r.UpdatedAt,
	}
}

// Index wraps a bleve index over record title and body.
type Index struct {
	index   bleve.Index
	path    string
	created bool
	mu      sync.RWMutex
	closed  bool
}

// OpenIndex opens the index at path, creating it when absent. An empty path
// creates an in-memory index.
func OpenIndex(path string) (*Index, error) {
	if path == "" {
		return newIndex("")
	}

	idx, err := bleve.Open(path)
	if err == nil {
		return &Index{index: idx, path: path}, nil
	}
	if !errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		return nil, fmt.Errorf("open index %s: %w", path, err)
	}
	return newIndex(path)
}

func newIndex(path string) (*Index, error) {
	indexMapping, err := buildIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("build mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		idx, err = bleve.New(path, indexMapping)
	}
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	return &Index{index: idx, path: path, created: true}, nil
}

func buildIndexMapping() (mapping.IndexMapping, error) {
	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = en.AnalyzerName
	textField.Store = false

	keywordField := bleve.NewKeywordFieldMapping()
	keywordField.Store = false

	dateField := bleve.NewDateTimeFieldMapping()
	dateField.Store = false

	doc := bleve.NewDocumentStaticMapping()
	doc.AddFieldMappingsAt(fieldTitle, textField)
	doc.AddFieldMappingsAt(fieldBody, textField)
	doc.AddFieldMappingsAt(fieldKind, keywordField)
	doc.AddFieldMappingsAt(fieldTags, keywordField)
	doc.AddFieldMappingsAt(fieldProject, keywordField)
	doc.AddFieldMappingsAt(fieldUpdatedAt, dateField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = doc
	indexMapping.DefaultAnalyzer = en.AnalyzerName

	if err := indexMapping.Validate(); err != nil {
		return nil, err
	}
	return indexMapping, nil
}

// Created reports whether OpenIndex built a fresh index.
func (i *Index) Created() bool {
	return i.created
}

func (i *Index) Index(ctx context.Context, r memory.Record) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return ErrIndexClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := i.index.Index(r.ID, toIndexed(r)); err != nil {
		return fmt.Errorf("index record %q: %w", r.ID, err)
	}
	return nil
}

func (i *Index) Delete(ctx context.Context, id string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return ErrIndexClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return i.index.Delete(id)
}

// Rebuild indexes every record in one batch per chunk.
func (i *Index) Rebuild(ctx context.Context, records []memory.Record, chunk int) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return ErrIndexClosed
	}
	if chunk <= 0 {
		chunk = 500
	}

	for start := 0; start < len(records); start += chunk {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+chunk, len(records))
		batch := i.index.NewBatch()
		for _, r := range records[start:end] {
			if err := batch.Index(r.ID, toIndexed(r)); err != nil {
				return fmt.Errorf("batch record %q: %w", r.ID, err)
			}
		}
		if err := i.index.Batch(batch); err != nil {
			return fmt.Errorf("commit batch: %w", err)
		}
	}
	return nil
}

// Search returns record ids ordered by bleve relevance, ties broken by id.
func (i *Index) Search(ctx context.Context, text string, limit int, filters memory.Filters) ([]string, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.closed {
		return nil, ErrIndexClosed
	}

	req := bleve.NewSearchRequestOptions(buildQuery(text, filters), limit, 0, false)
	req.SortBy([]string{"-_score", "_id"})

	result, err := i.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	ids := make([]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

func (i *Index) DocCount() (uint64, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.closed {
		return 0, ErrIndexClosed
	}
	return i.index.DocCount()
}

func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil
	}
	i.closed = true
	return i.index.Close()
}

// buildQuery matches text against title and body, then narrows by filters.
func buildQuery(text string, filters memory.Filters) query.Query {
	title := bleve.NewMatchQuery(text)
	title.SetField(fieldTitle)
	title.SetBoost(titleBoost)

	body := bleve.NewMatchQuery(text)
	body.SetField(fieldBody)

	match := bleve.NewDisjunctionQuery(title, body)
	if filters.IsZero() {
		return match
	}

	clauses := []query.Query{match}

	if len(filters.Kinds) > 0 {
		kinds := make([]query.Query, 0, len(filters.Kinds))
		for _, kind := range filters.Kinds {
			kinds = append(kinds, termQuery(fieldKind, string(kind)))
		}
		clauses = append(clauses, bleve.NewDisjunctionQuery(kinds...))
	}
	for _, tag := range filters.Tags {
		clauses = append(clauses, termQuery(fieldTags, tag))
	}
	if filters.Project != "" {
		clauses = append(clauses, termQuery(fieldProject, strings.ToLower(filters.Project)))
	}
	if !filters.Since.IsZero() || !filters.Until.IsZero() {
		inclusive := true
		dates := bleve.NewDateRangeInclusiveQuery(filters.Since, filters.Until, &inclusive, &inclusive)
		dates.SetField(fieldUpdatedAt)
		clauses = append(clauses, dates)
	}

	return bleve.NewConjunctionQuery(clauses...)
}

func termQuery(field, term string) query.Query {
	q := bleve.NewTermQuery(term)
	q.SetField(field)
	return q
}
