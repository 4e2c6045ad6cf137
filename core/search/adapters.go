package search

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/adalundhe/recall/core/graphstore"
	"github.com/adalundhe/recall/core/memory"
	"github.com/adalundhe/recall/core/vectorstore"
)

// ErrBackendUnavailable is reported for a planned backend the engine was
// built without.
var ErrBackendUnavailable = errors.New("backend not configured")

// maxPathRelationships bounds the outgoing edges described in a graph path.
const maxPathRelationships = 3

// TextStore is the authoritative record store.
type TextStore interface {
	Get(ctx context.Context, id string) (memory.Record, bool, error)
	FullTextQuery(ctx context.Context, text string, limit int, filters memory.Filters) ([]string, error)
}

// batchGetter is used in place of per-id Get when the store offers it.
type batchGetter interface {
	GetMany(ctx context.Context, ids []string) (map[string]memory.Record, error)
}

type VectorStore interface {
	SimilarityQuery(ctx context.Context, text string, k int, threshold float64, filters memory.Filters) ([]vectorstore.Match, error)
}

type GraphStore interface {
	SearchEntities(ctx context.Context, text string, limit int) ([]graphstore.EntityMatch, error)
	GetEntity(ctx context.Context, id string) (memory.Entity, bool, error)
	ListRelationshipsForEntity(ctx context.Context, id string, dir memory.Direction) ([]memory.Relationship, error)
}

// =============================================================================
// Record resolution
// =============================================================================

// loadRecords resolves ids in order, skipping ids TextStore does not know.
func loadRecords(ctx context.Context, store TextStore, ids []string) ([]memory.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	if bg, ok := store.(batchGetter); ok {
		byID, err := bg.GetMany(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("resolve records: %w", err)
		}
		out := make([]memory.Record, 0, len(ids))
		for _, id := range ids {
			if r, ok := byID[id]; ok {
				out = append(out, r)
			}
		}
		return out, nil
	}

	out := make([]memory.Record, 0, len(ids))
	for _, id := range ids {
		r, ok, err := store.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolve record %s: %w", id, err)
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// =============================================================================
// Adapters
// =============================================================================

// textHits returns hits in TextStore rank order. Text hits carry no score.
func textHits(ctx context.Context, store TextStore, query string, k int, filters memory.Filters) ([]memory.SearchHit, int, error) {
	ids, err := store.FullTextQuery(ctx, query, k, filters)
	if err != nil {
		return nil, 0, err
	}
	records, err := loadRecords(ctx, store, ids)
	if err != nil {
		return nil, len(ids), err
	}

	hits := make([]memory.SearchHit, 0, len(records))
	for _, r := range records {
		hits = append(hits, memory.SearchHit{Record: r, Origins: []memory.Backend{memory.BackendText}})
	}
	return hits, len(ids), nil
}

// vectorHits returns hits by descending similarity, ties broken by id.
func vectorHits(ctx context.Context, store VectorStore, records TextStore, query string, step PlanStep, filters memory.Filters) ([]memory.SearchHit, int, error) {
	matches, err := store.SimilarityQuery(ctx, query, step.K, step.Threshold, filters)
	if err != nil {
		return nil, 0, err
	}
	matches = slices.Clone(matches)
	slices.SortStableFunc(matches, func(a, b vectorstore.Match) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	similarity := make(map[string]float64, len(matches))
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, dup := similarity[m.ID]; dup {
			continue
		}
		similarity[m.ID] = m.Similarity
		ids = append(ids, m.ID)
	}

	resolved, err := loadRecords(ctx, records, ids)
	if err != nil {
		return nil, len(matches), err
	}

	hits := make([]memory.SearchHit, 0, len(resolved))
	for _, r := range resolved {
		hits = append(hits, memory.SearchHit{
			Record:   r,
			Score:    similarity[r.ID],
			HasScore: true,
			Origins:  []memory.Backend{memory.BackendVector},
		})
	}
	return hits, len(matches), nil
}

// graphHits turns every record linked to a matched entity into an unscored
// hit carrying the entity as context. Graph has no native filters, so they
// are applied to the resolved records here. At most k hits are returned.
func graphHits(ctx context.Context, store GraphStore, records TextStore, query string, k int, filters memory.Filters) ([]memory.SearchHit, int, error) {
	matches, err := store.SearchEntities(ctx, query, k)
	if err != nil {
		return nil, 0, err
	}

	var (
		ids      []string
		contexts = make(map[string]*memory.GraphContext)
	)
	for _, m := range matches {
		gc := memory.GraphContext{
			EntityNames: []string{m.Entity.Name},
			EntityTypes: []memory.EntityType{m.Entity.Type},
			Path:        describePath(ctx, store, m.Entity),
		}
		for _, id := range m.Entity.MemoryIDs {
			if existing, ok := contexts[id]; ok {
				existing.Merge(gc)
				continue
			}
			c := gc
			c.EntityNames = slices.Clone(gc.EntityNames)
			c.EntityTypes = slices.Clone(gc.EntityTypes)
			contexts[id] = &c
			ids = append(ids, id)
		}
	}

	resolved, err := loadRecords(ctx, records, ids)
	if err != nil {
		return nil, len(ids), err
	}

	hits := make([]memory.SearchHit, 0, min(len(resolved), k))
	for _, r := range resolved {
		if len(hits) == k {
			break
		}
		if !filters.Matches(r.Kind, r.Tags, r.Attributes[memory.AttrProject], r.UpdatedAt) {
			continue
		}
		hits = append(hits, memory.SearchHit{
			Record:       r,
			Origins:      []memory.Backend{memory.BackendGraph},
			GraphContext: contexts[r.ID],
		})
	}
	return hits, len(ids), nil
}

// describePath renders an entity and up to three outgoing edges, e.g.
// "React (technology) -uses-> JavaScript". Lookup failures shorten the path.
func describePath(ctx context.Context, store GraphStore, e memory.Entity) string {
	head := fmt.Sprintf("%s (%s)", e.Name, e.Type)

	rels, err := store.ListRelationshipsForEntity(ctx, e.ID, memory.DirectionOutgoing)
	if err != nil || len(rels) == 0 {
		return head
	}

	edges := make([]string, 0, maxPathRelationships)
	for _, rel := range rels {
		if len(edges) == maxPathRelationships {
			break
		}
		target, ok, err := store.GetEntity(ctx, rel.ToEntityID)
		if err != nil || !ok {
			continue
		}
		edges = append(edges, fmt.Sprintf("-%s-> %s", rel.Type, target.Name))
	}
	if len(edges) == 0 {
		return head
	}
	return head + " " + strings.Join(edges, ", ")
}
