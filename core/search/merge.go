package search

import (
	"cmp"
	"slices"

	"github.com/adalundhe/recall/core/memory"
)

// mergeInput holds adapter output for one query. Vector hits must already be
// in descending similarity order.
type mergeInput struct {
	vector   []memory.SearchHit
	text     []memory.SearchHit
	fallback []memory.SearchHit
	graph    []memory.SearchHit
}

// merge combines adapter hits into one list without duplicates.
//
// Vector hits are inserted first, then text hits (and the text re-run of a
// failed vector budget) that are not already present. Graph hits enrich
// existing entries in place or are appended. Scored entries then sort by
// score descending, followed by unscored entries by UpdatedAt descending;
// ties keep insertion order. The result is truncated to limit.
func merge(in mergeInput, limit int) []memory.SearchHit {
	var (
		order []*memory.SearchHit
		byID  = make(map[string]*memory.SearchHit)
	)

	insert := func(h memory.SearchHit) *memory.SearchHit {
		if existing, ok := byID[h.Record.ID]; ok {
			return existing
		}
		hit := h
		hit.Origins = slices.Clone(h.Origins)
		hit.GraphContext = cloneGraphContext(h.GraphContext)
		byID[h.Record.ID] = &hit
		order = append(order, &hit)
		return &hit
	}

	for _, h := range in.vector {
		insert(h)
	}
	for _, list := range [][]memory.SearchHit{in.text, in.fallback} {
		for _, h := range list {
			insert(h).AddOrigin(memory.BackendText)
		}
	}
	for _, h := range in.graph {
		existing, present := byID[h.Record.ID]
		if !present {
			insert(h)
			continue
		}
		existing.AddOrigin(memory.BackendGraph)
		if h.GraphContext == nil {
			continue
		}
		if existing.GraphContext == nil {
			existing.GraphContext = cloneGraphContext(h.GraphContext)
		} else {
			existing.GraphContext.Merge(*h.GraphContext)
		}
	}

	slices.SortStableFunc(order, compareHits)

	if limit >= 0 && len(order) > limit {
		order = order[:limit]
	}
	out := make([]memory.SearchHit, len(order))
	for i, h := range order {
		out[i] = *h
	}
	return out
}

func cloneGraphContext(gc *memory.GraphContext) *memory.GraphContext {
	if gc == nil {
		return nil
	}
	out := *gc
	out.EntityNames = slices.Clone(gc.EntityNames)
	out.EntityTypes = slices.Clone(gc.EntityTypes)
	return &out
}

func compareHits(a, b *memory.SearchHit) int {
	switch {
	case a.HasScore && b.HasScore:
		return cmp.Compare(b.Score, a.Score)
	case a.HasScore:
		return -1
	case b.HasScore:
		return 1
	default:
		return b.Record.UpdatedAt.Compare(a.Record.UpdatedAt)
	}
}

// contributions counts, per backend, the hits in the final list that backend
// surfaced.
func contributions(hits []memory.SearchHit) map[memory.Backend]int {
	out := make(map[memory.Backend]int, 3)
	for _, h := range hits {
		for _, b := range h.Origins {
			out[b]++
		}
	}
	return out
}
