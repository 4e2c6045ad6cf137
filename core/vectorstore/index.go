package vectorstore

import (
	"cmp"
	"math"
	"slices"
	"sync"

	"github.com/adalundhe/recall/core/memory"
	"github.com/viterin/vek/vek32"
)

type entry struct {
	vector []float32
	norm   float32
	meta   Metadata
}

// flatIndex is an exact cosine index shared by both backends.
type flatIndex struct {
	dimension int
	entries   map[string]entry
	mu        sync.RWMutex
}

func newFlatIndex(dimension int) *flatIndex {
	return &flatIndex{
		dimension: dimension,
		entries:   make(map[string]entry),
	}
}

func (f *flatIndex) put(id string, vector []float32, meta Metadata) error {
	if len(vector) != f.dimension {
		return ErrDimensionMismatch
	}
	e := entry{
		vector: vector,
		norm:   magnitude(vector),
		meta:   meta,
	}

	f.mu.Lock()
	f.entries[id] = e
	f.mu.Unlock()
	return nil
}

func (f *flatIndex) remove(id string) {
	f.mu.Lock()
	delete(f.entries, id)
	f.mu.Unlock()
}

func (f *flatIndex) len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}

// search returns up to k matches at or above threshold, ordered by
// similarity descending then id.
func (f *flatIndex) search(query []float32, k int, threshold float64, filters memory.Filters) ([]Match, error) {
	if len(query) != f.dimension {
		return nil, ErrDimensionMismatch
	}
	if k <= 0 {
		return nil, nil
	}
	qNorm := magnitude(query)
	if qNorm == 0 {
		return nil, nil
	}

	f.mu.RLock()
	matches := make([]Match, 0, min(k*2, len(f.entries)))
	for id, e := range f.entries {
		if e.norm == 0 || !e.meta.matches(filters) {
			continue
		}
		sim := clampSimilarity(vek32.Dot(query, e.vector) / (qNorm * e.norm))
		if sim < threshold {
			continue
		}
		matches = append(matches, Match{ID: id, Similarity: sim})
	}
	f.mu.RUnlock()

	slices.SortFunc(matches, func(a, b Match) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func magnitude(v []float32) float32 {
	return float32(math.Sqrt(float64(vek32.Dot(v, v))))
}

func clampSimilarity(sim float32) float64 {
	return memory.Clamp01(float64(sim))
}
