package vectorstore

import (
	"context"
	"fmt"

	"github.com/adalundhe/recall/core/memory"
	"github.com/adalundhe/recall/core/vectorstore/embedder"
)

// MemoryStore is the legacy backend: vectors live only in process memory.
type MemoryStore struct {
	embedder embedder.Embedder
	index    *flatIndex
}

func NewMemoryStore(emb embedder.Embedder) *MemoryStore {
	return &MemoryStore{
		embedder: emb,
		index:    newFlatIndex(emb.Dimension()),
	}
}

func (s *MemoryStore) Upsert(ctx context.Context, id, text string, meta Metadata) error {
	return s.UpsertBatch(ctx, []Item{{ID: id, Text: text, Meta: meta}})
}

func (s *MemoryStore) UpsertBatch(ctx context.Context, items []Item) error {
	vectors, err := embedItems(ctx, s.embedder, items)
	if err != nil {
		return err
	}
	for i, item := range items {
		if err := s.index.put(item.ID, vectors[i], item.Meta); err != nil {
			return fmt.Errorf("upsert %q: %w", item.ID, err)
		}
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrEmptyID
	}
	s.index.remove(id)
	return nil
}

func (s *MemoryStore) SimilarityQuery(ctx context.Context, text string, k int, threshold float64, filters memory.Filters) ([]Match, error) {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.index.search(vec, k, threshold, filters)
}

func (s *MemoryStore) Len() int {
	return s.index.len()
}

func embedItems(ctx context.Context, emb embedder.Embedder, items []Item) ([][]float32, error) {
	texts := make([]string, len(items))
	for i, item := range items {
		if item.ID == "" {
			return nil, ErrEmptyID
		}
		texts[i] = item.Text
	}
	vectors, err := emb.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vectors) != len(items) {
		return nil, fmt.Errorf("embed: got %d vectors for %d items", len(vectors), len(items))
	}
	return vectors, nil
}
