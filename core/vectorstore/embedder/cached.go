package embedder

import (
	"context"
	"fmt"
	"hash/fnv"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cached memoizes embeddings by text.
type Cached struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

func NewCached(inner Embedder, size int) (*Cached, error) {
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("embedding cache: %w", err)
	}
	return &Cached{inner: inner, cache: cache}, nil
}

func (c *Cached) Dimension() int {
	return c.inner.Dimension()
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

// EmbedBatch only sends the misses to the wrapped embedder.
func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		missIdx   []int
		missTexts []string
	)
	for i, text := range texts {
		if vec, ok := c.cache.Get(cacheKey(text)); ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmptyResponse, len(vecs), len(missTexts))
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		c.cache.Add(cacheKey(texts[i]), vecs[j])
	}
	return out, nil
}

func (c *Cached) Len() int {
	return c.cache.Len()
}

func cacheKey(text string) string {
	h := fnv.New128a()
	h.Write([]byte(text))
	return fmt.Sprintf("%x:%d", h.Sum(nil), len(text))
}
