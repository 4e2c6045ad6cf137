package embedder

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viterin/vek/vek32"
)

func cosine(a, b []float32) float64 {
	return float64(vek32.Dot(a, b)) / math.Sqrt(float64(vek32.Dot(a, a))*float64(vek32.Dot(b, b)))
}

func TestLocalEmbedder_Deterministic(t *testing.T) {
	e := NewLocalEmbedder(128)
	ctx := context.Background()

	a, err := e.Embed(ctx, "React hooks and effects")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "React hooks and effects")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 128)
	assert.InDelta(t, 1.0, float64(vek32.Dot(a, a)), 1e-4)
}

func TestLocalEmbedder_SharedVocabularyIsCloser(t *testing.T) {
	e := NewLocalEmbedder(DefaultDimension)
	ctx := context.Background()

	query, _ := e.Embed(ctx, "react hooks")
	related, _ := e.Embed(ctx, "using react hooks for state")
	unrelated, _ := e.Embed(ctx, "grocery list: milk, eggs, bread")

	assert.Greater(t, cosine(query, related), cosine(query, unrelated))
}

func TestLocalEmbedder_EmptyTextIsZeroVector(t *testing.T) {
	e := NewLocalEmbedder(16)
	vec, err := e.Embed(context.Background(), "  ")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 16), vec)
}

type countingEmbedder struct {
	calls atomic.Int32
	texts atomic.Int32
	err   error
}

func (c *countingEmbedder) Dimension() int { return 4 }

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (c *countingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(1)
	c.texts.Add(int32(len(texts)))
	if c.err != nil {
		return nil, c.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 0, 0, 1}
	}
	return out, nil
}

func TestCached_HitsSkipInner(t *testing.T) {
	inner := &countingEmbedder{}
	cached, err := NewCached(inner, 8)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = cached.Embed(ctx, "alpha")
	require.NoError(t, err)
	_, err = cached.Embed(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, int32(1), inner.calls.Load())

	vecs, err := cached.EmbedBatch(ctx, []string{"alpha", "beta", "gamma"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, float32(5), vecs[0][0])
	assert.Equal(t, float32(4), vecs[1][0])
	// only beta and gamma reached the inner embedder
	assert.Equal(t, int32(3), inner.texts.Load())
	assert.Equal(t, 3, cached.Len())
}

func TestCached_ErrorsAreNotCached(t *testing.T) {
	inner := &countingEmbedder{err: errors.New("quota")}
	cached, err := NewCached(inner, 8)
	require.NoError(t, err)

	_, err = cached.Embed(context.Background(), "alpha")
	assert.Error(t, err)
	assert.Equal(t, 0, cached.Len())
}

func TestNew_Providers(t *testing.T) {
	ctx := context.Background()

	e, err := New(ctx, Config{Provider: ProviderLocal, Dimension: 32, CacheSize: 16})
	require.NoError(t, err)
	assert.IsType(t, &Cached{}, e)
	assert.Equal(t, 32, e.Dimension())

	e, err = New(ctx, Config{Provider: ProviderLocal, Dimension: 32})
	require.NoError(t, err)
	assert.IsType(t, &LocalEmbedder{}, e)

	_, err = New(ctx, Config{Provider: "word2vec"})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestONNXEmbedder_FallsBackUntilLoaded(t *testing.T) {
	o := NewONNXEmbedder(ONNXConfig{Dimension: 24})
	assert.False(t, o.IsReady())
	// no cache dir configured, so loading is refused before touching the network
	assert.Error(t, o.EnsureModel(context.Background()))

	vec, err := o.Embed(context.Background(), "fallback text")
	require.NoError(t, err)
	assert.Len(t, vec, 24)
}
