package search

import (
	"testing"
	"time"

	"github.com/adalundhe/recall/core/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hit(id string, age time.Duration, origin memory.Backend) memory.SearchHit {
	return memory.SearchHit{Record: rec(id, age), Origins: []memory.Backend{origin}}
}

func scored(id string, score float64) memory.SearchHit {
	h := hit(id, 0, memory.BackendVector)
	h.Score, h.HasScore = score, true
	return h
}

func TestMerge_UnscoredByRecency(t *testing.T) {
	out := merge(mergeInput{
		vector: []memory.SearchHit{scored("v", 0.5)},
		text:   []memory.SearchHit{hit("old", 3*time.Hour, memory.BackendText), hit("new", time.Hour, memory.BackendText)},
		graph:  []memory.SearchHit{hit("newest", time.Minute, memory.BackendGraph)},
	}, 10)
	assert.Equal(t, []string{"v", "newest", "new", "old"}, ids(out))
}

func TestMerge_TiesKeepInsertionOrder(t *testing.T) {
	out := merge(mergeInput{
		text: []memory.SearchHit{hit("b", time.Hour, memory.BackendText), hit("a", time.Hour, memory.BackendText)},
	}, 10)
	assert.Equal(t, []string{"b", "a"}, ids(out))
}

func TestMerge_FallbackAfterText(t *testing.T) {
	out := merge(mergeInput{
		text:     []memory.SearchHit{hit("t1", time.Hour, memory.BackendText)},
		fallback: []memory.SearchHit{hit("t1", time.Hour, memory.BackendText), hit("t2", time.Hour, memory.BackendText)},
	}, 10)
	assert.Equal(t, []string{"t1", "t2"}, ids(out))
}

func TestMerge_GraphEnrichesInPlace(t *testing.T) {
	g := hit("v2", 0, memory.BackendGraph)
	g.GraphContext = &memory.GraphContext{EntityNames: []string{"React"}, EntityTypes: []memory.EntityType{memory.EntityTechnology}}

	in := mergeInput{
		vector: []memory.SearchHit{scored("v1", 0.9), scored("v2", 0.8)},
		graph:  []memory.SearchHit{g},
	}
	out := merge(in, 10)
	require.Len(t, out, 2)
	assert.Equal(t, "v2", out[1].Record.ID)
	assert.Equal(t, []memory.Backend{memory.BackendVector, memory.BackendGraph}, out[1].Origins)
	assert.Equal(t, []string{"React"}, out[1].GraphContext.EntityNames)

	// inputs are not mutated
	assert.Equal(t, []memory.Backend{memory.BackendVector}, in.vector[1].Origins)
	assert.Nil(t, in.vector[1].GraphContext)
}

func TestMerge_Truncates(t *testing.T) {
	out := merge(mergeInput{
		vector: []memory.SearchHit{scored("a", 0.9), scored("b", 0.8), scored("c", 0.7)},
	}, 2)
	assert.Equal(t, []string{"a", "b"}, ids(out))

	assert.Empty(t, merge(mergeInput{}, 5))
}

func TestCacheKey(t *testing.T) {
	r := NewRouter(DefaultRouterConfig())
	plan := r.Route("react hooks", MethodHybrid, 10, nil)

	assert.Equal(t, CacheKey("react   hooks", plan, memory.Filters{}), CacheKey(" react hooks ", plan, memory.Filters{}))
	assert.NotEqual(t,
		CacheKey("react hooks", plan, memory.Filters{}),
		CacheKey("react hooks", plan, memory.Filters{Tags: []string{"go"}}))
	assert.NotEqual(t,
		CacheKey("react hooks", plan, memory.Filters{}),
		CacheKey("react hooks", r.Route("react hooks", MethodHybrid, 10, Threshold(0.9)), memory.Filters{}))
}

func TestResultCache_StaleGenerationIgnored(t *testing.T) {
	cache, err := NewResultCache(DefaultCacheConfig())
	require.NoError(t, err)
	defer cache.Close()

	gen := cache.Generation()
	cache.Clear()
	cache.Put("k", gen, []memory.SearchHit{scored("a", 1)})
	_, ok := cache.Get("k")
	assert.False(t, ok)

	cache.Put("k", cache.Generation(), []memory.SearchHit{scored("a", 1)})
	got, ok := cache.Get("k")
	assert.True(t, ok)
	assert.Equal(t, []string{"a"}, ids(got))
}

func TestResultCache_CallerMutationsDoNotLeak(t *testing.T) {
	cache, err := NewResultCache(DefaultCacheConfig())
	require.NoError(t, err)
	defer cache.Close()

	h := scored("a", 0.9)
	h.Origins = append(make([]memory.Backend, 0, 4), memory.BackendVector)
	h.GraphContext = &memory.GraphContext{
		EntityNames: []string{"React"},
		EntityTypes: []memory.EntityType{memory.EntityTechnology},
		Path:        "React (technology)",
	}
	input := []memory.SearchHit{h}
	cache.Put("k", cache.Generation(), input)

	input[0].Origins[0] = memory.BackendGraph
	input[0].GraphContext.EntityNames[0] = "changed"

	first, ok := cache.Get("k")
	require.True(t, ok)
	first[0].Origins = append(first[0].Origins, memory.BackendText)
	first[0].GraphContext.Path = "changed"
	first[0].GraphContext.EntityNames[0] = "changed"
	first[0].Record.Tags = append(first[0].Record.Tags, "x")

	second, ok := cache.Get("k")
	require.True(t, ok)
	assert.Equal(t, []memory.Backend{memory.BackendVector}, second[0].Origins)
	assert.Equal(t, []string{"React"}, second[0].GraphContext.EntityNames)
	assert.Equal(t, "React (technology)", second[0].GraphContext.Path)
	assert.Empty(t, second[0].Record.Tags)
}
