package ingest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/adalundhe/recall/core/database"
	"github.com/adalundhe/recall/core/extract"
	"github.com/adalundhe/recall/core/graphstore"
	"github.com/adalundhe/recall/core/memory"
	"github.com/adalundhe/recall/core/search"
	"github.com/adalundhe/recall/core/textstore"
	"github.com/adalundhe/recall/core/vectorstore"
	"github.com/adalundhe/recall/core/vectorstore/embedder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stack struct {
	text   *textstore.Store
	graph  *graphstore.Store
	engine *search.Engine
	coord  *Coordinator
}

func newStack(t *testing.T) *stack {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	recordsPool, err := database.OpenPool(filepath.Join(dir, "records.db"), database.DefaultPoolConfig())
	require.NoError(t, err)
	t.Cleanup(func() { recordsPool.Close() })

	graphPool, err := database.OpenPool(filepath.Join(dir, "graph.db"), database.DefaultPoolConfig())
	require.NoError(t, err)
	t.Cleanup(func() { graphPool.Close() })

	text, err := textstore.Open(ctx, recordsPool, filepath.Join(dir, "index.bleve"))
	require.NoError(t, err)
	t.Cleanup(func() { text.Close() })

	vectors := vectorstore.NewMemoryStore(embedder.NewLocalEmbedder(embedder.DefaultDimension))

	graph, err := graphstore.Open(ctx, graphPool)
	require.NoError(t, err)

	extractor, err := extract.NewPatternExtractor(extract.DefaultVocabulary())
	require.NoError(t, err)

	cache, err := search.NewResultCache(search.DefaultCacheConfig())
	require.NoError(t, err)
	t.Cleanup(cache.Close)

	engine := search.NewEngine(text, vectors, graph, search.DefaultConfig(), search.WithCache(cache))
	coord := NewCoordinator(text, vectors, extractor, graph, WithOnChange(engine.Invalidate))

	return &stack{text: text, graph: graph, engine: engine, coord: coord}
}

func hitIDs(hits []memory.SearchHit) []string {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.Record.ID
	}
	return ids
}

func TestEndToEnd_GraphSearchSurfacesLinkedRecords(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	first, err := s.coord.Create(ctx, memory.Record{
		Title: "React useEffect cleanup",
		Body:  "Hooks in React run cleanup before the next effect. Written in JavaScript.",
		Kind:  memory.KindCode,
	})
	require.NoError(t, err)

	second, err := s.coord.Create(ctx, memory.Record{
		Title: "Frontend rewrite",
		Body:  "We moved the dashboard to React last quarter.",
		Kind:  memory.KindDecision,
	})
	require.NoError(t, err)

	react, ok, err := s.graph.FindEntityByName(ctx, "react")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, memory.EntityTechnology, react.Type)
	assert.ElementsMatch(t, []string{first.ID, second.ID}, react.MemoryIDs)

	hits := s.engine.Search(ctx, "React", search.Options{Method: search.MethodGraph, Limit: 10})
	require.Len(t, hits, 2)
	assert.ElementsMatch(t, []string{first.ID, second.ID}, hitIDs(hits))
	for _, h := range hits {
		assert.True(t, h.HasOrigin(memory.BackendGraph))
		require.NotNil(t, h.GraphContext)
		assert.Contains(t, h.GraphContext.EntityNames, "React")
		assert.Contains(t, h.GraphContext.Path, "React (technology)")
	}

	textHits := s.engine.Search(ctx, "useEffect", search.Options{Method: search.MethodText, Limit: 10})
	assert.Equal(t, []string{first.ID}, hitIDs(textHits))
}

func TestEndToEnd_DeleteKeepsEntityBackReferences(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	first, err := s.coord.Create(ctx, memory.Record{Title: "React notes", Body: "React basics", Kind: memory.KindNote})
	require.NoError(t, err)
	second, err := s.coord.Create(ctx, memory.Record{Title: "More React", Body: "React context API", Kind: memory.KindNote})
	require.NoError(t, err)

	before := s.engine.Search(ctx, "React", search.Options{Method: search.MethodGraph, Limit: 10})
	require.Len(t, before, 2)

	deleted, err := s.coord.Delete(ctx, first.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	react, ok, err := s.graph.FindEntityByName(ctx, "React")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, react.MemoryIDs, second.ID)

	after := s.engine.Search(ctx, "React", search.Options{Method: search.MethodGraph, Limit: 10})
	assert.Equal(t, []string{second.ID}, hitIDs(after))
}

func TestEndToEnd_UpdateInvalidatesCachedResults(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	r, err := s.coord.Create(ctx, memory.Record{Title: "Kafka consumer lag", Body: "partition rebalancing", Kind: memory.KindNote})
	require.NoError(t, err)

	opts := search.Options{Method: search.MethodText, Limit: 10}
	require.Equal(t, []string{r.ID}, hitIDs(s.engine.Search(ctx, "rebalancing", opts)))

	body := "offset commits"
	_, err = s.coord.Update(ctx, r.ID, memory.Patch{Body: &body})
	require.NoError(t, err)

	assert.Empty(t, s.engine.Search(ctx, "rebalancing", opts))
	assert.Equal(t, []string{r.ID}, hitIDs(s.engine.Search(ctx, "offset", opts)))
}
