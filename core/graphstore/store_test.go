package graphstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/adalundhe/recall/core/database"
	"github.com/adalundhe/recall/core/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	pool, err := database.OpenPool(filepath.Join(t.TempDir(), "graph.db"), database.DefaultPoolConfig())
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	s, err := Open(context.Background(), pool)
	require.NoError(t, err)
	return s
}

func TestUpsertEntity_MergesByName(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	first, err := s.UpsertEntity(ctx, memory.Entity{
		Name: "React", Type: memory.EntityTechnology, Confidence: 0.7, MemoryIDs: []string{"m1"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)

	second, err := s.UpsertEntity(ctx, memory.Entity{
		Name: " react ", Type: memory.EntityOther, Confidence: 0.9, MemoryIDs: []string{"m2", "m1"},
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "React", second.Name)
	assert.Equal(t, memory.EntityTechnology, second.Type)
	assert.InDelta(t, 0.9, second.Confidence, 1e-9)
	assert.Equal(t, []string{"m1", "m2"}, second.MemoryIDs)

	lower, err := s.UpsertEntity(ctx, memory.Entity{Name: "REACT", Confidence: 0.1})
	require.NoError(t, err)
	assert.InDelta(t, 0.9, lower.Confidence, 1e-9)

	all, err := s.ListEntities(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUpsertEntity_OtherIsUpgraded(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.UpsertEntity(ctx, memory.Entity{Name: "Kafka", Type: memory.EntityOther, Confidence: 0.5})
	require.NoError(t, err)
	e, err := s.UpsertEntity(ctx, memory.Entity{Name: "Kafka", Type: memory.EntityTechnology, Confidence: 0.5})
	require.NoError(t, err)
	assert.Equal(t, memory.EntityTechnology, e.Type)
}

func TestUpsertEntity_EmptyName(t *testing.T) {
	_, err := openTestStore(t).UpsertEntity(context.Background(), memory.Entity{Name: "  "})
	assert.ErrorIs(t, err, ErrEmptyName)
}

func TestFindEntityByName(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.UpsertEntity(ctx, memory.Entity{Name: "Alice Smith", Type: memory.EntityPerson, Confidence: 0.8})
	require.NoError(t, err)

	e, ok, err := s.FindEntityByName(ctx, "alice   smith")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Alice Smith", e.Name)
	assert.Empty(t, e.MemoryIDs)

	_, ok, err = s.FindEntityByName(ctx, "Bob")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEntitiesForMemory(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for _, name := range []string{"React", "JavaScript"} {
		_, err := s.UpsertEntity(ctx, memory.Entity{Name: name, Type: memory.EntityTechnology, MemoryIDs: []string{"m1"}})
		require.NoError(t, err)
	}
	_, err := s.UpsertEntity(ctx, memory.Entity{Name: "Go", Type: memory.EntityTechnology, MemoryIDs: []string{"m2"}})
	require.NoError(t, err)

	got, err := s.EntitiesForMemory(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "JavaScript", got[0].Name)
	assert.Equal(t, "React", got[1].Name)
}

func TestSearchEntities(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for _, e := range []memory.Entity{
		{Name: "React", Type: memory.EntityTechnology, Confidence: 0.9},
		{Name: "React Native", Type: memory.EntityTechnology, Confidence: 0.8},
		{Name: "Redux", Type: memory.EntityTechnology, Confidence: 0.7},
		{Name: "Go", Type: memory.EntityTechnology, Confidence: 0.9},
		{Name: "MongoDB", Type: memory.EntityTechnology, Confidence: 0.9},
	} {
		_, err := s.UpsertEntity(ctx, e)
		require.NoError(t, err)
	}

	t.Run("exact first", func(t *testing.T) {
		got, err := s.SearchEntities(ctx, "react", 10)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "React", got[0].Entity.Name)
		assert.Equal(t, relevanceExact, got[0].Relevance)
		assert.Equal(t, "React Native", got[1].Entity.Name)
		assert.Equal(t, relevancePrefix, got[1].Relevance)
	})

	t.Run("names inside a sentence", func(t *testing.T) {
		got, err := s.SearchEntities(ctx, "how do React and Redux fit together", 10)
		require.NoError(t, err)
		names := make([]string, len(got))
		for i, m := range got {
			names[i] = m.Entity.Name
		}
		assert.ElementsMatch(t, []string{"React", "Redux"}, names)
	})

	t.Run("no partial word hits", func(t *testing.T) {
		got, err := s.SearchEntities(ctx, "google", 10)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("limit", func(t *testing.T) {
		got, err := s.SearchEntities(ctx, "react", 1)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("empty", func(t *testing.T) {
		got, err := s.SearchEntities(ctx, "  ", 10)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestUpsertRelationship(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	react, err := s.UpsertEntity(ctx, memory.Entity{Name: "React", Type: memory.EntityTechnology})
	require.NoError(t, err)
	js, err := s.UpsertEntity(ctx, memory.Entity{Name: "JavaScript", Type: memory.EntityTechnology})
	require.NoError(t, err)

	rel, ok, err := s.UpsertRelationship(ctx, memory.Relationship{
		FromEntityID: react.ID, ToEntityID: js.ID, Type: memory.RelationUses, Strength: 0.5, Confidence: 0.6,
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, memory.RelationUses, rel.Type)

	again, ok, err := s.UpsertRelationship(ctx, memory.Relationship{
		FromEntityID: react.ID, ToEntityID: js.ID, Type: memory.RelationUses, Strength: 0.8, Confidence: 0.2,
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rel.ID, again.ID)
	assert.InDelta(t, 0.8, again.Strength, 1e-9)
	assert.InDelta(t, 0.6, again.Confidence, 1e-9)

	_, ok, err = s.UpsertRelationship(ctx, memory.Relationship{
		FromEntityID: react.ID, ToEntityID: "missing", Type: memory.RelationUses,
	})
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = s.UpsertRelationship(ctx, memory.Relationship{FromEntityID: react.ID})
	assert.ErrorIs(t, err, ErrMissingEndpoints)

	out, err := s.ListRelationshipsForEntity(ctx, react.ID, memory.DirectionOutgoing)
	require.NoError(t, err)
	assert.Len(t, out, 1)

	in, err := s.ListRelationshipsForEntity(ctx, react.ID, memory.DirectionIncoming)
	require.NoError(t, err)
	assert.Empty(t, in)

	both, err := s.ListRelationshipsForEntity(ctx, js.ID, memory.DirectionBoth)
	require.NoError(t, err)
	assert.Len(t, both, 1)

	all, err := s.ListRelationships(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	entities, relationships, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, entities)
	assert.Equal(t, 1, relationships)
}

func TestRelevance(t *testing.T) {
	assert.Equal(t, relevanceExact, relevance("go", "go"))
	assert.Equal(t, relevanceContains, relevance("written in go today", "go"))
	assert.Equal(t, 0.0, relevance("mongo", "go"))
	assert.Equal(t, relevancePartial, relevance("native", "react native"))
}
