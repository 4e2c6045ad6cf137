package memory

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	kind, ok := ParseKind(" Meeting ")
	assert.True(t, ok)
	assert.Equal(t, KindMeeting, kind)

	_, ok = ParseKind("poem")
	assert.False(t, ok)
}

func TestRecord_TouchNeverMovesBackwards(t *testing.T) {
	now := time.Now()
	r := Record{UpdatedAt: now}

	r.Touch(now.Add(-time.Hour))
	assert.Equal(t, now, r.UpdatedAt)

	later := now.Add(time.Minute)
	r.Touch(later)
	assert.Equal(t, later, r.UpdatedAt)
}

func TestNormalizeTags(t *testing.T) {
	got := NormalizeTags([]string{"Go", " go", "", "backend", "API"})
	assert.Equal(t, []string{"api", "backend", "go"}, got)
	assert.Nil(t, NormalizeTags(nil))
}

func TestPatch_Apply(t *testing.T) {
	base := Record{
		ID:         "r1",
		Title:      "old",
		Body:       "body",
		Kind:       KindNote,
		Tags:       []string{"a"},
		Attributes: map[string]string{"source": "manual", "path": "x.md"},
	}

	title := "new"
	kind := KindDecision
	patched := Patch{
		Title:      &title,
		Kind:       &kind,
		Tags:       []string{"B", "c"},
		SetTags:    true,
		Attributes: map[string]string{"path": "", "project": "recall"},
	}.Apply(base)

	assert.Equal(t, "new", patched.Title)
	assert.Equal(t, "body", patched.Body)
	assert.Equal(t, KindDecision, patched.Kind)
	assert.Equal(t, []string{"b", "c"}, patched.Tags)
	assert.Equal(t, map[string]string{"source": "manual", "project": "recall"}, patched.Attributes)

	// original untouched
	assert.Equal(t, "old", base.Title)
	assert.Equal(t, "x.md", base.Attributes["path"])
}

func TestPatch_IsEmpty(t *testing.T) {
	assert.True(t, Patch{}.IsEmpty())
	body := ""
	assert.False(t, Patch{Body: &body}.IsEmpty())
}

func TestSearchHit_AddOriginKeepsOrder(t *testing.T) {
	hit := SearchHit{}
	hit.AddOrigin(BackendGraph)
	hit.AddOrigin(BackendVector)
	hit.AddOrigin(BackendGraph)

	assert.Equal(t, []Backend{BackendVector, BackendGraph}, hit.Origins)
	assert.True(t, hit.HasOrigin(BackendGraph))
	assert.False(t, hit.HasOrigin(BackendText))
}

func TestBackend_JSON(t *testing.T) {
	data, err := json.Marshal([]Backend{BackendText, BackendGraph})
	require.NoError(t, err)
	assert.JSONEq(t, `["text","graph"]`, string(data))

	var out []Backend
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, []Backend{BackendText, BackendGraph}, out)

	var bad Backend
	assert.Error(t, json.Unmarshal([]byte(`"sql"`), &bad))
}

func TestGraphContext_Merge(t *testing.T) {
	ctx := GraphContext{
		EntityNames: []string{"React"},
		EntityTypes: []EntityType{EntityTechnology},
		Path:        "React (technology)",
	}
	ctx.Merge(GraphContext{
		EntityNames: []string{"React", "Alice"},
		EntityTypes: []EntityType{EntityTechnology, EntityPerson},
		Path:        "Alice (person)",
	})

	assert.Equal(t, []string{"React", "Alice"}, ctx.EntityNames)
	assert.Equal(t, []EntityType{EntityTechnology, EntityPerson}, ctx.EntityTypes)
	assert.Equal(t, "React (technology); Alice (person)", ctx.Path)
}

func TestGraphContext_MergeMultiNameAppendsPathOnce(t *testing.T) {
	ctx := GraphContext{EntityNames: []string{"Go"}, EntityTypes: []EntityType{EntityTechnology}, Path: "Go (technology)"}
	ctx.Merge(GraphContext{
		EntityNames: []string{"Alice", "Atlas"},
		EntityTypes: []EntityType{EntityPerson, EntityProject},
		Path:        "Alice (person) -works_on-> Atlas",
	})

	assert.Equal(t, []string{"Go", "Alice", "Atlas"}, ctx.EntityNames)
	assert.Equal(t, "Go (technology); Alice (person) -works_on-> Atlas", ctx.Path)

	ctx.Merge(GraphContext{EntityNames: []string{"Go"}, Path: "Go (technology)"})
	assert.Equal(t, "Go (technology); Alice (person) -works_on-> Atlas", ctx.Path)
}

func TestFilters_Matches(t *testing.T) {
	now := time.Now()
	f := Filters{
		Kinds:   []Kind{KindCode},
		Tags:    []string{"go"},
		Project: "Recall",
		Since:   now.Add(-time.Hour),
	}

	assert.True(t, f.Matches(KindCode, []string{"go", "db"}, "recall", now))
	assert.False(t, f.Matches(KindNote, []string{"go"}, "recall", now))
	assert.False(t, f.Matches(KindCode, []string{"db"}, "recall", now))
	assert.False(t, f.Matches(KindCode, []string{"go"}, "other", now))
	assert.False(t, f.Matches(KindCode, []string{"go"}, "recall", now.Add(-2*time.Hour)))
	assert.True(t, Filters{}.Matches(KindNote, nil, "", now))
}

func TestFilters_KeyIsOrderIndependent(t *testing.T) {
	a := Filters{Tags: []string{"x", "y"}, Kinds: []Kind{KindNote, KindCode}}
	b := Filters{Tags: []string{"y", "x"}, Kinds: []Kind{KindCode, KindNote}}
	assert.Equal(t, a.Key(), b.Key())
	assert.Empty(t, Filters{}.Key())
}
