package search

import (
	"strings"
	"testing"

	"github.com/adalundhe/recall/core/memory"
	"github.com/stretchr/testify/assert"
)

func TestParseMethod(t *testing.T) {
	m, ok := ParseMethod("")
	assert.True(t, ok)
	assert.Equal(t, MethodAuto, m)

	m, ok = ParseMethod(" Hybrid ")
	assert.True(t, ok)
	assert.Equal(t, MethodHybrid, m)

	_, ok = ParseMethod("sql")
	assert.False(t, ok)
}

func TestRouter_SingleBackendMethods(t *testing.T) {
	r := NewRouter(DefaultRouterConfig())

	for method, backend := range map[Method]memory.Backend{
		MethodText:   memory.BackendText,
		MethodVector: memory.BackendVector,
		MethodGraph:  memory.BackendGraph,
	} {
		plan := r.Route("anything", method, 7, nil)
		assert.Equal(t, method, plan.Method)
		assert.Equal(t, []memory.Backend{backend}, plan.Backends())
		assert.Equal(t, 7, plan.Steps[0].K)
	}
}

func TestRouter_HybridSplit(t *testing.T) {
	r := NewRouter(DefaultRouterConfig())

	cases := []struct {
		limit               int
		vector, text, graph int
	}{
		{20, 12, 6, 2},
		{10, 6, 3, 1},
		{1, 1, 1, 1},
		{7, 5, 3, 1},
		{30, 18, 9, 3},
	}
	for _, tc := range cases {
		plan := r.Route("q", MethodHybrid, tc.limit, nil)
		assert.Equal(t, []memory.Backend{memory.BackendVector, memory.BackendText, memory.BackendGraph}, plan.Backends())
		assert.Equal(t, tc.vector, plan.Steps[0].K, "vector k for limit %d", tc.limit)
		assert.Equal(t, tc.text, plan.Steps[1].K, "text k for limit %d", tc.limit)
		assert.Equal(t, tc.graph, plan.Steps[2].K, "graph k for limit %d", tc.limit)
	}
}

func TestRouter_AutoThreshold(t *testing.T) {
	r := NewRouter(DefaultRouterConfig())

	long := r.Route(strings.Repeat("a", 51), MethodAuto, 0, nil)
	assert.Equal(t, MethodVector, long.Method)
	assert.Equal(t, []memory.Backend{memory.BackendVector}, long.Backends())

	short := r.Route(strings.Repeat("a", 50), MethodAuto, 0, nil)
	assert.Equal(t, MethodHybrid, short.Method)
	assert.Len(t, short.Steps, 3)

	// runes, not bytes
	multibyte := r.Route(strings.Repeat("é", 50), MethodAuto, 0, nil)
	assert.Equal(t, MethodHybrid, multibyte.Method)

	padded := r.Route("  "+strings.Repeat("a", 50)+"  ", "", 0, nil)
	assert.Equal(t, MethodHybrid, padded.Method)
}

func TestRouter_Defaults(t *testing.T) {
	r := NewRouter(RouterConfig{})
	plan := r.Route("q", MethodVector, 0, nil)
	assert.Equal(t, 20, plan.Limit)
	assert.Equal(t, 20, plan.Steps[0].K)
	assert.Equal(t, 0.0, plan.Steps[0].Threshold)

	r = NewRouter(DefaultRouterConfig())
	plan = r.Route("q", MethodVector, 0, nil)
	assert.Equal(t, 0.5, plan.Threshold)

	zero := 0.0
	plan = r.Route("q", MethodHybrid, 0, &zero)
	step, ok := plan.Step(memory.BackendVector)
	assert.True(t, ok)
	assert.Equal(t, 0.0, step.Threshold)

	_, ok = r.Route("q", MethodText, 0, nil).Step(memory.BackendVector)
	assert.False(t, ok)
}

func TestRouter_ConfigurableShares(t *testing.T) {
	r := NewRouter(RouterConfig{VectorShare: 0.5, TextShare: 0.5, GraphShare: 0, AutoVectorLength: 10})
	plan := r.Route("short", MethodAuto, 10, nil)
	assert.Equal(t, 5, plan.Steps[0].K)
	assert.Equal(t, 5, plan.Steps[1].K)
	assert.Equal(t, 1, plan.Steps[2].K)

	assert.Equal(t, MethodVector, r.Route("eleven char", MethodAuto, 10, nil).Method)
}
