package search

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/adalundhe/recall/core/memory"
)

// =============================================================================
// Method
// =============================================================================

// Method is the caller's routing hint.
type Method string

const (
	MethodAuto   Method = "auto"
	MethodText   Method = "text"
	MethodVector Method = "vector"
	MethodGraph  Method = "graph"
	MethodHybrid Method = "hybrid"
)

func ValidMethods() []Method {
	return []Method{MethodAuto, MethodText, MethodVector, MethodGraph, MethodHybrid}
}

func (m Method) String() string {
	return string(m)
}

// ParseMethod maps the empty string to MethodAuto.
func ParseMethod(value string) (Method, bool) {
	switch m := Method(strings.ToLower(strings.TrimSpace(value))); m {
	case "":
		return MethodAuto, true
	case MethodAuto, MethodText, MethodVector, MethodGraph, MethodHybrid:
		return m, true
	default:
		return MethodAuto, false
	}
}

// =============================================================================
// Plan
// =============================================================================

// PlanStep is one backend call. Threshold only matters for the vector
// backend.
type PlanStep struct {
	Backend   memory.Backend
	K         int
	Threshold float64
}

// Plan lists backend calls in vector, text, graph order. Method is the
// resolved method, never MethodAuto.
type Plan struct {
	Method    Method
	Steps     []PlanStep
	Limit     int
	Threshold float64
}

// Step returns the step for b, if planned.
func (p Plan) Step(b memory.Backend) (PlanStep, bool) {
	for _, s := range p.Steps {
		if s.Backend == b {
			return s, true
		}
	}
	return PlanStep{}, false
}

func (p Plan) Backends() []memory.Backend {
	out := make([]memory.Backend, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Backend
	}
	return out
}

// =============================================================================
// Router
// =============================================================================

type RouterConfig struct {
	VectorShare float64
	TextShare   float64
	GraphShare  float64
	// AutoVectorLength is the rune count above which auto routing goes
	// vector-only.
	AutoVectorLength int
	DefaultLimit     int
	DefaultThreshold float64
}

func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		VectorShare:      0.6,
		TextShare:        0.3,
		GraphShare:       0.1,
		AutoVectorLength: 50,
		DefaultLimit:     20,
		DefaultThreshold: 0.5,
	}
}

// Router turns a query and method hint into a Plan. It does no I/O.
type Router struct {
	config RouterConfig
}

func NewRouter(config RouterConfig) *Router {
	def := DefaultRouterConfig()
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = def.DefaultLimit
	}
	if config.AutoVectorLength <= 0 {
		config.AutoVectorLength = def.AutoVectorLength
	}
	if config.VectorShare <= 0 && config.TextShare <= 0 && config.GraphShare <= 0 {
		config.VectorShare, config.TextShare, config.GraphShare = def.VectorShare, def.TextShare, def.GraphShare
	}
	return &Router{config: config}
}

func (r *Router) Config() RouterConfig {
	return r.config
}

// Route builds the plan. A limit <= 0 and a nil threshold take the
// configured defaults; an unknown method is treated as auto.
func (r *Router) Route(query string, method Method, limit int, threshold *float64) Plan {
	if limit <= 0 {
		limit = r.config.DefaultLimit
	}
	th := r.config.DefaultThreshold
	if threshold != nil {
		th = *threshold
	}

	resolved := r.resolve(query, method)
	plan := Plan{Method: resolved, Limit: limit, Threshold: th}

	switch resolved {
	case MethodText:
		plan.Steps = []PlanStep{{Backend: memory.BackendText, K: limit}}
	case MethodVector:
		plan.Steps = []PlanStep{{Backend: memory.BackendVector, K: limit, Threshold: th}}
	case MethodGraph:
		plan.Steps = []PlanStep{{Backend: memory.BackendGraph, K: limit}}
	default:
		plan.Steps = []PlanStep{
			{Backend: memory.BackendVector, K: share(limit, r.config.VectorShare), Threshold: th},
			{Backend: memory.BackendText, K: share(limit, r.config.TextShare)},
			{Backend: memory.BackendGraph, K: share(limit, r.config.GraphShare)},
		}
	}
	return plan
}

func (r *Router) resolve(query string, method Method) Method {
	switch method {
	case MethodText, MethodVector, MethodGraph, MethodHybrid:
		return method
	}
	if utf8.RuneCountInString(strings.TrimSpace(query)) > r.config.AutoVectorLength {
		return MethodVector
	}
	return MethodHybrid
}

// share is ceil(limit*fraction), at least 1. The epsilon keeps float error
// from pushing exact products up a whole unit.
func share(limit int, fraction float64) int {
	k := int(math.Ceil(float64(limit)*fraction - 1e-9))
	return max(k, 1)
}
