package memory

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// =============================================================================
// Backend
// =============================================================================

// Backend identifies one of the retrieval subsystems.
type Backend int

const (
	BackendVector Backend = 0
	BackendText   Backend = 1
	BackendGraph  Backend = 2
)

// ValidBackends returns all backends in merge priority order.
func ValidBackends() []Backend {
	return []Backend{
		BackendVector,
		BackendText,
		BackendGraph,
	}
}

func (b Backend) IsValid() bool {
	return slices.Contains(ValidBackends(), b)
}

func (b Backend) String() string {
	switch b {
	case BackendVector:
		return "vector"
	case BackendText:
		return "text"
	case BackendGraph:
		return "graph"
	default:
		return fmt.Sprintf("backend(%d)", b)
	}
}

func ParseBackend(value string) (Backend, bool) {
	switch strings.ToLower(value) {
	case "vector":
		return BackendVector, true
	case "text":
		return BackendText, true
	case "graph":
		return BackendGraph, true
	default:
		return Backend(0), false
	}
}

func (b Backend) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

func (b *Backend) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err != nil {
		return fmt.Errorf("invalid backend: %w", err)
	}
	parsed, ok := ParseBackend(asString)
	if !ok {
		return fmt.Errorf("invalid backend: %s", asString)
	}
	*b = parsed
	return nil
}

// =============================================================================
// SearchHit
// =============================================================================

// GraphContext explains why a graph search surfaced a record.
type GraphContext struct {
	EntityNames []string     `json:"entity_names"`
	EntityTypes []EntityType `json:"entity_types"`
	Path        string       `json:"path"`
}

// Merge folds other into c, skipping entity names already present. The
// path of other is appended once, and only when it adds a name.
func (c *GraphContext) Merge(other GraphContext) {
	added := false
	for i, name := range other.EntityNames {
		if slices.Contains(c.EntityNames, name) {
			continue
		}
		added = true
		c.EntityNames = append(c.EntityNames, name)
		if i < len(other.EntityTypes) {
			c.EntityTypes = append(c.EntityTypes, other.EntityTypes[i])
		}
	}
	if !added || other.Path == "" {
		return
	}
	if c.Path == "" {
		c.Path = other.Path
	} else {
		c.Path += "; " + other.Path
	}
}

// SearchHit is a single ranked search result. Only vector similarity sets a
// comparable score; text and graph hits leave HasScore false.
type SearchHit struct {
	Record       Record        `json:"record"`
	Score        float64       `json:"score"`
	HasScore     bool          `json:"has_score"`
	Origins      []Backend     `json:"origins"`
	GraphContext *GraphContext `json:"graph_context,omitempty"`
}

// AddOrigin records that b surfaced this hit, keeping origins in backend order.
func (h *SearchHit) AddOrigin(b Backend) {
	if slices.Contains(h.Origins, b) {
		return
	}
	h.Origins = append(h.Origins, b)
	slices.Sort(h.Origins)
}

// HasOrigin reports whether b surfaced this hit.
func (h SearchHit) HasOrigin(b Backend) bool {
	return slices.Contains(h.Origins, b)
}

// =============================================================================
// Filters
// =============================================================================

// Filters are backend-native predicates forwarded untouched by the engine.
type Filters struct {
	Kinds   []Kind    `json:"kinds,omitempty"`
	Tags    []string  `json:"tags,omitempty"`
	Project string    `json:"project,omitempty"`
	Since   time.Time `json:"since,omitempty"`
	Until   time.Time `json:"until,omitempty"`
}

// IsZero reports whether no filter is set.
func (f Filters) IsZero() bool {
	return len(f.Kinds) == 0 && len(f.Tags) == 0 && f.Project == "" && f.Since.IsZero() && f.Until.IsZero()
}

// Matches evaluates the filters against record metadata.
func (f Filters) Matches(kind Kind, tags []string, project string, updatedAt time.Time) bool {
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, kind) {
		return false
	}
	for _, tag := range f.Tags {
		if !slices.Contains(tags, tag) {
			return false
		}
	}
	if f.Project != "" && !strings.EqualFold(f.Project, project) {
		return false
	}
	if !f.Since.IsZero() && updatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && updatedAt.After(f.Until) {
		return false
	}
	return true
}

// Key returns a stable string form used in cache keys.
func (f Filters) Key() string {
	if f.IsZero() {
		return ""
	}
	kinds := make([]string, len(f.Kinds))
	for i, k := range f.Kinds {
		kinds[i] = string(k)
	}
	slices.Sort(kinds)
	tags := slices.Clone(f.Tags)
	slices.Sort(tags)
	return fmt.Sprintf("k=%s|t=%s|p=%s|s=%d|u=%d",
		strings.Join(kinds, ","), strings.Join(tags, ","), strings.ToLower(f.Project),
		f.Since.Unix(), f.Until.Unix())
}

// AttrProject is the record attribute used by the project filter.
const AttrProject = "project"
