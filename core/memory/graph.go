package memory

import (
	"slices"
	"strings"
)

// =============================================================================
// Entity Types
// =============================================================================

// EntityType classifies an extracted entity.
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityProject      EntityType = "project"
	EntityTechnology   EntityType = "technology"
	EntityConcept      EntityType = "concept"
	EntityOrganization EntityType = "organization"
	EntityTool         EntityType = "tool"
	EntityOther        EntityType = "other"
)

// ValidEntityTypes returns all valid EntityType values.
func ValidEntityTypes() []EntityType {
	return []EntityType{
		EntityPerson,
		EntityProject,
		EntityTechnology,
		EntityConcept,
		EntityOrganization,
		EntityTool,
		EntityOther,
	}
}

func (t EntityType) IsValid() bool {
	return slices.Contains(ValidEntityTypes(), t)
}

func (t EntityType) String() string {
	return string(t)
}

// ParseEntityType maps unknown values to EntityOther.
func ParseEntityType(value string) EntityType {
	t := EntityType(strings.ToLower(strings.TrimSpace(value)))
	if !t.IsValid() {
		return EntityOther
	}
	return t
}

// =============================================================================
// Relationship Types
// =============================================================================

// RelationType names the kind of edge between two entities.
type RelationType string

const (
	RelationUses      RelationType = "uses"
	RelationWorksOn   RelationType = "works_on"
	RelationDependsOn RelationType = "depends_on"
	RelationRelatedTo RelationType = "related_to"
	RelationPartOf    RelationType = "part_of"
	RelationMentions  RelationType = "mentions"
)

func ValidRelationTypes() []RelationType {
	return []RelationType{
		RelationUses,
		RelationWorksOn,
		RelationDependsOn,
		RelationRelatedTo,
		RelationPartOf,
		RelationMentions,
	}
}

func (t RelationType) IsValid() bool {
	return slices.Contains(ValidRelationTypes(), t)
}

func (t RelationType) String() string {
	return string(t)
}

// ParseRelationType maps unknown values to RelationRelatedTo.
func ParseRelationType(value string) RelationType {
	t := RelationType(strings.ToLower(strings.TrimSpace(value)))
	if !t.IsValid() {
		return RelationRelatedTo
	}
	return t
}

// =============================================================================
// Entity / Relationship
// =============================================================================

// Entity is a named concept referenced by one or more records. MemoryIDs is a
// back-reference set; entities outlive the records that mention them.
type Entity struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Type       EntityType `json:"type"`
	Confidence float64    `json:"confidence"`
	MemoryIDs  []string   `json:"memory_ids"`
}

// HasMemory reports whether the entity references the record id.
func (e Entity) HasMemory(id string) bool {
	return slices.Contains(e.MemoryIDs, id)
}

// Relationship is a directed edge between two entities.
type Relationship struct {
	ID           string       `json:"id"`
	FromEntityID string       `json:"from_entity_id"`
	ToEntityID   string       `json:"to_entity_id"`
	Type         RelationType `json:"type"`
	Strength     float64      `json:"strength"`
	Confidence   float64      `json:"confidence"`
}

// Direction selects which edges of an entity to list.
type Direction int

const (
	DirectionOutgoing Direction = iota
	DirectionIncoming
	DirectionBoth
)

func (d Direction) String() string {
	switch d {
	case DirectionOutgoing:
		return "out"
	case DirectionIncoming:
		return "in"
	default:
		return "both"
	}
}

func ParseDirection(value string) (Direction, bool) {
	switch strings.ToLower(value) {
	case "out", "outgoing":
		return DirectionOutgoing, true
	case "in", "incoming":
		return DirectionIncoming, true
	case "both", "":
		return DirectionBoth, true
	default:
		return DirectionBoth, false
	}
}

// Clamp01 bounds v to [0,1].
func Clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
