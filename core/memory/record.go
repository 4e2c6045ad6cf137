package memory

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// =============================================================================
// Kind
// =============================================================================

// Kind classifies a record.
type Kind string

const (
	KindNote      Kind = "note"
	KindCode      Kind = "code"
	KindMeeting   Kind = "meeting"
	KindDecision  Kind = "decision"
	KindIdea      Kind = "idea"
	KindReference Kind = "reference"
)

// ValidKinds returns all valid Kind values.
func ValidKinds() []Kind {
	return []Kind{
		KindNote,
		KindCode,
		KindMeeting,
		KindDecision,
		KindIdea,
		KindReference,
	}
}

// IsValid returns true if the kind is a recognized value.
func (k Kind) IsValid() bool {
	return slices.Contains(ValidKinds(), k)
}

func (k Kind) String() string {
	return string(k)
}

func ParseKind(value string) (Kind, bool) {
	kind := Kind(strings.ToLower(strings.TrimSpace(value)))
	if !kind.IsValid() {
		return Kind(""), false
	}
	return kind, true
}

// =============================================================================
// Record
// =============================================================================

// Record is a single captured memory. TextStore owns the authoritative copy.
type Record struct {
	ID         string            `json:"id"`
	Title      string            `json:"title" validate:"required,max=512"`
	Body       string            `json:"body" validate:"max=1048576"`
	Kind       Kind              `json:"kind" validate:"required,record_kind"`
	Tags       []string          `json:"tags,omitempty" validate:"max=64,dive,required,max=64"`
	Attributes map[string]string `json:"attributes,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Text returns the content fed to embedders and extractors.
func (r Record) Text() string {
	if r.Body == "" {
		return r.Title
	}
	return r.Title + "\n\n" + r.Body
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := r
	out.Tags = slices.Clone(r.Tags)
	if r.Attributes != nil {
		out.Attributes = make(map[string]string, len(r.Attributes))
		for k, v := range r.Attributes {
			out.Attributes[k] = v
		}
	}
	return out
}

// Touch sets UpdatedAt to now, never moving it backwards.
func (r *Record) Touch(now time.Time) {
	if now.Before(r.UpdatedAt) {
		return
	}
	r.UpdatedAt = now
}

// NormalizeTags lowercases, trims, dedupes and sorts tags.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	slices.Sort(out)
	return out
}

// =============================================================================
// Patch
// =============================================================================

// Patch holds a partial record update. Nil fields are left unchanged.
type Patch struct {
	Title      *string
	Body       *string
	Kind       *Kind
	Tags       []string
	SetTags    bool
	Attributes map[string]string
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Title == nil && p.Body == nil && p.Kind == nil && !p.SetTags && len(p.Attributes) == 0
}

// Apply merges the patch into a copy of r.
func (p Patch) Apply(r Record) Record {
	out := r.Clone()
	if p.Title != nil {
		out.Title = *p.Title
	}
	if p.Body != nil {
		out.Body = *p.Body
	}
	if p.Kind != nil {
		out.Kind = *p.Kind
	}
	if p.SetTags {
		out.Tags = NormalizeTags(p.Tags)
	}
	if len(p.Attributes) > 0 {
		if out.Attributes == nil {
			out.Attributes = make(map[string]string, len(p.Attributes))
		}
		for k, v := range p.Attributes {
			if v == "" {
				delete(out.Attributes, k)
				continue
			}
			out.Attributes[k] = v
		}
	}
	return out
}

func (r Record) String() string {
	return fmt.Sprintf("%s [%s] %q", r.ID, r.Kind, r.Title)
}
