package common

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// ValueKind describes how an attribute value behaves during a merge.
type ValueKind string

const (
	// KindText values are free text, concatenated with per-source attribution.
	KindText ValueKind = "text"
	// KindCategorical values keep the majority value across sources.
	KindCategorical ValueKind = "categorical"
	// KindNumber values are averaged across all contributing sources.
	KindNumber ValueKind = "number"
	// KindList values are unioned with exact-value deduplication.
	KindList ValueKind = "list"
)

// Value is a typed attribute value. Exactly one of Text, Number or List
// is meaningful, selected by Kind.
type Value struct {
	Kind   ValueKind `json:"kind"`
	Text   string    `json:"text,omitempty"`
	Number float64   `json:"number,omitempty"`
	List   []string  `json:"list,omitempty"`
}

// TextValue returns a free-text Value.
func TextValue(s string) Value { return Value{Kind: KindText, Text: s} }

// CategoricalValue returns a categorical Value.
func CategoricalValue(s string) Value { return Value{Kind: KindCategorical, Text: s} }

// NumberValue returns a numeric Value.
func NumberValue(n float64) Value { return Value{Kind: KindNumber, Number: n} }

// ListValue returns a string-list Value.
func ListValue(items ...string) Value { return Value{Kind: KindList, List: items} }

// Attribute is one named field of an entity. Attributes are kept as an
// ordered slice so merge output is deterministic.
type Attribute struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
}

// FindAttribute returns the value for name and whether it was present.
func FindAttribute(attrs []Attribute, name string) (Value, bool) {
	for _, a := range attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return Value{}, false
}

// SetAttribute replaces the value for name, appending when absent.
// The input slice order is preserved.
func SetAttribute(attrs []Attribute, name string, value Value) []Attribute {
	for i := range attrs {
		if attrs[i].Name == name {
			attrs[i].Value = value
			return attrs
		}
	}
	return append(attrs, Attribute{Name: name, Value: value})
}

// OrgContext identifies where in the organization an entity was observed.
type OrgContext struct {
	Company      string `json:"company,omitempty"`
	BusinessUnit string `json:"business_unit,omitempty"`
	Department   string `json:"department,omitempty"`
}

// Key returns a stable comparable form of the context.
func (o OrgContext) Key() string {
	return o.Company + "|" + o.BusinessUnit + "|" + o.Department
}

// RawEntity is a single extraction result tied to one source document.
// It is immutable once produced; after a successful merge its content
// survives only inside the matched ConsolidatedEntity.
type RawEntity struct {
	Type       EntityType  `json:"entity_type"`
	SourceID   string      `json:"source_id"`
	Attributes []Attribute `json:"attributes"`
	OrgContext OrgContext  `json:"org_context"`
}

// Name returns the entity's name attribute, or "" when missing.
func (r RawEntity) Name() string {
	v, ok := FindAttribute(r.Attributes, "name")
	if !ok {
		return ""
	}
	return v.Text
}

// Checksum returns a content hash over (type, source, attributes) used
// to detect re-submission of an already-merged record.
func (r RawEntity) Checksum() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|", r.Type, r.SourceID)
	for _, a := range r.Attributes {
		fmt.Fprintf(h, "%s=%s:%s:%g:", a.Name, a.Value.Kind, a.Value.Text, a.Value.Number)
		for _, item := range a.Value.List {
			fmt.Fprintf(h, "%s,", item)
		}
		fmt.Fprint(h, ";")
	}
	fmt.Fprint(h, r.OrgContext.Key())
	return hex.EncodeToString(h.Sum(nil))
}

// Contributions records, per field, the value each source contributed.
// Numeric means and categorical majorities are recomputed from this map
// on every merge instead of being tracked incrementally.
type Contributions map[string]map[string]Value

// Add records a contribution from sourceID for field.
func (c Contributions) Add(field, sourceID string, v Value) {
	if c[field] == nil {
		c[field] = make(map[string]Value)
	}
	c[field][sourceID] = v
}

// SortedSources returns the source ids that contributed to field,
// sorted for deterministic iteration.
func (c Contributions) SortedSources(field string) []string {
	ids := make([]string, 0, len(c[field]))
	for id := range c[field] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ConsolidatedEntity is the canonical multi-source record for one
// real-world entity.
//
// Invariants: SourceCount() >= 1 once persisted; Confidence stays in
// [0,1] and is recomputed on every merge; SourceIDs never shrinks
// outside of an explicit rollback.
type ConsolidatedEntity struct {
	ID            string        `json:"id"`
	Type          EntityType    `json:"entity_type"`
	CanonicalName string        `json:"canonical_name"`
	Attributes    []Attribute   `json:"merged_attributes"`
	Contributions Contributions `json:"contributions"`
	SourceIDs     []string      `json:"source_ids"`
	OrgContexts   []OrgContext  `json:"org_contexts"`
	Confidence    float64       `json:"consensus_confidence"`

	HasContradictions bool `json:"has_contradictions"`
	IsPattern         bool `json:"is_pattern"`

	// Embedding caches the vector for the canonical name so candidate
	// scoring does not re-embed existing entities on every batch.
	Embedding []float32 `json:"-"`

	// Version is the optimistic concurrency token maintained by the
	// database store. Not part of the entity document.
	Version int64 `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SourceCount returns the number of distinct contributing sources.
func (e *ConsolidatedEntity) SourceCount() int {
	return len(e.SourceIDs)
}

// HasSource reports whether sourceID already contributed to this entity.
func (e *ConsolidatedEntity) HasSource(sourceID string) bool {
	for _, id := range e.SourceIDs {
		if id == sourceID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. Used for snapshots and for the in-memory
// store so callers cannot mutate shared state.
func (e *ConsolidatedEntity) Clone() *ConsolidatedEntity {
	out := *e
	out.Attributes = make([]Attribute, len(e.Attributes))
	for i, a := range e.Attributes {
		av := a
		av.Value.List = append([]string(nil), a.Value.List...)
		out.Attributes[i] = av
	}
	out.Contributions = make(Contributions, len(e.Contributions))
	for field, bySource := range e.Contributions {
		m := make(map[string]Value, len(bySource))
		for src, v := range bySource {
			vc := v
			vc.List = append([]string(nil), v.List...)
			m[src] = vc
		}
		out.Contributions[field] = m
	}
	out.SourceIDs = append([]string(nil), e.SourceIDs...)
	out.OrgContexts = append([]OrgContext(nil), e.OrgContexts...)
	out.Embedding = append([]float32(nil), e.Embedding...)
	return &out
}

// Marshal serializes the entity for snapshot storage.
func (e *ConsolidatedEntity) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEntity restores an entity from its snapshot form.
func UnmarshalEntity(data []byte) (*ConsolidatedEntity, error) {
	var e ConsolidatedEntity
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// ContradictionSeverity classifies the kind of disagreement.
type ContradictionSeverity string

const (
	SeverityNumeric     ContradictionSeverity = "numeric"
	SeverityCategorical ContradictionSeverity = "categorical"
	SeveritySemantic    ContradictionSeverity = "semantic"
)

// ContradictionStatus tracks the human-driven resolution state.
type ContradictionStatus string

const (
	ContradictionOpen     ContradictionStatus = "open"
	ContradictionResolved ContradictionStatus = "resolved"
)

// Contradiction is a detected disagreement between two sources about one
// attribute of the same entity. Contradictions are additive records and
// are never auto-deleted; resolution is a separate status transition.
type Contradiction struct {
	ID       string                `json:"id"`
	EntityID string                `json:"entity_id"`
	Field    string                `json:"field"`
	ValueA   string                `json:"value_a"`
	ValueB   string                `json:"value_b"`
	SourceA  string                `json:"source_a"`
	SourceB  string                `json:"source_b"`
	Severity ContradictionSeverity `json:"severity"`
	Status   ContradictionStatus   `json:"status"`

	CreatedAt time.Time `json:"created_at"`
}

// RelationshipType names how two consolidated entities are associated.
type RelationshipType string

const (
	RelSharedIssue    RelationshipType = "shared_issue"
	RelCoordination   RelationshipType = "coordination"
	RelDependency     RelationshipType = "dependency"
	RelCrossReference RelationshipType = "cross_reference"
)

// Relationship is a discovered association between two consolidated
// entities. Validated is true only when the pairing was proposed
// independently from at least two distinct sources.
type Relationship struct {
	ID         string           `json:"id"`
	Type       RelationshipType `json:"relationship_type"`
	FromID     string           `json:"entity_id_from"`
	ToID       string           `json:"entity_id_to"`
	SourceIDs  []string         `json:"source_ids"`
	Validated  bool             `json:"validated"`
	Confidence float64          `json:"confidence"`
}

// Pattern is a recurring issue or trend detected across multiple
// consolidated entities.
type Pattern struct {
	ID                string   `json:"id"`
	Type              string   `json:"pattern_type"`
	Description       string   `json:"description"`
	EntityIDs         []string `json:"entity_ids"`
	SupportCount      int      `json:"support_count"`
	PriorityScore     float64  `json:"priority_score"`
	RecommendedAction string   `json:"recommended_action,omitempty"`
}

// Snapshot is the durable pre-mutation state of one entity, captured
// before a consolidation transaction commits. Existed is false when the
// entity did not exist before the transaction (a create).
type Snapshot struct {
	AuditID   string    `json:"audit_id"`
	EntityID  string    `json:"entity_id"`
	Existed   bool      `json:"existed"`
	State     []byte    `json:"pre_merge_state,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditOperation names what a consolidation transaction did.
type AuditOperation string

const (
	OpMerge    AuditOperation = "merge"
	OpCreate   AuditOperation = "create"
	OpRollback AuditOperation = "rollback"
)

// AuditRecord groups all snapshots and mutations belonging to one
// consolidation transaction under a single audit id.
type AuditRecord struct {
	AuditID   string         `json:"audit_id"`
	Operation AuditOperation `json:"operation"`
	EntityIDs []string       `json:"entity_ids_affected"`
	Timestamp time.Time      `json:"timestamp"`
	Reason    string         `json:"reason,omitempty"`
}
