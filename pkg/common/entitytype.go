package common

// EntityType is the closed set of business entity variants the engine
// consolidates. Adding a type means adding a constant and a typeSpecs
// row; there is no open-ended subclassing.
type EntityType string

const (
	TypePainPoint             EntityType = "pain_point"
	TypeProcess               EntityType = "process"
	TypeSystem                EntityType = "system"
	TypeKPI                   EntityType = "kpi"
	TypeAutomationCandidate   EntityType = "automation_candidate"
	TypeDepartment            EntityType = "department"
	TypeRole                  EntityType = "role"
	TypeStakeholder           EntityType = "stakeholder"
	TypeTool                  EntityType = "tool"
	TypeIntegration           EntityType = "integration"
	TypeDataSource            EntityType = "data_source"
	TypeDecisionPoint         EntityType = "decision_point"
	TypeComplianceRequirement EntityType = "compliance_requirement"
	TypeCostDriver            EntityType = "cost_driver"
	TypeRisk                  EntityType = "risk"
	TypeOpportunity           EntityType = "opportunity"
	TypeDocumentFlow          EntityType = "document_flow"
)

// FieldSpec declares how one named field of an entity type merges.
type FieldSpec struct {
	Name     string
	Kind     ValueKind
	Required bool
}

// TypeSpec carries the per-type consolidation parameters: the inclusive
// duplicate-match threshold, the name/semantic score weights, value
// synonyms expanded during normalization, and the field merge rules.
type TypeSpec struct {
	MatchThreshold float64
	NameWeight     float64
	SemanticWeight float64
	Synonyms       map[string]string
	Fields         []FieldSpec
}

var defaultTypeSpec = TypeSpec{
	MatchThreshold: 0.85,
	NameWeight:     0.7,
	SemanticWeight: 0.3,
	Fields: []FieldSpec{
		{Name: "name", Kind: KindText, Required: true},
		{Name: "description", Kind: KindText},
		{Name: "category", Kind: KindCategorical},
	},
}

// severitySynonyms maps localized or shorthand severity and frequency
// values onto their canonical English forms. Source text itself is
// never translated, only categorical values are normalized for
// comparison.
var severitySynonyms = map[string]string{
	"alta":     "high",
	"media":    "medium",
	"baja":     "low",
	"critica":  "critical",
	"critical": "critical",
	"diario":   "daily",
	"semanal":  "weekly",
	"mensual":  "monthly",
}

var typeSpecs = map[EntityType]TypeSpec{
	TypePainPoint: {
		MatchThreshold: 0.80,
		NameWeight:     0.7,
		SemanticWeight: 0.3,
		Synonyms:       severitySynonyms,
		Fields: []FieldSpec{
			{Name: "name", Kind: KindText, Required: true},
			{Name: "description", Kind: KindText},
			{Name: "severity", Kind: KindCategorical},
			{Name: "frequency", Kind: KindCategorical},
			{Name: "impact_hours_per_week", Kind: KindNumber},
			{Name: "affected_systems", Kind: KindList},
		},
	},
	TypeProcess: {
		MatchThreshold: 0.85,
		NameWeight:     0.7,
		SemanticWeight: 0.3,
		Synonyms:       severitySynonyms,
		Fields: []FieldSpec{
			{Name: "name", Kind: KindText, Required: true},
			{Name: "description", Kind: KindText},
			{Name: "frequency", Kind: KindCategorical},
			{Name: "owner", Kind: KindCategorical},
			{Name: "duration_minutes", Kind: KindNumber},
			{Name: "systems_used", Kind: KindList},
		},
	},
	TypeSystem: {
		MatchThreshold: 0.90,
		NameWeight:     0.8,
		SemanticWeight: 0.2,
		Fields: []FieldSpec{
			{Name: "name", Kind: KindText, Required: true},
			{Name: "description", Kind: KindText},
			{Name: "vendor", Kind: KindCategorical},
			{Name: "criticality", Kind: KindCategorical},
			{Name: "user_count", Kind: KindNumber},
			{Name: "modules", Kind: KindList},
		},
	},
	TypeKPI: {
		MatchThreshold: 0.90,
		NameWeight:     0.7,
		SemanticWeight: 0.3,
		Fields: []FieldSpec{
			{Name: "name", Kind: KindText, Required: true},
			{Name: "description", Kind: KindText},
			{Name: "unit", Kind: KindCategorical},
			{Name: "target_value", Kind: KindNumber},
			{Name: "current_value", Kind: KindNumber},
		},
	},
	TypeAutomationCandidate: {
		MatchThreshold: 0.82,
		NameWeight:     0.6,
		SemanticWeight: 0.4,
		Fields: []FieldSpec{
			{Name: "name", Kind: KindText, Required: true},
			{Name: "description", Kind: KindText},
			{Name: "feasibility", Kind: KindCategorical},
			{Name: "estimated_savings_hours", Kind: KindNumber},
			{Name: "systems_involved", Kind: KindList},
		},
	},
	TypeDepartment:  withThreshold(0.90),
	TypeRole:        withThreshold(0.88),
	TypeStakeholder: withThreshold(0.90),
	TypeTool: {
		MatchThreshold: 0.90,
		NameWeight:     0.8,
		SemanticWeight: 0.2,
		Fields:         defaultTypeSpec.Fields,
	},
	TypeIntegration:           withThreshold(0.85),
	TypeDataSource:            withThreshold(0.87),
	TypeDecisionPoint:         withThreshold(0.82),
	TypeComplianceRequirement: withThreshold(0.85),
	TypeCostDriver:            withThreshold(0.84),
	TypeRisk: {
		MatchThreshold: 0.82,
		NameWeight:     0.7,
		SemanticWeight: 0.3,
		Synonyms:       severitySynonyms,
		Fields: []FieldSpec{
			{Name: "name", Kind: KindText, Required: true},
			{Name: "description", Kind: KindText},
			{Name: "severity", Kind: KindCategorical},
			{Name: "likelihood", Kind: KindCategorical},
		},
	},
	TypeOpportunity:  withThreshold(0.82),
	TypeDocumentFlow: withThreshold(0.85),
}

func withThreshold(t float64) TypeSpec {
	spec := defaultTypeSpec
	spec.MatchThreshold = t
	return spec
}

// SpecFor returns the TypeSpec for t, falling back to the default spec
// for unknown types.
func SpecFor(t EntityType) TypeSpec {
	if spec, ok := typeSpecs[t]; ok {
		return spec
	}
	return defaultTypeSpec
}

// KnownType reports whether t is one of the closed entity-type variants.
func KnownType(t EntityType) bool {
	_, ok := typeSpecs[t]
	return ok
}

// KnownTypes returns all closed entity-type variants in stable order.
func KnownTypes() []EntityType {
	return []EntityType{
		TypePainPoint, TypeProcess, TypeSystem, TypeKPI,
		TypeAutomationCandidate, TypeDepartment, TypeRole, TypeStakeholder,
		TypeTool, TypeIntegration, TypeDataSource, TypeDecisionPoint,
		TypeComplianceRequirement, TypeCostDriver, TypeRisk,
		TypeOpportunity, TypeDocumentFlow,
	}
}

// FieldKindFor resolves the merge kind for a field of entity type t.
// The type table wins; fields outside the table keep the kind carried
// on the value itself.
func FieldKindFor(t EntityType, field string, fallback ValueKind) ValueKind {
	for _, f := range SpecFor(t).Fields {
		if f.Name == field {
			return f.Kind
		}
	}
	return fallback
}

// RequiredFieldsFor returns the required field names for entity type t.
func RequiredFieldsFor(t EntityType) []string {
	var out []string
	for _, f := range SpecFor(t).Fields {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}
