package consolidate

import (
	"sort"

	"github.com/optiflow-ai/consolidation/internal/util"
	"github.com/optiflow-ai/consolidation/pkg/common"
)

// relationshipRules maps ordered entity type pairs to the relationship
// type implied when entities of those types co-occur in a source.
var relationshipRules = map[[2]common.EntityType]common.RelationshipType{
	{common.TypePainPoint, common.TypeSystem}:              common.RelSharedIssue,
	{common.TypePainPoint, common.TypeProcess}:             common.RelSharedIssue,
	{common.TypePainPoint, common.TypeDepartment}:          common.RelSharedIssue,
	{common.TypeDepartment, common.TypeDepartment}:         common.RelCoordination,
	{common.TypeProcess, common.TypeSystem}:                common.RelDependency,
	{common.TypeProcess, common.TypeTool}:                  common.RelDependency,
	{common.TypeProcess, common.TypeDataSource}:            common.RelDependency,
	{common.TypeSystem, common.TypeIntegration}:            common.RelDependency,
	{common.TypeAutomationCandidate, common.TypeProcess}:   common.RelCrossReference,
	{common.TypeAutomationCandidate, common.TypePainPoint}: common.RelCrossReference,
	{common.TypeKPI, common.TypeProcess}:                   common.RelCrossReference,
	{common.TypeRisk, common.TypeComplianceRequirement}:    common.RelCrossReference,
	{common.TypeCostDriver, common.TypeProcess}:            common.RelCrossReference,
	{common.TypeOpportunity, common.TypePainPoint}:         common.RelCrossReference,
	{common.TypeDocumentFlow, common.TypeDepartment}:       common.RelCrossReference,
	{common.TypeStakeholder, common.TypeDecisionPoint}:     common.RelCoordination,
	{common.TypeRole, common.TypeDepartment}:               common.RelCoordination,
}

// RelationshipDiscoverer infers entity relationships from source
// co-occurrence: two entities extracted from the same source and of
// semantically linked types are evidence of an association. A
// relationship is validated only when at least two independent sources
// provide that evidence.
type RelationshipDiscoverer struct {
	cfg     Config
	metrics *Metrics
}

func NewRelationshipDiscoverer(cfg Config, metrics *Metrics) *RelationshipDiscoverer {
	return &RelationshipDiscoverer{cfg: cfg.normalize(), metrics: metrics}
}

// Discover recomputes the full relationship set for entities. The
// result is deterministic for a given entity set, so running discovery
// again after new merges replaces stale edges instead of stacking
// duplicates.
func (r *RelationshipDiscoverer) Discover(entities []*common.ConsolidatedEntity) []common.Relationship {
	bySource := make(map[string][]*common.ConsolidatedEntity)
	for _, entity := range entities {
		for _, src := range entity.SourceIDs {
			bySource[src] = append(bySource[src], entity)
		}
	}

	type edge struct {
		relType common.RelationshipType
		sources map[string]bool
	}
	edges := make(map[[2]string]*edge)

	for src, group := range bySource {
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				a, b := group[i], group[j]
				relType, fromID, toID, ok := ruleFor(a, b)
				if !ok {
					continue
				}
				key := [2]string{fromID, toID}
				e, exists := edges[key]
				if !exists {
					e = &edge{relType: relType, sources: make(map[string]bool)}
					edges[key] = e
				}
				e.sources[src] = true
			}
		}
	}

	// alternatives per entity spread unvalidated confidence thin: an
	// entity tied to many others by single sources supports each tie
	// weakly
	unvalidatedDegree := make(map[string]int)
	for key, e := range edges {
		if len(e.sources) < 2 {
			unvalidatedDegree[key[0]]++
			unvalidatedDegree[key[1]]++
		}
	}

	out := make([]common.Relationship, 0, len(edges))
	for key, e := range edges {
		validated := len(e.sources) >= 2
		confidence := 1.0
		if !validated {
			alternatives := max(unvalidatedDegree[key[0]], unvalidatedDegree[key[1]])
			confidence = 1.0 / float64(max(1, alternatives))
		}

		sources := make([]string, 0, len(e.sources))
		for src := range e.sources {
			sources = append(sources, src)
		}
		sort.Strings(sources)

		out = append(out, common.Relationship{
			ID:         util.NewID(),
			Type:       e.relType,
			FromID:     key[0],
			ToID:       key[1],
			SourceIDs:  sources,
			Validated:  validated,
			Confidence: confidence,
		})
		if r.metrics != nil {
			r.metrics.RelationshipDiscovered(validated)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].FromID != out[j].FromID {
			return out[i].FromID < out[j].FromID
		}
		return out[i].ToID < out[j].ToID
	})
	return out
}

// ruleFor resolves the relationship type for a pair of entities,
// normalizing direction so each unordered pair maps to one stable edge.
func ruleFor(a, b *common.ConsolidatedEntity) (common.RelationshipType, string, string, bool) {
	if a.ID == b.ID {
		return "", "", "", false
	}
	// same-type edges order by ID so (a,b) and (b,a) collapse into one
	if a.Type == b.Type {
		if relType, ok := relationshipRules[[2]common.EntityType{a.Type, a.Type}]; ok {
			from, to := a.ID, b.ID
			if to < from {
				from, to = to, from
			}
			return relType, from, to, true
		}
		return "", "", "", false
	}
	if relType, ok := relationshipRules[[2]common.EntityType{a.Type, b.Type}]; ok {
		return relType, a.ID, b.ID, true
	}
	if relType, ok := relationshipRules[[2]common.EntityType{b.Type, a.Type}]; ok {
		return relType, b.ID, a.ID, true
	}
	return "", "", "", false
}
