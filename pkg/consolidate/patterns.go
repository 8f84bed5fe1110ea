package consolidate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/optiflow-ai/consolidation/internal/util"
	"github.com/optiflow-ai/consolidation/pkg/common"
)

// severityWeights orders categorical severity and impact scales for
// pattern prioritization.
var severityWeights = map[string]float64{
	"low":      0.25,
	"medium":   0.5,
	"high":     0.75,
	"critical": 1.0,
}

// PatternRecognizer detects recurring issues and problematic systems
// across consolidated entities and flags their members.
type PatternRecognizer struct {
	cfg     Config
	scorer  *Scorer
	metrics *Metrics
}

func NewPatternRecognizer(cfg Config, scorer *Scorer, metrics *Metrics) *PatternRecognizer {
	return &PatternRecognizer{cfg: cfg.normalize(), scorer: scorer, metrics: metrics}
}

// Recognize recomputes the full pattern set for entities and marks
// every pattern member with IsPattern. Like relationship discovery the
// output replaces the previous set wholesale.
func (p *PatternRecognizer) Recognize(entities []*common.ConsolidatedEntity) []common.Pattern {
	for _, entity := range entities {
		entity.IsPattern = false
	}

	patterns := p.recurringIssues(entities)
	patterns = append(patterns, p.problematicSystems(entities)...)

	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].PriorityScore != patterns[j].PriorityScore {
			return patterns[i].PriorityScore > patterns[j].PriorityScore
		}
		return patterns[i].Description < patterns[j].Description
	})
	return patterns
}

// recurringIssues groups pain points by name similarity and promotes
// groups reported often enough to a pattern.
func (p *PatternRecognizer) recurringIssues(entities []*common.ConsolidatedEntity) []common.Pattern {
	painPoints := make([]*common.ConsolidatedEntity, 0)
	for _, entity := range entities {
		if entity.Type == common.TypePainPoint {
			painPoints = append(painPoints, entity)
		}
	}

	// greedy single-pass grouping: each pain point joins the first
	// group whose seed it resembles
	type group struct {
		seed    *common.ConsolidatedEntity
		members []*common.ConsolidatedEntity
	}
	var groups []*group
	for _, pp := range painPoints {
		placed := false
		for _, g := range groups {
			if p.scorer.NameScore(g.seed.CanonicalName, pp.CanonicalName, common.TypePainPoint) >= p.cfg.PatternSimilarityThreshold {
				g.members = append(g.members, pp)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, &group{seed: pp, members: []*common.ConsolidatedEntity{pp}})
		}
	}

	var patterns []common.Pattern
	for _, g := range groups {
		support := 0
		sources := make(map[string]bool)
		for _, member := range g.members {
			for _, src := range member.SourceIDs {
				sources[src] = true
			}
		}
		support = len(sources)
		if support < p.cfg.RecurringThreshold {
			continue
		}

		ids := make([]string, 0, len(g.members))
		contexts := make(map[string]bool)
		var severitySum float64
		var severityCount int
		for _, member := range g.members {
			member.IsPattern = true
			ids = append(ids, member.ID)
			for _, octx := range member.OrgContexts {
				contexts[octx.Key()] = true
			}
			if sev, ok := common.FindAttribute(member.Attributes, "severity"); ok {
				if w, known := severityWeights[strings.ToLower(strings.TrimSpace(sev.Text))]; known {
					severitySum += w
					severityCount++
				}
			}
		}
		sort.Strings(ids)

		avgSeverity := 0.5
		if severityCount > 0 {
			avgSeverity = severitySum / float64(severityCount)
		}

		patterns = append(patterns, common.Pattern{
			ID:            util.NewID(),
			Type:          "recurring_issue",
			Description:   fmt.Sprintf("%q reported by %d sources", g.seed.CanonicalName, support),
			EntityIDs:     ids,
			SupportCount:  support,
			PriorityScore: priorityScore(support, avgSeverity, len(contexts)),
			RecommendedAction: fmt.Sprintf(
				"Investigate the shared root cause behind %q across the affected teams", g.seed.CanonicalName),
		})
		if p.metrics != nil {
			p.metrics.PatternDetected(common.TypePainPoint)
		}
	}
	return patterns
}

// problematicSystems flags any system entity mentioned by enough
// independent sources to suggest a systemic hot spot.
func (p *PatternRecognizer) problematicSystems(entities []*common.ConsolidatedEntity) []common.Pattern {
	var patterns []common.Pattern
	for _, entity := range entities {
		if entity.Type != common.TypeSystem || entity.SourceCount() < p.cfg.ProblematicSystemThreshold {
			continue
		}
		entity.IsPattern = true

		contexts := make(map[string]bool)
		for _, octx := range entity.OrgContexts {
			contexts[octx.Key()] = true
		}

		impact := 0.5
		if v, ok := common.FindAttribute(entity.Attributes, "criticality"); ok {
			if w, known := severityWeights[strings.ToLower(strings.TrimSpace(v.Text))]; known {
				impact = w
			}
		}

		patterns = append(patterns, common.Pattern{
			ID:            util.NewID(),
			Type:          "problematic_system",
			Description:   fmt.Sprintf("System %q surfaced by %d sources", entity.CanonicalName, entity.SourceCount()),
			EntityIDs:     []string{entity.ID},
			SupportCount:  entity.SourceCount(),
			PriorityScore: priorityScore(entity.SourceCount(), impact, len(contexts)),
			RecommendedAction: fmt.Sprintf(
				"Review %q for consolidation or replacement; it keeps appearing across sources", entity.CanonicalName),
		})
		if p.metrics != nil {
			p.metrics.PatternDetected(common.TypeSystem)
		}
	}
	return patterns
}

// priorityScore blends how often a pattern was reported, how severe its
// members are, and how widely it spreads across the organization.
func priorityScore(support int, impact float64, contextBreadth int) float64 {
	supportTerm := min(float64(support)/10.0, 1.0)
	breadthTerm := min(float64(contextBreadth)/5.0, 1.0)
	return clamp(0.5*supportTerm+0.3*impact+0.2*breadthTerm, 0, 1)
}
