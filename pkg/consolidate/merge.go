package consolidate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/optiflow-ai/consolidation/internal/util"
	"github.com/optiflow-ai/consolidation/pkg/common"
)

// Merger folds raw entities into consolidated ones according to the
// per-type merge rules: list fields union with exact-value dedup,
// numeric fields recompute a simple mean from all contributions, text
// fields concatenate with source attribution, categorical fields keep
// the majority value.
type Merger struct {
	cfg           Config
	contradiction *ContradictionDetector
}

// NewMerger creates a Merger. The contradiction detector may be nil,
// disabling contradiction checks (used by some tests).
func NewMerger(cfg Config, contradiction *ContradictionDetector) *Merger {
	return &Merger{cfg: cfg.normalize(), contradiction: contradiction}
}

// Merge applies raw into target and returns the detected contradictions.
// When target is nil a new consolidated entity is created seeded from
// raw with a source count of 1.
//
// Merge mutates target in place; callers wanting pre-merge state must
// snapshot before calling (the transaction layer does).
func (m *Merger) Merge(
	ctx context.Context,
	raw common.RawEntity,
	target *common.ConsolidatedEntity,
) (*common.ConsolidatedEntity, []common.Contradiction, error) {
	now := time.Now().UTC()

	if target == nil {
		return m.create(raw, now), nil, nil
	}
	if target.Type != raw.Type {
		return nil, nil, fmt.Errorf("cannot merge %s record into %s entity %s", raw.Type, target.Type, target.ID)
	}

	if target.Contributions == nil {
		target.Contributions = make(common.Contributions)
	}

	var contradictions []common.Contradiction
	for _, attr := range raw.Attributes {
		if attr.Name == "name" {
			// canonical name is fixed at creation; later spellings
			// survive as aliases
			m.addAlias(target, attr.Value.Text)
			continue
		}

		kind := common.FieldKindFor(raw.Type, attr.Name, attr.Value.Kind)

		if m.contradiction != nil {
			if c := m.contradiction.Detect(ctx, target, attr.Name, kind, attr.Value, raw.SourceID); c != nil {
				contradictions = append(contradictions, *c)
			}
		}

		target.Contributions.Add(attr.Name, raw.SourceID, attr.Value)
		m.recomputeField(target, attr.Name, kind)
	}

	// the same source can never inflate source_count
	if !target.HasSource(raw.SourceID) {
		target.SourceIDs = append(target.SourceIDs, raw.SourceID)
	}
	m.addOrgContext(target, raw.OrgContext)

	if len(contradictions) > 0 {
		target.HasContradictions = true
	}
	target.UpdatedAt = now

	return target, contradictions, nil
}

func (m *Merger) create(raw common.RawEntity, now time.Time) *common.ConsolidatedEntity {
	entity := &common.ConsolidatedEntity{
		ID:            util.NewID(),
		Type:          raw.Type,
		CanonicalName: raw.Name(),
		Contributions: make(common.Contributions),
		SourceIDs:     []string{raw.SourceID},
		OrgContexts:   []common.OrgContext{raw.OrgContext},
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	for _, attr := range raw.Attributes {
		if attr.Name == "name" {
			continue
		}
		kind := common.FieldKindFor(raw.Type, attr.Name, attr.Value.Kind)
		entity.Contributions.Add(attr.Name, raw.SourceID, attr.Value)
		m.recomputeField(entity, attr.Name, kind)
	}
	return entity
}

// recomputeField rebuilds the merged value for one field from scratch
// out of all recorded contributions. Recomputing instead of updating
// incrementally keeps numeric means exact across any merge order.
func (m *Merger) recomputeField(entity *common.ConsolidatedEntity, field string, kind common.ValueKind) {
	contribs := entity.Contributions[field]
	if len(contribs) == 0 {
		return
	}

	switch kind {
	case common.KindNumber:
		var sum float64
		var n int
		for _, v := range contribs {
			if v.Kind == common.KindNumber {
				sum += v.Number
				n++
			}
		}
		if n > 0 {
			entity.Attributes = common.SetAttribute(entity.Attributes, field, common.NumberValue(sum/float64(n)))
		}

	case common.KindList:
		existing, _ := common.FindAttribute(entity.Attributes, field)
		merged := append([]string(nil), existing.List...)
		seen := make(map[string]bool, len(merged))
		for _, item := range merged {
			seen[item] = true
		}
		for _, src := range entity.Contributions.SortedSources(field) {
			for _, item := range contribs[src].List {
				if !seen[item] {
					seen[item] = true
					merged = append(merged, item)
				}
			}
		}
		entity.Attributes = common.SetAttribute(entity.Attributes, field, common.ListValue(merged...))

	case common.KindCategorical:
		majority := majorityValue(contribs, entity.Type)
		entity.Attributes = common.SetAttribute(entity.Attributes, field, common.CategoricalValue(majority))

	default: // free text: concatenated with per-source attribution
		var parts []string
		for _, src := range contributionOrder(entity, field) {
			text := strings.TrimSpace(contribs[src].Text)
			if text == "" {
				continue
			}
			parts = append(parts, fmt.Sprintf("[%s] %s", src, text))
		}
		entity.Attributes = common.SetAttribute(entity.Attributes, field, common.TextValue(strings.Join(parts, "\n\n")))
	}
}

// contributionOrder yields the sources contributing to field in source
// arrival order, so concatenated text stays stable across merges.
func contributionOrder(entity *common.ConsolidatedEntity, field string) []string {
	contribs := entity.Contributions[field]
	out := make([]string, 0, len(contribs))
	seen := make(map[string]bool, len(contribs))
	for _, src := range entity.SourceIDs {
		if _, ok := contribs[src]; ok {
			out = append(out, src)
			seen[src] = true
		}
	}
	// contributions from a source not yet appended to SourceIDs (the
	// in-flight merge) come last
	rest := make([]string, 0)
	for src := range contribs {
		if !seen[src] {
			rest = append(rest, src)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// majorityValue returns the most frequent normalized categorical value.
// Ties break toward the lexicographically smallest value so the result
// is independent of merge order.
func majorityValue(contribs map[string]common.Value, entityType common.EntityType) string {
	spec := common.SpecFor(entityType)
	counts := make(map[string]int)
	display := make(map[string]string)
	for _, v := range contribs {
		norm := NormalizeName(v.Text, spec.Synonyms)
		if norm == "" {
			continue
		}
		counts[norm]++
		if _, ok := display[norm]; !ok || v.Text < display[norm] {
			display[norm] = v.Text
		}
	}

	best := ""
	bestCount := 0
	for norm, count := range counts {
		if count > bestCount || (count == bestCount && norm < best) {
			best = norm
			bestCount = count
		}
	}
	return display[best]
}

func (m *Merger) addAlias(entity *common.ConsolidatedEntity, name string) {
	if name == "" || name == entity.CanonicalName {
		return
	}
	aliases, _ := common.FindAttribute(entity.Attributes, "aliases")
	for _, a := range aliases.List {
		if a == name {
			return
		}
	}
	entity.Attributes = common.SetAttribute(entity.Attributes, "aliases",
		common.ListValue(append(aliases.List, name)...))
}

func (m *Merger) addOrgContext(entity *common.ConsolidatedEntity, octx common.OrgContext) {
	if octx == (common.OrgContext{}) {
		return
	}
	for _, existing := range entity.OrgContexts {
		if existing == octx {
			return
		}
	}
	entity.OrgContexts = append(entity.OrgContexts, octx)
}
