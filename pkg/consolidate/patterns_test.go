package consolidate

import (
	"testing"

	"github.com/optiflow-ai/consolidation/pkg/common"
)

func newRecognizer(metrics *Metrics) *PatternRecognizer {
	cfg := DefaultConfig()
	return NewPatternRecognizer(cfg, NewScorer(cfg, metrics), metrics)
}

func painPoint(id, name string, severity string, sources ...string) *common.ConsolidatedEntity {
	entity := &common.ConsolidatedEntity{
		ID:            id,
		Type:          common.TypePainPoint,
		CanonicalName: name,
		SourceIDs:     sources,
		OrgContexts:   []common.OrgContext{{Department: "finance"}},
	}
	if severity != "" {
		entity.Attributes = common.SetAttribute(entity.Attributes, "severity", common.CategoricalValue(severity))
	}
	return entity
}

func TestRecognizeRecurringIssueThreshold(t *testing.T) {
	recognizer := newRecognizer(nil)

	tests := []struct {
		name    string
		sources [][]string
		want    int
	}{
		{"three distinct sources", [][]string{{"a"}, {"b"}, {"c"}}, 1},
		{"two distinct sources", [][]string{{"a"}, {"b"}}, 0},
		{"three mentions one source", [][]string{{"a"}, {"a"}, {"a"}}, 0},
		{"support counted across members", [][]string{{"a", "b"}, {"c"}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var entities []*common.ConsolidatedEntity
			for i, src := range tt.sources {
				entities = append(entities, painPoint(
					"pp-"+string(rune('1'+i)), "Manual invoice rework", "high", src...))
			}

			patterns := recognizer.Recognize(entities)
			if len(patterns) != tt.want {
				t.Fatalf("patterns = %d, want %d", len(patterns), tt.want)
			}
			if tt.want == 1 {
				if patterns[0].Type != "recurring_issue" {
					t.Errorf("type = %q", patterns[0].Type)
				}
				for _, entity := range entities {
					if !entity.IsPattern {
						t.Errorf("%s not flagged as pattern member", entity.ID)
					}
				}
			}
		})
	}
}

func TestRecognizeGroupsSimilarNames(t *testing.T) {
	recognizer := newRecognizer(nil)

	entities := []*common.ConsolidatedEntity{
		painPoint("pp-1", "Manual invoice rework", "high", "a"),
		painPoint("pp-2", "Manual invoice rework effort", "medium", "b"),
		painPoint("pp-3", "Manual invoice rework steps", "high", "c"),
		painPoint("pp-4", "Slow quarterly forecasting", "low", "d"),
	}

	patterns := recognizer.Recognize(entities)
	if len(patterns) != 1 {
		t.Fatalf("patterns = %d, want 1", len(patterns))
	}
	p := patterns[0]
	if p.SupportCount != 3 {
		t.Errorf("support = %d, want 3", p.SupportCount)
	}
	if len(p.EntityIDs) != 3 {
		t.Errorf("members = %v", p.EntityIDs)
	}
	if entities[3].IsPattern {
		t.Error("unrelated pain point flagged as pattern member")
	}
}

func TestRecognizeProblematicSystem(t *testing.T) {
	recognizer := newRecognizer(nil)

	system := func(id string, criticality string, sourceCount int) *common.ConsolidatedEntity {
		sources := make([]string, sourceCount)
		for i := range sources {
			sources[i] = "src-" + string(rune('a'+i))
		}
		entity := &common.ConsolidatedEntity{
			ID:            id,
			Type:          common.TypeSystem,
			CanonicalName: id,
			SourceIDs:     sources,
		}
		if criticality != "" {
			entity.Attributes = common.SetAttribute(entity.Attributes, "criticality",
				common.CategoricalValue(criticality))
		}
		return entity
	}

	entities := []*common.ConsolidatedEntity{
		system("legacy-erp", "critical", 6),
		system("ticketing", "low", 4),
	}

	patterns := recognizer.Recognize(entities)
	if len(patterns) != 1 {
		t.Fatalf("patterns = %d, want 1", len(patterns))
	}
	p := patterns[0]
	if p.Type != "problematic_system" || p.SupportCount != 6 {
		t.Errorf("pattern = %+v", p)
	}
	if !entities[0].IsPattern || entities[1].IsPattern {
		t.Errorf("pattern flags: %v %v", entities[0].IsPattern, entities[1].IsPattern)
	}
}

func TestRecognizeClearsStaleFlags(t *testing.T) {
	recognizer := newRecognizer(nil)

	entity := painPoint("pp-1", "Manual invoice rework", "high", "a")
	entity.IsPattern = true

	if patterns := recognizer.Recognize([]*common.ConsolidatedEntity{entity}); len(patterns) != 0 {
		t.Fatalf("patterns = %d, want 0", len(patterns))
	}
	if entity.IsPattern {
		t.Error("stale pattern flag not cleared")
	}
}

func TestRecognizeOrdersByPriority(t *testing.T) {
	recognizer := newRecognizer(nil)

	entities := []*common.ConsolidatedEntity{
		painPoint("pp-1", "Duplicate data entry", "low", "a"),
		painPoint("pp-2", "Duplicate data entry", "low", "b"),
		painPoint("pp-3", "Duplicate data entry", "low", "c"),
		painPoint("pp-4", "Month end close chaos", "critical", "a"),
		painPoint("pp-5", "Month end close chaos", "critical", "b"),
		painPoint("pp-6", "Month end close chaos", "critical", "c"),
		painPoint("pp-7", "Month end close chaos", "critical", "d"),
	}

	patterns := recognizer.Recognize(entities)
	if len(patterns) != 2 {
		t.Fatalf("patterns = %d, want 2", len(patterns))
	}
	if patterns[0].PriorityScore < patterns[1].PriorityScore {
		t.Errorf("patterns not ordered by priority: %f before %f",
			patterns[0].PriorityScore, patterns[1].PriorityScore)
	}
	if patterns[0].SupportCount != 4 {
		t.Errorf("highest-priority pattern support = %d, want 4", patterns[0].SupportCount)
	}
}
