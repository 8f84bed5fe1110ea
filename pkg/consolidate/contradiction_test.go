package consolidate

import (
	"context"
	"testing"
	"time"

	"github.com/optiflow-ai/consolidation/pkg/common"
)

func seededEntity(t *testing.T, entityType common.EntityType, attrs ...common.Attribute) *common.ConsolidatedEntity {
	t.Helper()
	merger := NewMerger(DefaultConfig(), nil)
	entity, _, err := merger.Merge(context.Background(), common.RawEntity{
		Type:     entityType,
		SourceID: "seed-src",
		Attributes: append([]common.Attribute{
			{Name: "name", Value: common.TextValue("Seed entity")},
		}, attrs...),
	}, nil)
	if err != nil {
		t.Fatalf("seed merge error = %v", err)
	}
	return entity
}

func TestDetectNumeric(t *testing.T) {
	detector := NewContradictionDetector(DefaultConfig(), nil, nil)

	tests := []struct {
		name     string
		current  float64
		incoming float64
		conflict bool
	}{
		{"identical", 10, 10, false},
		{"within bound", 10, 14, false},
		{"at bound", 10, 15, false},
		{"beyond bound", 10, 16, true},
		{"far apart", 10, 100, true},
		{"zero current treats any value as divergent", 0, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entity := seededEntity(t, common.TypePainPoint,
				common.Attribute{Name: "hours_lost", Value: common.NumberValue(tt.current)})

			c := detector.Detect(context.Background(), entity, "hours_lost",
				common.KindNumber, common.NumberValue(tt.incoming), "src-b")
			if got := c != nil; got != tt.conflict {
				t.Errorf("conflict = %v, want %v", got, tt.conflict)
			}
			if c != nil && c.Severity != common.SeverityNumeric {
				t.Errorf("severity = %v", c.Severity)
			}
		})
	}
}

func TestDetectCategoricalNormalizes(t *testing.T) {
	detector := NewContradictionDetector(DefaultConfig(), nil, nil)

	tests := []struct {
		name     string
		current  string
		incoming string
		conflict bool
	}{
		{"identical", "high", "high", false},
		{"case insensitive", "High", "high", false},
		{"known synonym", "alta", "high", false},
		{"genuine disagreement", "daily", "weekly", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entity := seededEntity(t, common.TypePainPoint,
				common.Attribute{Name: "severity", Value: common.CategoricalValue(tt.current)})

			c := detector.Detect(context.Background(), entity, "severity",
				common.KindCategorical, common.CategoricalValue(tt.incoming), "src-b")
			if got := c != nil; got != tt.conflict {
				t.Errorf("conflict = %v, want %v", got, tt.conflict)
			}
			if c != nil && c.Severity != common.SeverityCategorical {
				t.Errorf("severity = %v", c.Severity)
			}
		})
	}
}

func TestDetectSemantic(t *testing.T) {
	semantic := newFakeSemanticClient(map[string][]float32{
		"approvals are fast":         {1, 0, 0},
		"sign-off happens same day":  {0.98, 0.1, 0},
		"approvals take three weeks": {0, 1, 0},
	})
	detector := NewContradictionDetector(DefaultConfig(), semantic, nil)

	entity := seededEntity(t, common.TypeProcess,
		common.Attribute{Name: "observations", Value: common.TextValue("approvals are fast")})

	if c := detector.Detect(context.Background(), entity, "observations",
		common.KindText, common.TextValue("sign-off happens same day"), "src-b"); c != nil {
		t.Errorf("agreeing texts flagged: %+v", c)
	}

	c := detector.Detect(context.Background(), entity, "observations",
		common.KindText, common.TextValue("approvals take three weeks"), "src-c")
	if c == nil {
		t.Fatal("orthogonal texts not flagged")
	}
	if c.Severity != common.SeveritySemantic {
		t.Errorf("severity = %v", c.Severity)
	}
	if c.SourceA != "seed-src" || c.SourceB != "src-c" {
		t.Errorf("sources = %q vs %q", c.SourceA, c.SourceB)
	}
}

func TestDetectSemanticComparesPerSourceContributions(t *testing.T) {
	// the fake only knows the raw per-source texts; embedding the merged
	// attribution-tagged text would error and degrade instead of flagging
	semantic := newFakeSemanticClient(map[string][]float32{
		"approvals are fast":         {1, 0, 0},
		"sign-off happens same day":  {0.98, 0.1, 0},
		"approvals take three weeks": {0, 1, 0},
	})
	metrics := NewMetrics()
	detector := NewContradictionDetector(DefaultConfig(), semantic, metrics)

	merger := NewMerger(DefaultConfig(), nil)
	entity := seededEntity(t, common.TypeProcess,
		common.Attribute{Name: "observations", Value: common.TextValue("approvals are fast")})
	if _, _, err := merger.Merge(context.Background(), common.RawEntity{
		Type:     common.TypeProcess,
		SourceID: "src-b",
		Attributes: []common.Attribute{
			{Name: "name", Value: common.TextValue("Seed entity")},
			{Name: "observations", Value: common.TextValue("sign-off happens same day")},
		},
	}, entity); err != nil {
		t.Fatalf("merge error = %v", err)
	}

	c := detector.Detect(context.Background(), entity, "observations",
		common.KindText, common.TextValue("approvals take three weeks"), "src-c")
	if c == nil {
		t.Fatal("conflict with an earlier contribution not flagged")
	}
	if c.SourceA != "seed-src" {
		t.Errorf("existing side = %q, want the contributing source", c.SourceA)
	}
	if c.ValueA != "approvals are fast" {
		t.Errorf("existing value = %q, want the raw contribution", c.ValueA)
	}
	if got := metrics.Export().SemanticDegraded; got != 0 {
		t.Errorf("check degraded %d times on known inputs", got)
	}
}

func TestDetectSemanticDegradesOnEmbeddingFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SemanticRetries = 1
	cfg.SemanticBackoff = time.Millisecond

	semantic := newFakeSemanticClient(nil)
	semantic.fail = true
	metrics := NewMetrics()
	detector := NewContradictionDetector(cfg, semantic, metrics)

	entity := seededEntity(t, common.TypeProcess,
		common.Attribute{Name: "observations", Value: common.TextValue("approvals are fast")})

	c := detector.Detect(context.Background(), entity, "observations",
		common.KindText, common.TextValue("approvals take three weeks"), "src-b")
	if c != nil {
		t.Errorf("degraded check produced a finding: %+v", c)
	}
	if got := metrics.Export().SemanticDegraded; got == 0 {
		t.Error("degraded counter not incremented")
	}
}

func TestDetectSkipsListsAndMissingFields(t *testing.T) {
	detector := NewContradictionDetector(DefaultConfig(), nil, nil)
	entity := seededEntity(t, common.TypeSystem,
		common.Attribute{Name: "modules", Value: common.ListValue("FI")})

	if c := detector.Detect(context.Background(), entity, "modules",
		common.KindList, common.ListValue("MM"), "src-b"); c != nil {
		t.Errorf("disjoint lists flagged: %+v", c)
	}
	if c := detector.Detect(context.Background(), entity, "owner",
		common.KindCategorical, common.CategoricalValue("finance"), "src-b"); c != nil {
		t.Errorf("first sighting of a field flagged: %+v", c)
	}
}
