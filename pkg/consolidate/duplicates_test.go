package consolidate

import (
	"context"
	"testing"

	"github.com/optiflow-ai/consolidation/pkg/common"
)

func existingEntity(entityType common.EntityType, name string, embedding []float32) *common.ConsolidatedEntity {
	return &common.ConsolidatedEntity{
		ID:            "ent-" + name,
		Type:          entityType,
		CanonicalName: name,
		SourceIDs:     []string{"seed"},
		Embedding:     embedding,
	}
}

func TestFindCandidatesExactNameSkipsSemantic(t *testing.T) {
	metrics := NewMetrics()
	semantic := newFakeSemanticClient(map[string][]float32{
		"SAP ERP": {1, 0, 0},
	})
	detector := NewDetector(DefaultConfig(), NewScorer(DefaultConfig(), metrics), semantic, metrics)

	existing := []*common.ConsolidatedEntity{
		existingEntity(common.TypeSystem, "SAP ERP", nil),
	}
	raw := rawRecord(common.TypeSystem, "src-a", "SAP ERP")

	candidates, _ := detector.FindCandidates(context.Background(), raw, existing)
	if len(candidates) != 1 {
		t.Fatalf("candidates = %d, want 1", len(candidates))
	}
	if candidates[0].Score < 0.95 {
		t.Errorf("exact-name score = %f", candidates[0].Score)
	}
}

func TestFindCandidatesPrunesHopelessPairs(t *testing.T) {
	semantic := newFakeSemanticClient(map[string][]float32{
		"SAP ERP": {1, 0, 0},
	})
	detector := NewDetector(DefaultConfig(), NewScorer(DefaultConfig(), nil), semantic, nil)

	// a completely unrelated name cannot clear the threshold even with
	// a perfect semantic score, so no embedding is fetched for it.
	existing := []*common.ConsolidatedEntity{
		existingEntity(common.TypeSystem, "Quarterly payroll review meeting", []float32{0, 1, 0}),
	}
	raw := rawRecord(common.TypeSystem, "src-a", "SAP ERP")

	candidates, _ := detector.FindCandidates(context.Background(), raw, existing)
	if len(candidates) != 0 {
		t.Fatalf("candidates = %d, want 0", len(candidates))
	}
}

func TestFindCandidatesUsesSemanticForAmbiguousNames(t *testing.T) {
	semantic := newFakeSemanticClient(map[string][]float32{
		"Invoice approval": {1, 0, 0},
	})
	detector := NewDetector(DefaultConfig(), NewScorer(DefaultConfig(), nil), semantic, nil)

	sameVector := []float32{1, 0, 0}
	otherVector := []float32{0, 1, 0}
	existing := []*common.ConsolidatedEntity{
		existingEntity(common.TypeProcess, "Invoice approval workflow", sameVector),
		existingEntity(common.TypeProcess, "Invoice approval escalations", otherVector),
	}
	raw := rawRecord(common.TypeProcess, "src-a", "Invoice approval")

	candidates, embedding := detector.FindCandidates(context.Background(), raw, existing)
	if embedding == nil {
		t.Fatal("no embedding returned for the raw entity")
	}
	for _, c := range candidates {
		if c.Entity.CanonicalName == "Invoice approval escalations" {
			t.Errorf("semantically distant entity matched with score %f", c.Score)
		}
	}
}

func TestFindCandidatesIgnoresOtherTypes(t *testing.T) {
	detector := NewDetector(DefaultConfig(), NewScorer(DefaultConfig(), nil), nil, nil)

	existing := []*common.ConsolidatedEntity{
		existingEntity(common.TypeProcess, "SAP ERP", nil),
	}
	raw := rawRecord(common.TypeSystem, "src-a", "SAP ERP")

	candidates, _ := detector.FindCandidates(context.Background(), raw, existing)
	if len(candidates) != 0 {
		t.Errorf("cross-type match: %d candidates", len(candidates))
	}
}

func TestFindCandidatesOrderedAndCapped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCandidates = 2
	detector := NewDetector(cfg, NewScorer(cfg, nil), nil, nil)

	existing := []*common.ConsolidatedEntity{
		existingEntity(common.TypeSystem, "SAP ERP Finance", nil),
		existingEntity(common.TypeSystem, "SAP ERP", nil),
		existingEntity(common.TypeSystem, "SAP ERP Finance Module", nil),
	}
	raw := rawRecord(common.TypeSystem, "src-a", "SAP ERP")

	candidates, _ := detector.FindCandidates(context.Background(), raw, existing)
	if len(candidates) > 2 {
		t.Fatalf("candidates = %d, want at most 2", len(candidates))
	}
	for i := 1; i < len(candidates); i++ {
		if candidates[i].Score > candidates[i-1].Score {
			t.Errorf("candidates not ordered by descending score: %f before %f",
				candidates[i-1].Score, candidates[i].Score)
		}
	}
	if len(candidates) > 0 && candidates[0].Entity.CanonicalName != "SAP ERP" {
		t.Errorf("best match = %q, want exact name", candidates[0].Entity.CanonicalName)
	}
}

func TestFindCandidatesHonorsTypeTunings(t *testing.T) {
	existing := []*common.ConsolidatedEntity{
		existingEntity(common.TypeSystem, "Microsoft Excel", nil),
	}
	raw := rawRecord(common.TypeSystem, "src-a", "Excel")

	tests := []struct {
		name      string
		tunings   map[common.EntityType]TypeTuning
		wantMatch bool
	}{
		{
			name:      "table threshold matches vendor prefix",
			wantMatch: true,
		},
		{
			name: "stricter override rejects it",
			tunings: map[common.EntityType]TypeTuning{
				common.TypeSystem: {MatchThreshold: 0.93},
			},
			wantMatch: false,
		},
		{
			name: "looser override keeps it",
			tunings: map[common.EntityType]TypeTuning{
				common.TypeSystem: {MatchThreshold: 0.85},
			},
			wantMatch: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.TypeTunings = tt.tunings
			detector := NewDetector(cfg, NewScorer(cfg, nil), nil, nil)

			candidates, _ := detector.FindCandidates(context.Background(), raw, existing)
			if got := len(candidates) > 0; got != tt.wantMatch {
				t.Errorf("match = %v, want %v (candidates %+v)", got, tt.wantMatch, candidates)
			}
		})
	}
}

func TestFindCandidatesDegradesWhenEmbeddingsFail(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SemanticRetries = 1
	cfg.SemanticBackoff = 0

	metrics := NewMetrics()
	semantic := newFakeSemanticClient(nil)
	semantic.fail = true
	detector := NewDetector(cfg, NewScorer(cfg, metrics), semantic, metrics)

	existing := []*common.ConsolidatedEntity{
		existingEntity(common.TypeSystem, "SAP ERP", []float32{1, 0, 0}),
		existingEntity(common.TypeSystem, "Oracle Netsuite", []float32{0, 1, 0}),
	}
	raw := rawRecord(common.TypeSystem, "src-a", "SAP ERP")

	candidates, embedding := detector.FindCandidates(context.Background(), raw, existing)
	if embedding != nil {
		t.Error("degraded run still returned an embedding")
	}
	// name-only scoring still finds the exact match
	if len(candidates) != 1 || candidates[0].Entity.CanonicalName != "SAP ERP" {
		t.Fatalf("candidates = %+v, want the exact-name match only", candidates)
	}
	if metrics.Export().SemanticDegraded == 0 {
		t.Error("degraded counter not incremented")
	}
}
