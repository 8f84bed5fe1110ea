package consolidate

import (
	"context"
	"testing"

	"github.com/optiflow-ai/consolidation/pkg/common"
)

// mergeFromSources builds one consolidated entity from n sources that
// all report the same severity value.
func mergeFromSources(t *testing.T, n int) *common.ConsolidatedEntity {
	t.Helper()
	merger := NewMerger(DefaultConfig(), nil)
	var entity *common.ConsolidatedEntity
	var err error
	for i := range n {
		entity, _, err = merger.Merge(context.Background(), common.RawEntity{
			Type:     common.TypePainPoint,
			SourceID: string(rune('a' + i)),
			Attributes: []common.Attribute{
				{Name: "name", Value: common.TextValue("Reconciliation delays")},
				{Name: "severity", Value: common.CategoricalValue("high")},
			},
		}, entity)
		if err != nil {
			t.Fatalf("merge %d error = %v", i, err)
		}
	}
	return entity
}

func TestScoreStaysWithinBounds(t *testing.T) {
	cfg := DefaultConfig()
	scorer := NewConsensusScorer(cfg, nil)

	tests := []struct {
		name           string
		sources        int
		totalSources   int
		contradictions int
	}{
		{"single source small batch", 1, 2, 0},
		{"heavy contradictions", 2, 20, 8},
		{"all sources agree", 10, 40, 0},
		{"zero total sources", 1, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entity := mergeFromSources(t, tt.sources)
			score := scorer.Score(entity, tt.totalSources, tt.contradictions)
			if score < 0 || score > 1 {
				t.Errorf("score = %f, outside [0, 1]", score)
			}
			if entity.Confidence != score {
				t.Errorf("entity confidence %f not set to score %f", entity.Confidence, score)
			}
		})
	}
}

func TestScoreSingleSourcePenalty(t *testing.T) {
	scorer := NewConsensusScorer(DefaultConfig(), nil)

	single := scorer.Score(mergeFromSources(t, 1), 8, 0)
	double := scorer.Score(mergeFromSources(t, 2), 8, 0)
	if single >= double {
		t.Errorf("single-source score %f not below two-source score %f", single, double)
	}
}

func TestScoreAdaptiveDivisor(t *testing.T) {
	scorer := NewConsensusScorer(DefaultConfig(), nil)

	// 2 sources in a 4-source batch saturate the adaptive divisor
	// (4/4 = 1), so the base score is already full.
	smallBatch := scorer.Score(mergeFromSources(t, 2), 4, 0)
	// the same 2 sources in a 40-source batch face the configured
	// divisor of 5.
	largeBatch := scorer.Score(mergeFromSources(t, 2), 40, 0)
	if smallBatch <= largeBatch {
		t.Errorf("small-batch score %f not above large-batch score %f", smallBatch, largeBatch)
	}
}

func TestScoreContradictionPenalty(t *testing.T) {
	scorer := NewConsensusScorer(DefaultConfig(), nil)

	// 2 sources against divisor 5 keeps the base at 0.4 so the clamp
	// never hides the penalty.
	clean := scorer.Score(mergeFromSources(t, 2), 40, 0)
	disputed := scorer.Score(mergeFromSources(t, 2), 40, 1)
	if diff := clean - disputed; diff < 0.24 || diff > 0.26 {
		t.Errorf("one open contradiction changed score by %f, want 0.25", diff)
	}
}

func TestScoreAgreementBonusIsCapped(t *testing.T) {
	cfg := DefaultConfig()
	scorer := NewConsensusScorer(cfg, nil)
	merger := NewMerger(cfg, nil)

	// two sources agreeing on five fields: the per-field bonus would be
	// 0.5 uncapped, but the cap holds it at MaxAgreementBonus.
	var entity *common.ConsolidatedEntity
	var err error
	for _, src := range []string{"src-a", "src-b"} {
		entity, _, err = merger.Merge(context.Background(), common.RawEntity{
			Type:     common.TypePainPoint,
			SourceID: src,
			Attributes: []common.Attribute{
				{Name: "name", Value: common.TextValue("Reconciliation delays")},
				{Name: "severity", Value: common.CategoricalValue("high")},
				{Name: "frequency", Value: common.CategoricalValue("daily")},
				{Name: "category", Value: common.CategoricalValue("finance")},
				{Name: "owner", Value: common.CategoricalValue("controlling")},
				{Name: "status", Value: common.CategoricalValue("open")},
			},
		}, entity)
		if err != nil {
			t.Fatalf("merge %s error = %v", src, err)
		}
	}

	// base: 2 sources / adaptive divisor 2 = 1.0; the capped bonus must
	// not push the clamped score above 1.
	score := scorer.Score(entity, 8, 0)
	if score != 1 {
		t.Errorf("score = %f, want 1", score)
	}

	// two contradictions pull the score below the clamp, making the
	// capped bonus visible.
	disputed := scorer.Score(entity, 8, 2)
	want := 1.0 + cfg.MaxAgreementBonus - 2*cfg.ContradictionPenalty
	if diff := disputed - want; diff < -1e-9 || diff > 1e-9 {
		t.Errorf("score = %f, want %f", disputed, want)
	}
}

func TestScoreHonorsZeroSingleSourcePenalty(t *testing.T) {
	tuned := DefaultConfig()
	tuned.SingleSourcePenalty = 0
	tuned = tuned.normalize()

	penalized := NewConsensusScorer(DefaultConfig(), nil).Score(mergeFromSources(t, 1), 8, 0)
	unpenalized := NewConsensusScorer(tuned, nil).Score(mergeFromSources(t, 1), 8, 0)
	if unpenalized <= penalized {
		t.Errorf("zero-penalty score %f not above default %f", unpenalized, penalized)
	}
}
