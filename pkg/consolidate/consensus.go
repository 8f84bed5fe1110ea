package consolidate

import (
	"github.com/optiflow-ai/consolidation/pkg/common"
)

// ConsensusScorer derives an entity confidence score from how strongly
// independent sources agree on it. Scores always land in [0, 1].
type ConsensusScorer struct {
	cfg     Config
	metrics *Metrics
}

func NewConsensusScorer(cfg Config, metrics *Metrics) *ConsensusScorer {
	return &ConsensusScorer{cfg: cfg.normalize(), metrics: metrics}
}

// Score computes the confidence for entity given the total number of
// sources in the batch. The base score is sourceCount relative to an
// adaptive divisor, boosted per agreeing field and penalized per open
// contradiction; single-source entities take an extra penalty.
func (s *ConsensusScorer) Score(entity *common.ConsolidatedEntity, totalSources, openContradictions int) float64 {
	divisor := s.divisor(totalSources)
	sourceCount := entity.SourceCount()

	score := float64(min(sourceCount, divisor)) / float64(divisor)
	score += min(s.cfg.AgreementBonus*float64(s.agreements(entity)), s.cfg.MaxAgreementBonus)
	score -= s.cfg.ContradictionPenalty * float64(openContradictions)
	if sourceCount <= 1 {
		score -= s.cfg.SingleSourcePenalty
	}

	score = clamp(score, 0, 1)
	entity.Confidence = score
	if s.metrics != nil {
		s.metrics.RecordConfidence(entity.Type, score)
	}
	return score
}

// divisor adapts the full-confidence source count to the batch: small
// batches should not be unable to reach high confidence, large batches
// should not reach it too cheaply.
func (s *ConsensusScorer) divisor(totalSources int) int {
	divisor := s.cfg.ConsensusDivisor
	if adaptive := totalSources / 4; adaptive < divisor {
		divisor = adaptive
	}
	if divisor < 1 {
		divisor = 1
	}
	return divisor
}

// agreements counts fields where at least two sources contributed the
// same normalized value.
func (s *ConsensusScorer) agreements(entity *common.ConsolidatedEntity) int {
	spec := common.SpecFor(entity.Type)
	agreed := 0
	for _, contribs := range entity.Contributions {
		if len(contribs) < 2 {
			continue
		}
		counts := make(map[string]int, len(contribs))
		for _, v := range contribs {
			counts[NormalizeName(valueString(v), spec.Synonyms)]++
		}
		for _, n := range counts {
			if n >= 2 {
				agreed++
				break
			}
		}
	}
	return agreed
}
