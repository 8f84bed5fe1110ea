package consolidate

import (
	"context"
	"sort"

	"github.com/optiflow-ai/consolidation/internal/util"
	"github.com/optiflow-ai/consolidation/pkg/ai"
	"github.com/optiflow-ai/consolidation/pkg/common"
	"github.com/optiflow-ai/consolidation/pkg/logger"
)

// Candidate is one existing entity a raw record may merge into.
type Candidate struct {
	Entity *common.ConsolidatedEntity
	Score  float64
}

// Detector finds, for a raw entity, the best existing consolidated
// entities of the same type above the per-type threshold.
type Detector struct {
	cfg      Config
	scorer   *Scorer
	semantic ai.SemanticClient
	metrics  *Metrics
}

// NewDetector creates a Detector. The semantic client may be nil, in
// which case scoring is name-only from the start.
func NewDetector(cfg Config, scorer *Scorer, semantic ai.SemanticClient, metrics *Metrics) *Detector {
	return &Detector{
		cfg:      cfg.normalize(),
		scorer:   scorer,
		semantic: semantic,
		metrics:  metrics,
	}
}

// FindCandidates returns match candidates ordered by descending score,
// capped at MaxCandidates. The threshold boundary is inclusive: a score
// exactly equal to the per-type threshold is a match.
//
// Only entities of the raw record's own type are ever compared. The
// returned embedding is the raw entity's name vector (nil in degraded
// mode) so the caller can persist it without re-embedding.
func (d *Detector) FindCandidates(
	ctx context.Context,
	raw common.RawEntity,
	existing []*common.ConsolidatedEntity,
) ([]Candidate, []float32) {
	rawEmbedding := d.EmbedName(ctx, raw.Name())
	return d.ScoreCandidates(raw, existing, rawEmbedding), rawEmbedding
}

// ScoreCandidates is FindCandidates with a precomputed raw-name
// embedding, used when the caller already embedded the name to drive a
// vector pre-search.
func (d *Detector) ScoreCandidates(
	raw common.RawEntity,
	existing []*common.ConsolidatedEntity,
	rawEmbedding []float32,
) []Candidate {
	name := raw.Name()
	if name == "" || len(existing) == 0 {
		return nil
	}

	spec := d.cfg.SpecFor(raw.Type)
	threshold := spec.MatchThreshold

	// Fuzzy-first pass: everything decidable on name similarity alone
	// is decided here, before any embedding work.
	candidates := make([]Candidate, 0, len(existing))
	var needSemantic []*common.ConsolidatedEntity
	for _, entity := range existing {
		if entity.Type != raw.Type {
			continue
		}
		nameScore := d.scorer.NameScore(name, entity.CanonicalName, raw.Type)
		if nameScore >= d.cfg.SkipSemanticThreshold {
			candidates = append(candidates, Candidate{Entity: entity, Score: nameScore})
			continue
		}
		// Semantic scoring can only lift the combined score up to
		// nameWeight*nameScore + semanticWeight. Below that bound the
		// pair can never clear the threshold.
		if spec.NameWeight*nameScore+spec.SemanticWeight >= threshold {
			needSemantic = append(needSemantic, entity)
		} else if nameScore >= threshold {
			candidates = append(candidates, Candidate{Entity: entity, Score: nameScore})
		}
	}

	for _, entity := range needSemantic {
		score := d.scorer.Score(name, entity.CanonicalName, rawEmbedding, entity.Embedding, raw.Type)
		if score >= threshold {
			candidates = append(candidates, Candidate{Entity: entity, Score: score})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > d.cfg.MaxCandidates {
		candidates = candidates[:d.cfg.MaxCandidates]
	}
	return candidates
}

// EmbedName fetches the embedding for a name with a bounded retry
// budget. On exhaustion it degrades to name-only scoring: the failure is
// logged and counted, never surfaced to the batch.
func (d *Detector) EmbedName(ctx context.Context, name string) []float32 {
	if d.semantic == nil || name == "" {
		return nil
	}

	embedding, err := util.RetryWithBackoff(ctx, d.cfg.SemanticRetries, d.cfg.SemanticBackoff,
		func(rCtx context.Context) ([]float32, error) {
			return d.semantic.GenerateEmbedding(rCtx, []byte(name))
		})
	if err != nil {
		logger.Warn("[Consolidate] Semantic scoring degraded to name-only", "name", name, "err", err)
		if d.metrics != nil {
			d.metrics.SemanticDegraded()
		}
		return nil
	}
	return embedding
}
