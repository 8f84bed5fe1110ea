package consolidate

import (
	"strconv"
	"strings"
	"time"

	"github.com/optiflow-ai/consolidation/internal/util"
	"github.com/optiflow-ai/consolidation/pkg/common"
)

// TypeTuning overrides the built-in matching parameters of one entity
// type. Zero fields keep the table value.
type TypeTuning struct {
	MatchThreshold float64
	NameWeight     float64
	SemanticWeight float64
}

// Config collects the engine tunables. Start from DefaultConfig and
// override fields; zero is a valid setting for the bonus and penalty
// knobs. Env overrides are applied by ConfigFromEnv.
type Config struct {
	// SkipSemanticThreshold is the name-score at or above which semantic
	// scoring is skipped entirely (fuzzy-first filtering).
	SkipSemanticThreshold float64

	// MaxCandidates caps how many match candidates the duplicate
	// detector returns per raw entity.
	MaxCandidates int

	// SemanticRetries is the retry budget for embedding calls before
	// degrading to name-only scoring.
	SemanticRetries int
	// SemanticBackoff is the initial backoff between embedding retries.
	SemanticBackoff time.Duration

	// ConsensusDivisor is the configured source-count divisor; the
	// effective divisor adapts to min(ConsensusDivisor, totalSources/4),
	// floored at 1.
	ConsensusDivisor int
	// AgreementBonus is added per independent field agreement, capped
	// at MaxAgreementBonus.
	AgreementBonus    float64
	MaxAgreementBonus float64
	// ContradictionPenalty is subtracted per unresolved contradiction.
	ContradictionPenalty float64
	// SingleSourcePenalty is subtracted when only one source contributed.
	SingleSourcePenalty float64

	// NumericDivergence is the relative divergence above which two
	// numeric values contradict each other.
	NumericDivergence float64

	// RecurringThreshold is the support count at which a similarity
	// group becomes a pattern.
	RecurringThreshold int
	// ProblematicSystemThreshold flags system-type entities as patterns
	// by source count alone.
	ProblematicSystemThreshold int
	// PatternSimilarityThreshold is the looser name-similarity bound
	// used when grouping entities into patterns.
	PatternSimilarityThreshold float64

	// MergeRetries bounds transaction retries on concurrent-write
	// conflicts before the single record is surfaced as failed.
	MergeRetries int

	// ParallelTypes caps how many entity types are consolidated
	// concurrently. Within one type merges stay sequential.
	ParallelTypes int

	// BatchTimeout aborts the in-flight transaction when exceeded and
	// marks the batch partially complete. Zero disables the timeout.
	BatchTimeout time.Duration

	// TypeTunings overrides per-entity-type match thresholds and score
	// weights, merged over the built-in type table.
	TypeTunings map[common.EntityType]TypeTuning
}

// SpecFor resolves the effective matching parameters for an entity
// type: the built-in table row merged with any TypeTunings override.
func (c Config) SpecFor(t common.EntityType) common.TypeSpec {
	spec := common.SpecFor(t)
	tuning, ok := c.TypeTunings[t]
	if !ok {
		return spec
	}
	if tuning.MatchThreshold > 0 {
		spec.MatchThreshold = tuning.MatchThreshold
	}
	if tuning.NameWeight > 0 {
		spec.NameWeight = tuning.NameWeight
	}
	if tuning.SemanticWeight > 0 {
		spec.SemanticWeight = tuning.SemanticWeight
	}
	return spec
}

// DefaultConfig returns the documented default tuning.
func DefaultConfig() Config {
	return Config{
		SkipSemanticThreshold:      0.95,
		MaxCandidates:              10,
		SemanticRetries:            3,
		SemanticBackoff:            250 * time.Millisecond,
		ConsensusDivisor:           5,
		AgreementBonus:             0.1,
		MaxAgreementBonus:          0.3,
		ContradictionPenalty:       0.25,
		SingleSourcePenalty:        0.3,
		NumericDivergence:          0.5,
		RecurringThreshold:         3,
		ProblematicSystemThreshold: 5,
		PatternSimilarityThreshold: 0.65,
		MergeRetries:               3,
		ParallelTypes:              4,
	}
}

// normalize clamps values the engine cannot run with. A zero bonus or
// penalty is a deliberate tuning and stays untouched; only negatives
// and out-of-range thresholds fall back.
func (c Config) normalize() Config {
	if c.SkipSemanticThreshold <= 0 || c.SkipSemanticThreshold > 1 {
		c.SkipSemanticThreshold = 0.95
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = 10
	}
	if c.SemanticRetries <= 0 {
		c.SemanticRetries = 3
	}
	if c.SemanticBackoff < 0 {
		c.SemanticBackoff = 0
	}
	if c.ConsensusDivisor <= 0 {
		c.ConsensusDivisor = 5
	}
	if c.AgreementBonus < 0 {
		c.AgreementBonus = 0
	}
	if c.MaxAgreementBonus < 0 {
		c.MaxAgreementBonus = 0
	}
	if c.ContradictionPenalty < 0 {
		c.ContradictionPenalty = 0
	}
	if c.SingleSourcePenalty < 0 {
		c.SingleSourcePenalty = 0
	}
	if c.NumericDivergence < 0 {
		c.NumericDivergence = 0
	}
	if c.RecurringThreshold <= 0 {
		c.RecurringThreshold = 3
	}
	if c.ProblematicSystemThreshold <= 0 {
		c.ProblematicSystemThreshold = 5
	}
	if c.PatternSimilarityThreshold <= 0 || c.PatternSimilarityThreshold > 1 {
		c.PatternSimilarityThreshold = 0.65
	}
	if c.MergeRetries <= 0 {
		c.MergeRetries = 3
	}
	if c.ParallelTypes <= 0 {
		c.ParallelTypes = 4
	}
	if c.BatchTimeout < 0 {
		c.BatchTimeout = 0
	}
	return c
}

// ConfigFromEnv builds a Config from environment variables, falling
// back to the documented defaults. Unset variables keep the default;
// an explicit zero is honored for the bonus and penalty knobs.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.SkipSemanticThreshold = util.GetEnvFloat("CONSOLIDATE_SKIP_SEMANTIC", cfg.SkipSemanticThreshold)
	cfg.MaxCandidates = util.GetEnvInt("CONSOLIDATE_MAX_CANDIDATES", cfg.MaxCandidates)
	cfg.SemanticRetries = util.GetEnvInt("CONSOLIDATE_SEMANTIC_RETRIES", cfg.SemanticRetries)
	cfg.ConsensusDivisor = util.GetEnvInt("CONSOLIDATE_CONSENSUS_DIVISOR", cfg.ConsensusDivisor)
	cfg.AgreementBonus = util.GetEnvFloat("CONSOLIDATE_AGREEMENT_BONUS", cfg.AgreementBonus)
	cfg.ContradictionPenalty = util.GetEnvFloat("CONSOLIDATE_CONTRADICTION_PENALTY", cfg.ContradictionPenalty)
	cfg.SingleSourcePenalty = util.GetEnvFloat("CONSOLIDATE_SINGLE_SOURCE_PENALTY", cfg.SingleSourcePenalty)
	cfg.RecurringThreshold = util.GetEnvInt("CONSOLIDATE_RECURRING_THRESHOLD", cfg.RecurringThreshold)
	cfg.ProblematicSystemThreshold = util.GetEnvInt("CONSOLIDATE_PROBLEMATIC_SYSTEM_THRESHOLD", cfg.ProblematicSystemThreshold)
	cfg.MergeRetries = util.GetEnvInt("CONSOLIDATE_MERGE_RETRIES", cfg.MergeRetries)
	cfg.ParallelTypes = util.GetEnvInt("CONSOLIDATE_PARALLEL_TYPES", cfg.ParallelTypes)
	cfg.BatchTimeout = time.Duration(util.GetEnvInt("CONSOLIDATE_BATCH_TIMEOUT_SEC", 0)) * time.Second
	cfg.TypeTunings = parseTypeThresholds(util.GetEnvString("CONSOLIDATE_TYPE_THRESHOLDS", ""))
	return cfg.normalize()
}

// parseTypeThresholds reads per-type threshold overrides from a
// comma-separated list like "system=0.85,tool=0.80". Malformed entries
// are skipped.
func parseTypeThresholds(raw string) map[common.EntityType]TypeTuning {
	if raw == "" {
		return nil
	}
	tunings := make(map[common.EntityType]TypeTuning)
	for _, part := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		threshold, err := strconv.ParseFloat(value, 64)
		if err != nil || threshold <= 0 || threshold > 1 {
			continue
		}
		tunings[common.EntityType(key)] = TypeTuning{MatchThreshold: threshold}
	}
	if len(tunings) == 0 {
		return nil
	}
	return tunings
}
