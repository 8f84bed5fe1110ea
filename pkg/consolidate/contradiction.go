package consolidate

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/optiflow-ai/consolidation/internal/util"
	"github.com/optiflow-ai/consolidation/pkg/ai"
	"github.com/optiflow-ai/consolidation/pkg/common"
	"github.com/optiflow-ai/consolidation/pkg/logger"
)

// semanticConflictCeiling is the cosine similarity below which two free
// text values for the same field are flagged for human review.
const semanticConflictCeiling = 0.3

// ContradictionDetector flags conflicting field values between an
// incoming record and the consolidated state it merges into. Detected
// contradictions never block a merge; they are recorded and surfaced
// for review while the merge proceeds.
type ContradictionDetector struct {
	cfg      Config
	semantic ai.SemanticClient
	metrics  *Metrics
}

func NewContradictionDetector(cfg Config, semantic ai.SemanticClient, metrics *Metrics) *ContradictionDetector {
	return &ContradictionDetector{cfg: cfg.normalize(), semantic: semantic, metrics: metrics}
}

// Detect compares incoming against the current merged value of field
// and returns a contradiction when they genuinely disagree, or nil.
func (d *ContradictionDetector) Detect(
	ctx context.Context,
	entity *common.ConsolidatedEntity,
	field string,
	kind common.ValueKind,
	incoming common.Value,
	sourceID string,
) *common.Contradiction {
	current, ok := common.FindAttribute(entity.Attributes, field)
	if !ok {
		return nil
	}

	switch kind {
	case common.KindNumber:
		return d.detectNumeric(entity, field, current, incoming, sourceID)
	case common.KindCategorical:
		return d.detectCategorical(entity, field, current, incoming, sourceID)
	case common.KindText:
		return d.detectSemantic(ctx, entity, field, current, incoming, sourceID)
	default:
		// list fields union; disjoint lists are complementary, not
		// conflicting
		return nil
	}
}

// detectNumeric flags relative divergence beyond the configured bound,
// abs(incoming-current) / max(abs(current), eps).
func (d *ContradictionDetector) detectNumeric(
	entity *common.ConsolidatedEntity,
	field string,
	current, incoming common.Value,
	sourceID string,
) *common.Contradiction {
	const eps = 1e-9
	divergence := math.Abs(incoming.Number-current.Number) / math.Max(math.Abs(current.Number), eps)
	if divergence <= d.cfg.NumericDivergence {
		return nil
	}
	return d.record(entity, field, common.SeverityNumeric,
		current, firstContributor(entity, field), incoming, sourceID)
}

// detectCategorical flags an incoming value that disagrees with the
// current majority after normalization, so "High" vs "high" or a known
// synonym never counts as a conflict.
func (d *ContradictionDetector) detectCategorical(
	entity *common.ConsolidatedEntity,
	field string,
	current, incoming common.Value,
	sourceID string,
) *common.Contradiction {
	spec := common.SpecFor(entity.Type)
	if NormalizeName(incoming.Text, spec.Synonyms) == NormalizeName(current.Text, spec.Synonyms) {
		return nil
	}
	return d.record(entity, field, common.SeverityCategorical,
		current, firstContributor(entity, field), incoming, sourceID)
}

// detectSemantic delegates free text conflicts to the embedding model.
// The incoming value is compared against each source's own contribution
// for the field, never against the merged text (which carries source
// attribution markers). When the model is unavailable the check
// degrades to no finding rather than failing the merge.
func (d *ContradictionDetector) detectSemantic(
	ctx context.Context,
	entity *common.ConsolidatedEntity,
	field string,
	_, incoming common.Value,
	sourceID string,
) *common.Contradiction {
	if d.semantic == nil || incoming.Text == "" {
		return nil
	}

	embed := func(text string) ([]float32, error) {
		return util.RetryWithBackoff(ctx, d.cfg.SemanticRetries, d.cfg.SemanticBackoff,
			func(rCtx context.Context) ([]float32, error) {
				return d.semantic.GenerateEmbedding(rCtx, []byte(text))
			})
	}

	embIncoming, err := embed(incoming.Text)
	if err != nil {
		return d.degrade(field, err)
	}

	for _, src := range entity.Contributions.SortedSources(field) {
		if src == sourceID {
			continue
		}
		contrib := entity.Contributions[field][src]
		if contrib.Text == "" {
			continue
		}
		embExisting, err := embed(contrib.Text)
		if err != nil {
			return d.degrade(field, err)
		}
		if CosineSimilarity(embExisting, embIncoming) < semanticConflictCeiling {
			return d.record(entity, field, common.SeveritySemantic, contrib, src, incoming, sourceID)
		}
	}
	return nil
}

func (d *ContradictionDetector) degrade(field string, err error) *common.Contradiction {
	logger.Warn("[Consolidate] Semantic contradiction check skipped", "field", field, "error", err)
	if d.metrics != nil {
		d.metrics.SemanticDegraded()
	}
	return nil
}

func (d *ContradictionDetector) record(
	entity *common.ConsolidatedEntity,
	field string,
	severity common.ContradictionSeverity,
	existing common.Value,
	existingSource string,
	incoming common.Value,
	sourceID string,
) *common.Contradiction {
	if d.metrics != nil {
		d.metrics.ContradictionDetected(entity.Type)
	}
	return &common.Contradiction{
		ID:        util.NewID(),
		EntityID:  entity.ID,
		Field:     field,
		Severity:  severity,
		Status:    common.ContradictionOpen,
		ValueA:    valueString(existing),
		SourceA:   existingSource,
		ValueB:    valueString(incoming),
		SourceB:   sourceID,
		CreatedAt: time.Now().UTC(),
	}
}

func valueString(v common.Value) string {
	switch v.Kind {
	case common.KindNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case common.KindList:
		return strings.Join(v.List, ", ")
	default:
		return v.Text
	}
}

// firstContributor names the earliest source that set field, used as
// the "existing side" of a contradiction.
func firstContributor(entity *common.ConsolidatedEntity, field string) string {
	contribs := entity.Contributions[field]
	for _, src := range entity.SourceIDs {
		if _, ok := contribs[src]; ok {
			return src
		}
	}
	for _, src := range entity.Contributions.SortedSources(field) {
		return src
	}
	return ""
}
