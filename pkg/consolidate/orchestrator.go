package consolidate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/optiflow-ai/consolidation/internal/util"
	"github.com/optiflow-ai/consolidation/pkg/common"
	"github.com/optiflow-ai/consolidation/pkg/logger"
	"github.com/optiflow-ai/consolidation/pkg/store"
)

// Batch is one ingestion unit: extracted records from one or more
// sources submitted for consolidation together.
type Batch struct {
	CorrelationID string             `json:"correlation_id,omitempty"`
	Records       []common.RawEntity `json:"records"`
}

// OutcomeStatus is the per-record result of a batch.
type OutcomeStatus string

const (
	OutcomeMerged  OutcomeStatus = "merged"
	OutcomeCreated OutcomeStatus = "created"
	OutcomeSkipped OutcomeStatus = "skipped"
	OutcomeFailed  OutcomeStatus = "failed"
)

// RecordOutcome reports what happened to a single raw record. Failed
// records carry the error text; the rest of the batch proceeds.
type RecordOutcome struct {
	SourceID   string            `json:"source_id"`
	EntityType common.EntityType `json:"entity_type"`
	EntityID   string            `json:"entity_id,omitempty"`
	Status     OutcomeStatus     `json:"status"`
	AuditID    string            `json:"audit_id,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// BatchResult summarizes one consolidation run.
type BatchResult struct {
	CorrelationID string          `json:"correlation_id"`
	Outcomes      []RecordOutcome `json:"outcomes"`
	Relationships int             `json:"relationships"`
	Patterns      int             `json:"patterns"`
	DurationMs    int64           `json:"duration_ms"`
	Report        Report          `json:"report"`
}

// ConsolidateBatch runs the full pipeline over one batch: per-record
// duplicate detection and merging grouped by entity type, then a
// relationship and pattern pass over the updated knowledge base.
//
// Types are processed in parallel; records within a type strictly in
// order, so two records of the same entity never race. A failing
// record is reported in its outcome and never aborts the batch.
func (c *Consolidator) ConsolidateBatch(ctx context.Context, batch Batch) (*BatchResult, error) {
	start := time.Now()

	if batch.CorrelationID == "" {
		batch.CorrelationID = util.NewCorrelationID()
	}
	if c.cfg.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.BatchTimeout)
		defer cancel()
	}

	logger.Info("[Consolidate] Batch started",
		"correlationId", batch.CorrelationID, "records", len(batch.Records))

	byType := make(map[common.EntityType][]common.RawEntity)
	var order []common.EntityType
	var outcomes []RecordOutcome
	for _, raw := range batch.Records {
		if !common.KnownType(raw.Type) {
			outcomes = append(outcomes, RecordOutcome{
				SourceID:   raw.SourceID,
				EntityType: raw.Type,
				Status:     OutcomeFailed,
				Error:      fmt.Sprintf("unknown entity type %q", raw.Type),
			})
			continue
		}
		if _, seen := byType[raw.Type]; !seen {
			order = append(order, raw.Type)
		}
		byType[raw.Type] = append(byType[raw.Type], sanitizeRecord(raw))
	}

	totalSources := distinctSources(batch.Records)

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.cfg.ParallelTypes)
	for _, entityType := range order {
		records := byType[entityType]
		group.Go(func() error {
			typeStart := time.Now()
			typeOutcomes := make([]RecordOutcome, 0, len(records))
			var cancelErr error
			for i, raw := range records {
				if err := groupCtx.Err(); err != nil {
					// records following the cutoff still get an
					// outcome; the merges before it already committed
					cancelErr = err
					for _, rest := range records[i:] {
						c.metrics.EntityFailed(rest.Type)
						typeOutcomes = append(typeOutcomes, RecordOutcome{
							SourceID:   rest.SourceID,
							EntityType: rest.Type,
							Status:     OutcomeFailed,
							Error:      err.Error(),
						})
					}
					break
				}
				typeOutcomes = append(typeOutcomes, c.processRecord(groupCtx, raw, totalSources))
			}
			c.metrics.AddProcessingTime(entityType, time.Since(typeStart))

			mu.Lock()
			outcomes = append(outcomes, typeOutcomes...)
			mu.Unlock()
			return cancelErr
		})
	}
	mergeErr := group.Wait()

	result := &BatchResult{
		CorrelationID: batch.CorrelationID,
		Outcomes:      outcomes,
	}

	// derived records are recomputed even after a timeout or partial
	// failure: the merges that did commit should be reflected
	relationships, patterns, err := c.RecomputeDerived(context.WithoutCancel(ctx))
	if err != nil {
		logger.Error("[Consolidate] Derived record pass failed",
			"correlationId", batch.CorrelationID, "error", err)
	} else {
		result.Relationships = len(relationships)
		result.Patterns = len(patterns)
	}

	result.DurationMs = time.Since(start).Milliseconds()
	result.Report = c.metrics.Export()

	logger.Info("[Consolidate] Batch finished",
		"correlationId", batch.CorrelationID,
		"durationMs", result.DurationMs,
		"summary", c.metrics.Summary())

	if mergeErr != nil && !errors.Is(mergeErr, context.Canceled) && !errors.Is(mergeErr, context.DeadlineExceeded) {
		return result, mergeErr
	}
	return result, ctx.Err()
}

// sanitizeRecord strips NUL bytes and invalid UTF-8 from every text
// attribute before it can reach the jsonb document or the checksum.
func sanitizeRecord(raw common.RawEntity) common.RawEntity {
	if len(raw.Attributes) == 0 {
		return raw
	}
	attrs := make([]common.Attribute, len(raw.Attributes))
	copy(attrs, raw.Attributes)
	for i := range attrs {
		attrs[i].Value.Text = util.SanitizePostgresText(attrs[i].Value.Text)
	}
	raw.Attributes = attrs
	return raw
}

func distinctSources(records []common.RawEntity) int {
	seen := make(map[string]bool, len(records))
	for _, raw := range records {
		seen[raw.SourceID] = true
	}
	return len(seen)
}

// processRecord consolidates one raw record: skip when its exact
// content was already merged, otherwise merge into the best duplicate
// or create a new entity, retrying on concurrent-write conflicts.
func (c *Consolidator) processRecord(ctx context.Context, raw common.RawEntity, totalSources int) RecordOutcome {
	c.metrics.EntityProcessed(raw.Type)
	outcome := RecordOutcome{SourceID: raw.SourceID, EntityType: raw.Type}

	checksum := raw.Checksum()
	if done, err := c.storage.WasIngested(ctx, raw.Type, raw.SourceID, checksum); err != nil {
		return c.fail(outcome, fmt.Errorf("ingest lookup: %w", err))
	} else if done {
		outcome.Status = OutcomeSkipped
		return outcome
	}

	embedding := c.detector.EmbedName(ctx, raw.Name())

	var lastErr error
	for attempt := 0; attempt < c.cfg.MergeRetries; attempt++ {
		existing, err := c.comparisonSet(ctx, raw, embedding)
		if err != nil {
			return c.fail(outcome, fmt.Errorf("load entities: %w", err))
		}

		candidates := c.detector.ScoreCandidates(raw, existing, embedding)

		var target *common.ConsolidatedEntity
		op := common.OpCreate
		if len(candidates) > 0 {
			c.metrics.DuplicateFound(raw.Type)
			target = candidates[0].Entity
			op = common.OpMerge
		}

		var entityID string
		auditID, err := c.storage.WithTransaction(ctx, op, func(tx store.Tx) error {
			merged, contradictions, err := c.merger.Merge(ctx, raw, target)
			if err != nil {
				return err
			}
			entityID = merged.ID

			open, err := c.storage.OpenContradictions(ctx, merged.ID)
			if err != nil {
				return fmt.Errorf("open contradictions: %w", err)
			}
			c.consensus.Score(merged, totalSources, len(open)+len(contradictions))

			if merged.Embedding == nil {
				merged.Embedding = embedding
			}

			for _, contradiction := range contradictions {
				if err := tx.AddContradiction(ctx, contradiction); err != nil {
					return err
				}
			}
			if err := tx.UpsertEntity(ctx, merged); err != nil {
				return err
			}
			return tx.MarkIngested(ctx, raw.Type, raw.SourceID, checksum)
		})
		if errors.Is(err, store.ErrMergeConflict) {
			lastErr = err
			logger.Warn("[Consolidate] Merge conflict, retrying",
				"type", raw.Type, "source", raw.SourceID, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return c.fail(outcome, err)
		}

		outcome.EntityID = entityID
		outcome.AuditID = auditID
		if op == common.OpMerge {
			outcome.Status = OutcomeMerged
			c.metrics.EntityMerged(raw.Type)
		} else {
			outcome.Status = OutcomeCreated
			c.metrics.EntityCreated(raw.Type)
		}
		return outcome
	}
	return c.fail(outcome, fmt.Errorf("merge retries exhausted: %w", lastErr))
}

// vectorPoolSize bounds the neighbourhood pulled from a vector
// pre-search before candidate scoring.
const vectorPoolSize = 50

// comparisonSet loads the entities a raw record is scored against.
// With a healthy embedding and a vector-capable storage that is the
// embedding neighbourhood plus the exact canonical-name match;
// otherwise every entity of the record's type.
func (c *Consolidator) comparisonSet(
	ctx context.Context,
	raw common.RawEntity,
	embedding []float32,
) ([]*common.ConsolidatedEntity, error) {
	searcher, ok := c.storage.(store.SimilaritySearcher)
	if !ok || embedding == nil {
		return c.storage.GetEntitiesByType(ctx, raw.Type)
	}

	neighbours, err := searcher.SimilarEntities(ctx, raw.Type, embedding, vectorPoolSize)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	// entities stored without an embedding are invisible to the vector
	// index; the name lookup still finds the exact match among them
	seen := make(map[string]bool, len(neighbours))
	for _, entity := range neighbours {
		seen[entity.ID] = true
	}
	byName, err := c.storage.GetEntityByName(ctx, raw.Type, raw.Name())
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("name lookup: %w", err)
	case !seen[byName.ID]:
		neighbours = append(neighbours, byName)
	}
	return neighbours, nil
}

func (c *Consolidator) fail(outcome RecordOutcome, err error) RecordOutcome {
	c.metrics.EntityFailed(outcome.EntityType)
	logger.Error("[Consolidate] Record failed",
		"type", outcome.EntityType, "source", outcome.SourceID, "error", err)
	outcome.Status = OutcomeFailed
	outcome.Error = err.Error()
	return outcome
}

// RecomputeDerived rebuilds relationships and patterns from the current
// knowledge base and persists them, replacing the previous sets. Pattern
// membership changes are written back to the affected entities.
func (c *Consolidator) RecomputeDerived(ctx context.Context) ([]common.Relationship, []common.Pattern, error) {
	var entities []*common.ConsolidatedEntity
	for _, entityType := range common.KnownTypes() {
		batch, err := c.storage.GetEntitiesByType(ctx, entityType)
		if err != nil {
			return nil, nil, fmt.Errorf("load %s entities: %w", entityType, err)
		}
		entities = append(entities, batch...)
	}

	wasPattern := make(map[string]bool, len(entities))
	for _, entity := range entities {
		wasPattern[entity.ID] = entity.IsPattern
	}

	relationships := c.relationships.Discover(entities)
	patterns := c.patterns.Recognize(entities)

	if err := c.storage.ReplaceRelationships(ctx, relationships); err != nil {
		return nil, nil, fmt.Errorf("store relationships: %w", err)
	}
	if err := c.storage.ReplacePatterns(ctx, patterns); err != nil {
		return nil, nil, fmt.Errorf("store patterns: %w", err)
	}

	var flagged []*common.ConsolidatedEntity
	for _, entity := range entities {
		if entity.IsPattern != wasPattern[entity.ID] {
			flagged = append(flagged, entity)
		}
	}
	if len(flagged) > 0 {
		_, err := c.storage.WithTransaction(ctx, common.OpMerge, func(tx store.Tx) error {
			for _, entity := range flagged {
				if err := tx.UpsertEntity(ctx, entity); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, nil, fmt.Errorf("persist pattern flags: %w", err)
		}
	}

	return relationships, patterns, nil
}

// Rollback restores all entities touched by the audit id to their
// pre-transaction state. Rolling back an already rolled back audit id
// returns store.ErrNothingToUndo, which callers treat as a no-op.
func (c *Consolidator) Rollback(ctx context.Context, auditID, reason string) ([]string, error) {
	restored, err := c.storage.Rollback(ctx, auditID, reason)
	if err != nil {
		if errors.Is(err, store.ErrNothingToUndo) {
			logger.Info("[Consolidate] Nothing to undo", "auditId", auditID)
		}
		return nil, err
	}
	logger.Info("[Consolidate] Rolled back", "auditId", auditID, "entities", len(restored))
	return restored, nil
}
