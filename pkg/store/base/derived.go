package base

import (
	"context"

	pgxv5 "github.com/jackc/pgx/v5"

	"github.com/optiflow-ai/consolidation/pkg/common"
	"github.com/optiflow-ai/consolidation/pkg/store"
)

const relationshipChunk = 500

// ReplaceRelationships swaps the stored relationship set for the given
// one in a single transaction.
func (s *DBStorage) ReplaceRelationships(ctx context.Context, relationships []common.Relationship) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM relationships`); err != nil {
		return err
	}

	err = store.ChunkRange(len(relationships), relationshipChunk, func(start, end int) error {
		batch := &pgxv5.Batch{}
		for _, r := range relationships[start:end] {
			batch.Queue(`
				INSERT INTO relationships (
					id, relationship_type, from_id, to_id, source_ids,
					validated, confidence
				) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				r.ID, string(r.Type), r.FromID, r.ToID, r.SourceIDs,
				r.Validated, r.Confidence)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *DBStorage) ReplacePatterns(ctx context.Context, patterns []common.Pattern) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM patterns`); err != nil {
		return err
	}

	batch := &pgxv5.Batch{}
	for _, p := range patterns {
		batch.Queue(`
			INSERT INTO patterns (
				id, pattern_type, description, entity_ids, support_count,
				priority_score, recommended_action
			) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			p.ID, p.Type, p.Description, p.EntityIDs, p.SupportCount,
			p.PriorityScore, p.RecommendedAction)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *DBStorage) GetRelationships(ctx context.Context) ([]common.Relationship, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id, relationship_type, from_id, to_id, source_ids,
		       validated, confidence
		FROM relationships
		ORDER BY from_id, to_id`)
	if err != nil {
		return nil, err
	}
	return pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (common.Relationship, error) {
		var r common.Relationship
		var relType string
		err := row.Scan(&r.ID, &relType, &r.FromID, &r.ToID, &r.SourceIDs,
			&r.Validated, &r.Confidence)
		r.Type = common.RelationshipType(relType)
		return r, err
	})
}

func (s *DBStorage) GetPatterns(ctx context.Context) ([]common.Pattern, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id, pattern_type, description, entity_ids, support_count,
		       priority_score, recommended_action
		FROM patterns
		ORDER BY priority_score DESC, id`)
	if err != nil {
		return nil, err
	}
	return pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (common.Pattern, error) {
		var p common.Pattern
		err := row.Scan(&p.ID, &p.Type, &p.Description, &p.EntityIDs,
			&p.SupportCount, &p.PriorityScore, &p.RecommendedAction)
		return p, err
	})
}
