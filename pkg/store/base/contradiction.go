package base

import (
	"context"

	pgxv5 "github.com/jackc/pgx/v5"

	"github.com/optiflow-ai/consolidation/pkg/common"
	"github.com/optiflow-ai/consolidation/pkg/store"
)

func (s *DBStorage) OpenContradictions(ctx context.Context, entityID string) ([]common.Contradiction, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id, entity_id, field, value_a, value_b, source_a, source_b,
		       severity, status, created_at
		FROM contradictions
		WHERE entity_id = $1 AND status = $2
		ORDER BY created_at, id`,
		entityID, string(common.ContradictionOpen))
	if err != nil {
		return nil, err
	}
	return pgxv5.CollectRows(rows, scanContradiction)
}

func (s *DBStorage) ResolveContradiction(ctx context.Context, contradictionID string) error {
	tag, err := s.conn.Exec(ctx, `
		UPDATE contradictions
		SET status = $2
		WHERE id = $1`,
		contradictionID, string(common.ContradictionResolved))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanContradiction(row pgxv5.CollectableRow) (common.Contradiction, error) {
	var c common.Contradiction
	var severity, status string
	err := row.Scan(&c.ID, &c.EntityID, &c.Field, &c.ValueA, &c.ValueB,
		&c.SourceA, &c.SourceB, &severity, &status, &c.CreatedAt)
	c.Severity = common.ContradictionSeverity(severity)
	c.Status = common.ContradictionStatus(status)
	return c, err
}
