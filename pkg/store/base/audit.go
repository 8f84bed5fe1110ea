package base

import (
	"context"
	"fmt"

	pgxv5 "github.com/jackc/pgx/v5"

	"github.com/optiflow-ai/consolidation/internal/util"
	"github.com/optiflow-ai/consolidation/pkg/common"
	"github.com/optiflow-ai/consolidation/pkg/store"
)

// Rollback restores every entity snapshotted under auditID to its
// pre-transaction state, deleting entities that were created by the
// transaction. Snapshots are marked consumed so the operation is
// idempotent; a second call returns ErrNothingToUndo.
func (s *DBStorage) Rollback(ctx context.Context, auditID, reason string) ([]string, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT entity_id, existed, state
		FROM snapshots
		WHERE audit_id = $1 AND NOT consumed
		ORDER BY entity_id
		FOR UPDATE`,
		auditID)
	if err != nil {
		return nil, err
	}

	type snap struct {
		entityID string
		existed  bool
		state    []byte
	}
	snaps, err := pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (snap, error) {
		var sn snap
		err := row.Scan(&sn.entityID, &sn.existed, &sn.state)
		return sn, err
	})
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, store.ErrNothingToUndo
	}

	restored := make([]string, 0, len(snaps))
	for _, sn := range snaps {
		if !sn.existed {
			if _, err := tx.Exec(ctx, `DELETE FROM entities WHERE id = $1`, sn.entityID); err != nil {
				return nil, fmt.Errorf("delete entity %s: %w", sn.entityID, err)
			}
			restored = append(restored, sn.entityID)
			continue
		}

		entity, err := common.UnmarshalEntity(sn.state)
		if err != nil {
			return nil, fmt.Errorf("decode snapshot for %s: %w", sn.entityID, err)
		}
		_, err = tx.Exec(ctx, `
			UPDATE entities SET
				canonical_name = $2,
				doc            = $3,
				confidence     = $4,
				is_pattern     = $5,
				version        = version + 1,
				updated_at     = now()
			WHERE id = $1`,
			sn.entityID, entity.CanonicalName, sn.state, entity.Confidence, entity.IsPattern)
		if err != nil {
			return nil, fmt.Errorf("restore entity %s: %w", sn.entityID, err)
		}
		restored = append(restored, sn.entityID)
	}

	_, err = tx.Exec(ctx, `
		UPDATE snapshots SET consumed = true
		WHERE audit_id = $1`,
		auditID)
	if err != nil {
		return nil, err
	}

	// the rolled-back records must be resubmittable
	_, err = tx.Exec(ctx, `
		DELETE FROM ingest_ledger
		WHERE audit_id = $1`,
		auditID)
	if err != nil {
		return nil, err
	}

	// contradictions raised by the transaction describe merges that no
	// longer happened
	_, err = tx.Exec(ctx, `
		DELETE FROM contradictions
		WHERE audit_id = $1`,
		auditID)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO audit_records (audit_id, operation, entity_ids, reason)
		VALUES ($1, $2, $3, $4)`,
		util.NewAuditID(), string(common.OpRollback), restored, reason)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return restored, nil
}

func (s *DBStorage) GetAuditRecords(ctx context.Context, limit int) ([]common.AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.conn.Query(ctx, `
		SELECT audit_id, operation, entity_ids, ts, reason
		FROM audit_records
		ORDER BY ts DESC
		LIMIT $1`,
		limit)
	if err != nil {
		return nil, err
	}
	return pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (common.AuditRecord, error) {
		var r common.AuditRecord
		var op string
		err := row.Scan(&r.AuditID, &op, &r.EntityIDs, &r.Timestamp, &r.Reason)
		r.Operation = common.AuditOperation(op)
		return r, err
	})
}
