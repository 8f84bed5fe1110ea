package base

import (
	"context"
	"errors"
	"fmt"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/optiflow-ai/consolidation/internal/util"
	"github.com/optiflow-ai/consolidation/pkg/common"
	"github.com/optiflow-ai/consolidation/pkg/store"
)

// dbTx stages one consolidation transaction on a database transaction.
// Every entity is snapshotted and row-locked the first time it is
// touched, so concurrent transactions on the same entity serialize and
// stale reads surface as ErrMergeConflict.
type dbTx struct {
	tx          pgxv5.Tx
	auditID     string
	entityIDs   []string
	snapshotted map[string]bool
}

var _ store.Tx = (*dbTx)(nil)

func (t *dbTx) AuditID() string { return t.auditID }

func (t *dbTx) UpsertEntity(ctx context.Context, entity *common.ConsolidatedEntity) error {
	if err := t.snapshot(ctx, entity); err != nil {
		return err
	}

	doc, err := entity.Marshal()
	if err != nil {
		return fmt.Errorf("marshal entity %s: %w", entity.ID, err)
	}

	var embedding *pgvector.Vector
	if entity.Embedding != nil {
		v := pgvector.NewVector(entity.Embedding)
		embedding = &v
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO entities (
			id, entity_type, canonical_name, doc, embedding,
			confidence, is_pattern, version, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 1, now())
		ON CONFLICT (id) DO UPDATE SET
			canonical_name = EXCLUDED.canonical_name,
			doc            = EXCLUDED.doc,
			embedding      = COALESCE(EXCLUDED.embedding, entities.embedding),
			confidence     = EXCLUDED.confidence,
			is_pattern     = EXCLUDED.is_pattern,
			version        = entities.version + 1,
			updated_at     = now()`,
		entity.ID, string(entity.Type), entity.CanonicalName, doc, embedding,
		entity.Confidence, entity.IsPattern)
	if err != nil {
		return fmt.Errorf("upsert entity %s: %w", entity.ID, err)
	}
	return nil
}

func (t *dbTx) AddContradiction(ctx context.Context, c common.Contradiction) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO contradictions (
			id, entity_id, audit_id, field, value_a, value_b, source_a,
			source_b, severity, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.EntityID, t.auditID, c.Field, c.ValueA, c.ValueB, c.SourceA,
		c.SourceB, string(c.Severity), string(c.Status), c.CreatedAt)
	return err
}

func (t *dbTx) MarkIngested(ctx context.Context, entityType common.EntityType, sourceID, checksum string) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO ingest_ledger (entity_type, source_id, checksum, audit_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING`,
		string(entityType), sourceID, checksum, t.auditID)
	return err
}

// snapshot locks the entity row, verifies the caller's read is still
// current, and persists the pre-transaction state under the audit id.
func (t *dbTx) snapshot(ctx context.Context, entity *common.ConsolidatedEntity) error {
	if t.snapshotted[entity.ID] {
		return nil
	}
	t.snapshotted[entity.ID] = true
	t.entityIDs = append(t.entityIDs, entity.ID)

	var doc []byte
	var version int64
	err := t.tx.QueryRow(ctx, `
		SELECT doc, version
		FROM entities
		WHERE id = $1
		FOR UPDATE`,
		entity.ID).Scan(&doc, &version)

	existed := true
	switch {
	case errors.Is(err, pgxv5.ErrNoRows):
		existed = false
		doc = nil
	case err != nil:
		return fmt.Errorf("lock entity %s: %w", entity.ID, err)
	case version != entity.Version:
		return store.ErrMergeConflict
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO snapshots (audit_id, entity_id, existed, state)
		VALUES ($1, $2, $3, $4)`,
		t.auditID, entity.ID, existed, doc)
	if err != nil {
		return fmt.Errorf("snapshot entity %s: %w", entity.ID, err)
	}
	return nil
}

func (s *DBStorage) WithTransaction(ctx context.Context, op common.AuditOperation, fn func(tx store.Tx) error) (string, error) {
	pgTx, err := s.conn.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer pgTx.Rollback(ctx)

	t := &dbTx{
		tx:          pgTx,
		auditID:     util.NewAuditID(),
		snapshotted: make(map[string]bool),
	}

	if err := fn(t); err != nil {
		return "", err
	}

	_, err = pgTx.Exec(ctx, `
		INSERT INTO audit_records (audit_id, operation, entity_ids)
		VALUES ($1, $2, $3)`,
		t.auditID, string(op), t.entityIDs)
	if err != nil {
		return "", fmt.Errorf("audit record: %w", err)
	}

	if err := pgTx.Commit(ctx); err != nil {
		return "", err
	}
	return t.auditID, nil
}
