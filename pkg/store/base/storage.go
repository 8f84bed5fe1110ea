// Package base implements Storage on PostgreSQL with pgvector. Entity
// documents are stored as jsonb with the type, name, confidence and
// pattern flag lifted into columns for lookups; the canonical name
// embedding lives in a vector column.
package base

import (
	"context"
	"errors"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/optiflow-ai/consolidation/pkg/common"
	"github.com/optiflow-ai/consolidation/pkg/store"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// DBStorage implements store.Storage against PostgreSQL.
type DBStorage struct {
	conn pgxIConn
}

var _ store.Storage = (*DBStorage)(nil)

// NewDBStorage creates a DBStorage on an existing connection or pool.
func NewDBStorage(conn pgxIConn) *DBStorage {
	return &DBStorage{conn: conn}
}

const entityColumns = `doc, embedding, version`

func scanEntity(row pgxv5.CollectableRow) (*common.ConsolidatedEntity, error) {
	var doc []byte
	var embedding *pgvector.Vector
	var version int64
	if err := row.Scan(&doc, &embedding, &version); err != nil {
		return nil, err
	}

	entity, err := common.UnmarshalEntity(doc)
	if err != nil {
		return nil, err
	}
	if embedding != nil {
		entity.Embedding = embedding.Slice()
	}
	entity.Version = version
	return entity, nil
}

func (s *DBStorage) GetEntitiesByType(ctx context.Context, entityType common.EntityType) ([]*common.ConsolidatedEntity, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+entityColumns+`
		FROM entities
		WHERE entity_type = $1
		ORDER BY id`,
		string(entityType))
	if err != nil {
		return nil, err
	}
	return pgxv5.CollectRows(rows, scanEntity)
}

func (s *DBStorage) GetEntity(ctx context.Context, id string) (*common.ConsolidatedEntity, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+entityColumns+`
		FROM entities
		WHERE id = $1`,
		id)
	if err != nil {
		return nil, err
	}
	entity, err := pgxv5.CollectOneRow(rows, scanEntity)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return entity, err
}

func (s *DBStorage) GetEntityByName(ctx context.Context, entityType common.EntityType, canonicalName string) (*common.ConsolidatedEntity, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+entityColumns+`
		FROM entities
		WHERE entity_type = $1 AND canonical_name = $2`,
		string(entityType), canonicalName)
	if err != nil {
		return nil, err
	}
	entity, err := pgxv5.CollectOneRow(rows, scanEntity)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return entity, err
}

// SimilarEntities returns up to topK entities of the given type ordered
// by cosine distance of their name embedding to the query vector.
func (s *DBStorage) SimilarEntities(ctx context.Context, entityType common.EntityType, embedding []float32, topK int) ([]*common.ConsolidatedEntity, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+entityColumns+`
		FROM entities
		WHERE entity_type = $1 AND embedding IS NOT NULL
		ORDER BY embedding <=> $2
		LIMIT $3`,
		string(entityType), pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, err
	}
	return pgxv5.CollectRows(rows, scanEntity)
}

func (s *DBStorage) WasIngested(ctx context.Context, entityType common.EntityType, sourceID, checksum string) (bool, error) {
	var exists bool
	err := s.conn.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM ingest_ledger
			WHERE entity_type = $1 AND source_id = $2 AND checksum = $3
		)`,
		string(entityType), sourceID, checksum).Scan(&exists)
	return exists, err
}
