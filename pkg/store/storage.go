package store

import (
	"context"
	"errors"

	"github.com/optiflow-ai/consolidation/pkg/common"
)

// ErrNotFound is returned for point lookups that match nothing.
var ErrNotFound = errors.New("not found")

// ErrNothingToUndo is returned by Rollback when the audit id has no
// unconsumed snapshots left, including when it was already rolled back.
// Callers treat it as a benign no-op, not a failure.
var ErrNothingToUndo = errors.New("nothing to undo")

// ErrMergeConflict is returned when a transaction detects a concurrent
// write on an entity it is about to mutate. Callers retry the
// read-then-merge cycle a bounded number of times.
var ErrMergeConflict = errors.New("merge conflict")

// Tx is the scoped mutation handle of one consolidation transaction.
//
// The implementation captures a pre-transaction snapshot of every entity
// the first time it is touched inside the transaction. On commit all
// snapshots are durably persisted under the transaction's audit id
// together with an audit record; on any error every mutation is
// discarded and no snapshot row remains for that audit id.
type Tx interface {
	AuditID() string

	UpsertEntity(ctx context.Context, entity *common.ConsolidatedEntity) error
	AddContradiction(ctx context.Context, contradiction common.Contradiction) error
	MarkIngested(ctx context.Context, entityType common.EntityType, sourceID, checksum string) error
}

// SimilaritySearcher is an optional Storage capability: ranking
// entities of a type by embedding distance to a query vector. Storages
// that implement it let the duplicate detector compare against a
// vector neighbourhood instead of the full type scan.
type SimilaritySearcher interface {
	SimilarEntities(ctx context.Context, entityType common.EntityType, embedding []float32, topK int) ([]*common.ConsolidatedEntity, error)
}

// Storage persists the consolidated knowledge base: entities,
// contradictions, relationships, patterns, snapshots and audit records.
type Storage interface {
	GetEntitiesByType(ctx context.Context, entityType common.EntityType) ([]*common.ConsolidatedEntity, error)
	GetEntity(ctx context.Context, id string) (*common.ConsolidatedEntity, error)
	GetEntityByName(ctx context.Context, entityType common.EntityType, canonicalName string) (*common.ConsolidatedEntity, error)

	OpenContradictions(ctx context.Context, entityID string) ([]common.Contradiction, error)
	ResolveContradiction(ctx context.Context, contradictionID string) error

	// WasIngested reports whether this exact record content was already
	// merged, keyed by (entity_type, source_id, checksum).
	WasIngested(ctx context.Context, entityType common.EntityType, sourceID, checksum string) (bool, error)

	// WithTransaction runs fn inside one atomic consolidation
	// transaction and returns the audit id it committed under.
	WithTransaction(ctx context.Context, op common.AuditOperation, fn func(tx Tx) error) (string, error)

	// ReplaceRelationships and ReplacePatterns swap in the output of a
	// full discovery pass. Derived records are recomputed, not patched.
	ReplaceRelationships(ctx context.Context, relationships []common.Relationship) error
	ReplacePatterns(ctx context.Context, patterns []common.Pattern) error
	GetRelationships(ctx context.Context) ([]common.Relationship, error)
	GetPatterns(ctx context.Context) ([]common.Pattern, error)

	// Rollback restores every entity referenced by auditID to its
	// pre-transaction snapshot and writes a rollback audit record.
	// Returns the ids of the restored entities, or ErrNothingToUndo
	// when the audit id has no unconsumed snapshots.
	Rollback(ctx context.Context, auditID, reason string) ([]string, error)
	GetAuditRecords(ctx context.Context, limit int) ([]common.AuditRecord, error)
}
