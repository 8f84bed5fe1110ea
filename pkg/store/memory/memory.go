// Package memory provides a fully in-memory Storage implementation,
// used by tests and by DRY_RUN mode where consolidations should not
// touch the database.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/optiflow-ai/consolidation/internal/util"
	"github.com/optiflow-ai/consolidation/pkg/common"
	"github.com/optiflow-ai/consolidation/pkg/store"
)

type ingestKey struct {
	entityType common.EntityType
	sourceID   string
	checksum   string
}

// Store keeps the whole knowledge base in process memory. It is safe
// for concurrent use; transactions are serialized.
type Store struct {
	// txMu serializes transactions, mu guards the data maps. Reads
	// issued from inside a transaction take mu only, so a transaction
	// can interleave its own reads without deadlocking.
	txMu sync.Mutex
	mu   sync.RWMutex

	entities       map[string]*common.ConsolidatedEntity
	contradictions map[string]common.Contradiction
	relationships  []common.Relationship
	patterns       []common.Pattern
	snapshots      map[string][]common.Snapshot
	consumed       map[string]bool
	audits         []common.AuditRecord
	ingested       map[ingestKey]bool

	// per-audit bookkeeping so Rollback can retract what the audited
	// transaction wrote beyond the entities themselves
	ingestsByAudit        map[string][]ingestKey
	contradictionsByAudit map[string][]string
}

var _ store.Storage = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		entities:              make(map[string]*common.ConsolidatedEntity),
		contradictions:        make(map[string]common.Contradiction),
		snapshots:             make(map[string][]common.Snapshot),
		consumed:              make(map[string]bool),
		ingested:              make(map[ingestKey]bool),
		ingestsByAudit:        make(map[string][]ingestKey),
		contradictionsByAudit: make(map[string][]string),
	}
}

func (s *Store) GetEntitiesByType(_ context.Context, entityType common.EntityType) ([]*common.ConsolidatedEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*common.ConsolidatedEntity, 0)
	for _, entity := range s.entities {
		if entity.Type == entityType {
			out = append(out, entity.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetEntity(_ context.Context, id string) (*common.ConsolidatedEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entity, ok := s.entities[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return entity.Clone(), nil
}

func (s *Store) GetEntityByName(_ context.Context, entityType common.EntityType, canonicalName string) (*common.ConsolidatedEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, entity := range s.entities {
		if entity.Type == entityType && entity.CanonicalName == canonicalName {
			return entity.Clone(), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) OpenContradictions(_ context.Context, entityID string) ([]common.Contradiction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]common.Contradiction, 0)
	for _, c := range s.contradictions {
		if c.EntityID == entityID && c.Status == common.ContradictionOpen {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ResolveContradiction(_ context.Context, contradictionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contradictions[contradictionID]
	if !ok {
		return store.ErrNotFound
	}
	c.Status = common.ContradictionResolved
	s.contradictions[contradictionID] = c
	return nil
}

func (s *Store) WasIngested(_ context.Context, entityType common.EntityType, sourceID, checksum string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ingested[ingestKey{entityType, sourceID, checksum}], nil
}

// tx stages mutations until commit; nothing is visible to readers
// before WithTransaction returns.
type tx struct {
	store   *Store
	auditID string

	upserts        map[string]*common.ConsolidatedEntity
	order          []string
	contradictions []common.Contradiction
	ingests        []ingestKey
	snapshots      []common.Snapshot
	snapshotted    map[string]bool
}

var _ store.Tx = (*tx)(nil)

func (t *tx) AuditID() string { return t.auditID }

func (t *tx) UpsertEntity(_ context.Context, entity *common.ConsolidatedEntity) error {
	if err := t.snapshot(entity.ID); err != nil {
		return err
	}
	if _, staged := t.upserts[entity.ID]; !staged {
		t.order = append(t.order, entity.ID)
	}
	t.upserts[entity.ID] = entity.Clone()
	return nil
}

func (t *tx) AddContradiction(_ context.Context, contradiction common.Contradiction) error {
	t.contradictions = append(t.contradictions, contradiction)
	return nil
}

func (t *tx) MarkIngested(_ context.Context, entityType common.EntityType, sourceID, checksum string) error {
	t.ingests = append(t.ingests, ingestKey{entityType, sourceID, checksum})
	return nil
}

// snapshot captures the pre-transaction state of an entity the first
// time the transaction touches it.
func (t *tx) snapshot(entityID string) error {
	if t.snapshotted[entityID] {
		return nil
	}
	t.snapshotted[entityID] = true

	snap := common.Snapshot{
		AuditID:   t.auditID,
		EntityID:  entityID,
		CreatedAt: time.Now().UTC(),
	}

	t.store.mu.RLock()
	current, existed := t.store.entities[entityID]
	t.store.mu.RUnlock()

	if existed {
		state, err := current.Marshal()
		if err != nil {
			return fmt.Errorf("snapshot entity %s: %w", entityID, err)
		}
		snap.Existed = true
		snap.State = state
	}
	t.snapshots = append(t.snapshots, snap)
	return nil
}

func (s *Store) WithTransaction(_ context.Context, op common.AuditOperation, fn func(tx store.Tx) error) (string, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	t := &tx{
		store:       s,
		auditID:     util.NewAuditID(),
		upserts:     make(map[string]*common.ConsolidatedEntity),
		snapshotted: make(map[string]bool),
	}

	if err := fn(t); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range t.order {
		s.entities[id] = t.upserts[id]
	}
	for _, c := range t.contradictions {
		s.contradictions[c.ID] = c
		s.contradictionsByAudit[t.auditID] = append(s.contradictionsByAudit[t.auditID], c.ID)
	}
	for _, key := range t.ingests {
		s.ingested[key] = true
	}
	if len(t.ingests) > 0 {
		s.ingestsByAudit[t.auditID] = t.ingests
	}
	if len(t.snapshots) > 0 {
		s.snapshots[t.auditID] = t.snapshots
	}
	s.audits = append(s.audits, common.AuditRecord{
		AuditID:   t.auditID,
		Operation: op,
		EntityIDs: append([]string(nil), t.order...),
		Timestamp: time.Now().UTC(),
	})
	return t.auditID, nil
}

func (s *Store) ReplaceRelationships(_ context.Context, relationships []common.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relationships = append([]common.Relationship(nil), relationships...)
	return nil
}

func (s *Store) ReplacePatterns(_ context.Context, patterns []common.Pattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns = append([]common.Pattern(nil), patterns...)
	return nil
}

func (s *Store) GetRelationships(_ context.Context) ([]common.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]common.Relationship(nil), s.relationships...), nil
}

func (s *Store) GetPatterns(_ context.Context) ([]common.Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]common.Pattern(nil), s.patterns...), nil
}

// Rollback restores every entity in the audit id's snapshot set to its
// captured state (deleting entities that did not exist) and marks the
// snapshots consumed so a second rollback becomes a no-op.
func (s *Store) Rollback(_ context.Context, auditID, reason string) ([]string, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	snaps, ok := s.snapshots[auditID]
	if !ok || s.consumed[auditID] {
		return nil, store.ErrNothingToUndo
	}

	restored := make([]string, 0, len(snaps))
	for _, snap := range snaps {
		if !snap.Existed {
			delete(s.entities, snap.EntityID)
		} else {
			entity, err := common.UnmarshalEntity(snap.State)
			if err != nil {
				return nil, fmt.Errorf("restore entity %s: %w", snap.EntityID, err)
			}
			s.entities[snap.EntityID] = entity
		}
		restored = append(restored, snap.EntityID)
	}

	// retract the transaction's side records: its ledger entries (so
	// the rolled-back records can be resubmitted) and the contradictions
	// it raised (they describe a merge that no longer happened)
	for _, key := range s.ingestsByAudit[auditID] {
		delete(s.ingested, key)
	}
	delete(s.ingestsByAudit, auditID)
	for _, id := range s.contradictionsByAudit[auditID] {
		delete(s.contradictions, id)
	}
	delete(s.contradictionsByAudit, auditID)

	s.consumed[auditID] = true
	s.audits = append(s.audits, common.AuditRecord{
		AuditID:   util.NewAuditID(),
		Operation: common.OpRollback,
		EntityIDs: restored,
		Timestamp: time.Now().UTC(),
		Reason:    reason,
	})
	return restored, nil
}

func (s *Store) GetAuditRecords(_ context.Context, limit int) ([]common.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := append([]common.AuditRecord(nil), s.audits...)
	// newest first
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
