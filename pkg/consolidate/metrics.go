package consolidate

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/optiflow-ai/consolidation/pkg/common"
)

// Metrics accumulates counters for one consolidation run. It is a pure
// observer: nothing in the engine reads it back to make decisions.
// Counters may be updated concurrently from per-type workers.
type Metrics struct {
	similarityCalls  atomic.Int64
	cacheHits        atomic.Int64
	semanticDegraded atomic.Int64

	relationshipsValidated   atomic.Int64
	relationshipsUnvalidated atomic.Int64

	mu        sync.Mutex
	byType    map[common.EntityType]*typeStats
	startedAt time.Time
}

type typeStats struct {
	Processed      int64
	Duplicates     int64
	Merged         int64
	Created        int64
	Failed         int64
	Contradictions int64
	Patterns       int64
	ProcessingMs   int64

	confidenceSum   float64
	confidenceCount int64
}

// NewMetrics creates an empty collector for a new run.
func NewMetrics() *Metrics {
	return &Metrics{
		byType:    make(map[common.EntityType]*typeStats),
		startedAt: time.Now(),
	}
}

func (m *Metrics) stats(t common.EntityType) *typeStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byType[t]
	if !ok {
		s = &typeStats{}
		m.byType[t] = s
	}
	return s
}

func (m *Metrics) EntityProcessed(t common.EntityType) {
	atomic.AddInt64(&m.stats(t).Processed, 1)
}

func (m *Metrics) DuplicateFound(t common.EntityType) {
	atomic.AddInt64(&m.stats(t).Duplicates, 1)
}

func (m *Metrics) EntityMerged(t common.EntityType) {
	atomic.AddInt64(&m.stats(t).Merged, 1)
}

func (m *Metrics) EntityCreated(t common.EntityType) {
	atomic.AddInt64(&m.stats(t).Created, 1)
}

func (m *Metrics) EntityFailed(t common.EntityType) {
	atomic.AddInt64(&m.stats(t).Failed, 1)
}

func (m *Metrics) ContradictionDetected(t common.EntityType) {
	atomic.AddInt64(&m.stats(t).Contradictions, 1)
}

func (m *Metrics) PatternDetected(t common.EntityType) {
	atomic.AddInt64(&m.stats(t).Patterns, 1)
}

func (m *Metrics) AddProcessingTime(t common.EntityType, d time.Duration) {
	atomic.AddInt64(&m.stats(t).ProcessingMs, d.Milliseconds())
}

// RecordConfidence tracks the consensus confidence assigned to an
// entity so the report can expose a per-type average.
func (m *Metrics) RecordConfidence(t common.EntityType, confidence float64) {
	s := m.stats(t)
	m.mu.Lock()
	s.confidenceSum += confidence
	s.confidenceCount++
	m.mu.Unlock()
}

func (m *Metrics) RelationshipDiscovered(validated bool) {
	if validated {
		m.relationshipsValidated.Add(1)
	} else {
		m.relationshipsUnvalidated.Add(1)
	}
}

func (m *Metrics) SimilarityCall()     { m.similarityCalls.Add(1) }
func (m *Metrics) SimilarityCacheHit() { m.cacheHits.Add(1) }
func (m *Metrics) SemanticDegraded()   { m.semanticDegraded.Add(1) }

// TypeReport is the per-entity-type section of a run report.
type TypeReport struct {
	EntityType        common.EntityType `json:"entity_type"`
	Processed         int64             `json:"entities_processed"`
	DuplicatesFound   int64             `json:"duplicates_found"`
	Merged            int64             `json:"entities_merged"`
	Created           int64             `json:"entities_created"`
	Failed            int64             `json:"entities_failed"`
	Contradictions    int64             `json:"contradictions_detected"`
	Patterns          int64             `json:"patterns_detected"`
	AverageConfidence float64           `json:"average_confidence"`
	ProcessingMs      int64             `json:"processing_time_ms"`
}

// Report is the structured export of one consolidation run, shaped for
// downstream monitoring.
type Report struct {
	StartedAt time.Time    `json:"started_at"`
	Types     []TypeReport `json:"types"`

	SimilarityCalls     int64 `json:"similarity_calls_total"`
	SimilarityCacheHits int64 `json:"similarity_cache_hits"`
	SemanticDegraded    int64 `json:"semantic_degraded_total"`

	RelationshipsValidated   int64 `json:"relationships_validated"`
	RelationshipsUnvalidated int64 `json:"relationships_unvalidated"`
}

// Export builds the structured report for the run so far.
func (m *Metrics) Export() Report {
	m.mu.Lock()
	types := make([]TypeReport, 0, len(m.byType))
	for t, s := range m.byType {
		avg := 0.0
		if s.confidenceCount > 0 {
			avg = s.confidenceSum / float64(s.confidenceCount)
		}
		types = append(types, TypeReport{
			EntityType:        t,
			Processed:         atomic.LoadInt64(&s.Processed),
			DuplicatesFound:   atomic.LoadInt64(&s.Duplicates),
			Merged:            atomic.LoadInt64(&s.Merged),
			Created:           atomic.LoadInt64(&s.Created),
			Failed:            atomic.LoadInt64(&s.Failed),
			Contradictions:    atomic.LoadInt64(&s.Contradictions),
			Patterns:          atomic.LoadInt64(&s.Patterns),
			AverageConfidence: avg,
			ProcessingMs:      atomic.LoadInt64(&s.ProcessingMs),
		})
	}
	m.mu.Unlock()

	sort.Slice(types, func(i, j int) bool { return types[i].EntityType < types[j].EntityType })

	return Report{
		StartedAt:                m.startedAt,
		Types:                    types,
		SimilarityCalls:          m.similarityCalls.Load(),
		SimilarityCacheHits:      m.cacheHits.Load(),
		SemanticDegraded:         m.semanticDegraded.Load(),
		RelationshipsValidated:   m.relationshipsValidated.Load(),
		RelationshipsUnvalidated: m.relationshipsUnvalidated.Load(),
	}
}

// MarshalReport serializes the report for the metrics export surface.
func (m *Metrics) MarshalReport() ([]byte, error) {
	return json.Marshal(m.Export())
}

// Summary returns a short human-readable digest of the run.
func (m *Metrics) Summary() string {
	report := m.Export()

	var processed, merged, created, contradictions, patterns int64
	for _, t := range report.Types {
		processed += t.Processed
		merged += t.Merged
		created += t.Created
		contradictions += t.Contradictions
		patterns += t.Patterns
	}

	var b strings.Builder
	fmt.Fprintf(&b, "processed %d entities across %d types: %d merged, %d created, %d contradictions, %d patterns\n",
		processed, len(report.Types), merged, created, contradictions, patterns)
	fmt.Fprintf(&b, "similarity: %d calls, %d cache hits, %d degraded to name-only\n",
		report.SimilarityCalls, report.SimilarityCacheHits, report.SemanticDegraded)
	fmt.Fprintf(&b, "relationships: %d validated, %d unvalidated",
		report.RelationshipsValidated, report.RelationshipsUnvalidated)
	return b.String()
}
