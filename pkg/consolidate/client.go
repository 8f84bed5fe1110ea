package consolidate

import (
	"errors"

	"github.com/optiflow-ai/consolidation/pkg/ai"
	"github.com/optiflow-ai/consolidation/pkg/store"
)

// Consolidator wires the full consolidation pipeline: duplicate
// detection, merging, contradiction checks, consensus scoring,
// relationship discovery and pattern recognition, all backed by one
// Storage implementation.
type Consolidator struct {
	cfg      Config
	storage  store.Storage
	semantic ai.SemanticClient

	metrics       *Metrics
	scorer        *Scorer
	detector      *Detector
	merger        *Merger
	consensus     *ConsensusScorer
	relationships *RelationshipDiscoverer
	patterns      *PatternRecognizer
}

type NewConsolidatorParams struct {
	// Config tunes thresholds and penalties; nil selects the defaults.
	Config *Config
	// Storage persists consolidated state. Required.
	Storage store.Storage
	// SemanticClient provides embeddings for semantic similarity and
	// semantic contradiction checks. Optional; without it the pipeline
	// runs name-only.
	SemanticClient ai.SemanticClient
}

func NewConsolidator(params NewConsolidatorParams) (*Consolidator, error) {
	if params.Storage == nil {
		return nil, errors.New("consolidate: storage is required")
	}

	cfg := DefaultConfig()
	if params.Config != nil {
		cfg = *params.Config
	}
	cfg = cfg.normalize()

	metrics := NewMetrics()
	scorer := NewScorer(cfg, metrics)
	contradiction := NewContradictionDetector(cfg, params.SemanticClient, metrics)

	return &Consolidator{
		cfg:           cfg,
		storage:       params.Storage,
		semantic:      params.SemanticClient,
		metrics:       metrics,
		scorer:        scorer,
		detector:      NewDetector(cfg, scorer, params.SemanticClient, metrics),
		merger:        NewMerger(cfg, contradiction),
		consensus:     NewConsensusScorer(cfg, metrics),
		relationships: NewRelationshipDiscoverer(cfg, metrics),
		patterns:      NewPatternRecognizer(cfg, scorer, metrics),
	}, nil
}

// Metrics exposes the pipeline's counters for reporting.
func (c *Consolidator) Metrics() *Metrics {
	return c.metrics
}
