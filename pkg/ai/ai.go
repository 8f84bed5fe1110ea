package ai

import "context"

// ModelMetrics contains performance metrics from embedding operations.
type ModelMetrics struct {
	InputTokens int   `json:"input_tokens"`
	TotalTokens int   `json:"total_tokens"`
	Requests    int   `json:"requests"`
	DurationMs  int64 `json:"duration_ms"`
}

// SemanticClient is the external semantic-similarity capability the
// engine consumes. Implementations provide embedding vectors for text;
// the engine derives semantic similarity from those vectors.
//
// Failures are treated by callers as degraded-mode triggers, never as
// fatal errors: the consolidation pipeline falls back to name-only
// scoring when a client call fails after its retry budget.
type SemanticClient interface {
	GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error)

	ResetMetrics()
	GetMetrics() ModelMetrics
}
