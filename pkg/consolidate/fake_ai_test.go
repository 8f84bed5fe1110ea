package consolidate

import (
	"context"
	"errors"
	"sync"

	"github.com/optiflow-ai/consolidation/pkg/ai"
)

// fakeSemanticClient maps exact input text to fixed vectors. Unknown
// inputs and the failing variant return an error, which exercises the
// degraded (embeddings unavailable) paths.
var _ ai.SemanticClient = (*fakeSemanticClient)(nil)

type fakeSemanticClient struct {
	mu      sync.Mutex
	vectors map[string][]float32
	fail    bool
	calls   int
}

func newFakeSemanticClient(vectors map[string][]float32) *fakeSemanticClient {
	return &fakeSemanticClient{vectors: vectors}
}

func (f *fakeSemanticClient) GenerateEmbedding(_ context.Context, input []byte) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return nil, errors.New("embedding backend unavailable")
	}
	vec, ok := f.vectors[string(input)]
	if !ok {
		return nil, errors.New("no fixture vector for input")
	}
	return vec, nil
}

func (f *fakeSemanticClient) ResetMetrics() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = 0
}

func (f *fakeSemanticClient) GetMetrics() ai.ModelMetrics {
	f.mu.Lock()
	defer f.mu.Unlock()
	return ai.ModelMetrics{Requests: f.calls}
}

func (f *fakeSemanticClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
