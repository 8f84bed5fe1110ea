package openai

import (
	"sync"

	"github.com/optiflow-ai/consolidation/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"
)

// EmbeddingClient implements ai.SemanticClient against any
// OpenAI-compatible embeddings endpoint.
//
// An EmbeddingClient should be created using NewEmbeddingClient.
type EmbeddingClient struct {
	embeddingModel string
	timeoutMin     int

	embeddingLock *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	client *openai.Client
}

// NewEmbeddingClientParams defines the configuration parameters for
// creating a new EmbeddingClient.
type NewEmbeddingClientParams struct {
	EmbeddingModel string
	BaseURL        string
	ApiKey         string

	// MaxConcurrentRequests caps in-flight embedding calls. Defaults to 8.
	MaxConcurrentRequests int64
	// TimeoutMin is the per-request timeout in minutes. Defaults to 2.
	TimeoutMin int
}

// NewEmbeddingClient creates a client for the configured
// OpenAI-compatible embeddings endpoint.
func NewEmbeddingClient(params NewEmbeddingClientParams) *EmbeddingClient {
	opts := []option.RequestOption{}
	if params.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(params.BaseURL))
	}
	if params.ApiKey != "" {
		opts = append(opts, option.WithAPIKey(params.ApiKey))
	}
	client := openai.NewClient(opts...)

	maxConcurrent := params.MaxConcurrentRequests
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	timeoutMin := params.TimeoutMin
	if timeoutMin <= 0 {
		timeoutMin = 2
	}

	return &EmbeddingClient{
		embeddingModel: params.EmbeddingModel,
		timeoutMin:     timeoutMin,
		embeddingLock:  semaphore.NewWeighted(maxConcurrent),
		metricsLock:    sync.Mutex{},
		client:         &client,
	}
}

// ResetMetrics clears all accumulated token and timing metrics to zero.
func (c *EmbeddingClient) ResetMetrics() {
	c.metricsLock.Lock()
	c.metrics = ai.ModelMetrics{}
	c.metricsLock.Unlock()
}

// GetMetrics returns the accumulated token usage and timing metrics since the last reset.
func (c *EmbeddingClient) GetMetrics() ai.ModelMetrics {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	return c.metrics
}

func (c *EmbeddingClient) modifyMetrics(m ai.ModelMetrics) {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()

	c.metrics.InputTokens += m.InputTokens
	c.metrics.TotalTokens += m.TotalTokens
	c.metrics.Requests += m.Requests
	c.metrics.DurationMs += m.DurationMs
}
