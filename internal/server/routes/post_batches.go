package routes

import (
	"encoding/json"
	"net/http"

	"github.com/optiflow-ai/consolidation/internal/queue"
	"github.com/optiflow-ai/consolidation/internal/server/middleware"
	"github.com/optiflow-ai/consolidation/internal/util"
	"github.com/optiflow-ai/consolidation/pkg/common"
	"github.com/optiflow-ai/consolidation/pkg/logger"

	"github.com/labstack/echo/v4"
)

// SubmitBatchHandler queues a batch of extracted records for
// consolidation and returns the correlation id to track it by.
func SubmitBatchHandler(c echo.Context) error {
	type submitBatchBody struct {
		CorrelationID string             `json:"correlation_id"`
		Records       []common.RawEntity `json:"records" validate:"required,min=1"`
	}

	type submitBatchResponse struct {
		Message       string `json:"message"`
		CorrelationID string `json:"correlation_id,omitempty"`
	}

	data := new(submitBatchBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, submitBatchResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, submitBatchResponse{
			Message: "Invalid request body",
		})
	}

	for _, record := range data.Records {
		if !common.KnownType(record.Type) {
			return c.JSON(http.StatusBadRequest, submitBatchResponse{
				Message: "Unknown entity type: " + string(record.Type),
			})
		}
		if record.SourceID == "" || record.Name() == "" {
			return c.JSON(http.StatusBadRequest, submitBatchResponse{
				Message: "Every record needs a source_id and a name attribute",
			})
		}
	}

	if data.CorrelationID == "" {
		data.CorrelationID = util.NewCorrelationID()
	}

	msg, err := json.Marshal(queue.ConsolidateBatchMsg{
		CorrelationID: data.CorrelationID,
		Records:       data.Records,
	})
	if err != nil {
		logger.Error("Failed to marshal batch message", "err", err)
		return c.JSON(http.StatusInternalServerError, submitBatchResponse{
			Message: "Internal server error",
		})
	}

	ch := c.(*middleware.AppContext).App.Queue
	if err := queue.PublishFIFO(ch, queue.ConsolidateQueue, msg); err != nil {
		logger.Error("Failed to queue batch", "err", err)
		return c.JSON(http.StatusInternalServerError, submitBatchResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusAccepted, submitBatchResponse{
		Message:       "Batch queued",
		CorrelationID: data.CorrelationID,
	})
}
